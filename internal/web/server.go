package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitos/options_cycle_trader/internal/domain"
	"github.com/vitos/options_cycle_trader/internal/usecase"
	"go.uber.org/zap"
)

// SessionService is the part of the session manager the HTTP layer drives.
type SessionService interface {
	StartSession(ctx context.Context, cfg usecase.SessionConfig) (string, error)
	StopSession(id string) error
	Status(id string) (*usecase.SessionStatus, error)
	List() []*usecase.SessionStatus
	UpdateParams(id string, p domain.Params) (domain.Params, error)
}

type Server struct {
	router    *http.ServeMux
	server    *http.Server
	sessions  SessionService
	tradeRepo domain.TradeRepository
	hub       *Hub
	metrics   http.Handler
	logger    *zap.Logger
}

func NewServer(
	port int,
	sessions SessionService,
	tradeRepo domain.TradeRepository,
	hub *Hub,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		sessions:  sessions,
		tradeRepo: tradeRepo,
		hub:       hub,
		metrics:   promhttp.Handler(),
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /healthz", s.handleHealth)

	// Sessions
	s.router.HandleFunc("GET /sessions", s.handleListSessions)
	s.router.HandleFunc("POST /sessions", s.handleStartSession)
	s.router.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	s.router.HandleFunc("DELETE /sessions/{id}", s.handleStopSession)
	s.router.HandleFunc("POST /sessions/{id}/params", s.handleUpdateParams)
	s.router.HandleFunc("GET /sessions/{id}/cycles", s.handleListCycles)

	// Journal
	s.router.HandleFunc("GET /trades", s.handleListTrades)

	// Streams
	if s.hub != nil {
		s.router.HandleFunc("GET /ws", s.hub.ServeWS)
	}
	s.router.Handle("GET /metrics", s.metrics)
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.server.Shutdown(ctx)
}
