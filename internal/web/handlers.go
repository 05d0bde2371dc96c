package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/vitos/options_cycle_trader/internal/domain"
	"github.com/vitos/options_cycle_trader/internal/usecase"
	"go.uber.org/zap"
)

const defaultTradeLimit = 50

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": len(s.sessions.List()),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sessions.List())
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var cfg usecase.SessionConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body: " + err.Error()})
		return
	}
	id, err := s.sessions.StartSession(r.Context(), cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("Session started via API", zap.String("session", id), zap.String("strategy", cfg.Strategy))
	s.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.sessions.Status(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.StopSession(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateParams merges the body onto the session's current params, so
// clients may send only the fields they change.
func (s *Server) handleUpdateParams(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := s.sessions.Status(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var p domain.Params
	if st.State != nil {
		p = st.State.Params
	}
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body: " + err.Error()})
		return
	}

	applied, err := s.sessions.UpdateParams(id, p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, applied)
}

func (s *Server) handleListCycles(w http.ResponseWriter, r *http.Request) {
	results, err := s.tradeRepo.ListCycleResults(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, fmt.Errorf("list cycle results: %w", err))
		return
	}
	if results == nil {
		results = []*domain.CycleResult{}
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradeLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	orders, err := s.tradeRepo.ListOrders(r.Context(), r.URL.Query().Get("session"), limit)
	if err != nil {
		s.writeError(w, fmt.Errorf("list orders: %w", err))
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	s.writeJSON(w, http.StatusOK, orders)
}
