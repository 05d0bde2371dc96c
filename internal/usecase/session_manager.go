package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/options_cycle_trader/internal/domain"
	"go.uber.org/zap"
)

type SessionConfig struct {
	ID             string         `json:"id" yaml:"id"`
	Strategy       string         `json:"strategy" yaml:"strategy"`
	Params         *domain.Params `json:"params,omitempty" yaml:"-"`
	LiveCycleLimit int            `json:"live_cycle_limit" yaml:"live_cycle_limit"`
}

type SessionStatus struct {
	ID        string               `json:"id"`
	Strategy  string               `json:"strategy"`
	Running   bool                 `json:"running"`
	Stalled   bool                 `json:"stalled"`
	Live      bool                 `json:"live"`
	StartedAt time.Time            `json:"started_at"`
	Dropped   int                  `json:"dropped_batches"`
	State     *domain.SessionState `json:"state,omitempty"`
}

// SessionManager runs independent strategy sessions. Each session owns an
// engine, an order gateway and a goroutine fed through a buffered channel,
// so no two batches of the same session ever overlap.
type SessionManager struct {
	broker   domain.Broker
	trades   domain.TradeRepository
	events   domain.EventSink
	logger   *zap.Logger
	gateway  GatewayConfig
	queueLen int

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	cfg       SessionConfig
	engine    *Engine
	gateway   *OrderGateway
	batches   chan []domain.Tick
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	mu      sync.Mutex
	dropped int
}

func NewSessionManager(broker domain.Broker, trades domain.TradeRepository, events domain.EventSink, logger *zap.Logger, gateway GatewayConfig, queueLen int) *SessionManager {
	if queueLen <= 0 {
		queueLen = 16
	}
	if events == nil {
		events = domain.EventSinkFunc(func(domain.Event) {})
	}
	return &SessionManager{
		broker:   broker,
		trades:   trades,
		events:   events,
		logger:   logger,
		gateway:  gateway,
		queueLen: queueLen,
		sessions: make(map[string]*session),
	}
}

// StartSession builds the session from its strategy profile plus any
// parameter override and starts its processing loop.
func (m *SessionManager) StartSession(ctx context.Context, cfg SessionConfig) (string, error) {
	params, err := Profile(cfg.Strategy)
	if err != nil {
		return "", err
	}
	if cfg.Params != nil {
		params = *cfg.Params
	}
	if err := params.Validate(); err != nil {
		return "", fmt.Errorf("session %q: %w", cfg.ID, err)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[cfg.ID]; exists {
		return "", fmt.Errorf("%w: %s", domain.ErrSessionExists, cfg.ID)
	}

	logger := m.logger.With(zap.String("session", cfg.ID))
	gw := NewOrderGateway(m.broker, m.trades, logger, m.gateway)
	state := domain.NewSessionState(cfg.ID, cfg.Strategy, params, cfg.LiveCycleLimit)

	runCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		cfg:       cfg,
		engine:    NewEngine(state, gw, m.trades, m.events, m.logger),
		gateway:   gw,
		batches:   make(chan []domain.Tick, m.queueLen),
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	m.sessions[cfg.ID] = s
	go s.run(runCtx, logger)

	logger.Info("Session started",
		zap.String("strategy", cfg.Strategy),
		zap.Int("live_cycle_limit", cfg.LiveCycleLimit))
	return cfg.ID, nil
}

func (s *session) run(ctx context.Context, logger *zap.Logger) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-s.batches:
			if err := s.engine.ProcessBatch(ctx, batch); err != nil {
				if errors.Is(err, domain.ErrInvariantViolation) {
					logger.Error("Cycle reset after invariant violation", zap.Error(err))
				} else {
					logger.Error("Batch processing failed", zap.Error(err))
				}
			}
		}
	}
}

func (s *session) stop() {
	s.cancel()
	<-s.done
	s.gateway.Close()
}

// Dispatch hands a batch to every running session without blocking. A
// session whose queue is full drops the batch.
func (m *SessionManager) Dispatch(ticks []domain.Tick) {
	if len(ticks) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.sessions {
		select {
		case s.batches <- ticks:
		default:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
			m.logger.Warn("Session queue full, dropping batch", zap.String("session", id), zap.Int("ticks", len(ticks)))
			m.events.Publish(domain.Event{
				Type:      domain.EventBatchDropped,
				SessionID: id,
				Strategy:  s.cfg.Strategy,
				Time:      time.Now(),
			})
		}
	}
}

func (m *SessionManager) StopSession(id string) error {
	m.mu.Lock()
	s, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	s.stop()
	m.logger.Info("Session stopped", zap.String("session", id))
	m.events.Publish(domain.Event{
		Type:      domain.EventSessionStopped,
		SessionID: id,
		Strategy:  s.cfg.Strategy,
		Time:      time.Now(),
	})
	return nil
}

func (m *SessionManager) Status(id string) (*SessionStatus, error) {
	m.mu.Lock()
	s, exists := m.sessions[id]
	m.mu.Unlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return s.status(true), nil
}

// List returns the status of every running session ordered by id, without
// the instrument state.
func (m *SessionManager) List() []*SessionStatus {
	m.mu.Lock()
	out := make([]*SessionStatus, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.status(false))
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *session) status(withState bool) *SessionStatus {
	state := s.engine.Snapshot()
	s.mu.Lock()
	dropped := s.dropped
	s.mu.Unlock()
	st := &SessionStatus{
		ID:        s.cfg.ID,
		Strategy:  s.cfg.Strategy,
		Running:   true,
		Stalled:   state.Stalled,
		Live:      state.Live(),
		StartedAt: s.startedAt,
		Dropped:   dropped,
	}
	if withState {
		st.State = state
	}
	return st
}

func (m *SessionManager) UpdateParams(id string, p domain.Params) (domain.Params, error) {
	m.mu.Lock()
	s, exists := m.sessions[id]
	m.mu.Unlock()
	if !exists {
		return domain.Params{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return s.engine.UpdateParams(p)
}

// Shutdown stops every session and waits for their loops to exit.
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *session) {
			defer wg.Done()
			s.stop()
		}(s)
	}
	wg.Wait()
	m.logger.Info("All sessions stopped", zap.Int("count", len(sessions)))
}
