package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/options_cycle_trader/internal/domain"
	"github.com/vitos/options_cycle_trader/internal/usecase"
)

// MockBroker fills every order at Fill (or the requested price when Fill is
// zero). History can be overridden per order id.
type MockBroker struct {
	mu        sync.Mutex
	Fill      float64
	PlaceErr  error
	History   []domain.OrderHistoryEntry
	NoHistory bool
	Placed    []string
	prices    map[string]float64
	seq       int
}

func (m *MockBroker) place(symbol string, price float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PlaceErr != nil {
		return "", m.PlaceErr
	}
	m.seq++
	id := fmt.Sprintf("ord-%d", m.seq)
	if m.prices == nil {
		m.prices = make(map[string]float64)
	}
	m.prices[id] = price
	m.Placed = append(m.Placed, symbol)
	return id, nil
}

func (m *MockBroker) PlaceBuy(ctx context.Context, symbol string, price float64, qty int, tag string) (string, error) {
	return m.place(symbol, price)
}

func (m *MockBroker) PlaceMarketSell(ctx context.Context, symbol string, price float64, qty int, tag string) (string, error) {
	return m.place(symbol, price)
}

func (m *MockBroker) GetOrderHistory(ctx context.Context, orderID string) ([]domain.OrderHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.NoHistory {
		return nil, errors.New("history unavailable")
	}
	if m.History != nil {
		return m.History, nil
	}
	price := m.Fill
	if price == 0 {
		price = m.prices[orderID]
	}
	return []domain.OrderHistoryEntry{
		{Status: domain.OrderStatusOpen, Timestamp: time.Now()},
		{Status: domain.OrderStatusComplete, AveragePrice: price, Timestamp: time.Now()},
	}, nil
}

// MockRouter records orders and resolves nothing until fills are queued.
type MockRouter struct {
	Buys    []usecase.OrderRequest
	Sells   []usecase.OrderRequest
	pending []usecase.Fill
}

func (m *MockRouter) PlaceBuy(ctx context.Context, req usecase.OrderRequest) *usecase.PendingOrder {
	req.Side = domain.SideBuy
	m.Buys = append(m.Buys, req)
	return &usecase.PendingOrder{Accepted: true, Request: req}
}

func (m *MockRouter) PlaceSell(ctx context.Context, req usecase.OrderRequest) *usecase.PendingOrder {
	req.Side = domain.SideSell
	m.Sells = append(m.Sells, req)
	return &usecase.PendingOrder{Accepted: true, Request: req}
}

func (m *MockRouter) Queue(f usecase.Fill) { m.pending = append(m.pending, f) }

func (m *MockRouter) Drain() []usecase.Fill {
	out := m.pending
	m.pending = nil
	return out
}

// MockRepo is an in-memory trade journal.
type MockRepo struct {
	mu      sync.Mutex
	Orders  map[string]*domain.Order
	Results []*domain.CycleResult
}

func NewMockRepo() *MockRepo {
	return &MockRepo{Orders: make(map[string]*domain.Order)}
}

func (m *MockRepo) SaveOrder(ctx context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := *order
	m.Orders[o.ID] = &o
	return nil
}

func (m *MockRepo) UpdateFill(ctx context.Context, orderID string, executedPrice float64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.Orders[orderID]
	if !ok {
		return errors.New("order not found")
	}
	o.ExecutedPrice = executedPrice
	o.Status = status
	return nil
}

func (m *MockRepo) ListOrders(ctx context.Context, sessionID string, limit int) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Order
	for _, o := range m.Orders {
		if sessionID == "" || o.SessionID == sessionID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MockRepo) SaveCycleResult(ctx context.Context, result *domain.CycleResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Results = append(m.Results, result)
	return nil
}

func (m *MockRepo) ListCycleResults(ctx context.Context, sessionID string) ([]*domain.CycleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.CycleResult(nil), m.Results...), nil
}

func (m *MockRepo) Order(id string) (domain.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.Orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// EventRecorder collects published events.
type EventRecorder struct {
	mu     sync.Mutex
	Events []domain.Event
}

func (r *EventRecorder) Publish(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, e)
}

func (r *EventRecorder) OfType(t domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.Events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

var t0 = time.Date(2024, 10, 17, 9, 20, 0, 0, time.UTC)

func tick(token uint32, symbol string, price float64) domain.Tick {
	return domain.Tick{Token: token, Symbol: symbol, LastPrice: price, Timestamp: t0}
}

func testParams() domain.Params {
	return domain.Params{
		Target:            40,
		Stoploss:          -60,
		Quantity:          75,
		TargetPremium:     180,
		RangeBase:         165,
		RangeWidth:        35,
		RangeFloor:        150,
		RangeStep:         5,
		PeakThreshold:     3,
		PeakFallThreshold: 3,
		RefFraction:       0.8,
		RecoveryThreshold: 2,
		InterimLowEnabled: false,
		PositiveOffset:    24,
		NegativeOffset:    -36,
		BuyBackPremium:    180,
		MaxBuyBacks:       1,
		StallAfterBatches: 3,
	}
}
