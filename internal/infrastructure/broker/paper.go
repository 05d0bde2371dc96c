package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/options_cycle_trader/internal/domain"
)

// PaperBroker fills every order immediately at its tick-rounded reference
// price. It stands in for the REST broker when no credentials are set.
type PaperBroker struct {
	tickSize decimal.Decimal

	mu     sync.Mutex
	orders map[string][]domain.OrderHistoryEntry
}

func NewPaperBroker(tickSize float64) *PaperBroker {
	if tickSize <= 0 {
		tickSize = 0.05
	}
	return &PaperBroker{
		tickSize: decimal.NewFromFloat(tickSize),
		orders:   make(map[string][]domain.OrderHistoryEntry),
	}
}

func (p *PaperBroker) fill(price float64) (string, error) {
	if price <= 0 {
		return "", fmt.Errorf("paper broker: invalid price %v", price)
	}
	filled, _ := decimal.NewFromFloat(price).Div(p.tickSize).Round(0).Mul(p.tickSize).Float64()
	id := uuid.NewString()
	now := time.Now()

	p.mu.Lock()
	p.orders[id] = []domain.OrderHistoryEntry{
		{Status: domain.OrderStatusOpen, Timestamp: now},
		{Status: domain.OrderStatusComplete, AveragePrice: filled, Timestamp: now},
	}
	p.mu.Unlock()
	return id, nil
}

func (p *PaperBroker) PlaceBuy(ctx context.Context, symbol string, price float64, qty int, tag string) (string, error) {
	return p.fill(price)
}

func (p *PaperBroker) PlaceMarketSell(ctx context.Context, symbol string, price float64, qty int, tag string) (string, error) {
	return p.fill(price)
}

func (p *PaperBroker) GetOrderHistory(ctx context.Context, orderID string) ([]domain.OrderHistoryEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("paper broker: unknown order %s", orderID)
	}
	return append([]domain.OrderHistoryEntry(nil), h...), nil
}
