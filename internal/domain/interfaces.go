package domain

import "context"

// Broker is the order execution gateway consumed by the strategy engine.
type Broker interface {
	PlaceBuy(ctx context.Context, symbol string, price float64, qty int, tag string) (string, error)
	PlaceMarketSell(ctx context.Context, symbol string, price float64, qty int, tag string) (string, error)
	GetOrderHistory(ctx context.Context, orderID string) ([]OrderHistoryEntry, error)
}

// TradeRepository stores the session trade journal.
type TradeRepository interface {
	SaveOrder(ctx context.Context, order *Order) error
	UpdateFill(ctx context.Context, orderID string, executedPrice float64, status string) error
	ListOrders(ctx context.Context, sessionID string, limit int) ([]*Order, error)

	SaveCycleResult(ctx context.Context, result *CycleResult) error
	ListCycleResults(ctx context.Context, sessionID string) ([]*CycleResult, error)
}

// EventSink receives outbound status events. Publish must not block the
// caller for long; slow consumers are expected to drop.
type EventSink interface {
	Publish(event Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Publish(e Event) { f(e) }
