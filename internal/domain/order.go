package domain

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order status values as reported by the broker's order history.
const (
	OrderStatusOpen      = "OPEN"
	OrderStatusComplete  = "COMPLETE"
	OrderStatusRejected  = "REJECTED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusPaper     = "PAPER"
	OrderStatusFailed    = "FAILED"
)

// Order is an order issued by a strategy session.
type Order struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	Cycle          int       `json:"cycle"`
	Token          uint32    `json:"token"`
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	RequestedPrice float64   `json:"requested_price"`
	ExecutedPrice  float64   `json:"executed_price"`
	Quantity       int       `json:"quantity"`
	Tag            string    `json:"tag"`
	Status         string    `json:"status"`
	Live           bool      `json:"live"`
	CreatedAt      time.Time `json:"created_at"`
}

// OrderHistoryEntry is one state change of a broker order.
type OrderHistoryEntry struct {
	Status       string    `json:"status"`
	AveragePrice float64   `json:"average_price"`
	Timestamp    time.Time `json:"order_timestamp"`
}

// FillPrice returns the average price of the last COMPLETE entry.
func FillPrice(history []OrderHistoryEntry) (float64, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Status == OrderStatusComplete && history[i].AveragePrice > 0 {
			return history[i].AveragePrice, true
		}
	}
	return 0, false
}

// CycleResult summarises a completed cycle.
type CycleResult struct {
	SessionID   string    `json:"session_id"`
	Strategy    string    `json:"strategy"`
	Cycle       int       `json:"cycle"`
	RealizedPnL float64   `json:"realized_pnl"`
	Reason      string    `json:"reason"`
	BuyBacks    int       `json:"buybacks"`
	ClosedAt    time.Time `json:"closed_at"`
}
