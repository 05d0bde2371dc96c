package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/options_cycle_trader/internal/domain"
	"go.uber.org/zap"
)

type OrderRequest struct {
	SessionID string
	Cycle     int
	Token     uint32
	Symbol    string
	Side      domain.Side
	Price     float64 // reference price: last traded price at submission
	Quantity  int
	Tag       string
	Live      bool
}

// Fill is the resolution of a submitted order. Fallback means the broker
// never reported a usable price and Price is the reference price.
type Fill struct {
	OrderID        string
	SessionID      string
	Cycle          int
	Token          uint32
	Symbol         string
	Side           domain.Side
	RequestedPrice float64
	Price          float64
	Fallback       bool
	Live           bool
	Err            error
}

// PendingOrder is the future returned for every submission.
type PendingOrder struct {
	Accepted bool
	Request  OrderRequest
	done     chan Fill
}

// Done yields the fill exactly once.
func (p *PendingOrder) Done() <-chan Fill { return p.done }

type GatewayConfig struct {
	PollInterval time.Duration
	MaxPolls     int
}

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{PollInterval: 500 * time.Millisecond, MaxPolls: 10}
}

// OrderGateway submits orders without blocking the caller. Placement and
// fill resolution run in the background; resolved fills are queued until
// the owning engine drains them at its next batch boundary.
type OrderGateway struct {
	broker domain.Broker
	trades domain.TradeRepository
	logger *zap.Logger
	cfg    GatewayConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	completed []Fill
	closed    bool
}

func NewOrderGateway(broker domain.Broker, trades domain.TradeRepository, logger *zap.Logger, cfg GatewayConfig) *OrderGateway {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultGatewayConfig().PollInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = DefaultGatewayConfig().MaxPolls
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &OrderGateway{
		broker: broker,
		trades: trades,
		logger: logger,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (g *OrderGateway) PlaceBuy(ctx context.Context, req OrderRequest) *PendingOrder {
	req.Side = domain.SideBuy
	return g.submit(ctx, req)
}

func (g *OrderGateway) PlaceSell(ctx context.Context, req OrderRequest) *PendingOrder {
	req.Side = domain.SideSell
	return g.submit(ctx, req)
}

// Drain returns and clears the fills resolved since the last call.
func (g *OrderGateway) Drain() []Fill {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.completed
	g.completed = nil
	return out
}

// Close stops outstanding polls; their orders resolve with the fallback price.
func (g *OrderGateway) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cancel()
	g.wg.Wait()
}

// Wait blocks until every submitted order has resolved.
func (g *OrderGateway) Wait() {
	g.wg.Wait()
}

func (g *OrderGateway) submit(ctx context.Context, req OrderRequest) *PendingOrder {
	p := &PendingOrder{Request: req, done: make(chan Fill, 1)}

	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed || req.Quantity <= 0 || req.Symbol == "" || req.Price <= 0 {
		fill := g.fallback(req, "", fmt.Errorf("order rejected before submission: %s %s qty=%d price=%v", req.Side, req.Symbol, req.Quantity, req.Price))
		g.logger.Warn("Order not submitted", zap.String("symbol", req.Symbol), zap.Error(fill.Err))
		g.complete(p, fill)
		return p
	}
	p.Accepted = true

	order := &domain.Order{
		SessionID:      req.SessionID,
		Cycle:          req.Cycle,
		Token:          req.Token,
		Symbol:         req.Symbol,
		Side:           req.Side,
		RequestedPrice: req.Price,
		Quantity:       req.Quantity,
		Tag:            req.Tag,
		Live:           req.Live,
		CreatedAt:      time.Now(),
	}

	if !req.Live {
		order.ID = "paper-" + uuid.NewString()
		order.Status = domain.OrderStatusPaper
		order.ExecutedPrice = req.Price
		g.save(ctx, order)
		g.complete(p, Fill{
			OrderID:        order.ID,
			SessionID:      req.SessionID,
			Cycle:          req.Cycle,
			Token:          req.Token,
			Symbol:         req.Symbol,
			Side:           req.Side,
			RequestedPrice: req.Price,
			Price:          req.Price,
		})
		return p
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.complete(p, g.execute(order, req))
	}()
	return p
}

func (g *OrderGateway) execute(order *domain.Order, req OrderRequest) Fill {
	var (
		id  string
		err error
	)
	if req.Side == domain.SideBuy {
		id, err = g.broker.PlaceBuy(g.ctx, req.Symbol, req.Price, req.Quantity, req.Tag)
	} else {
		id, err = g.broker.PlaceMarketSell(g.ctx, req.Symbol, req.Price, req.Quantity, req.Tag)
	}
	if err != nil {
		order.ID = "failed-" + uuid.NewString()
		order.Status = domain.OrderStatusFailed
		order.ExecutedPrice = req.Price
		g.save(g.ctx, order)
		g.logger.Warn("Order placement failed, using reference price",
			zap.String("symbol", req.Symbol),
			zap.String("side", string(req.Side)),
			zap.Float64("reference_price", req.Price),
			zap.Error(err))
		return g.fallback(req, order.ID, err)
	}

	order.ID = id
	order.Status = domain.OrderStatusOpen
	g.save(g.ctx, order)

	price, status, err := g.poll(id)
	if err != nil || price <= 0 {
		if err == nil {
			err = fmt.Errorf("order %s unresolved (last status %q)", id, status)
		}
		g.logger.Warn("Fill unresolved, keeping reference price",
			zap.String("order_id", id),
			zap.String("symbol", req.Symbol),
			zap.Float64("reference_price", req.Price),
			zap.Error(err))
		if status == "" {
			status = domain.OrderStatusOpen
		}
		g.updateFill(id, req.Price, status)
		return g.fallback(req, id, err)
	}

	g.updateFill(id, price, domain.OrderStatusComplete)
	g.logger.Info("Order filled",
		zap.String("order_id", id),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Float64("reference_price", req.Price),
		zap.Float64("fill_price", price))
	return Fill{
		OrderID:        id,
		SessionID:      req.SessionID,
		Cycle:          req.Cycle,
		Token:          req.Token,
		Symbol:         req.Symbol,
		Side:           req.Side,
		RequestedPrice: req.Price,
		Price:          price,
		Live:           true,
	}
}

// poll reads the order history until a COMPLETE entry appears, the order
// is rejected or cancelled, or the poll budget runs out.
func (g *OrderGateway) poll(orderID string) (float64, string, error) {
	var (
		status  string
		lastErr error
	)
	for i := 0; i < g.cfg.MaxPolls; i++ {
		select {
		case <-g.ctx.Done():
			return 0, status, g.ctx.Err()
		case <-time.After(g.cfg.PollInterval):
		}

		history, err := g.broker.GetOrderHistory(g.ctx, orderID)
		if err != nil {
			lastErr = err
			continue
		}
		if price, ok := domain.FillPrice(history); ok {
			return price, domain.OrderStatusComplete, nil
		}
		if n := len(history); n > 0 {
			status = history[n-1].Status
			if status == domain.OrderStatusRejected || status == domain.OrderStatusCancelled {
				return 0, status, fmt.Errorf("order %s %s", orderID, status)
			}
		}
	}
	return 0, status, lastErr
}

func (g *OrderGateway) fallback(req OrderRequest, orderID string, err error) Fill {
	return Fill{
		OrderID:        orderID,
		SessionID:      req.SessionID,
		Cycle:          req.Cycle,
		Token:          req.Token,
		Symbol:         req.Symbol,
		Side:           req.Side,
		RequestedPrice: req.Price,
		Price:          req.Price,
		Fallback:       true,
		Live:           req.Live,
		Err:            err,
	}
}

func (g *OrderGateway) complete(p *PendingOrder, fill Fill) {
	g.mu.Lock()
	g.completed = append(g.completed, fill)
	g.mu.Unlock()
	p.done <- fill
}

func (g *OrderGateway) save(ctx context.Context, order *domain.Order) {
	if g.trades == nil {
		return
	}
	if err := g.trades.SaveOrder(ctx, order); err != nil {
		g.logger.Error("Failed to journal order", zap.String("symbol", order.Symbol), zap.Error(err))
	}
}

func (g *OrderGateway) updateFill(orderID string, price float64, status string) {
	if g.trades == nil || orderID == "" {
		return
	}
	// The gateway context may already be cancelled on shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.trades.UpdateFill(ctx, orderID, price, status); err != nil {
		g.logger.Error("Failed to journal fill", zap.String("order_id", orderID), zap.Error(err))
	}
}
