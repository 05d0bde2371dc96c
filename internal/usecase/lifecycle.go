package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/vitos/options_cycle_trader/internal/domain"
	"go.uber.org/zap"
)

// OrderPlacer is the part of the order gateway the lifecycle needs.
type OrderPlacer interface {
	PlaceBuy(ctx context.Context, req OrderRequest) *PendingOrder
	PlaceSell(ctx context.Context, req OrderRequest) *PendingOrder
}

// Exit reasons recorded on the session and in the cycle journal.
const (
	ExitTarget         = "target"
	ExitStoploss       = "stoploss"
	ExitResidualTarget = "residual_target"
	ExitNegativeOffset = "negative_offset"
	ExitInvariant      = "invariant_violation"
)

// Lifecycle drives the bought pair through partial exits, buy-backs and
// the final exit. Every order uses the last traded price as its reference
// and that price is booked immediately; fills reconcile it later.
type Lifecycle struct {
	orders OrderPlacer
	events domain.EventSink
	logger *zap.Logger
}

func NewLifecycle(orders OrderPlacer, events domain.EventSink, logger *zap.Logger) *Lifecycle {
	return &Lifecycle{orders: orders, events: events, logger: logger}
}

// Enter buys the main and opposite instruments.
func (l *Lifecycle) Enter(ctx context.Context, state *domain.SessionState) error {
	if state.Stage != domain.StageAwaitingEntry {
		return fmt.Errorf("%w: entry requested in stage %s", domain.ErrInvariantViolation, state.Stage)
	}
	main, opp := state.Record(state.MainToken), state.Record(state.OppToken)
	if main == nil || opp == nil || main.Token == opp.Token {
		return fmt.Errorf("%w: entry without a pair (main=%d opp=%d)", domain.ErrInvariantViolation, state.MainToken, state.OppToken)
	}
	if err := l.buy(ctx, state, main, domain.RoleMain, "entry-main"); err != nil {
		return err
	}
	state.BoughtToken = main.Token
	if err := l.buy(ctx, state, opp, domain.RoleOpposite, "entry-opp"); err != nil {
		return err
	}
	state.OppBoughtToken = opp.Token
	state.ResidualTarget = state.Params.Target
	l.Mark(state)
	return state.AdvanceStage(domain.StagePaired)
}

// Evaluate applies the exit rules for one batch and reports whether the
// lifecycle is complete.
func (l *Lifecycle) Evaluate(ctx context.Context, state *domain.SessionState, ticks []domain.Tick) (bool, error) {
	l.Mark(state)
	p := state.Params

	switch state.Stage {
	case domain.StagePaired, domain.StageSingleLeg, domain.StageBuyBack:
		if state.MTM >= p.Target {
			reason := ExitTarget
			if state.Stage != domain.StagePaired {
				// One leg left: reaching the target is reaching its residual.
				reason = ExitResidualTarget
			}
			return true, l.exitAll(ctx, state, reason)
		}
		if state.MTM <= p.Stoploss {
			return true, l.exitAll(ctx, state, ExitStoploss)
		}
	}

	switch state.Stage {
	case domain.StagePaired:
		return false, l.partialExit(ctx, state)

	case domain.StageSingleLeg, domain.StageBuyBack:
		return l.singleLeg(ctx, state, ticks)

	case domain.StageBuyBackPending:
		return false, l.buyBack(ctx, state, ticks)

	case domain.StageClosed:
		return true, nil
	}
	return false, fmt.Errorf("%w: evaluate in stage %s", domain.ErrInvariantViolation, state.Stage)
}

// partialExit sells the first leg, main first, that crossed an offset.
func (l *Lifecycle) partialExit(ctx context.Context, state *domain.SessionState) error {
	p := state.Params
	for _, r := range state.OpenLegs() {
		if r.ChangeFromBuy < p.PositiveOffset && r.ChangeFromBuy > p.NegativeOffset {
			continue
		}
		if err := l.sell(ctx, state, r, "partial-exit"); err != nil {
			return err
		}
		l.Mark(state)
		state.ResidualTarget = p.Target - state.RealizedPnL
		l.logger.Info("Partial exit",
			zap.String("symbol", r.Symbol),
			zap.Float64("change_from_buy", r.ChangeFromBuy),
			zap.Float64("residual_target", state.ResidualTarget))
		return state.AdvanceStage(domain.StageSingleLeg)
	}
	return nil
}

func (l *Lifecycle) singleLeg(ctx context.Context, state *domain.SessionState, ticks []domain.Tick) (bool, error) {
	p := state.Params
	legs := state.OpenLegs()
	if len(legs) != 1 {
		return false, fmt.Errorf("%w: %d open legs in stage %s", domain.ErrInvariantViolation, len(legs), state.Stage)
	}
	r := legs[0]

	if r.ChangeFromBuy >= state.ResidualTarget {
		if err := l.sell(ctx, state, r, "residual-target"); err != nil {
			return false, err
		}
		return true, l.close(state, ExitResidualTarget)
	}
	if r.ChangeFromBuy > p.NegativeOffset {
		return false, nil
	}

	if err := l.sell(ctx, state, r, "negative-offset"); err != nil {
		return false, err
	}
	l.Mark(state)
	if state.BuyBacks >= p.MaxBuyBacks {
		return true, l.close(state, ExitNegativeOffset)
	}
	state.BuyBackType = r.Type.Opposite()
	if err := state.AdvanceStage(domain.StageBuyBackPending); err != nil {
		return false, err
	}
	return false, l.buyBack(ctx, state, ticks)
}

// buyBack re-enters on the opposite type near the buy-back premium. With no
// candidate in the batch the stage stays pending until the next batch.
func (l *Lifecycle) buyBack(ctx context.Context, state *domain.SessionState, ticks []domain.Tick) error {
	p := state.Params
	tick, ok := nearestUnbought(state, ticks, state.BuyBackType, p.BuyBackPremium)
	if !ok {
		l.logger.Debug("No buy-back candidate in batch",
			zap.String("type", string(state.BuyBackType)),
			zap.Float64("premium", p.BuyBackPremium))
		return nil
	}
	r := state.Record(tick.Token)
	if r == nil {
		r = domain.NewInstrumentRecord(tick.Token, tick.Symbol, tick.LastPrice, tick.Timestamp)
		state.Instruments[tick.Token] = r
	}
	r.Observe(tick.LastPrice)

	if err := l.buy(ctx, state, r, domain.RoleBuyBack, fmt.Sprintf("buyback-%d", state.BuyBacks+1)); err != nil {
		return err
	}
	state.BuyBackToken = r.Token
	state.BuyBacks++
	l.Mark(state)
	state.ResidualTarget = p.Target - state.RealizedPnL
	l.logger.Info("Buy-back entered",
		zap.String("symbol", r.Symbol),
		zap.Float64("price", r.BuyPrice),
		zap.Int("buybacks", state.BuyBacks),
		zap.Float64("residual_target", state.ResidualTarget))
	return state.AdvanceStage(domain.StageBuyBack)
}

// ExitAll sells every open leg and closes the lifecycle. It is also used to
// flatten a cycle that is being force-reset.
func (l *Lifecycle) ExitAll(ctx context.Context, state *domain.SessionState, reason string) error {
	return l.exitAll(ctx, state, reason)
}

func (l *Lifecycle) exitAll(ctx context.Context, state *domain.SessionState, reason string) error {
	for _, r := range state.OpenLegs() {
		if err := l.sell(ctx, state, r, "exit-"+reason); err != nil {
			return err
		}
	}
	l.Mark(state)
	return l.close(state, reason)
}

func (l *Lifecycle) close(state *domain.SessionState, reason string) error {
	state.ExitReason = reason
	l.logger.Info("Lifecycle complete",
		zap.String("reason", reason),
		zap.Float64("realized_pnl", state.RealizedPnL),
		zap.Int("buybacks", state.BuyBacks))
	if state.Stage == domain.StageClosed {
		return nil
	}
	return state.AdvanceStage(domain.StageClosed)
}

// Mark recomputes ChangeFromBuy for held legs, the realized P&L of closed
// legs and the session MTM.
func (l *Lifecycle) Mark(state *domain.SessionState) {
	var realized, unrealized float64
	for _, r := range state.Instruments {
		if !r.Bought() {
			continue
		}
		if r.Sold() {
			r.ChangeFromBuy = r.SellPrice - r.BuyPrice
			realized += r.ChangeFromBuy
			continue
		}
		r.ChangeFromBuy = r.Last - r.BuyPrice
		unrealized += r.ChangeFromBuy
	}
	state.RealizedPnL = realized
	state.MTM = realized + unrealized
}

// Reconcile books a resolved fill onto the leg it belongs to. Fills from an
// earlier cycle or without a usable price leave the booked price alone.
func (l *Lifecycle) Reconcile(state *domain.SessionState, fill Fill) bool {
	if fill.SessionID != state.SessionID || fill.Cycle != state.CycleNumber {
		return false
	}
	r := state.Record(fill.Token)
	if r == nil || fill.Fallback || fill.Price <= 0 {
		return false
	}
	switch fill.Side {
	case domain.SideBuy:
		if !r.Bought() || r.BuyPrice == fill.Price {
			return false
		}
		r.BuyPrice = fill.Price
	case domain.SideSell:
		if !r.Sold() || r.SellPrice == fill.Price {
			return false
		}
		r.SellPrice = fill.Price
	default:
		return false
	}
	l.Mark(state)
	return true
}

func (l *Lifecycle) buy(ctx context.Context, state *domain.SessionState, r *domain.InstrumentRecord, role domain.LegRole, tag string) error {
	if r.Bought() {
		return fmt.Errorf("%w: %s already bought at %v this cycle", domain.ErrInvariantViolation, r.Symbol, r.BuyPrice)
	}
	if r.Last <= 0 {
		return fmt.Errorf("%w: %s has no traded price", domain.ErrInvariantViolation, r.Symbol)
	}
	ref := r.Last
	l.orders.PlaceBuy(ctx, l.request(state, r, ref, tag))
	r.BuyPrice = ref
	r.Role = role
	r.ChangeFromBuy = 0
	l.publishTrade(state, r, domain.SideBuy, ref, tag)
	return nil
}

func (l *Lifecycle) sell(ctx context.Context, state *domain.SessionState, r *domain.InstrumentRecord, tag string) error {
	if !r.Open() {
		return fmt.Errorf("%w: sell of %s which is not held", domain.ErrInvariantViolation, r.Symbol)
	}
	ref := r.Last
	l.orders.PlaceSell(ctx, l.request(state, r, ref, tag))
	r.SellPrice = ref
	r.ChangeFromBuy = ref - r.BuyPrice
	l.publishTrade(state, r, domain.SideSell, ref, tag)
	return nil
}

func (l *Lifecycle) request(state *domain.SessionState, r *domain.InstrumentRecord, price float64, tag string) OrderRequest {
	return OrderRequest{
		SessionID: state.SessionID,
		Cycle:     state.CycleNumber,
		Token:     r.Token,
		Symbol:    r.Symbol,
		Price:     price,
		Quantity:  state.Params.Quantity,
		Tag:       tag,
		Live:      state.Live(),
	}
}

func (l *Lifecycle) publishTrade(state *domain.SessionState, r *domain.InstrumentRecord, side domain.Side, price float64, tag string) {
	l.logger.Info("Trade",
		zap.String("side", string(side)),
		zap.String("symbol", r.Symbol),
		zap.Float64("price", price),
		zap.String("tag", tag),
		zap.Bool("live", state.Live()))
	if l.events == nil {
		return
	}
	l.events.Publish(domain.Event{
		Type:      domain.EventTrade,
		SessionID: state.SessionID,
		Strategy:  state.Strategy,
		Cycle:     state.CycleNumber,
		Block:     state.Block,
		Token:     r.Token,
		Symbol:    r.Symbol,
		Side:      side,
		Price:     price,
		MTM:       state.MTM,
		Message:   tag,
		Time:      time.Now(),
	})
}

func nearestUnbought(state *domain.SessionState, ticks []domain.Tick, typ domain.OptionType, premium float64) (domain.Tick, bool) {
	var (
		best  domain.Tick
		found bool
	)
	for _, t := range dedupeLatest(ticks) {
		if domain.OptionTypeOf(t.Symbol) != typ {
			continue
		}
		if r := state.Record(t.Token); r != nil && r.Bought() {
			continue
		}
		d := math.Abs(t.LastPrice - premium)
		if !found || d < math.Abs(best.LastPrice-premium) || (d == math.Abs(best.LastPrice-premium) && t.Token < best.Token) {
			best, found = t, true
		}
	}
	return best, found
}
