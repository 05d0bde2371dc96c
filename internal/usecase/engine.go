package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vitos/options_cycle_trader/internal/domain"
	"go.uber.org/zap"
)

// OrderRouter is the gateway as seen by the engine: order placement plus
// the completion queue drained at each batch boundary.
type OrderRouter interface {
	OrderPlacer
	Drain() []Fill
}

// Engine runs one strategy session. Batches are processed one at a time
// under the engine lock; the cycle reset happens under the same lock.
type Engine struct {
	selector  *UniverseSelector
	pipeline  *FilterPipeline
	lifecycle *Lifecycle
	cycles    *CycleController

	orders OrderRouter
	trades domain.TradeRepository
	events domain.EventSink
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	state *domain.SessionState
}

func NewEngine(
	state *domain.SessionState,
	orders OrderRouter,
	trades domain.TradeRepository,
	events domain.EventSink,
	logger *zap.Logger,
) *Engine {
	if events == nil {
		events = domain.EventSinkFunc(func(domain.Event) {})
	}
	logger = logger.With(zap.String("session", state.SessionID), zap.String("strategy", state.Strategy))
	return &Engine{
		selector:  NewUniverseSelector(),
		pipeline:  NewFilterPipeline(),
		lifecycle: NewLifecycle(orders, events, logger),
		cycles:    NewCycleController(),
		orders:    orders,
		trades:    trades,
		events:    events,
		logger:    logger,
		now:       time.Now,
		state:     state,
	}
}

// ProcessBatch feeds one tick batch through the active block. When a block
// hands over to its successor the successor runs on the same batch; a block
// never runs twice for one batch. Invariant violations flatten the position,
// force a cycle reset and are returned wrapped in ErrInvariantViolation.
func (e *Engine) ProcessBatch(ctx context.Context, ticks []domain.Tick) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.reconcile()
	e.observe(ticks)

	ran := make(map[domain.Block]bool, 5)
	transitioned := false
	for !ran[e.state.Block] {
		from := e.state.Block
		ran[from] = true

		next, err := e.runBlock(ctx, from, ticks)
		if err != nil {
			if errors.Is(err, domain.ErrInvariantViolation) {
				e.forceReset(ctx, err)
			}
			return fmt.Errorf("block %s: %w", from, err)
		}
		if next == from {
			break
		}
		if !from.CanTransition(next) {
			err := fmt.Errorf("%w: illegal block transition %s -> %s", domain.ErrInvariantViolation, from, next)
			e.forceReset(ctx, err)
			return err
		}
		e.transition(from, next)
		transitioned = true
	}

	if !transitioned {
		e.state.BatchesInBlock++
		e.checkStall()
	}
	e.publishSnapshot()
	return nil
}

func (e *Engine) runBlock(ctx context.Context, b domain.Block, ticks []domain.Tick) (domain.Block, error) {
	switch b {
	case domain.BlockInit:
		return e.runInit(ticks)
	case domain.BlockUpdate:
		return e.runUpdate()
	case domain.BlockFinalRef:
		if err := e.lifecycle.Enter(ctx, e.state); err != nil {
			return b, err
		}
		return domain.BlockTrade, nil
	case domain.BlockTrade:
		done, err := e.lifecycle.Evaluate(ctx, e.state, ticks)
		if err != nil {
			return b, err
		}
		if done {
			return domain.BlockNextCycle, nil
		}
		return b, nil
	case domain.BlockNextCycle:
		e.completeCycle(ctx)
		return domain.BlockInit, nil
	}
	return b, fmt.Errorf("%w: unknown block %q", domain.ErrInvariantViolation, b)
}

func (e *Engine) runInit(ticks []domain.Tick) (domain.Block, error) {
	p := e.state.Params
	sel, err := e.selector.Select(ticks, p.Range(), p.TargetPremium)
	if err != nil {
		return domain.BlockInit, err
	}
	if !sel.Found {
		e.logger.Debug("Universe selection incomplete",
			zap.Error(domain.ErrNoCandidates),
			zap.Int("calls", len(sel.Calls)),
			zap.Int("puts", len(sel.Puts)),
			zap.Int("widenings", sel.Iterations))
		return domain.BlockInit, nil
	}

	latest := make(map[uint32]domain.Tick, len(ticks))
	for _, t := range dedupeLatest(ticks) {
		latest[t.Token] = t
	}
	for _, tok := range sel.Accepted {
		t := latest[tok]
		e.state.Instruments[tok] = domain.NewInstrumentRecord(t.Token, t.Symbol, t.LastPrice, t.Timestamp)
	}
	e.state.Candidates = sel.Accepted
	e.state.CallTokens = sel.Calls
	e.state.PutTokens = sel.Puts

	e.logger.Info("Universe selected",
		zap.Int("calls", len(sel.Calls)),
		zap.Int("puts", len(sel.Puts)),
		zap.Float64("base", sel.Range.Base),
		zap.Float64("upper", sel.Range.Upper()),
		zap.Int("widenings", sel.Iterations))
	return domain.BlockUpdate, nil
}

func (e *Engine) runUpdate() (domain.Block, error) {
	res := e.pipeline.Apply(e.state, e.state.Params, e.now())
	for _, m := range res.Marked {
		r := e.state.Record(m.Token)
		e.logger.Info("Checkpoint passed",
			zap.String("symbol", r.Symbol),
			zap.String("stage", m.Stage.String()),
			zap.Float64("last", r.Last))
	}
	if res.Fallback {
		e.logger.Debug("Filter produced no survivors, reusing previous stage",
			zap.String("stage", res.Stage.String()),
			zap.Int("survivors", len(res.Survivors)))
	}
	for _, tok := range e.state.Candidates {
		if r := e.state.Record(tok); r != nil && !r.CheckpointsConsistent() {
			return domain.BlockUpdate, fmt.Errorf("%w: checkpoint chain broken for %s", domain.ErrInvariantViolation, r.Symbol)
		}
	}
	if !res.EntryReady {
		return domain.BlockUpdate, nil
	}
	if !e.pipeline.ResolveEntryPair(e.state, res.Trigger) {
		e.logger.Debug("Entry ready but no opposite instrument available", zap.Uint32("trigger", res.Trigger))
		return domain.BlockUpdate, nil
	}
	return domain.BlockFinalRef, nil
}

func (e *Engine) completeCycle(ctx context.Context) {
	result := e.cycles.Result(e.state)
	e.saveResult(ctx, result)
	e.logger.Info("Cycle complete",
		zap.Int("cycle", result.Cycle),
		zap.Float64("realized_pnl", result.RealizedPnL),
		zap.String("reason", result.Reason))
	e.publish(domain.Event{
		Type:    domain.EventCycleComplete,
		Price:   result.RealizedPnL,
		Message: result.Reason,
	})
	e.state = e.cycles.Reset(e.state)
}

func (e *Engine) transition(from, to domain.Block) {
	e.state.Block = to
	e.state.BatchesInBlock = 0
	e.state.Stalled = false
	e.logger.Info("Block transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("cycle", e.state.CycleNumber))
	e.publish(domain.Event{
		Type:    domain.EventBlockTransition,
		Message: string(from) + "->" + string(to),
	})
}

func (e *Engine) checkStall() {
	s := e.state
	limit := s.Params.StallAfterBatches
	if limit <= 0 || s.Stalled {
		return
	}
	if s.Block != domain.BlockInit && s.Block != domain.BlockUpdate {
		return
	}
	if s.BatchesInBlock < limit {
		return
	}
	s.Stalled = true
	e.logger.Warn("Session stalled", zap.String("block", string(s.Block)), zap.Int("batches", s.BatchesInBlock))
	e.publish(domain.Event{
		Type:    domain.EventStalled,
		Message: fmt.Sprintf("no progress in %s for %d batches", s.Block, s.BatchesInBlock),
	})
}

// forceReset flattens whatever is held and starts the next cycle.
func (e *Engine) forceReset(ctx context.Context, cause error) {
	e.logger.Error("Invariant violated, forcing cycle reset", zap.Error(cause))
	e.publish(domain.Event{Type: domain.EventInvariantViolation, Message: cause.Error()})

	if err := e.lifecycle.ExitAll(ctx, e.state, ExitInvariant); err != nil {
		e.logger.Error("Failed to flatten position during reset", zap.Error(err))
	}
	e.state.ExitReason = ExitInvariant
	e.saveResult(ctx, e.cycles.Result(e.state))
	e.state = e.cycles.Reset(e.state)
}

// reconcile applies fills resolved since the previous batch.
func (e *Engine) reconcile() {
	for _, f := range e.orders.Drain() {
		if f.Fallback && f.Err != nil {
			e.logger.Debug("Fallback fill", zap.String("symbol", f.Symbol), zap.Error(f.Err))
		}
		updated := e.lifecycle.Reconcile(e.state, f)
		ev := domain.Event{
			Type:   domain.EventFill,
			Token:  f.Token,
			Symbol: f.Symbol,
			Side:   f.Side,
			Price:  f.Price,
		}
		if f.Fallback {
			ev.Message = "fallback"
		} else if updated {
			ev.Message = "reconciled"
		}
		e.publish(ev)
	}
}

func (e *Engine) observe(ticks []domain.Tick) {
	for _, t := range dedupeLatest(ticks) {
		if r := e.state.Record(t.Token); r != nil {
			r.Observe(t.LastPrice)
		}
	}
	if len(e.state.OpenLegs()) > 0 {
		e.lifecycle.Mark(e.state)
	}
}

func (e *Engine) publishSnapshot() {
	tracked := e.state.Tracked()
	if len(tracked) == 0 {
		return
	}
	e.publish(domain.Event{Type: domain.EventSnapshot, Instruments: tracked})
}

func (e *Engine) publish(ev domain.Event) {
	ev.SessionID = e.state.SessionID
	ev.Strategy = e.state.Strategy
	ev.Cycle = e.state.CycleNumber
	ev.Block = e.state.Block
	ev.MTM = e.state.MTM
	if ev.Time.IsZero() {
		ev.Time = e.now()
	}
	e.events.Publish(ev)
}

func (e *Engine) saveResult(ctx context.Context, result *domain.CycleResult) {
	if e.trades == nil {
		return
	}
	if err := e.trades.SaveCycleResult(ctx, result); err != nil {
		e.logger.Error("Failed to journal cycle result", zap.Int("cycle", result.Cycle), zap.Error(err))
	}
}

// Snapshot returns a copy of the current session state.
func (e *Engine) Snapshot() *domain.SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

func (e *Engine) Stalled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Stalled
}

// UpdateParams validates and applies a new parameter set. While a position
// is open the accounting fields keep their current values; the rejection is
// logged and published, the rest of the set still applies. The effective
// parameters are returned.
func (e *Engine) UpdateParams(p domain.Params) (domain.Params, error) {
	if err := p.Validate(); err != nil {
		return domain.Params{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.state.Params
	if e.state.PositionOpen() {
		if rejected := lockedChanges(cur, p); len(rejected) > 0 {
			p.Target, p.Stoploss, p.Quantity = cur.Target, cur.Stoploss, cur.Quantity
			p.NegativeOffset, p.PositiveOffset, p.MaxBuyBacks = cur.NegativeOffset, cur.PositiveOffset, cur.MaxBuyBacks
			if err := p.Validate(); err != nil {
				return domain.Params{}, err
			}
			msg := "position open, kept " + strings.Join(rejected, ",")
			e.logger.Warn("Parameter change rejected", zap.Strings("fields", rejected))
			e.publish(domain.Event{Type: domain.EventParamsRejected, Message: msg})
		}
	}

	e.state.Params = p
	e.logger.Info("Parameters updated", zap.Any("params", p))
	e.publish(domain.Event{Type: domain.EventParamsAck})
	return p, nil
}

func lockedChanges(cur, next domain.Params) []string {
	var fields []string
	if cur.Target != next.Target {
		fields = append(fields, "target")
	}
	if cur.Stoploss != next.Stoploss {
		fields = append(fields, "stoploss")
	}
	if cur.Quantity != next.Quantity {
		fields = append(fields, "quantity")
	}
	if cur.NegativeOffset != next.NegativeOffset {
		fields = append(fields, "negative_offset")
	}
	if cur.PositiveOffset != next.PositiveOffset {
		fields = append(fields, "positive_offset")
	}
	if cur.MaxBuyBacks != next.MaxBuyBacks {
		fields = append(fields, "max_buybacks")
	}
	return fields
}
