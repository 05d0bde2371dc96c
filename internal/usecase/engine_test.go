package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/options_cycle_trader/internal/domain"
	"github.com/vitos/options_cycle_trader/internal/usecase"
	"go.uber.org/zap"
)

type engineFixture struct {
	engine *usecase.Engine
	router *MockRouter
	repo   *MockRepo
	events *EventRecorder
}

func newEngineFixture(p domain.Params) *engineFixture {
	f := &engineFixture{router: &MockRouter{}, repo: NewMockRepo(), events: &EventRecorder{}}
	state := domain.NewSessionState("s1", usecase.StrategyMTM, p, 0)
	f.engine = usecase.NewEngine(state, f.router, f.repo, f.events, zap.NewNop())
	return f
}

func (f *engineFixture) batch(t *testing.T, call, put float64) {
	t.Helper()
	require.NoError(t, f.engine.ProcessBatch(context.Background(), []domain.Tick{
		tick(1, "NIFTY24500CE", call),
		tick(2, "NIFTY24500PE", put),
		tick(3, "NIFTY25000CE", 120),
	}))
}

// enter drives a fresh engine from INIT to TRADE with both legs bought at 175.
func (f *engineFixture) enter(t *testing.T) {
	t.Helper()
	f.batch(t, 170, 175)
	f.batch(t, 180, 175)
	f.batch(t, 176, 175)
	f.batch(t, 175, 175)
	require.Equal(t, domain.BlockTrade, f.engine.Snapshot().Block)
}

func TestEngine_FullCycle(t *testing.T) {
	f := newEngineFixture(testParams())

	f.batch(t, 170, 175)
	s := f.engine.Snapshot()
	assert.Equal(t, domain.BlockUpdate, s.Block, "INIT hands over and UPDATE runs on the same batch")
	assert.ElementsMatch(t, []uint32{1, 2}, s.Candidates)
	assert.NotContains(t, s.Instruments, uint32(3))

	f.batch(t, 180, 175)
	s = f.engine.Snapshot()
	assert.True(t, s.Instruments[1].PassedThresholdCross)
	assert.Equal(t, uint32(1), s.MainToken)
	assert.Equal(t, uint32(2), s.OppToken)

	f.batch(t, 176, 175)
	assert.Equal(t, domain.BlockUpdate, f.engine.Snapshot().Block)

	f.batch(t, 175, 175)
	s = f.engine.Snapshot()
	assert.Equal(t, domain.BlockTrade, s.Block)
	assert.Equal(t, domain.StagePaired, s.Stage)
	require.Len(t, f.router.Buys, 2)
	assert.Equal(t, 175.0, s.Instruments[1].BuyPrice)
	assert.Equal(t, 175.0, s.Instruments[2].BuyPrice)

	// +25 and +15: target reached, the cycle closes and INIT starts cycle 2
	// on the same batch.
	f.batch(t, 200, 190)
	s = f.engine.Snapshot()
	assert.Equal(t, 2, s.CycleNumber)
	assert.Equal(t, domain.BlockUpdate, s.Block)
	assert.Equal(t, domain.StageAwaitingEntry, s.Stage)
	assert.Equal(t, 200.0, s.Instruments[1].FirstPrice)
	assert.False(t, s.Instruments[1].Bought())
	assert.Len(t, f.router.Sells, 2)

	require.Len(t, f.repo.Results, 1)
	assert.Equal(t, usecase.ExitTarget, f.repo.Results[0].Reason)
	assert.InDelta(t, 40.0, f.repo.Results[0].RealizedPnL, 1e-9)
	assert.Equal(t, 1, f.repo.Results[0].Cycle)

	assert.Len(t, f.events.OfType(domain.EventBlockTransition), 6)
	assert.Len(t, f.events.OfType(domain.EventCycleComplete), 1)
	assert.NotEmpty(t, f.events.OfType(domain.EventSnapshot))
}

func TestEngine_TransitionsFollowTable(t *testing.T) {
	f := newEngineFixture(testParams())
	f.enter(t)
	f.batch(t, 200, 190)

	for _, e := range f.events.OfType(domain.EventBlockTransition) {
		assert.NotEmpty(t, e.Message)
	}
	var path []string
	for _, e := range f.events.OfType(domain.EventBlockTransition) {
		path = append(path, e.Message)
	}
	assert.Equal(t, []string{
		"INIT->UPDATE",
		"UPDATE->FINAL_REF",
		"FINAL_REF->TRADE",
		"TRADE->NEXT_CYCLE",
		"NEXT_CYCLE->INIT",
		"INIT->UPDATE",
	}, path)
}

func TestEngine_StallSignal(t *testing.T) {
	p := testParams()
	p.StallAfterBatches = 3
	f := newEngineFixture(p)
	ctx := context.Background()
	callsOnly := []domain.Tick{tick(1, "X-CE", 180), tick(4, "Y-CE", 170)}

	for i := 0; i < 2; i++ {
		require.NoError(t, f.engine.ProcessBatch(ctx, callsOnly))
	}
	assert.False(t, f.engine.Stalled())

	for i := 0; i < 3; i++ {
		require.NoError(t, f.engine.ProcessBatch(ctx, callsOnly))
	}
	assert.True(t, f.engine.Stalled())
	assert.Len(t, f.events.OfType(domain.EventStalled), 1)
	assert.Equal(t, domain.BlockInit, f.engine.Snapshot().Block)

	f.batch(t, 170, 175)
	assert.False(t, f.engine.Stalled())
}

func TestEngine_ReconcilesFillAtNextBatch(t *testing.T) {
	f := newEngineFixture(testParams())
	f.enter(t)

	f.router.Queue(usecase.Fill{SessionID: "s1", Cycle: 1, Token: 1, Side: domain.SideBuy, RequestedPrice: 175, Price: 176})
	f.router.Queue(usecase.Fill{SessionID: "s1", Cycle: 1, Token: 2, Side: domain.SideBuy, RequestedPrice: 175, Price: 175, Fallback: true})
	f.batch(t, 180, 175)

	s := f.engine.Snapshot()
	assert.Equal(t, 176.0, s.Instruments[1].BuyPrice)
	assert.Equal(t, 175.0, s.Instruments[2].BuyPrice)
	assert.InDelta(t, 4.0, s.MTM, 1e-9)

	fills := f.events.OfType(domain.EventFill)
	require.Len(t, fills, 2)
	assert.Equal(t, "reconciled", fills[0].Message)
	assert.Equal(t, "fallback", fills[1].Message)
}

func TestEngine_InvariantViolationForcesReset(t *testing.T) {
	router := &MockRouter{}
	repo := NewMockRepo()
	events := &EventRecorder{}

	state := domain.NewSessionState("s1", usecase.StrategyMTM, testParams(), 0)
	state.Block = domain.BlockFinalRef
	state.Instruments[1] = domain.NewInstrumentRecord(1, "A-CE", 175, t0)
	state.Instruments[2] = domain.NewInstrumentRecord(2, "B-PE", 175, t0)
	state.MainToken, state.OppToken = 1, 2
	state.Instruments[2].BuyPrice = 170

	e := usecase.NewEngine(state, router, repo, events, zap.NewNop())
	err := e.ProcessBatch(context.Background(), []domain.Tick{tick(1, "A-CE", 176)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvariantViolation))

	s := e.Snapshot()
	assert.Equal(t, 2, s.CycleNumber)
	assert.Equal(t, domain.BlockInit, s.Block)
	assert.Empty(t, s.Instruments)

	// The main leg bought before the violation is flattened.
	assert.Len(t, router.Buys, 1)
	require.Len(t, router.Sells, 1)
	assert.Equal(t, "A-CE", router.Sells[0].Symbol)

	assert.Len(t, events.OfType(domain.EventInvariantViolation), 1)
	require.Len(t, repo.Results, 1)
	assert.Equal(t, usecase.ExitInvariant, repo.Results[0].Reason)
}

func TestEngine_UpdateParams(t *testing.T) {
	f := newEngineFixture(testParams())

	p := testParams()
	p.Target = 50
	p.PeakThreshold = 5
	got, err := f.engine.UpdateParams(p)
	require.NoError(t, err)
	assert.Equal(t, 50.0, got.Target)
	assert.Len(t, f.events.OfType(domain.EventParamsAck), 1)

	bad := testParams()
	bad.Stoploss = 10
	_, err = f.engine.UpdateParams(bad)
	assert.ErrorIs(t, err, domain.ErrInvalidParams)
	assert.Equal(t, 50.0, f.engine.Snapshot().Params.Target)
}

func TestEngine_UpdateParamsLocksAccountingWhilePositionOpen(t *testing.T) {
	f := newEngineFixture(testParams())
	f.enter(t)

	p := testParams()
	p.Target = 10
	p.Quantity = 150
	p.RangeStep = 10
	got, err := f.engine.UpdateParams(p)
	require.NoError(t, err)

	assert.Equal(t, 40.0, got.Target)
	assert.Equal(t, 75, got.Quantity)
	assert.Equal(t, 10.0, got.RangeStep)
	assert.Equal(t, got, f.engine.Snapshot().Params)

	rejected := f.events.OfType(domain.EventParamsRejected)
	require.Len(t, rejected, 1)
	assert.Contains(t, rejected[0].Message, "target")
	assert.Contains(t, rejected[0].Message, "quantity")
	assert.Len(t, f.events.OfType(domain.EventParamsAck), 1)
}

func TestEngine_SnapshotIsACopy(t *testing.T) {
	f := newEngineFixture(testParams())
	f.batch(t, 170, 175)

	s := f.engine.Snapshot()
	s.Instruments[1].Last = 1
	s.Candidates[0] = 99

	fresh := f.engine.Snapshot()
	assert.NotEqual(t, 1.0, fresh.Instruments[1].Last)
	assert.NotContains(t, fresh.Candidates, uint32(99))
}
