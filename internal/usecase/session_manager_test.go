package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/options_cycle_trader/internal/domain"
	"github.com/vitos/options_cycle_trader/internal/usecase"
	"go.uber.org/zap"
)

func newManager(events domain.EventSink) *usecase.SessionManager {
	return usecase.NewSessionManager(&MockBroker{}, NewMockRepo(), events, zap.NewNop(), fastPolls, 4)
}

func TestSessionManager_StartDispatchStop(t *testing.T) {
	rec := &EventRecorder{}
	m := newManager(rec)
	defer m.Shutdown()
	ctx := context.Background()

	id, err := m.StartSession(ctx, usecase.SessionConfig{ID: "mtm-1", Strategy: usecase.StrategyMTM})
	require.NoError(t, err)
	assert.Equal(t, "mtm-1", id)

	m.Dispatch([]domain.Tick{
		tick(1, "NIFTY24500CE", 178),
		tick(2, "NIFTY24500PE", 182),
	})

	require.Eventually(t, func() bool {
		st, err := m.Status(id)
		return err == nil && st.State.Block == domain.BlockUpdate
	}, 2*time.Second, 5*time.Millisecond)

	st, err := m.Status(id)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.True(t, st.Live)
	assert.Len(t, st.State.Candidates, 2)

	require.NoError(t, m.StopSession(id))
	_, err = m.Status(id)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, m.StopSession(id), domain.ErrSessionNotFound)

	stopped := rec.OfType(domain.EventSessionStopped)
	require.Len(t, stopped, 1)
	assert.Equal(t, "mtm-1", stopped[0].SessionID)
}

func TestSessionManager_RejectsBadSessions(t *testing.T) {
	m := newManager(nil)
	defer m.Shutdown()
	ctx := context.Background()

	_, err := m.StartSession(ctx, usecase.SessionConfig{ID: "a", Strategy: "unknown"})
	assert.ErrorIs(t, err, domain.ErrInvalidParams)

	bad := testParams()
	bad.Quantity = 0
	_, err = m.StartSession(ctx, usecase.SessionConfig{ID: "a", Strategy: usecase.StrategyMTM, Params: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidParams)

	_, err = m.StartSession(ctx, usecase.SessionConfig{ID: "a", Strategy: usecase.StrategyMTM})
	require.NoError(t, err)
	_, err = m.StartSession(ctx, usecase.SessionConfig{ID: "a", Strategy: usecase.StrategyX})
	assert.ErrorIs(t, err, domain.ErrSessionExists)
}

func TestSessionManager_GeneratesIDsAndLists(t *testing.T) {
	m := newManager(nil)
	defer m.Shutdown()
	ctx := context.Background()

	id, err := m.StartSession(ctx, usecase.SessionConfig{Strategy: usecase.StrategyFiftyPercent})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = m.StartSession(ctx, usecase.SessionConfig{ID: "0-first", Strategy: usecase.StrategyX, LiveCycleLimit: 2})
	require.NoError(t, err)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "0-first", list[0].ID)
	assert.Nil(t, list[0].State)
}

func TestSessionManager_UpdateParams(t *testing.T) {
	m := newManager(nil)
	defer m.Shutdown()

	_, err := m.UpdateParams("missing", testParams())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	id, err := m.StartSession(context.Background(), usecase.SessionConfig{Strategy: usecase.StrategyMTM})
	require.NoError(t, err)

	p := testParams()
	p.Target = 55
	got, err := m.UpdateParams(id, p)
	require.NoError(t, err)
	assert.Equal(t, 55.0, got.Target)

	st, err := m.Status(id)
	require.NoError(t, err)
	assert.Equal(t, 55.0, st.State.Params.Target)
}

func TestSessionManager_ShutdownStopsAll(t *testing.T) {
	m := newManager(nil)
	for _, s := range []string{usecase.StrategyMTM, usecase.StrategyX} {
		_, err := m.StartSession(context.Background(), usecase.SessionConfig{Strategy: s})
		require.NoError(t, err)
	}
	m.Shutdown()
	assert.Empty(t, m.List())

	// Dispatch after shutdown is a no-op.
	m.Dispatch([]domain.Tick{tick(1, "A-CE", 100)})
}
