package usecase

import (
	"time"

	"github.com/vitos/options_cycle_trader/internal/domain"
)

// CycleController closes out a cycle and starts the next one.
type CycleController struct {
	now func() time.Time
}

func NewCycleController() *CycleController {
	return &CycleController{now: time.Now}
}

// Result summarises the cycle held in state.
func (c *CycleController) Result(state *domain.SessionState) *domain.CycleResult {
	return &domain.CycleResult{
		SessionID:   state.SessionID,
		Strategy:    state.Strategy,
		Cycle:       state.CycleNumber,
		RealizedPnL: state.RealizedPnL,
		Reason:      state.ExitReason,
		BuyBacks:    state.BuyBacks,
		ClosedAt:    c.now(),
	}
}

// Reset returns a fresh state for the next cycle. Every per-cycle field is
// dropped; only identity, params, the live limit and the counter carry over.
func (c *CycleController) Reset(state *domain.SessionState) *domain.SessionState {
	next := domain.NewSessionState(state.SessionID, state.Strategy, state.Params, state.LiveCycleLimit)
	next.CycleNumber = state.CycleNumber + 1
	return next
}
