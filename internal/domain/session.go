package domain

import "fmt"

// Block is the active processing block of a strategy session.
type Block string

const (
	BlockInit      Block = "INIT"
	BlockUpdate    Block = "UPDATE"
	BlockFinalRef  Block = "FINAL_REF" // entry block: places the initial pair orders
	BlockTrade     Block = "TRADE"
	BlockNextCycle Block = "NEXT_CYCLE"
)

var blockTransitions = map[Block][]Block{
	BlockInit:      {BlockUpdate},
	BlockUpdate:    {BlockFinalRef},
	BlockFinalRef:  {BlockTrade, BlockNextCycle},
	BlockTrade:     {BlockNextCycle},
	BlockNextCycle: {BlockInit},
}

// CanTransition reports whether next is a legal successor of b.
func (b Block) CanTransition(next Block) bool {
	for _, n := range blockTransitions[b] {
		if n == next {
			return true
		}
	}
	return false
}

// LifecycleStage is the entry-stage lattice of a cycle. Stages only move
// forward; every branch runs its steps at most once per cycle.
type LifecycleStage string

const (
	StageAwaitingEntry  LifecycleStage = "AWAITING_ENTRY"
	StagePaired         LifecycleStage = "PAIRED"
	StageSingleLeg      LifecycleStage = "SINGLE_LEG"
	StageBuyBackPending LifecycleStage = "BUYBACK_PENDING"
	StageBuyBack        LifecycleStage = "BUYBACK"
	StageClosed         LifecycleStage = "CLOSED"
)

var stageTransitions = map[LifecycleStage][]LifecycleStage{
	StageAwaitingEntry:  {StagePaired, StageClosed},
	StagePaired:         {StageSingleLeg, StageClosed},
	StageSingleLeg:      {StageBuyBackPending, StageClosed},
	StageBuyBackPending: {StageBuyBack, StageClosed},
	StageBuyBack:        {StageBuyBackPending, StageClosed},
}

func (s LifecycleStage) CanAdvance(next LifecycleStage) bool {
	for _, n := range stageTransitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// SessionState is the mutable state of one running strategy session. It is
// owned by a single Engine and only touched under that engine's lock.
type SessionState struct {
	SessionID string `json:"session_id"`
	Strategy  string `json:"strategy"`

	Block          Block `json:"block"`
	BatchesInBlock int   `json:"batches_in_block"`
	Stalled        bool  `json:"stalled"`

	Instruments map[uint32]*InstrumentRecord `json:"instruments"`
	Candidates  []uint32                     `json:"candidates"`
	CallTokens  []uint32                     `json:"call_tokens"`
	PutTokens   []uint32                     `json:"put_tokens"`

	MainToken       uint32 `json:"main_token"`
	OppToken        uint32 `json:"opp_token"`
	BoughtToken     uint32 `json:"bought_token"`
	OppBoughtToken  uint32 `json:"opp_bought_token"`
	BuyBackToken    uint32 `json:"buyback_token"`
	InterimLowToken uint32 `json:"interim_low_token"`

	Stage          LifecycleStage `json:"stage"`
	BuyBackType    OptionType     `json:"buyback_type,omitempty"`
	BuyBacks       int            `json:"buybacks"`
	ResidualTarget float64        `json:"residual_target"`
	RealizedPnL    float64        `json:"realized_pnl"`
	MTM            float64        `json:"mtm"`
	ExitReason     string         `json:"exit_reason,omitempty"`

	CycleNumber    int    `json:"cycle_number"`
	LiveCycleLimit int    `json:"live_cycle_limit"`
	Params         Params `json:"params"`
}

// NewSessionState builds the state for the first cycle of a session.
func NewSessionState(sessionID, strategy string, params Params, liveCycleLimit int) *SessionState {
	return &SessionState{
		SessionID:      sessionID,
		Strategy:       strategy,
		Block:          BlockInit,
		Instruments:    make(map[uint32]*InstrumentRecord),
		Stage:          StageAwaitingEntry,
		CycleNumber:    1,
		LiveCycleLimit: liveCycleLimit,
		Params:         params,
	}
}

// Record returns the tracked record for token, or nil.
func (s *SessionState) Record(token uint32) *InstrumentRecord {
	if token == 0 {
		return nil
	}
	return s.Instruments[token]
}

// HasPair reports whether a main/opposite pair has been chosen this cycle.
func (s *SessionState) HasPair() bool {
	return s.MainToken != 0 && s.OppToken != 0
}

// OpenLegs returns the records currently held, main first.
func (s *SessionState) OpenLegs() []*InstrumentRecord {
	var legs []*InstrumentRecord
	for _, tok := range []uint32{s.BoughtToken, s.OppBoughtToken, s.BuyBackToken} {
		if r := s.Record(tok); r != nil && r.Open() {
			legs = append(legs, r)
		}
	}
	return legs
}

// Live reports whether orders of the current cycle go to the broker.
// A zero limit means always live.
func (s *SessionState) Live() bool {
	return s.LiveCycleLimit <= 0 || s.CycleNumber <= s.LiveCycleLimit
}

// PositionOpen reports whether accounting-sensitive parameters are locked.
func (s *SessionState) PositionOpen() bool {
	return s.Block == BlockFinalRef || s.Block == BlockTrade
}

// AdvanceStage moves the lifecycle forward, refusing illegal moves.
func (s *SessionState) AdvanceStage(next LifecycleStage) error {
	if !s.Stage.CanAdvance(next) {
		return fmt.Errorf("%w: stage %s -> %s", ErrInvariantViolation, s.Stage, next)
	}
	s.Stage = next
	return nil
}

// Clone returns a deep copy safe to hand to readers outside the engine.
func (s *SessionState) Clone() *SessionState {
	c := *s
	c.Instruments = make(map[uint32]*InstrumentRecord, len(s.Instruments))
	for tok, r := range s.Instruments {
		rc := *r
		c.Instruments[tok] = &rc
	}
	c.Candidates = append([]uint32(nil), s.Candidates...)
	c.CallTokens = append([]uint32(nil), s.CallTokens...)
	c.PutTokens = append([]uint32(nil), s.PutTokens...)
	return &c
}

// Tracked returns copies of the records worth reporting: the candidates
// while a pair is being searched for, then the pair and any buy-back leg.
func (s *SessionState) Tracked() []InstrumentRecord {
	seen := make(map[uint32]bool)
	var out []InstrumentRecord
	add := func(tok uint32) {
		if r := s.Record(tok); r != nil && !seen[tok] {
			seen[tok] = true
			out = append(out, *r)
		}
	}
	if s.Block == BlockUpdate {
		for _, tok := range s.Candidates {
			add(tok)
		}
	}
	for _, tok := range []uint32{s.MainToken, s.OppToken, s.BoughtToken, s.OppBoughtToken, s.BuyBackToken} {
		add(tok)
	}
	return out
}
