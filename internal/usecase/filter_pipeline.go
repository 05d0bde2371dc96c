package usecase

import (
	"math"
	"time"

	"github.com/vitos/options_cycle_trader/internal/domain"
)

type FilterStage int

const (
	FilterNone FilterStage = iota
	FilterThresholdCross
	FilterPeakAndFall
	FilterCalcRef
	FilterInterimLow
)

func (s FilterStage) String() string {
	switch s {
	case FilterThresholdCross:
		return "threshold_cross"
	case FilterPeakAndFall:
		return "peak_and_fall"
	case FilterCalcRef:
		return "calc_ref"
	case FilterInterimLow:
		return "interim_low"
	}
	return "none"
}

// CheckpointMark records a checkpoint flag set during a pipeline pass.
type CheckpointMark struct {
	Token uint32
	Stage FilterStage
}

// PipelineResult is the outcome of one pipeline pass.
//
// Survivors is the survivor set of the last stage that produced any. When a
// later stage produced none, Fallback is set and Stage names the stage whose
// survivors were emitted instead. Aborted means the first stage had no
// survivors, in which case no flags were touched.
type PipelineResult struct {
	Survivors  []uint32
	Stage      FilterStage
	Fallback   bool
	Aborted    bool
	EntryReady bool
	Trigger    uint32
	Marked     []CheckpointMark
}

// FilterPipeline narrows the candidate set down to an entry pair through
// four ordered filters.
type FilterPipeline struct{}

func NewFilterPipeline() *FilterPipeline {
	return &FilterPipeline{}
}

// Apply runs the four filters in order against the session's candidates.
func (f *FilterPipeline) Apply(state *domain.SessionState, p domain.Params, now time.Time) PipelineResult {
	var res PipelineResult

	crossed := f.thresholdCross(state, p, &res)
	if len(crossed) == 0 {
		res.Aborted = true
		return res
	}
	f.completePair(state)

	fallen := f.peakAndFall(state, crossed, p, now, &res)
	if len(fallen) == 0 {
		return res.fallback(crossed, FilterThresholdCross)
	}

	referenced := f.calcRef(state, fallen, p, &res)
	if len(referenced) == 0 {
		return res.fallback(fallen, FilterPeakAndFall)
	}

	if !p.InterimLowEnabled {
		res.Survivors, res.Stage = referenced, FilterCalcRef
		res.EntryReady = true
		res.Trigger = referenced[0]
		return res
	}

	recovered := f.interimLow(state, referenced, p, &res)
	if len(recovered) == 0 {
		return res.fallback(referenced, FilterCalcRef)
	}
	res.Survivors, res.Stage = recovered, FilterInterimLow
	res.EntryReady = true
	res.Trigger = state.InterimLowToken
	if res.Trigger == 0 {
		res.Trigger = recovered[0]
	}
	return res
}

func (r PipelineResult) fallback(prev []uint32, stage FilterStage) PipelineResult {
	r.Survivors = prev
	r.Stage = stage
	r.Fallback = true
	return r
}

func (f *FilterPipeline) thresholdCross(state *domain.SessionState, p domain.Params, res *PipelineResult) []uint32 {
	var survivors []uint32
	for _, tok := range state.Candidates {
		r := state.Record(tok)
		if r == nil {
			continue
		}
		if !r.PassedThresholdCross && r.Last-r.FirstPrice >= p.PeakThreshold && r.MarkThresholdCross() {
			res.Marked = append(res.Marked, CheckpointMark{Token: tok, Stage: FilterThresholdCross})
			f.assignPair(state, r)
		}
		if r.PassedThresholdCross {
			survivors = append(survivors, tok)
		}
	}
	return survivors
}

// assignPair makes the first crossing instrument main and the first crossing
// instrument of the other type opposite. The pair is fixed once complete.
func (f *FilterPipeline) assignPair(state *domain.SessionState, r *domain.InstrumentRecord) {
	if state.MainToken == 0 {
		state.MainToken = r.Token
		return
	}
	if state.OppToken != 0 || r.Token == state.MainToken {
		return
	}
	if main := state.Record(state.MainToken); main != nil && r.Type == main.Type.Opposite() {
		state.OppToken = r.Token
	}
}

// completePair auto-assigns the opposite side when only one side crossed.
func (f *FilterPipeline) completePair(state *domain.SessionState) {
	if state.MainToken == 0 || state.OppToken != 0 {
		return
	}
	main := state.Record(state.MainToken)
	if main == nil {
		return
	}
	if tok := firstAvailable(state, main.Type.Opposite(), state.MainToken); tok != 0 {
		state.OppToken = tok
	}
}

func (f *FilterPipeline) peakAndFall(state *domain.SessionState, crossed []uint32, p domain.Params, now time.Time, res *PipelineResult) []uint32 {
	var survivors []uint32
	for _, tok := range crossed {
		r := state.Record(tok)
		if r.Last > r.Peak {
			r.PrevPeak = r.Peak
			r.Peak = r.Last
			r.PeakTime = now
		}
		if !r.PassedPeakAndFall && r.Peak-r.Last >= p.PeakFallThreshold && r.MarkPeakAndFall() {
			res.Marked = append(res.Marked, CheckpointMark{Token: tok, Stage: FilterPeakAndFall})
		}
		if r.PassedPeakAndFall {
			survivors = append(survivors, tok)
		}
	}
	return survivors
}

// calcRef recomputes the reference price from the running peak until two
// consecutive computations agree; the value is frozen from then on.
func (f *FilterPipeline) calcRef(state *domain.SessionState, fallen []uint32, p domain.Params, res *PipelineResult) []uint32 {
	var survivors []uint32
	for _, tok := range fallen {
		r := state.Record(tok)
		if !r.PassedCalcRef {
			r.PrevCalcRef = r.CalcRef
			r.CalcRef = roundPrice(r.Peak * p.RefFraction)
			if r.PrevCalcRef > 0 && r.CalcRef == r.PrevCalcRef && r.MarkCalcRef() {
				res.Marked = append(res.Marked, CheckpointMark{Token: tok, Stage: FilterCalcRef})
			}
		}
		if r.PassedCalcRef {
			survivors = append(survivors, tok)
		}
	}
	return survivors
}

func (f *FilterPipeline) interimLow(state *domain.SessionState, referenced []uint32, p domain.Params, res *PipelineResult) []uint32 {
	var survivors []uint32
	for _, tok := range referenced {
		r := state.Record(tok)
		if !r.PassedInterimLow {
			if r.LowAtRef == 0 || r.Last < r.LowAtRef {
				r.LowAtRef = r.Last
			}
			if r.Last-r.LowAtRef >= p.RecoveryThreshold && r.MarkInterimLow() {
				res.Marked = append(res.Marked, CheckpointMark{Token: tok, Stage: FilterInterimLow})
				if state.InterimLowToken == 0 {
					state.InterimLowToken = tok
				}
			}
		}
		if r.PassedInterimLow {
			survivors = append(survivors, tok)
		}
	}
	return survivors
}

// ResolveEntryPair makes trigger the main leg and picks its opposite: the
// current pair member of the other type if there is one, otherwise the first
// available token of that type. It reports false when no opposite exists.
func (f *FilterPipeline) ResolveEntryPair(state *domain.SessionState, trigger uint32) bool {
	main := state.Record(trigger)
	if main == nil {
		return false
	}
	want := main.Type.Opposite()
	opp := uint32(0)
	for _, tok := range []uint32{state.MainToken, state.OppToken} {
		if r := state.Record(tok); r != nil && tok != trigger && r.Type == want {
			opp = tok
			break
		}
	}
	if opp == 0 {
		opp = firstAvailable(state, want, trigger)
	}
	if opp == 0 {
		return false
	}
	state.MainToken, state.OppToken = trigger, opp
	return true
}

func firstAvailable(state *domain.SessionState, typ domain.OptionType, exclude uint32) uint32 {
	tokens := state.CallTokens
	if typ == domain.OptionPut {
		tokens = state.PutTokens
	}
	for _, tok := range tokens {
		if tok == exclude {
			continue
		}
		if r := state.Record(tok); r != nil && !r.Bought() {
			return tok
		}
	}
	return 0
}

// roundPrice rounds to the 0.05 premium tick.
func roundPrice(v float64) float64 {
	return math.Round(v*20) / 20
}
