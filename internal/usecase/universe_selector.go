package usecase

import (
	"fmt"
	"math"
	"sort"

	"github.com/vitos/options_cycle_trader/internal/domain"
)

// Selection is the result of one universe selection pass.
type Selection struct {
	Accepted   []uint32               // in-range tokens, nearest to the target premium first
	Rejected   []uint32               // everything else in the batch
	Calls      []uint32               // accepted CE tokens
	Puts       []uint32               // accepted PE tokens
	Range      domain.RangeDescriptor // band that produced the selection
	Iterations int                    // number of widenings performed
	Found      bool                   // both sides non-empty
}

// UniverseSelector finds the working set of candidate instruments around a
// target premium, widening the band when one side has no candidates.
type UniverseSelector struct{}

func NewUniverseSelector() *UniverseSelector {
	return &UniverseSelector{}
}

// MaxWidenings is the bound on widenings for a range descriptor.
func MaxWidenings(r domain.RangeDescriptor) int {
	if r.Step <= 0 || r.Base <= r.Floor {
		return 0
	}
	return int(math.Ceil((r.Base - r.Floor) / r.Step))
}

// Select does not touch session state; it only classifies the batch.
func (s *UniverseSelector) Select(ticks []domain.Tick, r domain.RangeDescriptor, targetPremium float64) (Selection, error) {
	if r.Step <= 0 {
		return Selection{}, fmt.Errorf("%w: range step must be > 0, got %v", domain.ErrInvalidParams, r.Step)
	}

	sorted := dedupeLatest(ticks)
	sort.SliceStable(sorted, func(i, j int) bool {
		di := math.Abs(sorted[i].LastPrice - targetPremium)
		dj := math.Abs(sorted[j].LastPrice - targetPremium)
		if di != dj {
			return di < dj
		}
		return sorted[i].Token < sorted[j].Token
	})

	sel := Selection{Range: r}
	for {
		sel.Accepted, sel.Rejected, sel.Calls, sel.Puts = classify(sorted, sel.Range)
		if len(sel.Calls) > 0 && len(sel.Puts) > 0 {
			sel.Found = true
			return sel, nil
		}
		next := sel.Range.Base - r.Step
		if next < r.Floor {
			return sel, nil
		}
		sel.Range.Base = next
		// Width grows by two steps so the upper bound keeps rising by one.
		sel.Range.Width += 2 * r.Step
		sel.Iterations++
	}
}

func classify(ticks []domain.Tick, r domain.RangeDescriptor) (accepted, rejected, calls, puts []uint32) {
	for _, t := range ticks {
		typ := domain.OptionTypeOf(t.Symbol)
		if typ == "" || !r.Contains(t.LastPrice) {
			rejected = append(rejected, t.Token)
			continue
		}
		accepted = append(accepted, t.Token)
		if typ == domain.OptionCall {
			calls = append(calls, t.Token)
		} else {
			puts = append(puts, t.Token)
		}
	}
	return accepted, rejected, calls, puts
}

// dedupeLatest keeps one tick per token, the latest by timestamp (batch
// order breaks ties), and drops non-positive prices.
func dedupeLatest(ticks []domain.Tick) []domain.Tick {
	idx := make(map[uint32]int, len(ticks))
	out := make([]domain.Tick, 0, len(ticks))
	for _, t := range ticks {
		if t.LastPrice <= 0 || t.Token == 0 {
			continue
		}
		if i, ok := idx[t.Token]; ok {
			if !t.Timestamp.Before(out[i].Timestamp) {
				out[i] = t
			}
			continue
		}
		idx[t.Token] = len(out)
		out = append(out, t)
	}
	return out
}
