package usecase

import (
	"fmt"
	"sort"

	"github.com/vitos/options_cycle_trader/internal/domain"
)

const (
	StrategyMTM          = "mtm"
	StrategyX            = "strategy_x"
	StrategyFiftyPercent = "fifty_percent"
)

// Every strategy shares the engine; a profile is only its rule table.
var profiles = map[string]domain.Params{
	StrategyMTM: {
		Target:            40,
		Stoploss:          -60,
		Quantity:          75,
		TargetPremium:     180,
		RangeBase:         165,
		RangeWidth:        35,
		RangeFloor:        150,
		RangeStep:         5,
		PeakThreshold:     3,
		PeakFallThreshold: 3,
		RefFraction:       0.8,
		RecoveryThreshold: 2,
		InterimLowEnabled: true,
		PositiveOffset:    24,
		NegativeOffset:    -36,
		BuyBackPremium:    180,
		MaxBuyBacks:       1,
		ExpiryDay:         "thursday",
		StallAfterBatches: 600,
	},
	StrategyX: {
		Target:            30,
		Stoploss:          -45,
		Quantity:          75,
		TargetPremium:     180,
		RangeBase:         165,
		RangeWidth:        35,
		RangeFloor:        150,
		RangeStep:         5,
		PeakThreshold:     4,
		PeakFallThreshold: 4,
		RefFraction:       0.75,
		PositiveOffset:    20,
		NegativeOffset:    -30,
		ExpiryDay:         "thursday",
		StallAfterBatches: 600,
	},
	StrategyFiftyPercent: {
		Target:            50,
		Stoploss:          -80,
		Quantity:          50,
		TargetPremium:     200,
		RangeBase:         180,
		RangeWidth:        40,
		RangeFloor:        160,
		RangeStep:         5,
		PeakThreshold:     5,
		PeakFallThreshold: 5,
		RefFraction:       0.5,
		RecoveryThreshold: 3,
		InterimLowEnabled: true,
		PositiveOffset:    25,
		NegativeOffset:    -40,
		BuyBackPremium:    200,
		MaxBuyBacks:       2,
		ExpiryDay:         "thursday",
		StallAfterBatches: 600,
	},
}

// Profile returns the default rule table of a named strategy.
func Profile(name string) (domain.Params, error) {
	p, ok := profiles[name]
	if !ok {
		return domain.Params{}, fmt.Errorf("%w: unknown strategy %q", domain.ErrInvalidParams, name)
	}
	return p, nil
}

func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
