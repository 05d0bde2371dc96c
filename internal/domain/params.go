package domain

import (
	"errors"
	"fmt"
)

// Params is the user-editable parameter set of a strategy session.
// Prices and offsets are in option premium points.
type Params struct {
	Target   float64 `json:"target" yaml:"target"`
	Stoploss float64 `json:"stoploss" yaml:"stoploss"`
	Quantity int     `json:"quantity" yaml:"quantity"`

	// Universe selection
	TargetPremium float64 `json:"target_premium" yaml:"target_premium"`
	RangeBase     float64 `json:"range_base" yaml:"range_base"`
	RangeWidth    float64 `json:"range_width" yaml:"range_width"`
	RangeFloor    float64 `json:"range_floor" yaml:"range_floor"`
	RangeStep     float64 `json:"range_step" yaml:"range_step"`

	// Filter pipeline
	PeakThreshold     float64 `json:"peak_threshold" yaml:"peak_threshold"`
	PeakFallThreshold float64 `json:"peak_fall_threshold" yaml:"peak_fall_threshold"`
	RefFraction       float64 `json:"ref_fraction" yaml:"ref_fraction"`
	RecoveryThreshold float64 `json:"recovery_threshold" yaml:"recovery_threshold"`
	InterimLowEnabled bool    `json:"interim_low_enabled" yaml:"interim_low_enabled"`

	// Lifecycle
	PositiveOffset float64 `json:"positive_offset" yaml:"positive_offset"`
	NegativeOffset float64 `json:"negative_offset" yaml:"negative_offset"`
	BuyBackPremium float64 `json:"buyback_premium" yaml:"buyback_premium"`
	MaxBuyBacks    int     `json:"max_buybacks" yaml:"max_buybacks"`

	ExpiryDay         string `json:"expiry_day" yaml:"expiry_day"`
	StallAfterBatches int    `json:"stall_after_batches" yaml:"stall_after_batches"`
}

// Validate rejects parameter sets that would make the engine misbehave.
func (p Params) Validate() error {
	var errs []error
	if p.Target <= 0 {
		errs = append(errs, fmt.Errorf("target must be > 0, got %v", p.Target))
	}
	if p.Stoploss >= 0 {
		errs = append(errs, fmt.Errorf("stoploss must be < 0, got %v", p.Stoploss))
	}
	if p.Quantity <= 0 {
		errs = append(errs, fmt.Errorf("quantity must be > 0, got %d", p.Quantity))
	}
	if p.RangeStep <= 0 {
		errs = append(errs, fmt.Errorf("range_step must be > 0, got %v", p.RangeStep))
	}
	if p.RangeWidth < 0 {
		errs = append(errs, fmt.Errorf("range_width must be >= 0, got %v", p.RangeWidth))
	}
	if p.RangeFloor > p.RangeBase {
		errs = append(errs, fmt.Errorf("range_floor %v above range_base %v", p.RangeFloor, p.RangeBase))
	}
	if p.PeakThreshold <= 0 || p.PeakFallThreshold <= 0 {
		errs = append(errs, errors.New("peak thresholds must be > 0"))
	}
	if p.RefFraction <= 0 || p.RefFraction > 1 {
		errs = append(errs, fmt.Errorf("ref_fraction must be in (0,1], got %v", p.RefFraction))
	}
	if p.InterimLowEnabled && p.RecoveryThreshold <= 0 {
		errs = append(errs, errors.New("recovery_threshold must be > 0 when interim low is enabled"))
	}
	if p.PositiveOffset <= 0 {
		errs = append(errs, fmt.Errorf("positive_offset must be > 0, got %v", p.PositiveOffset))
	}
	if p.NegativeOffset >= 0 {
		errs = append(errs, fmt.Errorf("negative_offset must be < 0, got %v", p.NegativeOffset))
	}
	if p.MaxBuyBacks < 0 {
		errs = append(errs, fmt.Errorf("max_buybacks must be >= 0, got %d", p.MaxBuyBacks))
	}
	if p.MaxBuyBacks > 0 && p.BuyBackPremium <= 0 {
		errs = append(errs, errors.New("buyback_premium must be > 0 when buy-backs are enabled"))
	}
	if p.StallAfterBatches < 0 {
		errs = append(errs, fmt.Errorf("stall_after_batches must be >= 0, got %d", p.StallAfterBatches))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidParams, errors.Join(errs...))
	}
	return nil
}

// Range returns the universe range descriptor encoded in the params.
func (p Params) Range() RangeDescriptor {
	return RangeDescriptor{Base: p.RangeBase, Width: p.RangeWidth, Floor: p.RangeFloor, Step: p.RangeStep}
}

// RangeDescriptor is the premium band used for universe selection.
type RangeDescriptor struct {
	Base  float64 `json:"base"`
	Width float64 `json:"width"`
	Floor float64 `json:"floor"`
	Step  float64 `json:"step"`
}

// Upper is the inclusive upper bound of the band.
func (r RangeDescriptor) Upper() float64 { return r.Base + r.Width }

func (r RangeDescriptor) Contains(price float64) bool {
	return price >= r.Base && price <= r.Upper()
}
