package domain

import (
	"strings"
	"time"
)

type OptionType string

const (
	OptionCall OptionType = "CE"
	OptionPut  OptionType = "PE"
)

// Opposite returns the other option type. Unknown types map to themselves.
func (t OptionType) Opposite() OptionType {
	switch t {
	case OptionCall:
		return OptionPut
	case OptionPut:
		return OptionCall
	}
	return t
}

// OptionTypeOf derives the option type from a trading symbol suffix,
// e.g. "NIFTY24O1724500CE" -> CE. Returns "" for anything else.
func OptionTypeOf(symbol string) OptionType {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	switch {
	case strings.HasSuffix(s, string(OptionCall)):
		return OptionCall
	case strings.HasSuffix(s, string(OptionPut)):
		return OptionPut
	}
	return ""
}

// Tick is a single last-traded-price update. Ticks arrive in unordered
// batches and are never kept past the processing pass.
type Tick struct {
	Token     uint32    `json:"instrument_token"`
	Symbol    string    `json:"tradingsymbol"`
	LastPrice float64   `json:"last_price"`
	Timestamp time.Time `json:"timestamp"`
}

type LegRole string

const (
	RoleNone     LegRole = ""
	RoleMain     LegRole = "main"
	RoleOpposite LegRole = "opposite"
	RoleBuyBack  LegRole = "buyback"
)

// Unset marks BuyPrice / SellPrice values that have not been recorded.
const Unset = -1.0

// InstrumentRecord tracks one instrument for the duration of a cycle.
// Checkpoint flags are monotonic: they can only be set through the Mark*
// methods, in order, and are only cleared by recreating the record.
type InstrumentRecord struct {
	Token  uint32     `json:"token"`
	Symbol string     `json:"symbol"`
	Type   OptionType `json:"type"`

	FirstPrice     float64   `json:"first_price"`
	Last           float64   `json:"last"`
	Peak           float64   `json:"peak"`
	PrevPeak       float64   `json:"prev_peak"`
	PeakAtRef      float64   `json:"peak_at_ref"`
	PeakTime       time.Time `json:"peak_time"`
	LowAtRef       float64   `json:"low_at_ref"`
	ChangeFromOpen float64   `json:"change_from_open"`
	ChangeFromBuy  float64   `json:"change_from_buy"`
	CalcRef        float64   `json:"calc_ref"`
	PrevCalcRef    float64   `json:"prev_calc_ref"`

	BuyPrice  float64 `json:"buy_price"`
	SellPrice float64 `json:"sell_price"`
	Role      LegRole `json:"role,omitempty"`

	PassedThresholdCross bool `json:"passed_threshold_cross"`
	PassedPeakAndFall    bool `json:"passed_peak_and_fall"`
	PassedCalcRef        bool `json:"passed_calc_ref"`
	PassedInterimLow     bool `json:"passed_interim_low"`
}

// NewInstrumentRecord starts tracking an instrument at its first observed price.
func NewInstrumentRecord(token uint32, symbol string, price float64, ts time.Time) *InstrumentRecord {
	return &InstrumentRecord{
		Token:      token,
		Symbol:     symbol,
		Type:       OptionTypeOf(symbol),
		FirstPrice: price,
		Last:       price,
		Peak:       price,
		PrevPeak:   price,
		PeakTime:   ts,
		BuyPrice:   Unset,
		SellPrice:  Unset,
	}
}

// Observe records a new last price and refreshes the derived changes.
func (r *InstrumentRecord) Observe(price float64) {
	if price <= 0 {
		return
	}
	r.Last = price
	r.ChangeFromOpen = price - r.FirstPrice
	if r.Bought() && !r.Sold() {
		r.ChangeFromBuy = price - r.BuyPrice
	}
}

func (r *InstrumentRecord) Bought() bool { return r.BuyPrice != Unset }
func (r *InstrumentRecord) Sold() bool   { return r.SellPrice != Unset }

// Open reports whether the instrument is currently held.
func (r *InstrumentRecord) Open() bool { return r.Bought() && !r.Sold() }

// Realized is the closed P&L in points, zero while the leg is open.
func (r *InstrumentRecord) Realized() float64 {
	if !r.Bought() || !r.Sold() {
		return 0
	}
	return r.SellPrice - r.BuyPrice
}

func (r *InstrumentRecord) MarkThresholdCross() bool {
	if r.PassedThresholdCross {
		return false
	}
	r.PassedThresholdCross = true
	return true
}

func (r *InstrumentRecord) MarkPeakAndFall() bool {
	if r.PassedPeakAndFall || !r.PassedThresholdCross {
		return false
	}
	r.PassedPeakAndFall = true
	r.PeakAtRef = r.Peak
	return true
}

func (r *InstrumentRecord) MarkCalcRef() bool {
	if r.PassedCalcRef || !r.PassedPeakAndFall {
		return false
	}
	r.PassedCalcRef = true
	return true
}

func (r *InstrumentRecord) MarkInterimLow() bool {
	if r.PassedInterimLow || !r.PassedCalcRef {
		return false
	}
	r.PassedInterimLow = true
	return true
}

// CheckpointsConsistent reports whether the checkpoint chain holds:
// interim-low => calc-ref => peak-and-fall => threshold-cross.
func (r *InstrumentRecord) CheckpointsConsistent() bool {
	if r.PassedInterimLow && !r.PassedCalcRef {
		return false
	}
	if r.PassedCalcRef && !r.PassedPeakAndFall {
		return false
	}
	if r.PassedPeakAndFall && !r.PassedThresholdCross {
		return false
	}
	return true
}
