// Package inventory computes the bot's inventory state and the per-side
// sizing multipliers that steer it back toward the target ratio.
package inventory

import (
	"math"

	"github.com/driftlabs/gridbot/internal/domain"
)

const (
	// Multiplier clamps. The boost side grows by at most maxBoost above 1;
	// the dampened side never drops below minDamp, so the correcting side
	// keeps quoting unless its sized orders fall under the exchange minimum.
	maxBoost = 0.5
	minDamp  = 0.5
)

// State is the inventory position derived fresh each cycle, valued in
// quote-currency terms.
type State struct {
	BaseValue    float64
	QuoteValue   float64
	CurrentRatio float64
	TargetRatio  float64
	Tolerance    float64
}

// Deviation is the signed distance from target: positive when overweight
// base, negative when underweight.
func (s State) Deviation() float64 {
	return s.CurrentRatio - s.TargetRatio
}

// WithinTolerance reports whether no correction is needed.
func (s State) WithinTolerance() bool {
	return math.Abs(s.Deviation()) <= s.Tolerance
}

// Multipliers scale the grid's base order size per side.
type Multipliers struct {
	Buy  float64
	Sell float64
}

// Plan computes the inventory state and sizing multipliers. price values
// the base holdings; when the total portfolio value is zero the ratio is
// pinned to the target so no correction is attempted against nothing.
//
// The correction is linear in the deviation and clamped: the side that
// reduces the imbalance gets 1+min(|dev|, 0.5), the other side gets
// max(0.5, 1-|dev|). Larger deviation always means a stronger correction.
func Plan(balances domain.Balances, price, targetRatio, tolerance float64) (State, Multipliers) {
	st := State{
		BaseValue:   balances.BaseTotal * price,
		QuoteValue:  balances.QuoteTotal,
		TargetRatio: targetRatio,
		Tolerance:   tolerance,
	}

	total := st.BaseValue + st.QuoteValue
	if total <= 0 || price <= 0 {
		st.CurrentRatio = targetRatio
	} else {
		st.CurrentRatio = st.BaseValue / total
	}

	if st.WithinTolerance() {
		return st, Multipliers{Buy: 1, Sell: 1}
	}

	excess := math.Abs(st.Deviation())
	boost := 1 + math.Min(excess, maxBoost)
	damp := math.Max(minDamp, 1-excess)

	if st.Deviation() > 0 {
		// Overweight base: sell harder, buy less.
		return st, Multipliers{Buy: damp, Sell: boost}
	}
	// Underweight base: buy harder, sell less.
	return st, Multipliers{Buy: boost, Sell: damp}
}
