package inventory

import (
	"math"
	"testing"

	"github.com/driftlabs/gridbot/internal/domain"
)

func balancesFor(ratio float64) domain.Balances {
	// At price 1 a total portfolio of 100 makes the ratio direct.
	return domain.Balances{BaseTotal: ratio * 100, QuoteTotal: (1 - ratio) * 100}
}

func TestPlanWithinTolerance(t *testing.T) {
	st, m := Plan(balancesFor(0.6), 1, 0.5, 0.15)
	if !st.WithinTolerance() {
		t.Fatalf("deviation %v should be within tolerance 0.15", st.Deviation())
	}
	if m.Buy != 1 || m.Sell != 1 {
		t.Fatalf("multipliers = %+v, want neutral", m)
	}
}

func TestPlanOverweightBaseSellsHarder(t *testing.T) {
	st, m := Plan(balancesFor(0.7), 1, 0.5, 0.15)
	if st.WithinTolerance() {
		t.Fatalf("deviation %v should exceed tolerance", st.Deviation())
	}
	if m.Sell <= 1 {
		t.Fatalf("sell multiplier = %v, want > 1", m.Sell)
	}
	if m.Buy >= 1 {
		t.Fatalf("buy multiplier = %v, want < 1", m.Buy)
	}
	if math.Abs(m.Sell-1.2) > 1e-9 || math.Abs(m.Buy-0.8) > 1e-9 {
		t.Fatalf("multipliers = %+v, want {Buy:0.8 Sell:1.2}", m)
	}
}

func TestPlanUnderweightBaseBuysHarder(t *testing.T) {
	_, m := Plan(balancesFor(0.3), 1, 0.5, 0.15)
	if m.Buy <= 1 || m.Sell >= 1 {
		t.Fatalf("multipliers = %+v, want buy boosted and sell dampened", m)
	}
}

func TestPlanCorrectionScalesWithDeviation(t *testing.T) {
	_, small := Plan(balancesFor(0.7), 1, 0.5, 0.15)
	_, large := Plan(balancesFor(0.9), 1, 0.5, 0.15)
	if large.Sell <= small.Sell {
		t.Fatalf("larger deviation must sell harder: %v vs %v", large.Sell, small.Sell)
	}
	if large.Buy >= small.Buy {
		t.Fatalf("larger deviation must buy less: %v vs %v", large.Buy, small.Buy)
	}
}

func TestPlanClamps(t *testing.T) {
	// Ratio 1.0 against target 0 is a deviation of 1, beyond both clamps.
	_, m := Plan(domain.Balances{BaseTotal: 100}, 1, 0, 0.05)
	if m.Sell != 1.5 {
		t.Fatalf("sell multiplier = %v, want clamp at 1.5", m.Sell)
	}
	if m.Buy != 0.5 {
		t.Fatalf("buy multiplier = %v, want clamp at 0.5", m.Buy)
	}
}

func TestPlanEmptyPortfolioPinsRatio(t *testing.T) {
	st, m := Plan(domain.Balances{}, 10, 0.5, 0.15)
	if st.CurrentRatio != 0.5 {
		t.Fatalf("ratio = %v, want pinned to target", st.CurrentRatio)
	}
	if m.Buy != 1 || m.Sell != 1 {
		t.Fatalf("multipliers = %+v, want neutral", m)
	}
}

func TestPlanZeroPricePinsRatio(t *testing.T) {
	st, _ := Plan(domain.Balances{BaseTotal: 50, QuoteTotal: 50}, 0, 0.4, 0.1)
	if st.CurrentRatio != 0.4 {
		t.Fatalf("ratio = %v, want pinned to target with no price", st.CurrentRatio)
	}
}
