package grid

import (
	"math"
	"testing"

	"github.com/driftlabs/gridbot/internal/domain"
	"github.com/driftlabs/gridbot/internal/inventory"
)

func neutral() inventory.Multipliers { return inventory.Multipliers{Buy: 1, Sell: 1} }

func ampleBalances() domain.Balances {
	return domain.Balances{BaseFree: 1000, BaseTotal: 1000, QuoteFree: 1e6, QuoteTotal: 1e6}
}

func params(ref float64) Params {
	return Params{
		BuyReference:  ref,
		SellReference: ref,
		Levels:        3,
		Spread:        0.0005,
		MinOrderSize:  1,
		Multipliers:   neutral(),
		Balances:      ampleBalances(),
	}
}

func sides(orders []domain.GridOrder) (buys, sells []domain.GridOrder) {
	for _, o := range orders {
		if o.Side == domain.OrderSideBuy {
			buys = append(buys, o)
		} else {
			sells = append(sells, o)
		}
	}
	return buys, sells
}

func TestGeneratePrices(t *testing.T) {
	buys, sells := sides(Generate(params(100)))

	wantBuys := []float64{99.95, 99.90, 99.85}
	wantSells := []float64{100.05, 100.10, 100.15}
	if len(buys) != 3 || len(sells) != 3 {
		t.Fatalf("got %d buys, %d sells", len(buys), len(sells))
	}
	for i := range wantBuys {
		if math.Abs(buys[i].Price-wantBuys[i]) > 1e-9 {
			t.Errorf("buy[%d] = %v, want %v", i, buys[i].Price, wantBuys[i])
		}
		if math.Abs(sells[i].Price-wantSells[i]) > 1e-9 {
			t.Errorf("sell[%d] = %v, want %v", i, sells[i].Price, wantSells[i])
		}
	}
	for _, b := range buys {
		if b.Price >= 100 {
			t.Errorf("buy at %v not below reference", b.Price)
		}
	}
	for _, s := range sells {
		if s.Price <= 100 {
			t.Errorf("sell at %v not above reference", s.Price)
		}
	}
}

func TestGenerateSplitReferences(t *testing.T) {
	p := params(0)
	p.BuyReference = 99
	p.SellReference = 101
	buys, sells := sides(Generate(p))
	if buys[0].Price >= 99 {
		t.Fatalf("innermost buy %v must be below buy reference", buys[0].Price)
	}
	if sells[0].Price <= 101 {
		t.Fatalf("innermost sell %v must be above sell reference", sells[0].Price)
	}
}

func TestGenerateZeroReferenceDisablesSide(t *testing.T) {
	p := params(100)
	p.SellReference = 0
	buys, sells := sides(Generate(p))
	if len(buys) != 3 || len(sells) != 0 {
		t.Fatalf("got %d buys, %d sells; want 3 and 0", len(buys), len(sells))
	}
}

func TestGenerateDampedSideUnderMinimumDrops(t *testing.T) {
	p := params(100)
	p.Multipliers = inventory.Multipliers{Buy: 0.8, Sell: 1.2}
	buys, sells := sides(Generate(p))
	if len(buys) != 0 {
		t.Fatalf("buy side sized under minimum must be absent, got %d", len(buys))
	}
	if len(sells) != 3 {
		t.Fatalf("boosted sell side = %d orders, want 3", len(sells))
	}
	for _, s := range sells {
		if math.Abs(s.Size-1.2) > 1e-9 {
			t.Errorf("sell size = %v, want 1.2", s.Size)
		}
	}
}

func TestGenerateQuoteCapDropsOutermostBuys(t *testing.T) {
	p := params(100)
	// Two levels cost just under 200 with the fee buffer; three do not.
	p.Balances.QuoteFree = 99.95*1.002 + 99.90*1.002 + 0.01
	buys, _ := sides(Generate(p))
	if len(buys) != 2 {
		t.Fatalf("got %d buys, want outermost dropped leaving 2", len(buys))
	}
	if buys[0].Price <= buys[1].Price {
		t.Fatalf("innermost buys must survive: %+v", buys)
	}
}

func TestGenerateFeeBufferCounts(t *testing.T) {
	p := params(100)
	p.Levels = 1
	// Raw cost 99.95 fits, but not with the fee buffer applied.
	p.Balances.QuoteFree = 99.96
	buys, _ := sides(Generate(p))
	if len(buys) != 0 {
		t.Fatalf("buy must be dropped when fees would overdraw, got %d", len(buys))
	}
}

func TestGenerateBaseCapDropsOutermostSells(t *testing.T) {
	p := params(100)
	p.Balances.BaseFree = 2.5
	_, sells := sides(Generate(p))
	if len(sells) != 2 {
		t.Fatalf("got %d sells, want 2 within base balance", len(sells))
	}
}

func TestGeneratePositionCap(t *testing.T) {
	p := params(100)
	p.MaxPosition = 2
	p.Balances.BaseTotal = 0.5
	buys, _ := sides(Generate(p))
	// 0.5 held + 1 committed fits under 2; the second level would hit 2.5.
	if len(buys) != 1 {
		t.Fatalf("got %d buys, want 1 under the position cap", len(buys))
	}
}

func TestGeneratePositionCapDisabled(t *testing.T) {
	p := params(100)
	p.MaxPosition = 0
	buys, _ := sides(Generate(p))
	if len(buys) != 3 {
		t.Fatalf("cap disabled must keep all buys, got %d", len(buys))
	}
}

func TestSyntheticRefsBalanced(t *testing.T) {
	st := inventory.State{CurrentRatio: 0.5, TargetRatio: 0.5, Tolerance: 0.15}
	buy, sell := SyntheticRefs(10, st)
	if math.Abs(buy-9.99) > 1e-9 || math.Abs(sell-10.01) > 1e-9 {
		t.Fatalf("got buy %v sell %v, want 9.99 and 10.01", buy, sell)
	}
}

func TestSyntheticRefsOverweightBase(t *testing.T) {
	st := inventory.State{CurrentRatio: 0.8, TargetRatio: 0.5, Tolerance: 0.15}
	buy, sell := SyntheticRefs(10, st)
	if math.Abs(buy-9.98) > 1e-9 {
		t.Fatalf("buy ref = %v, want pushed down to 9.98", buy)
	}
	if math.Abs(sell-10.01) > 1e-9 {
		t.Fatalf("sell ref = %v, want 10.01", sell)
	}
}

func TestSyntheticRefsUnderweightBase(t *testing.T) {
	st := inventory.State{CurrentRatio: 0.2, TargetRatio: 0.5, Tolerance: 0.15}
	buy, sell := SyntheticRefs(10, st)
	if math.Abs(sell-10.02) > 1e-9 {
		t.Fatalf("sell ref = %v, want pushed up to 10.02", sell)
	}
	if math.Abs(buy-9.99) > 1e-9 {
		t.Fatalf("buy ref = %v, want 9.99", buy)
	}
}
