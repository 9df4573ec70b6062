package reconcile

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/driftlabs/gridbot/internal/domain"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig() Config {
	return Config{
		GridLevels:             3,
		GridSpread:             0.001,
		PollingInterval:        30 * time.Second,
		BalanceChangeThreshold: 0.05,
	}
}

func desiredGrid(ref float64) []domain.GridOrder {
	return []domain.GridOrder{
		{Side: domain.OrderSideBuy, Level: 0, Price: ref * 0.999, Size: 1},
		{Side: domain.OrderSideBuy, Level: 1, Price: ref * 0.998, Size: 1},
		{Side: domain.OrderSideSell, Level: 0, Price: ref * 1.001, Size: 1},
		{Side: domain.OrderSideSell, Level: 1, Price: ref * 1.002, Size: 1},
	}
}

func liveFrom(desired []domain.GridOrder) []domain.LiveOrder {
	live := make([]domain.LiveOrder, len(desired))
	for i, o := range desired {
		live[i] = domain.LiveOrder{ID: string(rune('a' + i)), Side: o.Side, Price: o.Price, Size: o.Size}
	}
	return live
}

func TestReconcileInitialGridPlacesAll(t *testing.T) {
	r := New(testConfig(), testLogger())
	st := &GridState{}
	now := time.Now()

	acts := r.Reconcile(st, desiredGrid(100), nil, 100, domain.Balances{}, now)
	if len(acts.Place) != 4 || len(acts.Cancel) != 0 {
		t.Fatalf("got place=%d cancel=%d, want 4 and 0", len(acts.Place), len(acts.Cancel))
	}
	if st.Buy.AnchorPrice != 100 || st.Sell.AnchorPrice != 100 {
		t.Fatalf("anchors not recorded: %+v %+v", st.Buy, st.Sell)
	}
}

func TestReconcileMatchingLiveIsIdempotent(t *testing.T) {
	r := New(testConfig(), testLogger())
	st := &GridState{}
	now := time.Now()

	desired := desiredGrid(100)
	r.Reconcile(st, desired, nil, 100, domain.Balances{BaseTotal: 10, QuoteTotal: 1000}, now)

	// Orders landed; next cycle sees them live at identical prices.
	acts := r.Reconcile(st, desired, liveFrom(desired), 100, domain.Balances{BaseTotal: 10, QuoteTotal: 1000}, now.Add(30*time.Second))
	if !acts.Empty() {
		t.Fatalf("matching live grid must be a no-op, got %+v", acts)
	}
	if acts.Kept != 4 {
		t.Fatalf("kept = %d, want 4", acts.Kept)
	}
}

func TestReconcileCooldownBlocksSmallMoves(t *testing.T) {
	r := New(testConfig(), testLogger())
	st := &GridState{}
	now := time.Now()
	bal := domain.Balances{BaseTotal: 10, QuoteTotal: 1000}

	desired := desiredGrid(100)
	r.Reconcile(st, desired, nil, 100, bal, now)
	live := liveFrom(desired)

	// Reference moved well past spread/2 but the cooldown has not elapsed.
	moved := desiredGrid(101)
	acts := r.Reconcile(st, moved, live, 101, bal, now.Add(60*time.Second))
	if !acts.Empty() {
		t.Fatalf("update inside cooldown must be suppressed, got %+v", acts)
	}

	// After 3x the polling interval the same move goes through.
	acts = r.Reconcile(st, moved, live, 101, bal, now.Add(91*time.Second))
	if acts.Empty() {
		t.Fatalf("move past threshold after cooldown must trigger an update")
	}
}

func TestReconcileSmallMoveAfterCooldownStays(t *testing.T) {
	r := New(testConfig(), testLogger())
	st := &GridState{}
	now := time.Now()
	bal := domain.Balances{BaseTotal: 10, QuoteTotal: 1000}

	desired := desiredGrid(100)
	r.Reconcile(st, desired, nil, 100, bal, now)

	// 0.03% move is under half the 0.1% spread: desired prices stay within
	// the identity tolerance of the live ones, so nothing should churn.
	moved := desiredGrid(100.03)
	acts := r.Reconcile(st, moved, liveFrom(desired), 100.03, bal, now.Add(2*time.Hour))
	if !acts.Empty() {
		t.Fatalf("sub-threshold move must not update the grid, got %+v", acts)
	}
}

func TestReconcileCountMismatchBypassesCooldown(t *testing.T) {
	r := New(testConfig(), testLogger())
	st := &GridState{}
	now := time.Now()
	bal := domain.Balances{BaseTotal: 10, QuoteTotal: 1000}

	desired := desiredGrid(100)
	r.Reconcile(st, desired, nil, 100, bal, now)

	// One buy filled and vanished; the side must self-heal immediately.
	live := liveFrom(desired)[1:]
	acts := r.Reconcile(st, desired, live, 100, bal, now.Add(30*time.Second))
	if len(acts.Place) != 1 {
		t.Fatalf("got %d placements, want the missing buy replaced", len(acts.Place))
	}
	if acts.Place[0].Side != domain.OrderSideBuy {
		t.Fatalf("replaced order side = %v, want buy", acts.Place[0].Side)
	}
}

func TestReconcileBalanceChangeBypassesCooldown(t *testing.T) {
	r := New(testConfig(), testLogger())
	st := &GridState{}
	now := time.Now()

	desired := desiredGrid(100)
	r.Reconcile(st, desired, nil, 100, domain.Balances{BaseTotal: 10, QuoteTotal: 1000}, now)
	live := liveFrom(desired)

	// Quote balance jumped 10% (a deposit); grid re-evaluates right away
	// even though prices have not moved. Same grid means matches are kept,
	// but the trigger path must fire and refresh the anchor timestamp.
	before := st.Buy.LastUpdate
	r.Reconcile(st, desired, live, 100, domain.Balances{BaseTotal: 10, QuoteTotal: 1100}, now.Add(30*time.Second))
	if !st.Buy.LastUpdate.After(before) {
		t.Fatalf("balance change must re-evaluate the grid")
	}
}

func TestReconcileCancelAllOnGridUpdate(t *testing.T) {
	cfg := testConfig()
	cfg.CancelAllOnGridUpdate = true
	r := New(cfg, testLogger())
	st := &GridState{}
	now := time.Now()
	bal := domain.Balances{BaseTotal: 10, QuoteTotal: 1000}

	desired := desiredGrid(100)
	r.Reconcile(st, desired, nil, 100, bal, now)
	live := liveFrom(desired)

	moved := desiredGrid(102)
	acts := r.Reconcile(st, moved, live, 102, bal, now.Add(5*time.Minute))
	if len(acts.Cancel) != 4 || len(acts.Place) != 4 {
		t.Fatalf("cancel-all mode: got cancel=%d place=%d, want full replacement", len(acts.Cancel), len(acts.Place))
	}
}

func TestReconcileStrictGridCountCancelsOutermost(t *testing.T) {
	cfg := testConfig()
	cfg.GridLevels = 2
	cfg.StrictGridCount = true
	r := New(cfg, testLogger())
	st := &GridState{
		Buy:  SideState{AnchorPrice: 100, LastUpdate: time.Now()},
		Sell: SideState{AnchorPrice: 100, LastUpdate: time.Now()},
	}

	// Three live buys against a 2-level budget and a count-matching desired
	// grid of three: the furthest from the reference gets cancelled.
	live := []domain.LiveOrder{
		{ID: "near", Side: domain.OrderSideBuy, Price: 99.9},
		{ID: "mid", Side: domain.OrderSideBuy, Price: 99.8},
		{ID: "far", Side: domain.OrderSideBuy, Price: 99.0},
	}
	desired := []domain.GridOrder{
		{Side: domain.OrderSideBuy, Price: 99.9, Size: 1},
		{Side: domain.OrderSideBuy, Price: 99.8, Size: 1},
		{Side: domain.OrderSideBuy, Price: 99.0, Size: 1},
	}
	bal := domain.Balances{BaseTotal: 10, QuoteTotal: 1000}
	st.LastBalances = bal
	st.HasBalances = true

	acts := r.Reconcile(st, desired, live, 100, bal, time.Now())
	foundFar := false
	for _, c := range acts.Cancel {
		if c.ID == "far" {
			foundFar = true
		}
	}
	if !foundFar {
		t.Fatalf("outermost order must be cancelled, got %+v", acts.Cancel)
	}
}

func TestSamePriceTolerance(t *testing.T) {
	if !samePrice(100.05, 100.0) {
		t.Fatalf("0.05%% apart must match")
	}
	if samePrice(100.2, 100.0) {
		t.Fatalf("0.2%% apart must not match")
	}
	if !samePrice(0, 0) {
		t.Fatalf("two zeros must match")
	}
}

func TestBalanceChangedThreshold(t *testing.T) {
	st := &GridState{
		LastBalances: domain.Balances{BaseTotal: 100, QuoteTotal: 1000},
		HasBalances:  true,
	}
	if st.balanceChanged(domain.Balances{BaseTotal: 102, QuoteTotal: 1000}, 0.05) {
		t.Fatalf("2%% move under a 5%% threshold must not count")
	}
	if !st.balanceChanged(domain.Balances{BaseTotal: 106, QuoteTotal: 1000}, 0.05) {
		t.Fatalf("6%% move must count")
	}
	if (&GridState{}).balanceChanged(domain.Balances{BaseTotal: 1}, 0.05) {
		t.Fatalf("no prior observation means no change")
	}
}
