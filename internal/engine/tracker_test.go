package engine

import (
	"context"
	"testing"
	"time"

	"github.com/driftlabs/gridbot/internal/domain"
)

func TestTrackerSettlesVanishedOrderAsFill(t *testing.T) {
	exch := newFakeExchange()
	tr := NewTracker(exch, nil, nil, time.Minute, testLogger())

	order := domain.LiveOrder{ID: "o1", Symbol: "ATOM/USDT", Side: domain.OrderSideBuy, Price: 99.9, Size: 1}
	tr.Track(order)
	exch.finals["o1"] = domain.LiveOrder{ID: "o1", Filled: 1, Status: domain.OrderStatusFilled}

	var settled []domain.Trade
	tr.OnFill = func(trade domain.Trade) { settled = append(settled, trade) }

	now := time.Now()
	ctx := context.Background()

	// Still open: nothing settles.
	tr.Sync(ctx, []domain.LiveOrder{order}, now)
	if tr.OpenCount() != 1 || len(settled) != 0 {
		t.Fatalf("open order must stay tracked, got open=%d settled=%d", tr.OpenCount(), len(settled))
	}

	// Vanished: enters the settlement window, not yet final.
	tr.Sync(ctx, nil, now.Add(time.Second))
	if tr.OpenCount() != 0 {
		t.Fatalf("vanished order still counted open")
	}
	if len(settled) != 0 {
		t.Fatalf("settlement fired before the window expired")
	}

	// Window expired: final fill fetched and reported.
	tr.Sync(ctx, nil, now.Add(time.Second+time.Minute))
	if len(settled) != 1 {
		t.Fatalf("got %d settled trades, want 1", len(settled))
	}
	got := settled[0]
	if got.OrderID != "o1" || got.Quantity != 1 || got.Side != domain.OrderSideBuy {
		t.Fatalf("trade = %+v", got)
	}
}

func TestTrackerReappearedOrderLeavesWindow(t *testing.T) {
	exch := newFakeExchange()
	tr := NewTracker(exch, nil, nil, time.Minute, testLogger())

	order := domain.LiveOrder{ID: "o1", Side: domain.OrderSideBuy, Price: 99.9, Size: 1}
	tr.Track(order)

	var settled int
	tr.OnFill = func(domain.Trade) { settled++ }

	now := time.Now()
	ctx := context.Background()

	tr.Sync(ctx, nil, now)                                          // vanishes
	tr.Sync(ctx, []domain.LiveOrder{order}, now.Add(2*time.Second)) // poll raced, it is back
	tr.Sync(ctx, []domain.LiveOrder{order}, now.Add(2*time.Minute))
	if settled != 0 {
		t.Fatalf("reappeared order must not settle")
	}
	if tr.OpenCount() != 1 {
		t.Fatalf("open = %d, want 1", tr.OpenCount())
	}
}

func TestTrackerPurgedOrderKeepsLastKnownFill(t *testing.T) {
	exch := newFakeExchange()
	tr := NewTracker(exch, nil, nil, time.Minute, testLogger())

	// Partially filled, then the exchange forgets it entirely.
	order := domain.LiveOrder{ID: "o1", Side: domain.OrderSideSell, Price: 100.1, Size: 2, Filled: 0.7}
	tr.Track(order)

	var settled []domain.Trade
	tr.OnFill = func(trade domain.Trade) { settled = append(settled, trade) }

	now := time.Now()
	ctx := context.Background()
	tr.Sync(ctx, nil, now)
	tr.Sync(ctx, nil, now.Add(2*time.Minute))

	if len(settled) != 1 {
		t.Fatalf("got %d trades, want 1 from the last known fill", len(settled))
	}
	if settled[0].Quantity != 0.7 {
		t.Fatalf("quantity = %v, want last known 0.7", settled[0].Quantity)
	}
}

func TestTrackerUnfilledOrderSettlesSilently(t *testing.T) {
	exch := newFakeExchange()
	tr := NewTracker(exch, nil, nil, time.Minute, testLogger())

	tr.Track(domain.LiveOrder{ID: "o1", Side: domain.OrderSideBuy, Price: 99.9, Size: 1})
	exch.finals["o1"] = domain.LiveOrder{ID: "o1", Status: domain.OrderStatusCancelled}

	var settled int
	tr.OnFill = func(domain.Trade) { settled++ }

	now := time.Now()
	ctx := context.Background()
	tr.Sync(ctx, nil, now)
	tr.Sync(ctx, nil, now.Add(2*time.Minute))
	if settled != 0 {
		t.Fatalf("cancelled order with no fill must not produce a trade")
	}
}

func TestTrackerAllIDsCoversSettlingOrders(t *testing.T) {
	exch := newFakeExchange()
	tr := NewTracker(exch, nil, nil, time.Minute, testLogger())

	tr.Track(domain.LiveOrder{ID: "open1"})
	tr.Track(domain.LiveOrder{ID: "gone1"})
	tr.Sync(context.Background(), []domain.LiveOrder{{ID: "open1"}}, time.Now())

	ids := tr.AllIDs()
	if len(ids) != 2 {
		t.Fatalf("ids = %v, want both open and settling", ids)
	}
}
