package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/driftlabs/gridbot/internal/domain"
	"github.com/driftlabs/gridbot/internal/reconcile"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeExchange is a scripted in-memory exchange for engine tests.
type fakeExchange struct {
	mu       sync.Mutex
	ticker   domain.Ticker
	book     domain.OrderBook
	balances domain.Balances
	trades   []domain.TradeTick

	open   map[string]domain.LiveOrder
	finals map[string]domain.LiveOrder
	nextID int

	tickerErr   error
	cancelErr   map[string]error
	stuckOpen   []domain.LiveOrder
	cancelCalls int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		ticker:   domain.Ticker{Bid: 99.9, Ask: 100.1, Last: 100, VWAP: 100},
		book: domain.OrderBook{
			Bids: []domain.PriceLevel{{Price: 99.95, Size: 5}},
			Asks: []domain.PriceLevel{{Price: 100.05, Size: 5}},
		},
		balances: domain.Balances{BaseFree: 100, BaseTotal: 100, QuoteFree: 10000, QuoteTotal: 10000},
		open:     make(map[string]domain.LiveOrder),
		finals:   make(map[string]domain.LiveOrder),
	}
}

func (f *fakeExchange) FetchTicker(ctx context.Context) (domain.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tickerErr != nil {
		return domain.Ticker{}, f.tickerErr
	}
	return f.ticker, nil
}

func (f *fakeExchange) FetchOrderBook(ctx context.Context, depth int) (domain.OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.book, nil
}

func (f *fakeExchange) FetchOpenOrders(ctx context.Context) ([]domain.LiveOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stuckOpen != nil {
		return f.stuckOpen, nil
	}
	out := make([]domain.LiveOrder, 0, len(f.open))
	for _, o := range f.open {
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeExchange) FetchBalance(ctx context.Context) (domain.Balances, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances, nil
}

func (f *fakeExchange) FetchTrades(ctx context.Context, lookback time.Duration) ([]domain.TradeTick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trades, nil
}

func (f *fakeExchange) CreateOrder(ctx context.Context, side domain.OrderSide, price, size float64) (domain.LiveOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	o := domain.LiveOrder{
		ID:        fmt.Sprintf("ord-%d", f.nextID),
		Symbol:    "ATOM/USDT",
		Side:      side,
		Price:     price,
		Size:      size,
		Status:    domain.OrderStatusOpen,
		CreatedAt: time.Now().UTC(),
	}
	f.open[o.ID] = o
	return o, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	if err := f.cancelErr[id]; err != nil {
		return err
	}
	if _, ok := f.open[id]; !ok {
		return domain.ErrOrderNotFound
	}
	delete(f.open, id)
	return nil
}

func (f *fakeExchange) FetchOrder(ctx context.Context, id string) (domain.LiveOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.finals[id]; ok {
		return o, nil
	}
	if o, ok := f.open[id]; ok {
		return o, nil
	}
	return domain.LiveOrder{}, domain.ErrOrderNotFound
}

var _ domain.ExchangeClient = (*fakeExchange)(nil)

func testEngineConfig() Config {
	return Config{
		Symbol:                 "ATOM/USDT",
		GridLevels:             2,
		GridSpread:             0.001,
		MinOrderSize:           1,
		PollingInterval:        30 * time.Second,
		TargetInventoryRatio:   0.5,
		InventoryTolerance:     0.15,
		MaxOrderbookDeviation:  0.1,
		OutlierFilterReference: domain.PriceSourceVWAP,
		OutOfRangeFallback:     true,
		OutOfRangePriceMode:    domain.PriceSourceAuto,
		OrderbookDepth:         20,
		SettlementTimeout:      time.Minute,
		UnreachableRetryBudget: 3,
		ShutdownTimeout:        5 * time.Second,
		BalanceChangeThreshold: 0.05,
	}
}

func newTestEngine(exch domain.ExchangeClient, cfg Config) *Engine {
	tracker := NewTracker(exch, nil, nil, cfg.SettlementTimeout, testLogger())
	return New(cfg, exch, tracker, nil, nil, nil, nil, testLogger())
}

func TestCyclePlacesInitialGrid(t *testing.T) {
	exch := newFakeExchange()
	eng := newTestEngine(exch, testEngineConfig())

	if err := eng.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if len(exch.open) != 4 {
		t.Fatalf("got %d open orders, want 4", len(exch.open))
	}
	buys, sells := 0, 0
	for _, o := range exch.open {
		switch o.Side {
		case domain.OrderSideBuy:
			buys++
			if o.Price >= 100 {
				t.Errorf("buy at %v not below mid", o.Price)
			}
		case domain.OrderSideSell:
			sells++
			if o.Price <= 100 {
				t.Errorf("sell at %v not above mid", o.Price)
			}
		}
	}
	if buys != 2 || sells != 2 {
		t.Fatalf("got %d buys, %d sells", buys, sells)
	}
	if eng.tracker.OpenCount() != 4 {
		t.Fatalf("tracker open = %d, want 4", eng.tracker.OpenCount())
	}
}

func TestCycleIsStableAcrossPolls(t *testing.T) {
	exch := newFakeExchange()
	eng := newTestEngine(exch, testEngineConfig())
	ctx := context.Background()

	if err := eng.cycle(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	placedAfterFirst := exch.nextID

	// Market unchanged: the second cycle must neither place nor cancel.
	if err := eng.cycle(ctx); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if exch.nextID != placedAfterFirst {
		t.Fatalf("second cycle placed %d new orders", exch.nextID-placedAfterFirst)
	}
	if len(exch.open) != 4 {
		t.Fatalf("got %d open orders after second cycle, want 4", len(exch.open))
	}
}

func TestCycleSkipsWithoutReferencePrice(t *testing.T) {
	exch := newFakeExchange()
	exch.ticker = domain.Ticker{}
	exch.book = domain.OrderBook{}
	eng := newTestEngine(exch, testEngineConfig())

	if err := eng.cycle(context.Background()); err != nil {
		t.Fatalf("priceless cycle must be skipped, not failed: %v", err)
	}
	if len(exch.open) != 0 {
		t.Fatalf("no orders may be placed without a reference price")
	}
}

func TestExecuteFailedCancelGoesPending(t *testing.T) {
	exch := newFakeExchange()
	eng := newTestEngine(exch, testEngineConfig())
	ctx := context.Background()

	stuck, _ := exch.CreateOrder(ctx, domain.OrderSideBuy, 99.9, 1)
	exch.cancelErr = map[string]error{stuck.ID: domain.ErrExchangeUnreachable}
	eng.tracker.Track(stuck)

	_, cancelled := eng.execute(ctx, reconcile.Actions{Cancel: []domain.LiveOrder{stuck}})
	if cancelled != 0 {
		t.Fatalf("cancelled = %d, want 0", cancelled)
	}
	if len(eng.state.PendingCancels) != 1 || eng.state.PendingCancels[0] != stuck.ID {
		t.Fatalf("pending cancels = %v, want [%s]", eng.state.PendingCancels, stuck.ID)
	}

	// The exchange recovers; the retry clears the backlog.
	exch.cancelErr = nil
	eng.retryPendingCancels(ctx)
	if len(eng.state.PendingCancels) != 0 {
		t.Fatalf("pending cancels not cleared: %v", eng.state.PendingCancels)
	}
	if _, ok := exch.open[stuck.ID]; ok {
		t.Fatalf("order %s still open after retry", stuck.ID)
	}
	if eng.tracker.OpenCount() != 0 {
		t.Fatalf("tracker still holds the cancelled order")
	}
}

func TestExecuteCancelNotFoundCountsAsCancelled(t *testing.T) {
	exch := newFakeExchange()
	eng := newTestEngine(exch, testEngineConfig())

	ghost := domain.LiveOrder{ID: "gone", Side: domain.OrderSideBuy, Price: 99.9, Size: 1}
	_, cancelled := eng.execute(context.Background(), reconcile.Actions{Cancel: []domain.LiveOrder{ghost}})
	if cancelled != 1 {
		t.Fatalf("cancelled = %d, want 1 for an already-gone order", cancelled)
	}
	if len(eng.state.PendingCancels) != 0 {
		t.Fatalf("already-gone order must not be retried")
	}
}

func TestShutdownCancelsAllOrders(t *testing.T) {
	exch := newFakeExchange()
	eng := newTestEngine(exch, testEngineConfig())
	ctx := context.Background()

	exch.CreateOrder(ctx, domain.OrderSideBuy, 99.9, 1)
	exch.CreateOrder(ctx, domain.OrderSideSell, 100.1, 1)

	if err := eng.shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if len(exch.open) != 0 {
		t.Fatalf("%d orders still open after shutdown", len(exch.open))
	}
}

func TestShutdownReportsIncompleteOnStuckOrders(t *testing.T) {
	exch := newFakeExchange()
	// The exchange keeps reporting one resting order no matter what.
	exch.stuckOpen = []domain.LiveOrder{{ID: "stuck", Side: domain.OrderSideBuy, Price: 99.9, Size: 1}}
	exch.cancelErr = map[string]error{"stuck": domain.ErrExchangeUnreachable}

	cfg := testEngineConfig()
	cfg.ShutdownTimeout = 150 * time.Millisecond
	eng := newTestEngine(exch, cfg)

	if err := eng.shutdown(); !errors.Is(err, ErrShutdownIncomplete) {
		t.Fatalf("err = %v, want ErrShutdownIncomplete", err)
	}
}

func TestRunShutsDownCleanlyOnCancel(t *testing.T) {
	exch := newFakeExchange()
	eng := newTestEngine(exch, testEngineConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := eng.Run(ctx); err != nil {
		t.Fatalf("Run after cancel: %v", err)
	}
}

func TestRunStopsAfterRetryBudget(t *testing.T) {
	exch := newFakeExchange()
	// A non-transient fetch error fails the cycle without retry sleeps.
	exch.tickerErr = errors.New("api key revoked")

	cfg := testEngineConfig()
	cfg.UnreachableRetryBudget = 1
	eng := newTestEngine(exch, cfg)

	err := eng.Run(context.Background())
	if err == nil {
		t.Fatalf("exhausted retry budget must stop the engine")
	}
	if errors.Is(err, ErrShutdownIncomplete) {
		t.Fatalf("shutdown with no orders must not be the failure: %v", err)
	}
}
