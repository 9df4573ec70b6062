// Package engine runs the trading loop: fetch market state, compute the
// desired grid, reconcile it against live orders, execute, sleep, repeat.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/driftlabs/gridbot/internal/domain"
	"github.com/driftlabs/gridbot/internal/grid"
	"github.com/driftlabs/gridbot/internal/inventory"
	"github.com/driftlabs/gridbot/internal/pricing"
	"github.com/driftlabs/gridbot/internal/reconcile"
)

// ErrShutdownIncomplete is returned when the shutdown cancel-all could not
// confirm every order cancelled before the shutdown timeout.
var ErrShutdownIncomplete = errors.New("engine: shutdown left orders uncancelled")

// tradeLookback bounds the public-trade window fetched for VWAP when the
// ticker does not report one.
const tradeLookback = 30 * time.Minute

// Phase names the engine's position in its cycle, for logging.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseFetching    Phase = "fetching"
	PhaseComputing   Phase = "computing"
	PhaseReconciling Phase = "reconciling"
	PhaseSleeping    Phase = "sleeping"
	PhaseCancelling  Phase = "cancelling"
)

// Config is the engine's slice of the bot configuration.
type Config struct {
	Symbol                 string
	GridLevels             int
	GridSpread             float64
	MinOrderSize           float64
	MaxPosition            float64
	PollingInterval        time.Duration
	TargetInventoryRatio   float64
	InventoryTolerance     float64
	MaxOrderbookDeviation  float64
	OutlierFilterReference domain.PriceSource
	OutOfRangeFallback     bool
	OutOfRangePriceMode    domain.PriceSource
	StrictGridCount        bool
	CancelAllOnGridUpdate  bool
	OrderbookDepth         int
	SettlementTimeout      time.Duration
	UnreachableRetryBudget int
	ShutdownTimeout        time.Duration
	BalanceChangeThreshold float64
}

// Notifier delivers operator notifications. Implementations must not block
// the trading loop for long; failures are logged, never propagated.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Engine owns the trading loop for a single symbol.
type Engine struct {
	cfg        Config
	exchange   domain.ExchangeClient
	oracle     *pricing.Oracle
	reconciler *reconcile.Reconciler
	tracker    *Tracker
	orders     domain.OrderStore
	cycles     domain.CycleStore
	prices     domain.PriceCache
	notifier   Notifier
	logger     *slog.Logger

	state reconcile.GridState
	phase Phase

	consecutiveFailures int
}

// New wires an Engine. orders, cycles, prices, and notifier may be nil;
// the engine skips the corresponding side effects.
func New(cfg Config, exchange domain.ExchangeClient, tracker *Tracker, orders domain.OrderStore, cycles domain.CycleStore, prices domain.PriceCache, notifier Notifier, logger *slog.Logger) *Engine {
	log := logger.With(slog.String("component", "engine"), slog.String("symbol", cfg.Symbol))
	return &Engine{
		cfg:        cfg,
		exchange:   exchange,
		oracle:     pricing.NewOracle(logger),
		reconciler: reconcile.New(reconcile.Config{
			GridLevels:             cfg.GridLevels,
			GridSpread:             cfg.GridSpread,
			PollingInterval:        cfg.PollingInterval,
			BalanceChangeThreshold: cfg.BalanceChangeThreshold,
			CancelAllOnGridUpdate:  cfg.CancelAllOnGridUpdate,
			StrictGridCount:        cfg.StrictGridCount,
		}, logger),
		tracker:  tracker,
		orders:   orders,
		cycles:   cycles,
		prices:   prices,
		notifier: notifier,
		logger:   log,
		phase:    PhaseIdle,
	}
}

// Run executes cycles until ctx is cancelled, then cancels all resting
// orders. A nil return means shutdown confirmed every order gone. Cycle
// failures (exchange unreachable) are retried with backoff up to the
// configured budget; exhausting it is fatal.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting",
		slog.Int("grid_levels", e.cfg.GridLevels),
		slog.Float64("grid_spread", e.cfg.GridSpread),
		slog.Duration("polling_interval", e.cfg.PollingInterval),
	)

	for {
		if ctx.Err() != nil {
			return e.shutdown()
		}

		if err := e.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return e.shutdown()
			}
			e.consecutiveFailures++
			e.logger.Error("cycle failed",
				slog.String("error", err.Error()),
				slog.Int("consecutive", e.consecutiveFailures),
			)
			if e.consecutiveFailures >= e.cfg.UnreachableRetryBudget {
				e.notify(ctx, "fatal", "Trading stopped",
					fmt.Sprintf("%s: %d consecutive cycle failures, last: %v", e.cfg.Symbol, e.consecutiveFailures, err))
				if shutErr := e.shutdown(); shutErr != nil {
					e.logger.Error("shutdown after fatal error incomplete", slog.String("error", shutErr.Error()))
				}
				return fmt.Errorf("engine: retry budget exhausted: %w", err)
			}
			if !e.sleepFor(ctx, e.backoff()) {
				return e.shutdown()
			}
			continue
		}
		e.consecutiveFailures = 0

		e.phase = PhaseSleeping
		if !e.sleepFor(ctx, e.cfg.PollingInterval) {
			return e.shutdown()
		}
	}
}

// cycle runs one full decision pass. Only snapshot fetch failures abort
// the cycle; individual order action failures are absorbed.
func (e *Engine) cycle(ctx context.Context) error {
	started := time.Now().UTC()

	e.phase = PhaseFetching
	snap, err := e.fetchSnapshot(ctx)
	if err != nil {
		return err
	}

	e.tracker.Sync(ctx, snap.OpenOrders, snap.FetchedAt)
	e.retryPendingCancels(ctx)

	e.phase = PhaseComputing
	summary := domain.CycleSummary{
		ID:        uuid.New().String(),
		Symbol:    e.cfg.Symbol,
		StartedAt: started,
	}

	ref, err := e.oracle.Compute(e.cfg.OutlierFilterReference, snap)
	if err != nil {
		// The configured source gave nothing; the auto cascade is the last
		// line before skipping the cycle.
		ref, err = e.oracle.Resolve(domain.PriceSourceAuto, snap, false)
	}
	if err != nil {
		e.logger.Warn("no reference price, skipping cycle", slog.String("error", err.Error()))
		e.recordCycle(ctx, summary, started)
		return nil
	}

	filtered := pricing.Filter(snap.Book, ref.Value, e.cfg.MaxOrderbookDeviation, snap.OpenOrders)
	pricing.LogFiltering(e.logger, filtered, ref.Value)

	buyRef, sellRef, center := e.sideReferences(snap, filtered, ref)
	if buyRef <= 0 && sellRef <= 0 {
		e.logger.Warn("no usable price on either side, skipping cycle",
			slog.Float64("reference", ref.Value),
		)
		summary.Reference = ref.Value
		summary.Source = string(ref.Source)
		e.recordCycle(ctx, summary, started)
		return nil
	}

	invState, mults := inventory.Plan(snap.Balances, center, e.cfg.TargetInventoryRatio, e.cfg.InventoryTolerance)
	e.logger.Info("inventory planned",
		slog.Float64("ratio", invState.CurrentRatio),
		slog.Float64("target", invState.TargetRatio),
		slog.Float64("buy_mult", mults.Buy),
		slog.Float64("sell_mult", mults.Sell),
	)

	desired := grid.Generate(grid.Params{
		BuyReference:  buyRef,
		SellReference: sellRef,
		Levels:        e.cfg.GridLevels,
		Spread:        e.cfg.GridSpread,
		MinOrderSize:  e.cfg.MinOrderSize,
		MaxPosition:   e.cfg.MaxPosition,
		Multipliers:   mults,
		Balances:      snap.Balances,
	})

	e.phase = PhaseReconciling
	acts := e.reconciler.Reconcile(&e.state, desired, snap.OpenOrders, center, snap.Balances, snap.FetchedAt)
	placed, cancelled := e.execute(ctx, acts)

	summary.Reference = ref.Value
	summary.Source = string(ref.Source)
	summary.RemovedBids = filtered.RemovedBids
	summary.RemovedAsks = filtered.RemovedAsks
	summary.InventoryRatio = invState.CurrentRatio
	summary.DesiredOrders = len(desired)
	summary.Placed = placed
	summary.Cancelled = cancelled
	summary.Kept = acts.Kept
	e.recordCycle(ctx, summary, started)

	if e.prices != nil {
		if err := e.prices.SetReference(ctx, e.cfg.Symbol, ref, snap.FetchedAt); err != nil {
			e.logger.Warn("reference price cache write failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// fetchSnapshot gathers one cycle's market state. Each fetch retries
// transient failures with backoff before the cycle is declared failed.
// Public trades are fetched only when the ticker carries no VWAP and the
// configured sources can need one.
func (e *Engine) fetchSnapshot(ctx context.Context) (*domain.MarketSnapshot, error) {
	snap := &domain.MarketSnapshot{Symbol: e.cfg.Symbol, FetchedAt: time.Now().UTC()}

	err := e.withRetry(ctx, "ticker", func() error {
		t, err := e.exchange.FetchTicker(ctx)
		snap.Ticker = t
		return err
	})
	if err != nil {
		return nil, err
	}

	err = e.withRetry(ctx, "orderbook", func() error {
		b, err := e.exchange.FetchOrderBook(ctx, e.cfg.OrderbookDepth)
		snap.Book = b
		return err
	})
	if err != nil {
		return nil, err
	}

	err = e.withRetry(ctx, "open orders", func() error {
		o, err := e.exchange.FetchOpenOrders(ctx)
		snap.OpenOrders = o
		return err
	})
	if err != nil {
		return nil, err
	}

	err = e.withRetry(ctx, "balance", func() error {
		b, err := e.exchange.FetchBalance(ctx)
		snap.Balances = b
		return err
	})
	if err != nil {
		return nil, err
	}

	if snap.Ticker.VWAP <= 0 && e.needsVWAP() {
		err = e.withRetry(ctx, "trades", func() error {
			tr, err := e.exchange.FetchTrades(ctx, tradeLookback)
			snap.Trades = tr
			return err
		})
		if err != nil {
			// VWAP degrades to its own fallbacks; not worth failing the cycle.
			e.logger.Warn("trade fetch failed, vwap may be unavailable", slog.String("error", err.Error()))
		}
	}
	return snap, nil
}

func (e *Engine) needsVWAP() bool {
	switch e.cfg.OutlierFilterReference {
	case domain.PriceSourceVWAP, domain.PriceSourceNearestBid, domain.PriceSourceNearestAsk:
		return true
	}
	return e.cfg.OutOfRangeFallback &&
		(e.cfg.OutOfRangePriceMode == domain.PriceSourceVWAP || e.cfg.OutOfRangePriceMode == domain.PriceSourceAuto)
}

// sideReferences derives the per-side grid centers from the filtered book.
// When both sides survived filtering the grid centers on the filtered mid.
// An emptied side gets a synthetic price derived from the fallback cascade,
// if fallback is enabled; otherwise the side is disabled for the cycle.
// A mid more than double the last trade is treated as a glitch and the
// last trade price is used instead.
func (e *Engine) sideReferences(snap *domain.MarketSnapshot, filtered domain.FilteredBook, ref domain.ReferencePrice) (buyRef, sellRef, center float64) {
	bidsEmpty, asksEmpty := filtered.BidsEmpty(), filtered.AsksEmpty()

	var synthBuy, synthSell float64
	if (bidsEmpty || asksEmpty) && e.cfg.OutOfRangeFallback {
		fb, err := e.oracle.Resolve(e.cfg.OutOfRangePriceMode, snap, bidsEmpty && asksEmpty)
		if err != nil {
			e.logger.Warn("fallback price unavailable", slog.String("error", err.Error()))
		} else {
			invState, _ := inventory.Plan(snap.Balances, fb.Value, e.cfg.TargetInventoryRatio, e.cfg.InventoryTolerance)
			synthBuy, synthSell = grid.SyntheticRefs(fb.Value, invState)
			e.logger.Info("synthetic fallback engaged",
				slog.String("source", string(fb.Source)),
				slog.Float64("fallback", fb.Value),
				slog.Bool("bids_empty", bidsEmpty),
				slog.Bool("asks_empty", asksEmpty),
			)
		}
	}

	bestBid := 0.0
	if !bidsEmpty {
		bestBid = filtered.Bids[0].Price
	} else {
		bestBid = synthBuy
	}
	bestAsk := 0.0
	if !asksEmpty {
		bestAsk = filtered.Asks[0].Price
	} else {
		bestAsk = synthSell
	}

	switch {
	case bestBid > 0 && bestAsk > 0:
		center = (bestBid + bestAsk) / 2
	case bestBid > 0:
		center = bestBid
	case bestAsk > 0:
		center = bestAsk
	default:
		return 0, 0, 0
	}

	if last := snap.Ticker.Last; last > 0 && center > 2*last {
		e.logger.Warn("computed mid implausibly above last trade, using last",
			slog.Float64("mid", center),
			slog.Float64("last", last),
		)
		center = last
	}

	buyRef, sellRef = center, center
	if bidsEmpty {
		buyRef = synthBuy
	}
	if asksEmpty {
		sellRef = synthSell
	}
	return buyRef, sellRef, center
}

// execute applies the decided actions: cancels first so freed funds can
// cover placements. A single failed action never aborts the cycle.
func (e *Engine) execute(ctx context.Context, acts reconcile.Actions) (placed, cancelled int) {
	for _, ord := range acts.Cancel {
		err := e.exchange.CancelOrder(ctx, ord.ID)
		switch {
		case err == nil, errors.Is(err, domain.ErrOrderNotFound):
			cancelled++
			e.tracker.Untrack(ord.ID)
			if e.orders != nil {
				if uerr := e.orders.UpdateStatus(ctx, ord.ID, domain.OrderStatusCancelled); uerr != nil && !errors.Is(uerr, domain.ErrNotFound) {
					e.logger.Warn("order status update failed", slog.String("order_id", ord.ID), slog.String("error", uerr.Error()))
				}
			}
		default:
			e.logger.Warn("cancel failed, will retry next cycle",
				slog.String("order_id", ord.ID),
				slog.String("error", err.Error()),
			)
			e.state.PendingCancels = append(e.state.PendingCancels, ord.ID)
		}
	}

	for _, want := range acts.Place {
		live, err := e.exchange.CreateOrder(ctx, want.Side, want.Price, want.Size)
		if err != nil {
			e.logger.Warn("placement failed, level skipped",
				slog.String("side", string(want.Side)),
				slog.Int("level", want.Level),
				slog.Float64("price", want.Price),
				slog.String("error", err.Error()),
			)
			continue
		}
		placed++
		e.tracker.Track(live)
		if e.orders != nil {
			if err := e.orders.Record(ctx, live); err != nil {
				e.logger.Warn("order record failed", slog.String("order_id", live.ID), slog.String("error", err.Error()))
			}
		}
	}
	return placed, cancelled
}

// retryPendingCancels gives last cycle's failed cancels one more attempt.
// Orders still failing are dropped from the list; the count-mismatch
// trigger picks them up on a later cycle if they truly persist.
func (e *Engine) retryPendingCancels(ctx context.Context) {
	if len(e.state.PendingCancels) == 0 {
		return
	}
	pending := e.state.PendingCancels
	e.state.PendingCancels = nil
	for _, id := range pending {
		err := e.exchange.CancelOrder(ctx, id)
		if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
			e.logger.Warn("pending cancel failed again, dropping",
				slog.String("order_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.tracker.Untrack(id)
	}
}

// shutdown cancels every resting order and verifies the book is clean. It
// runs on a fresh context bounded by ShutdownTimeout because the run
// context is already cancelled by the time it is called.
func (e *Engine) shutdown() error {
	e.phase = PhaseCancelling
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
	defer cancel()

	e.logger.Info("shutting down, cancelling all orders")

	open, err := e.exchange.FetchOpenOrders(ctx)
	if err != nil {
		e.logger.Error("could not fetch open orders for shutdown", slog.String("error", err.Error()))
		return fmt.Errorf("engine: shutdown fetch: %w", err)
	}

	for _, ord := range open {
		if err := e.exchange.CancelOrder(ctx, ord.ID); err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
			e.logger.Warn("shutdown cancel failed",
				slog.String("order_id", ord.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	// Verify with re-polls until the book is clean or time runs out.
	for {
		remaining, err := e.exchange.FetchOpenOrders(ctx)
		if err == nil && len(remaining) == 0 {
			e.logger.Info("shutdown complete, no resting orders remain")
			e.notify(ctx, "shutdown", "Bot stopped", fmt.Sprintf("%s: all orders cancelled", e.cfg.Symbol))
			return nil
		}
		if err == nil {
			for _, ord := range remaining {
				if cerr := e.exchange.CancelOrder(ctx, ord.ID); cerr != nil && !errors.Is(cerr, domain.ErrOrderNotFound) {
					e.logger.Warn("shutdown re-cancel failed", slog.String("order_id", ord.ID))
				}
			}
		}

		select {
		case <-ctx.Done():
			e.logger.Error("shutdown timed out with orders possibly resting")
			e.notify(context.Background(), "fatal", "Shutdown incomplete",
				fmt.Sprintf("%s: orders may still be resting, manual check required", e.cfg.Symbol))
			return ErrShutdownIncomplete
		case <-time.After(2 * time.Second):
		}
	}
}

// withRetry retries fn on transient exchange failures with doubling delay.
// Permanent errors and context cancellation return immediately.
func (e *Engine) withRetry(ctx context.Context, what string, fn func() error) error {
	const attempts = 3
	delay := 2 * time.Second
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrExchangeUnreachable) || i == attempts-1 {
			break
		}
		e.logger.Warn("fetch failed, retrying",
			slog.String("what", what),
			slog.Int("attempt", i+1),
			slog.String("error", err.Error()),
		)
		if !e.sleepFor(ctx, delay) {
			return ctx.Err()
		}
		delay *= 2
	}
	return fmt.Errorf("engine: fetch %s: %w", what, err)
}

// backoff scales with the consecutive failure count, capped at 30s.
func (e *Engine) backoff() time.Duration {
	d := time.Duration(math.Pow(2, float64(e.consecutiveFailures))) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// sleepFor waits the duration or until ctx cancels; false means cancelled.
func (e *Engine) sleepFor(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (e *Engine) recordCycle(ctx context.Context, summary domain.CycleSummary, started time.Time) {
	summary.Duration = time.Since(started)
	e.logger.Info("cycle complete",
		slog.Float64("reference", summary.Reference),
		slog.String("source", summary.Source),
		slog.Int("placed", summary.Placed),
		slog.Int("cancelled", summary.Cancelled),
		slog.Int("kept", summary.Kept),
		slog.Duration("duration", summary.Duration),
	)
	if e.cycles == nil {
		return
	}
	if err := e.cycles.Record(ctx, summary); err != nil {
		e.logger.Warn("cycle summary record failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.Warn("notification failed", slog.String("error", err.Error()))
	}
}
