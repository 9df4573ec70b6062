package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftlabs/gridbot/internal/crypto"
	"github.com/driftlabs/gridbot/internal/domain"
	"github.com/driftlabs/gridbot/internal/engine"
	"github.com/driftlabs/gridbot/internal/exchange/binance"
	"github.com/driftlabs/gridbot/internal/exchange/paper"
	"github.com/driftlabs/gridbot/internal/notify"
)

// instanceLockTTL bounds how long a crashed instance keeps the symbol
// locked before another can take over.
const instanceLockTTL = 24 * time.Hour

// archiveInterval is how often the history archiver runs a pass.
const archiveInterval = 6 * time.Hour

// LiveMode trades against the real exchange: instance lock, REST engine,
// websocket top-of-book monitor, and the optional history archiver.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")

	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:           a.cfg.API.Secret,
		EncryptedSecretPath: a.cfg.API.EncryptedKeyPath,
		SecretPassword:      a.cfg.API.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("app: resolve api secret: %w", err)
	}
	auth := &crypto.HMACAuth{Key: a.cfg.API.Key, Secret: secret}

	exchange, err := binance.New("", a.cfg.Bot.Symbol, auth, a.logger)
	if err != nil {
		return fmt.Errorf("app: exchange client: %w", err)
	}

	if deps.LockManager != nil {
		release, err := deps.LockManager.Acquire(ctx, a.cfg.Bot.Symbol, instanceLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("app: another instance is already trading %s: %w", a.cfg.Bot.Symbol, err)
			}
			return fmt.Errorf("app: acquire instance lock: %w", err)
		}
		a.closers = append(a.closers, release)
	}

	eng := a.buildEngine(ctx, deps, exchange)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.Run(ctx)
	})

	// Websocket monitor: cheap early warning when the market moves between
	// polls. The REST snapshot stays the source of truth.
	feed := binance.NewWSFeed("", a.cfg.Bot.Symbol)
	var lastMid atomic.Value
	threshold := a.cfg.Bot.GridSpread / 2
	feed.OnQuote(func(q binance.Quote) {
		mid := q.Mid()
		if mid <= 0 {
			return
		}
		prev, _ := lastMid.Load().(float64)
		if prev > 0 && math.Abs(mid-prev)/prev > threshold {
			a.logger.Info("market moved between polls",
				slog.Float64("mid", mid),
				slog.Float64("previous", prev),
			)
		}
		lastMid.Store(mid)
	})
	if err := feed.Connect(ctx); err != nil {
		// The feed is advisory only; the engine does not depend on it.
		a.logger.Warn("websocket feed unavailable", slog.String("error", err.Error()))
	} else {
		a.closers = append(a.closers, func() { _ = feed.Close() })
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			if err := deps.Archiver.Run(ctx, archiveInterval); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := deps.Notifier.Notify(ctx, notify.EventStartup, "Bot started",
		fmt.Sprintf("%s: live trading started", a.cfg.Bot.Symbol)); err != nil {
		a.logger.Warn("startup notification failed", slog.String("error", err.Error()))
	}

	return g.Wait()
}

// DryrunMode runs the identical decision pipeline against a simulated
// exchange, so configuration and strategy changes can be observed without
// touching real funds.
func (a *App) DryrunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting dryrun mode")

	exchange := paper.New(paper.Config{
		Symbol:       a.cfg.Bot.Symbol,
		StartPrice:   10,
		BaseBalance:  a.cfg.Bot.MinOrderSize * 200,
		QuoteBalance: a.cfg.Bot.MinOrderSize * 200 * 10,
	}, a.logger)

	eng := a.buildEngine(ctx, deps, exchange)
	return eng.Run(ctx)
}

// buildEngine assembles the tracker and engine over the given exchange,
// routing settled fills to the notifier.
func (a *App) buildEngine(ctx context.Context, deps *Dependencies, exchange domain.ExchangeClient) *engine.Engine {
	b := &a.cfg.Bot

	tracker := engine.NewTracker(exchange, deps.OrderStore, deps.TradeStore, b.SettlementTimeout.Duration, a.logger)
	tracker.OnFill = func(t domain.Trade) {
		msg := fmt.Sprintf("%s %s %.6f @ %.6f", t.Symbol, t.Side, t.Quantity, t.Price)
		if err := deps.Notifier.Notify(ctx, notify.EventFill, "Order filled", msg); err != nil {
			a.logger.Warn("fill notification failed", slog.String("error", err.Error()))
		}
	}

	return engine.New(engine.Config{
		Symbol:                 b.Symbol,
		GridLevels:             b.GridLevels,
		GridSpread:             b.GridSpread,
		MinOrderSize:           b.MinOrderSize,
		MaxPosition:            b.MaxPosition,
		PollingInterval:        b.PollingInterval.Duration,
		TargetInventoryRatio:   b.TargetInventoryRatio,
		InventoryTolerance:     b.InventoryTolerance,
		MaxOrderbookDeviation:  b.MaxOrderbookDeviation,
		OutlierFilterReference: domain.PriceSource(b.OutlierFilterReference),
		OutOfRangeFallback:     b.OutOfRangeFallback,
		OutOfRangePriceMode:    domain.PriceSource(b.OutOfRangePriceMode),
		StrictGridCount:        b.StrictGridCount,
		CancelAllOnGridUpdate:  b.CancelAllOnGridUpdate,
		OrderbookDepth:         b.OrderbookDepth,
		SettlementTimeout:      b.SettlementTimeout.Duration,
		UnreachableRetryBudget: b.UnreachableRetryBudget,
		ShutdownTimeout:        b.ShutdownTimeout.Duration,
		BalanceChangeThreshold: b.BalanceChangeThreshold,
	}, exchange, tracker, deps.OrderStore, deps.CycleStore, deps.PriceCache, deps.Notifier, a.logger)
}
