package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/driftlabs/gridbot/internal/blob/s3"
	"github.com/driftlabs/gridbot/internal/cache/redis"
	"github.com/driftlabs/gridbot/internal/config"
	"github.com/driftlabs/gridbot/internal/domain"
	"github.com/driftlabs/gridbot/internal/notify"
	filestore "github.com/driftlabs/gridbot/internal/store/file"
	"github.com/driftlabs/gridbot/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	OrderStore  domain.OrderStore
	TradeStore  domain.TradeStore
	CycleStore  domain.CycleStore
	PriceCache  domain.PriceCache
	LockManager domain.LockManager
	Archiver    *s3blob.Archiver
	Notifier    *notify.Notifier
}

// Wire constructs the concrete dependency implementations from the
// configuration. A non-empty storage DSN selects PostgreSQL; otherwise the
// JSONL file store at storage.db_path carries the records. Redis and S3 are
// wired only when configured.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	if cfg.Storage.DSN != "" {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Storage.DSN,
			MaxConns: cfg.Storage.PoolMaxConns,
			MinConns: cfg.Storage.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}

		pool := pgClient.Pool()
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.CycleStore = postgres.NewCycleStore(pool)
	} else {
		fs, err := filestore.New(cfg.Storage.DBPath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: file store: %w", err)
		}
		deps.OrderStore = fs
		deps.TradeStore = fs.Trades()
		deps.CycleStore = fs.Cycles()
	}

	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
	}

	if cfg.S3.Bucket != "" && cfg.S3.ArchiveAfterDays > 0 {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.OrderStore,
			deps.TradeStore,
			cfg.Bot.Symbol,
			time.Duration(cfg.S3.ArchiveAfterDays)*24*time.Hour,
			logger,
		)
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
