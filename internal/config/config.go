// Package config defines the top-level configuration for the grid market
// maker and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/driftlabs/gridbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by GRIDBOT_* environment
// variables. It is validated once at startup and never mutated afterwards.
type Config struct {
	API      APIConfig     `toml:"api"`
	Storage  StorageConfig `toml:"storage"`
	Redis    RedisConfig   `toml:"redis"`
	S3       S3Config      `toml:"s3"`
	Bot      BotConfig     `toml:"bot_config"`
	Notify   NotifyConfig  `toml:"notify"`
	Mode     string        `toml:"mode"`
	LogLevel string        `toml:"log_level"`
}

// APIConfig holds exchange API credentials. When EncryptedKeyPath is set the
// secret is loaded from an AES-GCM encrypted key file instead of plaintext.
type APIConfig struct {
	Key              string `toml:"key"`
	Secret           string `toml:"secret"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// StorageConfig selects the record store. A non-empty DSN selects
// PostgreSQL; otherwise an append-only JSONL store is kept at DBPath.
// LogFile, when set, tees JSON logs to a file in addition to stdout.
type StorageConfig struct {
	DSN          string `toml:"dsn"`
	DBPath       string `toml:"db_path"`
	LogFile      string `toml:"log_file"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// RedisConfig holds Redis connection parameters. An empty Addr disables the
// price cache and the instance lock.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for history
// archival. ArchiveAfterDays == 0 disables archiving.
type S3Config struct {
	Endpoint         string `toml:"endpoint"`
	Region           string `toml:"region"`
	Bucket           string `toml:"bucket"`
	AccessKey        string `toml:"access_key"`
	SecretKey        string `toml:"secret_key"`
	UseSSL           bool   `toml:"use_ssl"`
	ForcePathStyle   bool   `toml:"force_path_style"`
	ArchiveAfterDays int    `toml:"archive_after_days"`
}

// BotConfig holds the trading parameters. Each key maps directly onto one
// decision in the pricing/grid/reconcile pipeline.
type BotConfig struct {
	ExchangeID             string   `toml:"exchange_id"`
	Symbol                 string   `toml:"symbol"`
	GridLevels             int      `toml:"grid_levels"`
	GridSpread             float64  `toml:"grid_spread"`
	MinOrderSize           float64  `toml:"min_order_size"`
	MaxPosition            float64  `toml:"max_position"`
	PollingInterval        duration `toml:"polling_interval"`
	TargetInventoryRatio   float64  `toml:"target_inventory_ratio"`
	InventoryTolerance     float64  `toml:"inventory_tolerance"`
	MaxOrderbookDeviation  float64  `toml:"max_orderbook_deviation"`
	OutlierFilterReference string   `toml:"outlier_filter_reference"`
	OutOfRangeFallback     bool     `toml:"out_of_range_pricing_fallback"`
	OutOfRangePriceMode    string   `toml:"out_of_range_price_mode"`
	StrictGridCount        bool     `toml:"strict_grid_count"`
	CancelAllOnGridUpdate  bool     `toml:"cancel_all_on_grid_update"`
	OrderbookDepth         int      `toml:"orderbook_depth"`
	SettlementTimeout      duration `toml:"settlement_timeout"`
	UnreachableRetryBudget int      `toml:"unreachable_retry_budget"`
	ShutdownTimeout        duration `toml:"shutdown_timeout"`
	BalanceChangeThreshold float64  `toml:"balance_change_threshold"`
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so TOML values like "30s" decode directly.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Defaults returns a Config populated with sane defaults. Load layers the
// TOML file and environment overrides on top of these.
func Defaults() Config {
	return Config{
		Mode:     "live",
		LogLevel: "info",
		Storage: StorageConfig{
			DBPath:       "data/gridbot.db",
			PoolMaxConns: 4,
			PoolMinConns: 1,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
		},
		Bot: BotConfig{
			ExchangeID:             "binance",
			Symbol:                 "ATOM/USDT",
			GridLevels:             3,
			GridSpread:             0.001,
			MinOrderSize:           0.1,
			MaxPosition:            0.5,
			PollingInterval:        duration{30 * time.Second},
			TargetInventoryRatio:   0.5,
			InventoryTolerance:     0.15,
			MaxOrderbookDeviation:  0.1,
			OutlierFilterReference: "vwap",
			OutOfRangeFallback:     true,
			OutOfRangePriceMode:    "auto",
			OrderbookDepth:         50,
			SettlementTimeout:      duration{60 * time.Second},
			UnreachableRetryBudget: 3,
			ShutdownTimeout:        duration{60 * time.Second},
			BalanceChangeThreshold: 0.01,
		},
	}
}

// Validate checks the configuration for inconsistencies. It must be called
// once after Load, before anything is wired.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "live", "dryrun":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if c.Mode == "live" && (c.API.Key == "" || (c.API.Secret == "" && c.API.EncryptedKeyPath == "")) {
		return fmt.Errorf("config: api.key and api.secret (or api.encrypted_key_path) are required in live mode")
	}

	b := &c.Bot
	if !strings.Contains(b.Symbol, "/") {
		return fmt.Errorf("config: bot_config.symbol %q must be BASE/QUOTE", b.Symbol)
	}
	if b.GridLevels <= 0 {
		return fmt.Errorf("config: bot_config.grid_levels must be positive")
	}
	if b.GridSpread <= 0 || b.GridSpread >= 1 {
		return fmt.Errorf("config: bot_config.grid_spread must be in (0, 1)")
	}
	if b.MinOrderSize <= 0 {
		return fmt.Errorf("config: bot_config.min_order_size must be positive")
	}
	if b.MaxPosition <= 0 {
		return fmt.Errorf("config: bot_config.max_position must be positive")
	}
	if b.PollingInterval.Duration <= 0 {
		return fmt.Errorf("config: bot_config.polling_interval must be positive")
	}
	if b.TargetInventoryRatio < 0 || b.TargetInventoryRatio > 1 {
		return fmt.Errorf("config: bot_config.target_inventory_ratio must be in [0, 1]")
	}
	if b.InventoryTolerance < 0 || b.InventoryTolerance > 1 {
		return fmt.Errorf("config: bot_config.inventory_tolerance must be in [0, 1]")
	}
	if b.MaxOrderbookDeviation < 0 {
		return fmt.Errorf("config: bot_config.max_orderbook_deviation must be >= 0")
	}
	if !domain.ValidFilterReference(domain.PriceSource(b.OutlierFilterReference)) {
		return fmt.Errorf("config: bot_config.outlier_filter_reference %q is not a price source", b.OutlierFilterReference)
	}
	if !domain.ValidFallbackMode(domain.PriceSource(b.OutOfRangePriceMode)) {
		return fmt.Errorf("config: bot_config.out_of_range_price_mode %q is not a fallback mode", b.OutOfRangePriceMode)
	}
	if b.UnreachableRetryBudget <= 0 {
		return fmt.Errorf("config: bot_config.unreachable_retry_budget must be positive")
	}
	if b.ShutdownTimeout.Duration <= 0 {
		return fmt.Errorf("config: bot_config.shutdown_timeout must be positive")
	}
	return nil
}

// BaseQuote splits the configured symbol into base and quote currencies.
func (c *Config) BaseQuote() (string, string) {
	parts := strings.SplitN(c.Bot.Symbol, "/", 2)
	if len(parts) != 2 {
		return c.Bot.Symbol, ""
	}
	return parts[0], parts[1]
}
