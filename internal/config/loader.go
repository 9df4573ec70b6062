package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies GRIDBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known GRIDBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── API ──
	setStr(&cfg.API.Key, "GRIDBOT_API_KEY")
	setStr(&cfg.API.Secret, "GRIDBOT_API_SECRET")
	setStr(&cfg.API.EncryptedKeyPath, "GRIDBOT_API_ENCRYPTED_KEY_PATH")
	setStr(&cfg.API.KeyPassword, "GRIDBOT_API_KEY_PASSWORD")

	// ── Storage ──
	setStr(&cfg.Storage.DSN, "GRIDBOT_STORAGE_DSN")
	setStr(&cfg.Storage.DBPath, "GRIDBOT_STORAGE_DB_PATH")
	setStr(&cfg.Storage.LogFile, "GRIDBOT_STORAGE_LOG_FILE")
	setInt(&cfg.Storage.PoolMaxConns, "GRIDBOT_STORAGE_POOL_MAX_CONNS")
	setInt(&cfg.Storage.PoolMinConns, "GRIDBOT_STORAGE_POOL_MIN_CONNS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "GRIDBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "GRIDBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "GRIDBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "GRIDBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "GRIDBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "GRIDBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "GRIDBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "GRIDBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "GRIDBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "GRIDBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "GRIDBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "GRIDBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "GRIDBOT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.ArchiveAfterDays, "GRIDBOT_S3_ARCHIVE_AFTER_DAYS")

	// ── Bot ──
	setStr(&cfg.Bot.ExchangeID, "GRIDBOT_BOT_EXCHANGE_ID")
	setStr(&cfg.Bot.Symbol, "GRIDBOT_BOT_SYMBOL")
	setInt(&cfg.Bot.GridLevels, "GRIDBOT_BOT_GRID_LEVELS")
	setFloat64(&cfg.Bot.GridSpread, "GRIDBOT_BOT_GRID_SPREAD")
	setFloat64(&cfg.Bot.MinOrderSize, "GRIDBOT_BOT_MIN_ORDER_SIZE")
	setFloat64(&cfg.Bot.MaxPosition, "GRIDBOT_BOT_MAX_POSITION")
	setDuration(&cfg.Bot.PollingInterval, "GRIDBOT_BOT_POLLING_INTERVAL")
	setFloat64(&cfg.Bot.TargetInventoryRatio, "GRIDBOT_BOT_TARGET_INVENTORY_RATIO")
	setFloat64(&cfg.Bot.InventoryTolerance, "GRIDBOT_BOT_INVENTORY_TOLERANCE")
	setFloat64(&cfg.Bot.MaxOrderbookDeviation, "GRIDBOT_BOT_MAX_ORDERBOOK_DEVIATION")
	setStr(&cfg.Bot.OutlierFilterReference, "GRIDBOT_BOT_OUTLIER_FILTER_REFERENCE")
	setBool(&cfg.Bot.OutOfRangeFallback, "GRIDBOT_BOT_OUT_OF_RANGE_PRICING_FALLBACK")
	setStr(&cfg.Bot.OutOfRangePriceMode, "GRIDBOT_BOT_OUT_OF_RANGE_PRICE_MODE")
	setBool(&cfg.Bot.StrictGridCount, "GRIDBOT_BOT_STRICT_GRID_COUNT")
	setBool(&cfg.Bot.CancelAllOnGridUpdate, "GRIDBOT_BOT_CANCEL_ALL_ON_GRID_UPDATE")
	setInt(&cfg.Bot.OrderbookDepth, "GRIDBOT_BOT_ORDERBOOK_DEPTH")
	setDuration(&cfg.Bot.SettlementTimeout, "GRIDBOT_BOT_SETTLEMENT_TIMEOUT")
	setInt(&cfg.Bot.UnreachableRetryBudget, "GRIDBOT_BOT_UNREACHABLE_RETRY_BUDGET")
	setDuration(&cfg.Bot.ShutdownTimeout, "GRIDBOT_BOT_SHUTDOWN_TIMEOUT")
	setFloat64(&cfg.Bot.BalanceChangeThreshold, "GRIDBOT_BOT_BALANCE_CHANGE_THRESHOLD")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "GRIDBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "GRIDBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "GRIDBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "GRIDBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "GRIDBOT_MODE")
	setStr(&cfg.LogLevel, "GRIDBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
