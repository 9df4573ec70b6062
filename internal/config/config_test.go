package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "dryrun"

[bot_config]
symbol = "ETH/USDT"
grid_levels = 5
polling_interval = "10s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "dryrun" {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if cfg.Bot.Symbol != "ETH/USDT" || cfg.Bot.GridLevels != 5 {
		t.Errorf("bot = %+v", cfg.Bot)
	}
	if cfg.Bot.PollingInterval.Duration != 10*time.Second {
		t.Errorf("polling_interval = %v", cfg.Bot.PollingInterval.Duration)
	}
	// Untouched keys keep their defaults.
	if cfg.Bot.GridSpread != 0.001 {
		t.Errorf("grid_spread default = %v", cfg.Bot.GridSpread)
	}
	if cfg.Bot.OutlierFilterReference != "vwap" {
		t.Errorf("outlier_filter_reference default = %q", cfg.Bot.OutlierFilterReference)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
mode = "dryrun"

[bot_config]
grid_levels = 5
`)
	t.Setenv("GRIDBOT_BOT_GRID_LEVELS", "7")
	t.Setenv("GRIDBOT_BOT_POLLING_INTERVAL", "45s")
	t.Setenv("GRIDBOT_API_SECRET", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bot.GridLevels != 7 {
		t.Errorf("grid_levels = %d, want env override 7", cfg.Bot.GridLevels)
	}
	if cfg.Bot.PollingInterval.Duration != 45*time.Second {
		t.Errorf("polling_interval = %v", cfg.Bot.PollingInterval.Duration)
	}
	if cfg.API.Secret != "from-env" {
		t.Errorf("api.secret = %q", cfg.API.Secret)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("missing file must error")
	}
}

func TestValidateDefaultsAreDryrunReady(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "dryrun"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate in dryrun: %v", err)
	}
}

func TestValidateLiveRequiresCredentials(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("live mode without credentials must fail")
	}

	cfg.API.Key = "k"
	cfg.API.Secret = "s"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("live mode with key+secret: %v", err)
	}

	// An encrypted key file stands in for the plaintext secret.
	cfg.API.Secret = ""
	cfg.API.EncryptedKeyPath = "/etc/gridbot/key.enc"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("live mode with encrypted key path: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "backtest" }},
		{"symbol without slash", func(c *Config) { c.Bot.Symbol = "ATOMUSDT" }},
		{"zero grid levels", func(c *Config) { c.Bot.GridLevels = 0 }},
		{"spread out of range", func(c *Config) { c.Bot.GridSpread = 1.5 }},
		{"negative min order size", func(c *Config) { c.Bot.MinOrderSize = -1 }},
		{"zero polling interval", func(c *Config) { c.Bot.PollingInterval = duration{} }},
		{"ratio above one", func(c *Config) { c.Bot.TargetInventoryRatio = 1.1 }},
		{"negative deviation", func(c *Config) { c.Bot.MaxOrderbookDeviation = -0.1 }},
		{"bogus price source", func(c *Config) { c.Bot.OutlierFilterReference = "astrology" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Mode = "dryrun"
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("%s must be rejected", tc.name)
			}
		})
	}
}
