package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LIQ_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses
// defaults plus environment. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LIQ_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Namespace, "LIQ_NAMESPACE")
	setStr(&cfg.LogLevel, "LIQ_LOG_LEVEL")

	setStr(&cfg.Store.Backend, "LIQ_STORE_BACKEND")
	setStr(&cfg.Store.DSN, "LIQ_STORE_DSN")
	setBool(&cfg.Store.RunMigrations, "LIQ_STORE_RUN_MIGRATIONS")
	setStr(&cfg.Store.MigrationsDir, "LIQ_STORE_MIGRATIONS_DIR")

	setBool(&cfg.NATS.Enabled, "LIQ_NATS_ENABLED")
	setStr(&cfg.NATS.URL, "LIQ_NATS_URL")

	setStr(&cfg.Oracle.Mode, "LIQ_ORACLE_MODE")
	setDuration(&cfg.Oracle.MaxAge, "LIQ_ORACLE_MAX_AGE")
	setInt64(&cfg.Oracle.MockSeed, "LIQ_ORACLE_MOCK_SEED")

	setDuration(&cfg.Monitor.Interval, "LIQ_MONITOR_INTERVAL")
	setDuration(&cfg.Monitor.OracleTimeout, "LIQ_MONITOR_ORACLE_TIMEOUT")
	setDuration(&cfg.Monitor.CooldownTTL, "LIQ_MONITOR_COOLDOWN_TTL")
	setInt(&cfg.Monitor.CooldownSize, "LIQ_MONITOR_COOLDOWN_SIZE")
	setFloat64(&cfg.Monitor.WarnBand, "LIQ_MONITOR_WARN_BAND")
	setStr(&cfg.Monitor.Liquidator, "LIQ_MONITOR_LIQUIDATOR")

	setDuration(&cfg.Fund.WatchInterval, "LIQ_FUND_WATCH_INTERVAL")
	setFloat64(&cfg.Fund.LowWatermark, "LIQ_FUND_LOW_WATERMARK")

	setFloat64(&cfg.Risk.DefaultMaintenance, "LIQ_RISK_DEFAULT_MAINTENANCE")
	setFloat64(&cfg.Risk.LiquidationThreshold, "LIQ_RISK_LIQUIDATION_THRESHOLD")
	setFloat64(&cfg.Risk.LiquidatorFee, "LIQ_RISK_LIQUIDATOR_FEE")

	setBool(&cfg.Server.Enabled, "LIQ_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "LIQ_SERVER_ADDR")
	setBool(&cfg.Server.WSEnabled, "LIQ_SERVER_WS_ENABLED")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
