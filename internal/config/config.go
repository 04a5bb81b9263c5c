// Package config defines the top-level configuration for the liquidation
// service and provides validation helpers.
package config

import (
	"fmt"
	"math"
	"time"

	"LiqGuard/internal/risk"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by LIQ_* environment variables.
type Config struct {
	// Namespace seeds the program id. Deployments sharing a namespace
	// derive the same account addresses.
	Namespace string `toml:"namespace"`
	LogLevel  string `toml:"log_level"`

	Store   StoreConfig   `toml:"store"`
	NATS    NATSConfig    `toml:"nats"`
	Oracle  OracleConfig  `toml:"oracle"`
	Monitor MonitorConfig `toml:"monitor"`
	Fund    FundConfig    `toml:"fund"`
	Risk    RiskConfig    `toml:"risk"`
	Server  ServerConfig  `toml:"server"`
}

// StoreConfig selects and parameterizes the account store backend.
type StoreConfig struct {
	Backend       string `toml:"backend"` // "memory" or "postgres"
	DSN           string `toml:"dsn"`
	RunMigrations bool   `toml:"run_migrations"`
	MigrationsDir string `toml:"migrations_dir"`
}

// NATSConfig holds NATS connection parameters. When disabled, outbound
// events only reach the websocket feed.
type NATSConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
}

// OracleConfig selects the price source.
type OracleConfig struct {
	Mode string `toml:"mode"` // "mock" or "nats"

	// MaxAge bounds price staleness for the NATS feed.
	MaxAge duration `toml:"max_age"`

	// BasePrices seeds the mock oracle, in quote units (e.g. 20.0).
	BasePrices map[string]float64 `toml:"base_prices"`
	MockSeed   int64              `toml:"mock_seed"`
}

// MonitorConfig tunes the position scan loop.
type MonitorConfig struct {
	Interval      duration `toml:"interval"`
	OracleTimeout duration `toml:"oracle_timeout"`
	CooldownTTL   duration `toml:"cooldown_ttl"`
	CooldownSize  int      `toml:"cooldown_size"`
	WarnBand      float64  `toml:"warn_band"` // 1.1 = warn below threshold*1.1
	Liquidator    string   `toml:"liquidator"`
}

// FundConfig tunes the insurance fund watcher.
type FundConfig struct {
	WatchInterval duration `toml:"watch_interval"`
	LowWatermark  float64  `toml:"low_watermark"` // quote units
}

// RiskConfig holds the protocol risk constants in human units; ToParams
// converts to fixed point.
type RiskConfig struct {
	MaintenanceTiers     []TierConfig `toml:"maintenance_tiers"`
	DefaultMaintenance   float64      `toml:"default_maintenance"`
	LiquidationThreshold float64      `toml:"liquidation_threshold"`
	LiquidatorFee        float64      `toml:"liquidator_fee"`
}

// TierConfig is one leverage band.
type TierConfig struct {
	MaxLeverage uint16  `toml:"max_leverage"`
	Ratio       float64 `toml:"ratio"`
}

// ServerConfig holds the status API parameters.
type ServerConfig struct {
	Enabled   bool   `toml:"enabled"`
	Addr      string `toml:"addr"`
	WSEnabled bool   `toml:"ws_enabled"`
}

// Defaults returns the built-in configuration: in-memory store, mock
// oracle, deployed tier schedule.
func Defaults() Config {
	return Config{
		Namespace: "liqguard-mainnet",
		LogLevel:  "info",
		Store: StoreConfig{
			Backend:       "memory",
			RunMigrations: true,
			MigrationsDir: "migrations",
		},
		NATS: NATSConfig{
			Enabled: false,
			URL:     "nats://localhost:4222",
		},
		Oracle: OracleConfig{
			Mode:   "mock",
			MaxAge: duration{10 * time.Second},
			BasePrices: map[string]float64{
				"SOL-PERP": 20.0,
				"BTC-PERP": 45000.0,
				"ETH-PERP": 3000.0,
			},
			MockSeed: 1,
		},
		Monitor: MonitorConfig{
			Interval:      duration{2 * time.Second},
			OracleTimeout: duration{1 * time.Second},
			CooldownTTL:   duration{10 * time.Second},
			CooldownSize:  4096,
			WarnBand:      1.1,
		},
		Fund: FundConfig{
			WatchInterval: duration{15 * time.Second},
			LowWatermark:  1000.0,
		},
		Risk: RiskConfig{
			MaintenanceTiers: []TierConfig{
				{MaxLeverage: 20, Ratio: 0.025},
				{MaxLeverage: 50, Ratio: 0.01},
				{MaxLeverage: 100, Ratio: 0.005},
			},
			DefaultMaintenance:   0.025,
			LiquidationThreshold: 1.1,
			LiquidatorFee:        0.025,
		},
		Server: ServerConfig{
			Enabled:   true,
			Addr:      ":8080",
			WSEnabled: true,
		},
	}
}

// ToParams converts the risk section to fixed-point parameters.
func (r RiskConfig) ToParams() risk.Params {
	tiers := make([]risk.MaintenanceTier, 0, len(r.MaintenanceTiers))
	for _, t := range r.MaintenanceTiers {
		tiers = append(tiers, risk.MaintenanceTier{
			MaxLeverage: t.MaxLeverage,
			Ratio:       toRatio(t.Ratio),
		})
	}
	return risk.Params{
		MaintenanceTiers:        tiers,
		DefaultMaintenanceRatio: toRatio(r.DefaultMaintenance),
		LiquidationThreshold:    toRatio(r.LiquidationThreshold),
		LiquidatorFeeRatio:      toRatio(r.LiquidatorFee),
	}
}

// toRatio converts a human fraction to the 1e6 ratio scale. Config is
// the only place floats touch protocol constants.
func toRatio(f float64) int64 {
	return int64(math.Round(f * 1_000_000))
}

// ToFixed converts quote units to 6-decimal fixed point.
func ToFixed(f float64) int64 {
	return int64(math.Round(f * 1_000_000))
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("namespace must not be empty")
	}
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn required for postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Oracle.Mode {
	case "mock":
		if len(c.Oracle.BasePrices) == 0 {
			return fmt.Errorf("oracle.base_prices required for mock oracle")
		}
	case "nats":
		if !c.NATS.Enabled {
			return fmt.Errorf("oracle mode nats requires nats.enabled")
		}
	default:
		return fmt.Errorf("unknown oracle mode %q", c.Oracle.Mode)
	}
	if err := c.Risk.ToParams().Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if c.Monitor.WarnBand < 1.0 {
		return fmt.Errorf("monitor.warn_band must be >= 1.0, got %v", c.Monitor.WarnBand)
	}
	return nil
}

// duration wraps time.Duration for TOML text values like "2s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}
