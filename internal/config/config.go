// Package config defines all configuration for the ingestor.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// fields overridable via INGESTOR_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Feeds     FeedsConfig     `mapstructure:"feeds"`
	Book      BookConfig      `mapstructure:"book"`
	Flow      FlowConfig      `mapstructure:"flow"`
	Trades    TradesConfig    `mapstructure:"trades"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// FeedsConfig holds the WebSocket endpoints for the two inbound streams.
type FeedsConfig struct {
	Symbol       string `mapstructure:"symbol"`
	LOBURL       string `mapstructure:"lob_url"`
	LOBIsDelta   bool   `mapstructure:"lob_is_delta"`
	TradeURL     string `mapstructure:"trade_url"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// BookConfig holds top_n, which is loaded and defaulted but not read by any
// component; the book's snapshot always carries five levels per side.
type BookConfig struct {
	TopN int `mapstructure:"top_n"`
}

// FlowConfig tunes the rolling order-flow tracker (spec.md §4.B defaults).
type FlowConfig struct {
	Window        time.Duration `mapstructure:"window"`
	CancelPenalty float64       `mapstructure:"cancel_penalty"`
	MinPressure   float64       `mapstructure:"min_pressure"`
}

// TradesConfig sizes the trades-log ring buffer.
type TradesConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// AnalyticsConfig tunes the periodic feature-assembly loop.
type AnalyticsConfig struct {
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	BatchSize        int           `mapstructure:"batch_size"`
}

// StoreConfig sets where feature batches are written.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus/health HTTP surface.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("INGESTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("feeds.symbol", "BTCUSDT")
	v.SetDefault("feeds.lob_is_delta", true)
	v.SetDefault("feeds.dial_timeout", 10*time.Second)
	v.SetDefault("feeds.ping_interval", 20*time.Second)
	v.SetDefault("book.top_n", 5)
	v.SetDefault("flow.window", 10*time.Second)
	v.SetDefault("flow.cancel_penalty", 0.35)
	v.SetDefault("flow.min_pressure", 2.5)
	v.SetDefault("trades.capacity", 5000)
	v.SetDefault("analytics.snapshot_interval", 100*time.Millisecond)
	v.SetDefault("analytics.batch_size", 1000)
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Feeds.LOBURL == "" {
		return fmt.Errorf("feeds.lob_url is required")
	}
	if c.Feeds.TradeURL == "" {
		return fmt.Errorf("feeds.trade_url is required")
	}
	if c.Flow.Window <= 0 {
		return fmt.Errorf("flow.window must be > 0")
	}
	if c.Flow.MinPressure < 0 {
		return fmt.Errorf("flow.min_pressure must be >= 0")
	}
	if c.Trades.Capacity <= 0 {
		return fmt.Errorf("trades.capacity must be > 0")
	}
	if c.Analytics.SnapshotInterval <= 0 {
		return fmt.Errorf("analytics.snapshot_interval must be > 0")
	}
	if c.Analytics.BatchSize <= 0 {
		return fmt.Errorf("analytics.batch_size must be > 0")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug|info|warn|error")
	}
	return nil
}
