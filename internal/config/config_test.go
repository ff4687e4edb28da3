package config

import (
	"testing"

	"github.com/spf13/viper"
)

func validConfig() Config {
	return Config{
		Feeds: FeedsConfig{
			LOBURL:   "wss://example/depth",
			TradeURL: "wss://example/trade",
		},
		Flow: FlowConfig{
			Window:      1,
			MinPressure: 1,
		},
		Trades: TradesConfig{Capacity: 100},
		Analytics: AnalyticsConfig{
			SnapshotInterval: 1,
			BatchSize:        10,
		},
		Store:   StoreConfig{DataDir: "data"},
		Logging: LoggingConfig{Level: "info"},
	}
}

func TestValidate_OK(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config to pass, got %v", err)
	}
}

func TestValidate_MissingLOBURL(t *testing.T) {
	cfg := validConfig()
	cfg.Feeds.LOBURL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing lob_url")
	}
}

func TestValidate_MissingTradeURL(t *testing.T) {
	cfg := validConfig()
	cfg.Feeds.TradeURL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing trade_url")
	}
}

func TestValidate_NonPositiveWindow(t *testing.T) {
	cfg := validConfig()
	cfg.Flow.Window = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for non-positive flow.window")
	}
}

func TestValidate_NegativeMinPressure(t *testing.T) {
	cfg := validConfig()
	cfg.Flow.MinPressure = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative flow.min_pressure")
	}
}

func TestValidate_NonPositiveCapacity(t *testing.T) {
	cfg := validConfig()
	cfg.Trades.Capacity = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for non-positive trades.capacity")
	}
}

func TestValidate_InvalidLoggingLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid logging.level")
	}
}

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	if got := v.GetString("feeds.symbol"); got != "BTCUSDT" {
		t.Errorf("expected default symbol BTCUSDT, got %s", got)
	}
	if got := v.GetInt("trades.capacity"); got != 5000 {
		t.Errorf("expected default trades.capacity 5000, got %d", got)
	}
	if got := v.GetFloat64("flow.min_pressure"); got != 2.5 {
		t.Errorf("expected default flow.min_pressure 2.5, got %f", got)
	}
}
