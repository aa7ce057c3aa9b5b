package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int `yaml:"port"`
	ReadTimeoutMS     int `yaml:"read_timeout_ms"`
	WriteTimeoutMS    int `yaml:"write_timeout_ms"`
	ShutdownTimeoutMS int `yaml:"shutdown_timeout_ms"`
}

// EngineConfig controls dispatch fan-out and retry behavior.
type EngineConfig struct {
	RateLimiterConcurrency   int `yaml:"rate_limiter_concurrency"`
	RateLimiterMinIntervalMS int `yaml:"rate_limiter_min_interval_ms"`
	RetryMaxAttempts         int `yaml:"retry_max_attempts"`
	RetryBaseDelayMS         int `yaml:"retry_base_delay_ms"`
	ExecuteTimeoutMS         int `yaml:"execute_timeout_ms"`
}

// SizingConfig defines trade sizing policy. These are deliberate policy
// parameters, not tuning literals scattered through the sizer.
type SizingConfig struct {
	ProportionalFactor float64 `yaml:"proportional_factor"` // share of the alpha's input amount
	RepeatBuyScale     float64 `yaml:"repeat_buy_scale"`    // scale-down when a same-alpha position is open
	MaxSellFraction    float64 `yaml:"max_sell_fraction"`   // ceiling on holdings sold per copied sell
	MinTradeSOL        float64 `yaml:"min_trade_sol"`
	HardCapSOL         float64 `yaml:"hard_cap_sol"`
	FeeBufferSOL       float64 `yaml:"fee_buffer_sol"`
}

// MonitorConfig controls the auto-sell sweep.
type MonitorConfig struct {
	IntervalSec int `yaml:"interval_sec"`
}

// CacheConfig defines TTL overrides in seconds; zero keeps package defaults.
type CacheConfig struct {
	TrackersTTLSec  int `yaml:"trackers_ttl_sec"`
	PriceTTLSec     int `yaml:"price_ttl_sec"`
	BlacklistTTLSec int `yaml:"blacklist_ttl_sec"`
}

// TTLOrDefault converts a seconds-granularity TTL knob into a duration,
// keeping fallback when the knob is unset.
func TTLOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

// SwapAPIConfig points at the external swap aggregator.
type SwapAPIConfig struct {
	BaseURL          string `yaml:"base_url"`
	PriceURL         string `yaml:"price_url"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"`
}

// Config aggregates all app configuration knobs.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	Sizing  SizingConfig  `yaml:"sizing"`
	Monitor MonitorConfig `yaml:"monitor"`
	Cache   CacheConfig   `yaml:"cache"`
	SwapAPI SwapAPIConfig `yaml:"swap_api"`
}

// Load reads configuration from disk, falling back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	configPath := path
	if configPath == "" {
		configPath = filepath.Join("config", "default.yaml")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: unable to read %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unable to parse %s: %w", configPath, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns baseline configuration values.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:              8082,
			ReadTimeoutMS:     10000,
			WriteTimeoutMS:    10000,
			ShutdownTimeoutMS: 5000,
		},
		Engine: EngineConfig{
			RateLimiterConcurrency:   3,
			RateLimiterMinIntervalMS: 1000,
			RetryMaxAttempts:         3,
			RetryBaseDelayMS:         1000,
			ExecuteTimeoutMS:         30000,
		},
		Sizing: SizingConfig{
			ProportionalFactor: 0.10,
			RepeatBuyScale:     0.50,
			MaxSellFraction:    0.80,
			MinTradeSOL:        0.005,
			HardCapSOL:         5.0,
			FeeBufferSOL:       0.01,
		},
		Monitor: MonitorConfig{
			IntervalSec: 30,
		},
		SwapAPI: SwapAPIConfig{
			BaseURL:          "https://quote-api.jup.ag/v6",
			PriceURL:         "https://price.jup.ag/v6",
			RequestTimeoutMS: 10000,
		},
	}
}

func (c *Config) applyDefaults() {
	def := Default()

	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.ReadTimeoutMS == 0 {
		c.Server.ReadTimeoutMS = def.Server.ReadTimeoutMS
	}
	if c.Server.WriteTimeoutMS == 0 {
		c.Server.WriteTimeoutMS = def.Server.WriteTimeoutMS
	}
	if c.Server.ShutdownTimeoutMS == 0 {
		c.Server.ShutdownTimeoutMS = def.Server.ShutdownTimeoutMS
	}
	if c.Engine.RateLimiterConcurrency <= 0 {
		c.Engine.RateLimiterConcurrency = def.Engine.RateLimiterConcurrency
	}
	if c.Engine.RateLimiterMinIntervalMS <= 0 {
		c.Engine.RateLimiterMinIntervalMS = def.Engine.RateLimiterMinIntervalMS
	}
	if c.Engine.RetryMaxAttempts <= 0 {
		c.Engine.RetryMaxAttempts = def.Engine.RetryMaxAttempts
	}
	if c.Engine.RetryBaseDelayMS <= 0 {
		c.Engine.RetryBaseDelayMS = def.Engine.RetryBaseDelayMS
	}
	if c.Engine.ExecuteTimeoutMS <= 0 {
		c.Engine.ExecuteTimeoutMS = def.Engine.ExecuteTimeoutMS
	}
	if c.Sizing.ProportionalFactor <= 0 {
		c.Sizing.ProportionalFactor = def.Sizing.ProportionalFactor
	}
	if c.Sizing.RepeatBuyScale <= 0 {
		c.Sizing.RepeatBuyScale = def.Sizing.RepeatBuyScale
	}
	if c.Sizing.MaxSellFraction <= 0 || c.Sizing.MaxSellFraction > 1 {
		c.Sizing.MaxSellFraction = def.Sizing.MaxSellFraction
	}
	if c.Sizing.MinTradeSOL <= 0 {
		c.Sizing.MinTradeSOL = def.Sizing.MinTradeSOL
	}
	if c.Sizing.HardCapSOL <= 0 {
		c.Sizing.HardCapSOL = def.Sizing.HardCapSOL
	}
	if c.Sizing.FeeBufferSOL < 0 {
		c.Sizing.FeeBufferSOL = def.Sizing.FeeBufferSOL
	}
	if c.Monitor.IntervalSec <= 0 {
		c.Monitor.IntervalSec = def.Monitor.IntervalSec
	}
	if c.SwapAPI.BaseURL == "" {
		c.SwapAPI.BaseURL = def.SwapAPI.BaseURL
	}
	if c.SwapAPI.PriceURL == "" {
		c.SwapAPI.PriceURL = def.SwapAPI.PriceURL
	}
	if c.SwapAPI.RequestTimeoutMS <= 0 {
		c.SwapAPI.RequestTimeoutMS = def.SwapAPI.RequestTimeoutMS
	}
}
