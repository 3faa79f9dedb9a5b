package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rewired-gh/tradeguard/internal/detector"
	"github.com/rewired-gh/tradeguard/internal/engine"
	"github.com/rewired-gh/tradeguard/internal/ensemble"
	"github.com/rewired-gh/tradeguard/internal/risk"
)

// Config represents the complete application configuration
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Model    ModelConfig    `mapstructure:"model"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// EngineConfig holds detector thresholds, model parameters and risk weights
type EngineConfig struct {
	Contamination    float64      `mapstructure:"contamination"`
	PriceZThreshold  float64      `mapstructure:"price_z_threshold"`
	VolumeZThreshold float64      `mapstructure:"volume_z_threshold"`
	IQRMultiplier    float64      `mapstructure:"iqr_multiplier"`
	NEstimators      int          `mapstructure:"n_estimators"`
	NNeighbors       int          `mapstructure:"n_neighbors"`
	RandomSeed       int64        `mapstructure:"random_seed"`
	Weights          risk.Weights `mapstructure:"weights"`
}

// ModelConfig controls whether the fitted isolation forest is persisted
type ModelConfig struct {
	Persist bool   `mapstructure:"persist"`
	Name    string `mapstructure:"name"`
}

// IngestConfig lists the CSV inputs analyzed each cycle
type IngestConfig struct {
	InputPaths    []string `mapstructure:"input_paths"`
	DefaultSymbol string   `mapstructure:"default_symbol"`
}

// MonitorConfig holds the service loop configuration. A zero poll interval
// runs a single cycle.
type MonitorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	TopN         int           `mapstructure:"top_n"`
	// Cooldown suppresses re-reporting the same symbol and day.
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath  string `mapstructure:"db_path"`
	MaxRuns int    `mapstructure:"max_runs"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables. A .env file
// in the working directory is loaded first when present. An empty path
// uses defaults and the environment only.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("TRADEGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	d := detector.DefaultConfig()
	e := ensemble.DefaultConfig()
	w := risk.DefaultWeights()

	// Engine defaults
	v.SetDefault("engine.contamination", e.Contamination)
	v.SetDefault("engine.price_z_threshold", d.PriceZThreshold)
	v.SetDefault("engine.volume_z_threshold", d.VolumeZThreshold)
	v.SetDefault("engine.iqr_multiplier", d.IQRMultiplier)
	v.SetDefault("engine.n_estimators", e.NEstimators)
	v.SetDefault("engine.n_neighbors", e.NNeighbors)
	v.SetDefault("engine.random_seed", e.Seed)
	v.SetDefault("engine.weights.price", w.Price)
	v.SetDefault("engine.weights.volume", w.Volume)
	v.SetDefault("engine.weights.ml", w.ML)
	v.SetDefault("engine.weights.volatility", w.Volatility)

	// Model defaults
	v.SetDefault("model.persist", false)
	v.SetDefault("model.name", "isolation_forest")

	// Ingest defaults
	v.SetDefault("ingest.input_paths", []string{})
	v.SetDefault("ingest.default_symbol", "")

	// Monitor defaults
	v.SetDefault("monitor.poll_interval", "0s")
	v.SetDefault("monitor.top_n", 10)
	v.SetDefault("monitor.cooldown", "24h")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/tradeguard.db")
	v.SetDefault("storage.max_runs", 1000)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Engine config
	e := c.Engine
	if e.Contamination <= 0 || e.Contamination > 0.5 {
		return fmt.Errorf("engine.contamination must be in (0, 0.5]")
	}
	if e.PriceZThreshold <= 0 {
		return fmt.Errorf("engine.price_z_threshold must be positive")
	}
	if e.VolumeZThreshold <= 0 {
		return fmt.Errorf("engine.volume_z_threshold must be positive")
	}
	if e.IQRMultiplier <= 0 {
		return fmt.Errorf("engine.iqr_multiplier must be positive")
	}
	if e.NEstimators < 1 {
		return fmt.Errorf("engine.n_estimators must be at least 1")
	}
	if e.NNeighbors < 1 {
		return fmt.Errorf("engine.n_neighbors must be at least 1")
	}
	if e.Weights.Price < 0 || e.Weights.Volume < 0 || e.Weights.ML < 0 || e.Weights.Volatility < 0 {
		return fmt.Errorf("engine.weights must not be negative")
	}

	// Validate Model config
	if c.Model.Persist && c.Model.Name == "" {
		return fmt.Errorf("model.name is required when model.persist is enabled")
	}

	// Validate Monitor config
	if c.Monitor.PollInterval < 0 {
		return fmt.Errorf("monitor.poll_interval must not be negative")
	}
	if c.Monitor.PollInterval > 0 && c.Monitor.PollInterval < time.Minute {
		return fmt.Errorf("monitor.poll_interval must be at least 1 minute")
	}
	if c.Monitor.TopN < 1 {
		return fmt.Errorf("monitor.top_n must be at least 1")
	}
	if c.Monitor.Cooldown < 0 {
		return fmt.Errorf("monitor.cooldown must not be negative")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Storage config
	if c.Storage.MaxRuns < 1 {
		return fmt.Errorf("storage.max_runs must be at least 1")
	}

	// Validate Metrics config
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// EngineSettings maps the engine section onto the analysis pipeline config.
// Settings not exposed in the file keep their defaults.
func (c *Config) EngineSettings() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Detector.PriceZThreshold = c.Engine.PriceZThreshold
	cfg.Detector.VolumeZThreshold = c.Engine.VolumeZThreshold
	cfg.Detector.IQRMultiplier = c.Engine.IQRMultiplier
	cfg.Ensemble.Contamination = c.Engine.Contamination
	cfg.Ensemble.NEstimators = c.Engine.NEstimators
	cfg.Ensemble.NNeighbors = c.Engine.NNeighbors
	cfg.Ensemble.Seed = c.Engine.RandomSeed
	cfg.Weights = c.Engine.Weights
	return cfg
}
