package config

import (
	"os"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
engine:
  contamination: 0.05
  price_z_threshold: 3.0
  weights:
    price: 0.5
    volume: 0.3
    ml: 0.2
    volatility: 0.0

model:
  persist: true

ingest:
  input_paths:
    - ./data/acme.csv
    - ./data/globex.csv
  default_symbol: ACME

monitor:
  poll_interval: 15m
  top_n: 5

telegram:
  bot_token: "test_token"
  chat_id: "12345"
  enabled: true

storage:
  db_path: "./data/test.db"

logging:
  level: "info"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Engine.Contamination != 0.05 {
		t.Errorf("Unexpected contamination: %v", cfg.Engine.Contamination)
	}
	if cfg.Engine.VolumeZThreshold != 2.0 {
		t.Errorf("volume threshold should keep its default, got %v", cfg.Engine.VolumeZThreshold)
	}
	if cfg.Engine.Weights.Price != 0.5 || cfg.Engine.Weights.Volatility != 0 {
		t.Errorf("Unexpected weights: %+v", cfg.Engine.Weights)
	}
	if cfg.Model.Name != "isolation_forest" {
		t.Errorf("Unexpected model name: %q", cfg.Model.Name)
	}
	if len(cfg.Ingest.InputPaths) != 2 {
		t.Errorf("Expected 2 input paths, got %d", len(cfg.Ingest.InputPaths))
	}
	if cfg.Monitor.PollInterval != 15*time.Minute {
		t.Errorf("Unexpected poll interval: %v", cfg.Monitor.PollInterval)
	}
	if cfg.Telegram.RetryDelayBase != time.Second {
		t.Errorf("Unexpected retry delay: %v", cfg.Telegram.RetryDelayBase)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	es := cfg.EngineSettings()
	if es.Detector.PriceZThreshold != 3.0 || es.Ensemble.Contamination != 0.05 {
		t.Errorf("engine settings not mapped: %+v", es)
	}
	if es.Ensemble.MinRows != 10 || es.Detector.PriceMAHigh != 1.1 {
		t.Errorf("unexposed settings should keep defaults: %+v", es)
	}
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Engine.PriceZThreshold != 2.5 || cfg.Engine.NEstimators != 100 || cfg.Engine.RandomSeed != 42 {
		t.Errorf("Unexpected engine defaults: %+v", cfg.Engine)
	}
	if cfg.Monitor.PollInterval != 0 {
		t.Errorf("default should run once, got %v", cfg.Monitor.PollInterval)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TRADEGUARD_ENGINE_CONTAMINATION", "0.2")
	t.Setenv("TRADEGUARD_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.Contamination != 0.2 {
		t.Errorf("contamination = %v, want 0.2", cfg.Engine.Contamination)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidateErrors(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing telegram token when enabled", func(c *Config) { c.Telegram.Enabled = true; c.Telegram.ChatID = "1" }},
		{"missing telegram chat when enabled", func(c *Config) { c.Telegram.Enabled = true; c.Telegram.BotToken = "x" }},
		{"zero contamination", func(c *Config) { c.Engine.Contamination = 0 }},
		{"contamination above half", func(c *Config) { c.Engine.Contamination = 0.6 }},
		{"non-positive price threshold", func(c *Config) { c.Engine.PriceZThreshold = 0 }},
		{"negative weight", func(c *Config) { c.Engine.Weights.ML = -0.1 }},
		{"no neighbours", func(c *Config) { c.Engine.NNeighbors = 0 }},
		{"no trees", func(c *Config) { c.Engine.NEstimators = 0 }},
		{"persist without name", func(c *Config) { c.Model.Persist = true; c.Model.Name = "" }},
		{"poll interval too short", func(c *Config) { c.Monitor.PollInterval = 10 * time.Second }},
		{"zero top n", func(c *Config) { c.Monitor.TopN = 0 }},
		{"zero max runs", func(c *Config) { c.Storage.MaxRuns = 0 }},
		{"metrics without addr", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Addr = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() expected error")
			}
		})
	}

	t.Run("weights need not sum to one", func(t *testing.T) {
		cfg := valid()
		cfg.Engine.Weights.Price = 2
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() = %v", err)
		}
	})
}
