// Package config loads agent configuration from YAML with environment
// variable overlay.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for the forecasting agent.
type Config struct {
	Model       ModelConfig       `yaml:"model"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Budget      BudgetConfig      `yaml:"budget"`
	HTTP        HTTPConfig        `yaml:"http"`
	RateLimits  RateLimitConfig   `yaml:"rate_limits"`
	Sandbox     SandboxConfig     `yaml:"sandbox"`
	Notes       NotesConfig       `yaml:"notes"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ModelConfig selects the reasoning model.
type ModelConfig struct {
	// ID is the model identifier passed to the provider.
	ID string `yaml:"id"`
	// MaxTokens caps tokens per model response.
	MaxTokens int `yaml:"max_tokens"`
}

// CredentialsConfig holds API credentials. Each field has a standard
// environment variable that takes precedence over the YAML value.
type CredentialsConfig struct {
	MetaculusToken string `yaml:"metaculus_token"`
	AnthropicKey   string `yaml:"anthropic_key"`
	ExaKey         string `yaml:"exa_key"`
	AskNewsID      string `yaml:"asknews_id"`
	AskNewsSecret  string `yaml:"asknews_secret"`
	FredKey        string `yaml:"fred_key"`
}

// BudgetConfig caps spend per forecast.
type BudgetConfig struct {
	// MaxTurns bounds model loop iterations per forecast (0 = default).
	MaxTurns int `yaml:"max_turns"`
	// MaxCostUSD bounds model spend per forecast (0 = unlimited).
	MaxCostUSD float64 `yaml:"max_cost_usd"`
	// SubforecastMaxTurns bounds each spawned sub-forecast; must be
	// smaller than MaxTurns.
	SubforecastMaxTurns int `yaml:"subforecast_max_turns"`
}

// HTTPConfig sets client timeouts.
type HTTPConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	WaybackTimeout time.Duration `yaml:"wayback_timeout"`
}

// RateLimitConfig sets per-resource concurrency ceilings.
type RateLimitConfig struct {
	Metaculus int64 `yaml:"metaculus"`
	Search    int64 `yaml:"search"`
	Wayback   int64 `yaml:"wayback"`
}

// SandboxConfig configures the code execution container.
type SandboxConfig struct {
	// Enabled exposes the execute_code/install_package tools. Requires a
	// working docker daemon.
	Enabled     bool          `yaml:"enabled"`
	Image       string        `yaml:"image"`
	MemoryLimit string        `yaml:"memory_limit"`
	Timeout     time.Duration `yaml:"timeout"`
}

// NotesConfig sets the on-disk layout roots.
type NotesConfig struct {
	// BaseDir is the root for notes/ and logs/ (default ".").
	BaseDir string `yaml:"base_dir"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the optional /metrics endpoint in loop mode.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			ID:        "claude-sonnet-4-20250514",
			MaxTokens: 8192,
		},
		Budget: BudgetConfig{
			MaxTurns:            60,
			SubforecastMaxTurns: 20,
		},
		HTTP: HTTPConfig{
			Timeout:        30 * time.Second,
			WaybackTimeout: 15 * time.Second,
		},
		RateLimits: RateLimitConfig{
			Metaculus: 5,
			Search:    3,
			Wayback:   5,
		},
		Sandbox: SandboxConfig{
			Image:       "python:3.12-slim",
			MemoryLimit: "1g",
			Timeout:     120 * time.Second,
		},
		Notes: NotesConfig{
			BaseDir: ".",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: ":9190",
		},
	}
}

// Load reads configuration from path (optional) and overlays environment
// variables. A local .env file is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	overlay := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	overlay(&c.Credentials.MetaculusToken, "METACULUS_TOKEN")
	overlay(&c.Credentials.AnthropicKey, "ANTHROPIC_API_KEY")
	overlay(&c.Credentials.ExaKey, "EXA_API_KEY")
	overlay(&c.Credentials.AskNewsID, "ASKNEWS_CLIENT_ID")
	overlay(&c.Credentials.AskNewsSecret, "ASKNEWS_SECRET")
	overlay(&c.Credentials.FredKey, "FRED_API_KEY")

	overlay(&c.Model.ID, "AUGUR_MODEL")
	overlay(&c.Notes.BaseDir, "AUGUR_NOTES_DIR")
	overlay(&c.Logging.Level, "AUGUR_LOG_LEVEL")

	if v := os.Getenv("AUGUR_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Budget.MaxTurns = n
		}
	}
	if v := os.Getenv("AUGUR_MAX_COST_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			c.Budget.MaxCostUSD = f
		}
	}
	if v := os.Getenv("AUGUR_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.HTTP.Timeout = d
		}
	}
	if v := os.Getenv("AUGUR_SANDBOX"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Sandbox.Enabled = b
		}
	}
}

func (c *Config) validate() error {
	if c.Model.ID == "" {
		return fmt.Errorf("model.id must not be empty")
	}
	if c.Budget.SubforecastMaxTurns > c.Budget.MaxTurns {
		return fmt.Errorf("budget.subforecast_max_turns (%d) exceeds budget.max_turns (%d)",
			c.Budget.SubforecastMaxTurns, c.Budget.MaxTurns)
	}
	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = 30 * time.Second
	}
	if c.HTTP.WaybackTimeout <= 0 {
		c.HTTP.WaybackTimeout = 15 * time.Second
	}
	return nil
}
