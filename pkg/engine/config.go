package engine

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/germanamz/promode/pkg/modeladapter"
)

// Environment variables that override the loaded configuration.
const (
	EnvBaseURL      = "PROMODE_BASE_URL"
	EnvAPIKey       = "PROMODE_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvModel        = "PROMODE_MODEL"
)

// Config is the top-level engine configuration.
type Config struct {
	Backend      BackendConfig     `yaml:"backend"`
	Model        string            `yaml:"model"`
	MaxTokens    int               `yaml:"max_tokens"`
	Agents       int               `yaml:"n_agents"`
	Stream       bool              `yaml:"stream"`
	Concurrency  int               `yaml:"concurrency"`
	Retry        RetryConfig       `yaml:"retry"`
	Temperatures TemperatureConfig `yaml:"temperatures"`
	Pause        string            `yaml:"pause"` // Delay between sequential candidates, e.g. "500ms".
}

// BackendConfig describes the OpenAI-compatible endpoint.
type BackendConfig struct {
	BaseURL string            `yaml:"base_url"`
	APIKey  string            `yaml:"api_key"` //nolint:gosec // configuration field, not a hardcoded secret
	Headers map[string]string `yaml:"headers"`
	Timeout string            `yaml:"timeout"` // Cap on each whole call, streaming included; empty means no cap.
}

// RetryConfig controls the per-call retry budget.
type RetryConfig struct {
	Attempts  int    `yaml:"attempts"`   // Total tries per call (default 3).
	BaseDelay string `yaml:"base_delay"` // Initial backoff, doubled after each failure; must be positive (default "500ms").
}

// TemperatureConfig holds the sampling temperatures of both phases.
type TemperatureConfig struct {
	Candidate float64 `yaml:"candidate"`
	Synthesis float64 `yaml:"synthesis"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Model:       "gpt-oss:20b",
		MaxTokens:   30000,
		Agents:      5,
		Stream:      true,
		Concurrency: 1,
		Retry: RetryConfig{
			Attempts:  3,
			BaseDelay: "500ms",
		},
		Temperatures: TemperatureConfig{
			Candidate: 0.9,
			Synthesis: 0.2,
		},
		Pause: "500ms",
	}
}

// LoadConfig reads a YAML file over DefaultConfig and applies environment
// overrides. Environment variables referenced as ${VAR} or $VAR in the YAML
// are expanded before parsing, so API keys can live in the environment (for
// example loaded from a .env file) rather than in the file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("engine: load config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("engine: parse config: %w", err)
	}

	return cfg.WithEnv(), nil
}

// WithEnv returns a copy of c with PROMODE_* overrides applied. The API key
// falls back to OPENAI_API_KEY when neither the file nor PROMODE_API_KEY set it.
func (c Config) WithEnv() Config {
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Model = v
	}

	switch {
	case os.Getenv(EnvAPIKey) != "":
		c.Backend.APIKey = os.Getenv(EnvAPIKey)
	case c.Backend.APIKey == "":
		c.Backend.APIKey = os.Getenv(EnvOpenAIAPIKey)
	}

	return c
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.Model == "" {
		return errors.New("engine: config: model is required")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("engine: config: max_tokens must be >= 1, got %d", c.MaxTokens)
	}
	if c.Agents < 1 {
		return fmt.Errorf("engine: config: n_agents must be >= 1, got %d", c.Agents)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("engine: config: concurrency must be >= 0, got %d", c.Concurrency)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("engine: config: retry.attempts must be >= 1, got %d", c.Retry.Attempts)
	}

	for name, t := range map[string]float64{
		"candidate": c.Temperatures.Candidate,
		"synthesis": c.Temperatures.Synthesis,
	} {
		if t < 0 || t > modeladapter.MaxTemperature {
			return fmt.Errorf("engine: config: temperatures.%s %.2f outside [0, 2]", name, t)
		}
	}

	for field, val := range map[string]string{
		"retry.base_delay": c.Retry.BaseDelay,
		"pause":            c.Pause,
		"backend.timeout":  c.Backend.Timeout,
	} {
		if _, err := parseDuration(val); err != nil {
			return fmt.Errorf("engine: config: %s: %w", field, err)
		}
	}

	// A zero backoff cannot be told apart from "unset" further down.
	if d, _ := parseDuration(c.Retry.BaseDelay); c.Retry.BaseDelay != "" && d == 0 {
		return fmt.Errorf("engine: config: retry.base_delay must be > 0, got %q", c.Retry.BaseDelay)
	}

	return nil
}

// parseDuration parses a duration string. Empty means zero; negative values
// are rejected.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}

	return d, nil
}

// durations returns the parsed retry delay, pause and client timeout. Call
// only after Validate succeeded.
func (c Config) durations() (baseDelay, pause, timeout time.Duration) {
	baseDelay, _ = parseDuration(c.Retry.BaseDelay)
	pause, _ = parseDuration(c.Pause)
	timeout, _ = parseDuration(c.Backend.Timeout)
	return baseDelay, pause, timeout
}
