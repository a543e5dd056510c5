// Package config loads the runtime configuration for the turn-loop engine:
// model bindings, retry tunables, and compaction thresholds. Channel, auth,
// marketplace, and plugin configuration are out of scope here.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forgewright/coreloop/internal/retry"
)

// Config is the root configuration structure.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Retry      RetryConfig      `yaml:"retry"`
	Compaction CompactionConfig `yaml:"compaction"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LLMConfig binds agents to providers and models.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain specifies provider IDs to try if the default provider fails,
	// tried in order until one succeeds.
	FallbackChain []string `yaml:"fallback_chain"`
}

// LLMProviderConfig configures a single provider binding.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
	APIVersion   string `yaml:"api_version"`
}

// RetryConfig mirrors the Retry Driver's tunables.
type RetryConfig struct {
	// MaxRetryAttempts is how many additional attempts are made after the first.
	MaxRetryAttempts int `yaml:"max_retry_attempts"`

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration `yaml:"initial_backoff_ms"`

	// MaxDelay caps the computed retry delay, if set.
	MaxDelay time.Duration `yaml:"max_delay_ms"`

	// MinDelay is the floor every computed delay is raised to.
	MinDelay time.Duration `yaml:"min_delay_ms"`

	// BackoffFactor scales the delay between attempts.
	BackoffFactor float64 `yaml:"backoff_factor"`

	// RetryStatusCodes are the HTTP status codes treated as retryable.
	RetryStatusCodes []int `yaml:"retry_status_codes"`

	// SuppressRetryErrors, when true, hides intermediate retry attempts from
	// the response stream (still logged at debug level).
	SuppressRetryErrors bool `yaml:"suppress_retry_errors"`
}

// DefaultRetryConfig matches the Retry Driver's documented defaults.
func DefaultRetryConfig() RetryConfig {
	d := retry.DefaultConfig()
	return RetryConfig{
		MaxRetryAttempts: d.MaxRetryAttempts,
		InitialBackoff:   d.InitialBackoff,
		MinDelay:         d.MinDelay,
		BackoffFactor:    d.BackoffFactor,
		RetryStatusCodes: d.RetryStatusCodes,
	}
}

// ToRetryConfig converts the loaded configuration into the Retry Driver's
// own Config type.
func (c RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxRetryAttempts: c.MaxRetryAttempts,
		InitialBackoff:   c.InitialBackoff,
		MaxDelay:         c.MaxDelay,
		MinDelay:         c.MinDelay,
		BackoffFactor:    c.BackoffFactor,
		RetryStatusCodes: c.RetryStatusCodes,
	}
}

// CompactionConfig mirrors the Compactor's tunables.
type CompactionConfig struct {
	// MaxTokens is the context-window budget that triggers compaction once
	// exceeded. Zero means "use the model's own context window".
	MaxTokens int `yaml:"max_tokens"`

	// RetentionWindow is how many most-recent messages are always preserved
	// (the "last n" in find_sequence_preserving_last_n).
	RetentionWindow int `yaml:"retention_window"`

	// EvictFraction, if set, evicts this fraction of eligible tokens instead
	// of a fixed message count.
	EvictFraction float64 `yaml:"evict_fraction"`

	// SummaryModel overrides the model used to summarize evicted messages.
	SummaryModel string `yaml:"summary_model"`
}

// LoggingConfig configures the zap-backed logger.
type LoggingConfig struct {
	Level          string   `yaml:"level"`
	Format         string   `yaml:"format"` // "json" or "console"
	RedactPatterns []string `yaml:"redact_patterns"`
}

// Default returns a Config with sensible, documented defaults.
func Default() Config {
	return Config{
		Retry: DefaultRetryConfig(),
		Compaction: CompactionConfig{
			RetentionWindow: 8,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads and parses a YAML config file, applying defaults for any zero
// fields the file leaves unset.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.Retry.MaxRetryAttempts == 0 && len(cfg.Retry.RetryStatusCodes) == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	return cfg, nil
}
