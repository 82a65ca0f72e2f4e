// Package config loads and validates crewflow configuration.
//
// Resolution order:
//  1. Built-in defaults (Default)
//  2. Optional crewflow.yaml overrides (non-empty user values win)
//  3. Environment variables referenced from the YAML via {{.VAR}} templates
//
// Invalid configuration is rejected at load time; the orchestrator never
// starts with a config that failed validation.
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete crewflow configuration.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LLMConfig holds settings for the OpenAI-compatible endpoint and the
// resilience policy wrapped around every call to it.
type LLMConfig struct {
	// BaseURL is the OpenAI-compatible API root, e.g. "http://127.0.0.1:8080/v1".
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as the bearer credential. Local servers typically
	// ignore it; the default is a placeholder.
	APIKey string `yaml:"api_key"`

	// Model is the model identifier passed on every completion request.
	Model string `yaml:"model"`

	// Timeout bounds a single completion request, including streaming reads.
	Timeout Duration `yaml:"timeout"`

	// MaxRetries is the total number of attempts per logical call.
	MaxRetries int `yaml:"max_retries"`

	// RetryInitialDelay seeds the exponential backoff between attempts.
	RetryInitialDelay Duration `yaml:"retry_initial_delay"`

	// RetryMaxDelay caps the backoff delay.
	RetryMaxDelay Duration `yaml:"retry_max_delay"`

	// BreakerFailureThreshold is the consecutive-failure count that opens
	// the per-endpoint circuit breaker.
	BreakerFailureThreshold int `yaml:"breaker_failure_threshold"`

	// BreakerRecoveryTimeout is how long the breaker stays open before
	// probing with half-open calls.
	BreakerRecoveryTimeout Duration `yaml:"breaker_recovery_timeout"`

	// BreakerHalfOpenSuccesses is the consecutive-success count that closes
	// the breaker again.
	BreakerHalfOpenSuccesses int `yaml:"breaker_half_open_successes"`

	// Streaming toggles SSE streaming of completions. Pointer so an explicit
	// false in YAML survives the merge with defaults.
	Streaming *bool `yaml:"streaming"`

	// MaxTokens is the completion token limit per request.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature for sampling. Pointer so an explicit 0 survives the merge.
	Temperature *float32 `yaml:"temperature"`
}

// StreamingEnabled reports whether streaming is on, defaulting to true.
func (c LLMConfig) StreamingEnabled() bool {
	if c.Streaming == nil {
		return true
	}
	return *c.Streaming
}

// SamplingTemperature returns the configured temperature, defaulting to 0.7.
func (c LLMConfig) SamplingTemperature() float32 {
	if c.Temperature == nil {
		return 0.7
	}
	return *c.Temperature
}

// WorkflowConfig holds workflow execution settings.
type WorkflowConfig struct {
	// MaxConcurrentAgents bounds how many agent nodes may run at once
	// during parallel fan-out.
	MaxConcurrentAgents int `yaml:"max_concurrent_agents"`

	// Workspace is the directory generated files are rooted under.
	Workspace string `yaml:"workspace"`

	// OutputDir is where workflow artifact JSON files are written.
	OutputDir string `yaml:"output_dir"`
}

// CheckpointConfig selects and configures the checkpoint store.
type CheckpointConfig struct {
	// Backend is one of "memory", "file", or "postgres".
	Backend string `yaml:"backend"`

	// Dir is the checkpoint directory for the file backend. Empty means
	// <workspace>/checkpoints.
	Dir string `yaml:"dir"`

	// DatabaseURL is the connection string for the postgres backend.
	// Falls back to the DATABASE_URL environment variable when empty.
	DatabaseURL string `yaml:"database_url"`
}

// LoggingConfig controls the slog setup.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `yaml:"level"`
}

// SlogLevel maps the configured level string to a slog.Level.
// Unknown values fall back to INFO.
func (c LoggingConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// CheckpointDir resolves the effective checkpoint directory for the file
// backend, defaulting to <workspace>/checkpoints.
func (c *Config) CheckpointDir() string {
	if c.Checkpoint.Dir != "" {
		return c.Checkpoint.Dir
	}
	return filepath.Join(c.Workflow.Workspace, "checkpoints")
}

// Duration wraps time.Duration so YAML may express durations either as Go
// duration strings ("90s", "2m") or as plain numeric seconds (300, 1.5).
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML accepts "!!str" duration literals and "!!int"/"!!float"
// second counts.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Tag {
	case "!!int", "!!float":
		var seconds float64
		if err := value.Decode(&seconds); err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		*d = Duration(time.Duration(seconds * float64(time.Second)))
		return nil
	case "!!str":
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration: expected string or number, got %s", value.Tag)
	}
}
