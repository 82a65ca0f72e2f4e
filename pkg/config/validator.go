package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks the configuration for values the orchestrator cannot run
// with. All problems are reported together rather than one at a time.
func (c *Config) Validate() error {
	var errs []error

	if c.LLM.BaseURL == "" {
		errs = append(errs, newValidationError("llm.base_url", ErrMissingRequiredField, ""))
	} else if _, err := url.Parse(c.LLM.BaseURL); err != nil {
		errs = append(errs, newValidationError("llm.base_url", ErrInvalidValue, err.Error()))
	}
	if c.LLM.Model == "" {
		errs = append(errs, newValidationError("llm.model", ErrMissingRequiredField, ""))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, newValidationError("llm.timeout", ErrInvalidValue, "must be positive"))
	}
	if c.LLM.MaxRetries < 1 {
		errs = append(errs, newValidationError("llm.max_retries", ErrInvalidValue, "must be at least 1"))
	}
	if c.LLM.RetryInitialDelay <= 0 {
		errs = append(errs, newValidationError("llm.retry_initial_delay", ErrInvalidValue, "must be positive"))
	}
	if c.LLM.RetryMaxDelay < c.LLM.RetryInitialDelay {
		errs = append(errs, newValidationError("llm.retry_max_delay", ErrInvalidValue, "must be >= retry_initial_delay"))
	}
	if c.LLM.BreakerFailureThreshold < 1 {
		errs = append(errs, newValidationError("llm.breaker_failure_threshold", ErrInvalidValue, "must be at least 1"))
	}
	if c.LLM.BreakerRecoveryTimeout <= 0 {
		errs = append(errs, newValidationError("llm.breaker_recovery_timeout", ErrInvalidValue, "must be positive"))
	}
	if c.LLM.BreakerHalfOpenSuccesses < 1 {
		errs = append(errs, newValidationError("llm.breaker_half_open_successes", ErrInvalidValue, "must be at least 1"))
	}
	if c.LLM.MaxTokens < 1 {
		errs = append(errs, newValidationError("llm.max_tokens", ErrInvalidValue, "must be at least 1"))
	}

	if c.Workflow.MaxConcurrentAgents < 1 {
		errs = append(errs, newValidationError("workflow.max_concurrent_agents", ErrInvalidValue, "must be at least 1"))
	}
	if c.Workflow.Workspace == "" {
		errs = append(errs, newValidationError("workflow.workspace", ErrMissingRequiredField, ""))
	}
	if c.Workflow.OutputDir == "" {
		errs = append(errs, newValidationError("workflow.output_dir", ErrMissingRequiredField, ""))
	}

	switch c.Checkpoint.Backend {
	case BackendMemory, BackendFile:
	case BackendPostgres:
		if c.Checkpoint.DatabaseURL == "" {
			errs = append(errs, newValidationError("checkpoint.database_url", ErrMissingRequiredField,
				"required for the postgres backend (or set DATABASE_URL)"))
		}
	default:
		errs = append(errs, newValidationError("checkpoint.backend", ErrInvalidValue,
			fmt.Sprintf("unknown backend %q (expected memory, file, or postgres)", c.Checkpoint.Backend)))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}
