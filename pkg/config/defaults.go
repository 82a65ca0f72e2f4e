package config

import "time"

// Default returns the built-in configuration. It targets a local
// OpenAI-compatible server and works with no config file at all.
func Default() *Config {
	streaming := true
	temperature := float32(0.7)

	return &Config{
		LLM: LLMConfig{
			BaseURL:                  "http://127.0.0.1:8080/v1",
			APIKey:                   "not-needed",
			Model:                    "devstral",
			Timeout:                  Duration(300 * time.Second),
			MaxRetries:               3,
			RetryInitialDelay:        Duration(1 * time.Second),
			RetryMaxDelay:            Duration(60 * time.Second),
			BreakerFailureThreshold:  5,
			BreakerRecoveryTimeout:   Duration(60 * time.Second),
			BreakerHalfOpenSuccesses: 3,
			Streaming:                &streaming,
			MaxTokens:                2048,
			Temperature:              &temperature,
		},
		Workflow: WorkflowConfig{
			MaxConcurrentAgents: 5,
			Workspace:           ".",
			OutputDir:           "./output",
		},
		Checkpoint: CheckpointConfig{
			Backend: BackendFile,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}

// Checkpoint backend identifiers.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
)
