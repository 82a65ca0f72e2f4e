package agent

import (
	"context"

	"github.com/crewflow/crewflow/pkg/llm"
)

// LLMClient is the surface this package needs from a model client.
// *llm.Client implements it; tests substitute scripted fakes.
type LLMClient interface {
	Generate(ctx context.Context, req llm.ChatRequest) (<-chan llm.Chunk, error)
}

// ClientSource hands out clients and records call outcomes for health
// tracking. The key identifies the endpoint+credential pair and doubles as
// the circuit-breaker key.
type ClientSource interface {
	Acquire() (client LLMClient, key string)
	RecordSuccess(key string)
	RecordFailure(key string)
}

// PoolSource adapts llm.Pool to ClientSource for a fixed endpoint.
type PoolSource struct {
	Pool *llm.Pool
	Opts llm.Options
}

func (s *PoolSource) Acquire() (LLMClient, string) {
	return s.Pool.Acquire(s.Opts), llm.Key(s.Opts.BaseURL, s.Opts.APIKey)
}

func (s *PoolSource) RecordSuccess(key string) { s.Pool.RecordSuccess(key) }
func (s *PoolSource) RecordFailure(key string) { s.Pool.RecordFailure(key) }

// Notifier observes notable moments inside a task run. Implementations must
// not block; a nil Notifier disables notifications.
type Notifier interface {
	// TaskAction reports a coarse step such as calling the model or
	// writing extracted files.
	TaskAction(role, taskID, description string, details map[string]any)

	// TaskChunk delivers streamed response deltas as they arrive.
	TaskChunk(role, taskID, delta string)
}
