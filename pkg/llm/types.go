// Package llm talks to OpenAI-compatible chat-completions endpoints and
// manages a health-tracked pool of clients, one per endpoint+credential.
package llm

// ChatRequest is a single system+user exchange sent to the model.
type ChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float32
	Stream       bool
}

// Chunk is the interface for all streaming chunk types. A Generate call
// yields TextChunk deltas, at most one UsageChunk, and terminates the
// stream with an ErrorChunk on failure.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText  ChunkType = "text"
	ChunkTypeUsage ChunkType = "usage"
	ChunkTypeError ChunkType = "error"
)

// TextChunk is a delta of the model's text response.
type TextChunk struct{ Content string }

// UsageChunk reports token consumption for the call.
type UsageChunk struct{ PromptTokens, CompletionTokens, TotalTokens int }

// ErrorChunk signals a failure after the stream was established.
type ErrorChunk struct {
	Message   string
	Retryable bool
}

func (c *TextChunk) chunkType() ChunkType  { return ChunkTypeText }
func (c *UsageChunk) chunkType() ChunkType { return ChunkTypeUsage }
func (c *ErrorChunk) chunkType() ChunkType { return ChunkTypeError }

// Err converts the chunk into an error for non-streaming callers.
func (c *ErrorChunk) Err() error {
	return &StreamError{Message: c.Message, Retryable: c.Retryable}
}

// StreamError is an error surfaced mid-stream, after headers were already
// received. Retryable mirrors the transport-level classification.
type StreamError struct {
	Message   string
	Retryable bool
}

func (e *StreamError) Error() string { return e.Message }
