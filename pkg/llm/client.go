package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client is a thin wrapper over an OpenAI-compatible endpoint. It is safe
// for concurrent use; pooling and health tracking live in Pool.
type Client struct {
	api   *openai.Client
	model string
}

// NewClient builds a client for the given endpoint. The HTTP timeout bounds
// the whole request, including streaming reads.
func NewClient(opts Options) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.BaseURL = opts.BaseURL
	cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}

	return &Client{
		api:   openai.NewClientWithConfig(cfg),
		model: opts.Model,
	}
}

// Model returns the model identifier this client sends.
func (c *Client) Model() string { return c.model }

// Generate sends the request and returns a channel of chunks. The channel is
// closed when the response completes; failures after establishment arrive as
// an ErrorChunk terminating the stream. An immediate error means the call
// never got off the ground.
func (c *Client) Generate(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	oreq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	}

	if !req.Stream {
		return c.generateOnce(ctx, oreq)
	}
	return c.generateStream(ctx, oreq)
}

func (c *Client) generateOnce(ctx context.Context, oreq openai.ChatCompletionRequest) (<-chan Chunk, error) {
	resp, err := c.api.CreateChatCompletion(ctx, oreq)
	if err != nil {
		return nil, err
	}

	chunks := make(chan Chunk, 2)
	if len(resp.Choices) > 0 {
		chunks <- &TextChunk{Content: resp.Choices[0].Message.Content}
	}
	chunks <- &UsageChunk{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	close(chunks)
	return chunks, nil
}

func (c *Client) generateStream(ctx context.Context, oreq openai.ChatCompletionRequest) (<-chan Chunk, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, oreq)
	if err != nil {
		return nil, err
	}

	chunks := make(chan Chunk, 64)
	go func() {
		defer close(chunks)
		defer func() {
			if closeErr := stream.Close(); closeErr != nil {
				slog.Debug("Closing completion stream", "error", closeErr)
			}
		}()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				// Cancellation is reported as-is so callers can tell an
				// aborted workflow from a broken stream.
				retryable := IsRetriable(err) && ctx.Err() == nil
				send(ctx, chunks, &ErrorChunk{Message: err.Error(), Retryable: retryable})
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" {
				if !send(ctx, chunks, &TextChunk{Content: delta}) {
					return
				}
			}
		}
	}()

	return chunks, nil
}

// send delivers a chunk unless the context is done first.
func send(ctx context.Context, chunks chan<- Chunk, c Chunk) bool {
	select {
	case chunks <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
