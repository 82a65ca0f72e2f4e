package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestIsContextSizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "bare overflow message",
			err:  errors.New("the request exceeds the available context size (32768 tokens)"),
			want: true,
		},
		{
			name: "wrapped overflow message",
			err:  fmt.Errorf("call failed: %w", errors.New("prompt exceeds the available context size (8192 tokens)")),
			want: true,
		},
		{
			name: "unrelated error",
			err:  errors.New("connection refused"),
			want: false,
		},
		{
			name: "nil",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsContextSizeError(tt.err))
		})
	}
}

func TestContextWindowFromError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   int
		wantOK bool
	}{
		{
			name:   "plural tokens",
			err:    errors.New("exceeds the available context size (32768 tokens)"),
			want:   32768,
			wantOK: true,
		},
		{
			name:   "singular token",
			err:    errors.New("exceeds the available context size (1 token)"),
			want:   1,
			wantOK: true,
		},
		{
			name:   "no parenthesized count",
			err:    errors.New("exceeds the available context size"),
			wantOK: false,
		},
		{
			name:   "nil",
			err:    nil,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ContextWindowFromError(tt.err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancellation", context.Canceled, false},
		{"request timeout", context.DeadlineExceeded, true},
		{"context overflow", errors.New("exceeds the available context size (4096 tokens)"), false},
		{"rate limited", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}, true},
		{"server error", &openai.APIError{HTTPStatusCode: 503, Message: "overloaded"}, true},
		{"bad request", &openai.APIError{HTTPStatusCode: 400, Message: "malformed"}, false},
		{"transport failure", &openai.RequestError{HTTPStatusCode: 0, Err: io.ErrUnexpectedEOF}, true},
		{"gateway error body", &openai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}, true},
		{"retryable stream error", (&ErrorChunk{Message: "stream reset", Retryable: true}).Err(), true},
		{"fatal stream error", (&ErrorChunk{Message: "stream aborted", Retryable: false}).Err(), false},
		{"unknown error defaults to retry", errors.New("mystery"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetriable(tt.err))
		})
	}
}
