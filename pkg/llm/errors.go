package llm

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Servers report a too-large prompt with a message like:
//
//	the request exceeds the available context size (32768 tokens)
//
// Detection is by substring so wrapped and mid-stream errors match too.
const contextSizeMarker = "exceeds the available context size"

var contextSizePattern = regexp.MustCompile(`\((\d+) tokens?\)`)

// IsContextSizeError reports whether err is the endpoint rejecting a prompt
// that does not fit its context window. Such errors are deterministic and
// must not be retried as-is; the caller shrinks the prompt instead.
func IsContextSizeError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), contextSizeMarker)
}

// ContextWindowFromError extracts the advertised context size in tokens from
// a context-size error message.
func ContextWindowFromError(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	m := contextSizePattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	n, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return 0, false
	}
	return n, true
}

// IsRetriable classifies err for the retry policy: connection failures,
// timeouts, 429s, and 5xx responses are worth another attempt. Context-size
// errors and cancellations are not; the circuit breaker's own rejection is
// excluded by the caller.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if IsContextSizeError(err) {
		return false
	}

	var streamErr *StreamError
	if errors.As(err, &streamErr) {
		return streamErr.Retryable
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 0 {
			// Transport-level failure before any HTTP status.
			return true
		}
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// Per-request timeout; the caller's context is checked separately.
		return true
	}

	// Unknown failure modes get the benefit of the doubt: attempts are
	// bounded and calls are idempotent.
	return true
}
