package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewflow/crewflow/pkg/graph"
	"github.com/crewflow/crewflow/pkg/llm"
	"github.com/crewflow/crewflow/pkg/resilience"
)

// scriptedCall describes one Generate invocation: an immediate error, or a
// stream of text optionally terminated by an error chunk.
type scriptedCall struct {
	text     string
	err      error
	chunkErr *llm.ErrorChunk
}

// scriptedClient plays back calls in order, repeating the last entry when
// the script runs out, and captures every request it saw.
type scriptedClient struct {
	mu       sync.Mutex
	script   []scriptedCall
	requests []llm.ChatRequest
}

func (c *scriptedClient) Generate(ctx context.Context, req llm.ChatRequest) (<-chan llm.Chunk, error) {
	c.mu.Lock()
	idx := len(c.requests)
	c.requests = append(c.requests, req)
	call := c.script[len(c.script)-1]
	if idx < len(c.script) {
		call = c.script[idx]
	}
	c.mu.Unlock()

	if call.err != nil {
		return nil, call.err
	}
	ch := make(chan llm.Chunk, 2)
	if call.text != "" {
		ch <- &llm.TextChunk{Content: call.text}
	}
	if call.chunkErr != nil {
		ch <- call.chunkErr
	}
	close(ch)
	return ch, nil
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *scriptedClient) request(i int) llm.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[i]
}

type fakeSource struct {
	client    LLMClient
	successes atomic.Int32
	failures  atomic.Int32
}

func (s *fakeSource) Acquire() (LLMClient, string) { return s.client, "fake-endpoint" }
func (s *fakeSource) RecordSuccess(string)         { s.successes.Add(1) }
func (s *fakeSource) RecordFailure(string)         { s.failures.Add(1) }

type recordedAction struct {
	description string
	details     map[string]any
}

type recordingNotifier struct {
	mu      sync.Mutex
	actions []recordedAction
	deltas  []string
}

func (n *recordingNotifier) TaskAction(role, taskID, description string, details map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.actions = append(n.actions, recordedAction{description: description, details: details})
}

func (n *recordingNotifier) TaskChunk(role, taskID, delta string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deltas = append(n.deltas, delta)
}

func newTestRunner(t *testing.T, client LLMClient, breakerThreshold, attempts int, notify Notifier) (*Runner, *fakeSource, string) {
	t.Helper()
	workspace := t.TempDir()
	source := &fakeSource{client: client}
	breakers := resilience.NewBreakerGroup(resilience.BreakerConfig{
		FailureThreshold:  breakerThreshold,
		RecoveryTimeout:   time.Minute,
		HalfOpenSuccesses: 1,
	})
	cfg := Config{
		Workspace:   workspace,
		MaxTokens:   256,
		Temperature: 0.7,
		Retry: resilience.RetryConfig{
			Attempts:     attempts,
			InitialDelay: time.Millisecond,
			MaxDelay:     4 * time.Millisecond,
			Base:         2,
		},
	}
	return NewRunner(cfg, source, breakers, notify), source, workspace
}

const happyOutput = "# Analysis\n\nDone.\n\nFile: `docs/notes.md`\n```\nhello world\n```\n"

func TestRunHappyPath(t *testing.T) {
	client := &scriptedClient{script: []scriptedCall{{text: happyOutput}}}
	notify := &recordingNotifier{}
	runner, source, workspace := newTestRunner(t, client, 5, 3, notify)

	task := NewTask("task_1", "Analyze requirements", map[string]any{"requirement": "build a cache"})
	rec := runner.Run(context.Background(), BusinessAnalyst, task)

	require.Equal(t, graph.RecordCompleted, rec.Status)
	assert.Equal(t, RoleBusinessAnalyst, rec.Role)
	assert.Equal(t, "task_1", rec.TaskID)
	assert.Equal(t, happyOutput, rec.RawOutput)
	assert.Equal(t, "Analysis", rec.Summary)
	assert.Empty(t, rec.Error)

	require.Len(t, rec.FilesCreated, 1)
	want := filepath.Join(workspace, "generated", "task_1", "business_analyst", "docs", "notes.md")
	assert.Equal(t, want, rec.FilesCreated[0])
	content, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content))

	require.Equal(t, 1, client.calls())
	req := client.request(0)
	assert.Contains(t, req.SystemPrompt, "Business Analyst")
	assert.Contains(t, req.UserPrompt, "Task: Analyze requirements")
	assert.Contains(t, req.UserPrompt, "- requirement: build a cache")
	assert.Contains(t, req.UserPrompt, "IMPORTANT: Format your analysis documents")

	assert.Equal(t, int32(1), source.successes.Load())
	assert.Equal(t, int32(0), source.failures.Load())
	assert.Equal(t, strings.Join(notify.deltas, ""), happyOutput)
}

func TestRunRetriesTransientError(t *testing.T) {
	client := &scriptedClient{script: []scriptedCall{
		{err: &llm.StreamError{Message: "connection reset by peer", Retryable: true}},
		{text: happyOutput},
	}}
	runner, source, _ := newTestRunner(t, client, 5, 3, nil)

	rec := runner.Run(context.Background(), Developer, NewTask("task_2", "Implement", nil))

	require.Equal(t, graph.RecordCompleted, rec.Status)
	assert.Equal(t, 2, client.calls())
	assert.Equal(t, int32(1), source.successes.Load())
	assert.Equal(t, int32(1), source.failures.Load())
}

func TestRunExhaustsRetries(t *testing.T) {
	client := &scriptedClient{script: []scriptedCall{
		{err: &llm.StreamError{Message: "connection reset by peer", Retryable: true}},
	}}
	runner, _, _ := newTestRunner(t, client, 10, 3, nil)

	rec := runner.Run(context.Background(), Developer, NewTask("task_3", "Implement", nil))

	require.Equal(t, graph.RecordFailed, rec.Status)
	assert.Equal(t, 3, client.calls())
	assert.Contains(t, rec.Error, "connection reset")
}

func TestRunContextSizeRetriesOnceTruncated(t *testing.T) {
	ctxErr := errors.New("the request exceeds the available context size (4096 tokens)")
	client := &scriptedClient{script: []scriptedCall{
		{err: ctxErr},
		{text: happyOutput},
	}}
	notify := &recordingNotifier{}
	runner, _, _ := newTestRunner(t, client, 5, 3, notify)

	longCtx := map[string]any{"requirement": strings.Repeat("very long requirement ", 2000)}
	rec := runner.Run(context.Background(), Developer, NewTask("task_4", "Implement", longCtx))

	require.Equal(t, graph.RecordCompleted, rec.Status)
	require.Equal(t, 2, client.calls())

	first, second := client.request(0), client.request(1)
	assert.Less(t, len(second.UserPrompt), len(first.UserPrompt))
	budget := 4096 - 1024
	assert.LessOrEqual(t,
		llm.EstimateTokens(second.SystemPrompt)+llm.EstimateTokens(second.UserPrompt),
		budget)
	assert.Contains(t, second.UserPrompt, "truncated to fit context")

	var retried bool
	for _, a := range notify.actions {
		if strings.Contains(a.description, "truncated") {
			retried = true
		}
	}
	assert.True(t, retried, "expected a truncation-retry action")
}

func TestRunSecondContextSizeFailureIsTerminal(t *testing.T) {
	ctxErr := errors.New("the request exceeds the available context size (4096 tokens)")
	client := &scriptedClient{script: []scriptedCall{
		{err: ctxErr},
		{err: ctxErr},
		{text: happyOutput},
	}}
	runner, _, _ := newTestRunner(t, client, 5, 3, nil)

	rec := runner.Run(context.Background(), Developer, NewTask("task_5", "Implement", nil))

	require.Equal(t, graph.RecordFailed, rec.Status)
	assert.Equal(t, 2, client.calls(), "truncation retry must happen at most once")
	assert.Contains(t, rec.Error, "context size")
}

func TestRunContextSizeErrorWithoutWindowFails(t *testing.T) {
	client := &scriptedClient{script: []scriptedCall{
		{err: errors.New("the request exceeds the available context size")},
	}}
	runner, _, _ := newTestRunner(t, client, 5, 3, nil)

	rec := runner.Run(context.Background(), Developer, NewTask("task_6", "Implement", nil))

	require.Equal(t, graph.RecordFailed, rec.Status)
	assert.Equal(t, 1, client.calls())
}

func TestRunBreakerOpensAndFailsFast(t *testing.T) {
	client := &scriptedClient{script: []scriptedCall{
		{err: &llm.StreamError{Message: "connection refused", Retryable: true}},
	}}
	// One attempt per run so each Run maps to exactly one endpoint call.
	runner, source, _ := newTestRunner(t, client, 2, 1, nil)

	first := runner.Run(context.Background(), QAEngineer, NewTask("t1", "Test", nil))
	second := runner.Run(context.Background(), QAEngineer, NewTask("t2", "Test", nil))
	third := runner.Run(context.Background(), QAEngineer, NewTask("t3", "Test", nil))

	assert.Equal(t, graph.RecordFailed, first.Status)
	assert.Equal(t, graph.RecordFailed, second.Status)
	require.Equal(t, graph.RecordFailed, third.Status)
	assert.Contains(t, third.Error, "temporarily unavailable")

	assert.Equal(t, 2, client.calls(), "open breaker must reject without calling the endpoint")
	assert.Equal(t, int32(2), source.failures.Load(), "breaker rejections are not endpoint failures")
}

func TestRunStreamErrorNotRetryable(t *testing.T) {
	client := &scriptedClient{script: []scriptedCall{
		{text: "partial", chunkErr: &llm.ErrorChunk{Message: "invalid request", Retryable: false}},
	}}
	runner, _, _ := newTestRunner(t, client, 5, 3, nil)

	rec := runner.Run(context.Background(), Developer, NewTask("task_7", "Implement", nil))

	require.Equal(t, graph.RecordFailed, rec.Status)
	assert.Equal(t, 1, client.calls())
	assert.Contains(t, rec.Error, "invalid request")
}

func TestRunEmptyResponseFails(t *testing.T) {
	client := &scriptedClient{script: []scriptedCall{{text: "  \n \n"}}}
	runner, _, _ := newTestRunner(t, client, 5, 3, nil)

	rec := runner.Run(context.Background(), Developer, NewTask("task_8", "Implement", nil))

	require.Equal(t, graph.RecordFailed, rec.Status)
	assert.Contains(t, rec.Error, "empty response")
}

func TestRunNoFilesStillCompletes(t *testing.T) {
	client := &scriptedClient{script: []scriptedCall{{text: "Just prose, no files here."}}}
	runner, _, _ := newTestRunner(t, client, 5, 3, nil)

	rec := runner.Run(context.Background(), BusinessAnalyst, NewTask("task_9", "Analyze", nil))

	require.Equal(t, graph.RecordCompleted, rec.Status)
	assert.Empty(t, rec.FilesCreated)
	assert.Equal(t, "Just prose, no files here.", rec.RawOutput)
}

type panickyClient struct{}

func (panickyClient) Generate(context.Context, llm.ChatRequest) (<-chan llm.Chunk, error) {
	panic("unexpected nil deref")
}

func TestRunRecoversPanics(t *testing.T) {
	runner, _, _ := newTestRunner(t, panickyClient{}, 5, 1, nil)

	rec := runner.Run(context.Background(), Developer, NewTask("task_10", "Implement", nil))

	require.Equal(t, graph.RecordFailed, rec.Status)
	assert.Contains(t, rec.Error, "panic")
	assert.Contains(t, rec.Error, "unexpected nil deref")
}

func TestRunCancelledContext(t *testing.T) {
	client := &scriptedClient{script: []scriptedCall{{text: happyOutput}}}
	runner, _, _ := newTestRunner(t, client, 5, 3, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := runner.Run(ctx, Developer, NewTask("task_11", "Implement", nil))

	require.Equal(t, graph.RecordFailed, rec.Status)
	assert.Contains(t, rec.Error, "context canceled")
}
