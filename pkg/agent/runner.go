package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/crewflow/crewflow/pkg/extract"
	"github.com/crewflow/crewflow/pkg/graph"
	"github.com/crewflow/crewflow/pkg/llm"
	"github.com/crewflow/crewflow/pkg/resilience"
)

// reservedCompletionTokens is held back from the reported context window
// when truncating prompts after a context-size rejection.
const reservedCompletionTokens = 1024

// Config tunes task execution.
type Config struct {
	// Workspace is the directory generated files are rooted under.
	Workspace string

	// MaxTokens caps the completion length per request.
	MaxTokens int

	// Temperature for sampling.
	Temperature float32

	// Stream requests SSE streaming. The collected text is identical
	// either way; streaming only changes how it arrives.
	Stream bool

	// Retry is the backoff policy around each model call.
	Retry resilience.RetryConfig
}

// Runner executes agent tasks. It is safe for concurrent use; parallel
// workflow branches share one Runner.
type Runner struct {
	cfg       Config
	source    ClientSource
	breakers  *resilience.BreakerGroup
	extractor *extract.Extractor
	notify    Notifier
}

// NewRunner builds a Runner. notify may be nil.
func NewRunner(cfg Config, source ClientSource, breakers *resilience.BreakerGroup, notify Notifier) *Runner {
	return &Runner{
		cfg:       cfg,
		source:    source,
		breakers:  breakers,
		extractor: extract.NewExtractor(),
		notify:    notify,
	}
}

// Run executes one task as the given role and always returns a Record;
// every failure mode, panics included, folds into a failed Record so a
// single task can never take down the workflow.
func (r *Runner) Run(ctx context.Context, role Role, task Task) (rec graph.Record) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Agent task panicked",
				"role", role.Name,
				"task_id", task.ID,
				"panic", p,
				"stack", string(debug.Stack()))
			rec = failedRecord(role, task, fmt.Errorf("panic: %v", p))
		}
	}()

	slog.Info("Agent task starting",
		"role", role.Name, "task_id", task.ID, "description", task.Description)

	userPrompt := BuildUserPrompt(role, r.cfg.Workspace, task)

	text, err := r.generate(ctx, role, task, role.SystemPrompt, userPrompt)
	if err != nil {
		slog.Error("Agent task failed",
			"role", role.Name, "task_id", task.ID, "error", err)
		return failedRecord(role, task, err)
	}
	if strings.TrimSpace(text) == "" {
		err := errors.New("model returned an empty response")
		slog.Error("Agent task failed",
			"role", role.Name, "task_id", task.ID, "error", err)
		return failedRecord(role, task, err)
	}

	files := r.extractor.Extract(text)
	if len(files) == 0 {
		slog.Warn("No files extracted from model output",
			"role", role.Name, "task_id", task.ID, "output_chars", len(text))
	}

	written, err := extract.WriteFiles(r.cfg.Workspace, task.ID, role.Name, files)
	if err != nil {
		slog.Error("Agent task failed writing files",
			"role", role.Name, "task_id", task.ID, "error", err)
		return failedRecord(role, task, fmt.Errorf("writing generated files: %w", err))
	}
	if len(written) > 0 {
		r.action(role, task, fmt.Sprintf("Created %d files", len(written)),
			map[string]any{"files": written})
	}

	slog.Info("Agent task completed",
		"role", role.Name, "task_id", task.ID, "files_created", len(written))

	return graph.Record{
		Status:       graph.RecordCompleted,
		Summary:      summarize(text),
		FilesCreated: written,
		Role:         role.Name,
		TaskID:       task.ID,
		RawOutput:    text,
	}
}

// generate runs the resilient call pipeline. A context-size rejection gets
// exactly one follow-up call with prompts truncated to the window the
// endpoint reported; a second rejection is terminal for this task.
func (r *Runner) generate(ctx context.Context, role Role, task Task, system, user string) (string, error) {
	text, err := r.protectedCall(ctx, role, task, system, user)
	if err == nil || !llm.IsContextSizeError(err) {
		return text, err
	}

	window, ok := llm.ContextWindowFromError(err)
	if !ok {
		return "", err
	}

	system, user, truncated := llm.FitToBudget(system, user, window, reservedCompletionTokens)
	slog.Warn("Prompt exceeded context window, retrying with truncated prompts",
		"role", role.Name,
		"task_id", task.ID,
		"window_tokens", window,
		"truncated", truncated)
	r.action(role, task, "Retrying with truncated prompts",
		map[string]any{"window_tokens": window})

	return r.protectedCall(ctx, role, task, system, user)
}

// protectedCall wraps a single logical model call in retry-with-backoff
// around the endpoint's circuit breaker.
func (r *Runner) protectedCall(ctx context.Context, role Role, task Task, system, user string) (string, error) {
	client, key := r.source.Acquire()
	breaker := r.breakers.Get(key)

	cfg := r.cfg.Retry
	cfg.RetryIf = retriable

	var text string
	err := resilience.Retry(ctx, cfg, func(ctx context.Context) error {
		out, callErr := r.callOnce(ctx, client, breaker, key, role, task, system, user)
		if callErr != nil {
			return callErr
		}
		text = out
		return nil
	})
	return text, err
}

// retriable excludes open-breaker fast failures from backoff: they need the
// recovery timeout to elapse, not another immediate attempt. Context-size
// rejections are already non-retriable at the transport classification.
func retriable(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	return llm.IsRetriable(err)
}

func (r *Runner) callOnce(ctx context.Context, client LLMClient, breaker *resilience.Breaker, key string, role Role, task Task, system, user string) (string, error) {
	var text string
	err := breaker.Do(func() error {
		chunks, genErr := client.Generate(ctx, llm.ChatRequest{
			SystemPrompt: system,
			UserPrompt:   user,
			MaxTokens:    r.cfg.MaxTokens,
			Temperature:  r.cfg.Temperature,
			Stream:       r.cfg.Stream,
		})
		if genErr != nil {
			return genErr
		}
		out, collectErr := r.collect(ctx, role, task, chunks)
		if collectErr != nil {
			return collectErr
		}
		text = out
		return nil
	})
	if err != nil {
		// An open breaker rejects without touching the endpoint, so it
		// says nothing about client health.
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			r.source.RecordFailure(key)
		}
		return "", err
	}
	r.source.RecordSuccess(key)
	return text, nil
}

// collect drains the chunk stream into the final text, forwarding deltas to
// the notifier as they arrive. Cancellation is checked before each receive
// so an already-cancelled context never consumes buffered chunks.
func (r *Runner) collect(ctx context.Context, role Role, task Task, chunks <-chan llm.Chunk) (string, error) {
	var b strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return b.String(), nil
			}
			switch c := chunk.(type) {
			case *llm.TextChunk:
				b.WriteString(c.Content)
				if r.notify != nil {
					r.notify.TaskChunk(role.Name, task.ID, c.Content)
				}
			case *llm.UsageChunk:
				slog.Debug("Model reported usage",
					"role", role.Name,
					"task_id", task.ID,
					"prompt_tokens", c.PromptTokens,
					"completion_tokens", c.CompletionTokens)
			case *llm.ErrorChunk:
				return "", c.Err()
			}
		}
	}
}

func (r *Runner) action(role Role, task Task, description string, details map[string]any) {
	if r.notify == nil {
		return
	}
	r.notify.TaskAction(role.Name, task.ID, description, details)
}

func failedRecord(role Role, task Task, err error) graph.Record {
	return graph.Record{
		Status: graph.RecordFailed,
		Role:   role.Name,
		TaskID: task.ID,
		Error:  err.Error(),
	}
}

// summarize returns the first non-empty line of the response, without any
// leading heading markers, capped at 200 chars.
func summarize(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if line == "" {
			continue
		}
		if len(line) > snippetChars {
			line = line[:snippetChars]
		}
		return line
	}
	return ""
}
