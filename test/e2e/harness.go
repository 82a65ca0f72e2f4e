package e2e

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crewflow/crewflow/pkg/checkpoint"
	"github.com/crewflow/crewflow/pkg/config"
	"github.com/crewflow/crewflow/pkg/events"
	"github.com/crewflow/crewflow/pkg/graph"
	"github.com/crewflow/crewflow/pkg/orchestrator"
)

// TestApp boots a complete crewflow instance against a MockLLM: a real
// orchestrator with the production client pool, file-backed checkpoints, and
// a workspace in a temp dir.
type TestApp struct {
	Config    *config.Config
	LLM       *MockLLM
	Saver     *checkpoint.File
	Orc       *orchestrator.Orchestrator
	Workspace string

	log *eventLog
	t   *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	mutate  func(*config.Config)
	onChunk func(role, delta string)
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithConfig mutates the config after the harness defaults are applied.
func WithConfig(mutate func(*config.Config)) TestAppOption {
	return func(c *testAppConfig) { c.mutate = mutate }
}

// WithChunkSink receives streamed response deltas as they arrive.
func WithChunkSink(fn func(role, delta string)) TestAppOption {
	return func(c *testAppConfig) { c.onChunk = fn }
}

// NewTestApp creates a started instance. Cleanup is registered via t.Cleanup
// automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{}
	for _, opt := range opts {
		opt(tc)
	}

	llm := NewMockLLM()
	t.Cleanup(llm.Close)

	workspace := t.TempDir()
	cfg := config.Default()
	cfg.LLM.BaseURL = llm.URL()
	cfg.LLM.Timeout = config.Duration(10 * time.Second)
	cfg.LLM.RetryInitialDelay = config.Duration(time.Millisecond)
	cfg.LLM.RetryMaxDelay = config.Duration(4 * time.Millisecond)
	// An opened breaker stays open for the rest of the test.
	cfg.LLM.BreakerRecoveryTimeout = config.Duration(time.Minute)
	cfg.Workflow.Workspace = workspace
	cfg.Workflow.OutputDir = filepath.Join(workspace, "output")
	cfg.Checkpoint.Backend = config.BackendFile
	cfg.Checkpoint.Dir = filepath.Join(workspace, "checkpoints")
	if tc.mutate != nil {
		tc.mutate(cfg)
	}

	saver, err := checkpoint.NewFile(cfg.CheckpointDir())
	require.NoError(t, err)

	pub := events.NewPublisher()
	log := newEventLog(pub)
	t.Cleanup(log.Close)

	orc, err := orchestrator.New(cfg, orchestrator.Options{
		Saver:     saver,
		Publisher: pub,
		OnChunk:   tc.onChunk,
	})
	require.NoError(t, err)

	return &TestApp{
		Config:    cfg,
		LLM:       llm,
		Saver:     saver,
		Orc:       orc,
		Workspace: workspace,
		log:       log,
		t:         t,
	}
}

// RunFeature executes the feature development workflow.
func (a *TestApp) RunFeature(ctx context.Context, requirement string, extra map[string]any) (graph.State, error) {
	a.t.Helper()
	return a.Orc.ExecuteFeatureDevelopment(ctx, requirement, extra, "")
}

// RunBugFix executes the bug-fix workflow.
func (a *TestApp) RunBugFix(ctx context.Context, requirement, bug string) (graph.State, error) {
	a.t.Helper()
	return a.Orc.ExecuteBugFix(ctx, requirement, bug, "")
}

// Resume continues a checkpointed thread.
func (a *TestApp) Resume(ctx context.Context, threadID string) (graph.State, error) {
	a.t.Helper()
	return a.Orc.Resume(ctx, threadID)
}

// Events stops collection and returns everything published so far. Call it
// only after the workflow under test has returned.
func (a *TestApp) Events() []events.Event {
	a.log.Close()
	return a.log.All()
}

// ArtifactPath returns where the summary for the given workflow lands.
func (a *TestApp) ArtifactPath(workflowID string) string {
	return orchestrator.ArtifactPath(a.Config.Workflow.OutputDir, workflowID)
}

// eventLog drains a subscription into a slice so assertions never race the
// publisher's non-blocking sends.
type eventLog struct {
	sub  *events.Subscription
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	seen []events.Event
}

func newEventLog(pub *events.Publisher) *eventLog {
	l := &eventLog{
		sub:  pub.Subscribe(1024),
		done: make(chan struct{}),
	}
	go func() {
		defer close(l.done)
		for e := range l.sub.C {
			l.mu.Lock()
			l.seen = append(l.seen, e)
			l.mu.Unlock()
		}
	}()
	return l
}

func (l *eventLog) Close() {
	l.once.Do(func() {
		l.sub.Close()
		<-l.done
	})
}

func (l *eventLog) All() []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.Event(nil), l.seen...)
}

// payloadsOf filters an event log down to one payload type, in publish order.
func payloadsOf[T events.Event](log []events.Event) []T {
	var out []T
	for _, e := range log {
		if p, ok := e.(T); ok {
			out = append(out, p)
		}
	}
	return out
}
