// Package orchestrator assembles and runs the built-in workflows: feature
// development and bug fixing. It owns workflow identity, the wiring from
// graph nodes to agent roles, final status stamping, and the JSON artifact
// written whenever a workflow reaches a terminal state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crewflow/crewflow/pkg/agent"
	"github.com/crewflow/crewflow/pkg/checkpoint"
	"github.com/crewflow/crewflow/pkg/config"
	"github.com/crewflow/crewflow/pkg/events"
	"github.com/crewflow/crewflow/pkg/graph"
	"github.com/crewflow/crewflow/pkg/llm"
	"github.com/crewflow/crewflow/pkg/resilience"
)

// Options carries the orchestrator's injectable dependencies. Zero values
// select production defaults; tests swap in fakes.
type Options struct {
	// Source supplies LLM clients per call. Nil builds a pool-backed
	// source from the LLM config.
	Source agent.ClientSource

	// Pool backs the default client source when Source is nil. Nil
	// creates a fresh pool.
	Pool *llm.Pool

	// Saver persists checkpoints. Nil keeps them in memory.
	Saver checkpoint.Saver

	// Publisher broadcasts progress events. Nil creates one with no
	// subscribers, which makes publishing a no-op.
	Publisher *events.Publisher

	// Clock and NewID exist so tests can pin time and identity.
	Clock func() time.Time
	NewID func(prefix string) string

	// OnChunk receives streamed response text as it arrives, tagged with
	// the producing role. Nil discards it.
	OnChunk func(role, delta string)
}

// Orchestrator runs workflows. It is safe for concurrent use; each
// Execute/Resume call drives an independent graph run.
type Orchestrator struct {
	cfg    *config.Config
	saver  checkpoint.Saver
	pub    *events.Publisher
	runner *agent.Runner
	tasks  *taskRegistry
	clock  func() time.Time
	newID  func(prefix string) string

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New validates the configuration and builds an orchestrator around it.
func New(cfg *config.Config, opts Options) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = func(prefix string) string {
			return fmt.Sprintf("%s_%s", prefix, clock().Format("20060102_150405"))
		}
	}
	saver := opts.Saver
	if saver == nil {
		saver = checkpoint.NewMemory()
	}
	pub := opts.Publisher
	if pub == nil {
		pub = events.NewPublisher()
	}

	source := opts.Source
	if source == nil {
		pool := opts.Pool
		if pool == nil {
			pool = llm.NewPool()
		}
		source = &agent.PoolSource{
			Pool: pool,
			Opts: llm.Options{
				BaseURL: cfg.LLM.BaseURL,
				APIKey:  cfg.LLM.APIKey,
				Model:   cfg.LLM.Model,
				Timeout: cfg.LLM.Timeout.Std(),
			},
		}
	}

	breakers := resilience.NewBreakerGroup(resilience.BreakerConfig{
		FailureThreshold:  cfg.LLM.BreakerFailureThreshold,
		RecoveryTimeout:   cfg.LLM.BreakerRecoveryTimeout.Std(),
		HalfOpenSuccesses: cfg.LLM.BreakerHalfOpenSuccesses,
	})

	tasks := newTaskRegistry()
	runner := agent.NewRunner(agent.Config{
		Workspace:   cfg.Workflow.Workspace,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.SamplingTemperature(),
		Stream:      cfg.LLM.StreamingEnabled(),
		Retry: resilience.RetryConfig{
			Attempts:     cfg.LLM.MaxRetries,
			InitialDelay: cfg.LLM.RetryInitialDelay.Std(),
			MaxDelay:     cfg.LLM.RetryMaxDelay.Std(),
			Jitter:       true,
		},
	}, source, breakers, &runnerNotifier{pub: pub, tasks: tasks, onChunk: opts.OnChunk})

	return &Orchestrator{
		cfg:    cfg,
		saver:  saver,
		pub:    pub,
		runner: runner,
		tasks:  tasks,
		clock:  clock,
		newID:  newID,
		active: make(map[string]context.CancelFunc),
	}, nil
}

// Publisher returns the event publisher workflows report through, so
// callers can subscribe before submitting work.
func (o *Orchestrator) Publisher() *events.Publisher { return o.pub }

// ExecuteFeatureDevelopment runs the six-stage feature workflow for the
// given requirement. extra entries become shared workflow context visible
// to every agent. threadID names the checkpoint thread; empty means the
// workflow ID doubles as the thread ID. The returned state is terminal
// unless the error is a submission failure.
func (o *Orchestrator) ExecuteFeatureDevelopment(ctx context.Context, requirement string, extra map[string]any, threadID string) (graph.State, error) {
	if requirement == "" {
		return graph.State{}, errors.New("requirement must not be empty")
	}

	now := o.clock()
	state := graph.State{
		WorkflowID:   o.newID("workflow"),
		WorkflowType: graph.WorkflowFeatureDevelopment,
		Requirement:  requirement,
		Context:      extra,
		CurrentStep:  "start",
		Status:       graph.StatusRunning,
		StartedAt:    &now,
	}
	if threadID == "" {
		threadID = state.WorkflowID
	}

	wf, err := buildFeatureWorkflow(o)
	if err != nil {
		return graph.State{}, err
	}

	slog.Info("Starting feature development workflow",
		"workflow_id", state.WorkflowID,
		"thread_id", threadID,
		"requirement", requirement)

	return o.execute(ctx, threadID, wf, state, []string{wf.graph.Entry()}, 1)
}

// ExecuteBugFix runs the four-stage bug-fix workflow. bugDescription may be
// empty, in which case the requirement doubles as the description.
func (o *Orchestrator) ExecuteBugFix(ctx context.Context, requirement, bugDescription, threadID string) (graph.State, error) {
	if requirement == "" {
		return graph.State{}, errors.New("requirement must not be empty")
	}
	if bugDescription == "" {
		bugDescription = requirement
	}

	now := o.clock()
	state := graph.State{
		WorkflowID:     o.newID("bugfix"),
		WorkflowType:   graph.WorkflowBugFix,
		Requirement:    requirement,
		BugDescription: bugDescription,
		CurrentStep:    "start",
		Status:         graph.StatusRunning,
		StartedAt:      &now,
	}
	if threadID == "" {
		threadID = state.WorkflowID
	}

	wf, err := buildBugFixWorkflow(o)
	if err != nil {
		return graph.State{}, err
	}

	slog.Info("Starting bug fix workflow",
		"workflow_id", state.WorkflowID,
		"thread_id", threadID,
		"requirement", requirement)

	return o.execute(ctx, threadID, wf, state, []string{wf.graph.Entry()}, 1)
}

// Resume restarts an interrupted workflow from its latest checkpoint. A
// thread whose checkpoint is already terminal is returned unchanged.
func (o *Orchestrator) Resume(ctx context.Context, threadID string) (graph.State, error) {
	snap, err := o.saver.Latest(ctx, threadID)
	if err != nil {
		return graph.State{}, fmt.Errorf("loading checkpoint for thread %s: %w", threadID, err)
	}
	state := snap.State
	if state.Status.Terminal() {
		slog.Info("Workflow already finished, nothing to resume",
			"thread_id", threadID, "status", state.Status)
		return state, nil
	}

	wf, err := o.workflowFor(state.WorkflowType)
	if err != nil {
		return graph.State{}, err
	}
	frontier, err := resumeFrontier(wf, state)
	if err != nil {
		return graph.State{}, fmt.Errorf("computing resume frontier for thread %s: %w", threadID, err)
	}

	slog.Info("Resuming workflow",
		"workflow_id", state.WorkflowID,
		"thread_id", threadID,
		"from_step", state.CurrentStep,
		"frontier", frontier,
		"seq", snap.Seq)

	return o.execute(ctx, threadID, wf, state, frontier, snap.Seq+1)
}

// Cancel requests cancellation of a running workflow and reports whether a
// workflow with that thread ID was active. The workflow itself winds down
// asynchronously; its final state carries status "cancelled".
func (o *Orchestrator) Cancel(threadID string) bool {
	o.mu.Lock()
	cancel, ok := o.active[threadID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// CancelAll cancels every active workflow, for shutdown paths.
func (o *Orchestrator) CancelAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, cancel := range o.active {
		cancel()
	}
}

func (o *Orchestrator) register(threadID string, cancel context.CancelFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.active[threadID]; exists {
		return fmt.Errorf("thread %s already has a running workflow", threadID)
	}
	o.active[threadID] = cancel
	return nil
}

func (o *Orchestrator) unregister(threadID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, threadID)
}

func (o *Orchestrator) workflowFor(workflowType string) (workflow, error) {
	switch workflowType {
	case graph.WorkflowFeatureDevelopment:
		return buildFeatureWorkflow(o)
	case graph.WorkflowBugFix:
		return buildBugFixWorkflow(o)
	default:
		return workflow{}, fmt.Errorf("unknown workflow type %q", workflowType)
	}
}

// execute drives one graph run to its end, stamps the terminal status, and
// writes the artifact. It returns the final state; the error is non-nil for
// cancellation and engine-level failures, nil when the workflow reached a
// business outcome on its own (including status "failed").
func (o *Orchestrator) execute(parent context.Context, threadID string, wf workflow, initial graph.State, frontier []string, startSeq int) (graph.State, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if err := o.register(threadID, cancel); err != nil {
		return graph.State{}, err
	}
	defer o.unregister(threadID)

	// A fresh run announces itself once registration succeeded; resumed
	// threads were announced on their first run.
	if startSeq == 1 {
		startedAt := o.clock()
		if initial.StartedAt != nil {
			startedAt = *initial.StartedAt
		}
		o.pub.WorkflowStarted(initial.WorkflowID, initial.WorkflowType, initial.Requirement, startedAt)
	}

	engine := graph.NewEngine(wf.graph, graph.Options{
		MaxConcurrent: o.cfg.Workflow.MaxConcurrentAgents,
		Checkpointer:  o.saver,
		Emitter:       newEngineEmitter(o.pub, initial.WorkflowID, wf.roles),
	})

	steps, done := engine.StreamFrom(ctx, threadID, initial, frontier, startSeq)
	for sr := range steps {
		slog.Info("Node finished",
			"workflow_id", initial.WorkflowID,
			"node", sr.Node,
			"current_step", sr.State.CurrentStep,
			"completed_steps", len(sr.State.CompletedSteps))
		o.pub.WorkflowStatus(initial.WorkflowID, string(sr.State.Status), sr.State.CurrentStep, sr.State.CompletedSteps)
	}
	result := <-done

	return o.finalize(parent, threadID, result.State, result.Err)
}

// finalize stamps a terminal status onto the state, persists one more
// checkpoint, writes the workflow artifact, and publishes the closing
// events. It runs even when the workflow context is already cancelled.
func (o *Orchestrator) finalize(ctx context.Context, threadID string, final graph.State, runErr error) (graph.State, error) {
	// The run context may be dead; persistence still has to happen.
	ctx = context.WithoutCancel(ctx)

	var update graph.Update
	switch {
	case errors.Is(runErr, graph.ErrCancelled):
		update.Status = graph.StatusCancelled
	case runErr != nil:
		update.Status = graph.StatusFailed
	case !final.Status.Terminal() && len(final.Errors) > 0:
		update.Status = graph.StatusFailed
	case !final.Status.Terminal():
		update.Status = graph.StatusCompleted
	}
	if final.CompletedAt == nil {
		now := o.clock()
		update.CompletedAt = &now
	}
	if update.Status != "" || update.CompletedAt != nil {
		final = graph.Apply(final, update)
		if err := o.checkpointFinal(ctx, threadID, final); err != nil {
			slog.Error("Saving final checkpoint failed",
				"workflow_id", final.WorkflowID, "thread_id", threadID, "error", err)
		}
	}

	path, artErr := WriteArtifact(o.cfg.Workflow.OutputDir, final)
	if artErr != nil {
		slog.Error("Writing workflow artifact failed",
			"workflow_id", final.WorkflowID, "error", artErr)
	} else {
		slog.Info("Workflow artifact written", "workflow_id", final.WorkflowID, "path", path)
	}

	completedAt := o.clock()
	if final.CompletedAt != nil {
		completedAt = *final.CompletedAt
	}
	o.pub.WorkflowStatus(final.WorkflowID, string(final.Status), final.CurrentStep, final.CompletedSteps)
	o.pub.WorkflowCompleted(final.WorkflowID, string(final.Status), completedAt)

	slog.Info("Workflow finished",
		"workflow_id", final.WorkflowID,
		"status", final.Status,
		"completed_steps", len(final.CompletedSteps),
		"files_created", len(final.FilesCreated),
		"errors", len(final.Errors))

	if runErr != nil {
		return final, runErr
	}
	if artErr != nil {
		return final, fmt.Errorf("writing workflow artifact: %w", artErr)
	}
	return final, nil
}

// checkpointFinal appends the stamped terminal state after the engine's
// last write.
func (o *Orchestrator) checkpointFinal(ctx context.Context, threadID string, state graph.State) error {
	seq := 1
	snap, err := o.saver.Latest(ctx, threadID)
	switch {
	case err == nil:
		seq = snap.Seq + 1
	case errors.Is(err, checkpoint.ErrNotFound):
	default:
		return err
	}
	return o.saver.Save(ctx, threadID, seq, state)
}

// runNode executes one agent task on behalf of a graph node, keeping the
// task registered so events published mid-run can name their node.
func (o *Orchestrator) runNode(ctx context.Context, workflowID, node string, role agent.Role, task agent.Task) graph.Record {
	o.tasks.register(task.ID, taskOrigin{workflowID: workflowID, node: node})
	defer o.tasks.unregister(task.ID)
	return o.runner.Run(ctx, role, task)
}

// taskID builds the per-node task identifier, e.g. "ba_1724252640000000000".
func (o *Orchestrator) taskID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, o.clock().UnixNano())
}

// resumeFrontier derives the nodes to run next from a checkpointed state.
// The placeholder step "start" (and a missing one) restarts at the entry
// node; anything else follows the edge out of the recorded step.
func resumeFrontier(wf workflow, s graph.State) ([]string, error) {
	if s.CurrentStep == "" || s.CurrentStep == "start" {
		return []string{wf.graph.Entry()}, nil
	}
	if !wf.graph.HasNode(s.CurrentStep) {
		return nil, fmt.Errorf("checkpoint names unknown step %q", s.CurrentStep)
	}
	engine := graph.NewEngine(wf.graph, graph.Options{})
	return engine.NextFrontier(s.CurrentStep, s)
}
