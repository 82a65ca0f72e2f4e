package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrCancelled is returned by Run when the workflow context is cancelled.
// The state returned alongside it reflects the last fully reduced superstep;
// updates from nodes interrupted mid-flight are discarded.
var ErrCancelled = errors.New("workflow cancelled")

// ErrRecursionLimit is returned when a workflow exceeds its superstep
// budget, which almost always means a conditional edge loops forever.
var ErrRecursionLimit = errors.New("graph recursion limit exceeded")

// Checkpointer persists the canonical state after each node reduction.
// Implementations must reject non-monotonic sequence numbers.
type Checkpointer interface {
	Save(ctx context.Context, threadID string, seq int, state State) error
}

// Emitter observes engine execution. NodeStarted may be called from
// concurrently running node goroutines; the rest arrive from the engine
// loop. Implementations must not block.
type Emitter interface {
	NodeStarted(node string)
	NodeFinished(node string, update Update, state State)
	Routed(from string, route Route)
	ParallelStarted(targets []string)
	ParallelFinished(targets []string)
}

// Options configures engine execution.
type Options struct {
	// MaxConcurrent bounds how many nodes of one superstep run at once.
	// Zero means defaultMaxConcurrent.
	MaxConcurrent int

	// MaxSteps bounds the number of supersteps. Zero means
	// defaultMaxSteps.
	MaxSteps int

	// Checkpointer, when set, receives the state after every reduction.
	// A save failure aborts the workflow.
	Checkpointer Checkpointer

	// Emitter, when set, observes execution.
	Emitter Emitter
}

const (
	defaultMaxConcurrent = 5
	defaultMaxSteps      = 25
)

// Engine runs a compiled Graph superstep by superstep: every node in the
// current frontier executes against a clone of the canonical state, the
// barrier waits for all of them, their updates are reduced one at a time,
// and only then are outgoing routes evaluated to form the next frontier.
type Engine struct {
	graph *Graph
	opts  Options
}

// NewEngine creates an Engine for the compiled graph.
func NewEngine(g *Graph, opts Options) *Engine {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = defaultMaxSteps
	}
	return &Engine{graph: g, opts: opts}
}

// StepResult is emitted after one node's update has been reduced. State is
// the canonical state including that reduction.
type StepResult struct {
	Node   string
	Update Update
	State  State
}

// RunResult is the terminal outcome of a streamed run.
type RunResult struct {
	State State
	Err   error
}

// Run executes the workflow from its entry node by draining Stream.
func (e *Engine) Run(ctx context.Context, threadID string, initial State) (State, error) {
	steps, done := e.Stream(ctx, threadID, initial)
	for range steps {
	}
	result := <-done
	return result.State, result.Err
}

// RunFrom executes the workflow from an explicit frontier, used when
// resuming from a checkpoint. startSeq is the sequence number assigned to
// the first checkpoint written.
func (e *Engine) RunFrom(ctx context.Context, threadID string, initial State, frontier []string, startSeq int) (State, error) {
	return e.runFrom(ctx, threadID, initial, frontier, startSeq, nil)
}

// Stream executes the workflow from its entry node, emitting a StepResult
// after every reduction. steps closes when execution stops; the final state
// and error arrive on done.
func (e *Engine) Stream(ctx context.Context, threadID string, initial State) (steps <-chan StepResult, done <-chan RunResult) {
	return e.StreamFrom(ctx, threadID, initial, []string{e.graph.entry}, 1)
}

// StreamFrom is Stream starting from an explicit frontier.
func (e *Engine) StreamFrom(ctx context.Context, threadID string, initial State, frontier []string, startSeq int) (<-chan StepResult, <-chan RunResult) {
	stepCh := make(chan StepResult)
	doneCh := make(chan RunResult, 1)

	go func() {
		defer close(stepCh)
		state, err := e.runFrom(ctx, threadID, initial, frontier, startSeq, func(sr StepResult) {
			select {
			case stepCh <- sr:
			case <-ctx.Done():
			}
		})
		doneCh <- RunResult{State: state, Err: err}
	}()

	return stepCh, doneCh
}

func (e *Engine) runFrom(ctx context.Context, threadID string, initial State, frontier []string, startSeq int, onStep func(StepResult)) (State, error) {
	for _, node := range frontier {
		if !e.graph.HasNode(node) {
			return initial, fmt.Errorf("unknown node %q in frontier", node)
		}
	}
	if initial.Status.Terminal() {
		return initial, nil
	}

	state := initial
	seq := startSeq

	for step := 0; len(frontier) > 0; step++ {
		if step >= e.opts.MaxSteps {
			return state, fmt.Errorf("%w after %d supersteps", ErrRecursionLimit, step)
		}
		if err := ctx.Err(); err != nil {
			return state, fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		parallel := len(frontier) > 1
		if parallel && e.opts.Emitter != nil {
			e.opts.Emitter.ParallelStarted(frontier)
		}

		results, err := e.executeStep(ctx, state, frontier)

		// Cancellation outranks node errors: interrupted node returns are
		// not reduced and the state stays at the last full superstep.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return state, fmt.Errorf("%w: %v", ErrCancelled, ctxErr)
		}
		if err != nil {
			return state, err
		}

		for _, r := range results {
			state = Apply(state, r.update)
			if e.opts.Checkpointer != nil {
				if saveErr := e.opts.Checkpointer.Save(ctx, threadID, seq, state); saveErr != nil {
					return state, fmt.Errorf("checkpoint save for node %s: %w", r.node, saveErr)
				}
			}
			seq++
			if e.opts.Emitter != nil {
				e.opts.Emitter.NodeFinished(r.node, r.update, state)
			}
			if onStep != nil {
				onStep(StepResult{Node: r.node, Update: r.update, State: state})
			}
		}

		if parallel && e.opts.Emitter != nil {
			e.opts.Emitter.ParallelFinished(frontier)
		}

		// A terminal status halts the workflow before any route fires.
		if state.Status.Terminal() {
			break
		}

		next, err := e.nextFrontier(frontier, state)
		if err != nil {
			return state, err
		}
		frontier = next
	}

	return state, nil
}

// NextFrontier resolves the nodes that would run after the given step, on
// the given state. Used to recompute the frontier when resuming.
func (e *Engine) NextFrontier(from string, s State) ([]string, error) {
	return e.nextFrontier([]string{from}, s)
}

// nextFrontier evaluates each finished node's route against the fully
// reduced state and returns the deduplicated union of targets. Two branches
// routing to the same node join into a single execution.
func (e *Engine) nextFrontier(finished []string, state State) ([]string, error) {
	var next []string
	seen := make(map[string]bool)

	add := func(node string) error {
		if node == End {
			return nil
		}
		if !e.graph.HasNode(node) {
			return fmt.Errorf("route targets unknown node %q", node)
		}
		if !seen[node] {
			seen[node] = true
			next = append(next, node)
		}
		return nil
	}

	for _, node := range finished {
		route, err := e.graph.route(node, state)
		if err != nil {
			return nil, err
		}
		if e.opts.Emitter != nil {
			e.opts.Emitter.Routed(node, route)
		}
		if route.Terminal {
			continue
		}
		if route.To != "" {
			if err := add(route.To); err != nil {
				return nil, err
			}
		}
		for _, target := range route.Sends {
			if err := add(target); err != nil {
				return nil, err
			}
		}
	}
	return next, nil
}

type stepResult struct {
	index  int
	node   string
	update Update
	err    error
}

// executeStep runs every frontier node concurrently, each against its own
// deep copy of the state, bounded by MaxConcurrent. Results come back in
// frontier order so reduction stays deterministic.
func (e *Engine) executeStep(ctx context.Context, state State, frontier []string) ([]stepResult, error) {
	results := make(chan stepResult, len(frontier))
	sem := make(chan struct{}, e.opts.MaxConcurrent)
	var wg sync.WaitGroup

	for i, name := range frontier {
		wg.Add(1)
		go func(index int, node string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if e.opts.Emitter != nil {
				e.opts.Emitter.NodeStarted(node)
			}

			update, err := e.graph.nodes[node](ctx, state.Clone())
			results <- stepResult{index: index, node: node, update: update, err: err}
		}(i, name)
	}

	wg.Wait()
	close(results)

	collected := make([]stepResult, 0, len(frontier))
	for r := range results {
		collected = append(collected, r)
	}
	sort.Slice(collected, func(a, b int) bool { return collected[a].index < collected[b].index })

	for _, r := range collected {
		if r.err != nil {
			return nil, fmt.Errorf("node %s: %w", r.node, r.err)
		}
	}
	return collected, nil
}
