package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/crewflow/crewflow/pkg/checkpoint"
	"github.com/crewflow/crewflow/pkg/config"
	"github.com/crewflow/crewflow/pkg/graph"
	"github.com/crewflow/crewflow/pkg/orchestrator"
)

// eventBuffer sizes the CLI's event subscription. Rendering is fast, so a
// modest buffer absorbs bursts from parallel nodes without dropping.
const eventBuffer = 256

// App wires the configuration, checkpoint store, and orchestrator behind the
// CLI commands.
type App struct {
	cfg      *config.Config
	orc      *orchestrator.Orchestrator
	renderer *renderer

	closeSaver func() error
}

func newApp(ctx context.Context, configPath string) (*App, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	} else {
		slog.Info("Loaded environment from .env")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Logging.SlogLevel(),
	}))
	slog.SetDefault(logger)

	saver, closeSaver, err := newSaver(ctx, cfg)
	if err != nil {
		return nil, err
	}

	r := newRenderer(os.Stdout)
	orc, err := orchestrator.New(cfg, orchestrator.Options{
		Saver:   saver,
		OnChunk: r.Chunk,
	})
	if err != nil {
		if closeSaver != nil {
			_ = closeSaver()
		}
		return nil, err
	}

	return &App{
		cfg:        cfg,
		orc:        orc,
		renderer:   r,
		closeSaver: closeSaver,
	}, nil
}

// Close releases resources held by the app, such as the postgres
// checkpoint pool.
func (a *App) Close() {
	if a.closeSaver == nil {
		return
	}
	if err := a.closeSaver(); err != nil {
		slog.Error("Error closing checkpoint store", "error", err)
	}
}

// newSaver builds the checkpoint store selected by the configuration. The
// second return value, when non-nil, releases the store's resources.
func newSaver(ctx context.Context, cfg *config.Config) (checkpoint.Saver, func() error, error) {
	switch cfg.Checkpoint.Backend {
	case config.BackendMemory:
		return checkpoint.NewMemory(), nil, nil
	case config.BackendFile:
		saver, err := checkpoint.NewFile(cfg.CheckpointDir())
		if err != nil {
			return nil, nil, fmt.Errorf("opening checkpoint dir: %w", err)
		}
		return saver, nil, nil
	case config.BackendPostgres:
		saver, err := checkpoint.NewPostgres(ctx, cfg.Checkpoint.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting checkpoint database: %w", err)
		}
		return saver, saver.Close, nil
	default:
		// Validate() rejects unknown backends before we get here.
		return nil, nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}

// RunFeature executes the feature development workflow and renders its
// progress until it reaches a terminal status.
func (a *App) RunFeature(ctx context.Context, requirement string, extra map[string]any, threadID string) error {
	return a.run(ctx, func(ctx context.Context) (graph.State, error) {
		return a.orc.ExecuteFeatureDevelopment(ctx, requirement, extra, threadID)
	})
}

// RunBugFix executes the bug fix workflow.
func (a *App) RunBugFix(ctx context.Context, requirement, bugDescription, threadID string) error {
	return a.run(ctx, func(ctx context.Context) (graph.State, error) {
		return a.orc.ExecuteBugFix(ctx, requirement, bugDescription, threadID)
	})
}

// RunResume continues an interrupted workflow from its latest checkpoint.
// Workflows stopped by a crash resume mid-graph; threads whose checkpoint is
// already terminal come back unchanged.
func (a *App) RunResume(ctx context.Context, threadID string) error {
	return a.run(ctx, func(ctx context.Context) (graph.State, error) {
		return a.orc.Resume(ctx, threadID)
	})
}

// run drives one workflow: it renders events as they arrive, cancels the run
// on SIGINT/SIGTERM, and prints the final summary. Business-level failure
// (status failed) is reported through the exit code; a cancelled run is not
// a process error because it ended the way the user asked.
func (a *App) run(parent context.Context, start func(context.Context) (graph.State, error)) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sub := a.orc.Publisher().Subscribe(eventBuffer)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		for e := range sub.C {
			a.renderer.Event(e)
		}
	}()

	final, err := start(ctx)

	// Stop rendering only after the run has finished so the terminal
	// events are shown before the summary.
	sub.Close()
	<-rendered

	if errors.Is(err, graph.ErrCancelled) {
		// Cancellation is a deliberate terminal outcome: the final state is
		// checkpointed and the artifact written, same as any other ending.
		fmt.Println()
		fmt.Println("Workflow interrupted, cancelling and saving final state.")
		a.printSummary(final)
		return nil
	}
	if err != nil {
		return err
	}

	a.printSummary(final)
	if final.Status == graph.StatusFailed {
		return fmt.Errorf("workflow %s finished with status %s", final.WorkflowID, final.Status)
	}
	return nil
}

const summaryRule = "======================================================================"

func (a *App) printSummary(s graph.State) {
	fmt.Println()
	fmt.Println(summaryRule)
	fmt.Printf("Workflow finished: %s\n", s.Status)
	fmt.Println(summaryRule)
	fmt.Printf("  Workflow ID:     %s\n", s.WorkflowID)
	fmt.Printf("  Workflow type:   %s\n", s.WorkflowType)
	fmt.Printf("  Completed steps: %d\n", len(uniqueSteps(s.CompletedSteps)))

	if len(s.FilesCreated) > 0 {
		fmt.Printf("  Files created (%d):\n", len(s.FilesCreated))
		for i, path := range s.FilesCreated {
			if i == 20 {
				fmt.Printf("    ... and %d more\n", len(s.FilesCreated)-20)
				break
			}
			fmt.Printf("    • %s\n", path)
		}
	} else {
		fmt.Println("  Files created:   none")
	}

	if len(s.Errors) > 0 {
		fmt.Printf("  Errors (%d):\n", len(s.Errors))
		for _, stepErr := range s.Errors {
			fmt.Printf("    • %s: %s\n", stepErr.Step, stepErr.Error)
		}
	} else {
		fmt.Println("  Errors:          none")
	}

	fmt.Printf("  Results saved to: %s\n", orchestrator.ArtifactPath(a.cfg.Workflow.OutputDir, s.WorkflowID))
}

// uniqueSteps dedupes the completed steps list; joins append the same step
// name once per merged branch.
func uniqueSteps(steps []string) []string {
	seen := make(map[string]struct{}, len(steps))
	unique := make([]string, 0, len(steps))
	for _, step := range steps {
		if _, ok := seen[step]; ok {
			continue
		}
		seen[step] = struct{}{}
		unique = append(unique, step)
	}
	return unique
}
