package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/crewflow/crewflow/pkg/agent"
	"github.com/crewflow/crewflow/pkg/graph"
)

// Node names, shared by graph wiring, routing, and events.
const (
	nodeBusinessAnalyst    = "business_analyst"
	nodeArchitectureDesign = "architecture_design"
	nodeImplementation     = "implementation"
	nodeQATesting          = "qa_testing"
	nodeInfrastructure     = "infrastructure"
	nodeDocumentation      = "documentation"

	nodeBugAnalysis       = "bug_analysis"
	nodeBugFix            = "bug_fix"
	nodeRegressionTesting = "regression_testing"
	nodeReleaseNotes      = "release_notes"
)

// workflow pairs a compiled graph with the node-to-role map that events
// report.
type workflow struct {
	graph *graph.Graph
	roles map[string]string
}

// buildFeatureWorkflow wires the six-stage feature development graph:
//
//	business_analyst → architecture_design → implementation
//	implementation   → (conditional) qa_testing ∥ infrastructure
//	qa_testing + infrastructure → (join) documentation → end
//
// Implementation failure stops the workflow before fan-out; a failure in
// either parallel branch stops it at the join.
func buildFeatureWorkflow(o *Orchestrator) (workflow, error) {
	b := graph.NewBuilder()
	err := errors.Join(
		b.AddNode(nodeBusinessAnalyst, o.businessAnalystNode),
		b.AddNode(nodeArchitectureDesign, o.architectureDesignNode),
		b.AddNode(nodeImplementation, o.implementationNode),
		b.AddNode(nodeQATesting, o.qaTestingNode),
		b.AddNode(nodeInfrastructure, o.infrastructureNode),
		b.AddNode(nodeDocumentation, o.documentationNode),
		b.SetEntry(nodeBusinessAnalyst),
		b.AddEdge(nodeBusinessAnalyst, nodeArchitectureDesign),
		b.AddEdge(nodeArchitectureDesign, nodeImplementation),
		b.AddConditional(nodeImplementation, afterImplementation),
		b.AddConditional(nodeQATesting, afterParallel),
		b.AddConditional(nodeInfrastructure, afterParallel),
		b.AddEdge(nodeDocumentation, graph.End),
	)
	if err != nil {
		return workflow{}, err
	}

	g, err := b.Compile()
	if err != nil {
		return workflow{}, err
	}
	return workflow{graph: g, roles: map[string]string{
		nodeBusinessAnalyst:    agent.RoleBusinessAnalyst,
		nodeArchitectureDesign: agent.RoleDeveloper,
		nodeImplementation:     agent.RoleDeveloper,
		nodeQATesting:          agent.RoleQAEngineer,
		nodeInfrastructure:     agent.RoleDevOpsEngineer,
		nodeDocumentation:      agent.RoleTechnicalWriter,
	}}, nil
}

func (o *Orchestrator) businessAnalystNode(ctx context.Context, s graph.State) (graph.Update, error) {
	slog.Info("Executing business analyst node", "workflow_id", s.WorkflowID)

	task := agent.NewTask(
		o.taskID("ba"),
		"Analyze requirements and create user stories",
		taskContext(s, "requirements_analysis", nil),
	)
	rec := o.runNode(ctx, s.WorkflowID, nodeBusinessAnalyst, agent.BusinessAnalyst, task)

	if rec.Status == graph.RecordFailed {
		return graph.Update{
			Errors:         []graph.StepError{{Step: nodeBusinessAnalyst, Error: rec.Error, Timestamp: o.clock()}},
			CurrentStep:    nodeBusinessAnalyst,
			CompletedSteps: []string{nodeBusinessAnalyst},
			Status:         graph.StatusFailed,
		}, nil
	}
	return graph.Update{
		BusinessAnalysis: []graph.Record{rec},
		FilesCreated:     rec.FilesCreated,
		CurrentStep:      nodeBusinessAnalyst,
		CompletedSteps:   []string{nodeBusinessAnalyst},
	}, nil
}

func (o *Orchestrator) architectureDesignNode(ctx context.Context, s graph.State) (graph.Update, error) {
	slog.Info("Executing developer design node", "workflow_id", s.WorkflowID)

	task := agent.NewTask(
		o.taskID("dev_design"),
		"Design system architecture based on requirements",
		taskContext(s, "architecture_design", map[string]any{
			"business_analysis": latestRecord(s.BusinessAnalysis),
		}),
	)
	rec := o.runNode(ctx, s.WorkflowID, nodeArchitectureDesign, agent.Developer, task)

	if rec.Status == graph.RecordFailed {
		return graph.Update{
			Errors:         []graph.StepError{{Step: nodeArchitectureDesign, Error: rec.Error, Timestamp: o.clock()}},
			CurrentStep:    nodeArchitectureDesign,
			CompletedSteps: []string{nodeArchitectureDesign},
			Status:         graph.StatusFailed,
		}, nil
	}
	return graph.Update{
		Architecture:   []graph.Record{rec},
		FilesCreated:   rec.FilesCreated,
		CurrentStep:    nodeArchitectureDesign,
		CompletedSteps: []string{nodeArchitectureDesign},
	}, nil
}

func (o *Orchestrator) implementationNode(ctx context.Context, s graph.State) (graph.Update, error) {
	slog.Info("Executing developer implementation node", "workflow_id", s.WorkflowID)

	task := agent.NewTask(
		o.taskID("dev_impl"),
		"Implement the feature based on architecture design",
		taskContext(s, "implementation", map[string]any{
			"architecture": latestRecord(s.Architecture),
		}),
	)
	rec := o.runNode(ctx, s.WorkflowID, nodeImplementation, agent.Developer, task)

	if rec.Status == graph.RecordFailed {
		return graph.Update{
			Errors:         []graph.StepError{{Step: nodeImplementation, Error: rec.Error, Timestamp: o.clock()}},
			CurrentStep:    nodeImplementation,
			CompletedSteps: []string{nodeImplementation},
			Status:         graph.StatusFailed,
		}, nil
	}
	return graph.Update{
		Implementation: []graph.Record{rec},
		FilesCreated:   rec.FilesCreated,
		CurrentStep:    nodeImplementation,
		CompletedSteps: []string{nodeImplementation},
	}, nil
}

// qaTestingNode and infrastructureNode run in parallel after implementation.
// Neither touches current_step or status: the branches would race on those
// replace-policy fields, and the join route decides what a branch failure
// means for the workflow.

func (o *Orchestrator) qaTestingNode(ctx context.Context, s graph.State) (graph.Update, error) {
	slog.Info("Executing QA engineer node", "workflow_id", s.WorkflowID)

	task := agent.NewTask(
		o.taskID("qa"),
		"Create comprehensive test suite",
		taskContext(s, "testing", map[string]any{
			"implementation": latestRecord(s.Implementation),
		}),
	)
	rec := o.runNode(ctx, s.WorkflowID, nodeQATesting, agent.QAEngineer, task)

	if rec.Status == graph.RecordFailed {
		return graph.Update{
			Errors:         []graph.StepError{{Step: nodeQATesting, Error: rec.Error, Timestamp: o.clock()}},
			CompletedSteps: []string{nodeQATesting},
		}, nil
	}
	return graph.Update{
		Tests:          []graph.Record{rec},
		FilesCreated:   rec.FilesCreated,
		CompletedSteps: []string{nodeQATesting},
	}, nil
}

func (o *Orchestrator) infrastructureNode(ctx context.Context, s graph.State) (graph.Update, error) {
	slog.Info("Executing devops engineer node", "workflow_id", s.WorkflowID)

	task := agent.NewTask(
		o.taskID("devops"),
		"Set up deployment infrastructure",
		taskContext(s, "deployment", map[string]any{
			"implementation": latestRecord(s.Implementation),
		}),
	)
	rec := o.runNode(ctx, s.WorkflowID, nodeInfrastructure, agent.DevOpsEngineer, task)

	if rec.Status == graph.RecordFailed {
		return graph.Update{
			Errors:         []graph.StepError{{Step: nodeInfrastructure, Error: rec.Error, Timestamp: o.clock()}},
			CompletedSteps: []string{nodeInfrastructure},
		}, nil
	}
	return graph.Update{
		Infrastructure: []graph.Record{rec},
		FilesCreated:   rec.FilesCreated,
		CompletedSteps: []string{nodeInfrastructure},
	}, nil
}

// documentationNode is the last stage of the feature workflow. It marks the
// workflow completed even when the documentation task itself fails: by this
// point code, tests, and infrastructure all exist, and a missing README is
// recorded as a step error rather than a workflow failure.
func (o *Orchestrator) documentationNode(ctx context.Context, s graph.State) (graph.Update, error) {
	slog.Info("Executing technical writer node", "workflow_id", s.WorkflowID)

	task := agent.NewTask(
		o.taskID("writer"),
		"Create comprehensive documentation",
		taskContext(s, "documentation", map[string]any{
			"implementation": latestRecord(s.Implementation),
			"tests":          latestRecord(s.Tests),
			"infrastructure": latestRecord(s.Infrastructure),
		}),
	)
	rec := o.runNode(ctx, s.WorkflowID, nodeDocumentation, agent.TechnicalWriter, task)

	if rec.Status == graph.RecordFailed {
		return graph.Update{
			Errors:         []graph.StepError{{Step: nodeDocumentation, Error: rec.Error, Timestamp: o.clock()}},
			CurrentStep:    nodeDocumentation,
			CompletedSteps: []string{nodeDocumentation},
			Status:         graph.StatusCompleted,
		}, nil
	}
	now := o.clock()
	return graph.Update{
		Documentation:  []graph.Record{rec},
		FilesCreated:   rec.FilesCreated,
		CurrentStep:    nodeDocumentation,
		CompletedSteps: []string{nodeDocumentation},
		Status:         graph.StatusCompleted,
		CompletedAt:    &now,
	}, nil
}

// afterImplementation decides whether to fan out into the parallel stage.
// Implementation failure ends the workflow; otherwise both branches are
// dispatched, skipping any that already completed on a resumed thread.
func afterImplementation(s graph.State) graph.Route {
	if s.HasErrorsFor(nodeImplementation) {
		slog.Warn("Implementation failed, stopping workflow", "workflow_id", s.WorkflowID)
		return graph.Stop()
	}
	if n := len(s.Implementation); n > 0 && s.Implementation[n-1].Status == graph.RecordFailed {
		slog.Warn("Implementation marked as failed", "workflow_id", s.WorkflowID)
		return graph.Stop()
	}

	var targets []string
	if !s.CompletedStep(nodeQATesting) {
		targets = append(targets, nodeQATesting)
	}
	if !s.CompletedStep(nodeInfrastructure) {
		targets = append(targets, nodeInfrastructure)
	}
	if len(targets) == 0 {
		// Resumed after both branches already ran.
		return graph.Goto(nodeDocumentation)
	}
	slog.Info("Implementation successful, proceeding with parallel QA/DevOps", "workflow_id", s.WorkflowID)
	return graph.Send(targets...)
}

// afterParallel is the join policy for the parallel stage. Documentation
// runs only when both branches completed without errors; a failure in
// either ends the workflow.
func afterParallel(s graph.State) graph.Route {
	if !s.CompletedStep(nodeQATesting) || !s.CompletedStep(nodeInfrastructure) {
		// Reachable only when resuming a thread checkpointed mid-stage;
		// a live run reduces both branches before routing. Re-dispatch
		// whatever is missing.
		var missing []string
		if !s.CompletedStep(nodeQATesting) {
			missing = append(missing, nodeQATesting)
		}
		if !s.CompletedStep(nodeInfrastructure) {
			missing = append(missing, nodeInfrastructure)
		}
		return graph.Send(missing...)
	}
	if s.HasErrorsFor(nodeQATesting) || s.HasErrorsFor(nodeInfrastructure) {
		slog.Warn("Critical errors in parallel execution", "workflow_id", s.WorkflowID)
		return graph.Stop()
	}
	slog.Info("Parallel execution successful, proceeding to documentation", "workflow_id", s.WorkflowID)
	return graph.Goto(nodeDocumentation)
}

// taskContext assembles the context map an agent sees: launch context first,
// then the standard keys, then per-node upstream artifacts. Later layers win
// on collision.
func taskContext(s graph.State, taskType string, upstream map[string]any) map[string]any {
	out := make(map[string]any, len(s.Context)+len(upstream)+3)
	for k, v := range s.Context {
		out[k] = v
	}
	out["requirement"] = s.Requirement
	out["workflow_type"] = s.WorkflowType
	out["task_type"] = taskType
	for k, v := range upstream {
		out[k] = v
	}
	return out
}

// latestRecord returns the newest record of a sequence, or an empty map when
// there is none, so prompts render "{}" rather than skipping the key.
func latestRecord(records []graph.Record) any {
	if len(records) == 0 {
		return map[string]any{}
	}
	return records[len(records)-1]
}
