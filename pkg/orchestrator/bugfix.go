package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/crewflow/crewflow/pkg/agent"
	"github.com/crewflow/crewflow/pkg/graph"
)

// buildBugFixWorkflow wires the linear bug-fix graph:
//
//	bug_analysis → bug_fix → regression_testing → release_notes → end
//
// Each stage records its outcome whether or not the task succeeded; a failed
// stage adds a step error and the workflow carries on, since a partial trail
// (analysis without a fix, a fix without regression results) is still worth
// keeping.
func buildBugFixWorkflow(o *Orchestrator) (workflow, error) {
	b := graph.NewBuilder()
	err := errors.Join(
		b.AddNode(nodeBugAnalysis, o.bugAnalysisNode),
		b.AddNode(nodeBugFix, o.bugFixNode),
		b.AddNode(nodeRegressionTesting, o.regressionTestingNode),
		b.AddNode(nodeReleaseNotes, o.releaseNotesNode),
		b.SetEntry(nodeBugAnalysis),
		b.AddEdge(nodeBugAnalysis, nodeBugFix),
		b.AddEdge(nodeBugFix, nodeRegressionTesting),
		b.AddEdge(nodeRegressionTesting, nodeReleaseNotes),
		b.AddEdge(nodeReleaseNotes, graph.End),
	)
	if err != nil {
		return workflow{}, err
	}

	g, err := b.Compile()
	if err != nil {
		return workflow{}, err
	}
	return workflow{graph: g, roles: map[string]string{
		nodeBugAnalysis:       agent.RoleQAEngineer,
		nodeBugFix:            agent.RoleDeveloper,
		nodeRegressionTesting: agent.RoleQAEngineer,
		nodeReleaseNotes:      agent.RoleTechnicalWriter,
	}}, nil
}

func (o *Orchestrator) bugAnalysisNode(ctx context.Context, s graph.State) (graph.Update, error) {
	slog.Info("Executing bug analysis node", "workflow_id", s.WorkflowID)

	task := agent.NewTask(
		o.taskID("bug_analysis"),
		"Analyze and reproduce the bug",
		taskContext(s, "bug_analysis", map[string]any{
			"bug_description": s.BugDescription,
		}),
	)
	rec := o.runNode(ctx, s.WorkflowID, nodeBugAnalysis, agent.QAEngineer, task)

	u := graph.Update{
		BugAnalysis:    &rec,
		FilesCreated:   rec.FilesCreated,
		CurrentStep:    nodeBugAnalysis,
		CompletedSteps: []string{nodeBugAnalysis},
	}
	if rec.Status == graph.RecordFailed {
		u.Errors = []graph.StepError{{Step: nodeBugAnalysis, Error: rec.Error, Timestamp: o.clock()}}
	}
	return u, nil
}

func (o *Orchestrator) bugFixNode(ctx context.Context, s graph.State) (graph.Update, error) {
	slog.Info("Executing bug fix node", "workflow_id", s.WorkflowID)

	task := agent.NewTask(
		o.taskID("bug_fix"),
		"Fix the bug",
		taskContext(s, "bug_fix", map[string]any{
			"bug_analysis": recordOrEmpty(s.BugAnalysis),
		}),
	)
	rec := o.runNode(ctx, s.WorkflowID, nodeBugFix, agent.Developer, task)

	u := graph.Update{
		BugFix:         &rec,
		FilesCreated:   rec.FilesCreated,
		CurrentStep:    nodeBugFix,
		CompletedSteps: []string{nodeBugFix},
	}
	if rec.Status == graph.RecordFailed {
		u.Errors = []graph.StepError{{Step: nodeBugFix, Error: rec.Error, Timestamp: o.clock()}}
	}
	return u, nil
}

func (o *Orchestrator) regressionTestingNode(ctx context.Context, s graph.State) (graph.Update, error) {
	slog.Info("Executing regression testing node", "workflow_id", s.WorkflowID)

	task := agent.NewTask(
		o.taskID("regression"),
		"Run regression tests",
		taskContext(s, "regression_testing", map[string]any{
			"bug_fix": recordOrEmpty(s.BugFix),
		}),
	)
	rec := o.runNode(ctx, s.WorkflowID, nodeRegressionTesting, agent.QAEngineer, task)

	u := graph.Update{
		RegressionTests: &rec,
		FilesCreated:    rec.FilesCreated,
		CurrentStep:     nodeRegressionTesting,
		CompletedSteps:  []string{nodeRegressionTesting},
	}
	if rec.Status == graph.RecordFailed {
		u.Errors = []graph.StepError{{Step: nodeRegressionTesting, Error: rec.Error, Timestamp: o.clock()}}
	}
	return u, nil
}

func (o *Orchestrator) releaseNotesNode(ctx context.Context, s graph.State) (graph.Update, error) {
	slog.Info("Executing release notes node", "workflow_id", s.WorkflowID)

	task := agent.NewTask(
		o.taskID("release_notes"),
		"Update release notes",
		taskContext(s, "release_notes", map[string]any{
			"bug_fix": recordOrEmpty(s.BugFix),
		}),
	)
	rec := o.runNode(ctx, s.WorkflowID, nodeReleaseNotes, agent.TechnicalWriter, task)

	u := graph.Update{
		ReleaseNotes:   &rec,
		FilesCreated:   rec.FilesCreated,
		CurrentStep:    nodeReleaseNotes,
		CompletedSteps: []string{nodeReleaseNotes},
		Status:         graph.StatusCompleted,
	}
	if rec.Status == graph.RecordFailed {
		u.Errors = []graph.StepError{{Step: nodeReleaseNotes, Error: rec.Error, Timestamp: o.clock()}}
	}
	return u, nil
}

// recordOrEmpty unwraps an optional record for prompt context.
func recordOrEmpty(r *graph.Record) any {
	if r == nil {
		return map[string]any{}
	}
	return *r
}
