package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewflow/crewflow/pkg/graph"
)

func TestAfterImplementationStopsOnStepError(t *testing.T) {
	s := graph.State{
		Errors: []graph.StepError{{Step: nodeImplementation, Error: "boom", Timestamp: time.Now()}},
	}
	assert.True(t, afterImplementation(s).Terminal)
}

func TestAfterImplementationStopsOnFailedRecord(t *testing.T) {
	s := graph.State{
		Implementation: []graph.Record{
			{Status: graph.RecordCompleted},
			{Status: graph.RecordFailed},
		},
	}
	assert.True(t, afterImplementation(s).Terminal)
}

func TestAfterImplementationFansOut(t *testing.T) {
	s := graph.State{
		Implementation: []graph.Record{{Status: graph.RecordCompleted}},
		CompletedSteps: []string{nodeBusinessAnalyst, nodeArchitectureDesign, nodeImplementation},
	}
	route := afterImplementation(s)
	assert.False(t, route.Terminal)
	assert.Equal(t, []string{nodeQATesting, nodeInfrastructure}, route.Sends)
}

func TestAfterImplementationSkipsCompletedBranch(t *testing.T) {
	s := graph.State{
		Implementation: []graph.Record{{Status: graph.RecordCompleted}},
		CompletedSteps: []string{nodeImplementation, nodeQATesting},
	}
	route := afterImplementation(s)
	assert.Equal(t, []string{nodeInfrastructure}, route.Sends)
}

func TestAfterImplementationBothBranchesDoneGoesToDocumentation(t *testing.T) {
	s := graph.State{
		Implementation: []graph.Record{{Status: graph.RecordCompleted}},
		CompletedSteps: []string{nodeImplementation, nodeQATesting, nodeInfrastructure},
	}
	route := afterImplementation(s)
	assert.Equal(t, nodeDocumentation, route.To)
	assert.Empty(t, route.Sends)
}

func TestAfterParallelRedispatchesMissingBranch(t *testing.T) {
	s := graph.State{
		CompletedSteps: []string{nodeImplementation, nodeQATesting},
	}
	route := afterParallel(s)
	assert.Equal(t, []string{nodeInfrastructure}, route.Sends)
}

func TestAfterParallelStopsOnBranchError(t *testing.T) {
	s := graph.State{
		CompletedSteps: []string{nodeQATesting, nodeInfrastructure},
		Errors:         []graph.StepError{{Step: nodeInfrastructure, Error: "no docker", Timestamp: time.Now()}},
	}
	assert.True(t, afterParallel(s).Terminal)
}

func TestAfterParallelProceedsToDocumentation(t *testing.T) {
	s := graph.State{
		CompletedSteps: []string{nodeQATesting, nodeInfrastructure},
	}
	route := afterParallel(s)
	assert.Equal(t, nodeDocumentation, route.To)
}

func TestAfterParallelIgnoresUnrelatedErrors(t *testing.T) {
	s := graph.State{
		CompletedSteps: []string{nodeQATesting, nodeInfrastructure},
		Errors:         []graph.StepError{{Step: nodeDocumentation, Error: "late", Timestamp: time.Now()}},
	}
	route := afterParallel(s)
	assert.Equal(t, nodeDocumentation, route.To)
}

func TestTaskContextLayering(t *testing.T) {
	s := graph.State{
		Requirement:  "build it",
		WorkflowType: graph.WorkflowFeatureDevelopment,
		Context: map[string]any{
			"target_language": "go",
			"task_type":       "user tried to smuggle this",
		},
	}
	got := taskContext(s, "testing", map[string]any{"implementation": "impl record"})

	assert.Equal(t, "build it", got["requirement"])
	assert.Equal(t, graph.WorkflowFeatureDevelopment, got["workflow_type"])
	assert.Equal(t, "testing", got["task_type"], "standard keys override launch context")
	assert.Equal(t, "go", got["target_language"])
	assert.Equal(t, "impl record", got["implementation"])
}

func TestLatestRecord(t *testing.T) {
	assert.Equal(t, map[string]any{}, latestRecord(nil))

	records := []graph.Record{{TaskID: "a"}, {TaskID: "b"}}
	got, ok := latestRecord(records).(graph.Record)
	require.True(t, ok)
	assert.Equal(t, "b", got.TaskID)
}

func TestUpdateRecordExtraction(t *testing.T) {
	rec, ok := updateRecord(graph.Update{Tests: []graph.Record{{TaskID: "qa_9"}}})
	require.True(t, ok)
	assert.Equal(t, "qa_9", rec.TaskID)

	rec, ok = updateRecord(graph.Update{BugFix: &graph.Record{TaskID: "bug_fix_3"}})
	require.True(t, ok)
	assert.Equal(t, "bug_fix_3", rec.TaskID)

	_, ok = updateRecord(graph.Update{CurrentStep: nodeDocumentation})
	assert.False(t, ok)
}

func TestBuildFeatureWorkflowRoles(t *testing.T) {
	o := &Orchestrator{clock: time.Now}
	wf, err := buildFeatureWorkflow(o)
	require.NoError(t, err)

	assert.Equal(t, nodeBusinessAnalyst, wf.graph.Entry())
	for _, node := range []string{
		nodeBusinessAnalyst, nodeArchitectureDesign, nodeImplementation,
		nodeQATesting, nodeInfrastructure, nodeDocumentation,
	} {
		assert.True(t, wf.graph.HasNode(node), node)
		assert.NotEmpty(t, wf.roles[node], node)
	}
}

func TestBuildBugFixWorkflowShape(t *testing.T) {
	o := &Orchestrator{clock: time.Now}
	wf, err := buildBugFixWorkflow(o)
	require.NoError(t, err)

	assert.Equal(t, nodeBugAnalysis, wf.graph.Entry())
	for _, node := range []string{nodeBugAnalysis, nodeBugFix, nodeRegressionTesting, nodeReleaseNotes} {
		assert.True(t, wf.graph.HasNode(node), node)
	}
}
