package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewflow/crewflow/pkg/graph"
)

// sampleState builds a state with every kind of merge-policy field
// populated, so backend round trips are exercised on realistic data.
func sampleState(step string) graph.State {
	return graph.State{
		Requirement:  "build a REST API for task management",
		WorkflowType: graph.WorkflowFeatureDevelopment,
		WorkflowID:   "workflow_20240301_100000",
		Context:      map[string]any{"team": "core"},
		Implementation: []graph.Record{{
			Status:       "completed",
			Role:         "developer",
			TaskID:       "dev_impl_workflow_20240301_100000",
			FilesCreated: []string{"/ws/app/main.py"},
		}},
		Errors: []graph.StepError{{
			Step:      "qa_testing",
			Error:     "transient failure",
			Timestamp: time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC),
		}},
		FilesCreated:   []string{"/ws/app/main.py"},
		CurrentStep:    step,
		CompletedSteps: []string{"business_analysis", step},
		Status:         graph.StatusRunning,
	}
}

// runSaverConformance exercises the Saver contract against any backend.
func runSaverConformance(t *testing.T, newSaver func(t *testing.T) Saver) {
	ctx := context.Background()

	t.Run("save then latest round trips", func(t *testing.T) {
		s := newSaver(t)
		thread := "thread-" + uuid.NewString()

		require.NoError(t, s.Save(ctx, thread, 1, sampleState("business_analysis")))
		require.NoError(t, s.Save(ctx, thread, 2, sampleState("implementation")))

		snap, err := s.Latest(ctx, thread)
		require.NoError(t, err)
		assert.Equal(t, thread, snap.ThreadID)
		assert.Equal(t, 2, snap.Seq)
		assert.Equal(t, "implementation", snap.State.CurrentStep)
		assert.Equal(t, sampleState("implementation"), snap.State)
		assert.False(t, snap.SavedAt.IsZero())
	})

	t.Run("latest on unknown thread", func(t *testing.T) {
		s := newSaver(t)
		_, err := s.Latest(ctx, "thread-"+uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("stale sequence rejected", func(t *testing.T) {
		s := newSaver(t)
		thread := "thread-" + uuid.NewString()

		require.NoError(t, s.Save(ctx, thread, 1, sampleState("a")))
		require.NoError(t, s.Save(ctx, thread, 2, sampleState("b")))

		assert.ErrorIs(t, s.Save(ctx, thread, 2, sampleState("b")), ErrStaleSeq)
		assert.ErrorIs(t, s.Save(ctx, thread, 1, sampleState("a")), ErrStaleSeq)

		snap, err := s.Latest(ctx, thread)
		require.NoError(t, err)
		assert.Equal(t, 2, snap.Seq, "rejected saves must not disturb history")
	})

	t.Run("history is ascending and complete", func(t *testing.T) {
		s := newSaver(t)
		thread := "thread-" + uuid.NewString()

		for seq := 1; seq <= 4; seq++ {
			require.NoError(t, s.Save(ctx, thread, seq, sampleState("a")))
		}

		history, err := s.History(ctx, thread)
		require.NoError(t, err)
		require.Len(t, history, 4)
		for i, snap := range history {
			assert.Equal(t, i+1, snap.Seq)
		}
	})

	t.Run("threads are isolated", func(t *testing.T) {
		s := newSaver(t)
		a := "thread-" + uuid.NewString()
		b := "thread-" + uuid.NewString()

		require.NoError(t, s.Save(ctx, a, 1, sampleState("a")))
		require.NoError(t, s.Save(ctx, b, 5, sampleState("b")))

		snapA, err := s.Latest(ctx, a)
		require.NoError(t, err)
		snapB, err := s.Latest(ctx, b)
		require.NoError(t, err)

		assert.Equal(t, 1, snapA.Seq)
		assert.Equal(t, 5, snapB.Seq)
	})
}
