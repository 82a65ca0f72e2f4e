package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySaverConformance(t *testing.T) {
	runSaverConformance(t, func(t *testing.T) Saver { return NewMemory() })
}

func TestMemorySaverSnapshotsAreIsolated(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	state := sampleState("implementation")
	require.NoError(t, m.Save(ctx, "t1", 1, state))

	// Mutating the caller's state after save must not rewrite history.
	state.FilesCreated[0] = "mutated"
	state.Context["team"] = "mutated"

	snap, err := m.Latest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "/ws/app/main.py", snap.State.FilesCreated[0])
	assert.Equal(t, "core", snap.State.Context["team"])

	// Mutating a returned snapshot must not affect the store either.
	snap.State.CompletedSteps[0] = "mutated"
	again, err := m.Latest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "business_analysis", again.State.CompletedSteps[0])
}
