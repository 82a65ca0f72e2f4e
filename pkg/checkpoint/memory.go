package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crewflow/crewflow/pkg/graph"
)

// Memory is a volatile in-process Saver, the default backend. Snapshots are
// lost on restart, which is acceptable for single-shot CLI runs.
type Memory struct {
	mu      sync.RWMutex
	threads map[string][]Snapshot
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		threads: make(map[string][]Snapshot),
		now:     time.Now,
	}
}

// Save appends a snapshot, deep-copying the state so later mutations by the
// caller cannot rewrite history.
func (m *Memory) Save(ctx context.Context, threadID string, seq int, state graph.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snaps := m.threads[threadID]
	if len(snaps) > 0 && seq <= snaps[len(snaps)-1].Seq {
		return fmt.Errorf("%w: seq %d, latest %d", ErrStaleSeq, seq, snaps[len(snaps)-1].Seq)
	}

	m.threads[threadID] = append(snaps, Snapshot{
		ThreadID: threadID,
		Seq:      seq,
		State:    state.Clone(),
		SavedAt:  m.now(),
	})
	return nil
}

// Latest returns the most recent snapshot for the thread.
func (m *Memory) Latest(ctx context.Context, threadID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snaps := m.threads[threadID]
	if len(snaps) == 0 {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, threadID)
	}

	latest := snaps[len(snaps)-1]
	latest.State = latest.State.Clone()
	return latest, nil
}

// History returns all snapshots for the thread in ascending sequence order.
func (m *Memory) History(ctx context.Context, threadID string) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snaps := m.threads[threadID]
	out := make([]Snapshot, len(snaps))
	for i, s := range snaps {
		s.State = s.State.Clone()
		out[i] = s
	}
	return out, nil
}
