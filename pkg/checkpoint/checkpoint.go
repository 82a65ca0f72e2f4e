// Package checkpoint persists versioned workflow state snapshots keyed by
// thread. Every node completion produces a snapshot with the next sequence
// number; resuming a thread loads the latest snapshot and continues from
// the node after its current step.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/crewflow/crewflow/pkg/graph"
)

// ErrNotFound is returned when a thread has no snapshots.
var ErrNotFound = errors.New("no checkpoint for thread")

// ErrStaleSeq is returned when a save would move the sequence backwards or
// repeat it. The caller is holding an outdated view of the thread.
var ErrStaleSeq = errors.New("checkpoint sequence is stale")

// Snapshot is one persisted state version.
type Snapshot struct {
	ThreadID string      `json:"thread_id"`
	Seq      int         `json:"seq"`
	State    graph.State `json:"state"`
	SavedAt  time.Time   `json:"saved_at"`
}

// Saver stores and replays snapshots. Save must be atomic, reject any seq
// not strictly greater than the thread's latest (ErrStaleSeq), and
// serialize concurrent saves for the same thread. History returns snapshots
// in ascending sequence order.
type Saver interface {
	Save(ctx context.Context, threadID string, seq int, state graph.State) error
	Latest(ctx context.Context, threadID string) (Snapshot, error)
	History(ctx context.Context, threadID string) ([]Snapshot, error)
}
