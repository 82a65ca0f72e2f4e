package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crewflow/crewflow/pkg/graph"
)

// File is a durable Saver writing one JSON file per snapshot under
// <dir>/<threadID>/<seq>.json. Writes go through a temp file and rename so
// a crash never leaves a half-written snapshot visible. Unreadable files
// are skipped with a warning instead of failing the whole thread.
type File struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewFile creates the store rooted at dir, creating it if needed.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint dir: %w", err)
	}
	return &File{dir: dir, now: time.Now}, nil
}

func (f *File) threadDir(threadID string) string {
	return filepath.Join(f.dir, threadID)
}

func (f *File) snapshotPath(threadID string, seq int) string {
	return filepath.Join(f.threadDir(threadID), fmt.Sprintf("%06d.json", seq))
}

// Save writes the snapshot atomically after checking monotonicity.
func (f *File) Save(ctx context.Context, threadID string, seq int, state graph.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	latest, err := f.latestSeq(threadID)
	if err != nil {
		return err
	}
	if latest != 0 && seq <= latest {
		return fmt.Errorf("%w: seq %d, latest %d", ErrStaleSeq, seq, latest)
	}

	dir := f.threadDir(threadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating thread dir: %w", err)
	}

	data, err := json.MarshalIndent(Snapshot{
		ThreadID: threadID,
		Seq:      seq,
		State:    state,
		SavedAt:  f.now(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.snapshotPath(threadID, seq)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("publishing snapshot: %w", err)
	}
	return nil
}

// Latest returns the newest readable snapshot, skipping corrupt files.
func (f *File) Latest(ctx context.Context, threadID string) (Snapshot, error) {
	seqs, err := f.listSeqs(threadID)
	if err != nil {
		return Snapshot{}, err
	}
	if len(seqs) == 0 {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, threadID)
	}

	for i := len(seqs) - 1; i >= 0; i-- {
		snap, err := f.read(threadID, seqs[i])
		if err != nil {
			slog.Warn("Skipping unreadable checkpoint",
				"thread_id", threadID, "seq", seqs[i], "error", err)
			continue
		}
		return snap, nil
	}
	return Snapshot{}, fmt.Errorf("%w: %s has no readable snapshots", ErrNotFound, threadID)
}

// History returns all readable snapshots in ascending sequence order.
func (f *File) History(ctx context.Context, threadID string) ([]Snapshot, error) {
	seqs, err := f.listSeqs(threadID)
	if err != nil {
		return nil, err
	}

	out := make([]Snapshot, 0, len(seqs))
	for _, seq := range seqs {
		snap, err := f.read(threadID, seq)
		if err != nil {
			slog.Warn("Skipping unreadable checkpoint",
				"thread_id", threadID, "seq", seq, "error", err)
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

func (f *File) read(threadID string, seq int) (Snapshot, error) {
	data, err := os.ReadFile(f.snapshotPath(threadID, seq))
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}

// listSeqs returns the sequence numbers present on disk, ascending.
func (f *File) listSeqs(threadID string) ([]int, error) {
	entries, err := os.ReadDir(f.threadDir(threadID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading thread dir: %w", err)
	}

	seqs := make([]int, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		seq, err := strconv.Atoi(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	return seqs, nil
}

func (f *File) latestSeq(threadID string) (int, error) {
	seqs, err := f.listSeqs(threadID)
	if err != nil {
		return 0, err
	}
	if len(seqs) == 0 {
		return 0, nil
	}
	return seqs[len(seqs)-1], nil
}
