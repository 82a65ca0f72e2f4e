package checkpoint

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql

	"github.com/crewflow/crewflow/pkg/graph"
)

//go:embed migrations
var migrationsFS embed.FS

// Postgres is a durable Saver backed by a single checkpoints table.
// Monotonicity is enforced in one statement so concurrent writers for the
// same thread cannot interleave a stale save.
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgres connects, verifies the connection, and applies any pending
// embedded migrations.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Postgres{db: db, now: time.Now}, nil
}

// DB exposes the underlying connection for health checks.
func (p *Postgres) DB() *sql.DB { return p.db }

// Close releases the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

// Save inserts the snapshot unless a snapshot with an equal or higher seq
// already exists for the thread.
func (p *Postgres) Save(ctx context.Context, threadID string, seq int, state graph.State) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	res, err := p.db.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, seq, state, saved_at)
		SELECT $1, $2, $3, $4
		WHERE NOT EXISTS (
			SELECT 1 FROM checkpoints WHERE thread_id = $1 AND seq >= $2
		)`,
		threadID, seq, stateJSON, p.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting checkpoint: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking insert result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: seq %d for thread %s", ErrStaleSeq, seq, threadID)
	}
	return nil
}

// Latest returns the highest-sequence snapshot for the thread.
func (p *Postgres) Latest(ctx context.Context, threadID string) (Snapshot, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT seq, state, saved_at
		FROM checkpoints
		WHERE thread_id = $1
		ORDER BY seq DESC
		LIMIT 1`,
		threadID,
	)

	snap, err := scanSnapshot(row, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, threadID)
	}
	return snap, err
}

// History returns all snapshots for the thread in ascending sequence order.
func (p *Postgres) History(ctx context.Context, threadID string) ([]Snapshot, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT seq, state, saved_at
		FROM checkpoints
		WHERE thread_id = $1
		ORDER BY seq ASC`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows, threadID)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner, threadID string) (Snapshot, error) {
	var (
		seq       int
		stateJSON []byte
		savedAt   time.Time
	)
	if err := row.Scan(&seq, &stateJSON, &savedAt); err != nil {
		return Snapshot{}, err
	}

	var state graph.State
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return Snapshot{}, fmt.Errorf("decoding state for seq %d: %w", seq, err)
	}
	return Snapshot{ThreadID: threadID, Seq: seq, State: state, SavedAt: savedAt}, nil
}

// runMigrations applies embedded migrations with golang-migrate.
func runMigrations(db *sql.DB) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "checkpoints", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the migration source. m.Close() would also close the
	// database driver, which closes the shared *sql.DB we keep using.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}
	return nil
}
