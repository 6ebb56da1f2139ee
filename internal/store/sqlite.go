package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/ensemble/internal/model"
	"github.com/seantiz/ensemble/internal/tracker"

	_ "modernc.org/sqlite"
)

const createRealizationsTable = `
CREATE TABLE IF NOT EXISTS realizations (
    run_id       TEXT NOT NULL,
    iens         INTEGER NOT NULL,
    state        TEXT NOT NULL,
    run_path     TEXT NOT NULL,
    target       TEXT NOT NULL,
    queue_handle INTEGER,
    error        TEXT NOT NULL DEFAULT '',
    created_at   DATETIME NOT NULL,
    submitted_at DATETIME,
    updated_at   DATETIME NOT NULL,
    PRIMARY KEY (run_id, iens)
)`

const createSnapshotsTable = `
CREATE TABLE IF NOT EXISTS snapshots (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id    TEXT NOT NULL,
    waiting   INTEGER NOT NULL,
    pending   INTEGER NOT NULL,
    running   INTEGER NOT NULL,
    failed    INTEGER NOT NULL,
    finished  INTEGER NOT NULL,
    capacity  INTEGER NOT NULL,
    taken_at  DATETIME NOT NULL
)`

const createSnapshotsIndex = `
CREATE INDEX IF NOT EXISTS idx_snapshots_run ON snapshots (run_id, id)`

// ErrNotFound is returned when a realization or snapshot is not found.
var ErrNotFound = errors.New("not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// :memory: databases are per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createRealizationsTable, createSnapshotsTable, createSnapshotsIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Ping checks that the database is still reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRealization inserts a newly queued realization.
func (s *SQLiteStore) CreateRealization(ctx context.Context, r *model.Realization) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO realizations (
			run_id, iens, state, run_path, target, queue_handle,
			error, created_at, submitted_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Iens, r.State, r.RunPath, r.Target, r.QueueHandle,
		r.Error, r.CreatedAt, r.SubmittedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert realization: %w", err)
	}
	return nil
}

// GetRealization retrieves one realization of a run.
func (s *SQLiteStore) GetRealization(ctx context.Context, runID string, iens int) (*model.Realization, error) {
	r := &model.Realization{}
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, iens, state, run_path, target, queue_handle,
			error, created_at, submitted_at
		FROM realizations WHERE run_id = ? AND iens = ?`, runID, iens,
	).Scan(
		&r.RunID, &r.Iens, &r.State, &r.RunPath, &r.Target, &r.QueueHandle,
		&r.Error, &r.CreatedAt, &r.SubmittedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get realization: %w", err)
	}
	r.Submitted = r.QueueHandle != nil
	return r, nil
}

// ListRealizations returns a page of realizations, newest run first and then
// by index, along with the total count. An empty runID lists every run.
func (s *SQLiteStore) ListRealizations(ctx context.Context, runID string, limit, offset int) ([]*model.Realization, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	where := ""
	args := []any{}
	if runID != "" {
		where = " WHERE run_id = ?"
		args = append(args, runID)
	}

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM realizations"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count realizations: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT run_id, iens, state, run_path, target, queue_handle,
			error, created_at, submitted_at
		FROM realizations`+where+` ORDER BY run_id DESC, iens ASC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list realizations: %w", err)
	}
	defer rows.Close()

	var out []*model.Realization
	for rows.Next() {
		r := &model.Realization{}
		if err := rows.Scan(
			&r.RunID, &r.Iens, &r.State, &r.RunPath, &r.Target, &r.QueueHandle,
			&r.Error, &r.CreatedAt, &r.SubmittedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan realization: %w", err)
		}
		r.Submitted = r.QueueHandle != nil
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate realizations: %w", err)
	}

	return out, total, nil
}

// SyncRealization brings a journaled realization up to date with r. The state
// may skip intermediate steps but never move backwards; an unchanged state is
// a no-op.
func (s *SQLiteStore) SyncRealization(ctx context.Context, r *model.Realization) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		"SELECT state FROM realizations WHERE run_id = ? AND iens = ?", r.RunID, r.Iens,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get realization state: %w", err)
	}

	if current == r.State {
		return nil
	}
	if !model.Reachable(current, r.State) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, r.State)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE realizations SET state = ?, queue_handle = ?, error = ?,
			submitted_at = ?, updated_at = ?
		WHERE run_id = ? AND iens = ?`,
		r.State, r.QueueHandle, r.Error, r.SubmittedAt, time.Now().UTC(),
		r.RunID, r.Iens,
	); err != nil {
		return fmt.Errorf("update realization: %w", err)
	}

	return tx.Commit()
}

// InsertSnapshot appends a tracker snapshot for a run.
func (s *SQLiteStore) InsertSnapshot(ctx context.Context, runID string, snap tracker.Snapshot) error {
	counts := snapshotCounts(snap)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (
			run_id, waiting, pending, running, failed, finished, capacity, taken_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		counts[tracker.StateWaiting], counts[tracker.StatePending], counts[tracker.StateRunning],
		counts[tracker.StateFailed], counts[tracker.StateFinished],
		snap.Capacity, snap.At,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recently inserted snapshot for a run.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context, runID string) (*tracker.Snapshot, error) {
	var counts [tracker.NumStates]int
	snap := &tracker.Snapshot{}
	err := s.db.QueryRowContext(ctx,
		`SELECT waiting, pending, running, failed, finished, capacity, taken_at
		FROM snapshots WHERE run_id = ? ORDER BY id DESC LIMIT 1`, runID,
	).Scan(
		&counts[tracker.StateWaiting], &counts[tracker.StatePending], &counts[tracker.StateRunning],
		&counts[tracker.StateFailed], &counts[tracker.StateFinished],
		&snap.Capacity, &snap.At,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	snap.States = make([]tracker.StateCount, tracker.NumStates)
	for i, name := range tracker.StateNames() {
		snap.States[i] = tracker.StateCount{State: tracker.State(i), Name: name, Count: counts[i]}
	}
	snap.Finished = counts[tracker.StateFinished]
	return snap, nil
}

func snapshotCounts(snap tracker.Snapshot) [tracker.NumStates]int {
	var counts [tracker.NumStates]int
	for _, sc := range snap.States {
		if sc.State >= 0 && sc.State < tracker.NumStates {
			counts[sc.State] = sc.Count
		}
	}
	return counts
}

// SnapshotPublisher adapts a Store to tracker.Publisher for one run.
type SnapshotPublisher struct {
	Store Store
	RunID string
}

// Publish implements tracker.Publisher.
func (p SnapshotPublisher) Publish(ctx context.Context, snap tracker.Snapshot) error {
	return p.Store.InsertSnapshot(ctx, p.RunID, snap)
}
