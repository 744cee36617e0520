package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"taskwatch/internal/config"
	"taskwatch/internal/task"
)

// Store manages task persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the state database and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// SaveTask upserts one task record.
func (s *Store) SaveTask(ctx context.Context, t task.Task) error {
	if _, err := s.db.ExecContext(ctx, upsertTaskSQL, upsertTaskArgs(t)...); err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// SaveTasks upserts a batch inside one transaction. Used by the coalesced
// flush job.
func (s *Store) SaveTasks(ctx context.Context, tasks []task.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin flush tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range tasks {
		if _, err := tx.ExecContext(ctx, upsertTaskSQL, upsertTaskArgs(t)...); err != nil {
			return fmt.Errorf("save task %s: %w", t.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit flush: %w", err)
	}
	return nil
}

const upsertTaskSQL = `INSERT INTO tasks (
        id, label, identifier, origin_ref, state, bound_event_id,
        fallback_bound, progress, detail, saw_progress, created_at, updated_at, seq
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET
        label = excluded.label,
        identifier = excluded.identifier,
        origin_ref = excluded.origin_ref,
        state = excluded.state,
        bound_event_id = excluded.bound_event_id,
        fallback_bound = excluded.fallback_bound,
        progress = excluded.progress,
        detail = excluded.detail,
        saw_progress = excluded.saw_progress,
        updated_at = excluded.updated_at,
        seq = excluded.seq`

func upsertTaskArgs(t task.Task) []any {
	return []any{
		t.ID,
		nullableString(t.Label),
		nullableString(t.Identifier),
		nullableString(t.OriginRef),
		string(t.State),
		nullableString(t.BoundEventID),
		boolToInt(t.FallbackBound),
		t.Progress,
		nullableString(t.Detail),
		boolToInt(t.SawProgressSignal),
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
		t.UpdatedAt.UTC().Format(time.RFC3339Nano),
		t.Seq,
	}
}

// LoadTasks reads every persisted task, ordered by creation.
func (s *Store) LoadTasks(ctx context.Context) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetByID fetches one task record.
func (s *Store) GetByID(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

// DeleteCompleted purges Complete tasks from the persisted snapshot.
func (s *Store) DeleteCompleted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE state = ?`, string(task.StateComplete))
	if err != nil {
		return 0, fmt.Errorf("delete completed: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of persisted tasks grouped by state.
func (s *Store) Stats(ctx context.Context) (map[task.State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM tasks GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[task.State]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[task.State(state)] = count
	}
	return stats, rows.Err()
}

const taskColumns = "id, label, identifier, origin_ref, state, bound_event_id, fallback_bound, progress, detail, saw_progress, created_at, updated_at, seq"

func scanTask(scanner interface{ Scan(dest ...any) error }) (task.Task, error) {
	var (
		id            string
		label         sql.NullString
		identifier    sql.NullString
		originRef     sql.NullString
		stateStr      string
		boundEventID  sql.NullString
		fallbackBound sql.NullInt64
		progress      sql.NullInt64
		detail        sql.NullString
		sawProgress   sql.NullInt64
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
		seq           int64
	)

	if err := scanner.Scan(
		&id,
		&label,
		&identifier,
		&originRef,
		&stateStr,
		&boundEventID,
		&fallbackBound,
		&progress,
		&detail,
		&sawProgress,
		&createdRaw,
		&updatedRaw,
		&seq,
	); err != nil {
		return task.Task{}, err
	}

	t := task.Task{
		ID:                id,
		Label:             label.String,
		Identifier:        identifier.String,
		OriginRef:         originRef.String,
		State:             task.State(stateStr),
		BoundEventID:      boundEventID.String,
		FallbackBound:     fallbackBound.Int64 != 0,
		Progress:          int(progress.Int64),
		Detail:            detail.String,
		SawProgressSignal: sawProgress.Int64 != 0,
		Seq:               seq,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		t.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		t.UpdatedAt = updated
	}
	return t, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}
