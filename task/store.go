package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/agentrun/core"
)

// Store persists task snapshots and event histories in sqlite so tasks stay
// queryable after their in-memory records are evicted.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the sqlite database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func NewStore(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	ddl := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			result TEXT,
			error TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS task_events (
			task_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			id TEXT NOT NULL,
			parent_id TEXT,
			name TEXT NOT NULL,
			step INTEGER NOT NULL,
			ts TEXT NOT NULL,
			content TEXT,
			PRIMARY KEY (task_id, idx),
			FOREIGN KEY(task_id) REFERENCES tasks(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_task_events_task_id ON task_events(task_id);`,
	}

	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// SaveTask inserts a new task row. Re-saving an id resets its status and
// clears previously recorded events (re-created tasks start a fresh log).
func (s *Store) SaveTask(ctx context.Context, id string, status Status) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, status, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, result = NULL, error = NULL, updated_at = excluded.updated_at`,
		id, string(status), now, now,
	)
	if err != nil {
		return fmt.Errorf("save task %q: %w", id, err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM task_events WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("reset events for task %q: %w", id, err)
	}

	return nil
}

// UpdateTask records the terminal outcome of a task.
func (s *Store) UpdateTask(ctx context.Context, id string, status Status, result, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, result = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), result, errMsg, now, id,
	)
	if err != nil {
		return fmt.Errorf("update task %q: %w", id, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return nil
}

// AppendEvent writes one history entry at the given log index.
func (s *Store) AppendEvent(ctx context.Context, taskID string, idx int, ev core.EventItem) error {
	var content []byte
	if ev.Content != nil {
		var err error
		content, err = json.Marshal(ev.Content)
		if err != nil {
			return fmt.Errorf("encode event content: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO task_events (task_id, idx, id, parent_id, name, step, ts, content)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		taskID, idx, ev.ID, ev.ParentID, ev.Name, ev.Step, ev.Timestamp.UTC().Format(time.RFC3339Nano), content,
	)
	if err != nil {
		return fmt.Errorf("append event for task %q: %w", taskID, err)
	}
	return nil
}

// LoadTask reads a task snapshot including its full history.
func (s *Store) LoadTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT status, COALESCE(result, ''), COALESCE(error, '') FROM tasks WHERE id = ?`, id)

	t := &Task{ID: id}
	var status string
	if err := row.Scan(&status, &t.Result, &t.Error); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return nil, fmt.Errorf("load task %q: %w", id, err)
	}
	t.Status = Status(status)

	history, err := s.LoadHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	t.History = history

	return t, nil
}

// LoadHistory reads a task's events ordered by log index.
func (s *Store) LoadHistory(ctx context.Context, taskID string) ([]core.EventItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(parent_id, ''), name, step, ts, content
		 FROM task_events WHERE task_id = ? ORDER BY idx`, taskID)
	if err != nil {
		return nil, fmt.Errorf("load history for task %q: %w", taskID, err)
	}
	defer rows.Close()

	var history []core.EventItem
	for rows.Next() {
		var (
			ev      core.EventItem
			ts      string
			content []byte
		)
		if err := rows.Scan(&ev.ID, &ev.ParentID, &ev.Name, &ev.Step, &ts, &content); err != nil {
			return nil, fmt.Errorf("scan event for task %q: %w", taskID, err)
		}
		if ev.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse event timestamp for task %q: %w", taskID, err)
		}
		if len(content) > 0 {
			if err := json.Unmarshal(content, &ev.Content); err != nil {
				return nil, fmt.Errorf("decode event content for task %q: %w", taskID, err)
			}
		}
		history = append(history, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events for task %q: %w", taskID, err)
	}

	return history, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
