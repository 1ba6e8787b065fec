/*
Package sqlite provides a SQLite-backed implementation of recurrence.Store.

PURPOSE:
  Persists task definitions and their completion logs. The engine reads a
  task back with every instance's completion timestamps merged in, exactly
  as a client would have sent it.

APPEND-ONLY ENFORCEMENT:
  The completions table is a log:
  - No UPDATE statements on completions
  - Rows are only removed together with their task (ON DELETE CASCADE)
  - The same millisecond logged twice for one instance is rejected by
    a UNIQUE index and surfaces as recurrence.ErrDuplicateCompletion

KEY TABLES:
  tasks:       One row per task/event. Instances are kept as the JSON wire
               format (factory package) without their completion arrays.
  completions: (task_id, instance_index, completed_at ms)

INDEXES:
  - idx_completions_unique: Enforces one row per instant per instance
  - idx_tasks_created_at:   ListTasks ordering

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of SQLite's own locking.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  store, err := sqlite.New("./data/recurrence.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  h := api.NewHandler(store, evaluator, logger)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - recurrence/store.go: Interface definition
  - recurrence/store/memory.go: In-memory implementation for testing
  - factory/task.go: Instance JSON format
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/recurrence-engine/factory"
	"github.com/warp/recurrence-engine/recurrence"
)

// timeLayout is fixed-width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements recurrence.Store using SQLite.
type Store struct {
	db      *sql.DB
	mu      sync.RWMutex
	factory *factory.TaskFactory
	now     func() time.Time
}

var _ recurrence.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	store := &Store{
		db:      db,
		factory: factory.NewTaskFactory(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		instances_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_created_at
		ON tasks(created_at);

	-- Completions (append-only log)
	CREATE TABLE IF NOT EXISTS completions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		instance_index INTEGER NOT NULL,
		completed_at INTEGER NOT NULL,
		recorded_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_completions_unique
		ON completions(task_id, instance_index, completed_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TASKS
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveTask creates or replaces a task definition. Completion entries on the
// instances are appended to the log; existing log rows are kept unless
// their instance no longer exists.
func (s *Store) SaveTask(ctx context.Context, task recurrence.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	instancesJSON, err := s.encodeInstances(task)
	if err != nil {
		return err
	}
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := task.CreatedAt
	var existing string
	err = tx.QueryRowContext(ctx, "SELECT created_at FROM tasks WHERE id = ?", task.ID).Scan(&existing)
	switch {
	case err == nil:
		if t, perr := time.Parse(timeLayout, existing); perr == nil {
			createdAt = t
		}
	case errors.Is(err, sql.ErrNoRows):
		if createdAt.IsZero() {
			createdAt = now
		}
	default:
		return fmt.Errorf("failed to load task: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, kind, name, description, instances_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			description = excluded.description,
			instances_json = excluded.instances_json,
			updated_at = excluded.updated_at
	`,
		task.ID,
		string(task.Kind),
		task.Name,
		nullString(task.Description),
		instancesJSON,
		createdAt.UTC().Format(timeLayout),
		now.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM completions WHERE task_id = ? AND instance_index >= ?",
		task.ID, len(task.Instances),
	); err != nil {
		return fmt.Errorf("failed to prune completions: %w", err)
	}

	for i, inst := range task.Instances {
		for _, ms := range inst.Completion {
			// resubmitting an already logged completion is not an error here
			if err := s.insertCompletion(ctx, tx, task.ID, i, ms, now); err != nil &&
				!errors.Is(err, recurrence.ErrDuplicateCompletion) {
				return err
			}
		}
	}

	return tx.Commit()
}

// GetTask returns a task with its completion log merged in.
func (s *Store) GetTask(ctx context.Context, id string) (recurrence.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, name, description, instances_json, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id)
	task, err := s.scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return recurrence.Task{}, recurrence.ErrTaskNotFound
	}
	if err != nil {
		return recurrence.Task{}, err
	}

	logs, err := s.loadCompletions(ctx, "WHERE task_id = ?", id)
	if err != nil {
		return recurrence.Task{}, err
	}
	hydrate(&task, logs[id])
	return task, nil
}

// ListTasks returns all tasks ordered by creation time.
func (s *Store) ListTasks(ctx context.Context) ([]recurrence.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, name, description, instances_json, created_at, updated_at
		FROM tasks ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	var tasks []recurrence.Task
	for rows.Next() {
		task, err := s.scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	logs, err := s.loadCompletions(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		hydrate(&tasks[i], logs[tasks[i].ID])
	}
	return tasks, nil
}

// DeleteTask removes a task and, through the foreign key, its log.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return recurrence.ErrTaskNotFound
	}
	return nil
}

// =============================================================================
// COMPLETIONS (append-only)
// =============================================================================

// AppendCompletion logs one completion for an instance.
func (s *Store) AppendCompletion(ctx context.Context, taskID string, index int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var instancesJSON string
	err := s.db.QueryRowContext(ctx, "SELECT instances_json FROM tasks WHERE id = ?", taskID).Scan(&instancesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return recurrence.ErrTaskNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load task: %w", err)
	}

	var instances []json.RawMessage
	if err := json.Unmarshal([]byte(instancesJSON), &instances); err != nil {
		return fmt.Errorf("failed to decode instances: %w", err)
	}
	if index < 0 || index >= len(instances) {
		return recurrence.ErrInstanceNotFound
	}

	return s.insertCompletion(ctx, s.db, taskID, index, at.UnixMilli(), s.now())
}

func (s *Store) insertCompletion(ctx context.Context, db execer, taskID string, index int, ms int64, now time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO completions (task_id, instance_index, completed_at, recorded_at)
		VALUES (?, ?, ?, ?)
	`, taskID, index, ms, now.Format(timeLayout))
	if err != nil {
		if isUniqueConstraintError(err) {
			return recurrence.ErrDuplicateCompletion
		}
		return fmt.Errorf("failed to append completion: %w", err)
	}
	return nil
}

// loadCompletions returns task id -> instance index -> sorted timestamps.
func (s *Store) loadCompletions(ctx context.Context, where string, args ...any) (map[string]map[int][]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, instance_index, completed_at FROM completions `+where+`
		ORDER BY task_id, instance_index, completed_at ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query completions: %w", err)
	}
	defer rows.Close()

	logs := make(map[string]map[int][]int64)
	for rows.Next() {
		var (
			taskID string
			index  int
			ms     int64
		)
		if err := rows.Scan(&taskID, &index, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan completion: %w", err)
		}
		if logs[taskID] == nil {
			logs[taskID] = make(map[int][]int64)
		}
		logs[taskID][index] = append(logs[taskID][index], ms)
	}
	return logs, rows.Err()
}

// =============================================================================
// ENCODING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanTask(row scanner) (recurrence.Task, error) {
	var (
		task          recurrence.Task
		kind          string
		description   sql.NullString
		instancesJSON string
		createdAt     string
		updatedAt     string
	)
	err := row.Scan(&task.ID, &kind, &task.Name, &description, &instancesJSON, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return task, err
		}
		return task, fmt.Errorf("failed to scan task: %w", err)
	}

	task.Kind = recurrence.ItemKind(kind)
	task.Description = description.String
	if task.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return task, fmt.Errorf("failed to parse created_at of task %s: %w", task.ID, err)
	}
	if task.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return task, fmt.Errorf("failed to parse updated_at of task %s: %w", task.ID, err)
	}

	var wire []factory.InstanceJSON
	if err := json.Unmarshal([]byte(instancesJSON), &wire); err != nil {
		return task, fmt.Errorf("failed to decode instances of task %s: %w", task.ID, err)
	}
	task.Instances = make([]recurrence.Instance, len(wire))
	for i, ij := range wire {
		inst, err := s.factory.InstanceFromJSON(ij, task.Kind)
		if err != nil {
			return task, fmt.Errorf("failed to decode instance %d of task %s: %w", i, task.ID, err)
		}
		task.Instances[i] = inst
	}
	return task, nil
}

// encodeInstances stores the definition only; completions live in their
// own table.
func (s *Store) encodeInstances(task recurrence.Task) (string, error) {
	wire := make([]factory.InstanceJSON, len(task.Instances))
	for i, inst := range task.Instances {
		ij := s.factory.InstanceToJSON(inst, task.Kind)
		ij.Completion = nil
		wire[i] = ij
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("failed to encode instances: %w", err)
	}
	return string(data), nil
}

func hydrate(task *recurrence.Task, logs map[int][]int64) {
	for i := range task.Instances {
		task.Instances[i].Completion = logs[i]
	}
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
