package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"taskmaster/internal/domain"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  kind TEXT NOT NULL CHECK(kind IN ('one_time','recurring')),
  cron_expression TEXT,
  scheduled_time DATETIME NOT NULL,
  enabled INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(enabled, scheduled_time);
CREATE TABLE IF NOT EXISTS execution_log (
  id TEXT PRIMARY KEY,
  task_id TEXT NOT NULL,
  task_name TEXT NOT NULL,
  kind TEXT NOT NULL,
  cron_expression TEXT,
  executed_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_execution_log_executed ON execution_log(executed_at DESC);
`
	_, err := db.Exec(schema)
	return err
}

// Repository is the store adapter consumed by the scheduling engine. The
// engine exclusively decides when a task executes; the repository only moves
// rows. Reschedule and Retire are the claim operations: both are conditional
// on the due time the caller observed, so a concurrent claimer loses cleanly.
type Repository interface {
	CreateTask(ctx context.Context, t domain.Task) (domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	ListTasks(ctx context.Context) ([]domain.Task, error)
	UpdateTask(ctx context.Context, t domain.Task) error
	DeleteTask(ctx context.Context, id string) error

	// ListDueTasks returns enabled tasks whose due time is at or before asOf,
	// optionally restricted to one kind (empty kind means all). Read-only.
	ListDueTasks(ctx context.Context, asOf time.Time, kind domain.TaskKind) ([]domain.Task, error)

	// Reschedule advances a task's due time, conditional on the due time the
	// caller observed. Returns false when the row changed or vanished.
	Reschedule(ctx context.Context, id string, observed, next time.Time) (bool, error)

	// Retire removes a one-time task, conditional on its observed due time.
	Retire(ctx context.Context, id string, observed time.Time) (bool, error)

	// Disable excludes a task from due selection without deleting it.
	Disable(ctx context.Context, id string) error

	InsertLog(ctx context.Context, e domain.ExecutionLogEntry) (domain.ExecutionLogEntry, error)
	ListLogs(ctx context.Context) ([]domain.ExecutionLogEntry, error)
	DeleteLog(ctx context.Context, id string) error
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

func (r *sqliteRepo) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	if t.ID == "" {
		t.ID = "tsk_" + uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.ScheduledTime = t.ScheduledTime.UTC()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO tasks (id,name,kind,cron_expression,scheduled_time,enabled,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)
`, t.ID, t.Name, t.Kind, nullStr(t.CronExpression), t.ScheduledTime, t.Enabled, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (r *sqliteRepo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id,name,kind,cron_expression,scheduled_time,enabled,created_at,updated_at
FROM tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, &domain.NotFoundError{ID: id}
	}
	return t, err
}

func (r *sqliteRepo) ListTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,name,kind,cron_expression,scheduled_time,enabled,created_at,updated_at
FROM tasks ORDER BY scheduled_time ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *sqliteRepo) UpdateTask(ctx context.Context, t domain.Task) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE tasks SET name=?,kind=?,cron_expression=?,scheduled_time=?,enabled=?,updated_at=?
WHERE id=?`, t.Name, t.Kind, nullStr(t.CronExpression), t.ScheduledTime.UTC(), t.Enabled, time.Now().UTC(), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{ID: t.ID}
	}
	return nil
}

func (r *sqliteRepo) DeleteTask(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM tasks WHERE id=?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{ID: id}
	}
	return nil
}

func (r *sqliteRepo) ListDueTasks(ctx context.Context, asOf time.Time, kind domain.TaskKind) ([]domain.Task, error) {
	q := `
SELECT id,name,kind,cron_expression,scheduled_time,enabled,created_at,updated_at
FROM tasks WHERE enabled=1 AND scheduled_time <= ?`
	args := []any{asOf.UTC()}
	if kind != "" {
		q += ` AND kind=?`
		args = append(args, kind)
	}
	q += ` ORDER BY scheduled_time ASC`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *sqliteRepo) Reschedule(ctx context.Context, id string, observed, next time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE tasks SET scheduled_time=?, updated_at=?
WHERE id=? AND scheduled_time=? AND enabled=1`,
		next.UTC(), time.Now().UTC(), id, observed.UTC())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *sqliteRepo) Retire(ctx context.Context, id string, observed time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
DELETE FROM tasks WHERE id=? AND scheduled_time=?`, id, observed.UTC())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *sqliteRepo) Disable(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE tasks SET enabled=0, updated_at=? WHERE id=?`, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{ID: id}
	}
	return nil
}

func (r *sqliteRepo) InsertLog(ctx context.Context, e domain.ExecutionLogEntry) (domain.ExecutionLogEntry, error) {
	if e.ID == "" {
		e.ID = "log_" + uuid.NewString()
	}
	e.ExecutedAt = e.ExecutedAt.UTC()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO execution_log (id,task_id,task_name,kind,cron_expression,executed_at)
VALUES (?,?,?,?,?,?)
`, e.ID, e.TaskID, e.TaskName, e.Kind, nullStr(e.CronExpression), e.ExecutedAt)
	if err != nil {
		return domain.ExecutionLogEntry{}, err
	}
	return e, nil
}

func (r *sqliteRepo) ListLogs(ctx context.Context) ([]domain.ExecutionLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,task_id,task_name,kind,cron_expression,executed_at
FROM execution_log ORDER BY executed_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.ExecutionLogEntry
	for rows.Next() {
		var e domain.ExecutionLogEntry
		var cronExpr sql.NullString
		if err := rows.Scan(&e.ID, &e.TaskID, &e.TaskName, &e.Kind, &cronExpr, &e.ExecutedAt); err != nil {
			return nil, err
		}
		e.CronExpression = cronExpr.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *sqliteRepo) DeleteLog(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM execution_log WHERE id=?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.NotFoundError{ID: id}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var cronExpr sql.NullString
	if err := row.Scan(&t.ID, &t.Name, &t.Kind, &cronExpr, &t.ScheduledTime, &t.Enabled, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.Task{}, err
	}
	t.CronExpression = cronExpr.String
	return t, nil
}

func collectTasks(rows *sql.Rows) ([]domain.Task, error) {
	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
