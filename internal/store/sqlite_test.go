package store_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"taskmaster/internal/domain"
	"taskmaster/internal/store"
)

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.EnsureSchema(db))
	return store.NewSQLiteRepo(db)
}

func TestCreateAndGetTask(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	due := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	created, err := repo.CreateTask(ctx, domain.Task{
		Name:           "daily-report",
		Kind:           domain.KindRecurring,
		CronExpression: "0 9 * * *",
		ScheduledTime:  due,
		Enabled:        true,
	})
	require.NoError(t, err)
	assert.Contains(t, created.ID, "tsk_")
	assert.False(t, created.CreatedAt.IsZero())

	got, err := repo.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "daily-report", got.Name)
	assert.Equal(t, domain.KindRecurring, got.Kind)
	assert.Equal(t, "0 9 * * *", got.CronExpression)
	assert.True(t, got.ScheduledTime.Equal(due))
	assert.True(t, got.Enabled)
}

func TestGetTask_NotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetTask(context.Background(), "tsk_missing")
	require.Error(t, err)
	var nf *domain.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestListTasks_OrderedByDueTime(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	for _, offset := range []time.Duration{2 * time.Hour, 0, time.Hour} {
		_, err := repo.CreateTask(ctx, domain.Task{
			Name:          "t",
			Kind:          domain.KindOneTime,
			ScheduledTime: base.Add(offset),
			Enabled:       true,
		})
		require.NoError(t, err)
	}

	tasks, err := repo.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	for i := 1; i < len(tasks); i++ {
		assert.False(t, tasks[i].ScheduledTime.Before(tasks[i-1].ScheduledTime))
	}
}

func TestListDueTasks(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past, err := repo.CreateTask(ctx, domain.Task{
		Name: "past", Kind: domain.KindOneTime,
		ScheduledTime: now.Add(-time.Minute), Enabled: true,
	})
	require.NoError(t, err)
	_, err = repo.CreateTask(ctx, domain.Task{
		Name: "future", Kind: domain.KindOneTime,
		ScheduledTime: now.Add(time.Hour), Enabled: true,
	})
	require.NoError(t, err)
	recurring, err := repo.CreateTask(ctx, domain.Task{
		Name: "recurring", Kind: domain.KindRecurring, CronExpression: "* * * * *",
		ScheduledTime: now.Add(-time.Minute), Enabled: true,
	})
	require.NoError(t, err)
	disabled, err := repo.CreateTask(ctx, domain.Task{
		Name: "disabled", Kind: domain.KindRecurring, CronExpression: "* * * * *",
		ScheduledTime: now.Add(-time.Minute), Enabled: false,
	})
	require.NoError(t, err)

	due, err := repo.ListDueTasks(ctx, now, "")
	require.NoError(t, err)
	ids := taskIDs(due)
	assert.Contains(t, ids, past.ID)
	assert.Contains(t, ids, recurring.ID)
	assert.NotContains(t, ids, disabled.ID)
	assert.Len(t, due, 2)

	// Kind filter: timer mode scans one-time tasks only.
	due, err = repo.ListDueTasks(ctx, now, domain.KindOneTime)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, past.ID, due[0].ID)
}

func TestReschedule_ConditionalOnObservedDueTime(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	due := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	next := due.Add(24 * time.Hour)
	task, err := repo.CreateTask(ctx, domain.Task{
		Name: "daily", Kind: domain.KindRecurring, CronExpression: "0 9 * * *",
		ScheduledTime: due, Enabled: true,
	})
	require.NoError(t, err)

	claimed, err := repo.Reschedule(ctx, task.ID, due, next)
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second claimer that observed the old due time loses.
	claimed, err = repo.Reschedule(ctx, task.ID, due, next.Add(24*time.Hour))
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, got.ScheduledTime.Equal(next))
}

func TestReschedule_DisabledTaskNotClaimable(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	due := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	task, err := repo.CreateTask(ctx, domain.Task{
		Name: "stuck", Kind: domain.KindRecurring, CronExpression: "0 9 * * *",
		ScheduledTime: due, Enabled: true,
	})
	require.NoError(t, err)
	require.NoError(t, repo.Disable(ctx, task.ID))

	claimed, err := repo.Reschedule(ctx, task.ID, due, due.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestRetire_ConditionalDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	due := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	task, err := repo.CreateTask(ctx, domain.Task{
		Name: "one-shot", Kind: domain.KindOneTime, ScheduledTime: due, Enabled: true,
	})
	require.NoError(t, err)

	claimed, err := repo.Retire(ctx, task.ID, due)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.Retire(ctx, task.ID, due)
	require.NoError(t, err)
	assert.False(t, claimed)

	_, err = repo.GetTask(ctx, task.ID)
	var nf *domain.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestUpdateAndDeleteTask_NotFound(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	var nf *domain.NotFoundError
	err := repo.UpdateTask(ctx, domain.Task{ID: "tsk_missing", Name: "x", Kind: domain.KindOneTime, ScheduledTime: time.Now()})
	assert.True(t, errors.As(err, &nf))
	err = repo.DeleteTask(ctx, "tsk_missing")
	assert.True(t, errors.As(err, &nf))
}

func TestExecutionLog(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first, err := repo.InsertLog(ctx, domain.ExecutionLogEntry{
		TaskID: "tsk_1", TaskName: "a", Kind: domain.KindOneTime,
		ExecutedAt: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Contains(t, first.ID, "log_")

	second, err := repo.InsertLog(ctx, domain.ExecutionLogEntry{
		TaskID: "tsk_2", TaskName: "b", Kind: domain.KindRecurring, CronExpression: "0 9 * * *",
		ExecutedAt: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	entries, err := repo.ListLogs(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Most recent first.
	assert.Equal(t, second.ID, entries[0].ID)
	assert.Equal(t, first.ID, entries[1].ID)
	assert.Equal(t, "0 9 * * *", entries[0].CronExpression)

	require.NoError(t, repo.DeleteLog(ctx, first.ID))
	var nf *domain.NotFoundError
	assert.True(t, errors.As(repo.DeleteLog(ctx, first.ID), &nf))

	entries, err = repo.ListLogs(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func taskIDs(tasks []domain.Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}
