package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"taskmaster/internal/domain"
	"taskmaster/internal/store"
)

// Executor runs the execution pipeline for a single due task: claim the task
// by advancing (or removing) its due time, then write one log entry. The
// claim is conditional on the due time the caller observed, so of any number
// of concurrent triggers exactly one wins and logs; the rest are no-ops.
type Executor struct {
	repo  store.Repository
	stuck atomic.Int64
}

func NewExecutor(repo store.Repository) *Executor {
	return &Executor{repo: repo}
}

// Execute processes one due task as observed at now. A lost claim (another
// trigger got there first, or the task was deleted) is not an error and
// writes nothing.
func (e *Executor) Execute(ctx context.Context, t domain.Task, now time.Time) error {
	now = now.UTC()

	var claimed bool
	switch t.Kind {
	case domain.KindRecurring:
		// Backlog-collapsing: the next occurrence is computed from now, never
		// from the missed slot, so downtime does not queue up catch-up runs.
		next, err := NextRun(t.CronExpression, now)
		if err != nil {
			e.stuck.Add(1)
			if derr := e.repo.Disable(ctx, t.ID); derr != nil {
				log.Error().Err(derr).Str("task_id", t.ID).Msg("failed to disable stuck task")
			}
			log.Error().Err(err).
				Str("task_id", t.ID).
				Str("cron", t.CronExpression).
				Msg("recurring task disabled: cron expression no longer parses")
			return fmt.Errorf("next run for task %s: %w", t.ID, err)
		}
		claimed, err = e.repo.Reschedule(ctx, t.ID, t.ScheduledTime, next)
		if err != nil {
			return fmt.Errorf("reschedule task %s: %w", t.ID, err)
		}
	case domain.KindOneTime:
		var err error
		claimed, err = e.repo.Retire(ctx, t.ID, t.ScheduledTime)
		if err != nil {
			return fmt.Errorf("retire task %s: %w", t.ID, err)
		}
	default:
		return fmt.Errorf("task %s has unknown kind %q", t.ID, t.Kind)
	}
	if !claimed {
		return nil
	}

	entry := domain.ExecutionLogEntry{
		TaskID:         t.ID,
		TaskName:       t.Name,
		Kind:           t.Kind,
		CronExpression: t.CronExpression,
		ExecutedAt:     now,
	}
	if _, err := e.repo.InsertLog(ctx, entry); err != nil {
		return fmt.Errorf("record execution of task %s: %w", t.ID, err)
	}

	log.Info().
		Str("task_id", t.ID).
		Str("name", t.Name).
		Str("kind", string(t.Kind)).
		Time("executed_at", now).
		Msg("task executed")
	return nil
}

// StuckTasks counts recurring tasks disabled because their cron expression
// stopped parsing. Surfaced on the health endpoint.
func (e *Executor) StuckTasks() int64 { return e.stuck.Load() }
