package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"taskmaster/internal/domain"
	"taskmaster/internal/store"
)

// TriggerMode selects how recurring tasks are driven. The modes are mutually
// exclusive per deployment: running both against the same task would
// double-trigger it (the claim would still dedupe, but one strategy per task
// is the contract).
type TriggerMode string

const (
	// TriggerScanner polls the store for due tasks of every kind.
	TriggerScanner TriggerMode = "scanner"
	// TriggerTimers gives each recurring task its own cron timer; the
	// scanner keeps running but only for one-time tasks.
	TriggerTimers TriggerMode = "timers"
)

// TaskDefinition is the caller-supplied shape of a task, before validation.
type TaskDefinition struct {
	Name           string
	Kind           domain.TaskKind
	CronExpression string
	ScheduledTime  time.Time
}

// Engine orchestrates the store, the scanner and (in timer mode) the timer
// registry. All task mutations go through it so timer ownership has a single
// chokepoint: create registers, delete cancels-and-removes.
type Engine struct {
	repo    store.Repository
	exec    *Executor
	scanner *Scanner
	timers  *TimerSet // nil in scanner mode
}

func NewEngine(repo store.Repository, scanInterval time.Duration, mode TriggerMode) *Engine {
	exec := NewExecutor(repo)

	var timers *TimerSet
	scanKind := domain.TaskKind("")
	if mode == TriggerTimers {
		timers = NewTimerSet(repo, exec)
		scanKind = domain.KindOneTime
	}

	return &Engine{
		repo:    repo,
		exec:    exec,
		scanner: NewScanner(repo, exec, scanInterval, scanKind),
		timers:  timers,
	}
}

// Run starts the trigger machinery and blocks until ctx is canceled. In
// timer mode, timers for recurring tasks already in the store are
// re-registered first so restarts don't orphan them.
func (e *Engine) Run(ctx context.Context) error {
	if e.timers != nil {
		tasks, err := e.repo.ListTasks(ctx)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if t.Kind != domain.KindRecurring || !t.Enabled {
				continue
			}
			if err := e.timers.Register(t); err != nil {
				log.Error().Err(err).Str("task_id", t.ID).Msg("failed to re-register timer")
			}
		}
		e.timers.Start()
		defer e.timers.Stop()
	}

	e.scanner.Start(ctx)
	return nil
}

// Create validates a definition, derives the initial due time and persists
// the task. ValidationError and InvalidExpressionError are surfaced
// synchronously; nothing is stored on rejection.
func (e *Engine) Create(ctx context.Context, def TaskDefinition) (domain.Task, error) {
	t, err := materialize(def, time.Now().UTC())
	if err != nil {
		return domain.Task{}, err
	}

	created, err := e.repo.CreateTask(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}

	if e.timers != nil {
		if err := e.timers.Register(created); err != nil {
			// Expression already validated above, so this is registry failure.
			log.Error().Err(err).Str("task_id", created.ID).Msg("failed to register timer")
		}
	}

	log.Info().
		Str("task_id", created.ID).
		Str("name", created.Name).
		Str("kind", string(created.Kind)).
		Time("scheduled_time", created.ScheduledTime).
		Msg("task created")
	return created, nil
}

func (e *Engine) Get(ctx context.Context, id string) (domain.Task, error) {
	return e.repo.GetTask(ctx, id)
}

func (e *Engine) List(ctx context.Context) ([]domain.Task, error) {
	return e.repo.ListTasks(ctx)
}

// Update replaces a task's definition. A kind or schedule change replaces
// the schedule outright: the due time is re-derived and any timer is
// re-registered. A successful update re-enables a disabled task, since the
// expression just re-validated.
func (e *Engine) Update(ctx context.Context, id string, def TaskDefinition) (domain.Task, error) {
	existing, err := e.repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}

	t, err := materialize(def, time.Now().UTC())
	if err != nil {
		return domain.Task{}, err
	}
	t.ID = existing.ID
	t.CreatedAt = existing.CreatedAt

	// Same recurring expression: keep the already-computed next due time
	// instead of pushing the next run out.
	if t.Kind == domain.KindRecurring && existing.Kind == domain.KindRecurring &&
		t.CronExpression == existing.CronExpression && existing.Enabled {
		t.ScheduledTime = existing.ScheduledTime
	}

	if err := e.repo.UpdateTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	t.UpdatedAt = time.Now().UTC()

	if e.timers != nil {
		e.timers.Deregister(id)
		if t.Kind == domain.KindRecurring {
			if err := e.timers.Register(t); err != nil {
				log.Error().Err(err).Str("task_id", id).Msg("failed to re-register timer")
			}
		}
	}

	log.Info().Str("task_id", id).Str("name", t.Name).Msg("task updated")
	return t, nil
}

// Delete cancels the task's timer first, then removes the row. After Delete
// returns the task cannot execute again: the timer is gone and the scanner's
// claim fails against a deleted row.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if e.timers != nil {
		e.timers.Deregister(id)
	}
	if err := e.repo.DeleteTask(ctx, id); err != nil {
		return err
	}
	log.Info().Str("task_id", id).Msg("task deleted")
	return nil
}

// Logs returns all execution-log entries, most recent first.
func (e *Engine) Logs(ctx context.Context) ([]domain.ExecutionLogEntry, error) {
	return e.repo.ListLogs(ctx)
}

func (e *Engine) DeleteLog(ctx context.Context, id string) error {
	return e.repo.DeleteLog(ctx, id)
}

// Health reports engine-level error state.
type Health struct {
	Status     string `json:"status"`
	StuckTasks int64  `json:"stuck_tasks"`
}

func (e *Engine) Health() Health {
	return Health{Status: "ok", StuckTasks: e.exec.StuckTasks()}
}

// materialize validates a definition and derives the stored task, including
// the initial due time for recurring tasks.
func materialize(def TaskDefinition, now time.Time) (domain.Task, error) {
	if strings.TrimSpace(def.Name) == "" {
		return domain.Task{}, &domain.ValidationError{Field: "name", Reason: "is required"}
	}

	switch def.Kind {
	case domain.KindRecurring:
		next, err := NextRun(def.CronExpression, now)
		if err != nil {
			return domain.Task{}, err
		}
		return domain.Task{
			Name:           def.Name,
			Kind:           domain.KindRecurring,
			CronExpression: def.CronExpression,
			ScheduledTime:  next,
			Enabled:        true,
		}, nil
	case domain.KindOneTime:
		if def.ScheduledTime.IsZero() {
			return domain.Task{}, &domain.ValidationError{Field: "scheduled_time", Reason: "is required for one-time tasks"}
		}
		return domain.Task{
			Name:          def.Name,
			Kind:          domain.KindOneTime,
			ScheduledTime: def.ScheduledTime.UTC(),
			Enabled:       true,
		}, nil
	default:
		return domain.Task{}, &domain.ValidationError{
			Field:  "kind",
			Reason: fmt.Sprintf("must be %q or %q", domain.KindOneTime, domain.KindRecurring),
		}
	}
}
