package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"taskmaster/internal/domain"
	"taskmaster/internal/store"
)

const fireTimeout = 30 * time.Second

// TimerSet drives recurring tasks push-style: one cron entry per task,
// keyed by task ID so deletion can cancel it. Each fire re-fetches the task
// and runs the executor, whose conditional claim keeps a racing scan tick
// from double-executing the same occurrence.
type TimerSet struct {
	repo store.Repository
	exec *Executor

	mu      sync.Mutex
	c       *cron.Cron
	entries map[string]cron.EntryID
}

func NewTimerSet(repo store.Repository, exec *Executor) *TimerSet {
	return &TimerSet{
		repo:    repo,
		exec:    exec,
		c:       cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC)),
		entries: make(map[string]cron.EntryID),
	}
}

// Register adds a timer for a recurring task, replacing any existing entry
// for the same ID. One-time tasks are ignored; the scanner owns those.
func (ts *TimerSet) Register(t domain.Task) error {
	if t.Kind != domain.KindRecurring {
		return nil
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if old, ok := ts.entries[t.ID]; ok {
		ts.c.Remove(old)
		delete(ts.entries, t.ID)
	}

	id := t.ID
	eid, err := ts.c.AddFunc(t.CronExpression, func() { ts.fire(id) })
	if err != nil {
		return &domain.InvalidExpressionError{Expression: t.CronExpression, Err: err}
	}
	ts.entries[t.ID] = eid

	log.Debug().Str("task_id", t.ID).Str("cron", t.CronExpression).Msg("timer registered")
	return nil
}

// Deregister cancels the timer for a task. After it returns the entry is
// gone from the runner and no further fires are scheduled for this ID.
func (ts *TimerSet) Deregister(id string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	eid, ok := ts.entries[id]
	if !ok {
		return
	}
	ts.c.Remove(eid)
	delete(ts.entries, id)
	log.Debug().Str("task_id", id).Msg("timer deregistered")
}

func (ts *TimerSet) Start() { ts.c.Start() }

// Stop halts the runner and waits for in-flight fires to finish.
func (ts *TimerSet) Stop() {
	<-ts.c.Stop().Done()
}

func (ts *TimerSet) fire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	t, err := ts.repo.GetTask(ctx, id)
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			// Deleted between the schedule and the fire. Deletion wins.
			ts.Deregister(id)
			return
		}
		log.Error().Err(err).Str("task_id", id).Msg("timer fire: failed to load task")
		return
	}
	if !t.Enabled {
		return
	}

	if err := ts.exec.Execute(ctx, t, time.Now().UTC()); err != nil {
		log.Error().Err(err).Str("task_id", id).Msg("timer fire: execution failed")
	}
}
