package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"taskmaster/internal/domain"
	"taskmaster/internal/store"
)

// Scanner polls the store on a fixed interval and hands each due task to the
// executor. One task's failure never aborts the rest of the tick, and no
// tick error stops the loop.
type Scanner struct {
	repo     store.Repository
	exec     *Executor
	interval time.Duration
	kind     domain.TaskKind // empty = all kinds; KindOneTime when timers drive recurring tasks
	stop     chan struct{}
}

func NewScanner(repo store.Repository, exec *Executor, interval time.Duration, kind domain.TaskKind) *Scanner {
	return &Scanner{
		repo:     repo,
		exec:     exec,
		interval: interval,
		kind:     kind,
		stop:     make(chan struct{}),
	}
}

// Start runs scan ticks until the context is canceled or Stop is called.
func (s *Scanner) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("scanner started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.ScanOnce(ctx, now.UTC())
		}
	}
}

func (s *Scanner) Stop() {
	close(s.stop)
}

// ScanOnce selects tasks due as of now and executes them sequentially.
func (s *Scanner) ScanOnce(ctx context.Context, now time.Time) {
	tasks, err := s.repo.ListDueTasks(ctx, now, s.kind)
	if err != nil {
		log.Error().Err(err).Msg("failed to list due tasks")
		return
	}

	for _, t := range tasks {
		if err := s.exec.Execute(ctx, t, now); err != nil {
			log.Error().Err(err).Str("task_id", t.ID).Msg("failed to execute due task")
		}
	}
}
