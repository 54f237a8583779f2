package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// EveryMinute fires at second zero of every minute.
const EveryMinute = "0 * * * * *"

// Job is a unit of periodic work.
type Job func(ctx context.Context) error

// Scheduler runs jobs on cron specs with second precision. A job still
// running when its next tick arrives is skipped for that tick.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
}

// New creates a scheduler whose jobs get at most timeout per run.
func New(timeout time.Duration) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		timeout: timeout,
	}
}

// Add registers job under name on spec.
func (s *Scheduler) Add(ctx context.Context, name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		runCtx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		started := time.Now()
		if err := job(runCtx); err != nil {
			slog.ErrorContext(runCtx, "scheduled job failed", "job", name, "error", err)
			return
		}
		slog.DebugContext(runCtx, "scheduled job finished", "job", name, "took", time.Since(started))
	})
	if err != nil {
		return fmt.Errorf("add job %s: %w", name, err)
	}
	return nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	slog.InfoContext(ctx, "scheduler started", "jobs", len(s.cron.Entries()))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	slog.InfoContext(context.Background(), "scheduler stopped")
}
