// Package scheduler runs named background jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "agendacomic/internal/log"
)

// Job is one unit of periodic work.
type Job func(ctx context.Context) error

// Scheduler wraps a cron runner. Jobs never overlap with themselves: a run
// that is still going when the next tick fires causes that tick to be
// skipped.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

// New creates a scheduler evaluating schedules in loc. Jobs receive ctx.
func New(ctx context.Context, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
		),
		ctx: ctx,
	}
}

// Add registers job under name with a standard 5-field cron expression.
func (s *Scheduler) Add(name, expr string, job Job) error {
	_, err := s.cron.AddFunc(expr, func() {
		start := time.Now()
		if err := job(s.ctx); err != nil {
			appLog.Error("scheduled job failed", err, "job", name, "duration", time.Since(start))
			return
		}
		appLog.Debug("scheduled job done", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("scheduler: job %q: invalid schedule %q: %w", name, expr, err)
	}
	appLog.Info("job scheduled", "job", name, "cron", expr)
	return nil
}

// Len reports how many jobs are registered.
func (s *Scheduler) Len() int { return len(s.cron.Entries()) }

// Start runs the scheduler in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents new runs and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// cronLogger adapts cron's logger to the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) { appLog.Debug("cron: "+msg, kv...) }

func (cronLogger) Error(err error, msg string, kv ...any) { appLog.Error("cron: "+msg, err, kv...) }
