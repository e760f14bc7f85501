// Package scheduler runs the periodic cache-refresh job.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler wraps a cron runner. Jobs are fixed at startup from
// configuration; there is no runtime job management.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		logger: logger,
	}
}

// Add schedules fn on the given cron expression. Each run gets a fresh
// background context and its outcome is logged, never propagated; a
// failing refresh waits for the next tick.
func (s *Scheduler) Add(name, spec string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		s.logger.Info("scheduled job starting", "job", name)
		if err := fn(context.Background()); err != nil {
			s.logger.Error("scheduled job failed", "job", name, "error", err, "duration", time.Since(start))
			return
		}
		s.logger.Info("scheduled job completed", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", name, err)
	}
	s.logger.Info("scheduled job registered", "job", name, "schedule", spec)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling; the returned context is done when in-flight jobs
// finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
