package reconcile

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Runner schedules reconciliation passes: one synchronous boot-time pass
// before the service accepts traffic, then recurring passes on a cron
// schedule.
type Runner struct {
	engine   *Engine
	schedule string
}

// NewRunner creates a runner with the given cron schedule (e.g. "@every 1m").
func NewRunner(engine *Engine, schedule string) *Runner {
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &Runner{engine: engine, schedule: schedule}
}

// RunBootPass executes the boot-time reconciliation. A failure is surfaced so
// the caller can decide whether to start degraded or abort.
func (r *Runner) RunBootPass(ctx context.Context) error {
	logger := log.With().Str("component", "reconciliation_runner").Logger()
	logger.Info().Msg("running boot-time reconciliation pass")

	if _, err := r.engine.RunOnce(ctx); err != nil {
		return fmt.Errorf("boot reconciliation failed: %w", err)
	}
	return nil
}

// Start begins scheduled reconciliation and blocks until the context ends.
func (r *Runner) Start(ctx context.Context) error {
	logger := log.With().Str("component", "reconciliation_runner").Logger()

	c := cron.New()
	_, err := c.AddFunc(r.schedule, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.engine.RunOnce(ctx); err != nil {
			logger.Error().Err(err).Msg("scheduled reconciliation pass failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconciliation schedule %q: %w", r.schedule, err)
	}

	logger.Info().Str("schedule", r.schedule).Msg("starting scheduled reconciliation")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info().Msg("reconciliation runner stopped")
	return nil
}
