package engine

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler drives the engine's tier pass and the settlement sweep on a
// fixed interval until its context is cancelled.
type Scheduler struct {
	engine   *Engine
	settler  Settler // may be nil
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler over the given engine.
func NewScheduler(engine *Engine, settler Settler, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		engine:   engine,
		settler:  settler,
		interval: interval,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// Run ticks until ctx is cancelled. It runs one pass immediately on start.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler started", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.pass(ctx)
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	fired, skipped, err := s.engine.Tick(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "tier pass failed", slog.String("error", err.Error()))
	} else if fired > 0 || skipped > 0 {
		s.logger.InfoContext(ctx, "tier pass done",
			slog.Int("fired", fired),
			slog.Int("skipped", skipped),
		)
	}

	if s.settler == nil {
		return
	}
	if n, err := s.settler.Sweep(ctx); err != nil {
		s.logger.ErrorContext(ctx, "settlement sweep failed", slog.String("error", err.Error()))
	} else if n > 0 {
		s.logger.InfoContext(ctx, "settlement sweep done", slog.Int("settled", n))
	}
}
