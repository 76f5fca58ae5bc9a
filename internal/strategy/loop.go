package strategy

import (
	"context"
	"log/slog"
	"time"

	"parcer/pkg/types"
)

// defaultTickInterval is the evaluation cadence when config leaves it unset.
const defaultTickInterval = 500 * time.Millisecond

// Strategy is one tick-driven arbitrage evaluator.
type Strategy interface {
	Name() string
	Tick(ctx context.Context)
	Adopt(pos *types.Position)
}

// Runner drives the registered strategies on a shared ticker until its
// context is cancelled.
type Runner struct {
	strategies []Strategy
	interval   time.Duration
	logger     *slog.Logger
}

// NewRunner creates a runner ticking at interval.
func NewRunner(interval time.Duration, logger *slog.Logger, strategies ...Strategy) *Runner {
	if interval <= 0 {
		interval = defaultTickInterval
	}
	return &Runner{
		strategies: strategies,
		interval:   interval,
		logger:     logger.With("component", "strategy-loop"),
	}
}

// Run blocks until ctx is cancelled, ticking every strategy in turn.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	names := make([]string, 0, len(r.strategies))
	for _, s := range r.strategies {
		names = append(names, s.Name())
	}
	r.logger.Info("strategy loop started", "interval", r.interval, "strategies", names)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("strategy loop stopped")
			return
		case <-ticker.C:
			for _, s := range r.strategies {
				s.Tick(ctx)
			}
		}
	}
}
