package settlement

import (
	"context"
	"time"

	"go.uber.org/zap"

	"syntra-ledger/internal/logging"
)

// Scheduler runs the engine on a fixed cadence.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewScheduler constructs a scheduler. A non-positive interval defaults to one hour.
func NewScheduler(engine *Engine, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
		now:      time.Now,
		logger:   logging.OrNop(logger),
	}
}

// Start blocks, running one settlement pass per tick until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.engine == nil {
		return
	}
	s.logger.Info("settlement scheduler started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("settlement scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.engine.Run(ctx, s.now(), TriggerScheduled); err != nil && ctx.Err() == nil {
				s.logger.Error("scheduled settlement failed", zap.Error(err))
			}
		}
	}
}
