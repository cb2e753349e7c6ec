package settlement

import (
	"context"
	"time"

	"go.uber.org/zap"

	"syntra-ledger/internal/database/models"
	apperrors "syntra-ledger/internal/errors"
	"syntra-ledger/internal/logging"
	"syntra-ledger/internal/monitoring"
	"syntra-ledger/internal/services/rules"
)

const DefaultBatchSize = 200

// Trigger labels what started a settlement run.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerOrder     Trigger = "order"
)

// Ledger is the part of the commission ledger the engine drives.
type Ledger interface {
	Settle(ctx context.Context, id int64) (models.Commission, error)
	PendingMatured(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]int64, error)
}

// Engine matures pending commissions once their holding period has elapsed.
type Engine struct {
	ledger    Ledger
	rules     rules.Provider
	logger    *zap.Logger
	batchSize int
}

// Option customises the engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithBatchSize sets how many candidates are read per page.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// NewEngine builds a settlement engine.
func NewEngine(ledger Ledger, provider rules.Provider, opts ...Option) *Engine {
	e := &Engine{ledger: ledger, rules: provider, batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNop(e.logger)
	return e
}

// AutoSettleEligible settles every pending commission created at or before
// now minus the holding period and returns how many transitions it made.
func (e *Engine) AutoSettleEligible(ctx context.Context, now time.Time) (int, error) {
	return e.Run(ctx, now, TriggerManual)
}

// Run is AutoSettleEligible with an explicit trigger label.
func (e *Engine) Run(ctx context.Context, now time.Time, trigger Trigger) (int, error) {
	monitoring.SettlementRunsTotal.WithLabelValues(string(trigger)).Inc()

	rs, err := e.rules.GetConfig(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := now.UTC().Add(-rs.HoldingPeriod())

	var (
		afterID int64
		settled int
		skipped int
		failed  int
	)
	for {
		if err := ctx.Err(); err != nil {
			return settled, err
		}
		ids, err := e.ledger.PendingMatured(ctx, cutoff, afterID, e.batchSize)
		if err != nil {
			return settled, err
		}
		for _, id := range ids {
			afterID = id
			_, err := e.ledger.Settle(ctx, id)
			switch {
			case err == nil:
				settled++
			case apperrors.IsCode(err, apperrors.CodeNotPending):
				// settled or cancelled by someone else in the meantime
				skipped++
			default:
				failed++
				e.logger.Warn("failed to settle commission",
					zap.Int64("commission_id", id),
					zap.String("trigger", string(trigger)),
					zap.Error(err),
				)
			}
		}
		if len(ids) < e.batchSize {
			break
		}
	}

	if settled > 0 || failed > 0 {
		e.logger.Info("settlement run finished",
			zap.String("trigger", string(trigger)),
			zap.Time("cutoff", cutoff),
			zap.Int("settled", settled),
			zap.Int("skipped", skipped),
			zap.Int("failed", failed),
		)
	}
	return settled, nil
}

// SettleOne settles a single commission regardless of its age.
func (e *Engine) SettleOne(ctx context.Context, id int64) (models.Commission, error) {
	return e.ledger.Settle(ctx, id)
}
