package orders

import (
	"context"
	"time"

	"go.uber.org/zap"

	"syntra-ledger/internal/database/models"
	"syntra-ledger/internal/logging"
	"syntra-ledger/internal/services/commissions"
	"syntra-ledger/internal/services/settlement"
)

// Calculator records commissions for a completed order.
type Calculator interface {
	CalculateForOrder(ctx context.Context, evt commissions.OrderCompleted) (commissions.Result, error)
}

// DistributorRegistry creates payers on first sight.
type DistributorRegistry interface {
	EnsureDistributor(ctx context.Context, id int64, name string) (models.Distributor, error)
}

// SettlementRunner is the engine entry point used after new commissions land.
type SettlementRunner interface {
	Run(ctx context.Context, now time.Time, trigger settlement.Trigger) (int, error)
}

// Processor handles one order completion event.
type Processor interface {
	Handle(ctx context.Context, evt commissions.OrderCompleted) (commissions.Result, error)
}

// Intake is the single path both the HTTP endpoint and the stream consumer use.
type Intake struct {
	calculator   Calculator
	distributors DistributorRegistry
	settler      SettlementRunner
	logger       *zap.Logger
	now          func() time.Time
}

// IntakeOption customises the intake.
type IntakeOption func(*Intake)

// WithSettleOnOrder runs a settlement pass after each newly recorded order.
func WithSettleOnOrder(runner SettlementRunner) IntakeOption {
	return func(i *Intake) { i.settler = runner }
}

// WithIntakeLogger sets the logger.
func WithIntakeLogger(l *zap.Logger) IntakeOption {
	return func(i *Intake) { i.logger = l }
}

// WithIntakeClock sets the time source passed to settlement.
func WithIntakeClock(clock func() time.Time) IntakeOption {
	return func(i *Intake) { i.now = clock }
}

// NewIntake wires the intake path.
func NewIntake(calculator Calculator, distributors DistributorRegistry, opts ...IntakeOption) *Intake {
	i := &Intake{calculator: calculator, distributors: distributors, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = logging.OrNop(i.logger)
	return i
}

// Handle registers the payer and records the order's commissions.
func (i *Intake) Handle(ctx context.Context, evt commissions.OrderCompleted) (commissions.Result, error) {
	if _, err := i.distributors.EnsureDistributor(ctx, evt.PayerID, ""); err != nil {
		return commissions.Result{}, err
	}
	res, err := i.calculator.CalculateForOrder(ctx, evt)
	if err != nil {
		return commissions.Result{}, err
	}
	if i.settler != nil && !res.Replayed {
		if _, err := i.settler.Run(ctx, i.now(), settlement.TriggerOrder); err != nil {
			i.logger.Warn("settlement after order failed", zap.String("order_id", evt.OrderID), zap.Error(err))
		}
	}
	return res, nil
}
