package commissions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"syntra-ledger/internal/database/models"
	apperrors "syntra-ledger/internal/errors"
	"syntra-ledger/internal/logging"
	"syntra-ledger/internal/monitoring"
	"syntra-ledger/internal/services/referral"
	"syntra-ledger/internal/services/rules"
)

// chainDepth is the number of upline levels that earn commission.
const chainDepth = 2

var errOrderAlreadyProcessed = errors.New("order already processed")

// OrderCompleted is the event emitted by the order/payment source.
type OrderCompleted struct {
	OrderID     string          `json:"order_id"`
	PayerID     int64           `json:"payer_id"`
	Amount      decimal.Decimal `json:"amount"`
	ProductType string          `json:"product_type"`
}

// Result is the commission set of one order. Replayed is true when the order
// had already been processed and the stored set is returned unchanged.
type Result struct {
	Commissions []models.Commission
	Replayed    bool
	RuleVersion int64
}

// Calculator turns completed orders into pending commissions.
type Calculator struct {
	db     *gorm.DB
	rules  rules.Provider
	graph  referral.Graph
	logger *zap.Logger
	now    func() time.Time
}

// CalculatorOption customises the calculator.
type CalculatorOption func(*Calculator)

// WithCalculatorLogger sets the logger.
func WithCalculatorLogger(l *zap.Logger) CalculatorOption {
	return func(c *Calculator) { c.logger = l }
}

// WithCalculatorClock sets the time source used for created_at.
func WithCalculatorClock(clock func() time.Time) CalculatorOption {
	return func(c *Calculator) { c.now = clock }
}

// NewCalculator wires the calculator to its collaborators.
func NewCalculator(db *gorm.DB, provider rules.Provider, graph referral.Graph, opts ...CalculatorOption) *Calculator {
	c := &Calculator{
		db:    db,
		rules: provider,
		graph: graph,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger)
	return c
}

// share is one planned commission before it is persisted.
type share struct {
	beneficiaryID int64
	level         string
	rate          decimal.Decimal
	amount        decimal.Decimal
}

func validateOrder(evt OrderCompleted) error {
	if strings.TrimSpace(evt.OrderID) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "order_id is required")
	}
	if evt.PayerID <= 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "payer_id is required")
	}
	if !evt.Amount.IsPositive() {
		return apperrors.New(apperrors.CodeInvalidArgument, "amount must be greater than zero")
	}
	return nil
}

// CalculateForOrder writes the commission set for a completed order exactly
// once. Repeated calls for the same order return the stored set.
func (c *Calculator) CalculateForOrder(ctx context.Context, evt OrderCompleted) (Result, error) {
	evt.OrderID = strings.TrimSpace(evt.OrderID)
	res, err := c.calculate(ctx, evt)
	switch {
	case err != nil:
		monitoring.OrdersProcessedTotal.WithLabelValues("failed").Inc()
	case res.Replayed:
		monitoring.OrdersProcessedTotal.WithLabelValues("replayed").Inc()
	default:
		monitoring.OrdersProcessedTotal.WithLabelValues("created").Inc()
		for _, cm := range res.Commissions {
			monitoring.CommissionsCreatedTotal.WithLabelValues(cm.Level).Inc()
		}
	}
	return res, err
}

func (c *Calculator) calculate(ctx context.Context, evt OrderCompleted) (Result, error) {
	if err := validateOrder(evt); err != nil {
		return Result{}, err
	}

	if replay, found, err := c.loadProcessed(ctx, evt); err != nil || found {
		return replay, err
	}

	// One snapshot for the whole calculation.
	rs, err := c.rules.GetConfig(ctx)
	if err != nil {
		return Result{}, err
	}

	chain, err := c.graph.GetInviterChain(ctx, evt.PayerID, chainDepth)
	if err != nil {
		return Result{}, err
	}
	upline, err := c.loadUpline(ctx, chain)
	if err != nil {
		return Result{}, err
	}

	base := evt.Amount.Round(2)
	shares := planShares(base, upline, rs, evt.ProductType)

	now := c.now().UTC()
	marker := models.ProcessedOrder{
		OrderID:         evt.OrderID,
		PayerID:         evt.PayerID,
		BaseAmount:      base,
		ProductType:     evt.ProductType,
		CommissionCount: int32(len(shares)),
		RuleVersion:     rs.Version,
		ProcessedAt:     now,
	}
	created := make([]models.Commission, 0, len(shares))
	for _, sh := range shares {
		created = append(created, models.Commission{
			OrderID:       evt.OrderID,
			BeneficiaryID: sh.beneficiaryID,
			Level:         sh.level,
			PayerID:       evt.PayerID,
			BaseAmount:    base,
			Rate:          sh.rate,
			Amount:        sh.amount,
			ProductType:   evt.ProductType,
			Status:        models.CommissionPending,
			CreatedAt:     now,
		})
	}

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&marker)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errOrderAlreadyProcessed
		}
		if len(created) == 0 {
			return nil
		}
		return tx.Create(&created).Error
	})
	if err != nil {
		// A concurrent delivery of the same order won; return its set.
		if replay, found, lookupErr := c.loadProcessed(ctx, evt); lookupErr == nil && found {
			return replay, nil
		}
		return Result{}, apperrors.Wrap(apperrors.CodeInternal, "failed to record commissions", err)
	}

	fields := []zap.Field{
		zap.String("order_id", evt.OrderID),
		zap.Int64("payer_id", evt.PayerID),
		zap.String("base_amount", base.StringFixed(2)),
		zap.Int64("rule_version", rs.Version),
		zap.Int("commission_count", len(created)),
	}
	for _, cm := range created {
		fields = append(fields, zap.String("level_"+cm.Level, cm.Amount.StringFixed(2)))
	}
	c.logger.Info("order commissions recorded", fields...)

	return Result{Commissions: created, RuleVersion: rs.Version}, nil
}

func (c *Calculator) loadProcessed(ctx context.Context, evt OrderCompleted) (Result, bool, error) {
	db := c.db.WithContext(ctx)
	var marker models.ProcessedOrder
	err := db.Where("order_id = ?", evt.OrderID).Take(&marker).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, apperrors.Wrap(apperrors.CodeInternal, "failed to check processed order", err)
	}
	if marker.PayerID != evt.PayerID || !marker.BaseAmount.Equal(evt.Amount.Round(2)) {
		c.logger.Warn("replayed order differs from the processed one",
			zap.String("order_id", evt.OrderID),
			zap.Int64("stored_payer_id", marker.PayerID),
			zap.Int64("payer_id", evt.PayerID),
			zap.String("stored_amount", marker.BaseAmount.StringFixed(2)),
			zap.String("amount", evt.Amount.StringFixed(2)),
		)
	}

	var stored []models.Commission
	if err := db.Where("order_id = ?", evt.OrderID).Order("id asc").Find(&stored).Error; err != nil {
		return Result{}, false, apperrors.Wrap(apperrors.CodeInternal, "failed to load order commissions", err)
	}
	return Result{Commissions: stored, Replayed: true, RuleVersion: marker.RuleVersion}, true, nil
}

// loadUpline returns the chain's distributors in chain order. Ids without a
// distributor row are treated as inactive.
func (c *Calculator) loadUpline(ctx context.Context, chain []int64) ([]models.Distributor, error) {
	if len(chain) == 0 {
		return nil, nil
	}
	var rows []models.Distributor
	if err := c.db.WithContext(ctx).Where("id IN ?", chain).Find(&rows).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to load upline distributors", err)
	}
	byID := make(map[int64]models.Distributor, len(rows))
	for _, d := range rows {
		byID[d.ID] = d
	}
	upline := make([]models.Distributor, 0, len(chain))
	for _, id := range chain {
		d, ok := byID[id]
		if !ok {
			d = models.Distributor{ID: id}
		}
		upline = append(upline, d)
	}
	return upline, nil
}

// planShares computes per-level amounts for an order. Each amount is rounded
// half-up to cents, then the sum is capped at truncate(base * applied rates)
// by taking any excess from the deepest level.
func planShares(base decimal.Decimal, upline []models.Distributor, rs rules.RuleSet, productType string) []share {
	var shares []share
	for depth, d := range upline {
		if depth >= chainDepth {
			break
		}
		var (
			rate  decimal.Decimal
			level string
		)
		switch {
		case productType == models.ProductTypeEnterprise && depth == 0:
			rate, level = rs.EnterpriseRate, models.LevelEnterprise
		case productType == models.ProductTypeEnterprise:
			continue
		case depth == 0:
			rate, level = effectiveRate(d.Level1Rate, rs.Level1Rate), models.LevelDirect
		default:
			rate, level = effectiveRate(d.Level2Rate, rs.Level2Rate), models.LevelIndirect
		}
		if !d.IsActive || !rate.IsPositive() {
			continue
		}
		shares = append(shares, share{
			beneficiaryID: d.ID,
			level:         level,
			rate:          rate,
			amount:        base.Mul(rate).Round(2),
		})
	}

	totalRate := decimal.Zero
	total := decimal.Zero
	for _, sh := range shares {
		totalRate = totalRate.Add(sh.rate)
		total = total.Add(sh.amount)
	}
	limit := base.Mul(totalRate).Truncate(2)
	excess := total.Sub(limit)
	for i := len(shares) - 1; i >= 0 && excess.IsPositive(); i-- {
		cut := decimal.Min(excess, shares[i].amount)
		shares[i].amount = shares[i].amount.Sub(cut)
		excess = excess.Sub(cut)
	}

	kept := shares[:0]
	for _, sh := range shares {
		if sh.amount.IsPositive() {
			kept = append(kept, sh)
		}
	}
	return kept
}

func effectiveRate(override decimal.NullDecimal, global decimal.Decimal) decimal.Decimal {
	if override.Valid {
		return override.Decimal
	}
	return global
}
