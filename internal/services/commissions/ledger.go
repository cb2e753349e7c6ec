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
	"syntra-ledger/internal/services/paging"
)

// Balance is a distributor's money broken down by state.
type Balance struct {
	DistributorID int64           `json:"distributor_id"`
	Pending       decimal.Decimal `json:"pending"`
	Settled       decimal.Decimal `json:"settled"`
	Cancelled     decimal.Decimal `json:"cancelled"`
	Reserved      decimal.Decimal `json:"reserved"`
	Withdrawn     decimal.Decimal `json:"withdrawn"`
	Available     decimal.Decimal `json:"available"`
}

// Filter narrows ListCommissions. Zero values match everything.
type Filter struct {
	DistributorID int64
	Status        models.CommissionStatus
	Level         string
	ProductType   string
	OrderID       string
}

// CancelResult reports what CancelForOrder changed.
type CancelResult struct {
	OrderID   string              `json:"order_id"`
	Cancelled []models.Commission `json:"cancelled"`
	Settled   []models.Commission `json:"settled"`
}

// Ledger owns commission state transitions and balance queries.
type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// LedgerOption customises the ledger.
type LedgerOption func(*Ledger)

// WithLedgerLogger sets the logger.
func WithLedgerLogger(l *zap.Logger) LedgerOption {
	return func(lg *Ledger) { lg.logger = l }
}

// WithLedgerClock sets the time source for settled_at and cancelled_at.
func WithLedgerClock(clock func() time.Time) LedgerOption {
	return func(lg *Ledger) { lg.now = clock }
}

// NewLedger constructs the commission ledger.
func NewLedger(db *gorm.DB, opts ...LedgerOption) *Ledger {
	l := &Ledger{db: db, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.OrNop(l.logger)
	return l
}

// lockDistributor takes the distributor row lock that serialises balance
// changes for one beneficiary.
func lockDistributor(tx *gorm.DB, distributorID int64) error {
	var d models.Distributor
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").Where("id = ?", distributorID).Take(&d).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.Wrap(apperrors.CodeInternal, "failed to lock distributor", err)
	}
	return nil
}

// orderBeneficiaries returns the order's distinct beneficiaries in ascending id
// order, the order in which multi-row transitions take distributor locks.
func orderBeneficiaries(tx *gorm.DB, orderID string) ([]int64, error) {
	var ids []int64
	err := tx.Model(&models.Commission{}).
		Where("order_id = ?", orderID).
		Distinct("beneficiary_id").
		Order("beneficiary_id asc").
		Pluck("beneficiary_id", &ids).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to load order beneficiaries", err)
	}
	return ids, nil
}

func loadCommission(tx *gorm.DB, id int64) (models.Commission, error) {
	var c models.Commission
	if err := tx.First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Commission{}, apperrors.Newf(apperrors.CodeNotFound, "commission %d not found", id)
		}
		return models.Commission{}, apperrors.Wrap(apperrors.CodeInternal, "failed to load commission", err)
	}
	return c, nil
}

// Settle moves a pending commission to settled. Only one caller can win the
// transition; the rest get NotPending.
func (l *Ledger) Settle(ctx context.Context, id int64) (models.Commission, error) {
	var c models.Commission
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if c, err = loadCommission(tx, id); err != nil {
			return err
		}
		if err := lockDistributor(tx, c.BeneficiaryID); err != nil {
			return err
		}
		now := l.now().UTC()
		res := tx.Model(&models.Commission{}).
			Where("id = ? AND status = ?", id, models.CommissionPending).
			Updates(map[string]interface{}{
				"status":     models.CommissionSettled,
				"settled_at": now,
			})
		if res.Error != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "failed to settle commission", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.Newf(apperrors.CodeNotPending, "commission %d is not pending", id).
				WithMetadata("status", string(c.Status))
		}
		c.Status = models.CommissionSettled
		c.SettledAt = &now
		return nil
	})
	if err != nil {
		return models.Commission{}, err
	}

	monitoring.CommissionTransitionsTotal.WithLabelValues(string(models.CommissionSettled)).Inc()
	l.logger.Info("commission settled",
		zap.Int64("commission_id", c.ID),
		zap.Int64("beneficiary_id", c.BeneficiaryID),
		zap.String("amount", c.Amount.StringFixed(2)),
	)
	return c, nil
}

// Cancel moves a pending commission to cancelled. Settled commissions are
// never reversed here.
func (l *Ledger) Cancel(ctx context.Context, id int64, reason string) (models.Commission, error) {
	var c models.Commission
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if c, err = loadCommission(tx, id); err != nil {
			return err
		}
		if err := lockDistributor(tx, c.BeneficiaryID); err != nil {
			return err
		}
		c, err = l.cancelLocked(tx, c, reason)
		return err
	})
	if err != nil {
		return models.Commission{}, err
	}
	monitoring.CommissionTransitionsTotal.WithLabelValues(string(models.CommissionCancelled)).Inc()
	l.logger.Info("commission cancelled", zap.Int64("commission_id", c.ID), zap.String("reason", reason))
	return c, nil
}

func (l *Ledger) cancelLocked(tx *gorm.DB, c models.Commission, reason string) (models.Commission, error) {
	now := l.now().UTC()
	updates := map[string]interface{}{
		"status":       models.CommissionCancelled,
		"cancelled_at": now,
	}
	reason = strings.TrimSpace(reason)
	if reason != "" {
		updates["cancel_reason"] = reason
	}
	res := tx.Model(&models.Commission{}).
		Where("id = ? AND status = ?", c.ID, models.CommissionPending).
		Updates(updates)
	if res.Error != nil {
		return c, apperrors.Wrap(apperrors.CodeInternal, "failed to cancel commission", res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := loadCommission(tx, c.ID)
		if err != nil {
			return c, err
		}
		if current.Status == models.CommissionSettled {
			return c, apperrors.Newf(apperrors.CodeAlreadySettled, "commission %d is already settled", c.ID)
		}
		return c, apperrors.Newf(apperrors.CodeNotPending, "commission %d is not pending", c.ID).
			WithMetadata("status", string(current.Status))
	}
	c.Status = models.CommissionCancelled
	c.CancelledAt = &now
	if reason != "" {
		c.CancelReason = &reason
	}
	return c, nil
}

// CancelForOrder cancels every pending commission of a refunded order.
// Settled commissions are reported and left alone.
func (l *Ledger) CancelForOrder(ctx context.Context, orderID, reason string) (CancelResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return CancelResult{}, apperrors.New(apperrors.CodeInvalidArgument, "order_id is required")
	}
	result := CancelResult{OrderID: orderID, Cancelled: []models.Commission{}, Settled: []models.Commission{}}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var marker models.ProcessedOrder
		if err := tx.Where("order_id = ?", orderID).Take(&marker).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.Newf(apperrors.CodeNotFound, "order %s has not been processed", orderID)
			}
			return apperrors.Wrap(apperrors.CodeInternal, "failed to load processed order", err)
		}

		beneficiaries, err := orderBeneficiaries(tx, orderID)
		if err != nil {
			return err
		}
		for _, id := range beneficiaries {
			if err := lockDistributor(tx, id); err != nil {
				return err
			}
		}

		var rows []models.Commission
		if err := tx.Where("order_id = ?", orderID).Order("id asc").Find(&rows).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "failed to load order commissions", err)
		}
		for _, c := range rows {
			switch c.Status {
			case models.CommissionSettled:
				result.Settled = append(result.Settled, c)
			case models.CommissionPending:
				cancelled, err := l.cancelLocked(tx, c, reason)
				if err != nil {
					return err
				}
				result.Cancelled = append(result.Cancelled, cancelled)
			}
		}
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}

	monitoring.CommissionTransitionsTotal.WithLabelValues(string(models.CommissionCancelled)).Add(float64(len(result.Cancelled)))
	l.logger.Info("order commissions cancelled",
		zap.String("order_id", orderID),
		zap.Int("cancelled", len(result.Cancelled)),
		zap.Int("already_settled", len(result.Settled)),
	)
	return result, nil
}

// GetCommission loads one commission.
func (l *Ledger) GetCommission(ctx context.Context, id int64) (models.Commission, error) {
	return loadCommission(l.db.WithContext(ctx), id)
}

// ListCommissions pages through commissions, newest first.
func (l *Ledger) ListCommissions(ctx context.Context, f Filter, req paging.Request) (paging.Page[models.Commission], error) {
	req = req.Normalize()
	query := l.db.WithContext(ctx).Model(&models.Commission{})
	if f.DistributorID > 0 {
		query = query.Where("beneficiary_id = ?", f.DistributorID)
	}
	if f.Status != "" {
		switch f.Status {
		case models.CommissionPending, models.CommissionSettled, models.CommissionCancelled:
		default:
			return paging.Page[models.Commission]{}, apperrors.Newf(apperrors.CodeInvalidArgument, "unknown commission status %q", f.Status)
		}
		query = query.Where("status = ?", f.Status)
	}
	if f.Level != "" {
		query = query.Where("level = ?", f.Level)
	}
	if f.ProductType != "" {
		query = query.Where("product_type = ?", f.ProductType)
	}
	if f.OrderID != "" {
		query = query.Where("order_id = ?", f.OrderID)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return paging.Page[models.Commission]{}, apperrors.Wrap(apperrors.CodeInternal, "failed to count commissions", err)
	}
	var rows []models.Commission
	if err := query.Order("created_at desc").Order("id desc").Offset(req.Offset()).Limit(req.PageSize).Find(&rows).Error; err != nil {
		return paging.Page[models.Commission]{}, apperrors.Wrap(apperrors.CodeInternal, "failed to list commissions", err)
	}
	return paging.NewPage(rows, req, total), nil
}

// PendingMatured returns up to limit ids of pending commissions created at or
// before cutoff, ascending, starting after afterID.
func (l *Ledger) PendingMatured(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]int64, error) {
	var ids []int64
	err := l.db.WithContext(ctx).Model(&models.Commission{}).
		Where("status = ? AND created_at <= ? AND id > ?", models.CommissionPending, cutoff.UTC(), afterID).
		Order("id asc").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to list matured commissions", err)
	}
	return ids, nil
}

// AvailableBalance is the settled total minus reserved or paid withdrawals.
func (l *Ledger) AvailableBalance(ctx context.Context, distributorID int64) (decimal.Decimal, error) {
	return AvailableBalance(ctx, l.db, distributorID)
}

// AvailableBalance computes the balance on db in one statement, so callers
// holding a transaction see a consistent value.
func AvailableBalance(ctx context.Context, db *gorm.DB, distributorID int64) (decimal.Decimal, error) {
	var row struct {
		Available decimal.Decimal
	}
	err := db.WithContext(ctx).Raw(`SELECT
		(SELECT COALESCE(SUM(amount), 0) FROM commissions WHERE beneficiary_id = ? AND status = ?)
		- (SELECT COALESCE(SUM(amount), 0) FROM withdrawals WHERE distributor_id = ? AND status IN ?)
		AS available`,
		distributorID, models.CommissionSettled,
		distributorID, models.ReservingStatuses,
	).Scan(&row).Error
	if err != nil {
		return decimal.Zero, apperrors.Wrap(apperrors.CodeInternal, "failed to compute available balance", err)
	}
	return row.Available.Round(2), nil
}

type statusTotal struct {
	Status string
	Total  decimal.Decimal
}

// Balance returns the full breakdown for one distributor.
func (l *Ledger) Balance(ctx context.Context, distributorID int64) (Balance, error) {
	b := Balance{DistributorID: distributorID}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var commissionTotals []statusTotal
		if err := tx.Model(&models.Commission{}).
			Select("status, COALESCE(SUM(amount), 0) AS total").
			Where("beneficiary_id = ?", distributorID).
			Group("status").
			Scan(&commissionTotals).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "failed to sum commissions", err)
		}
		var withdrawalTotals []statusTotal
		if err := tx.Model(&models.Withdrawal{}).
			Select("status, COALESCE(SUM(amount), 0) AS total").
			Where("distributor_id = ?", distributorID).
			Group("status").
			Scan(&withdrawalTotals).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "failed to sum withdrawals", err)
		}

		for _, t := range commissionTotals {
			switch models.CommissionStatus(t.Status) {
			case models.CommissionPending:
				b.Pending = t.Total.Round(2)
			case models.CommissionSettled:
				b.Settled = t.Total.Round(2)
			case models.CommissionCancelled:
				b.Cancelled = t.Total.Round(2)
			}
		}
		for _, t := range withdrawalTotals {
			switch models.WithdrawalStatus(t.Status) {
			case models.WithdrawalPending, models.WithdrawalApproved:
				b.Reserved = b.Reserved.Add(t.Total.Round(2))
			case models.WithdrawalPaid:
				b.Withdrawn = t.Total.Round(2)
			}
		}
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	b.Available = b.Settled.Sub(b.Reserved).Sub(b.Withdrawn)
	return b, nil
}
