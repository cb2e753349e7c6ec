package withdrawals

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"syntra-ledger/internal/database/models"
	apperrors "syntra-ledger/internal/errors"
	"syntra-ledger/internal/logging"
	"syntra-ledger/internal/monitoring"
	"syntra-ledger/internal/services/commissions"
	"syntra-ledger/internal/services/paging"
	"syntra-ledger/internal/services/rules"
)

var validMethods = map[string]struct{}{
	models.WithdrawMethodWallet: {},
	models.WithdrawMethodAlipay: {},
	models.WithdrawMethodWechat: {},
	models.WithdrawMethodBank:   {},
}

// Request is a distributor's payout request.
type Request struct {
	DistributorID int64
	Amount        decimal.Decimal
	Method        string
	Account       string
	RealName      string
}

// Filter narrows ListWithdrawals. Zero values match everything.
type Filter struct {
	DistributorID int64
	Status        models.WithdrawalStatus
}

// Service runs the reviewed payout workflow.
type Service struct {
	db               *gorm.DB
	rules            rules.Provider
	logger           *zap.Logger
	now              func() time.Time
	autoPayout       bool
	newRequestNumber func() string
}

// Option customises the service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock sets the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.now = clock }
}

// WithAutoPayout controls whether approval completes the payout immediately.
func WithAutoPayout(enabled bool) Option {
	return func(s *Service) { s.autoPayout = enabled }
}

// NewService constructs the withdrawal service. Approval pays out
// immediately unless WithAutoPayout(false) is given.
func NewService(db *gorm.DB, provider rules.Provider, opts ...Option) *Service {
	s := &Service{
		db:               db,
		rules:            provider,
		now:              time.Now,
		autoPayout:       true,
		newRequestNumber: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger)
	return s
}

func validateRequest(req Request) error {
	if req.DistributorID <= 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "distributor_id is required")
	}
	if !req.Amount.IsPositive() {
		return apperrors.New(apperrors.CodeInvalidArgument, "amount must be greater than zero")
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return apperrors.New(apperrors.CodeInvalidArgument, "amount supports at most 2 decimal places")
	}
	if _, ok := validMethods[req.Method]; !ok {
		return apperrors.Newf(apperrors.CodeInvalidArgument, "unsupported withdraw method %q", req.Method)
	}
	if strings.TrimSpace(req.Account) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "account is required")
	}
	if strings.TrimSpace(req.RealName) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "real_name is required")
	}
	return nil
}

// RequestWithdrawal reserves amount from the settled balance as a pending
// withdrawal. The balance check and the insert happen under the distributor
// row lock, so concurrent requests cannot overdraw.
func (s *Service) RequestWithdrawal(ctx context.Context, req Request) (models.Withdrawal, error) {
	w, err := s.request(ctx, req)
	outcome := "requested"
	if err != nil {
		outcome = strings.ToLower(string(apperrors.GetCode(err)))
	}
	monitoring.WithdrawalsTotal.WithLabelValues(outcome).Inc()
	return w, err
}

func (s *Service) request(ctx context.Context, req Request) (models.Withdrawal, error) {
	req.Method = strings.ToLower(strings.TrimSpace(req.Method))
	if err := validateRequest(req); err != nil {
		return models.Withdrawal{}, err
	}

	rs, err := s.rules.GetConfig(ctx)
	if err != nil {
		return models.Withdrawal{}, err
	}
	if req.Amount.LessThan(rs.MinWithdrawAmount) {
		return models.Withdrawal{}, apperrors.Newf(apperrors.CodeBelowMinimum,
			"minimum withdrawal is %s", rs.MinWithdrawAmount.StringFixed(2)).
			WithMetadata("min_withdraw_amount", rs.MinWithdrawAmount.StringFixed(2))
	}

	var w models.Withdrawal
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var d models.Distributor
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&d, req.DistributorID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.Newf(apperrors.CodeNotFound, "distributor %d not found", req.DistributorID)
			}
			return apperrors.Wrap(apperrors.CodeInternal, "failed to lock distributor", err)
		}

		available, err := commissions.AvailableBalance(ctx, tx, req.DistributorID)
		if err != nil {
			return err
		}
		if available.LessThan(req.Amount) {
			return apperrors.Newf(apperrors.CodeInsufficientBalance,
				"available balance %s is less than %s", available.StringFixed(2), req.Amount.StringFixed(2)).
				WithMetadata("available", available.StringFixed(2))
		}

		w = models.Withdrawal{
			RequestNo:     s.newRequestNumber(),
			DistributorID: req.DistributorID,
			Amount:        req.Amount,
			Method:        req.Method,
			Account:       strings.TrimSpace(req.Account),
			RealName:      strings.TrimSpace(req.RealName),
			Status:        models.WithdrawalPending,
			RequestedAt:   s.now().UTC(),
		}
		if err := tx.Create(&w).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "failed to create withdrawal", err)
		}
		return nil
	})
	if err != nil {
		return models.Withdrawal{}, err
	}

	s.logger.Info("withdrawal requested",
		zap.Int64("withdrawal_id", w.ID),
		zap.String("request_no", w.RequestNo),
		zap.Int64("distributor_id", w.DistributorID),
		zap.String("amount", w.Amount.StringFixed(2)),
		zap.String("method", w.Method),
	)
	return w, nil
}

func loadWithdrawal(tx *gorm.DB, id int64) (models.Withdrawal, error) {
	var w models.Withdrawal
	if err := tx.First(&w, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Withdrawal{}, apperrors.Newf(apperrors.CodeNotFound, "withdrawal %d not found", id)
		}
		return models.Withdrawal{}, apperrors.Wrap(apperrors.CodeInternal, "failed to load withdrawal", err)
	}
	return w, nil
}

// Review approves or rejects a pending withdrawal. Rejection releases the
// reserved amount; approval keeps it, and with auto payout marks it paid.
func (s *Service) Review(ctx context.Context, id int64, approved bool, reviewedBy int64, remark string) (models.Withdrawal, error) {
	var w models.Withdrawal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if w, err = loadWithdrawal(tx, id); err != nil {
			return err
		}
		var d models.Distributor
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").Where("id = ?", w.DistributorID).Take(&d).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.Wrap(apperrors.CodeInternal, "failed to lock distributor", err)
		}

		now := s.now().UTC()
		next := models.WithdrawalRejected
		if approved {
			next = models.WithdrawalApproved
			if s.autoPayout {
				next = models.WithdrawalPaid
			}
		}
		updates := map[string]interface{}{
			"status":      next,
			"reviewed_by": reviewedBy,
			"reviewed_at": now,
		}
		if remark = strings.TrimSpace(remark); remark != "" {
			updates["remark"] = remark
		}
		if next == models.WithdrawalPaid {
			updates["paid_at"] = now
		}

		res := tx.Model(&models.Withdrawal{}).
			Where("id = ? AND status = ?", id, models.WithdrawalPending).
			Updates(updates)
		if res.Error != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "failed to review withdrawal", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.Newf(apperrors.CodeNotPending, "withdrawal %d is not pending", id).
				WithMetadata("status", string(w.Status))
		}

		w.Status = next
		w.ReviewedBy = &reviewedBy
		w.ReviewedAt = &now
		if remark != "" {
			w.Remark = &remark
		}
		if next == models.WithdrawalPaid {
			w.PaidAt = &now
		}
		return nil
	})
	if err != nil {
		return models.Withdrawal{}, err
	}

	monitoring.WithdrawalsTotal.WithLabelValues(string(w.Status)).Inc()
	s.logger.Info("withdrawal reviewed",
		zap.Int64("withdrawal_id", w.ID),
		zap.Bool("approved", approved),
		zap.String("status", string(w.Status)),
		zap.Int64("reviewed_by", reviewedBy),
	)
	return w, nil
}

// MarkPaid records the external payout of an approved withdrawal.
func (s *Service) MarkPaid(ctx context.Context, id int64, reference string) (models.Withdrawal, error) {
	var w models.Withdrawal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if w, err = loadWithdrawal(tx, id); err != nil {
			return err
		}
		now := s.now().UTC()
		updates := map[string]interface{}{
			"status":  models.WithdrawalPaid,
			"paid_at": now,
		}
		reference = strings.TrimSpace(reference)
		if reference != "" {
			updates["payout_ref"] = reference
		}
		res := tx.Model(&models.Withdrawal{}).
			Where("id = ? AND status = ?", id, models.WithdrawalApproved).
			Updates(updates)
		if res.Error != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "failed to mark withdrawal paid", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.Newf(apperrors.CodeNotApproved, "withdrawal %d is not approved", id).
				WithMetadata("status", string(w.Status))
		}
		w.Status = models.WithdrawalPaid
		w.PaidAt = &now
		if reference != "" {
			w.PayoutRef = &reference
		}
		return nil
	})
	if err != nil {
		return models.Withdrawal{}, err
	}
	monitoring.WithdrawalsTotal.WithLabelValues(string(models.WithdrawalPaid)).Inc()
	s.logger.Info("withdrawal paid", zap.Int64("withdrawal_id", w.ID), zap.String("payout_ref", reference))
	return w, nil
}

// GetWithdrawal loads one withdrawal.
func (s *Service) GetWithdrawal(ctx context.Context, id int64) (models.Withdrawal, error) {
	return loadWithdrawal(s.db.WithContext(ctx), id)
}

// ListWithdrawals pages through withdrawals, newest first.
func (s *Service) ListWithdrawals(ctx context.Context, f Filter, req paging.Request) (paging.Page[models.Withdrawal], error) {
	req = req.Normalize()
	query := s.db.WithContext(ctx).Model(&models.Withdrawal{})
	if f.DistributorID > 0 {
		query = query.Where("distributor_id = ?", f.DistributorID)
	}
	if f.Status != "" {
		switch f.Status {
		case models.WithdrawalPending, models.WithdrawalApproved, models.WithdrawalRejected, models.WithdrawalPaid:
		default:
			return paging.Page[models.Withdrawal]{}, apperrors.Newf(apperrors.CodeInvalidArgument, "unknown withdrawal status %q", f.Status)
		}
		query = query.Where("status = ?", f.Status)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return paging.Page[models.Withdrawal]{}, apperrors.Wrap(apperrors.CodeInternal, "failed to count withdrawals", err)
	}
	var rows []models.Withdrawal
	if err := query.Order("requested_at desc").Order("id desc").Offset(req.Offset()).Limit(req.PageSize).Find(&rows).Error; err != nil {
		return paging.Page[models.Withdrawal]{}, apperrors.Wrap(apperrors.CodeInternal, "failed to list withdrawals", err)
	}
	return paging.NewPage(rows, req, total), nil
}
