package stats

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"syntra-ledger/internal/cache"
	"syntra-ledger/internal/database/models"
	apperrors "syntra-ledger/internal/errors"
	"syntra-ledger/internal/logging"
	"syntra-ledger/internal/services/paging"
)

const (
	OVERVIEW_CACHE_KEY = "ledger_overview"
	OverviewCacheTTL   = 30 * time.Second
)

// StatusTotal is a count and amount for one status.
type StatusTotal struct {
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// Overview is the admin dashboard summary.
type Overview struct {
	Distributors       int64                  `json:"distributors"`
	ActiveDistributors int64                  `json:"active_distributors"`
	Bindings           int64                  `json:"bindings"`
	ProcessedOrders    int64                  `json:"processed_orders"`
	Commissions        map[string]StatusTotal `json:"commissions"`
	Withdrawals        map[string]StatusTotal `json:"withdrawals"`
	GeneratedAt        time.Time              `json:"generated_at"`
}

// DistributorFilter narrows ListDistributors.
type DistributorFilter struct {
	Search string
	Tier   int32
	Active *bool
}

// DistributorRow is one distributor with its aggregates.
type DistributorRow struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	InviteCode     string          `json:"invite_code"`
	Tier           int32           `json:"tier"`
	IsActive       bool            `json:"is_active"`
	InviterID      *int64          `json:"inviter_id,omitempty"`
	DirectInvitees int64           `json:"direct_invitees"`
	SettledTotal   decimal.Decimal `json:"settled_total"`
	PendingTotal   decimal.Decimal `json:"pending_total"`
	WithdrawnTotal decimal.Decimal `json:"withdrawn_total"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Service answers reporting queries.
type Service struct {
	db     *gorm.DB
	cache  cache.Cache
	logger *zap.Logger
	now    func() time.Time
}

// Option customises the service.
type Option func(*Service)

// WithCache sets the cache used for the overview.
func WithCache(c cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock sets the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.now = clock }
}

// NewService constructs the reporting service.
func NewService(db *gorm.DB, opts ...Option) *Service {
	s := &Service{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = cache.NewMemory()
	}
	s.logger = logging.OrNop(s.logger)
	return s
}

type groupedTotal struct {
	Status string
	Count  int64
	Amount decimal.Decimal
}

// Overview returns the dashboard summary, cached briefly.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	var cached Overview
	err := cache.GetJSON(ctx, s.cache, OVERVIEW_CACHE_KEY, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("overview cache read failed", zap.Error(err))
	}

	db := s.db.WithContext(ctx)
	out := Overview{
		Commissions: map[string]StatusTotal{},
		Withdrawals: map[string]StatusTotal{},
		GeneratedAt: s.now().UTC(),
	}
	if err := db.Model(&models.Distributor{}).Count(&out.Distributors).Error; err != nil {
		return Overview{}, apperrors.Wrap(apperrors.CodeInternal, "failed to count distributors", err)
	}
	if err := db.Model(&models.Distributor{}).Where("is_active = ?", true).Count(&out.ActiveDistributors).Error; err != nil {
		return Overview{}, apperrors.Wrap(apperrors.CodeInternal, "failed to count active distributors", err)
	}
	if err := db.Model(&models.ReferralEdge{}).Count(&out.Bindings).Error; err != nil {
		return Overview{}, apperrors.Wrap(apperrors.CodeInternal, "failed to count bindings", err)
	}
	if err := db.Model(&models.ProcessedOrder{}).Count(&out.ProcessedOrders).Error; err != nil {
		return Overview{}, apperrors.Wrap(apperrors.CodeInternal, "failed to count processed orders", err)
	}

	for _, status := range []models.CommissionStatus{models.CommissionPending, models.CommissionSettled, models.CommissionCancelled} {
		out.Commissions[string(status)] = StatusTotal{Amount: decimal.Zero}
	}
	for _, status := range []models.WithdrawalStatus{models.WithdrawalPending, models.WithdrawalApproved, models.WithdrawalRejected, models.WithdrawalPaid} {
		out.Withdrawals[string(status)] = StatusTotal{Amount: decimal.Zero}
	}

	var commissionRows []groupedTotal
	if err := db.Model(&models.Commission{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Group("status").
		Scan(&commissionRows).Error; err != nil {
		return Overview{}, apperrors.Wrap(apperrors.CodeInternal, "failed to aggregate commissions", err)
	}
	for _, row := range commissionRows {
		out.Commissions[row.Status] = StatusTotal{Count: row.Count, Amount: row.Amount.Round(2)}
	}

	var withdrawalRows []groupedTotal
	if err := db.Model(&models.Withdrawal{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Group("status").
		Scan(&withdrawalRows).Error; err != nil {
		return Overview{}, apperrors.Wrap(apperrors.CodeInternal, "failed to aggregate withdrawals", err)
	}
	for _, row := range withdrawalRows {
		out.Withdrawals[row.Status] = StatusTotal{Count: row.Count, Amount: row.Amount.Round(2)}
	}

	if err := cache.SetJSON(ctx, s.cache, OVERVIEW_CACHE_KEY, out, OverviewCacheTTL); err != nil {
		s.logger.Warn("failed to cache overview", zap.Error(err))
	}
	return out, nil
}

// InvalidateOverview drops the cached overview.
func (s *Service) InvalidateOverview(ctx context.Context) {
	if err := s.cache.Del(ctx, OVERVIEW_CACHE_KEY); err != nil {
		s.logger.Warn("failed to invalidate overview cache", zap.Error(err))
	}
}

type idCount struct {
	ID    int64
	Count int64
}

type idAmount struct {
	ID     int64
	Amount decimal.Decimal
}

// ListDistributors pages through distributors, newest first, with per-row
// invitee counts and money totals.
func (s *Service) ListDistributors(ctx context.Context, f DistributorFilter, req paging.Request) (paging.Page[DistributorRow], error) {
	req = req.Normalize()
	db := s.db.WithContext(ctx)

	query := db.Model(&models.Distributor{})
	if search := strings.ToLower(strings.TrimSpace(f.Search)); search != "" {
		like := "%" + search + "%"
		query = query.Where("LOWER(invite_code) LIKE ? OR LOWER(name) LIKE ?", like, like)
	}
	if f.Tier > 0 {
		query = query.Where("tier = ?", f.Tier)
	}
	if f.Active != nil {
		query = query.Where("is_active = ?", *f.Active)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return paging.Page[DistributorRow]{}, apperrors.Wrap(apperrors.CodeInternal, "failed to count distributors", err)
	}
	var distributors []models.Distributor
	if err := query.Order("created_at desc").Order("id desc").Offset(req.Offset()).Limit(req.PageSize).Find(&distributors).Error; err != nil {
		return paging.Page[DistributorRow]{}, apperrors.Wrap(apperrors.CodeInternal, "failed to list distributors", err)
	}
	if len(distributors) == 0 {
		return paging.NewPage([]DistributorRow{}, req, total), nil
	}

	ids := make([]int64, 0, len(distributors))
	for _, d := range distributors {
		ids = append(ids, d.ID)
	}

	var edges []models.ReferralEdge
	if err := db.Where("invitee_id IN ?", ids).Find(&edges).Error; err != nil {
		return paging.Page[DistributorRow]{}, apperrors.Wrap(apperrors.CodeInternal, "failed to load inviters", err)
	}
	inviters := make(map[int64]int64, len(edges))
	for _, e := range edges {
		inviters[e.InviteeID] = e.InviterID
	}

	var invitees []idCount
	if err := db.Model(&models.ReferralEdge{}).
		Select("inviter_id AS id, COUNT(*) AS count").
		Where("inviter_id IN ?", ids).
		Group("inviter_id").
		Scan(&invitees).Error; err != nil {
		return paging.Page[DistributorRow]{}, apperrors.Wrap(apperrors.CodeInternal, "failed to count invitees", err)
	}
	inviteeCount := make(map[int64]int64, len(invitees))
	for _, row := range invitees {
		inviteeCount[row.ID] = row.Count
	}

	settled, err := s.sumCommissions(db, ids, models.CommissionSettled)
	if err != nil {
		return paging.Page[DistributorRow]{}, err
	}
	pending, err := s.sumCommissions(db, ids, models.CommissionPending)
	if err != nil {
		return paging.Page[DistributorRow]{}, err
	}

	var paid []idAmount
	if err := db.Model(&models.Withdrawal{}).
		Select("distributor_id AS id, COALESCE(SUM(amount), 0) AS amount").
		Where("distributor_id IN ? AND status = ?", ids, models.WithdrawalPaid).
		Group("distributor_id").
		Scan(&paid).Error; err != nil {
		return paging.Page[DistributorRow]{}, apperrors.Wrap(apperrors.CodeInternal, "failed to sum withdrawals", err)
	}
	withdrawn := toAmountMap(paid)

	rows := make([]DistributorRow, 0, len(distributors))
	for _, d := range distributors {
		row := DistributorRow{
			ID:             d.ID,
			Name:           d.Name,
			InviteCode:     d.InviteCode,
			Tier:           d.Tier,
			IsActive:       d.IsActive,
			DirectInvitees: inviteeCount[d.ID],
			SettledTotal:   amountOrZero(settled, d.ID),
			PendingTotal:   amountOrZero(pending, d.ID),
			WithdrawnTotal: amountOrZero(withdrawn, d.ID),
			CreatedAt:      d.CreatedAt,
		}
		if inviter, ok := inviters[d.ID]; ok {
			inviter := inviter
			row.InviterID = &inviter
		}
		rows = append(rows, row)
	}
	return paging.NewPage(rows, req, total), nil
}

func (s *Service) sumCommissions(db *gorm.DB, ids []int64, status models.CommissionStatus) (map[int64]decimal.Decimal, error) {
	var sums []idAmount
	if err := db.Model(&models.Commission{}).
		Select("beneficiary_id AS id, COALESCE(SUM(amount), 0) AS amount").
		Where("beneficiary_id IN ? AND status = ?", ids, status).
		Group("beneficiary_id").
		Scan(&sums).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to sum commissions", err)
	}
	return toAmountMap(sums), nil
}

func toAmountMap(rows []idAmount) map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal, len(rows))
	for _, row := range rows {
		out[row.ID] = row.Amount.Round(2)
	}
	return out
}

func amountOrZero(m map[int64]decimal.Decimal, id int64) decimal.Decimal {
	if v, ok := m[id]; ok {
		return v
	}
	return decimal.Zero
}
