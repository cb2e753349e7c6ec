package rules

import (
	"context"
	"errors"
	"fmt"
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
	RULES_CACHE_KEY   = "commission_rules:current"
	DefaultCacheTTL   = time.Minute
	maxRateDecimalExp = 4
)

// RuleSet is an immutable snapshot of one configuration version.
type RuleSet struct {
	Version           int64           `json:"version"`
	Level1Rate        decimal.Decimal `json:"level1_rate"`
	Level2Rate        decimal.Decimal `json:"level2_rate"`
	EnterpriseRate    decimal.Decimal `json:"enterprise_rate"`
	HoldingPeriodDays int32           `json:"holding_period_days"`
	MinWithdrawAmount decimal.Decimal `json:"min_withdraw_amount"`
	UpdatedBy         int64           `json:"updated_by"`
	CreatedAt         time.Time       `json:"created_at"`
}

// HoldingPeriod is the maturation delay as a duration.
func (r RuleSet) HoldingPeriod() time.Duration {
	return time.Duration(r.HoldingPeriodDays) * 24 * time.Hour
}

// Input is a proposed configuration.
type Input struct {
	Level1Rate        decimal.Decimal
	Level2Rate        decimal.Decimal
	EnterpriseRate    decimal.Decimal
	HoldingPeriodDays int32
	MinWithdrawAmount decimal.Decimal
}

// Provider is the read side consumed by calculators and settlement.
type Provider interface {
	GetConfig(ctx context.Context) (RuleSet, error)
}

// Service owns the versioned rule set.
type Service struct {
	db     *gorm.DB
	cache  cache.Cache
	logger *zap.Logger
	ttl    time.Duration
	now    func() time.Time
}

// Option customises the service.
type Option func(*Service)

// WithCache sets the read-through cache.
func WithCache(c cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithCacheTTL overrides how long the current version stays cached.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithClock sets the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.now = clock }
}

// NewService constructs the rule set service.
func NewService(db *gorm.DB, opts ...Option) *Service {
	s := &Service{
		db:  db,
		ttl: DefaultCacheTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = cache.NewMemory()
	}
	s.logger = logging.OrNop(s.logger)
	return s
}

func fromModel(m models.CommissionRuleSet) RuleSet {
	return RuleSet{
		Version:           m.Version,
		Level1Rate:        m.Level1Rate,
		Level2Rate:        m.Level2Rate,
		EnterpriseRate:    m.EnterpriseRate,
		HoldingPeriodDays: m.HoldingPeriodDays,
		MinWithdrawAmount: m.MinWithdrawAmount,
		UpdatedBy:         m.UpdatedBy,
		CreatedAt:         m.CreatedAt,
	}
}

// GetConfig returns the current rule set snapshot.
func (s *Service) GetConfig(ctx context.Context) (RuleSet, error) {
	var cached RuleSet
	err := cache.GetJSON(ctx, s.cache, RULES_CACHE_KEY, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("rule set cache read failed, falling back to DB", zap.Error(err))
	}

	var row models.CommissionRuleSet
	if err := s.db.WithContext(ctx).Order("version desc").First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RuleSet{}, apperrors.New(apperrors.CodeConfigUnavailable, "no commission rule set is loaded")
		}
		return RuleSet{}, apperrors.Wrap(apperrors.CodeConfigUnavailable, "failed to load commission rule set", err)
	}

	rs := fromModel(row)
	// A reader that loaded before an update must not replace the newer
	// version UpdateConfig wrote, so reads only fill an empty key.
	if _, err := cache.AddJSON(ctx, s.cache, RULES_CACHE_KEY, rs, s.ttl); err != nil {
		s.logger.Warn("failed to cache rule set", zap.Int64("version", rs.Version), zap.Error(err))
	}
	return rs, nil
}

// publish writes the latest committed version through to the cache. When that
// fails the key is dropped so the next read goes to the database.
func (s *Service) publish(ctx context.Context) {
	var latest models.CommissionRuleSet
	err := s.db.WithContext(ctx).Order("version desc").First(&latest).Error
	if err == nil {
		err = cache.SetJSON(ctx, s.cache, RULES_CACHE_KEY, fromModel(latest), s.ttl)
	}
	if err == nil {
		return
	}
	s.logger.Warn("failed to write rule set through cache", zap.Error(err))
	if err := s.cache.Del(ctx, RULES_CACHE_KEY); err != nil {
		s.logger.Error("failed to invalidate rule set cache", zap.Error(err))
	}
}

// Validate checks every field of a proposed configuration.
func Validate(in Input) error {
	one := decimal.NewFromInt(1)
	rates := map[string]decimal.Decimal{
		"level1_rate":     in.Level1Rate,
		"level2_rate":     in.Level2Rate,
		"enterprise_rate": in.EnterpriseRate,
	}
	for _, field := range []string{"level1_rate", "level2_rate", "enterprise_rate"} {
		rate := rates[field]
		if rate.IsNegative() || rate.GreaterThan(one) {
			return apperrors.Newf(apperrors.CodeValidationFailed, "%s must be between 0 and 1", field).
				WithMetadata("field", field)
		}
		if !rate.Equal(rate.Round(maxRateDecimalExp)) {
			return apperrors.Newf(apperrors.CodeValidationFailed, "%s supports at most %d decimal places", field, maxRateDecimalExp).
				WithMetadata("field", field)
		}
	}
	if in.HoldingPeriodDays < 0 {
		return apperrors.New(apperrors.CodeValidationFailed, "holding_period_days must not be negative").
			WithMetadata("field", "holding_period_days")
	}
	if in.MinWithdrawAmount.IsNegative() {
		return apperrors.New(apperrors.CodeValidationFailed, "min_withdraw_amount must not be negative").
			WithMetadata("field", "min_withdraw_amount")
	}
	return nil
}

// UpdateConfig validates and stores a new version, then writes it through the cache.
// Calculations already holding a snapshot keep using it.
func (s *Service) UpdateConfig(ctx context.Context, in Input, updatedBy int64) (RuleSet, error) {
	if err := Validate(in); err != nil {
		return RuleSet{}, err
	}

	row := models.CommissionRuleSet{
		Level1Rate:        in.Level1Rate,
		Level2Rate:        in.Level2Rate,
		EnterpriseRate:    in.EnterpriseRate,
		HoldingPeriodDays: in.HoldingPeriodDays,
		MinWithdrawAmount: in.MinWithdrawAmount.Round(2),
		UpdatedBy:         updatedBy,
		CreatedAt:         s.now().UTC(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
	if err != nil {
		return RuleSet{}, apperrors.Wrap(apperrors.CodeInternal, "failed to save commission rule set", err)
	}

	s.publish(ctx)

	rs := fromModel(row)
	s.logger.Info("commission rule set updated",
		zap.Int64("version", rs.Version),
		zap.Int64("updated_by", updatedBy),
		zap.String("level1_rate", rs.Level1Rate.String()),
		zap.String("level2_rate", rs.Level2Rate.String()),
		zap.String("enterprise_rate", rs.EnterpriseRate.String()),
		zap.Int32("holding_period_days", rs.HoldingPeriodDays),
	)
	return rs, nil
}

// History lists stored versions, newest first.
func (s *Service) History(ctx context.Context, req paging.Request) (paging.Page[RuleSet], error) {
	req = req.Normalize()
	query := s.db.WithContext(ctx).Model(&models.CommissionRuleSet{}).Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return paging.Page[RuleSet]{}, apperrors.Wrap(apperrors.CodeInternal, "failed to count rule sets", err)
	}
	var rows []models.CommissionRuleSet
	if err := query.Order("version desc").Offset(req.Offset()).Limit(req.PageSize).Find(&rows).Error; err != nil {
		return paging.Page[RuleSet]{}, apperrors.Wrap(apperrors.CodeInternal, "failed to list rule sets", err)
	}
	items := make([]RuleSet, 0, len(rows))
	for _, row := range rows {
		items = append(items, fromModel(row))
	}
	return paging.NewPage(items, req, total), nil
}

// Bootstrap seeds the first version from a YAML file when no version exists.
// It reports whether a version was written.
func (s *Service) Bootstrap(ctx context.Context, path string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.CommissionRuleSet{}).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count rule sets: %w", err)
	}
	if count > 0 {
		return false, nil
	}
	in, err := LoadFile(path)
	if err != nil {
		return false, err
	}
	if _, err := s.UpdateConfig(ctx, in, 0); err != nil {
		return false, err
	}
	return true, nil
}
