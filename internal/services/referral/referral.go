package referral

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
	"syntra-ledger/internal/services/paging"
)

const (
	DefaultChainDepth = 2
	// maxAncestorWalk bounds the ancestor walk used for cycle checks on bind.
	maxAncestorWalk = 1024
	inviteCodeLen   = 8
	codeAttempts    = 5
	// bindLockKey is the postgres advisory lock held by every bind transaction.
	bindLockKey = 7201
)

// DownlineMember is one invitee in a distributor's downline.
type DownlineMember struct {
	DistributorID int64     `json:"distributor_id"`
	Name          string    `json:"name"`
	InviteCode    string    `json:"invite_code"`
	InviterID     int64     `json:"inviter_id"`
	Level         int       `json:"level"`
	BoundAt       time.Time `json:"bound_at"`
}

// DistributorPatch carries admin changes. Nil fields are left untouched; a rate
// override with Valid=false clears it.
type DistributorPatch struct {
	Name       *string
	Tier       *int32
	Level1Rate *decimal.NullDecimal
	Level2Rate *decimal.NullDecimal
	IsActive   *bool
}

// Graph is the read side consumed by the calculator.
type Graph interface {
	GetInviterChain(ctx context.Context, distributorID int64, maxDepth int) ([]int64, error)
}

// Service stores and queries invite bindings.
type Service struct {
	db      *gorm.DB
	logger  *zap.Logger
	now     func() time.Time
	newCode func() string
}

// Option customises the service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock sets the time source used for bound_at.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.now = clock }
}

// WithCodeGenerator overrides invite code generation.
func WithCodeGenerator(gen func() string) Option {
	return func(s *Service) { s.newCode = gen }
}

// NewService constructs the referral graph service.
func NewService(db *gorm.DB, opts ...Option) *Service {
	s := &Service{
		db:      db,
		now:     time.Now,
		newCode: randomInviteCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger)
	return s
}

func randomInviteCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:inviteCodeLen])
}

// EnsureDistributor returns the distributor, creating it with a fresh invite
// code on first sight.
func (s *Service) EnsureDistributor(ctx context.Context, id int64, name string) (models.Distributor, error) {
	if id <= 0 {
		return models.Distributor{}, apperrors.New(apperrors.CodeInvalidArgument, "distributor id is required")
	}
	db := s.db.WithContext(ctx)

	var existing models.Distributor
	err := db.First(&existing, id).Error
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Distributor{}, apperrors.Wrap(apperrors.CodeInternal, "failed to load distributor", err)
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		now := s.now().UTC()
		d := models.Distributor{
			ID:         id,
			Name:       strings.TrimSpace(name),
			InviteCode: s.newCode(),
			Tier:       1,
			IsActive:   true,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&d)
		if res.Error != nil {
			return models.Distributor{}, apperrors.Wrap(apperrors.CodeInternal, "failed to create distributor", res.Error)
		}
		if res.RowsAffected == 1 {
			s.logger.Info("distributor created", zap.Int64("distributor_id", id), zap.String("invite_code", d.InviteCode))
			return d, nil
		}
		// Either a concurrent create won or the invite code collided.
		if err := db.First(&existing, id).Error; err == nil {
			return existing, nil
		}
	}
	return models.Distributor{}, apperrors.Newf(apperrors.CodeInternal, "could not allocate a unique invite code for distributor %d", id)
}

// GetDistributor loads one distributor.
func (s *Service) GetDistributor(ctx context.Context, id int64) (models.Distributor, error) {
	var d models.Distributor
	if err := s.db.WithContext(ctx).First(&d, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Distributor{}, apperrors.Newf(apperrors.CodeNotFound, "distributor %d not found", id)
		}
		return models.Distributor{}, apperrors.Wrap(apperrors.CodeInternal, "failed to load distributor", err)
	}
	return d, nil
}

// Bind attaches inviteeID to the owner of inviteCode. Edges are written once.
func (s *Service) Bind(ctx context.Context, inviteeID int64, inviteCode string) (models.ReferralEdge, error) {
	edge, err := s.bind(ctx, inviteeID, inviteCode)
	outcome := "bound"
	if err != nil {
		outcome = strings.ToLower(string(apperrors.GetCode(err)))
	}
	monitoring.ReferralBindsTotal.WithLabelValues(outcome).Inc()
	return edge, err
}

func (s *Service) bind(ctx context.Context, inviteeID int64, inviteCode string) (models.ReferralEdge, error) {
	if inviteeID <= 0 {
		return models.ReferralEdge{}, apperrors.New(apperrors.CodeInvalidArgument, "invitee id is required")
	}
	code := strings.ToUpper(strings.TrimSpace(inviteCode))
	if code == "" {
		return models.ReferralEdge{}, apperrors.New(apperrors.CodeCodeNotFound, "invite code is required")
	}

	db := s.db.WithContext(ctx)
	var inviter models.Distributor
	if err := db.Where("invite_code = ?", code).First(&inviter).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ReferralEdge{}, apperrors.Newf(apperrors.CodeCodeNotFound, "invite code %s not found", code)
		}
		return models.ReferralEdge{}, apperrors.Wrap(apperrors.CodeInternal, "failed to resolve invite code", err)
	}
	if !inviter.IsActive {
		return models.ReferralEdge{}, apperrors.Newf(apperrors.CodeCodeNotFound, "invite code %s not found", code)
	}
	if inviter.ID == inviteeID {
		return models.ReferralEdge{}, apperrors.New(apperrors.CodeSelfReferral, "a distributor cannot use their own invite code")
	}

	if _, err := s.EnsureDistributor(ctx, inviteeID, ""); err != nil {
		return models.ReferralEdge{}, err
	}

	var edge models.ReferralEdge
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := lockBindings(tx); err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "failed to lock referral graph", err)
		}
		var existing models.ReferralEdge
		err := tx.Where("invitee_id = ?", inviteeID).Take(&existing).Error
		if err == nil {
			return apperrors.Newf(apperrors.CodeAlreadyBound, "distributor %d is already bound to %d", inviteeID, existing.InviterID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.Wrap(apperrors.CodeInternal, "failed to check existing binding", err)
		}

		ancestors, err := s.walkInviters(tx, inviter.ID, maxAncestorWalk)
		if err != nil {
			return err
		}
		for _, ancestor := range ancestors {
			if ancestor == inviteeID {
				return apperrors.Newf(apperrors.CodeReferralCycle, "distributor %d is already upline of %d", inviteeID, inviter.ID)
			}
		}

		edge = models.ReferralEdge{
			InviterID: inviter.ID,
			InviteeID: inviteeID,
			BoundAt:   s.now().UTC(),
		}
		return tx.Create(&edge).Error
	})
	if err == nil {
		s.logger.Info("referral bound", zap.Int64("inviter_id", edge.InviterID), zap.Int64("invitee_id", edge.InviteeID))
		return edge, nil
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return models.ReferralEdge{}, err
	}
	// The insert lost a race against another bind for the same invitee.
	var existing models.ReferralEdge
	if lookupErr := db.Where("invitee_id = ?", inviteeID).Take(&existing).Error; lookupErr == nil {
		return models.ReferralEdge{}, apperrors.Newf(apperrors.CodeAlreadyBound, "distributor %d is already bound to %d", inviteeID, existing.InviterID)
	}
	return models.ReferralEdge{}, apperrors.Wrap(apperrors.CodeInternal, "failed to bind referral", err)
}

// lockBindings serialises binds for the rest of the transaction. Two binds
// that each pass the ancestor walk could otherwise close a loop together.
func lockBindings(tx *gorm.DB) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(?)", bindLockKey).Error
}

// GetInviter returns the direct inviter, or nil when the distributor is unbound.
func (s *Service) GetInviter(ctx context.Context, distributorID int64) (*models.ReferralEdge, error) {
	var edge models.ReferralEdge
	err := s.db.WithContext(ctx).Where("invitee_id = ?", distributorID).Take(&edge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to load inviter", err)
	}
	return &edge, nil
}

// GetInviterChain returns up to maxDepth inviters, nearest first.
func (s *Service) GetInviterChain(ctx context.Context, distributorID int64, maxDepth int) ([]int64, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultChainDepth
	}
	return s.walkInviters(s.db.WithContext(ctx), distributorID, maxDepth)
}

func (s *Service) walkInviters(db *gorm.DB, distributorID int64, maxDepth int) ([]int64, error) {
	chain := make([]int64, 0, maxDepth)
	visited := map[int64]struct{}{distributorID: {}}
	current := distributorID
	for len(chain) < maxDepth {
		var edge models.ReferralEdge
		err := db.Where("invitee_id = ?", current).Take(&edge).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			break
		}
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to walk referral chain", err)
		}
		if _, seen := visited[edge.InviterID]; seen {
			s.logger.Error("referral cycle detected",
				zap.Int64("start_id", distributorID),
				zap.Int64("repeated_id", edge.InviterID),
				zap.Int64s("chain", chain),
			)
			return nil, apperrors.Newf(apperrors.CodeIntegrityViolation, "referral cycle detected at distributor %d", edge.InviterID)
		}
		visited[edge.InviterID] = struct{}{}
		chain = append(chain, edge.InviterID)
		current = edge.InviterID
	}
	return chain, nil
}

// ListDownline pages through direct (level 1) or indirect (level 2) invitees,
// most recently bound first.
func (s *Service) ListDownline(ctx context.Context, distributorID int64, level int, req paging.Request) (paging.Page[DownlineMember], error) {
	req = req.Normalize()
	db := s.db.WithContext(ctx)

	query := db.Model(&models.ReferralEdge{})
	switch level {
	case 1:
		query = query.Where("inviter_id = ?", distributorID)
	case 2:
		direct := db.Model(&models.ReferralEdge{}).Select("invitee_id").Where("inviter_id = ?", distributorID)
		query = query.Where("inviter_id IN (?)", direct)
	default:
		return paging.Page[DownlineMember]{}, apperrors.New(apperrors.CodeInvalidArgument, "level must be 1 or 2")
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return paging.Page[DownlineMember]{}, apperrors.Wrap(apperrors.CodeInternal, "failed to count downline", err)
	}

	var edges []models.ReferralEdge
	if err := query.Order("bound_at desc").Order("id desc").Offset(req.Offset()).Limit(req.PageSize).Find(&edges).Error; err != nil {
		return paging.Page[DownlineMember]{}, apperrors.Wrap(apperrors.CodeInternal, "failed to list downline", err)
	}

	ids := make([]int64, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.InviteeID)
	}
	byID := make(map[int64]models.Distributor, len(ids))
	if len(ids) > 0 {
		var distributors []models.Distributor
		if err := db.Where("id IN ?", ids).Find(&distributors).Error; err != nil {
			return paging.Page[DownlineMember]{}, apperrors.Wrap(apperrors.CodeInternal, "failed to load downline distributors", err)
		}
		for _, d := range distributors {
			byID[d.ID] = d
		}
	}

	members := make([]DownlineMember, 0, len(edges))
	for _, e := range edges {
		d := byID[e.InviteeID]
		members = append(members, DownlineMember{
			DistributorID: e.InviteeID,
			Name:          d.Name,
			InviteCode:    d.InviteCode,
			InviterID:     e.InviterID,
			Level:         level,
			BoundAt:       e.BoundAt,
		})
	}
	return paging.NewPage(members, req, total), nil
}

// UpdateDistributor applies an admin patch. Distributors are never deleted;
// IsActive=false deactivates.
func (s *Service) UpdateDistributor(ctx context.Context, id int64, patch DistributorPatch) (models.Distributor, error) {
	updates := map[string]interface{}{}
	if patch.Name != nil {
		updates["name"] = strings.TrimSpace(*patch.Name)
	}
	if patch.Tier != nil {
		if *patch.Tier < 1 {
			return models.Distributor{}, apperrors.New(apperrors.CodeValidationFailed, "tier must be at least 1")
		}
		updates["tier"] = *patch.Tier
	}
	if patch.Level1Rate != nil {
		if err := validateOverride("level1_rate", *patch.Level1Rate); err != nil {
			return models.Distributor{}, err
		}
		updates["level1_rate"] = *patch.Level1Rate
	}
	if patch.Level2Rate != nil {
		if err := validateOverride("level2_rate", *patch.Level2Rate); err != nil {
			return models.Distributor{}, err
		}
		updates["level2_rate"] = *patch.Level2Rate
	}
	if patch.IsActive != nil {
		updates["is_active"] = *patch.IsActive
	}

	var d models.Distributor
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&d, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.Newf(apperrors.CodeNotFound, "distributor %d not found", id)
			}
			return apperrors.Wrap(apperrors.CodeInternal, "failed to load distributor", err)
		}
		if len(updates) == 0 {
			return nil
		}
		updates["updated_at"] = s.now().UTC()
		if err := tx.Model(&models.Distributor{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "failed to update distributor", err)
		}
		// Reload into a zero value: gorm keeps prior field values for NULL columns.
		var updated models.Distributor
		if err := tx.First(&updated, id).Error; err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "failed to reload distributor", err)
		}
		d = updated
		return nil
	})
	if err != nil {
		return models.Distributor{}, err
	}
	return d, nil
}

func validateOverride(field string, rate decimal.NullDecimal) error {
	if !rate.Valid {
		return nil
	}
	if rate.Decimal.IsNegative() || rate.Decimal.GreaterThan(decimal.NewFromInt(1)) {
		return apperrors.Newf(apperrors.CodeValidationFailed, "%s must be between 0 and 1", field).WithMetadata("field", field)
	}
	return nil
}
