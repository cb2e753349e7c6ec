// Package testutil holds shared fixtures for ledger tests.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"syntra-ledger/internal/database"
	"syntra-ledger/internal/database/models"
)

// NewDB opens a private in-memory sqlite database with the ledger schema.
// The pool is capped at one connection so concurrent transactions queue on it.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.MigrateLedgerDB(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

// Clock is a settable time source.
type Clock struct {
	now time.Time
}

// NewClock starts a clock at the given instant.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

// Now returns the current clock time.
func (c *Clock) Now() time.Time { return c.now }

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) { c.now = t.UTC() }

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// SeedRules inserts a rule set version directly.
func SeedRules(t *testing.T, db *gorm.DB, level1, level2, enterprise string, holdingDays int32, minWithdraw string) models.CommissionRuleSet {
	t.Helper()
	rs := models.CommissionRuleSet{
		Level1Rate:        decimal.RequireFromString(level1),
		Level2Rate:        decimal.RequireFromString(level2),
		EnterpriseRate:    decimal.RequireFromString(enterprise),
		HoldingPeriodDays: holdingDays,
		MinWithdrawAmount: decimal.RequireFromString(minWithdraw),
		CreatedAt:         time.Now().UTC(),
	}
	if err := db.Create(&rs).Error; err != nil {
		t.Fatalf("seed rules: %v", err)
	}
	return rs
}

// SeedDistributor inserts an active distributor with a deterministic invite code.
func SeedDistributor(t *testing.T, db *gorm.DB, id int64) models.Distributor {
	t.Helper()
	d := models.Distributor{
		ID:         id,
		Name:       fmt.Sprintf("distributor-%d", id),
		InviteCode: fmt.Sprintf("CODE%04d", id),
		Tier:       1,
		IsActive:   true,
	}
	if err := db.Create(&d).Error; err != nil {
		t.Fatalf("seed distributor: %v", err)
	}
	return d
}

// SeedEdge inserts a referral edge directly.
func SeedEdge(t *testing.T, db *gorm.DB, inviterID, inviteeID int64, boundAt time.Time) {
	t.Helper()
	edge := models.ReferralEdge{InviterID: inviterID, InviteeID: inviteeID, BoundAt: boundAt.UTC()}
	if err := db.Create(&edge).Error; err != nil {
		t.Fatalf("seed edge: %v", err)
	}
}

// SeedCommission inserts a commission with the given status and amount.
func SeedCommission(t *testing.T, db *gorm.DB, orderID string, beneficiaryID int64, amount string, status models.CommissionStatus, createdAt time.Time) models.Commission {
	t.Helper()
	c := models.Commission{
		OrderID:       orderID,
		BeneficiaryID: beneficiaryID,
		Level:         models.LevelDirect,
		BaseAmount:    decimal.RequireFromString(amount),
		Rate:          decimal.NewFromInt(1),
		Amount:        decimal.RequireFromString(amount),
		Status:        status,
		CreatedAt:     createdAt.UTC(),
	}
	if status == models.CommissionSettled {
		settled := createdAt.UTC()
		c.SettledAt = &settled
	}
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("seed commission: %v", err)
	}
	return c
}
