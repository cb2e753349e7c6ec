package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Commission levels.
const (
	LevelDirect     = "1"
	LevelIndirect   = "2"
	LevelEnterprise = "enterprise"
)

// ProductTypeEnterprise marks channel deals paid at the enterprise rate.
const ProductTypeEnterprise = "enterprise"

// CommissionStatus is the lifecycle state of a commission record.
type CommissionStatus string

const (
	CommissionPending   CommissionStatus = "pending"
	CommissionSettled   CommissionStatus = "settled"
	CommissionCancelled CommissionStatus = "cancelled"
)

// WithdrawalStatus is the review state of a payout request.
type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
	WithdrawalPaid     WithdrawalStatus = "paid"
)

// ReservingStatuses are the withdrawal states that debit the available balance.
var ReservingStatuses = []WithdrawalStatus{WithdrawalPending, WithdrawalApproved, WithdrawalPaid}

// Withdraw methods
const (
	WithdrawMethodWallet = "wallet"
	WithdrawMethodAlipay = "alipay"
	WithdrawMethodWechat = "wechat"
	WithdrawMethodBank   = "bank"
)

// Distributor is a user acting as a referral node. ID comes from the identity store.
type Distributor struct {
	ID         int64               `gorm:"primaryKey;autoIncrement:false"`
	Name       string              `gorm:"size:100"`
	InviteCode string              `gorm:"size:20;uniqueIndex;not null"`
	Tier       int32               `gorm:"not null;default:1;index"`
	Level1Rate decimal.NullDecimal `gorm:"type:decimal(5,4)"`
	Level2Rate decimal.NullDecimal `gorm:"type:decimal(5,4)"`
	IsActive   bool                `gorm:"not null;default:true"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ReferralEdge binds an invitee to its single inviter. Never updated or deleted.
type ReferralEdge struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	InviterID int64     `gorm:"index;not null"`
	InviteeID int64     `gorm:"uniqueIndex;not null"`
	BoundAt   time.Time `gorm:"index;not null"`
}

// ProcessedOrder marks an order whose commission set has been written.
type ProcessedOrder struct {
	OrderID         string          `gorm:"primaryKey;size:64"`
	PayerID         int64           `gorm:"index;not null"`
	BaseAmount      decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	ProductType     string          `gorm:"size:32"`
	CommissionCount int32           `gorm:"not null"`
	RuleVersion     int64           `gorm:"not null"`
	ProcessedAt     time.Time       `gorm:"not null"`
}

// Commission is a single owed amount tied to one order and one beneficiary.
type Commission struct {
	ID            int64            `gorm:"primaryKey;autoIncrement"`
	OrderID       string           `gorm:"size:64;not null;index:idx_commission_order_beneficiary_level,unique"`
	BeneficiaryID int64            `gorm:"not null;index;index:idx_commission_order_beneficiary_level,unique"`
	Level         string           `gorm:"size:16;not null;index:idx_commission_order_beneficiary_level,unique"`
	PayerID       int64            `gorm:"not null"`
	BaseAmount    decimal.Decimal  `gorm:"type:decimal(18,2);not null"`
	Rate          decimal.Decimal  `gorm:"type:decimal(5,4);not null"`
	Amount        decimal.Decimal  `gorm:"type:decimal(18,2);not null"`
	ProductType   string           `gorm:"size:32;index"`
	Status        CommissionStatus `gorm:"size:16;not null;index"`
	CancelReason  *string          `gorm:"size:255"`
	CreatedAt     time.Time        `gorm:"index;not null"`
	SettledAt     *time.Time
	CancelledAt   *time.Time
}

// Withdrawal is a payout request against the settled balance.
type Withdrawal struct {
	ID            int64            `gorm:"primaryKey;autoIncrement"`
	RequestNo     string           `gorm:"size:64;uniqueIndex;not null"`
	DistributorID int64            `gorm:"index;not null"`
	Amount        decimal.Decimal  `gorm:"type:decimal(18,2);not null"`
	Method        string           `gorm:"size:20;not null"`
	Account       string           `gorm:"size:128;not null"`
	RealName      string           `gorm:"size:64;not null"`
	Status        WithdrawalStatus `gorm:"size:16;not null;index"`
	ReviewedBy    *int64
	Remark        *string `gorm:"type:text"`
	PayoutRef     *string `gorm:"size:128"`
	RequestedAt   time.Time `gorm:"index;not null"`
	ReviewedAt    *time.Time
	PaidAt        *time.Time
}

// CommissionRuleSet is one version of the global commission configuration.
type CommissionRuleSet struct {
	Version           int64           `gorm:"primaryKey;autoIncrement"`
	Level1Rate        decimal.Decimal `gorm:"type:decimal(5,4);not null"`
	Level2Rate        decimal.Decimal `gorm:"type:decimal(5,4);not null"`
	EnterpriseRate    decimal.Decimal `gorm:"type:decimal(5,4);not null"`
	HoldingPeriodDays int32           `gorm:"not null"`
	MinWithdrawAmount decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	UpdatedBy         int64
	CreatedAt         time.Time
}
