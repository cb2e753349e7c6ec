package handlers

import (
	"time"

	"github.com/shopspring/decimal"

	"syntra-ledger/internal/database/models"
	"syntra-ledger/internal/services/commissions"
	"syntra-ledger/internal/services/rules"
)

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func rateOrNil(r decimal.NullDecimal) *string {
	if !r.Valid {
		return nil
	}
	s := r.Decimal.String()
	return &s
}

type DistributorView struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	InviteCode string    `json:"invite_code"`
	Tier       int32     `json:"tier"`
	Level1Rate *string   `json:"level1_rate,omitempty"`
	Level2Rate *string   `json:"level2_rate,omitempty"`
	IsActive   bool      `json:"is_active"`
	InviterID  *int64    `json:"inviter_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func toDistributorView(d models.Distributor, inviterID *int64) DistributorView {
	return DistributorView{
		ID:         d.ID,
		Name:       d.Name,
		InviteCode: d.InviteCode,
		Tier:       d.Tier,
		Level1Rate: rateOrNil(d.Level1Rate),
		Level2Rate: rateOrNil(d.Level2Rate),
		IsActive:   d.IsActive,
		InviterID:  inviterID,
		CreatedAt:  d.CreatedAt,
	}
}

type EdgeView struct {
	InviterID int64     `json:"inviter_id"`
	InviteeID int64     `json:"invitee_id"`
	BoundAt   time.Time `json:"bound_at"`
}

type CommissionView struct {
	ID            int64      `json:"id"`
	OrderID       string     `json:"order_id"`
	BeneficiaryID int64      `json:"beneficiary_id"`
	PayerID       int64      `json:"payer_id"`
	Level         string     `json:"level"`
	BaseAmount    string     `json:"base_amount"`
	Rate          string     `json:"rate"`
	Amount        string     `json:"amount"`
	ProductType   string     `json:"product_type,omitempty"`
	Status        string     `json:"status"`
	CancelReason  *string    `json:"cancel_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	SettledAt     *time.Time `json:"settled_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
}

func toCommissionView(c models.Commission) CommissionView {
	return CommissionView{
		ID:            c.ID,
		OrderID:       c.OrderID,
		BeneficiaryID: c.BeneficiaryID,
		PayerID:       c.PayerID,
		Level:         c.Level,
		BaseAmount:    money(c.BaseAmount),
		Rate:          c.Rate.String(),
		Amount:        money(c.Amount),
		ProductType:   c.ProductType,
		Status:        string(c.Status),
		CancelReason:  c.CancelReason,
		CreatedAt:     c.CreatedAt,
		SettledAt:     c.SettledAt,
		CancelledAt:   c.CancelledAt,
	}
}

func toCommissionViews(cs []models.Commission) []CommissionView {
	out := make([]CommissionView, 0, len(cs))
	for _, c := range cs {
		out = append(out, toCommissionView(c))
	}
	return out
}

type BalanceView struct {
	DistributorID int64  `json:"distributor_id"`
	Pending       string `json:"pending"`
	Settled       string `json:"settled"`
	Cancelled     string `json:"cancelled"`
	Reserved      string `json:"reserved"`
	Withdrawn     string `json:"withdrawn"`
	Available     string `json:"available"`
}

func toBalanceView(b commissions.Balance) BalanceView {
	return BalanceView{
		DistributorID: b.DistributorID,
		Pending:       money(b.Pending),
		Settled:       money(b.Settled),
		Cancelled:     money(b.Cancelled),
		Reserved:      money(b.Reserved),
		Withdrawn:     money(b.Withdrawn),
		Available:     money(b.Available),
	}
}

type WithdrawalView struct {
	ID            int64      `json:"id"`
	RequestNo     string     `json:"request_no"`
	DistributorID int64      `json:"distributor_id"`
	Amount        string     `json:"amount"`
	Method        string     `json:"method"`
	Account       string     `json:"account"`
	RealName      string     `json:"real_name"`
	Status        string     `json:"status"`
	ReviewedBy    *int64     `json:"reviewed_by,omitempty"`
	Remark        *string    `json:"remark,omitempty"`
	PayoutRef     *string    `json:"payout_ref,omitempty"`
	RequestedAt   time.Time  `json:"requested_at"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

func toWithdrawalView(w models.Withdrawal) WithdrawalView {
	return WithdrawalView{
		ID:            w.ID,
		RequestNo:     w.RequestNo,
		DistributorID: w.DistributorID,
		Amount:        money(w.Amount),
		Method:        w.Method,
		Account:       w.Account,
		RealName:      w.RealName,
		Status:        string(w.Status),
		ReviewedBy:    w.ReviewedBy,
		Remark:        w.Remark,
		PayoutRef:     w.PayoutRef,
		RequestedAt:   w.RequestedAt,
		ReviewedAt:    w.ReviewedAt,
		PaidAt:        w.PaidAt,
	}
}

type RuleSetView struct {
	Version           int64     `json:"version"`
	Level1Rate        string    `json:"level1_rate"`
	Level2Rate        string    `json:"level2_rate"`
	EnterpriseRate    string    `json:"enterprise_rate"`
	HoldingPeriodDays int32     `json:"holding_period_days"`
	MinWithdrawAmount string    `json:"min_withdraw_amount"`
	UpdatedBy         int64     `json:"updated_by"`
	CreatedAt         time.Time `json:"created_at"`
}

func toRuleSetView(rs rules.RuleSet) RuleSetView {
	return RuleSetView{
		Version:           rs.Version,
		Level1Rate:        rs.Level1Rate.String(),
		Level2Rate:        rs.Level2Rate.String(),
		EnterpriseRate:    rs.EnterpriseRate.String(),
		HoldingPeriodDays: rs.HoldingPeriodDays,
		MinWithdrawAmount: money(rs.MinWithdrawAmount),
		UpdatedBy:         rs.UpdatedBy,
		CreatedAt:         rs.CreatedAt,
	}
}
