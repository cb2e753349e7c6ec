package commissions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"syntra-ledger/internal/database/models"
	apperrors "syntra-ledger/internal/errors"
	"syntra-ledger/internal/services/paging"
	"syntra-ledger/internal/testutil"
)

func TestSettleOnlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testutil.SeedDistributor(t, f.db, 1)
	c := testutil.SeedCommission(t, f.db, "o-1", 1, "42.50", models.CommissionPending, f.clock.Now())

	settled, err := f.ledger.Settle(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, models.CommissionSettled, settled.Status)
	require.NotNil(t, settled.SettledAt)
	require.True(t, f.clock.Now().Equal(*settled.SettledAt))

	_, err = f.ledger.Settle(ctx, c.ID)
	require.True(t, apperrors.IsCode(err, apperrors.CodeNotPending), "got %v", err)

	_, err = f.ledger.Settle(ctx, 999)
	require.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestConcurrentSettleHasOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testutil.SeedDistributor(t, f.db, 1)
	c := testutil.SeedCommission(t, f.db, "o-1", 1, "10", models.CommissionPending, f.clock.Now())

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		losses int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Settle(ctx, c.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if apperrors.IsCode(err, apperrors.CodeNotPending) {
				losses++
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
	require.Equal(t, 7, losses)
}

func TestCancelTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testutil.SeedDistributor(t, f.db, 1)
	pending := testutil.SeedCommission(t, f.db, "o-1", 1, "10", models.CommissionPending, f.clock.Now())
	settled := testutil.SeedCommission(t, f.db, "o-2", 1, "10", models.CommissionSettled, f.clock.Now())

	cancelled, err := f.ledger.Cancel(ctx, pending.ID, "refund")
	require.NoError(t, err)
	require.Equal(t, models.CommissionCancelled, cancelled.Status)
	require.Equal(t, "refund", *cancelled.CancelReason)

	_, err = f.ledger.Cancel(ctx, pending.ID, "again")
	require.True(t, apperrors.IsCode(err, apperrors.CodeNotPending))

	_, err = f.ledger.Cancel(ctx, settled.ID, "too late")
	require.True(t, apperrors.IsCode(err, apperrors.CodeAlreadySettled))

	_, err = f.ledger.Settle(ctx, pending.ID)
	require.True(t, apperrors.IsCode(err, apperrors.CodeNotPending))
}

func TestCancelForOrderLeavesSettled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testutil.SeedRules(t, f.db, "0.30", "0.10", "0.15", 7, "10")
	f.chain(t)

	res, err := f.calculator.CalculateForOrder(ctx, order("refund-me", 3, "100"))
	require.NoError(t, err)
	var direct models.Commission
	for _, c := range res.Commissions {
		if c.Level == models.LevelDirect {
			direct = c
		}
	}
	_, err = f.ledger.Settle(ctx, direct.ID)
	require.NoError(t, err)

	out, err := f.ledger.CancelForOrder(ctx, "refund-me", "order refunded")
	require.NoError(t, err)
	require.Len(t, out.Cancelled, 1)
	require.Equal(t, models.LevelIndirect, out.Cancelled[0].Level)
	require.Len(t, out.Settled, 1)
	require.Equal(t, direct.ID, out.Settled[0].ID)

	_, err = f.ledger.CancelForOrder(ctx, "unknown", "")
	require.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestOrderBeneficiariesAscending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testutil.SeedRules(t, f.db, "0.30", "0.10", "0.15", 7, "10")
	f.chain(t)

	res, err := f.calculator.CalculateForOrder(ctx, order("ord-locks", 3, "100"))
	require.NoError(t, err)
	require.Len(t, res.Commissions, 2)
	// direct (beneficiary 2) is written before indirect (beneficiary 1)
	require.Equal(t, int64(2), res.Commissions[0].BeneficiaryID)

	ids, err := orderBeneficiaries(f.db.WithContext(ctx), "ord-locks")
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, ids)

	out, err := f.ledger.CancelForOrder(ctx, "ord-locks", "refund")
	require.NoError(t, err)
	require.Len(t, out.Cancelled, 2)
}

func TestBalanceBreakdown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testutil.SeedDistributor(t, f.db, 1)
	now := f.clock.Now()
	testutil.SeedCommission(t, f.db, "o-1", 1, "100.10", models.CommissionSettled, now)
	testutil.SeedCommission(t, f.db, "o-2", 1, "49.90", models.CommissionSettled, now)
	testutil.SeedCommission(t, f.db, "o-3", 1, "20", models.CommissionPending, now)
	testutil.SeedCommission(t, f.db, "o-4", 1, "5", models.CommissionCancelled, now)
	for i, w := range []struct {
		amount string
		status models.WithdrawalStatus
	}{
		{"30", models.WithdrawalPending},
		{"10", models.WithdrawalApproved},
		{"25", models.WithdrawalPaid},
		{"60", models.WithdrawalRejected},
	} {
		require.NoError(t, f.db.Create(&models.Withdrawal{
			RequestNo:     "req-" + string(rune('a'+i)),
			DistributorID: 1,
			Amount:        decimal.RequireFromString(w.amount),
			Method:        models.WithdrawMethodWallet,
			Account:       "acct",
			RealName:      "Name",
			Status:        w.status,
			RequestedAt:   now,
		}).Error)
	}

	b, err := f.ledger.Balance(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "20.00", b.Pending.StringFixed(2))
	require.Equal(t, "150.00", b.Settled.StringFixed(2))
	require.Equal(t, "5.00", b.Cancelled.StringFixed(2))
	require.Equal(t, "40.00", b.Reserved.StringFixed(2))
	require.Equal(t, "25.00", b.Withdrawn.StringFixed(2))
	require.Equal(t, "85.00", b.Available.StringFixed(2))

	available, err := f.ledger.AvailableBalance(ctx, 1)
	require.NoError(t, err)
	require.True(t, available.Equal(b.Available), "available %s vs %s", available, b.Available)

	empty, err := f.ledger.AvailableBalance(ctx, 77)
	require.NoError(t, err)
	require.True(t, empty.IsZero())
}

func TestListCommissionsFilters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	base := f.clock.Now()
	testutil.SeedCommission(t, f.db, "o-1", 1, "1", models.CommissionPending, base)
	testutil.SeedCommission(t, f.db, "o-2", 1, "2", models.CommissionSettled, base.Add(time.Minute))
	testutil.SeedCommission(t, f.db, "o-3", 2, "3", models.CommissionPending, base.Add(2*time.Minute))
	testutil.SeedCommission(t, f.db, "o-4", 1, "4", models.CommissionPending, base.Add(3*time.Minute))

	page, err := f.ledger.ListCommissions(ctx, Filter{DistributorID: 1}, paging.Request{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, int64(3), page.TotalCount)
	require.True(t, page.HasNext)
	require.Equal(t, "o-4", page.Items[0].OrderID)
	require.Equal(t, "o-2", page.Items[1].OrderID)

	page, err = f.ledger.ListCommissions(ctx, Filter{Status: models.CommissionPending}, paging.Request{})
	require.NoError(t, err)
	require.Equal(t, int64(3), page.TotalCount)

	page, err = f.ledger.ListCommissions(ctx, Filter{OrderID: "o-3"}, paging.Request{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, int64(2), page.Items[0].BeneficiaryID)

	_, err = f.ledger.ListCommissions(ctx, Filter{Status: "bogus"}, paging.Request{})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidArgument))
}

func TestPendingMatured(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	base := f.clock.Now()
	old := testutil.SeedCommission(t, f.db, "o-1", 1, "1", models.CommissionPending, base.Add(-48*time.Hour))
	testutil.SeedCommission(t, f.db, "o-2", 1, "1", models.CommissionSettled, base.Add(-48*time.Hour))
	edge := testutil.SeedCommission(t, f.db, "o-3", 1, "1", models.CommissionPending, base.Add(-24*time.Hour))
	testutil.SeedCommission(t, f.db, "o-4", 1, "1", models.CommissionPending, base)

	ids, err := f.ledger.PendingMatured(ctx, base.Add(-24*time.Hour), 0, 10)
	require.NoError(t, err)
	require.Equal(t, []int64{old.ID, edge.ID}, ids)

	ids, err = f.ledger.PendingMatured(ctx, base.Add(-24*time.Hour), old.ID, 10)
	require.NoError(t, err)
	require.Equal(t, []int64{edge.ID}, ids)
}
