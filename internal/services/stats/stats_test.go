package stats

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"syntra-ledger/internal/cache"
	"syntra-ledger/internal/database/models"
	"syntra-ledger/internal/services/paging"
	"syntra-ledger/internal/testutil"
)

func TestOverviewAggregatesAndCaches(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	mem := cache.NewMemory()
	svc := NewService(db, WithCache(mem))
	now := time.Now()

	testutil.SeedDistributor(t, db, 1)
	testutil.SeedDistributor(t, db, 2)
	testutil.SeedEdge(t, db, 1, 2, now)
	testutil.SeedCommission(t, db, "o-1", 1, "30", models.CommissionSettled, now)
	testutil.SeedCommission(t, db, "o-2", 1, "12.50", models.CommissionPending, now)
	testutil.SeedCommission(t, db, "o-3", 1, "7.50", models.CommissionPending, now)
	require.NoError(t, db.Create(&models.Withdrawal{
		RequestNo: "r-1", DistributorID: 1, Amount: decimal.NewFromInt(10),
		Method: models.WithdrawMethodBank, Account: "6222", RealName: "Han Meimei",
		Status: models.WithdrawalPaid, RequestedAt: now,
	}).Error)

	ov, err := svc.Overview(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), ov.Distributors)
	require.Equal(t, int64(1), ov.Bindings)
	require.Equal(t, int64(2), ov.Commissions["pending"].Count)
	require.Equal(t, "20.00", ov.Commissions["pending"].Amount.StringFixed(2))
	require.Equal(t, "30.00", ov.Commissions["settled"].Amount.StringFixed(2))
	require.Zero(t, ov.Commissions["cancelled"].Count)
	require.Equal(t, "10.00", ov.Withdrawals["paid"].Amount.StringFixed(2))

	testutil.SeedDistributor(t, db, 3)
	cached, err := svc.Overview(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), cached.Distributors, "served from cache")

	svc.InvalidateOverview(ctx)
	fresh, err := svc.Overview(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), fresh.Distributors)
}

func TestListDistributorsSearchAndTotals(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	svc := NewService(db)
	now := time.Now()
	for id := int64(1); id <= 3; id++ {
		testutil.SeedDistributor(t, db, id)
	}
	testutil.SeedEdge(t, db, 1, 2, now)
	testutil.SeedEdge(t, db, 1, 3, now)
	testutil.SeedCommission(t, db, "o-1", 1, "40", models.CommissionSettled, now)
	testutil.SeedCommission(t, db, "o-2", 1, "15", models.CommissionPending, now)

	page, err := svc.ListDistributors(ctx, DistributorFilter{Search: "code0001"}, paging.Request{})
	require.NoError(t, err)
	require.Equal(t, int64(1), page.TotalCount)
	row := page.Items[0]
	require.Equal(t, int64(1), row.ID)
	require.Equal(t, int64(2), row.DirectInvitees)
	require.Equal(t, "40.00", row.SettledTotal.StringFixed(2))
	require.Equal(t, "15.00", row.PendingTotal.StringFixed(2))
	require.True(t, row.WithdrawnTotal.IsZero())
	require.Nil(t, row.InviterID)

	page, err = svc.ListDistributors(ctx, DistributorFilter{Search: "DISTRIBUTOR-3"}, paging.Request{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, int64(1), *page.Items[0].InviterID)

	require.NoError(t, db.Model(&models.Distributor{}).Where("id = ?", 2).Update("is_active", false).Error)
	active := true
	page, err = svc.ListDistributors(ctx, DistributorFilter{Active: &active}, paging.Request{})
	require.NoError(t, err)
	require.Equal(t, int64(2), page.TotalCount)

	page, err = svc.ListDistributors(ctx, DistributorFilter{Tier: 5}, paging.Request{})
	require.NoError(t, err)
	require.Empty(t, page.Items)
}
