package referral

import (
	"context"
	"fmt"
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

func TestEnsureDistributorAssignsStableCode(t *testing.T) {
	ctx := context.Background()
	svc := NewService(testutil.NewDB(t))

	first, err := svc.EnsureDistributor(ctx, 10, "alice")
	require.NoError(t, err)
	require.Len(t, first.InviteCode, inviteCodeLen)
	require.True(t, first.IsActive)

	again, err := svc.EnsureDistributor(ctx, 10, "ignored")
	require.NoError(t, err)
	require.Equal(t, first.InviteCode, again.InviteCode)
	require.Equal(t, "alice", again.Name)
}

func TestEnsureDistributorRetriesOnCodeCollision(t *testing.T) {
	ctx := context.Background()
	codes := []string{"AAAA0001", "AAAA0001", "BBBB0002"}
	var i int
	svc := NewService(testutil.NewDB(t), WithCodeGenerator(func() string {
		code := codes[i]
		i++
		return code
	}))

	a, err := svc.EnsureDistributor(ctx, 1, "")
	require.NoError(t, err)
	require.Equal(t, "AAAA0001", a.InviteCode)

	b, err := svc.EnsureDistributor(ctx, 2, "")
	require.NoError(t, err)
	require.Equal(t, "BBBB0002", b.InviteCode)
}

func TestBindCreatesEdge(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	clock := testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(db, WithClock(clock.Now))
	inviter := testutil.SeedDistributor(t, db, 1)

	edge, err := svc.Bind(ctx, 2, " "+inviter.InviteCode+" ")
	require.NoError(t, err)
	require.Equal(t, int64(1), edge.InviterID)
	require.Equal(t, int64(2), edge.InviteeID)
	require.True(t, clock.Now().Equal(edge.BoundAt))

	got, err := svc.GetInviter(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, int64(1), got.InviterID)

	// invitee becomes a distributor on first bind
	_, err = svc.GetDistributor(ctx, 2)
	require.NoError(t, err)
}

func TestBindIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	svc := NewService(db)
	a := testutil.SeedDistributor(t, db, 1)
	b := testutil.SeedDistributor(t, db, 2)

	_, err := svc.Bind(ctx, 3, a.InviteCode)
	require.NoError(t, err)

	_, err = svc.Bind(ctx, 3, b.InviteCode)
	require.True(t, apperrors.IsCode(err, apperrors.CodeAlreadyBound), "got %v", err)

	edge, err := svc.GetInviter(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, int64(1), edge.InviterID)
}

func TestBindRejections(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	svc := NewService(db)
	a := testutil.SeedDistributor(t, db, 1)
	testutil.SeedDistributor(t, db, 2)
	testutil.SeedEdge(t, db, 1, 2, time.Now())

	_, err := svc.Bind(ctx, 1, a.InviteCode)
	require.True(t, apperrors.IsCode(err, apperrors.CodeSelfReferral))

	_, err = svc.Bind(ctx, 5, "NOPE0000")
	require.True(t, apperrors.IsCode(err, apperrors.CodeCodeNotFound))

	_, err = svc.Bind(ctx, 5, "  ")
	require.True(t, apperrors.IsCode(err, apperrors.CodeCodeNotFound))

	// 1 -> 2 exists, so 1 cannot be bound under 2
	_, err = svc.Bind(ctx, 1, "CODE0002")
	require.True(t, apperrors.IsCode(err, apperrors.CodeReferralCycle), "got %v", err)

	inactive := false
	_, err = svc.UpdateDistributor(ctx, 2, DistributorPatch{IsActive: &inactive})
	require.NoError(t, err)
	_, err = svc.Bind(ctx, 6, "CODE0002")
	require.True(t, apperrors.IsCode(err, apperrors.CodeCodeNotFound))
}

func TestConcurrentBindHasOneWinner(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	svc := NewService(db)
	for id := int64(1); id <= 5; id++ {
		testutil.SeedDistributor(t, db, id)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		bound   int
	)
	for id := int64(1); id <= 5; id++ {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			_, err := svc.Bind(ctx, 99, code)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case apperrors.IsCode(err, apperrors.CodeAlreadyBound):
				bound++
			}
		}(fmt.Sprintf("CODE%04d", id))
	}
	wg.Wait()

	require.Equal(t, 1, success)
	require.Equal(t, 4, bound)
}

func TestCrossingBindsNeverFormCycle(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	svc := NewService(db)
	for id := int64(1); id <= 3; id++ {
		testutil.SeedDistributor(t, db, id)
	}
	testutil.SeedEdge(t, db, 1, 2, time.Now())
	require.NoError(t, lockBindings(db))

	binds := []struct {
		invitee int64
		code    string
	}{{3, "CODE0002"}, {1, "CODE0003"}}
	errs := make([]error, len(binds))
	var wg sync.WaitGroup
	for i, b := range binds {
		wg.Add(1)
		go func(i int, invitee int64, code string) {
			defer wg.Done()
			_, errs[i] = svc.Bind(ctx, invitee, code)
		}(i, b.invitee, b.code)
	}
	wg.Wait()

	var success, cycles int
	for _, err := range errs {
		switch {
		case err == nil:
			success++
		case apperrors.IsCode(err, apperrors.CodeReferralCycle):
			cycles++
		}
	}
	require.Equal(t, 1, success)
	require.Equal(t, 1, cycles)

	for id := int64(1); id <= 3; id++ {
		_, err := svc.GetInviterChain(ctx, id, maxAncestorWalk)
		require.NoError(t, err)
	}
}

func TestGetInviterChain(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	svc := NewService(db)
	now := time.Now()
	for id := int64(1); id <= 4; id++ {
		testutil.SeedDistributor(t, db, id)
	}
	testutil.SeedEdge(t, db, 1, 2, now)
	testutil.SeedEdge(t, db, 2, 3, now)
	testutil.SeedEdge(t, db, 3, 4, now)

	chain, err := svc.GetInviterChain(ctx, 4, 2)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 2}, chain)

	chain, err = svc.GetInviterChain(ctx, 4, 10)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 2, 1}, chain)

	chain, err = svc.GetInviterChain(ctx, 1, 2)
	require.NoError(t, err)
	require.Empty(t, chain)

	inviter, err := svc.GetInviter(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, inviter)
}

func TestGetInviterChainDetectsCorruptCycle(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	svc := NewService(db)
	testutil.SeedDistributor(t, db, 1)
	testutil.SeedDistributor(t, db, 2)
	// written around Bind to simulate a corrupted store
	testutil.SeedEdge(t, db, 1, 2, time.Now())
	testutil.SeedEdge(t, db, 2, 1, time.Now())

	_, err := svc.GetInviterChain(ctx, 2, 5)
	require.True(t, apperrors.IsCode(err, apperrors.CodeIntegrityViolation), "got %v", err)
}

func TestListDownlineLevels(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	svc := NewService(db)
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for id := int64(1); id <= 6; id++ {
		testutil.SeedDistributor(t, db, id)
	}
	testutil.SeedEdge(t, db, 1, 2, base)
	testutil.SeedEdge(t, db, 1, 3, base.Add(time.Hour))
	testutil.SeedEdge(t, db, 2, 4, base.Add(2*time.Hour))
	testutil.SeedEdge(t, db, 3, 5, base.Add(3*time.Hour))
	testutil.SeedEdge(t, db, 5, 6, base.Add(4*time.Hour))

	direct, err := svc.ListDownline(ctx, 1, 1, paging.Request{})
	require.NoError(t, err)
	require.Equal(t, int64(2), direct.TotalCount)
	require.Equal(t, int64(3), direct.Items[0].DistributorID, "newest first")
	require.Equal(t, "CODE0003", direct.Items[0].InviteCode)

	indirect, err := svc.ListDownline(ctx, 1, 2, paging.Request{Page: 1, PageSize: 1})
	require.NoError(t, err)
	require.Equal(t, int64(2), indirect.TotalCount)
	require.True(t, indirect.HasNext)
	require.Len(t, indirect.Items, 1)
	require.Equal(t, int64(5), indirect.Items[0].DistributorID)
	require.Equal(t, 2, indirect.Items[0].Level)

	second, err := svc.ListDownline(ctx, 1, 2, paging.Request{Page: 2, PageSize: 1})
	require.NoError(t, err)
	require.Equal(t, int64(4), second.Items[0].DistributorID)
	require.False(t, second.HasNext)

	_, err = svc.ListDownline(ctx, 1, 3, paging.Request{})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidArgument))
}

func TestUpdateDistributorOverrides(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	svc := NewService(db)
	testutil.SeedDistributor(t, db, 1)

	tier := int32(3)
	rate := decimal.NewNullDecimal(decimal.RequireFromString("0.35"))
	d, err := svc.UpdateDistributor(ctx, 1, DistributorPatch{Tier: &tier, Level1Rate: &rate})
	require.NoError(t, err)
	require.Equal(t, int32(3), d.Tier)
	require.True(t, d.Level1Rate.Valid)
	require.Equal(t, "0.35", d.Level1Rate.Decimal.String())

	cleared := decimal.NullDecimal{}
	d, err = svc.UpdateDistributor(ctx, 1, DistributorPatch{Level1Rate: &cleared})
	require.NoError(t, err)
	require.False(t, d.Level1Rate.Valid)
	require.Equal(t, int32(3), d.Tier)

	var afterClear models.Distributor
	require.NoError(t, db.First(&afterClear, 1).Error)
	require.False(t, afterClear.Level1Rate.Valid)

	bad := decimal.NewNullDecimal(decimal.RequireFromString("1.5"))
	_, err = svc.UpdateDistributor(ctx, 1, DistributorPatch{Level2Rate: &bad})
	require.True(t, apperrors.IsCode(err, apperrors.CodeValidationFailed))

	_, err = svc.UpdateDistributor(ctx, 42, DistributorPatch{Tier: &tier})
	require.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))

	var stored models.Distributor
	require.NoError(t, db.First(&stored, 1).Error)
	require.Equal(t, int32(3), stored.Tier)
}
