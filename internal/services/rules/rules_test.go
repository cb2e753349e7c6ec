package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"syntra-ledger/internal/cache"
	apperrors "syntra-ledger/internal/errors"
	"syntra-ledger/internal/services/paging"
	"syntra-ledger/internal/testutil"
)

func validInput() Input {
	return Input{
		Level1Rate:        decimal.RequireFromString("0.30"),
		Level2Rate:        decimal.RequireFromString("0.10"),
		EnterpriseRate:    decimal.RequireFromString("0.15"),
		HoldingPeriodDays: 7,
		MinWithdrawAmount: decimal.RequireFromString("10"),
	}
}

func TestGetConfigWithoutRulesIsUnavailable(t *testing.T) {
	svc := NewService(testutil.NewDB(t))

	_, err := svc.GetConfig(context.Background())
	require.True(t, apperrors.IsCode(err, apperrors.CodeConfigUnavailable))
}

func TestUpdateConfigVisibleImmediately(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	mem := cache.NewMemory()
	svc := NewService(db, WithCache(mem))

	first, err := svc.UpdateConfig(ctx, validInput(), 1)
	require.NoError(t, err)

	got, err := svc.GetConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, first.Version, got.Version)
	require.Equal(t, "0.3", got.Level1Rate.String())

	_, err = mem.Get(ctx, RULES_CACHE_KEY)
	require.NoError(t, err, "read populates cache")

	next := validInput()
	next.Level1Rate = decimal.RequireFromString("0.25")
	second, err := svc.UpdateConfig(ctx, next, 2)
	require.NoError(t, err)
	require.Greater(t, second.Version, first.Version)

	got, err = svc.GetConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, second.Version, got.Version)
	require.Equal(t, "0.25", got.Level1Rate.String())
	require.Equal(t, int64(2), got.UpdatedBy)
}

// gatedCache holds SetNX calls until released.
type gatedCache struct {
	*cache.Memory
	reached chan struct{}
	release chan struct{}
}

func (g *gatedCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	close(g.reached)
	<-g.release
	return g.Memory.SetNX(ctx, key, value, ttl)
}

func TestStaleReaderDoesNotOverwriteNewerVersion(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	mem := cache.NewMemory()
	_, err := NewService(db, WithCache(mem)).UpdateConfig(ctx, validInput(), 1)
	require.NoError(t, err)
	require.NoError(t, mem.Del(ctx, RULES_CACHE_KEY))

	gate := &gatedCache{Memory: mem, reached: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(db, WithCache(gate))

	type readResult struct {
		rs  RuleSet
		err error
	}
	done := make(chan readResult, 1)
	go func() {
		rs, err := svc.GetConfig(ctx)
		done <- readResult{rs, err}
	}()
	<-gate.reached

	next := validInput()
	next.Level1Rate = decimal.RequireFromString("0.50")
	updated, err := svc.UpdateConfig(ctx, next, 2)
	require.NoError(t, err)

	close(gate.release)
	stale := <-done
	require.NoError(t, stale.err)
	require.Less(t, stale.rs.Version, updated.Version)

	got, err := svc.GetConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, updated.Version, got.Version)
	require.Equal(t, "0.5", got.Level1Rate.String())
}

func TestSnapshotIsNotAlteredByLaterUpdate(t *testing.T) {
	ctx := context.Background()
	svc := NewService(testutil.NewDB(t))
	_, err := svc.UpdateConfig(ctx, validInput(), 1)
	require.NoError(t, err)

	snapshot, err := svc.GetConfig(ctx)
	require.NoError(t, err)

	next := validInput()
	next.Level2Rate = decimal.RequireFromString("0.05")
	_, err = svc.UpdateConfig(ctx, next, 1)
	require.NoError(t, err)

	require.Equal(t, "0.1", snapshot.Level2Rate.String())
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cases := map[string]func(*Input){
		"level1 above one":       func(in *Input) { in.Level1Rate = decimal.RequireFromString("1.01") },
		"level2 negative":        func(in *Input) { in.Level2Rate = decimal.RequireFromString("-0.01") },
		"enterprise above one":   func(in *Input) { in.EnterpriseRate = decimal.NewFromInt(2) },
		"too many decimals":      func(in *Input) { in.Level1Rate = decimal.RequireFromString("0.12345") },
		"negative holding":       func(in *Input) { in.HoldingPeriodDays = -1 },
		"negative min withdraw":  func(in *Input) { in.MinWithdrawAmount = decimal.RequireFromString("-1") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			mutate(&in)
			err := Validate(in)
			require.True(t, apperrors.IsCode(err, apperrors.CodeValidationFailed), "got %v", err)
		})
	}

	edges := validInput()
	edges.Level1Rate = decimal.NewFromInt(1)
	edges.Level2Rate = decimal.Zero
	edges.HoldingPeriodDays = 0
	edges.MinWithdrawAmount = decimal.Zero
	require.NoError(t, Validate(edges))
}

func TestRejectedUpdateKeepsCurrentVersion(t *testing.T) {
	ctx := context.Background()
	svc := NewService(testutil.NewDB(t))
	current, err := svc.UpdateConfig(ctx, validInput(), 1)
	require.NoError(t, err)

	bad := validInput()
	bad.Level1Rate = decimal.RequireFromString("1.5")
	_, err = svc.UpdateConfig(ctx, bad, 1)
	require.Error(t, err)

	got, err := svc.GetConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, current.Version, got.Version)
}

func TestHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewService(testutil.NewDB(t), WithClock(clock.Now))
	for i := 0; i < 3; i++ {
		_, err := svc.UpdateConfig(ctx, validInput(), int64(i+1))
		require.NoError(t, err)
		clock.Advance(time.Hour)
	}

	page, err := svc.History(ctx, paging.Request{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, int64(3), page.TotalCount)
	require.Len(t, page.Items, 2)
	require.True(t, page.HasNext)
	require.Equal(t, int64(3), page.Items[0].UpdatedBy)
}

func TestBootstrapFromYAML(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
level1_rate: "0.30"
level2_rate: "0.10"
enterprise_rate: "0.20"
holding_period_days: 7
min_withdraw_amount: "50.00"
`), 0o600))

	svc := NewService(testutil.NewDB(t))
	seeded, err := svc.Bootstrap(ctx, path)
	require.NoError(t, err)
	require.True(t, seeded)

	got, err := svc.GetConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(7), got.HoldingPeriodDays)
	require.Equal(t, "50.00", got.MinWithdrawAmount.StringFixed(2))

	seeded, err = svc.Bootstrap(ctx, path)
	require.NoError(t, err)
	require.False(t, seeded, "existing version is never overwritten")
}

func TestLoadFileRejectsInvalidRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("level1_rate: \"1.2\"\n"), 0o600))

	_, err := LoadFile(path)
	require.True(t, apperrors.IsCode(err, apperrors.CodeValidationFailed))
}
