package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"syntra-ledger/internal/database/models"
	apperrors "syntra-ledger/internal/errors"
	"syntra-ledger/internal/services/commissions"
	"syntra-ledger/internal/services/rules"
	"syntra-ledger/internal/testutil"
)

func TestHoldingPeriodBoundary(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	testutil.SeedRules(t, db, "0.30", "0.10", "0.15", 7, "10")
	testutil.SeedDistributor(t, db, 1)
	t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	c := testutil.SeedCommission(t, db, "o-1", 1, "25", models.CommissionPending, t0)

	ledger := commissions.NewLedger(db)
	engine := NewEngine(ledger, rules.NewService(db))

	n, err := engine.AutoSettleEligible(ctx, t0.Add(6*24*time.Hour))
	require.NoError(t, err)
	require.Zero(t, n)
	got, err := ledger.GetCommission(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, models.CommissionPending, got.Status)

	n, err = engine.AutoSettleEligible(ctx, t0.Add(7*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	got, err = ledger.GetCommission(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, models.CommissionSettled, got.Status)

	n, err = engine.AutoSettleEligible(ctx, t0.Add(7*24*time.Hour))
	require.NoError(t, err)
	require.Zero(t, n, "a second pass finds nothing")
}

func TestAutoSettlePagesThroughBatches(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	testutil.SeedRules(t, db, "0.30", "0.10", "0.15", 0, "10")
	testutil.SeedDistributor(t, db, 1)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		testutil.SeedCommission(t, db, "o-"+string(rune('a'+i)), 1, "1", models.CommissionPending, now.Add(-time.Minute))
	}
	testutil.SeedCommission(t, db, "o-cancelled", 1, "1", models.CommissionCancelled, now.Add(-time.Minute))

	engine := NewEngine(commissions.NewLedger(db), rules.NewService(db), WithBatchSize(3))
	n, err := engine.AutoSettleEligible(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 7, n)

	var pending int64
	require.NoError(t, db.Model(&models.Commission{}).Where("status = ?", models.CommissionPending).Count(&pending).Error)
	require.Zero(t, pending)
}

type flakyLedger struct {
	ids      []int64
	failures map[int64]error
	settled  []int64
}

func (f *flakyLedger) PendingMatured(_ context.Context, _ time.Time, afterID int64, limit int) ([]int64, error) {
	var out []int64
	for _, id := range f.ids {
		if id > afterID && len(out) < limit {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *flakyLedger) Settle(_ context.Context, id int64) (models.Commission, error) {
	if err, ok := f.failures[id]; ok {
		return models.Commission{}, err
	}
	f.settled = append(f.settled, id)
	return models.Commission{ID: id, Status: models.CommissionSettled}, nil
}

type staticRules struct{ rs rules.RuleSet }

func (s staticRules) GetConfig(context.Context) (rules.RuleSet, error) { return s.rs, nil }

func TestAutoSettleContinuesPastFailures(t *testing.T) {
	ledger := &flakyLedger{
		ids: []int64{1, 2, 3, 4},
		failures: map[int64]error{
			2: apperrors.New(apperrors.CodeNotPending, "raced"),
			3: errors.New("connection reset"),
		},
	}
	engine := NewEngine(ledger, staticRules{rs: rules.RuleSet{HoldingPeriodDays: 7}}, WithBatchSize(2))

	n, err := engine.AutoSettleEligible(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []int64{1, 4}, ledger.settled)
}

func TestAutoSettleWithoutRules(t *testing.T) {
	db := testutil.NewDB(t)
	engine := NewEngine(commissions.NewLedger(db), rules.NewService(db))
	_, err := engine.AutoSettleEligible(context.Background(), time.Now())
	require.True(t, apperrors.IsCode(err, apperrors.CodeConfigUnavailable))
}

func TestSchedulerSettlesOnTick(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedRules(t, db, "0.30", "0.10", "0.15", 0, "10")
	testutil.SeedDistributor(t, db, 1)
	c := testutil.SeedCommission(t, db, "o-1", 1, "5", models.CommissionPending, time.Now().Add(-time.Hour))

	ledger := commissions.NewLedger(db)
	scheduler := NewScheduler(NewEngine(ledger, rules.NewService(db)), 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scheduler.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := ledger.GetCommission(context.Background(), c.ID)
		return err == nil && got.Status == models.CommissionSettled
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
