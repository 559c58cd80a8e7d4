package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/bucketplan/internal/domain"
	testingpkg "github.com/aristath/bucketplan/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePlan(t *testing.T, id string, createdAt time.Time) domain.Plan {
	t.Helper()
	asOf := testingpkg.Date(2025, time.June, 30)
	outputs := domain.PlanOutputs{
		Trades: []domain.Trade{{
			Key:            "SELL:1:XYZ",
			TaxpayerID:     1,
			AccountID:      1,
			Ticker:         "XYZ",
			Side:           domain.SideSell,
			Bucket:         domain.BucketGrowth,
			Quantity:       testingpkg.D("30"),
			Price:          testingpkg.D("90"),
			EstimatedValue: testingpkg.D("2700.00"),
			LotPicks: []domain.LotPick{{
				LotID: 1, AccountID: 1, Ticker: "XYZ", AcquisitionDate: asOf.AddDate(0, 0, -400),
				HoldingDays: 400, Term: domain.TermLong, LotQuantity: testingpkg.D("60"), Quantity: testingpkg.D("30"),
				BasisAllocated: testingpkg.D("3300.00"), Proceeds: testingpkg.D("2700.00"), RealizedGain: testingpkg.D("-600.00"),
				Tags: []string{domain.TagLossHarvest},
			}},
			WashRisk:     domain.WashSafe,
			RealizedST:   testingpkg.D("0"),
			RealizedLT:   testingpkg.D("-600.00"),
			EstimatedTax: testingpkg.D("-150.00"),
		}},
		LotPicks:    []domain.LotPick{},
		TaxEstimate: domain.TaxEstimate{TotalDelta: testingpkg.D("-150.00")},
		Warnings:    []domain.Warning{{Code: domain.WarnProjectedViolation, Severity: domain.SeverityInfo, Message: "after this plan: B1 above max"}},
		Excluded:    []domain.ExcludedTrade{},
	}
	digest, err := outputs.Digest()
	require.NoError(t, err)
	return domain.Plan{
		ID:        id,
		CreatedAt: createdAt,
		Actor:     "tester",
		Status:    domain.PlanDraft,
		Inputs: domain.PlanInputs{
			Goal:        domain.Goal{Type: domain.GoalHarvestLosses, Amount: testingpkg.D("600"), HarvestMode: domain.HarvestTarget},
			Scope:       domain.ScopeTrust,
			AsOf:        asOf,
			Assumptions: domain.DefaultTaxAssumptions(),
			Options:     domain.DefaultPlannerOptions(),
			Overrides:   []domain.Override{{TradeKey: "SELL:1:XYZ", Reason: "accepted"}},
			Status:      domain.PlanDraft,
			PolicyID:    1,
		},
		Outputs:       outputs,
		OutputsDigest: digest,
	}
}

func stores(t *testing.T) map[string]domain.PlanStore {
	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	t.Cleanup(cleanup)
	return map[string]domain.PlanStore{
		"sqlite": NewPlanRepository(db, zerolog.Nop()),
		"memory": NewMemoryPlanStore(),
	}
}

func TestPlanStore_SaveAndGet(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created := time.Date(2025, 6, 30, 14, 5, 6, 789, time.UTC)
			plan := samplePlan(t, "plan-1", created)

			require.NoError(t, store.Save(ctx, plan))

			got, err := store.Get(ctx, "plan-1")
			require.NoError(t, err)
			assert.Equal(t, plan.ID, got.ID)
			assert.True(t, plan.CreatedAt.Equal(got.CreatedAt))
			assert.Equal(t, plan.Status, got.Status)
			assert.Equal(t, plan.Actor, got.Actor)
			assert.Equal(t, plan.OutputsDigest, got.OutputsDigest)
			assert.Equal(t, plan.Inputs.Overrides, got.Inputs.Overrides)
			require.Len(t, got.Outputs.Trades, 1)
			assert.True(t, got.Outputs.Trades[0].RealizedLT.Equal(plan.Outputs.Trades[0].RealizedLT))
			assert.Equal(t, plan.Outputs.Trades[0].LotPicks[0].Tags, got.Outputs.Trades[0].LotPicks[0].Tags)
		})
	}
}

func TestPlanStore_WriteOnce(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			plan := samplePlan(t, "plan-1", time.Now().UTC())
			require.NoError(t, store.Save(ctx, plan))

			changed := plan
			changed.Actor = "someone else"
			err := store.Save(ctx, changed)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrPlanExists))

			got, err := store.Get(ctx, "plan-1")
			require.NoError(t, err)
			assert.Equal(t, "tester", got.Actor)
		})
	}
}

func TestPlanStore_GetMissing(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "nope")
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrPlanNotFound))
		})
	}
}

func TestPlanStore_ListNewestFirst(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2025, 6, 30, 9, 0, 0, 0, time.UTC)
			for i, id := range []string{"a", "b", "c"} {
				require.NoError(t, store.Save(ctx, samplePlan(t, id, base.Add(time.Duration(i)*time.Minute))))
			}

			all, err := store.List(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "c", all[0].ID)
			assert.Equal(t, "a", all[2].ID)
			assert.Equal(t, domain.GoalHarvestLosses, all[0].Goal)
			assert.Equal(t, 1, all[0].Trades)
			assert.True(t, all[0].TaxDelta.Equal(testingpkg.D("-150.00")))
			assert.Equal(t, "2025-06-30", all[0].AsOf.Format(domain.DateLayout))

			limited, err := store.List(ctx, 2)
			require.NoError(t, err)
			assert.Len(t, limited, 2)
		})
	}
}

func TestPlanRepository_DetectsTampering(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	defer cleanup()
	repo := NewPlanRepository(db, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, samplePlan(t, "plan-1", time.Now().UTC())))

	_, err := db.Conn().Exec(`UPDATE plans SET outputs_json = '{}' WHERE id = 'plan-1'`)
	require.Error(t, err, "plans are write-once")

	got, err := repo.Get(ctx, "plan-1")
	require.NoError(t, err)
	assert.Len(t, got.Outputs.Trades, 1)
}
