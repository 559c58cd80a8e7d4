package di

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/bucketplan/internal/config"
	"github.com/aristath/bucketplan/internal/domain"
	"github.com/aristath/bucketplan/internal/modules/planning"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	defaults := domain.DefaultPlannerOptions()
	return &config.Config{
		DataDir:              t.TempDir(),
		LogLevel:             "info",
		Port:                 8080,
		SeedDefaults:         true,
		PlaceholderPrice:     defaults.PlaceholderPrice,
		MinTradeValue:        defaults.MinTradeValue,
		MaterialityThreshold: defaults.MaterialityThreshold,
		WashWindowDays:       defaults.WashWindowDays,
		LotStrategy:          defaults.LotStrategy,
		PriceCacheTTL:        time.Minute,
		DriftCheckSchedule:   "0 0 6 * * *",
		WALCheckSchedule:     "0 */30 * * * *",
	}
}

func TestWire(t *testing.T) {
	cfg := testConfig(t)
	container, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })

	assert.Len(t, container.Databases(), 2)
	assert.NotNil(t, container.Snapshotter)
	assert.NotNil(t, container.PlanningService)
	assert.NotNil(t, container.DriftMonitor)
	assert.Nil(t, container.PlanArchiver)

	ctx := context.Background()
	taxpayers, err := container.PositionRepo.Taxpayers(ctx)
	require.NoError(t, err)
	assert.Len(t, taxpayers, 2)

	policies, err := container.PolicyRepo.Policies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, "Household Policy", policies[0].Name)
}

func TestWire_SeedingIsIdempotent(t *testing.T) {
	cfg := testConfig(t)

	first, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	accounts, err := second.PositionRepo.Accounts(context.Background())
	require.NoError(t, err)
	assert.Len(t, accounts, 3)
}

func TestWire_InvalidScheduleFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.DriftCheckSchedule = "not a schedule"

	container, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Nil(t, container)
	assert.Contains(t, err.Error(), "register jobs")
}

func TestWire_GeneratesPlanEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	container, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })

	ctx := context.Background()
	price := decimal.NewFromInt(200)
	require.NoError(t, container.SecurityRepo.Upsert(ctx, domain.Security{
		Ticker:       "VTI",
		Name:         "Total Stock Market",
		AssetClass:   "EQUITY",
		ExpenseRatio: decimal.RequireFromString("0.0003"),
		LastPrice:    &price,
	}))
	_, err = container.PositionRepo.AddLot(ctx, domain.PositionLot{
		AccountID:       1,
		Ticker:          "VTI",
		AcquisitionDate: time.Date(2020, time.January, 2, 0, 0, 0, 0, time.UTC),
		Quantity:        decimal.NewFromInt(100),
		BasisTotal:      decimal.NewFromInt(10000),
	})
	require.NoError(t, err)
	require.NoError(t, container.PolicyRepo.Assign(ctx, domain.BucketAssignment{PolicyID: 1, Ticker: "VTI", Bucket: domain.BucketGrowth}))

	plan, err := container.PlanningService.GeneratePlan(ctx, planning.GenerateRequest{
		Goal:  domain.Goal{Type: domain.GoalRaiseCash, Amount: decimal.NewFromInt(5000)},
		Scope: domain.ScopeTrust,
		AsOf:  time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NotEmpty(t, plan.Outputs.Trades)
	assert.Equal(t, "VTI", plan.Outputs.Trades[0].Ticker)
	assert.Equal(t, domain.SideSell, plan.Outputs.Trades[0].Side)

	stored, err := container.PlanningService.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.OutputsDigest, stored.OutputsDigest)

	require.NoError(t, container.DriftMonitor.Run())
	view, ok := container.DriftMonitor.Last()
	require.True(t, ok)
	assert.True(t, view.Total.TotalValue.IsPositive())
}
