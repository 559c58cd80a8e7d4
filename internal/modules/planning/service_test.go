package planning

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/aristath/bucketplan/internal/modules/planning/repository"
	testingpkg "github.com/aristath/bucketplan/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	service *Service
	mocks   testingpkg.Collaborators
	plans   *repository.MemoryPlanStore
}

func newServiceFixture(h *testingpkg.Household) serviceFixture {
	mocks := h.Collaborators()
	plans := repository.NewMemoryPlanStore()
	n := 0
	svc := NewService(ServiceDeps{
		Positions: mocks.Positions,
		Policies:  mocks.Policies,
		History:   mocks.History,
		Prices:    mocks.Prices,
		Plans:     plans,
		Audit:     mocks.Audit,
		Snapshots: mocks.Snapshots,
		Archiver:  mocks.Archiver,
		Defaults:  domain.DefaultPlannerOptions(),
		Clock:     func() time.Time { return asOf.Add(15 * time.Hour) },
		NewID: func() string {
			n++
			return fmt.Sprintf("plan-%d", n)
		},
	}, zerolog.Nop())
	return serviceFixture{service: svc, mocks: mocks, plans: plans}
}

func TestService_GeneratePlanStoresAndAudits(t *testing.T) {
	h, _, _ := testingpkg.LossHarvestHousehold(asOf)
	f := newServiceFixture(h)
	ctx := context.Background()

	plan, err := f.service.GeneratePlan(ctx, GenerateRequest{
		Goal:  harvest("600"),
		Scope: domain.ScopeTrust,
		AsOf:  asOf,
	})
	require.NoError(t, err)

	assert.Equal(t, "plan-1", plan.ID)
	assert.Equal(t, "user", plan.Actor)
	assert.Equal(t, domain.PlanDraft, plan.Status)
	assert.Equal(t, domain.DefaultTaxAssumptions(), plan.Inputs.Assumptions)
	require.Len(t, plan.Outputs.Trades, 1)
	assert.Equal(t, 1, f.mocks.Snapshots.Calls())
	assert.Equal(t, 1, f.mocks.Prices.Calls())

	stored, err := f.service.GetPlan(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, plan.OutputsDigest, stored.OutputsDigest)

	facts := f.mocks.Audit.Facts()
	require.Len(t, facts, 1)
	assert.Equal(t, domain.AuditPlanCreated, facts[0].Action)
	assert.Equal(t, "plan-1", facts[0].EntityID)

	assert.Empty(t, f.mocks.Archiver.Archived(), "drafts are not archived")
}

func TestService_FinalPlanIsArchived(t *testing.T) {
	h, _, _ := testingpkg.LossHarvestHousehold(asOf)
	f := newServiceFixture(h)

	plan, err := f.service.GeneratePlan(context.Background(), GenerateRequest{
		Goal:     harvest("600"),
		Scope:    domain.ScopeTrust,
		AsOf:     asOf,
		Finalize: true,
		Actor:    "trustee",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PlanFinal, plan.Status)
	assert.Equal(t, "trustee", plan.Actor)
	assert.Equal(t, []string{plan.ID}, f.mocks.Archiver.Archived())
}

func TestService_ArchiveFailureDoesNotFailPlan(t *testing.T) {
	h, _, _ := testingpkg.LossHarvestHousehold(asOf)
	f := newServiceFixture(h)
	f.mocks.Archiver.SetError(errors.New("bucket unavailable"))

	_, err := f.service.GeneratePlan(context.Background(), GenerateRequest{
		Goal: harvest("600"), Scope: domain.ScopeTrust, AsOf: asOf, Finalize: true,
	})
	require.NoError(t, err)

	summaries, err := f.service.ListPlans(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}

func TestService_WashHistoryLoadedFromRepository(t *testing.T) {
	h, _, _ := testingpkg.LossHarvestHousehold(asOf)
	h.AddBuy(testingpkg.IBTaxableID, "XYZ", asOf.AddDate(0, 0, -10), "20", "1800")
	f := newServiceFixture(h)

	plan, err := f.service.GeneratePlan(context.Background(), GenerateRequest{
		Goal: harvest("600"), Scope: domain.ScopeTrust, AsOf: asOf,
	})
	require.NoError(t, err)

	require.Len(t, plan.Outputs.Trades, 1)
	assert.Equal(t, domain.WashDefinite, plan.Outputs.Trades[0].WashRisk)
}

func TestService_PartialOptionsKeepWashWindow(t *testing.T) {
	h, _, _ := testingpkg.LossHarvestHousehold(asOf)
	h.AddBuy(testingpkg.IBTaxableID, "XYZ", asOf.AddDate(0, 0, -10), "20", "1800")
	f := newServiceFixture(h)

	plan, err := f.service.GeneratePlan(context.Background(), GenerateRequest{
		Goal:  harvest("600"),
		Scope: domain.ScopeTrust,
		AsOf:  asOf,
		Options: &domain.PlannerOptions{
			LotStrategy:      domain.LotStrategyTaxMinimizing,
			PlaceholderPrice: testingpkg.D("1"),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 30, plan.Inputs.Options.WashWindowDays)
	assert.Equal(t, "250", plan.Inputs.Options.MinTradeValue.String())
	require.Len(t, plan.Outputs.Trades, 1)
	assert.Equal(t, domain.WashDefinite, plan.Outputs.Trades[0].WashRisk)
}

func TestService_ShortWashWindowIsFatal(t *testing.T) {
	h, _, _ := testingpkg.LossHarvestHousehold(asOf)
	f := newServiceFixture(h)

	_, err := f.service.GeneratePlan(context.Background(), GenerateRequest{
		Goal:    harvest("600"),
		Scope:   domain.ScopeTrust,
		AsOf:    asOf,
		Options: &domain.PlannerOptions{WashWindowDays: 10},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidAssumptions))

	summaries, err := f.service.ListPlans(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestService_DefaultsAsOfToToday(t *testing.T) {
	h, _, _ := testingpkg.LossHarvestHousehold(asOf)
	f := newServiceFixture(h)

	plan, err := f.service.GeneratePlan(context.Background(), GenerateRequest{
		Goal: harvest("600"), Scope: domain.ScopeTrust,
	})
	require.NoError(t, err)

	assert.Equal(t, asOf, plan.Inputs.AsOf)
	assert.Equal(t, asOf.Add(15*time.Hour), plan.CreatedAt)
}

func TestService_FatalErrorStoresNothing(t *testing.T) {
	h, _, _ := testingpkg.LossHarvestHousehold(asOf)
	f := newServiceFixture(h)
	bad := domain.DefaultTaxAssumptions()
	bad.StateRate = bad.StateRate.Neg()

	_, err := f.service.GeneratePlan(context.Background(), GenerateRequest{
		Goal: harvest("600"), Scope: domain.ScopeTrust, AsOf: asOf, Assumptions: &bad,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidAssumptions))

	summaries, err := f.service.ListPlans(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, summaries)
	assert.Empty(t, f.mocks.Audit.Facts())
}

func TestService_CollaboratorErrorsAreWrapped(t *testing.T) {
	h, _, _ := testingpkg.LossHarvestHousehold(asOf)
	f := newServiceFixture(h)
	f.mocks.Prices.SetError(errors.New("quote feed down"))

	_, err := f.service.GeneratePlan(context.Background(), GenerateRequest{
		Goal: harvest("600"), Scope: domain.ScopeTrust, AsOf: asOf,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load prices")
	assert.Contains(t, err.Error(), "quote feed down")
}

func TestService_AuditFailureIsReturned(t *testing.T) {
	h, _, _ := testingpkg.LossHarvestHousehold(asOf)
	f := newServiceFixture(h)
	f.mocks.Audit.SetError(errors.New("disk full"))

	_, err := f.service.GeneratePlan(context.Background(), GenerateRequest{
		Goal: harvest("600"), Scope: domain.ScopeTrust, AsOf: asOf,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record audit facts")
}

func TestService_Drift(t *testing.T) {
	h := raiseCashHousehold()
	f := newServiceFixture(h)

	view, err := f.service.Drift(context.Background(), domain.ScopeTrust, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, asOf, view.AsOf)
	require.Len(t, view.Taxpayers, 1)
	assert.True(t, view.Total.TotalValue.Equal(d("10000")))
	assert.Equal(t, int64(testingpkg.TrustID), view.Taxpayers[0].TaxpayerID)
	assert.Equal(t, 1, f.mocks.Snapshots.Calls())
}
