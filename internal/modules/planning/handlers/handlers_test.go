package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/aristath/bucketplan/internal/modules/planning"
	"github.com/aristath/bucketplan/internal/modules/planning/repository"
	testingpkg "github.com/aristath/bucketplan/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var asOf = testingpkg.Date(2025, time.June, 30)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	h, _, _ := testingpkg.LossHarvestHousehold(asOf)
	mocks := h.Collaborators()
	svc := planning.NewService(planning.ServiceDeps{
		Positions: mocks.Positions,
		Policies:  mocks.Policies,
		History:   mocks.History,
		Prices:    mocks.Prices,
		Plans:     repository.NewMemoryPlanStore(),
		Audit:     mocks.Audit,
		Snapshots: mocks.Snapshots,
		Archiver:  mocks.Archiver,
		Defaults:  domain.DefaultPlannerOptions(),
		Clock:     func() time.Time { return asOf },
		NewID:     func() string { return "plan-1" },
	}, zerolog.Nop())

	router := chi.NewRouter()
	NewHandler(svc, zerolog.Nop()).RegisterRoutes(router)
	return router
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

const harvestBody = `{"goal":{"type":"HARVEST_LOSSES","amount":"600","harvest_mode":"TARGET"},"scope":"TRUST","as_of":"2025-06-30"}`

func TestGenerateGetAndList(t *testing.T) {
	router := newRouter(t)

	rec := do(router, http.MethodPost, "/planning/plans", harvestBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var plan domain.Plan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	assert.Equal(t, "plan-1", plan.ID)
	require.Len(t, plan.Outputs.Trades, 1)
	assert.Equal(t, "SELL:1:XYZ", plan.Outputs.Trades[0].Key)

	rec = do(router, http.MethodGet, "/planning/plans/plan-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stored domain.Plan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.Equal(t, plan.OutputsDigest, stored.OutputsDigest)

	rec = do(router, http.MethodGet, "/planning/plans?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summaries []domain.PlanSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].Trades)

	rec = do(router, http.MethodPost, "/planning/plans", harvestBody)
	assert.Equal(t, http.StatusConflict, rec.Code, "plan IDs are write-once")
}

func TestDrift(t *testing.T) {
	router := newRouter(t)

	rec := do(router, http.MethodGet, "/planning/drift?scope=TRUST&as_of=2025-06-30", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var view planning.DriftView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, domain.ScopeTrust, view.Scope)
	require.Len(t, view.Taxpayers, 1)
	assert.Equal(t, testingpkg.TrustID, view.Taxpayers[0].TaxpayerID)
}

func TestErrorStatuses(t *testing.T) {
	router := newRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"malformed body", http.MethodPost, "/planning/plans", `{"goal":`, http.StatusBadRequest},
		{"malformed as_of", http.MethodPost, "/planning/plans", `{"goal":{"type":"REBALANCE"},"scope":"BOTH","as_of":"06/30/2025"}`, http.StatusBadRequest},
		{"invalid goal", http.MethodPost, "/planning/plans", `{"goal":{"type":"RAISE_CASH","amount":"0"},"scope":"BOTH","as_of":"2025-06-30"}`, http.StatusUnprocessableEntity},
		{"no active policy", http.MethodPost, "/planning/plans", `{"goal":{"type":"REBALANCE"},"scope":"BOTH","as_of":"2020-01-01"}`, http.StatusUnprocessableEntity},
		{"unknown scope", http.MethodGet, "/planning/drift?scope=NOBODY", "", http.StatusUnprocessableEntity},
		{"bad drift date", http.MethodGet, "/planning/drift?as_of=today", "", http.StatusBadRequest},
		{"missing plan", http.MethodGet, "/planning/plans/nope", "", http.StatusNotFound},
		{"bad limit", http.MethodGet, "/planning/plans?limit=x", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestValidationFieldsAreReported(t *testing.T) {
	router := newRouter(t)

	rec := do(router, http.MethodPost, "/planning/plans",
		`{"goal":{"type":"REBALANCE"},"scope":"BOTH","as_of":"2025-06-30","assumptions":{"ordinary_rate":"-1"}}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body struct {
		Fields []domain.ValidationError `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Fields)
}

func TestPartialOptionsKeepDefaults(t *testing.T) {
	router := newRouter(t)

	rec := do(router, http.MethodPost, "/planning/plans",
		`{"goal":{"type":"HARVEST_LOSSES","amount":"600","harvest_mode":"TARGET"},"scope":"TRUST","as_of":"2025-06-30","options":{"lot_strategy":"FIFO"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var plan domain.Plan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	opts := plan.Inputs.Options
	assert.Equal(t, domain.LotStrategyFIFO, opts.LotStrategy)
	assert.Equal(t, "1", opts.PlaceholderPrice.String())
	assert.Equal(t, "250", opts.MinTradeValue.String())
	assert.Equal(t, 30, opts.WashWindowDays)
}

func TestPartialAssumptionsKeepDefaults(t *testing.T) {
	router := newRouter(t)

	rec := do(router, http.MethodPost, "/planning/plans",
		`{"goal":{"type":"HARVEST_LOSSES","amount":"600","harvest_mode":"TARGET"},"scope":"TRUST","as_of":"2025-06-30","assumptions":{"ordinary_rate":"0.3"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var plan domain.Plan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	a := plan.Inputs.Assumptions
	defaults := domain.DefaultTaxAssumptions()
	assert.Equal(t, "0.3", a.OrdinaryRate.String())
	assert.True(t, defaults.LTCGRate.Equal(a.LTCGRate))
	assert.True(t, defaults.StateRate.Equal(a.StateRate))
	assert.True(t, defaults.NIITRate.Equal(a.NIITRate))
	assert.True(t, a.NIITEnabled)
}

func TestShortWashWindowIsRejected(t *testing.T) {
	router := newRouter(t)

	rec := do(router, http.MethodPost, "/planning/plans",
		`{"goal":{"type":"HARVEST_LOSSES","amount":"600","harvest_mode":"TARGET"},"scope":"TRUST","as_of":"2025-06-30","options":{"wash_window_days":10}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
}
