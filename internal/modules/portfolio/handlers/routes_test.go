package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/bucketplan/internal/domain"
	testingpkg "github.com/aristath/bucketplan/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) (*chi.Mux, *testingpkg.MockPositionRepository) {
	t.Helper()
	h := testingpkg.NewHousehold()
	asOf := testingpkg.Date(2025, time.June, 30)
	h.AddSecurity(domain.Security{Ticker: "VTI", AssetClass: "EQUITY"}, domain.BucketGrowth)
	h.AddLot(testingpkg.IBTaxableID, "VTI", asOf.AddDate(-1, 0, 0), "10", "1000")
	h.AddLot(testingpkg.ChaseIRAID, "VTI", asOf.AddDate(-1, 0, 0), "5", "500")
	h.SetCash(testingpkg.IBTaxableID, asOf.AddDate(0, 0, -5), "100")
	h.SetCash(testingpkg.IBTaxableID, asOf.AddDate(0, 0, 5), "900")

	mocks := h.Collaborators()
	handler := NewHandler(mocks.Positions, zerolog.Nop())
	handler.clock = func() time.Time { return asOf }

	router := chi.NewRouter()
	require.NotPanics(t, func() { handler.RegisterRoutes(router) })
	return router, mocks.Positions
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRegisterRoutes(t *testing.T) {
	router, _ := newRouter(t)

	for _, path := range []string{
		"/portfolio/taxpayers",
		"/portfolio/accounts",
		"/portfolio/lots",
		"/portfolio/positions",
		"/portfolio/cash",
	} {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, http.StatusOK, get(router, path).Code)
		})
	}
}

func TestHandleGetLots_FiltersByAccount(t *testing.T) {
	router, _ := newRouter(t)

	rec := get(router, "/portfolio/lots?account_id=3")
	require.Equal(t, http.StatusOK, rec.Code)

	var lots []domain.PositionLot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lots))
	require.Len(t, lots, 1)
	assert.Equal(t, testingpkg.ChaseIRAID, lots[0].AccountID)

	assert.Equal(t, http.StatusBadRequest, get(router, "/portfolio/lots?account_id=abc").Code)
}

func TestHandleGetCash_DefaultsToToday(t *testing.T) {
	router, _ := newRouter(t)

	var balances []domain.CashBalance
	rec := get(router, "/portfolio/cash")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balances))
	require.Len(t, balances, 1)
	assert.Equal(t, "100", balances[0].Amount.String())

	rec = get(router, "/portfolio/cash?as_of=2025-07-31")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balances))
	assert.Len(t, balances, 2)

	assert.Equal(t, http.StatusBadRequest, get(router, "/portfolio/cash?as_of=July").Code)
}

func TestHandlers_RepositoryErrorIs500(t *testing.T) {
	router, positions := newRouter(t)
	positions.SetError(errors.New("database is locked"))

	rec := get(router, "/portfolio/accounts")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "database is locked")
}
