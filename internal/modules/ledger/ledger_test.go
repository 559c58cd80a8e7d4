package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/bucketplan/internal/database"
	"github.com/aristath/bucketplan/internal/domain"
	testingpkg "github.com/aristath/bucketplan/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedgerDB(t *testing.T) *database.DB {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, database.NameLedger)
	t.Cleanup(cleanup)
	return db
}

func TestTransactions_AppendAndWindow(t *testing.T) {
	repo := NewTransactionRepository(newLedgerDB(t), zerolog.Nop())
	ctx := context.Background()
	basis := testingpkg.D("900")
	acquired := testingpkg.Date(2024, time.February, 1)

	ids, err := repo.Append(ctx, []domain.Transaction{
		{AccountID: 1, Date: testingpkg.Date(2025, time.June, 20), Type: domain.TxBuy, Ticker: "XYZ", Quantity: testingpkg.D("20"), Amount: testingpkg.D("-1800")},
		{AccountID: 1, Date: testingpkg.Date(2025, time.March, 3), Type: domain.TxSell, Ticker: "ABC", Quantity: testingpkg.D("10"), Amount: testingpkg.D("1200"),
			LotBasisTotal: &basis, LotTerm: domain.TermLong, LotAcquisitionDate: &acquired},
		{AccountID: 3, Date: testingpkg.Date(2025, time.April, 1), Type: domain.TxDividend, Amount: testingpkg.D("40")},
		{AccountID: 1, Date: testingpkg.Date(2024, time.December, 31), Type: domain.TxInterest, Amount: testingpkg.D("5")},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, ids)

	ytd, err := repo.Transactions(ctx, []int64{1}, testingpkg.Date(2025, time.January, 1), testingpkg.Date(2025, time.June, 30))
	require.NoError(t, err)
	require.Len(t, ytd, 2)

	sale := ytd[0]
	assert.Equal(t, domain.TxSell, sale.Type)
	assert.Equal(t, "ABC", sale.Ticker)
	require.NotNil(t, sale.LotBasisTotal)
	assert.True(t, sale.LotBasisTotal.Equal(basis))
	assert.Equal(t, domain.TermLong, sale.LotTerm)
	require.NotNil(t, sale.LotAcquisitionDate)
	assert.Equal(t, acquired, *sale.LotAcquisitionDate)

	buy := ytd[1]
	assert.True(t, buy.Amount.Equal(testingpkg.D("-1800")))
	assert.Nil(t, buy.LotBasisTotal)
	assert.Empty(t, buy.LotTerm)

	all, err := repo.Transactions(ctx, nil, testingpkg.Date(2024, time.January, 1), testingpkg.Date(2025, time.December, 31))
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, domain.TxDividend, all[2].Type)
	assert.Empty(t, all[2].Ticker)
	assert.True(t, all[2].Quantity.IsZero())

	none, err := repo.Transactions(ctx, []int64{}, testingpkg.Date(2024, time.January, 1), testingpkg.Date(2025, time.December, 31))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTransactions_Validation(t *testing.T) {
	db := newLedgerDB(t)
	repo := NewTransactionRepository(db, zerolog.Nop())
	ctx := context.Background()
	day := testingpkg.Date(2025, time.June, 1)

	_, err := repo.Append(ctx, []domain.Transaction{{AccountID: 1, Date: day, Type: "GIFT", Amount: testingpkg.D("1")}})
	assert.Error(t, err)
	_, err = repo.Append(ctx, []domain.Transaction{{AccountID: 1, Date: day, Type: domain.TxBuy, Amount: testingpkg.D("-1")}})
	assert.Error(t, err)
	_, err = repo.Append(ctx, []domain.Transaction{{AccountID: 1, Date: day, Type: domain.TxSell, Ticker: "X", Amount: testingpkg.D("1"), LotTerm: "MT"}})
	assert.Error(t, err)

	_, err = repo.Append(ctx, []domain.Transaction{{AccountID: 1, Date: day, Type: domain.TxFee, Amount: testingpkg.D("-2")}})
	require.NoError(t, err)
	_, err = db.Conn().Exec(`UPDATE transactions SET amount = '0'`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")
}

func TestAudit_RecordAndList(t *testing.T) {
	repo := NewAuditRepository(newLedgerDB(t), zerolog.Nop())
	ctx := context.Background()
	at := time.Date(2025, time.June, 30, 15, 4, 5, 0, time.UTC)

	require.NoError(t, repo.Record(ctx, nil))
	require.NoError(t, repo.Record(ctx, []domain.AuditFact{
		{At: at, Actor: "trustee", Action: domain.AuditPlanCreated, Entity: "plan", EntityID: "p1", New: map[string]string{"status": "FINAL"}},
		{At: at, Actor: "trustee", Action: domain.AuditOverrideApplied, Entity: "plan_trade", EntityID: "p1/SELL:1:XYZ", New: map[string]string{"kind": "WASH_SALE"}, Note: "accepted"},
	}))

	all, err := repo.List(ctx, "", "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, at, all[0].At)
	assert.Equal(t, "FINAL", all[0].New["status"])
	assert.Nil(t, all[0].Old)
	assert.Empty(t, all[0].Note)
	assert.Equal(t, "accepted", all[1].Note)

	overrides, err := repo.List(ctx, "plan_trade", "", 0)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, "p1/SELL:1:XYZ", overrides[0].EntityID)

	limited, err := repo.List(ctx, "", "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
