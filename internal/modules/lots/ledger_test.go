package lots

import (
	"testing"
	"time"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var asOf = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func lot(id int64, qty, basis string, daysAgo int) domain.PositionLot {
	return domain.PositionLot{
		ID:              id,
		AccountID:       1,
		Ticker:          "XYZ",
		AcquisitionDate: asOf.AddDate(0, 0, -daysAgo),
		Quantity:        d(qty),
		BasisTotal:      d(basis),
	}
}

func pickIDs(sel Selection) []int64 {
	ids := make([]int64, 0, len(sel.Picks))
	for _, p := range sel.Picks {
		ids = append(ids, p.LotID)
	}
	return ids
}

func TestSelectLotsForSale_TaxMinimizingOrder(t *testing.T) {
	ledger := NewLedger([]domain.PositionLot{
		lot(1, "10", "500", 10),   // ST gain 400
		lot(2, "10", "1200", 30),  // ST loss -300
		lot(3, "10", "800", 400),  // LT gain 100
		lot(4, "10", "900", 500),  // LT flat
		lot(5, "10", "1100", 700), // LT loss -200
		lot(6, "10", "600", 800),  // LT gain 300
	}, zerolog.Nop())

	sel := ledger.SelectLotsForSale(SaleRequest{
		AccountID: 1, Ticker: "XYZ", Quantity: d("60"), Price: d("90"),
		Strategy: domain.LotStrategyTaxMinimizing, AsOf: asOf,
	})

	// price 90 -> market value 900 per lot
	assert.Equal(t, []int64{2, 5, 4, 3, 6, 1}, pickIDs(sel))
	assert.Empty(t, sel.Warnings)
	assert.True(t, sel.Quantity.Equal(d("60")))
	assert.True(t, sel.HasSTGain())
}

func TestSelectLotsForSale_Tags(t *testing.T) {
	ledger := NewLedger([]domain.PositionLot{
		lot(1, "10", "500", 10),
		lot(2, "10", "1200", 30),
		lot(3, "10", "800", 400),
	}, zerolog.Nop())

	sel := ledger.SelectLotsForSale(SaleRequest{
		AccountID: 1, Ticker: "XYZ", Quantity: d("30"), Price: d("90"),
		Strategy: domain.LotStrategyTaxMinimizing, AsOf: asOf, WashStatus: domain.WashPossible,
	})

	require.Len(t, sel.Picks, 3)
	assert.Equal(t, []string{domain.TagLossHarvest, domain.TagWashMitigationRequired}, sel.Picks[0].Tags)
	assert.Equal(t, []string{domain.TagLTPreferred}, sel.Picks[1].Tags)
	assert.Equal(t, []string{domain.TagSTOverrideRequired}, sel.Picks[2].Tags)
	assert.True(t, sel.RealizedST.Equal(d("100")))
	assert.True(t, sel.RealizedLT.Equal(d("100")))
}

func TestSelectLotsForSale_PartialDoesNotMutateLots(t *testing.T) {
	lots := []domain.PositionLot{lot(1, "60", "6600", 400)}
	ledger := NewLedger(lots, zerolog.Nop())

	sel := ledger.SelectLotsForSale(SaleRequest{
		AccountID: 1, Ticker: "XYZ", Quantity: d("25"), Price: d("90"),
		Strategy: domain.LotStrategyTaxMinimizing, AsOf: asOf,
	})

	require.Len(t, sel.Picks, 1)
	p := sel.Picks[0]
	assert.True(t, p.Quantity.Equal(d("25")))
	assert.True(t, p.LotQuantity.Equal(d("60")))
	assert.True(t, p.BasisAllocated.Equal(d("2750")))
	assert.True(t, p.RealizedGain.Equal(d("-500")))

	assert.True(t, ledger.Quantity(1, "XYZ").Equal(d("60")))
	assert.True(t, lots[0].Quantity.Equal(d("60")))
}

func TestSelectLotsForSale_InsufficientLots(t *testing.T) {
	ledger := NewLedger([]domain.PositionLot{
		lot(1, "10", "900", 400),
		lot(2, "0", "0", 300),
	}, zerolog.Nop())

	sel := ledger.SelectLotsForSale(SaleRequest{
		AccountID: 1, Ticker: "XYZ", Quantity: d("15"), Price: d("90"),
		Strategy: domain.LotStrategyTaxMinimizing, AsOf: asOf, TradeKey: "SELL:1:XYZ",
	})

	assert.Equal(t, []int64{1}, pickIDs(sel))
	assert.True(t, sel.Quantity.Equal(d("10")))
	require.Len(t, sel.Warnings, 1)
	assert.Equal(t, domain.WarnInsufficientLots, sel.Warnings[0].Code)
	assert.Equal(t, "SELL:1:XYZ", sel.Warnings[0].TradeKey)
}

func TestSelectLotsForSale_FIFOAndLIFO(t *testing.T) {
	ledger := NewLedger([]domain.PositionLot{
		lot(1, "10", "500", 10),
		lot(2, "10", "1200", 30),
		lot(3, "10", "800", 400),
	}, zerolog.Nop())

	fifo := ledger.SelectLotsForSale(SaleRequest{
		AccountID: 1, Ticker: "XYZ", Quantity: d("15"), Price: d("90"),
		Strategy: domain.LotStrategyFIFO, AsOf: asOf,
	})
	assert.Equal(t, []int64{3, 2}, pickIDs(fifo))
	assert.Contains(t, fifo.Picks[0].Tags, domain.TagFIFO)

	lifo := ledger.SelectLotsForSale(SaleRequest{
		AccountID: 1, Ticker: "XYZ", Quantity: d("15"), Price: d("90"),
		Strategy: domain.LotStrategyLIFO, AsOf: asOf,
	})
	assert.Equal(t, []int64{1, 2}, pickIDs(lifo))
}

func TestSelectLotsForSale_LossTarget(t *testing.T) {
	ledger := NewLedger([]domain.PositionLot{
		lot(1, "60", "6600", 400), // loss 20/share at 90
		lot(2, "40", "2000", 10),  // gain
	}, zerolog.Nop())

	target := d("600")
	sel := ledger.SelectLotsForSale(SaleRequest{
		AccountID: 1, Ticker: "XYZ", Price: d("90"),
		Strategy: domain.LotStrategyTaxMinimizing, AsOf: asOf, LossTarget: &target,
	})

	require.Len(t, sel.Picks, 1)
	assert.Equal(t, int64(1), sel.Picks[0].LotID)
	assert.True(t, sel.Quantity.Equal(d("30")))
	assert.True(t, sel.RealizedGain().Equal(d("-600")))
	assert.True(t, sel.RealizedLT.Equal(d("-600")))
	assert.Empty(t, sel.Warnings)
}

func TestSelectLotsForSale_LossTargetRoundsUpWholeShares(t *testing.T) {
	ledger := NewLedger([]domain.PositionLot{lot(1, "60", "6600", 400)}, zerolog.Nop())

	target := d("610")
	sel := ledger.SelectLotsForSale(SaleRequest{
		AccountID: 1, Ticker: "XYZ", Price: d("90"),
		Strategy: domain.LotStrategyTaxMinimizing, AsOf: asOf, LossTarget: &target,
	})

	assert.True(t, sel.Quantity.Equal(d("31")))
	assert.True(t, sel.RealizedGain().Equal(d("-620")))
}

func TestSelectLotsForSale_LossOnlySkipsGainLots(t *testing.T) {
	ledger := NewLedger([]domain.PositionLot{lot(1, "40", "2000", 10)}, zerolog.Nop())

	sel := ledger.SelectLotsForSale(SaleRequest{
		AccountID: 1, Ticker: "XYZ", Quantity: d("40"), Price: d("90"),
		Strategy: domain.LotStrategyTaxMinimizing, AsOf: asOf, LossOnly: true,
	})

	assert.Empty(t, sel.Picks)
	require.Len(t, sel.Warnings, 1)
	assert.Equal(t, domain.WarnInsufficientLots, sel.Warnings[0].Code)
}

func TestSelectLotsForSale_UsesAdjustedBasis(t *testing.T) {
	adj := d("1000")
	l := lot(1, "10", "800", 400)
	l.AdjustedBasisTotal = &adj
	ledger := NewLedger([]domain.PositionLot{l}, zerolog.Nop())

	sel := ledger.SelectLotsForSale(SaleRequest{
		AccountID: 1, Ticker: "XYZ", Quantity: d("10"), Price: d("90"),
		Strategy: domain.LotStrategyTaxMinimizing, AsOf: asOf,
	})

	assert.True(t, sel.RealizedGain().Equal(d("-100")))
}

func TestCheckPositions(t *testing.T) {
	ledger := NewLedger([]domain.PositionLot{
		lot(1, "60", "6600", 400),
		lot(2, "40", "2000", 10),
	}, zerolog.Nop())

	assert.Empty(t, ledger.CheckPositions([]domain.Position{
		{AccountID: 1, Ticker: "XYZ", Quantity: d("100")},
	}, nil))

	positions := []domain.Position{
		{AccountID: 1, Ticker: "XYZ", Quantity: d("90")},
		{AccountID: 2, Ticker: "ABC", Quantity: d("5")},
	}
	mismatches := ledger.CheckPositions(positions, nil)
	require.Len(t, mismatches, 2)
	assert.Equal(t, int64(1), mismatches[0].AccountID)
	assert.True(t, mismatches[0].LotQuantity.Equal(d("100")))
	assert.Equal(t, "ABC", mismatches[1].Ticker)

	w := mismatches[0].Warning()
	assert.Equal(t, domain.WarnLotPositionMismatch, w.Code)
	assert.Contains(t, w.Message, "account 1 XYZ")

	scoped := ledger.CheckPositions(positions, []int64{2})
	require.Len(t, scoped, 1)
	assert.Equal(t, int64(2), scoped[0].AccountID)

	// no broker snapshot for account 1
	assert.Empty(t, ledger.CheckPositions(nil, nil))
}

func TestMarkWashRisk(t *testing.T) {
	ledger := NewLedger([]domain.PositionLot{lot(1, "60", "6600", 400)}, zerolog.Nop())
	sel := ledger.SelectLotsForSale(SaleRequest{
		AccountID: 1, Ticker: "XYZ", Quantity: d("10"), Price: d("90"),
		Strategy: domain.LotStrategyTaxMinimizing, AsOf: asOf,
	})
	require.NotContains(t, sel.Picks[0].Tags, domain.TagWashMitigationRequired)

	MarkWashRisk(sel.Picks, domain.WashSafe)
	assert.NotContains(t, sel.Picks[0].Tags, domain.TagWashMitigationRequired)

	MarkWashRisk(sel.Picks, domain.WashDefinite)
	assert.Contains(t, sel.Picks[0].Tags, domain.TagWashMitigationRequired)

	MarkWashRisk(sel.Picks, domain.WashDefinite)
	assert.Len(t, sel.Picks[0].Tags, 2)
}

func TestSelectLotsForSale_RespectsConsumed(t *testing.T) {
	ledger := NewLedger([]domain.PositionLot{
		lot(1, "60", "6600", 400),
		lot(2, "40", "2000", 10),
	}, zerolog.Nop())

	sel := ledger.SelectLotsForSale(SaleRequest{
		AccountID: 1, Ticker: "XYZ", Quantity: d("50"), Price: d("90"),
		Strategy: domain.LotStrategyTaxMinimizing, AsOf: asOf,
		Consumed: map[int64]decimal.Decimal{1: d("30")},
	})

	require.Len(t, sel.Picks, 2)
	assert.Equal(t, int64(1), sel.Picks[0].LotID)
	assert.True(t, sel.Picks[0].Quantity.Equal(d("30")))
	assert.True(t, sel.Picks[0].LotQuantity.Equal(d("60")))
	assert.True(t, sel.Picks[0].BasisAllocated.Equal(d("3300")))
	assert.Equal(t, int64(2), sel.Picks[1].LotID)
	assert.True(t, sel.Picks[1].Quantity.Equal(d("20")))
	assert.Empty(t, sel.Warnings)
}

func TestLosses(t *testing.T) {
	ledger := NewLedger([]domain.PositionLot{
		lot(1, "60", "6600", 400),
		lot(2, "40", "2000", 10),
		lot(3, "10", "1000", 20),
	}, zerolog.Nop())

	sum := ledger.Losses(1, "XYZ", d("90"), asOf)
	assert.True(t, sum.Quantity.Equal(d("70")))
	assert.True(t, sum.Loss.Equal(d("-1300")))
	assert.True(t, sum.Basis.Equal(d("7600")))
	assert.True(t, sum.HasST)
	assert.True(t, sum.Ratio().LessThan(decimal.Zero))
}
