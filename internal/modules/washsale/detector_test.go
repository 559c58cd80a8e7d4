package washsale

import (
	"testing"
	"time"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var saleDate = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

const (
	trustID    = int64(1)
	personalID = int64(2)
	trustAcct  = int64(10)
	iraAcct    = int64(20)
)

func group(id int64) *int64 { return &id }

func evidence(txs ...domain.Transaction) Evidence {
	return Evidence{
		Accounts: []domain.Account{
			{ID: trustAcct, Type: domain.AccountTaxable, TaxpayerEntityID: trustID},
			{ID: iraAcct, Type: domain.AccountTaxDeferred, TaxpayerEntityID: personalID},
		},
		Securities: []domain.Security{
			{Ticker: "XYZ", AssetClass: "EQUITY", SubstituteGroupID: group(1), ExpenseRatio: decimal.RequireFromString("0.0010")},
			{Ticker: "XYZ2", AssetClass: "EQUITY", SubstituteGroupID: group(1), ExpenseRatio: decimal.RequireFromString("0.0005")},
			{Ticker: "VTI", AssetClass: "EQUITY", SubstituteGroupID: group(2), ExpenseRatio: decimal.RequireFromString("0.0003")},
			{Ticker: "SCHB", AssetClass: "EQUITY", SubstituteGroupID: group(3), ExpenseRatio: decimal.RequireFromString("0.0003")},
			{Ticker: "BND", AssetClass: "BOND", SubstituteGroupID: group(4)},
			{Ticker: "NOGRP", AssetClass: "EQUITY"},
		},
		Transactions: txs,
	}
}

func buy(id, account int64, ticker string, offsetDays int, qty int64) domain.Transaction {
	return domain.Transaction{
		ID:        id,
		AccountID: account,
		Date:      saleDate.AddDate(0, 0, offsetDays),
		Type:      domain.TxBuy,
		Ticker:    ticker,
		Quantity:  decimal.NewFromInt(qty),
		Amount:    decimal.NewFromInt(-qty * 90),
	}
}

func lossSale(ticker string) SaleCandidate {
	return SaleCandidate{
		TaxpayerID:   trustID,
		AccountID:    trustAcct,
		Ticker:       ticker,
		Date:         saleDate,
		Quantity:     decimal.NewFromInt(30),
		RealizedGain: decimal.NewFromInt(-600),
	}
}

func TestAssessWashRisk_WindowBoundary(t *testing.T) {
	tests := []struct {
		name   string
		offset int
		want   domain.WashStatus
	}{
		{"30 days after", 30, domain.WashDefinite},
		{"31 days after", 31, domain.WashSafe},
		{"30 days before", -30, domain.WashDefinite},
		{"31 days before", -31, domain.WashSafe},
		{"same day", 0, domain.WashDefinite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := NewDetector(DefaultWindowDays, evidence(buy(1, trustAcct, "XYZ", tt.offset, 20)), zerolog.Nop())
			got := det.AssessWashRisk(lossSale("XYZ"), trustID, nil)
			assert.Equal(t, tt.want, got.Status)
		})
	}
}

func TestAssessWashRisk_NoBuysIsSafe(t *testing.T) {
	det := NewDetector(DefaultWindowDays, evidence(), zerolog.Nop())
	got := det.AssessWashRisk(lossSale("XYZ"), trustID, nil)

	assert.Equal(t, domain.WashSafe, got.Status)
	assert.Empty(t, got.Evidence)
	assert.Empty(t, got.Mitigations)
	assert.Equal(t, saleDate.AddDate(0, 0, -30), got.WindowStart)
	assert.Equal(t, saleDate.AddDate(0, 0, 30), got.WindowEnd)
}

func TestAssessWashRisk_GainSaleNotEvaluated(t *testing.T) {
	det := NewDetector(DefaultWindowDays, evidence(buy(1, trustAcct, "XYZ", -5, 20)), zerolog.Nop())
	sale := lossSale("XYZ")
	sale.RealizedGain = decimal.NewFromInt(100)

	got := det.AssessWashRisk(sale, trustID, nil)
	assert.Equal(t, domain.WashNotApplicable, got.Status)
}

func TestAssessWashRisk_NeverCrossesTaxpayers(t *testing.T) {
	det := NewDetector(DefaultWindowDays, evidence(buy(1, iraAcct, "XYZ", -10, 20)), zerolog.Nop())

	got := det.AssessWashRisk(lossSale("XYZ"), trustID, []ProposedBuy{
		{TaxpayerID: personalID, AccountID: iraAcct, Ticker: "XYZ", Date: saleDate, Quantity: decimal.NewFromInt(5)},
	})
	assert.Equal(t, domain.WashSafe, got.Status)

	iraSale := lossSale("XYZ")
	iraSale.TaxpayerID = personalID
	iraSale.AccountID = iraAcct
	det = NewDetector(DefaultWindowDays, evidence(buy(1, trustAcct, "XYZ", -10, 20)), zerolog.Nop())
	got = det.AssessWashRisk(iraSale, personalID, nil)
	assert.Equal(t, domain.WashSafe, got.Status)
}

func TestAssessWashRisk_DefiniteMitigations(t *testing.T) {
	det := NewDetector(DefaultWindowDays, evidence(buy(7, trustAcct, "XYZ", -10, 20)), zerolog.Nop())
	got := det.AssessWashRisk(lossSale("XYZ"), trustID, nil)

	require.Equal(t, domain.WashDefinite, got.Status)
	require.Len(t, got.Evidence, 1)
	assert.Equal(t, domain.EvidenceExecutedBuy, got.Evidence[0].Source)
	assert.Equal(t, int64(7), got.Evidence[0].TransactionID)

	require.Len(t, got.Mitigations, 3)
	delay := got.Mitigations[0]
	assert.Equal(t, domain.MitigationDelay, delay.Type)
	require.NotNil(t, delay.ResumeDate)
	assert.Equal(t, saleDate.AddDate(0, 0, -10+31), *delay.ResumeDate)

	reduce := got.Mitigations[1]
	assert.Equal(t, domain.MitigationReduce, reduce.Type)
	require.NotNil(t, reduce.SafeQuantity)
	assert.True(t, reduce.SafeQuantity.Equal(decimal.NewFromInt(10)))

	swap := got.Mitigations[2]
	assert.Equal(t, domain.MitigationSwap, swap.Type)
	assert.Equal(t, []string{"SCHB", "VTI"}, swap.Substitutes)
}

func TestAssessWashRisk_SubstituteGroupMatch(t *testing.T) {
	det := NewDetector(DefaultWindowDays, evidence(buy(1, trustAcct, "XYZ2", 5, 10)), zerolog.Nop())
	got := det.AssessWashRisk(lossSale("XYZ"), trustID, nil)
	assert.Equal(t, domain.WashDefinite, got.Status)

	det = NewDetector(DefaultWindowDays, evidence(buy(1, trustAcct, "VTI", 5, 10)), zerolog.Nop())
	got = det.AssessWashRisk(lossSale("XYZ"), trustID, nil)
	assert.Equal(t, domain.WashSafe, got.Status)
}

func TestAssessWashRisk_ProposedBuy(t *testing.T) {
	det := NewDetector(DefaultWindowDays, evidence(), zerolog.Nop())
	got := det.AssessWashRisk(lossSale("XYZ"), trustID, []ProposedBuy{
		{TaxpayerID: trustID, AccountID: trustAcct, Ticker: "XYZ2", Date: saleDate, Quantity: decimal.NewFromInt(40)},
	})

	require.Equal(t, domain.WashDefinite, got.Status)
	assert.Equal(t, domain.EvidenceProposedBuy, got.Evidence[0].Source)
	assert.Equal(t, saleDate.AddDate(0, 0, 31), *got.Mitigations[0].ResumeDate)
	for _, m := range got.Mitigations {
		assert.NotEqual(t, domain.MitigationReduce, m.Type)
	}
}

func TestAssessWashRisk_PossibleWhenMappingUnknown(t *testing.T) {
	det := NewDetector(DefaultWindowDays, evidence(buy(1, trustAcct, "NOGRP", -3, 10)), zerolog.Nop())
	got := det.AssessWashRisk(lossSale("XYZ"), trustID, nil)
	require.Equal(t, domain.WashPossible, got.Status)
	assert.True(t, got.Evidence[0].Unresolved)

	det = NewDetector(DefaultWindowDays, evidence(buy(1, trustAcct, "UNLISTED", -3, 10)), zerolog.Nop())
	got = det.AssessWashRisk(lossSale("XYZ"), trustID, nil)
	assert.Equal(t, domain.WashPossible, got.Status)
}

func TestSubstitutes_RespectsBucket(t *testing.T) {
	ev := evidence()
	ev.BucketOf = func(ticker string) (domain.BucketCode, bool) {
		if ticker == "SCHB" {
			return domain.BucketAlpha, true
		}
		return domain.BucketGrowth, true
	}
	det := NewDetector(DefaultWindowDays, ev, zerolog.Nop())

	assert.Equal(t, []string{"VTI"}, det.Substitutes("XYZ"))
	assert.Nil(t, det.Substitutes("MISSING"))
}
