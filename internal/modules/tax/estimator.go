// Package tax estimates capital-gains and investment-income tax per taxpayer.
package tax

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Limitations are reported with every estimate
var Limitations = []string{
	"No alternative minimum tax (AMT) modeling",
	"No capital loss carryforwards or phaseouts",
	"No per-security qualified dividend detection; a single global qualified-dividend percentage is applied",
	"Wash-sale loss disallowance is flagged, not applied to basis",
	"Estimates are not CPA-grade filing figures",
}

// TaxDeferredNote explains why a taxpayer has no capital-gains estimate
const TaxDeferredNote = "Tax-deferred taxpayer: realized gains are not taxed; withholding is tracked separately"

// Estimator applies the estimate formula to taxpayer income components
type Estimator struct {
	log zerolog.Logger
}

// NewEstimator creates a tax estimator
func NewEstimator(log zerolog.Logger) *Estimator {
	return &Estimator{log: log.With().Str("component", "tax_estimator").Logger()}
}

// Estimate computes the liability for one component set, rounded to cents:
//
//	ordinary*(ST + interest + nonqualified) + ltcg*(LT + qualified)
//	  + state*(ST + LT + dividends + interest) + niit*max(same base, 0)
//
// NIIT applies only when enabled and never goes negative.
func (e *Estimator) Estimate(c domain.TaxComponents, a domain.TaxAssumptions) decimal.Decimal {
	divs := c.NonQualifiedDivs.Add(c.QualifiedDivs)
	investment := c.STGains.Add(c.LTGains).Add(divs).Add(c.Interest)

	tax := a.OrdinaryRate.Mul(c.STGains.Add(c.Interest).Add(c.NonQualifiedDivs)).
		Add(a.LTCGRate.Mul(c.LTGains.Add(c.QualifiedDivs))).
		Add(a.StateRate.Mul(investment))
	if a.NIITEnabled {
		tax = tax.Add(a.NIITRate.Mul(decimal.Max(investment, decimal.Zero)))
	}
	return tax.Round(2)
}

// TradeTax is the estimated tax attributable to one trade's realized gains
func (e *Estimator) TradeTax(st, lt decimal.Decimal, a domain.TaxAssumptions, taxDeferred bool) decimal.Decimal {
	if taxDeferred {
		return decimal.Zero
	}
	return e.Estimate(domain.TaxComponents{STGains: st, LTGains: lt}, a)
}

// Baseline is a taxpayer's year-to-date realized activity
type Baseline struct {
	Components  domain.TaxComponents
	Withholding decimal.Decimal
	Warnings    []domain.Warning
}

// YearToDate sums realized gains and income for the taxpayer's taxable
// accounts from January 1 of asOf's year through asOf. Withholding is summed
// over every account of the taxpayer.
func (e *Estimator) YearToDate(taxpayer domain.TaxpayerEntity, accounts []domain.Account, txs []domain.Transaction, asOf time.Time, a domain.TaxAssumptions) Baseline {
	end := domain.DateOnly(asOf)
	start := time.Date(end.Year(), 1, 1, 0, 0, 0, 0, time.UTC)

	owned := make(map[int64]domain.Account)
	for _, acct := range accounts {
		if acct.TaxpayerEntityID == taxpayer.ID {
			owned[acct.ID] = acct
		}
	}

	sorted := append([]domain.Transaction(nil), txs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].ID < sorted[j].ID
	})

	b := Baseline{
		Components:  zeroComponents(),
		Withholding: decimal.Zero,
	}
	dividends := decimal.Zero
	for _, tx := range sorted {
		acct, ok := owned[tx.AccountID]
		day := domain.DateOnly(tx.Date)
		if !ok || day.Before(start) || day.After(end) {
			continue
		}
		if tx.Type == domain.TxWithholding {
			b.Withholding = b.Withholding.Add(tx.Amount.Abs())
			continue
		}
		if !acct.IsTaxable() || taxpayer.IsTaxDeferred() {
			continue
		}
		switch tx.Type {
		case domain.TxSell:
			e.addSale(&b, tx)
		case domain.TxDividend:
			dividends = dividends.Add(tx.Amount)
		case domain.TxInterest:
			b.Components.Interest = b.Components.Interest.Add(tx.Amount)
		}
	}

	qualified := dividends.Mul(a.QualifiedDividendPct).Round(2)
	b.Components.QualifiedDivs = qualified
	b.Components.NonQualifiedDivs = dividends.Sub(qualified)
	return b
}

func (e *Estimator) addSale(b *Baseline, tx domain.Transaction) {
	if tx.LotBasisTotal == nil {
		b.Warnings = append(b.Warnings, domain.Warning{
			Code:     domain.WarnMissingSaleBasis,
			Severity: domain.SeverityWarning,
			Message:  fmt.Sprintf("SELL %s on %s (transaction %d) has no linked basis; excluded from realized gains", tx.Ticker, tx.Date.Format(domain.DateLayout), tx.ID),
		})
		return
	}
	gain := tx.Amount.Sub(*tx.LotBasisTotal)

	term := tx.LotTerm
	if term == "" && tx.LotAcquisitionDate != nil {
		term = domain.TermFor(*tx.LotAcquisitionDate, tx.Date)
	}
	if term == "" {
		term = domain.TermShort
		b.Warnings = append(b.Warnings, domain.Warning{
			Code:     domain.WarnUnknownTerm,
			Severity: domain.SeverityWarning,
			Message:  fmt.Sprintf("SELL %s on %s (transaction %d) has no term; treated as short-term", tx.Ticker, tx.Date.Format(domain.DateLayout), tx.ID),
		})
	}
	if term == domain.TermLong {
		b.Components.LTGains = b.Components.LTGains.Add(gain)
	} else {
		b.Components.STGains = b.Components.STGains.Add(gain)
	}
}

// TaxpayerInput is everything needed to estimate one taxpayer
type TaxpayerInput struct {
	Taxpayer     domain.TaxpayerEntity
	Accounts     []domain.Account
	Transactions []domain.Transaction
	PlanST       decimal.Decimal
	PlanLT       decimal.Decimal
}

// EstimateTaxpayer produces baseline, with-plan and delta figures. Tax-deferred
// taxpayers are excluded from the formula entirely.
func (e *Estimator) EstimateTaxpayer(in TaxpayerInput, asOf time.Time, a domain.TaxAssumptions) (domain.TaxpayerTaxEstimate, []domain.Warning) {
	base := e.YearToDate(in.Taxpayer, in.Accounts, in.Transactions, asOf, a)
	out := domain.TaxpayerTaxEstimate{
		TaxpayerID:  in.Taxpayer.ID,
		Name:        in.Taxpayer.Name,
		Type:        in.Taxpayer.Type,
		Withholding: base.Withholding.Round(2),
		Baseline:    domain.TaxLine{Components: zeroComponents(), Amount: decimal.Zero},
		Plan:        domain.TaxLine{Components: zeroComponents(), Amount: decimal.Zero},
		WithPlan:    domain.TaxLine{Components: zeroComponents(), Amount: decimal.Zero},
		Delta:       decimal.Zero,
	}
	if in.Taxpayer.IsTaxDeferred() {
		out.Excluded = true
		out.Note = TaxDeferredNote
		return out, nil
	}

	warnings := base.Warnings
	for i := range warnings {
		warnings[i].TaxpayerID = in.Taxpayer.ID
	}

	planComponents := zeroComponents()
	planComponents.STGains = in.PlanST
	planComponents.LTGains = in.PlanLT

	out.Baseline = domain.TaxLine{Components: base.Components, Amount: e.Estimate(base.Components, a)}
	out.Plan = domain.TaxLine{Components: planComponents, Amount: e.Estimate(planComponents, a)}
	with := base.Components.Add(planComponents)
	out.WithPlan = domain.TaxLine{Components: with, Amount: e.Estimate(with, a)}
	out.Delta = out.WithPlan.Amount.Sub(out.Baseline.Amount)
	net := out.WithPlan.Amount.Sub(out.Withholding)
	out.NetDue = &net

	e.log.Debug().
		Int64("taxpayer_id", in.Taxpayer.ID).
		Str("baseline", out.Baseline.Amount.String()).
		Str("with_plan", out.WithPlan.Amount.String()).
		Msg("Estimated taxpayer tax")

	return out, warnings
}

// Aggregate combines taxpayer estimates into a plan-level estimate
func Aggregate(estimates []domain.TaxpayerTaxEstimate, a domain.TaxAssumptions) domain.TaxEstimate {
	sorted := append([]domain.TaxpayerTaxEstimate(nil), estimates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TaxpayerID < sorted[j].TaxpayerID })
	total := decimal.Zero
	for _, est := range sorted {
		total = total.Add(est.Delta)
	}
	return domain.TaxEstimate{
		Assumptions: a,
		Taxpayers:   sorted,
		TotalDelta:  total,
		Limitations: append([]string(nil), Limitations...),
	}
}

func zeroComponents() domain.TaxComponents {
	return domain.TaxComponents{
		STGains:          decimal.Zero,
		LTGains:          decimal.Zero,
		Interest:         decimal.Zero,
		NonQualifiedDivs: decimal.Zero,
		QualifiedDivs:    decimal.Zero,
	}
}
