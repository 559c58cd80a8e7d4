// Package policy computes bucket allocation and drift against a versioned policy.
package policy

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
)

const weightPlaces = 6

var (
	statusEpsilon   = decimal.RequireFromString("0.0025")
	offTargetFactor = decimal.RequireFromString("0.15")
	minTargetFloor  = decimal.RequireFromString("0.01")
)

// Holding is one valued (account, security) position
type Holding struct {
	TaxpayerID  int64
	AccountID   int64
	Ticker      string
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	MarketValue decimal.Decimal
}

// Allocation is market value grouped by bucket and by ticker
type Allocation struct {
	Total      decimal.Decimal
	Cash       decimal.Decimal
	ByBucket   map[domain.BucketCode]decimal.Decimal
	ByTicker   map[string]decimal.Decimal
	Unassigned decimal.Decimal
}

// Weight returns the bucket's share of the total
func (a Allocation) Weight(code domain.BucketCode) decimal.Decimal {
	if !a.Total.IsPositive() {
		return decimal.Zero
	}
	return a.ByBucket[code].DivRound(a.Total, weightPlaces)
}

// Clone copies the allocation so it can be adjusted hypothetically
func (a Allocation) Clone() Allocation {
	out := Allocation{
		Total:      a.Total,
		Cash:       a.Cash,
		Unassigned: a.Unassigned,
		ByBucket:   make(map[domain.BucketCode]decimal.Decimal, len(a.ByBucket)),
		ByTicker:   make(map[string]decimal.Decimal, len(a.ByTicker)),
	}
	for k, v := range a.ByBucket {
		out.ByBucket[k] = v
	}
	for k, v := range a.ByTicker {
		out.ByTicker[k] = v
	}
	return out
}

// Apply moves value between a security and cash. Positive delta buys.
func (a *Allocation) Apply(bucket domain.BucketCode, ticker string, delta decimal.Decimal) {
	a.ByBucket[bucket] = a.ByBucket[bucket].Add(delta)
	a.ByTicker[ticker] = a.ByTicker[ticker].Add(delta)
	a.ByBucket[domain.BucketLiquidity] = a.ByBucket[domain.BucketLiquidity].Sub(delta)
	a.Cash = a.Cash.Sub(delta)
}

// MergeAllocations sums allocations of independent taxpayers
func MergeAllocations(allocs ...Allocation) Allocation {
	out := Allocation{
		Total:      decimal.Zero,
		Cash:       decimal.Zero,
		Unassigned: decimal.Zero,
		ByBucket:   make(map[domain.BucketCode]decimal.Decimal, len(domain.BucketCodes)),
		ByTicker:   make(map[string]decimal.Decimal),
	}
	for _, code := range domain.BucketCodes {
		out.ByBucket[code] = decimal.Zero
	}
	for _, a := range allocs {
		out.Total = out.Total.Add(a.Total)
		out.Cash = out.Cash.Add(a.Cash)
		out.Unassigned = out.Unassigned.Add(a.Unassigned)
		for k, v := range a.ByBucket {
			out.ByBucket[k] = out.ByBucket[k].Add(v)
		}
		for k, v := range a.ByTicker {
			out.ByTicker[k] = out.ByTicker[k].Add(v)
		}
	}
	return out
}

// DriftResult is a drift report plus the warnings raised computing it
type DriftResult struct {
	Report     domain.DriftReport
	Allocation Allocation
	Warnings   []domain.Warning
}

// Engine computes allocation and drift. It holds no state between calls.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a policy engine
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "policy_engine").Logger()}
}

// ActivePolicy selects and validates the policy version in force on asOf
func (e *Engine) ActivePolicy(policies []domain.BucketPolicy, asOf time.Time) (domain.BucketPolicy, error) {
	p, err := domain.ActivePolicy(policies, asOf)
	if err != nil {
		return domain.BucketPolicy{}, err
	}
	if err := p.Validate(); err != nil {
		return domain.BucketPolicy{}, fmt.Errorf("policy %d: %w", p.ID, err)
	}
	return p, nil
}

// Allocate groups holdings and cash by bucket. Cash always counts in B1.
func (e *Engine) Allocate(resolver *BucketResolver, holdings []Holding, cash decimal.Decimal) (Allocation, []domain.Warning) {
	alloc := Allocation{
		Total:      cash,
		Cash:       cash,
		ByBucket:   make(map[domain.BucketCode]decimal.Decimal, len(domain.BucketCodes)),
		ByTicker:   make(map[string]decimal.Decimal),
		Unassigned: decimal.Zero,
	}
	for _, code := range domain.BucketCodes {
		alloc.ByBucket[code] = decimal.Zero
	}
	alloc.ByBucket[domain.BucketLiquidity] = cash

	sorted := append([]Holding(nil), holdings...)
	sortHoldings(sorted)

	var warnings []domain.Warning
	warned := make(map[string]bool)
	for _, h := range sorted {
		alloc.Total = alloc.Total.Add(h.MarketValue)
		alloc.ByTicker[h.Ticker] = alloc.ByTicker[h.Ticker].Add(h.MarketValue)
		bucket, w, ok := resolver.Resolve(h.Ticker)
		if w != nil && !warned[h.Ticker] {
			warned[h.Ticker] = true
			warnings = append(warnings, *w)
		}
		if !ok {
			alloc.Unassigned = alloc.Unassigned.Add(h.MarketValue)
			continue
		}
		alloc.ByBucket[bucket] = alloc.ByBucket[bucket].Add(h.MarketValue)
	}
	return alloc, warnings
}

// ComputeDrift compares the allocation of holdings and cash with the policy bands
func (e *Engine) ComputeDrift(resolver *BucketResolver, holdings []Holding, cash decimal.Decimal) DriftResult {
	alloc, warnings := e.Allocate(resolver, holdings, cash)
	report := e.Report(resolver, alloc)
	return DriftResult{Report: report, Allocation: alloc, Warnings: warnings}
}

// Report renders the drift report for an allocation
func (e *Engine) Report(resolver *BucketResolver, alloc Allocation) domain.DriftReport {
	policy := resolver.Policy()
	report := domain.DriftReport{
		PolicyID:   policy.ID,
		TotalValue: alloc.Total.Round(2),
	}

	drifts := make([]float64, 0, len(policy.Buckets))
	for _, code := range domain.BucketCodes {
		b, ok := policy.Bucket(code)
		if !ok {
			continue
		}
		actual := alloc.Weight(code)
		row := domain.BucketDrift{
			Bucket:      code,
			Name:        b.Name,
			MarketValue: alloc.ByBucket[code].Round(2),
			ActualPct:   actual,
			MinPct:      b.MinPct,
			TargetPct:   b.TargetPct,
			MaxPct:      b.MaxPct,
			Drift:       b.TargetPct.Sub(actual),
		}
		row.Status, row.Reason = BucketStatus(actual, b)
		report.Buckets = append(report.Buckets, row)
		drifts = append(drifts, row.Drift.InexactFloat64())

		if !alloc.Total.IsPositive() {
			continue
		}
		if actual.LessThan(b.MinPct) {
			report.Violations = append(report.Violations, domain.Violation{
				Kind:    domain.ViolationBelowMin,
				Bucket:  code,
				Message: fmt.Sprintf("%s weight %s below min %s", code, pct(actual), pct(b.MinPct)),
			})
		} else if actual.GreaterThan(b.MaxPct) {
			report.Violations = append(report.Violations, domain.Violation{
				Kind:    domain.ViolationAboveMax,
				Bucket:  code,
				Message: fmt.Sprintf("%s weight %s above max %s", code, pct(actual), pct(b.MaxPct)),
			})
		}
	}

	report.Violations = append(report.Violations, e.holdingViolations(resolver, alloc)...)
	if len(drifts) > 0 {
		report.L1 = floats.Norm(drifts, 1)
		report.L2 = floats.Norm(drifts, 2)
	}

	e.log.Debug().
		Int64("policy_id", policy.ID).
		Str("total", report.TotalValue.String()).
		Int("violations", len(report.Violations)).
		Float64("l1", report.L1).
		Msg("Computed drift")

	return report
}

func (e *Engine) holdingViolations(resolver *BucketResolver, alloc Allocation) []domain.Violation {
	policy := resolver.Policy()
	tickers := make([]string, 0, len(alloc.ByTicker))
	for t, v := range alloc.ByTicker {
		if v.IsPositive() {
			tickers = append(tickers, t)
		}
	}
	sort.Strings(tickers)

	var out []domain.Violation
	for _, ticker := range tickers {
		sec, _ := resolver.Security(ticker)
		code, ok := resolver.BucketOf(ticker)
		if !ok {
			continue
		}
		if b, ok := policy.Bucket(code); ok && !b.Allows(sec.AssetClass) {
			out = append(out, domain.Violation{
				Kind:    domain.ViolationDisallowedClass,
				Bucket:  code,
				Ticker:  ticker,
				Message: fmt.Sprintf("%s asset class %s is not allowed in %s", ticker, sec.AssetClass, code),
			})
		}
		if ConcentrationExceeded(policy, sec, alloc.ByTicker[ticker], alloc.Total) {
			out = append(out, domain.Violation{
				Kind:    domain.ViolationSingleConcentration,
				Bucket:  code,
				Ticker:  ticker,
				Message: fmt.Sprintf("%s is %s of the portfolio, above the single-name max %s", ticker, pct(alloc.ByTicker[ticker].DivRound(alloc.Total, weightPlaces)), pct(policy.MaxSingleNamePct)),
			})
		}
	}
	return out
}

// ConcentrationExceeded reports a single-name breach. Cash-like classes are exempt.
func ConcentrationExceeded(policy domain.BucketPolicy, sec domain.Security, value, total decimal.Decimal) bool {
	if !policy.MaxSingleNamePct.IsPositive() || !total.IsPositive() {
		return false
	}
	if sec.AssetClass == "CASH" || sec.AssetClass == "MMF" {
		return false
	}
	return value.DivRound(total, weightPlaces).GreaterThan(policy.MaxSingleNamePct)
}

// BucketStatus is the traffic-light status and reason for one bucket weight
func BucketStatus(actual decimal.Decimal, b domain.Bucket) (string, string) {
	switch {
	case actual.LessThan(b.MinPct):
		return domain.StatusRed, "Below min"
	case actual.GreaterThan(b.MaxPct):
		return domain.StatusRed, "Over max"
	case b.TargetPct.IsPositive() && actual.LessThan(statusEpsilon):
		return domain.StatusRed, "Structural under-allocation"
	}
	tolerance := decimal.Max(statusEpsilon, offTargetFactor.Mul(decimal.Max(b.TargetPct, minTargetFloor)))
	if actual.Sub(b.TargetPct).Abs().GreaterThan(tolerance) {
		return domain.StatusYellow, "Off target"
	}
	return domain.StatusGreen, "On target"
}

// BandChanges returns band violations that a move from before to after
// creates or worsens.
func BandChanges(policy domain.BucketPolicy, before, after Allocation) []domain.Violation {
	var out []domain.Violation
	for _, code := range domain.BucketCodes {
		b, ok := policy.Bucket(code)
		if !ok {
			continue
		}
		wb, wa := before.Weight(code), after.Weight(code)
		if wa.LessThan(b.MinPct) && (!wb.LessThan(b.MinPct) || wa.LessThan(wb)) {
			out = append(out, domain.Violation{
				Kind:    domain.ViolationBelowMin,
				Bucket:  code,
				Message: fmt.Sprintf("%s weight would fall to %s, below min %s", code, pct(wa), pct(b.MinPct)),
			})
		}
		if wa.GreaterThan(b.MaxPct) && (!wb.GreaterThan(b.MaxPct) || wa.GreaterThan(wb)) {
			out = append(out, domain.Violation{
				Kind:    domain.ViolationAboveMax,
				Bucket:  code,
				Message: fmt.Sprintf("%s weight would rise to %s, above max %s", code, pct(wa), pct(b.MaxPct)),
			})
		}
	}
	return out
}

func pct(v decimal.Decimal) string {
	return v.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

func sortHoldings(hs []Holding) {
	sort.SliceStable(hs, func(i, j int) bool {
		if hs[i].AccountID != hs[j].AccountID {
			return hs[i].AccountID < hs[j].AccountID
		}
		return hs[i].Ticker < hs[j].Ticker
	})
}
