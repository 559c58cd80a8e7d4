package planning

import (
	"fmt"
	"strings"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/aristath/bucketplan/internal/modules/policy"
	"github.com/shopspring/decimal"
)

// Override kinds recorded in audit facts
const (
	overridePolicy = "POLICY"
	overrideSTGain = "ST_GAIN"
	overrideWash   = "WASH_SALE"
)

var shortfallTolerance = decimal.NewFromInt(1)

// appliedOverride is an override the gates honored
type appliedOverride struct {
	TradeKey   string
	TaxpayerID int64
	Kind       string
	Reason     string
	Detail     string
}

type gateResult struct {
	trades    []domain.Trade
	excluded  []domain.ExcludedTrade
	overrides []appliedOverride
	working   policy.Allocation
}

// gate applies the policy, short-term gain and wash-sale gates in trade
// order against a running allocation. Excluded trades do not move the
// allocation.
func (tr *taxpayerRun) gate(candidates []domain.Trade) gateResult {
	res := gateResult{working: tr.before.Clone()}
	for _, t := range candidates {
		delta := t.EstimatedValue
		if t.Side == domain.SideSell {
			delta = delta.Neg()
		}
		after := res.working.Clone()
		after.Apply(t.Bucket, t.Ticker, delta)

		reason, overridden := tr.req.Overrides.Reason(t.Key)

		if violations := tr.violations(t, res.working, after); len(violations) > 0 {
			detail := joinViolations(violations)
			if !overridden {
				tr.warn(domain.WarnPolicyViolationExcluded, domain.SeverityHigh, t.Key,
					"%s %s excluded: %s; supply an override reason to include it", t.Side, t.Ticker, detail)
				res.excluded = append(res.excluded, domain.ExcludedTrade{Trade: t, Code: domain.WarnPolicyViolationExcluded, Reason: detail})
				continue
			}
			tr.warn(domain.WarnPolicyOverrideApplied, domain.SeverityHigh, t.Key,
				"%s %s included by override (%s): %s", t.Side, t.Ticker, reason, detail)
			res.overrides = append(res.overrides, appliedOverride{t.Key, tr.taxpayer.ID, overridePolicy, reason, detail})
			t.OverrideReason = reason
		}

		if hasSTGain(t) {
			detail := fmt.Sprintf("realizes short-term gain %s", t.RealizedST.StringFixed(2))
			switch {
			case overridden:
				tr.warn(domain.WarnSTGainOverrideApplied, domain.SeverityHigh, t.Key,
					"%s %s %s; included by override (%s)", t.Side, t.Ticker, detail, reason)
				res.overrides = append(res.overrides, appliedOverride{t.Key, tr.taxpayer.ID, overrideSTGain, reason, detail})
				t.OverrideReason = reason
			case tr.status == domain.PlanFinal:
				tr.warn(domain.WarnSTGainOverrideRequired, domain.SeverityHigh, t.Key,
					"%s %s %s; excluded from the final plan without an override reason", t.Side, t.Ticker, detail)
				res.excluded = append(res.excluded, domain.ExcludedTrade{Trade: t, Code: domain.WarnSTGainOverrideRequired, Reason: detail})
				continue
			default:
				tr.warn(domain.WarnSTGainOverrideRequired, domain.SeverityHigh, t.Key,
					"%s %s %s; finalizing requires an override reason", t.Side, t.Ticker, detail)
				t.RequiresOverride = true
			}
		}

		switch t.WashRisk {
		case domain.WashDefinite:
			detail := washDetail(t)
			switch {
			case overridden:
				tr.warn(domain.WarnWashOverrideApplied, domain.SeverityHigh, t.Key,
					"%s %s: %s; included by override (%s)", t.Side, t.Ticker, detail, reason)
				res.overrides = append(res.overrides, appliedOverride{t.Key, tr.taxpayer.ID, overrideWash, reason, detail})
				t.OverrideReason = reason
			case tr.status == domain.PlanFinal:
				tr.warn(domain.WarnWashSaleDefinite, domain.SeverityHigh, t.Key,
					"%s %s: %s; excluded from the final plan without an override reason", t.Side, t.Ticker, detail)
				res.excluded = append(res.excluded, domain.ExcludedTrade{Trade: t, Code: domain.WarnWashSaleDefinite, Reason: detail})
				continue
			default:
				tr.warn(domain.WarnWashSaleDefinite, domain.SeverityHigh, t.Key,
					"%s %s: %s; see mitigations, finalizing requires an override reason", t.Side, t.Ticker, detail)
				t.RequiresOverride = true
			}
		case domain.WashPossible:
			tr.warn(domain.WarnWashSalePossible, domain.SeverityWarning, t.Key,
				"%s %s: %s", t.Side, t.Ticker, washDetail(t))
		}

		res.trades = append(res.trades, t)
		res.working = after
	}
	return res
}

// violations lists what a trade would create or worsen. Band checks cover
// the traded bucket and, for buys, the liquidity bucket funding them. Sale
// proceeds lifting the liquidity bucket over its max are never gated.
func (tr *taxpayerRun) violations(t domain.Trade, before, after policy.Allocation) []domain.Violation {
	relevant := map[domain.BucketCode]bool{t.Bucket: true}
	if t.Side == domain.SideBuy {
		relevant[domain.BucketLiquidity] = true
	}
	var out []domain.Violation
	for _, v := range policy.BandChanges(tr.policy, before, after) {
		if relevant[v.Bucket] {
			out = append(out, v)
		}
	}
	if t.Side != domain.SideBuy {
		return out
	}

	sec := tr.securities[t.Ticker]
	if b, ok := tr.policy.Bucket(t.Bucket); ok && !b.Allows(sec.AssetClass) {
		out = append(out, domain.Violation{
			Kind:    domain.ViolationDisallowedClass,
			Bucket:  t.Bucket,
			Ticker:  t.Ticker,
			Message: fmt.Sprintf("%s asset class %s is not allowed in %s", t.Ticker, sec.AssetClass, t.Bucket),
		})
	}
	if policy.ConcentrationExceeded(tr.policy, sec, after.ByTicker[t.Ticker], after.Total) {
		out = append(out, domain.Violation{
			Kind:    domain.ViolationSingleConcentration,
			Bucket:  t.Bucket,
			Ticker:  t.Ticker,
			Message: fmt.Sprintf("%s would exceed the single-name max %s", t.Ticker, tr.policy.MaxSingleNamePct.String()),
		})
	}
	return out
}

// checkGoalMet reports goals the included trades fall short of
func (tr *taxpayerRun) checkGoalMet(trades []domain.Trade) {
	goal := tr.req.Goal
	switch {
	case goal.Type == domain.GoalRaiseCash:
		raised := decimal.Zero
		for _, t := range trades {
			if t.Side == domain.SideSell {
				raised = raised.Add(t.EstimatedValue)
			}
		}
		if goal.Amount.Sub(raised).GreaterThan(shortfallTolerance) {
			tr.warn(domain.WarnGoalShortfall, domain.SeverityHigh, "",
				"raised %s of the %s requested for %s", raised.StringFixed(2), goal.Amount.StringFixed(2), tr.taxpayer.Name)
		}
	case goal.Type == domain.GoalHarvestLosses && !goal.Maximize() && !tr.taxpayer.IsTaxDeferred():
		harvested := decimal.Zero
		for _, t := range trades {
			harvested = harvested.Sub(t.RealizedGain())
		}
		if goal.Amount.Sub(harvested).GreaterThan(shortfallTolerance) {
			tr.warn(domain.WarnGoalShortfall, domain.SeverityWarning, "",
				"harvested %s of the %s loss target for %s", harvested.StringFixed(2), goal.Amount.StringFixed(2), tr.taxpayer.Name)
		}
	}
}

func hasSTGain(t domain.Trade) bool {
	for _, p := range t.LotPicks {
		if p.HasTag(domain.TagSTOverrideRequired) {
			return true
		}
	}
	return false
}

func washDetail(t domain.Trade) string {
	if t.Wash == nil {
		return string(t.WashRisk) + " wash-sale risk"
	}
	var sources []string
	for _, ev := range t.Wash.Evidence {
		sources = append(sources, fmt.Sprintf("%s %s %s on %s", ev.Source, ev.Quantity.String(), ev.Ticker, ev.Date.Format(domain.DateLayout)))
	}
	if len(sources) == 0 {
		return string(t.WashRisk) + " wash-sale risk"
	}
	return fmt.Sprintf("%s wash-sale risk (%s)", t.WashRisk, strings.Join(sources, "; "))
}

func joinViolations(vs []domain.Violation) string {
	msgs := make([]string, 0, len(vs))
	for _, v := range vs {
		msgs = append(msgs, v.Message)
	}
	return strings.Join(msgs, "; ")
}
