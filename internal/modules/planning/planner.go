// Package planning builds tax-aware trade plans from a holdings snapshot.
package planning

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/aristath/bucketplan/internal/modules/lots"
	"github.com/aristath/bucketplan/internal/modules/policy"
	"github.com/aristath/bucketplan/internal/modules/tax"
	"github.com/aristath/bucketplan/internal/modules/washsale"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Request is one generate-plan call
type Request struct {
	Goal        domain.Goal
	Scope       domain.TaxpayerScope
	AsOf        time.Time
	Assumptions domain.TaxAssumptions
	Options     domain.PlannerOptions
	Overrides   domain.OverrideSet
	Finalize    bool
	Actor       string
}

// Status is the plan status the request asks for
func (r Request) Status() domain.PlanStatus {
	if r.Finalize {
		return domain.PlanFinal
	}
	return domain.PlanDraft
}

// Meta is plan metadata kept outside the deterministic outputs
type Meta struct {
	ID        string
	CreatedAt time.Time
}

// Planner runs the planning pipeline over a snapshot. It performs no I/O and
// keeps no state between calls, so concurrent calls need no coordination.
type Planner struct {
	engine    *policy.Engine
	estimator *tax.Estimator
	assembler *Assembler
	log       zerolog.Logger
}

// NewPlanner creates a planner
func NewPlanner(log zerolog.Logger) *Planner {
	return &Planner{
		engine:    policy.NewEngine(log),
		estimator: tax.NewEstimator(log),
		assembler: NewAssembler(log),
		log:       log.With().Str("component", "trade_planner").Logger(),
	}
}

// run holds what every taxpayer pipeline of one call shares
type run struct {
	req        Request
	status     domain.PlanStatus
	policy     domain.BucketPolicy
	resolver   *policy.BucketResolver
	ledger     *lots.Ledger
	detector   *washsale.Detector
	prices     *pricer
	securities map[string]domain.Security
	cash       map[int64]decimal.Decimal
	engine     *policy.Engine
	estimator  *tax.Estimator
	log        zerolog.Logger
}

// validate raises fatal conditions before any candidate is generated
func (p *Planner) validate(snap Snapshot, req Request) (domain.BucketPolicy, scopeView, error) {
	if err := req.Goal.Validate(); err != nil {
		return domain.BucketPolicy{}, scopeView{}, err
	}
	if err := req.Assumptions.Validate(); err != nil {
		return domain.BucketPolicy{}, scopeView{}, err
	}
	if err := req.Options.Validate(); err != nil {
		return domain.BucketPolicy{}, scopeView{}, err
	}
	pol, err := p.engine.ActivePolicy(snap.Policies, req.AsOf)
	if err != nil {
		return domain.BucketPolicy{}, scopeView{}, err
	}
	view, err := newScopeView(snap, req.Scope)
	if err != nil {
		return domain.BucketPolicy{}, scopeView{}, err
	}
	return pol, view, nil
}

func (p *Planner) newRun(snap Snapshot, req Request, pol domain.BucketPolicy) *run {
	resolver := policy.NewBucketResolver(pol, snap.Assignments, snap.Securities)
	securities := make(map[string]domain.Security, len(snap.Securities))
	for _, s := range snap.Securities {
		securities[s.Ticker] = s
	}
	ledger := lots.NewLedger(snap.Lots, p.log)
	detector := washsale.NewDetector(req.Options.WashWindowDays, washsale.Evidence{
		Accounts:     snap.Accounts,
		Securities:   snap.Securities,
		Transactions: snap.Transactions,
		BucketOf:     resolver.BucketOf,
	}, p.log)
	return &run{
		req:        req,
		status:     req.Status(),
		policy:     pol,
		resolver:   resolver,
		ledger:     ledger,
		detector:   detector,
		prices:     newPricer(snap.Prices, req.Options.PlaceholderPrice),
		securities: securities,
		cash:       cashByAccount(snap.Cash, req.AsOf),
		engine:     p.engine,
		estimator:  p.estimator,
		log:        p.log,
	}
}

// Generate produces a Plan and the audit facts its creation implies. Fatal
// conditions return an error and no plan.
func (p *Planner) Generate(snap Snapshot, req Request, meta Meta) (domain.Plan, []domain.AuditFact, error) {
	pol, view, err := p.validate(snap, req)
	if err != nil {
		return domain.Plan{}, nil, err
	}
	r := p.newRun(snap, req, pol)

	var (
		warnings      []domain.Warning
		trades        []domain.Trade
		excluded      []domain.ExcludedTrade
		overrides     []appliedOverride
		taxpayerDrift []domain.TaxpayerDrift
		befores       []policy.Allocation
		afters        []policy.Allocation
		estimates     []domain.TaxpayerTaxEstimate
		totals        = domain.SnapshotTotals{Securities: decimal.Zero, Cash: decimal.Zero, Total: decimal.Zero}
	)

	warnings = append(warnings, r.positionWarnings(snap.Positions, view)...)

	for _, tp := range view.taxpayers {
		tr := r.newTaxpayerRun(tp, view.accounts[tp.ID])
		result := tr.plan()

		trades = append(trades, result.trades...)
		excluded = append(excluded, result.excluded...)
		overrides = append(overrides, result.overrides...)
		warnings = append(warnings, result.warnings...)
		taxpayerDrift = append(taxpayerDrift, domain.TaxpayerDrift{
			TaxpayerID: tp.ID,
			Before:     result.before,
			After:      result.after,
		})
		befores = append(befores, tr.before)
		afters = append(afters, result.working)
		totals.Taxpayers = append(totals.Taxpayers, tr.totals())

		planST, planLT := decimal.Zero, decimal.Zero
		for _, t := range result.trades {
			planST = planST.Add(t.RealizedST)
			planLT = planLT.Add(t.RealizedLT)
		}
		est, taxWarnings := r.estimator.EstimateTaxpayer(tax.TaxpayerInput{
			Taxpayer:     tp,
			Accounts:     view.accounts[tp.ID],
			Transactions: snap.Transactions,
			PlanST:       planST,
			PlanLT:       planLT,
		}, req.AsOf, req.Assumptions)
		estimates = append(estimates, est)
		warnings = append(warnings, taxWarnings...)
	}

	for _, t := range totals.Taxpayers {
		totals.Securities = totals.Securities.Add(t.Securities)
		totals.Cash = totals.Cash.Add(t.Cash)
		totals.Total = totals.Total.Add(t.Total)
	}
	if totals.Total.LessThan(req.Options.MaterialityThreshold) {
		warnings = append(warnings, domain.Warning{
			Code:     domain.WarnPartialDataset,
			Severity: domain.SeverityInfo,
			Message: fmt.Sprintf("scope value %s is below the materiality threshold %s; the dataset may be partial",
				totals.Total.StringFixed(2), req.Options.MaterialityThreshold.StringFixed(2)),
		})
	}
	warnings = append(warnings, r.prices.warnings...)

	scopeBefore := policy.MergeAllocations(befores...)
	scopeAfter := policy.MergeAllocations(afters...)
	drift := domain.PlanDrift{
		Before:    r.engine.Report(r.resolver, scopeBefore),
		After:     r.engine.Report(r.resolver, scopeAfter),
		Taxpayers: taxpayerDrift,
	}

	plan, facts, err := p.assembler.Assemble(AssembleInput{
		Meta:      meta,
		Request:   req,
		PolicyID:  pol.ID,
		Totals:    totals,
		Drift:     drift,
		Trades:    trades,
		Excluded:  excluded,
		Tax:       tax.Aggregate(estimates, req.Assumptions),
		Warnings:  warnings,
		Overrides: overrides,
	})
	if err != nil {
		return domain.Plan{}, nil, err
	}

	p.log.Debug().
		Str("plan_id", plan.ID).
		Str("goal", string(req.Goal.Type)).
		Str("scope", string(req.Scope)).
		Int("trades", len(plan.Outputs.Trades)).
		Int("excluded", len(plan.Outputs.Excluded)).
		Int("warnings", len(plan.Outputs.Warnings)).
		Msg("Generated plan")

	return plan, facts, nil
}

// DriftView is the current drift of a scope without planning any trades
type DriftView struct {
	AsOf      time.Time             `json:"as_of"`
	Scope     domain.TaxpayerScope  `json:"scope"`
	PolicyID  int64                 `json:"policy_id"`
	Total     domain.DriftReport    `json:"total"`
	Taxpayers []TaxpayerDriftReport `json:"taxpayers"`
	Warnings  []domain.Warning      `json:"warnings"`
}

// TaxpayerDriftReport is the drift of one taxpayer in a DriftView
type TaxpayerDriftReport struct {
	TaxpayerID int64              `json:"taxpayer_id"`
	Name       string             `json:"name"`
	Report     domain.DriftReport `json:"report"`
}

// Drift computes current drift for a scope
func (p *Planner) Drift(snap Snapshot, scope domain.TaxpayerScope, asOf time.Time, opts domain.PlannerOptions) (DriftView, error) {
	pol, err := p.engine.ActivePolicy(snap.Policies, asOf)
	if err != nil {
		return DriftView{}, err
	}
	view, err := newScopeView(snap, scope)
	if err != nil {
		return DriftView{}, err
	}
	r := p.newRun(snap, Request{Scope: scope, AsOf: asOf, Options: opts}, pol)

	out := DriftView{AsOf: domain.DateOnly(asOf), Scope: scope, PolicyID: pol.ID}
	var allocs []policy.Allocation
	for _, tp := range view.taxpayers {
		tr := r.newTaxpayerRun(tp, view.accounts[tp.ID])
		allocs = append(allocs, tr.before)
		out.Taxpayers = append(out.Taxpayers, TaxpayerDriftReport{TaxpayerID: tp.ID, Name: tp.Name, Report: tr.beforeReport})
		out.Warnings = append(out.Warnings, tr.warnings...)
	}
	out.Total = p.engine.Report(r.resolver, policy.MergeAllocations(allocs...))
	out.Warnings = append(out.Warnings, r.prices.warnings...)
	out.Warnings = domain.DedupeWarnings(out.Warnings)
	domain.SortWarnings(out.Warnings)
	return out, nil
}

func (r *run) positionWarnings(positions []domain.Position, view scopeView) []domain.Warning {
	var out []domain.Warning
	for _, m := range r.ledger.CheckPositions(positions, view.accountIDs()) {
		w := m.Warning()
		w.TaxpayerID = view.owner[m.AccountID]
		out = append(out, w)
	}
	return out
}

// taxpayerRun is the independent pipeline of one taxpayer entity
type taxpayerRun struct {
	*run
	taxpayer     domain.TaxpayerEntity
	accounts     []domain.Account
	holdings     []policy.Holding
	before       policy.Allocation
	beforeReport domain.DriftReport
	warnings     []domain.Warning
	committed    map[holdingKey]decimal.Decimal
	consumed     map[int64]decimal.Decimal
}

type holdingKey struct {
	accountID int64
	ticker    string
}

func (r *run) newTaxpayerRun(tp domain.TaxpayerEntity, accounts []domain.Account) *taxpayerRun {
	tr := &taxpayerRun{
		run:       r,
		taxpayer:  tp,
		accounts:  accounts,
		committed: make(map[holdingKey]decimal.Decimal),
		consumed:  make(map[int64]decimal.Decimal),
	}
	cash := decimal.Zero
	for _, a := range accounts {
		cash = cash.Add(r.cash[a.ID])
		for _, ticker := range r.ledger.Tickers(a.ID) {
			qty := r.ledger.Quantity(a.ID, ticker)
			price, _ := r.prices.price(ticker)
			tr.holdings = append(tr.holdings, policy.Holding{
				TaxpayerID:  tp.ID,
				AccountID:   a.ID,
				Ticker:      ticker,
				Quantity:    qty,
				Price:       price,
				MarketValue: qty.Mul(price).Round(2),
			})
		}
	}
	result := r.engine.ComputeDrift(r.resolver, tr.holdings, cash)
	tr.before = result.Allocation
	tr.beforeReport = result.Report
	for _, w := range result.Warnings {
		w.TaxpayerID = tp.ID
		tr.warnings = append(tr.warnings, w)
	}
	return tr
}

func (tr *taxpayerRun) totals() domain.TaxpayerTotals {
	securities := decimal.Zero
	lotCount := 0
	for _, h := range tr.holdings {
		securities = securities.Add(h.MarketValue)
		lotCount += len(tr.ledger.Lots(h.AccountID, h.Ticker))
	}
	return domain.TaxpayerTotals{
		TaxpayerID: tr.taxpayer.ID,
		Name:       tr.taxpayer.Name,
		Type:       tr.taxpayer.Type,
		Accounts:   len(tr.accounts),
		Lots:       lotCount,
		Securities: securities,
		Cash:       tr.before.Cash,
		Total:      tr.before.Total,
	}
}

func (tr *taxpayerRun) warn(code string, severity domain.Severity, key, format string, args ...interface{}) {
	tr.warnings = append(tr.warnings, domain.Warning{
		Code:       code,
		Severity:   severity,
		Message:    fmt.Sprintf(format, args...),
		TaxpayerID: tr.taxpayer.ID,
		TradeKey:   key,
	})
}

func (tr *taxpayerRun) warned(code string) bool {
	for _, w := range tr.warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// taxpayerResult is what one taxpayer pipeline contributes to the plan
type taxpayerResult struct {
	trades    []domain.Trade
	excluded  []domain.ExcludedTrade
	overrides []appliedOverride
	warnings  []domain.Warning
	before    domain.DriftReport
	after     domain.DriftReport
	working   policy.Allocation
}

func (tr *taxpayerRun) plan() taxpayerResult {
	strategy := strategies[tr.req.Goal.Type]
	intents := strategy(tr)

	candidates := tr.materialize(intents)
	tr.assessWash(candidates)
	if tr.req.Goal.Type == domain.GoalHarvestLosses {
		tr.flagShortTermLosses(candidates)
	}

	g := tr.gate(candidates)
	for i := range g.trades {
		t := &g.trades[i]
		t.EstimatedTax = tr.estimator.TradeTax(t.RealizedST, t.RealizedLT, tr.req.Assumptions, tr.taxpayer.IsTaxDeferred())
	}
	tr.checkGoalMet(g.trades)
	if len(g.trades) == 0 && len(g.excluded) == 0 && !tr.warned(domain.WarnNothingToPlan) {
		tr.warn(domain.WarnNothingToPlan, domain.SeverityInfo, "", "goal %s needs no trades for %s", tr.req.Goal.Type, tr.taxpayer.Name)
	}

	after := tr.engine.Report(tr.resolver, g.working)
	tr.projectedViolations(after)

	return taxpayerResult{
		trades:    g.trades,
		excluded:  g.excluded,
		overrides: g.overrides,
		warnings:  tr.warnings,
		before:    tr.beforeReport,
		after:     after,
		working:   g.working,
	}
}

// projectedViolations reports violations present after the plan but not before
func (tr *taxpayerRun) projectedViolations(after domain.DriftReport) {
	existing := make(map[string]bool)
	for _, v := range tr.beforeReport.Violations {
		existing[v.Kind+"|"+string(v.Bucket)+"|"+v.Ticker] = true
	}
	for _, v := range after.Violations {
		if existing[v.Kind+"|"+string(v.Bucket)+"|"+v.Ticker] {
			continue
		}
		tr.warn(domain.WarnProjectedViolation, domain.SeverityInfo, "", "after this plan: %s", v.Message)
	}
}

// materialize turns intents into priced trades with lot picks. A second
// intent for the same account and ticker gets a sequenced key so overrides
// and gates address each trade on its own.
func (tr *taxpayerRun) materialize(intents []intent) []domain.Trade {
	var out []domain.Trade
	seen := make(map[string]int)
	for _, in := range intents {
		price, placeholder := tr.prices.price(in.ticker)
		base := domain.TradeKey(in.side, in.accountID, in.ticker)
		seen[base]++
		key := domain.SequencedTradeKey(base, seen[base])
		t := domain.Trade{
			Key:                key,
			TaxpayerID:         tr.taxpayer.ID,
			AccountID:          in.accountID,
			Ticker:             in.ticker,
			Side:               in.side,
			Bucket:             in.bucket,
			Price:              price,
			PriceIsPlaceholder: placeholder,
			Tags:               in.tags,
			Rationale:          in.rationale,
			WashRisk:           domain.WashNotApplicable,
			RealizedST:         decimal.Zero,
			RealizedLT:         decimal.Zero,
			EstimatedTax:       decimal.Zero,
		}

		if in.side == domain.SideBuy {
			qty := in.value.Div(price).Truncate(4)
			if !qty.IsPositive() {
				continue
			}
			t.Quantity = qty
			t.EstimatedValue = qty.Mul(price).Round(2)
			out = append(out, t)
			continue
		}

		sel := tr.ledger.SelectLotsForSale(lots.SaleRequest{
			AccountID:  in.accountID,
			Ticker:     in.ticker,
			Quantity:   in.quantity,
			Price:      price,
			Strategy:   tr.req.Options.LotStrategy,
			AsOf:       tr.req.AsOf,
			LossOnly:   in.lossOnly,
			LossTarget: in.lossTarget,
			TradeKey:   key,
			Consumed:   tr.consumed,
		})
		for _, w := range sel.Warnings {
			w.TaxpayerID = tr.taxpayer.ID
			tr.warnings = append(tr.warnings, w)
		}
		if !sel.Quantity.IsPositive() {
			continue
		}
		for _, pick := range sel.Picks {
			tr.consumed[pick.LotID] = tr.consumed[pick.LotID].Add(pick.Quantity)
		}
		t.Quantity = sel.Quantity
		t.EstimatedValue = sel.Proceeds
		t.LotPicks = sel.Picks
		t.RealizedST = sel.RealizedST
		t.RealizedLT = sel.RealizedLT
		out = append(out, t)
	}
	return out
}

// assessWash classifies every loss sale against history and the buys this
// taxpayer's plan proposes.
func (tr *taxpayerRun) assessWash(trades []domain.Trade) {
	var buys []washsale.ProposedBuy
	for _, t := range trades {
		if t.Side == domain.SideBuy {
			buys = append(buys, washsale.ProposedBuy{
				TaxpayerID: tr.taxpayer.ID,
				AccountID:  t.AccountID,
				Ticker:     t.Ticker,
				Date:       tr.req.AsOf,
				Quantity:   t.Quantity,
			})
		}
	}
	for i := range trades {
		t := &trades[i]
		if !t.IsLossSale() {
			continue
		}
		assessment := tr.detector.AssessWashRisk(washsale.SaleCandidate{
			TaxpayerID:   tr.taxpayer.ID,
			AccountID:    t.AccountID,
			Ticker:       t.Ticker,
			Date:         tr.req.AsOf,
			Quantity:     t.Quantity,
			RealizedGain: t.RealizedGain(),
		}, tr.taxpayer.ID, buys)
		t.WashRisk = assessment.Status
		t.Wash = &assessment
		lots.MarkWashRisk(t.LotPicks, assessment.Status)
	}
}

func (tr *taxpayerRun) flagShortTermLosses(trades []domain.Trade) {
	for _, t := range trades {
		for _, p := range t.LotPicks {
			if p.Term == domain.TermShort && p.RealizedGain.IsNegative() {
				tr.warn(domain.WarnSTLossIncluded, domain.SeverityWarning, t.Key,
					"%s lot %d is short-term; its loss offsets short-term gains first", t.Ticker, p.LotID)
			}
		}
	}
}

// holdingsIn returns resolved holdings of a bucket, largest market value first
func (tr *taxpayerRun) holdingsIn(bucket domain.BucketCode) []policy.Holding {
	var out []policy.Holding
	for _, h := range tr.holdings {
		if b, ok := tr.resolver.BucketOf(h.Ticker); ok && b == bucket {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].MarketValue.Cmp(out[j].MarketValue); c != 0 {
			return c > 0
		}
		if out[i].AccountID != out[j].AccountID {
			return out[i].AccountID < out[j].AccountID
		}
		return out[i].Ticker < out[j].Ticker
	})
	return out
}
