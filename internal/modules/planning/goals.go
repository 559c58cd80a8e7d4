package planning

import (
	"sort"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/aristath/bucketplan/internal/modules/policy"
	"github.com/aristath/bucketplan/internal/modules/washsale"
	"github.com/shopspring/decimal"
)

// Trade tags naming the goal that produced a trade
const (
	tagRebalance   = "rebalance"
	tagRaiseCash   = "raise-cash"
	tagReduceAlpha = "reduce-alpha"
	tagHarvest     = "harvest"
	tagBelowMin    = "below-policy-min"
)

// intent is a sized trade request before pricing and lot selection
type intent struct {
	side       domain.TradeSide
	accountID  int64
	ticker     string
	bucket     domain.BucketCode
	value      decimal.Decimal
	quantity   decimal.Decimal
	lossOnly   bool
	lossTarget *decimal.Decimal
	rationale  string
	tags       []string
}

type strategy func(tr *taxpayerRun) []intent

// strategies dispatches goals. Each strategy reads the taxpayer's current
// allocation and returns intents in execution order, sells first.
var strategies = map[domain.GoalType]strategy{
	domain.GoalRebalance:     planRebalance,
	domain.GoalRaiseCash:     planRaiseCash,
	domain.GoalReduceAlpha:   planReduceAlpha,
	domain.GoalHarvestLosses: planHarvestLosses,
}

// sellFromBucket sells up to amount from a bucket, largest holdings first.
// Holdings already committed by earlier intents only contribute what is left.
func (tr *taxpayerRun) sellFromBucket(bucket domain.BucketCode, amount decimal.Decimal, rationale string, tags ...string) ([]intent, decimal.Decimal) {
	var out []intent
	raised := decimal.Zero
	remaining := amount
	for _, h := range tr.holdingsIn(bucket) {
		if !remaining.IsPositive() || remaining.LessThan(tr.req.Options.MinTradeValue) {
			break
		}
		k := holdingKey{h.AccountID, h.Ticker}
		left := h.MarketValue.Sub(tr.committed[k])
		if !left.IsPositive() {
			continue
		}
		take := decimal.Min(left, remaining)
		if take.LessThan(tr.req.Options.MinTradeValue) {
			continue
		}

		qty := h.Quantity.Sub(tr.committedQuantity(k, h))
		if take.LessThan(left) {
			qty = decimal.Min(qty, take.DivRound(h.Price, 4))
		}
		if !qty.IsPositive() {
			continue
		}
		tr.committed[k] = tr.committed[k].Add(take)
		out = append(out, intent{
			side:      domain.SideSell,
			accountID: h.AccountID,
			ticker:    h.Ticker,
			bucket:    bucket,
			value:     take,
			quantity:  qty,
			rationale: rationale,
			tags:      append([]string(nil), tags...),
		})
		raised = raised.Add(take)
		remaining = remaining.Sub(take)
	}
	return out, raised
}

func (tr *taxpayerRun) committedQuantity(k holdingKey, h policy.Holding) decimal.Decimal {
	if !h.Price.IsPositive() {
		return decimal.Zero
	}
	used := tr.committed[k]
	if used.GreaterThanOrEqual(h.MarketValue) {
		return h.Quantity
	}
	return used.DivRound(h.Price, 4)
}

// excessAboveTarget is how far a bucket's value exceeds its target share
func (tr *taxpayerRun) excess(code domain.BucketCode, pct decimal.Decimal) decimal.Decimal {
	return tr.before.ByBucket[code].Sub(pct.Mul(tr.before.Total))
}

func planRebalance(tr *taxpayerRun) []intent {
	var sells []intent
	proceeds := make(map[int64]decimal.Decimal)
	sold := decimal.Zero

	for _, code := range domain.BucketCodes[1:] {
		b, ok := tr.policy.Bucket(code)
		if !ok || !tr.before.Weight(code).GreaterThan(b.MaxPct) {
			continue
		}
		ins, raised := tr.sellFromBucket(code, tr.excess(code, b.TargetPct),
			"Sell "+string(code)+" above policy max down to target", tagRebalance)
		sells = append(sells, ins...)
		sold = sold.Add(raised)
		for _, in := range ins {
			proceeds[in.accountID] = proceeds[in.accountID].Add(in.value)
		}
	}

	type shortfall struct {
		code domain.BucketCode
		need decimal.Decimal
	}
	var needs []shortfall
	for _, code := range domain.BucketCodes[1:] {
		b, ok := tr.policy.Bucket(code)
		if !ok || !tr.before.Weight(code).LessThan(b.MinPct) {
			continue
		}
		needs = append(needs, shortfall{code, b.TargetPct.Mul(tr.before.Total).Sub(tr.before.ByBucket[code])})
	}
	sort.SliceStable(needs, func(i, j int) bool {
		if c := needs[i].need.Cmp(needs[j].need); c != 0 {
			return c > 0
		}
		return needs[i].code < needs[j].code
	})

	// spend cash down to the B1 minimum at most
	b1, _ := tr.policy.Bucket(domain.BucketLiquidity)
	liquidityAfter := tr.before.ByBucket[domain.BucketLiquidity].Add(sold)
	spendable := liquidityAfter.Sub(b1.MinPct.Mul(tr.before.Total))
	spendable = decimal.Min(spendable, tr.before.Cash.Add(sold))
	if spendable.IsNegative() {
		spendable = decimal.Zero
	}

	accountCash := make(map[int64]decimal.Decimal)
	for _, a := range tr.accounts {
		accountCash[a.ID] = tr.cash[a.ID].Add(proceeds[a.ID])
	}

	var buys []intent
	for _, n := range needs {
		ticker, ok := tr.buyTicker(n.code)
		if !ok {
			tr.warn(domain.WarnNoBuyCandidate, domain.SeverityWarning, "",
				"no security is assigned to %s with an allowed asset class; %s shortfall left unfunded", n.code, n.need.StringFixed(2))
			continue
		}
		value := decimal.Min(n.need, spendable)
		if value.LessThan(n.need) {
			tr.warn(domain.WarnBuyLimitedByCash, domain.SeverityWarning, "",
				"%s needs %s to reach target but only %s cash is available", n.code, n.need.StringFixed(2), value.StringFixed(2))
		}
		for _, acct := range tr.accountsByCash(accountCash) {
			if value.LessThan(tr.req.Options.MinTradeValue) {
				break
			}
			chunk := decimal.Min(value, accountCash[acct])
			if chunk.LessThan(tr.req.Options.MinTradeValue) {
				continue
			}
			buys = append(buys, intent{
				side:      domain.SideBuy,
				accountID: acct,
				ticker:    ticker,
				bucket:    n.code,
				value:     chunk,
				rationale: "Buy " + string(n.code) + " below policy min up to target",
				tags:      []string{tagRebalance},
			})
			accountCash[acct] = accountCash[acct].Sub(chunk)
			value = value.Sub(chunk)
			spendable = spendable.Sub(chunk)
		}
	}
	return append(sells, buys...)
}

// accountsByCash orders accounts by available cash, largest first, ties by ID
func (tr *taxpayerRun) accountsByCash(cash map[int64]decimal.Decimal) []int64 {
	ids := make([]int64, 0, len(tr.accounts))
	for _, a := range tr.accounts {
		if cash[a.ID].IsPositive() {
			ids = append(ids, a.ID)
		}
	}
	sort.SliceStable(ids, func(i, j int) bool {
		if c := cash[ids[i]].Cmp(cash[ids[j]]); c != 0 {
			return c > 0
		}
		return ids[i] < ids[j]
	})
	return ids
}

// buyTicker picks the cheapest (expense ratio, then ticker) security assigned
// to the bucket with an allowed asset class, falling back to any security
// with an allowed asset class.
func (tr *taxpayerRun) buyTicker(code domain.BucketCode) (string, bool) {
	b, ok := tr.policy.Bucket(code)
	if !ok {
		return "", false
	}
	var assigned, allowed []domain.Security
	for _, s := range tr.securities {
		if !b.Allows(s.AssetClass) {
			continue
		}
		allowed = append(allowed, s)
		if bc, ok := tr.resolver.BucketOf(s.Ticker); ok && bc == code {
			assigned = append(assigned, s)
		}
	}
	pool := assigned
	if len(pool) == 0 {
		pool = allowed
	}
	if len(pool) == 0 {
		return "", false
	}
	sort.Slice(pool, func(i, j int) bool {
		if c := pool[i].ExpenseRatio.Cmp(pool[j].ExpenseRatio); c != 0 {
			return c < 0
		}
		return pool[i].Ticker < pool[j].Ticker
	})
	return pool[0].Ticker, true
}

func planRaiseCash(tr *taxpayerRun) []intent {
	remaining := tr.req.Goal.Amount
	total := tr.before.Total
	safe := make(map[domain.BucketCode]decimal.Decimal)
	var order []domain.BucketCode
	add := func(code domain.BucketCode, amt decimal.Decimal) {
		if _, seen := safe[code]; !seen {
			order = append(order, code)
		}
		safe[code] = safe[code].Add(amt)
		remaining = remaining.Sub(amt)
	}

	type room struct {
		code domain.BucketCode
		amt  decimal.Decimal
	}
	rooms := func(floor func(domain.Bucket) decimal.Decimal) []room {
		var out []room
		for _, code := range domain.BucketCodes[1:] {
			b, ok := tr.policy.Bucket(code)
			if !ok {
				continue
			}
			r := tr.before.ByBucket[code].Sub(safe[code]).Sub(floor(b).Mul(total))
			if r.IsPositive() {
				out = append(out, room{code, r})
			}
		}
		sort.SliceStable(out, func(i, j int) bool {
			if c := out[i].amt.Cmp(out[j].amt); c != 0 {
				return c > 0
			}
			return out[i].code < out[j].code
		})
		return out
	}

	// furthest above target first, then down to each bucket's minimum
	for _, r := range rooms(func(b domain.Bucket) decimal.Decimal { return b.TargetPct }) {
		if remaining.IsPositive() {
			add(r.code, decimal.Min(r.amt, remaining))
		}
	}
	for _, r := range rooms(func(b domain.Bucket) decimal.Decimal { return b.MinPct }) {
		if remaining.IsPositive() {
			add(r.code, decimal.Min(r.amt, remaining))
		}
	}

	var out []intent
	raised := decimal.Zero
	for _, code := range order {
		ins, got := tr.sellFromBucket(code, safe[code], "Raise cash from "+string(code)+" within policy bands", tagRaiseCash)
		out = append(out, ins...)
		raised = raised.Add(got)
	}

	// anything still missing breaches a minimum and must pass the policy gate
	short := tr.req.Goal.Amount.Sub(raised)
	if short.IsPositive() {
		for _, r := range rooms(func(domain.Bucket) decimal.Decimal { return decimal.Zero }) {
			if !short.IsPositive() {
				break
			}
			ins, got := tr.sellFromBucket(r.code, short, "Raise remaining cash from "+string(r.code)+" below policy min", tagRaiseCash, tagBelowMin)
			out = append(out, ins...)
			short = short.Sub(got)
		}
	}
	return out
}

func planReduceAlpha(tr *taxpayerRun) []intent {
	b, ok := tr.policy.Bucket(domain.BucketAlpha)
	if !ok || !tr.before.Weight(domain.BucketAlpha).GreaterThan(b.MaxPct) {
		return nil
	}
	out, _ := tr.sellFromBucket(domain.BucketAlpha, tr.excess(domain.BucketAlpha, b.MaxPct),
		"Reduce "+string(domain.BucketAlpha)+" to policy max", tagReduceAlpha)
	return out
}

type harvestCandidate struct {
	accountID int64
	ticker    string
	bucket    domain.BucketCode
	loss      decimal.Decimal
	quantity  decimal.Decimal
	ratio     decimal.Decimal
	wash      domain.WashStatus
}

func planHarvestLosses(tr *taxpayerRun) []intent {
	if tr.taxpayer.IsTaxDeferred() {
		tr.warn(domain.WarnNothingToPlan, domain.SeverityInfo, "", "%s is tax-deferred; losses are not harvested", tr.taxpayer.Name)
		return nil
	}

	var candidates []harvestCandidate
	for _, a := range tr.accounts {
		if !a.IsTaxable() {
			continue
		}
		for _, ticker := range tr.ledger.Tickers(a.ID) {
			bucket, ok := tr.resolver.BucketOf(ticker)
			if !ok {
				continue
			}
			price, _ := tr.prices.price(ticker)
			sum := tr.ledger.Losses(a.ID, ticker, price, tr.req.AsOf)
			if !sum.Loss.IsNegative() {
				continue
			}
			assessment := tr.detector.AssessWashRisk(washsale.SaleCandidate{
				TaxpayerID:   tr.taxpayer.ID,
				AccountID:    a.ID,
				Ticker:       ticker,
				Date:         tr.req.AsOf,
				Quantity:     sum.Quantity,
				RealizedGain: sum.Loss,
			}, tr.taxpayer.ID, nil)
			candidates = append(candidates, harvestCandidate{
				accountID: a.ID,
				ticker:    ticker,
				bucket:    bucket,
				loss:      sum.Loss.Neg(),
				quantity:  sum.Quantity,
				ratio:     sum.Ratio(),
				wash:      assessment.Status,
			})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.wash.Rank() != b.wash.Rank() {
			return a.wash.Rank() < b.wash.Rank()
		}
		if c := a.ratio.Cmp(b.ratio); c != 0 {
			return c < 0
		}
		if a.ticker != b.ticker {
			return a.ticker < b.ticker
		}
		return a.accountID < b.accountID
	})

	maximize := tr.req.Goal.Maximize()
	remaining := tr.req.Goal.Amount
	var out []intent
	for _, c := range candidates {
		key := domain.TradeKey(domain.SideSell, c.accountID, c.ticker)
		if maximize {
			if c.wash != domain.WashSafe {
				tr.warn(domain.WarnWashUnsafeSkipped, domain.SeverityWarning, key,
					"%s loss of %s skipped: wash-sale risk is %s", c.ticker, c.loss.StringFixed(2), c.wash)
				continue
			}
			out = append(out, intent{
				side:      domain.SideSell,
				accountID: c.accountID,
				ticker:    c.ticker,
				bucket:    c.bucket,
				quantity:  c.quantity,
				lossOnly:  true,
				rationale: "Harvest all wash-safe losses in " + c.ticker,
				tags:      []string{tagHarvest},
			})
			continue
		}
		if !remaining.IsPositive() {
			break
		}
		target := decimal.Min(remaining, c.loss)
		out = append(out, intent{
			side:       domain.SideSell,
			accountID:  c.accountID,
			ticker:     c.ticker,
			bucket:     c.bucket,
			lossTarget: &target,
			rationale:  "Harvest " + target.StringFixed(2) + " of losses in " + c.ticker,
			tags:       []string{tagHarvest},
		})
		remaining = remaining.Sub(target)
	}
	return out
}
