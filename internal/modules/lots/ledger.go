// Package lots provides tax-lot accounting and sell-side lot selection.
package lots

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type holdingKey struct {
	accountID int64
	ticker    string
}

// Ledger is a read-only view over the lots of one snapshot, indexed by
// (account, security). Selection only proposes allocations; lots are never
// modified.
type Ledger struct {
	byHolding map[holdingKey][]domain.PositionLot
	log       zerolog.Logger
}

// NewLedger indexes lots by holding. Lots are kept in acquisition order.
func NewLedger(lots []domain.PositionLot, log zerolog.Logger) *Ledger {
	byHolding := make(map[holdingKey][]domain.PositionLot)
	for _, lot := range lots {
		k := holdingKey{lot.AccountID, lot.Ticker}
		byHolding[k] = append(byHolding[k], lot)
	}
	for k := range byHolding {
		sortByAcquisition(byHolding[k], false)
	}
	return &Ledger{
		byHolding: byHolding,
		log:       log.With().Str("component", "lot_ledger").Logger(),
	}
}

// Lots returns the open lots for a holding in acquisition order
func (l *Ledger) Lots(accountID int64, ticker string) []domain.PositionLot {
	src := l.byHolding[holdingKey{accountID, ticker}]
	out := make([]domain.PositionLot, 0, len(src))
	for _, lot := range src {
		if lot.Quantity.IsPositive() {
			out = append(out, lot)
		}
	}
	return out
}

// Quantity is the sum of open lot quantities for a holding
func (l *Ledger) Quantity(accountID int64, ticker string) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range l.Lots(accountID, ticker) {
		total = total.Add(lot.Quantity)
	}
	return total
}

// Tickers returns the tickers with open lots in an account, sorted
func (l *Ledger) Tickers(accountID int64) []string {
	var out []string
	for k := range l.byHolding {
		if k.accountID == accountID && l.Quantity(k.accountID, k.ticker).IsPositive() {
			out = append(out, k.ticker)
		}
	}
	sort.Strings(out)
	return out
}

// UnrealizedGain is market value at price minus the lot's (adjusted) basis
func UnrealizedGain(lot domain.PositionLot, price decimal.Decimal) decimal.Decimal {
	return lot.Quantity.Mul(price).Sub(lot.Basis())
}

// Mismatch is a holding whose lot sum differs from the reported position
type Mismatch struct {
	AccountID        int64
	Ticker           string
	LotQuantity      decimal.Decimal
	PositionQuantity decimal.Decimal
}

// Warning renders the mismatch as a plan warning
func (m Mismatch) Warning() domain.Warning {
	return domain.Warning{
		Code:     domain.WarnLotPositionMismatch,
		Severity: domain.SeverityWarning,
		Message: fmt.Sprintf("account %d %s: lots total %s but position reports %s",
			m.AccountID, m.Ticker, m.LotQuantity.String(), m.PositionQuantity.String()),
	}
}

// CheckPositions compares lot sums with broker-reported positions for the
// given accounts (nil means all). Accounts without any reported position
// are not checked. Differences are reported, never repaired.
func (l *Ledger) CheckPositions(positions []domain.Position, accountIDs []int64) []Mismatch {
	var allowed map[int64]bool
	if accountIDs != nil {
		allowed = make(map[int64]bool, len(accountIDs))
		for _, id := range accountIDs {
			allowed[id] = true
		}
	}
	inScope := func(id int64) bool { return allowed == nil || allowed[id] }

	reported := make(map[holdingKey]decimal.Decimal)
	reporting := make(map[int64]bool)
	keys := make(map[holdingKey]bool)
	for _, p := range positions {
		k := holdingKey{p.AccountID, p.Ticker}
		if !inScope(k.accountID) {
			continue
		}
		reported[k] = reported[k].Add(p.Quantity)
		reporting[k.accountID] = true
		keys[k] = true
	}
	for k := range l.byHolding {
		if reporting[k.accountID] {
			keys[k] = true
		}
	}
	sorted := make([]holdingKey, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].accountID != sorted[j].accountID {
			return sorted[i].accountID < sorted[j].accountID
		}
		return sorted[i].ticker < sorted[j].ticker
	})

	var out []Mismatch
	for _, k := range sorted {
		lotQty := l.Quantity(k.accountID, k.ticker)
		posQty := reported[k]
		if lotQty.Equal(posQty) {
			continue
		}
		out = append(out, Mismatch{
			AccountID:        k.accountID,
			Ticker:           k.ticker,
			LotQuantity:      lotQty,
			PositionQuantity: posQty,
		})
	}
	return out
}

// SaleRequest describes a sale to allocate across lots.
// When LossTarget is set only loss lots are used and selection stops once
// the realized loss reaches the target; Quantity then caps the shares sold
// (zero means uncapped).
type SaleRequest struct {
	AccountID  int64
	Ticker     string
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Strategy   domain.LotStrategy
	AsOf       time.Time
	LossOnly   bool
	LossTarget *decimal.Decimal
	WashStatus domain.WashStatus
	TradeKey   string
	// Consumed holds quantities already proposed against lots by earlier
	// sales in the same plan, keyed by lot ID.
	Consumed map[int64]decimal.Decimal
}

// Selection is the proposed lot allocation for one sale
type Selection struct {
	Picks      []domain.LotPick
	Quantity   decimal.Decimal
	Proceeds   decimal.Decimal
	Basis      decimal.Decimal
	RealizedST decimal.Decimal
	RealizedLT decimal.Decimal
	Warnings   []domain.Warning
}

// RealizedGain is the total gain of the selection
func (s Selection) RealizedGain() decimal.Decimal {
	return s.RealizedST.Add(s.RealizedLT)
}

// HasSTGain reports whether any pick realizes a short-term gain
func (s Selection) HasSTGain() bool {
	for _, p := range s.Picks {
		if p.HasTag(domain.TagSTOverrideRequired) {
			return true
		}
	}
	return false
}

type rankedLot struct {
	lot        domain.PositionLot
	lotQty     decimal.Decimal
	unrealized decimal.Decimal
	term       domain.Term
	tier       int
}

// SelectLotsForSale allocates a sale across the holding's lots under the
// requested strategy. A shortfall is a warning, not an error: the maximal
// available amount is returned.
func (l *Ledger) SelectLotsForSale(req SaleRequest) Selection {
	sel := Selection{
		Quantity:   decimal.Zero,
		Proceeds:   decimal.Zero,
		Basis:      decimal.Zero,
		RealizedST: decimal.Zero,
		RealizedLT: decimal.Zero,
	}

	ordered := l.order(req)
	available := decimal.Zero
	for _, r := range ordered {
		available = available.Add(r.lot.Quantity)
	}

	remainingQty := req.Quantity
	capped := req.LossTarget == nil || req.Quantity.IsPositive()
	var remainingLoss decimal.Decimal
	if req.LossTarget != nil {
		remainingLoss = *req.LossTarget
	}

	for _, r := range ordered {
		if capped && !remainingQty.IsPositive() {
			break
		}
		if req.LossTarget != nil && !remainingLoss.IsPositive() {
			break
		}

		take := r.lot.Quantity
		if capped && take.GreaterThan(remainingQty) {
			take = remainingQty
		}
		if req.LossTarget != nil {
			lossPerShare := r.lot.Basis().Div(r.lot.Quantity).Sub(req.Price)
			if lossPerShare.IsPositive() {
				need := remainingLoss.DivRound(lossPerShare, 8)
				if r.lot.Quantity.Equal(r.lot.Quantity.Truncate(0)) {
					need = need.Ceil()
				}
				if need.LessThan(take) {
					take = need
				}
			}
		}
		if !take.IsPositive() {
			continue
		}

		pick := l.pick(r, take, req)
		sel.Picks = append(sel.Picks, pick)
		sel.Quantity = sel.Quantity.Add(take)
		sel.Proceeds = sel.Proceeds.Add(pick.Proceeds)
		sel.Basis = sel.Basis.Add(pick.BasisAllocated)
		if pick.Term == domain.TermLong {
			sel.RealizedLT = sel.RealizedLT.Add(pick.RealizedGain)
		} else {
			sel.RealizedST = sel.RealizedST.Add(pick.RealizedGain)
		}
		remainingQty = remainingQty.Sub(take)
		if req.LossTarget != nil {
			remainingLoss = remainingLoss.Add(pick.RealizedGain)
		}
	}

	if req.LossTarget == nil && req.Quantity.GreaterThan(available) {
		sel.Warnings = append(sel.Warnings, domain.Warning{
			Code:     domain.WarnInsufficientLots,
			Severity: domain.SeverityWarning,
			Message: fmt.Sprintf("requested %s %s but only %s available in account %d",
				req.Quantity.String(), req.Ticker, available.String(), req.AccountID),
			TradeKey: req.TradeKey,
		})
	}

	l.log.Debug().
		Int64("account_id", req.AccountID).
		Str("ticker", req.Ticker).
		Str("strategy", string(req.Strategy)).
		Str("requested", req.Quantity.String()).
		Str("selected", sel.Quantity.String()).
		Int("picks", len(sel.Picks)).
		Msg("Selected lots for sale")

	return sel
}

func (l *Ledger) order(req SaleRequest) []rankedLot {
	lots := l.Lots(req.AccountID, req.Ticker)
	ranked := make([]rankedLot, 0, len(lots))
	for _, lot := range lots {
		lotQty := lot.Quantity
		if used, ok := req.Consumed[lot.ID]; ok {
			remaining := lot.Quantity.Sub(used)
			if !remaining.IsPositive() {
				continue
			}
			if !remaining.Equal(lot.Quantity) {
				lot.BasisTotal = lot.BasisTotal.Mul(remaining).Div(lot.Quantity)
				if lot.AdjustedBasisTotal != nil {
					adj := lot.AdjustedBasisTotal.Mul(remaining).Div(lot.Quantity)
					lot.AdjustedBasisTotal = &adj
				}
				lot.Quantity = remaining
			}
		}
		r := rankedLot{
			lot:        lot,
			lotQty:     lotQty,
			unrealized: UnrealizedGain(lot, req.Price),
			term:       domain.TermFor(lot.AcquisitionDate, req.AsOf),
		}
		switch {
		case r.unrealized.IsNegative():
			r.tier = 0
		case r.term == domain.TermLong:
			r.tier = 1
		default:
			r.tier = 2
		}
		if (req.LossOnly || req.LossTarget != nil) && r.tier != 0 {
			continue
		}
		ranked = append(ranked, r)
	}

	switch req.Strategy {
	case domain.LotStrategyFIFO, domain.LotStrategyLIFO:
		desc := req.Strategy == domain.LotStrategyLIFO
		sort.SliceStable(ranked, func(i, j int) bool {
			return acquisitionLess(ranked[i].lot, ranked[j].lot, desc)
		})
	default:
		sort.SliceStable(ranked, func(i, j int) bool {
			a, b := ranked[i], ranked[j]
			if a.tier != b.tier {
				return a.tier < b.tier
			}
			if c := a.unrealized.Cmp(b.unrealized); c != 0 {
				return c < 0
			}
			return acquisitionLess(a.lot, b.lot, false)
		})
	}
	return ranked
}

func (l *Ledger) pick(r rankedLot, take decimal.Decimal, req SaleRequest) domain.LotPick {
	basis := r.lot.Basis()
	if !take.Equal(r.lot.Quantity) {
		basis = basis.Mul(take).Div(r.lot.Quantity)
	}
	basis = basis.Round(2)
	proceeds := take.Mul(req.Price).Round(2)
	gain := proceeds.Sub(basis)

	var tags []string
	switch req.Strategy {
	case domain.LotStrategyFIFO:
		tags = append(tags, domain.TagFIFO)
	case domain.LotStrategyLIFO:
		tags = append(tags, domain.TagLIFO)
	}
	if gain.IsNegative() {
		tags = append(tags, domain.TagLossHarvest)
		if req.WashStatus == domain.WashDefinite || req.WashStatus == domain.WashPossible {
			tags = append(tags, domain.TagWashMitigationRequired)
		}
	} else if r.term == domain.TermLong && req.Strategy == domain.LotStrategyTaxMinimizing {
		tags = append(tags, domain.TagLTPreferred)
	}
	if r.term == domain.TermShort && gain.IsPositive() {
		tags = append(tags, domain.TagSTOverrideRequired)
	}

	return domain.LotPick{
		LotID:           r.lot.ID,
		AccountID:       r.lot.AccountID,
		Ticker:          r.lot.Ticker,
		AcquisitionDate: r.lot.AcquisitionDate,
		HoldingDays:     domain.HoldingDays(r.lot.AcquisitionDate, req.AsOf),
		Term:            r.term,
		LotQuantity:     r.lotQty,
		Quantity:        take,
		BasisAllocated:  basis,
		Proceeds:        proceeds,
		RealizedGain:    gain,
		Tags:            tags,
	}
}

// MarkWashRisk tags loss picks once a wash status is known
func MarkWashRisk(picks []domain.LotPick, status domain.WashStatus) {
	if status != domain.WashDefinite && status != domain.WashPossible {
		return
	}
	for i := range picks {
		p := &picks[i]
		if p.HasTag(domain.TagLossHarvest) && !p.HasTag(domain.TagWashMitigationRequired) {
			p.Tags = append(p.Tags, domain.TagWashMitigationRequired)
		}
	}
}

// LossSummary describes the loss lots of a holding at a price
type LossSummary struct {
	Quantity decimal.Decimal
	Basis    decimal.Decimal
	Loss     decimal.Decimal
	HasST    bool
}

// Ratio is the loss as a share of basis, negative for losses
func (s LossSummary) Ratio() decimal.Decimal {
	if !s.Basis.IsPositive() {
		return decimal.Zero
	}
	return s.Loss.DivRound(s.Basis, 6)
}

// Losses summarizes the holding's lots with an unrealized loss at price
func (l *Ledger) Losses(accountID int64, ticker string, price decimal.Decimal, asOf time.Time) LossSummary {
	sum := LossSummary{Quantity: decimal.Zero, Basis: decimal.Zero, Loss: decimal.Zero}
	for _, lot := range l.Lots(accountID, ticker) {
		u := UnrealizedGain(lot, price)
		if !u.IsNegative() {
			continue
		}
		sum.Quantity = sum.Quantity.Add(lot.Quantity)
		sum.Basis = sum.Basis.Add(lot.Basis())
		sum.Loss = sum.Loss.Add(u)
		if domain.TermFor(lot.AcquisitionDate, asOf) == domain.TermShort {
			sum.HasST = true
		}
	}
	return sum
}

func acquisitionLess(a, b domain.PositionLot, desc bool) bool {
	if !a.AcquisitionDate.Equal(b.AcquisitionDate) {
		if desc {
			return a.AcquisitionDate.After(b.AcquisitionDate)
		}
		return a.AcquisitionDate.Before(b.AcquisitionDate)
	}
	return a.ID < b.ID
}

func sortByAcquisition(lots []domain.PositionLot, desc bool) {
	sort.SliceStable(lots, func(i, j int) bool { return acquisitionLess(lots[i], lots[j], desc) })
}
