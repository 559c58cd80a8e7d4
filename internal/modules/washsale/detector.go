// Package washsale classifies wash-sale risk for proposed loss sales.
package washsale

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultWindowDays is the wash-sale look-back and look-forward window
const DefaultWindowDays = 30

// MaxSubstitutes caps swap suggestions
const MaxSubstitutes = 5

// SaleCandidate is a proposed sale to evaluate
type SaleCandidate struct {
	TaxpayerID   int64
	AccountID    int64
	Ticker       string
	Date         time.Time
	Quantity     decimal.Decimal
	RealizedGain decimal.Decimal
}

// ProposedBuy is a buy elsewhere in the same plan
type ProposedBuy struct {
	TaxpayerID int64
	AccountID  int64
	Ticker     string
	Date       time.Time
	Quantity   decimal.Decimal
}

// Evidence is the executed history and reference data a detector checks against
type Evidence struct {
	Accounts     []domain.Account
	Securities   []domain.Security
	Transactions []domain.Transaction
	// BucketOf resolves a ticker's bucket for swap suggestions. Optional.
	BucketOf func(ticker string) (domain.BucketCode, bool)
}

// Detector evaluates loss sales against buys of the same taxpayer entity
type Detector struct {
	windowDays int
	taxpayerOf map[int64]int64
	securities map[string]domain.Security
	buys       []domain.Transaction
	bucketOf   func(string) (domain.BucketCode, bool)
	log        zerolog.Logger
}

// NewDetector indexes the evidence. Only BUY transactions are kept.
func NewDetector(windowDays int, ev Evidence, log zerolog.Logger) *Detector {
	taxpayerOf := make(map[int64]int64, len(ev.Accounts))
	for _, a := range ev.Accounts {
		taxpayerOf[a.ID] = a.TaxpayerEntityID
	}
	securities := make(map[string]domain.Security, len(ev.Securities))
	for _, s := range ev.Securities {
		securities[s.Ticker] = s
	}
	var buys []domain.Transaction
	for _, tx := range ev.Transactions {
		if tx.Type == domain.TxBuy && tx.Ticker != "" {
			buys = append(buys, tx)
		}
	}
	sort.SliceStable(buys, func(i, j int) bool {
		if !buys[i].Date.Equal(buys[j].Date) {
			return buys[i].Date.Before(buys[j].Date)
		}
		return buys[i].ID < buys[j].ID
	})
	return &Detector{
		windowDays: windowDays,
		taxpayerOf: taxpayerOf,
		securities: securities,
		buys:       buys,
		bucketOf:   ev.BucketOf,
		log:        log.With().Str("component", "wash_sale_detector").Logger(),
	}
}

// Window returns the inclusive wash window around a sale date
func (d *Detector) Window(saleDate time.Time) (time.Time, time.Time) {
	day := domain.DateOnly(saleDate)
	return day.AddDate(0, 0, -d.windowDays), day.AddDate(0, 0, d.windowDays)
}

type identity int

const (
	notIdentical identity = iota
	identical
	unresolved
)

// compare applies the substantially-identical rule. A different ticker
// where either side is unknown or unmapped cannot be ruled out.
func (d *Detector) compare(saleTicker, buyTicker string) identity {
	if saleTicker == buyTicker {
		return identical
	}
	sale, okSale := d.securities[saleTicker]
	buy, okBuy := d.securities[buyTicker]
	if !okSale || !okBuy || !sale.HasSubstituteGroup() || !buy.HasSubstituteGroup() {
		return unresolved
	}
	if sale.SubstantiallyIdentical(buy) {
		return identical
	}
	return notIdentical
}

// AssessWashRisk classifies a sale. Gain sales are not evaluated. Evidence
// never crosses taxpayer boundaries.
func (d *Detector) AssessWashRisk(sale SaleCandidate, taxpayerID int64, proposed []ProposedBuy) domain.WashAssessment {
	start, end := d.Window(sale.Date)
	result := domain.WashAssessment{
		Status:      domain.WashNotApplicable,
		WindowStart: start,
		WindowEnd:   end,
	}
	if !sale.RealizedGain.IsNegative() {
		return result
	}

	inWindow := func(t time.Time) bool {
		day := domain.DateOnly(t)
		return !day.Before(start) && !day.After(end)
	}

	var matches, doubts []domain.WashEvidence
	collect := func(ev domain.WashEvidence) {
		switch d.compare(sale.Ticker, ev.Ticker) {
		case identical:
			matches = append(matches, ev)
		case unresolved:
			ev.Unresolved = true
			doubts = append(doubts, ev)
		}
	}

	for _, tx := range d.buys {
		owner, ok := d.taxpayerOf[tx.AccountID]
		if !ok || owner != taxpayerID || !inWindow(tx.Date) {
			continue
		}
		collect(domain.WashEvidence{
			Source:        domain.EvidenceExecutedBuy,
			TransactionID: tx.ID,
			AccountID:     tx.AccountID,
			Ticker:        tx.Ticker,
			Date:          domain.DateOnly(tx.Date),
			Quantity:      tx.Quantity.Abs(),
		})
	}
	for _, buy := range proposed {
		if buy.TaxpayerID != taxpayerID || !inWindow(buy.Date) {
			continue
		}
		collect(domain.WashEvidence{
			Source:    domain.EvidenceProposedBuy,
			AccountID: buy.AccountID,
			Ticker:    buy.Ticker,
			Date:      domain.DateOnly(buy.Date),
			Quantity:  buy.Quantity.Abs(),
		})
	}

	switch {
	case len(matches) > 0:
		result.Status = domain.WashDefinite
		result.Evidence = append(append([]domain.WashEvidence(nil), matches...), doubts...)
	case len(doubts) > 0:
		result.Status = domain.WashPossible
		result.Evidence = append([]domain.WashEvidence(nil), doubts...)
	default:
		result.Status = domain.WashSafe
		return result
	}

	sortEvidence(result.Evidence)
	relevant := matches
	if len(relevant) == 0 {
		relevant = doubts
	}
	result.Mitigations = d.mitigations(sale, relevant)

	d.log.Debug().
		Str("ticker", sale.Ticker).
		Int64("taxpayer_id", taxpayerID).
		Str("status", string(result.Status)).
		Int("evidence", len(result.Evidence)).
		Msg("Assessed wash-sale risk")

	return result
}

func (d *Detector) mitigations(sale SaleCandidate, evidence []domain.WashEvidence) []domain.Mitigation {
	var out []domain.Mitigation

	var resume time.Time
	replacement := decimal.Zero
	for _, ev := range evidence {
		replacement = replacement.Add(ev.Quantity)
		anchor := domain.DateOnly(sale.Date)
		if ev.Source == domain.EvidenceExecutedBuy {
			anchor = ev.Date
		}
		if r := anchor.AddDate(0, 0, d.windowDays+1); r.After(resume) {
			resume = r
		}
	}
	out = append(out, domain.Mitigation{
		Type:        domain.MitigationDelay,
		Description: fmt.Sprintf("Delay the sale of %s until %s, outside the wash window", sale.Ticker, resume.Format(domain.DateLayout)),
		ResumeDate:  &resume,
	})

	if safe := sale.Quantity.Sub(replacement); safe.IsPositive() {
		out = append(out, domain.Mitigation{
			Type:         domain.MitigationReduce,
			Description:  fmt.Sprintf("Reduce the sale to %s shares not offset by replacement buys", safe.String()),
			SafeQuantity: &safe,
		})
	}

	if subs := d.Substitutes(sale.Ticker); len(subs) > 0 {
		out = append(out, domain.Mitigation{
			Type:        domain.MitigationSwap,
			Description: fmt.Sprintf("Replace exposure with a different substitute group: %v", subs),
			Substitutes: subs,
		})
	}
	return out
}

// Substitutes suggests up to MaxSubstitutes tickers in the same bucket and
// asset class whose substitute group differs from the ticker's.
func (d *Detector) Substitutes(ticker string) []string {
	sec, ok := d.securities[ticker]
	if !ok {
		return nil
	}
	var bucket domain.BucketCode
	haveBucket := false
	if d.bucketOf != nil {
		bucket, haveBucket = d.bucketOf(ticker)
	}

	var candidates []domain.Security
	for _, c := range d.securities {
		if c.Ticker == ticker || c.AssetClass != sec.AssetClass || !c.HasSubstituteGroup() {
			continue
		}
		if sec.HasSubstituteGroup() && *c.SubstituteGroupID == *sec.SubstituteGroupID {
			continue
		}
		if haveBucket {
			if b, ok := d.bucketOf(c.Ticker); !ok || b != bucket {
				continue
			}
		}
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if c := candidates[i].ExpenseRatio.Cmp(candidates[j].ExpenseRatio); c != 0 {
			return c < 0
		}
		return candidates[i].Ticker < candidates[j].Ticker
	})
	if len(candidates) > MaxSubstitutes {
		candidates = candidates[:MaxSubstitutes]
	}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.Ticker)
	}
	return out
}

func sortEvidence(ev []domain.WashEvidence) {
	sort.SliceStable(ev, func(i, j int) bool {
		a, b := ev[i], ev[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		if a.Ticker != b.Ticker {
			return a.Ticker < b.Ticker
		}
		return a.TransactionID < b.TransactionID
	})
}
