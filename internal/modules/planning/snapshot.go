package planning

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/shopspring/decimal"
)

// Snapshot is a point-in-time, read-only copy of everything one planning
// run consumes. The planner never reaches outside it.
type Snapshot struct {
	Taxpayers    []domain.TaxpayerEntity
	Accounts     []domain.Account
	Securities   []domain.Security
	Lots         []domain.PositionLot
	Positions    []domain.Position
	Cash         []domain.CashBalance
	Policies     []domain.BucketPolicy
	Assignments  []domain.BucketAssignment
	Transactions []domain.Transaction
	Prices       map[string]decimal.Decimal
}

// scopeView narrows a snapshot to the taxpayers inside a scope
type scopeView struct {
	taxpayers []domain.TaxpayerEntity
	accounts  map[int64][]domain.Account
	owner     map[int64]int64
	all       []domain.Account
}

func newScopeView(snap Snapshot, scope domain.TaxpayerScope) (scopeView, error) {
	if !scope.Valid() {
		return scopeView{}, fmt.Errorf("%w: unknown scope %q", domain.ErrEmptyScope, scope)
	}
	v := scopeView{
		accounts: make(map[int64][]domain.Account),
		owner:    make(map[int64]int64),
	}
	included := make(map[int64]domain.TaxpayerEntity)
	for _, tp := range snap.Taxpayers {
		if scope.Includes(tp.Type) {
			included[tp.ID] = tp
		}
	}
	accounts := append([]domain.Account(nil), snap.Accounts...)
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	for _, a := range accounts {
		if _, ok := included[a.TaxpayerEntityID]; !ok {
			continue
		}
		v.accounts[a.TaxpayerEntityID] = append(v.accounts[a.TaxpayerEntityID], a)
		v.owner[a.ID] = a.TaxpayerEntityID
		v.all = append(v.all, a)
	}
	for id, tp := range included {
		if len(v.accounts[id]) > 0 {
			v.taxpayers = append(v.taxpayers, tp)
		}
	}
	if len(v.all) == 0 {
		return scopeView{}, fmt.Errorf("%w: %s", domain.ErrEmptyScope, scope)
	}
	sort.Slice(v.taxpayers, func(i, j int) bool { return v.taxpayers[i].ID < v.taxpayers[j].ID })
	return v, nil
}

func (v scopeView) accountIDs() []int64 {
	ids := make([]int64, 0, len(v.all))
	for _, a := range v.all {
		ids = append(ids, a.ID)
	}
	return ids
}

// pricer resolves prices, substituting the placeholder for missing ones and
// warning once per ticker.
type pricer struct {
	prices      map[string]decimal.Decimal
	placeholder decimal.Decimal
	warned      map[string]bool
	warnings    []domain.Warning
}

func newPricer(prices map[string]decimal.Decimal, placeholder decimal.Decimal) *pricer {
	return &pricer{prices: prices, placeholder: placeholder, warned: make(map[string]bool)}
}

func (p *pricer) price(ticker string) (decimal.Decimal, bool) {
	if v, ok := p.prices[ticker]; ok && v.IsPositive() {
		return v, false
	}
	if !p.warned[ticker] {
		p.warned[ticker] = true
		p.warnings = append(p.warnings, domain.Warning{
			Code:     domain.WarnMissingPrice,
			Severity: domain.SeverityWarning,
			Message:  fmt.Sprintf("no price for %s; placeholder %s used", ticker, p.placeholder.String()),
		})
	}
	return p.placeholder, true
}

// cashByAccount returns the latest balance on or before asOf for each account
func cashByAccount(balances []domain.CashBalance, asOf time.Time) map[int64]decimal.Decimal {
	day := domain.DateOnly(asOf)
	latest := make(map[int64]domain.CashBalance)
	for _, b := range balances {
		if domain.DateOnly(b.AsOf).After(day) {
			continue
		}
		cur, ok := latest[b.AccountID]
		if !ok || b.AsOf.After(cur.AsOf) {
			latest[b.AccountID] = b
		}
	}
	out := make(map[int64]decimal.Decimal, len(latest))
	for id, b := range latest {
		out[id] = b.Amount
	}
	return out
}

// transactionWindow is the date range of history a run needs: the wash
// window around asOf plus year-to-date.
func transactionWindow(asOf time.Time, windowDays int) (time.Time, time.Time) {
	day := domain.DateOnly(asOf)
	from := day.AddDate(0, 0, -windowDays)
	if jan1 := time.Date(day.Year(), 1, 1, 0, 0, 0, 0, time.UTC); jan1.Before(from) {
		from = jan1
	}
	return from, day.AddDate(0, 0, windowDays)
}
