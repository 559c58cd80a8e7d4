// Package domain provides core domain models and types.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TaxpayerType distinguishes taxable trust-like entities from tax-deferred personal ones
type TaxpayerType string

const (
	// TaxpayerTrust is a taxable entity; its realized gains are estimated
	TaxpayerTrust TaxpayerType = "TRUST"
	// TaxpayerPersonal is the tax-deferred (IRA) scope; gains never enter the estimate
	TaxpayerPersonal TaxpayerType = "PERSONAL"
)

// TaxpayerScope selects which taxpayer entities a plan covers
type TaxpayerScope string

const (
	ScopeTrust    TaxpayerScope = "TRUST"
	ScopePersonal TaxpayerScope = "PERSONAL"
	ScopeBoth     TaxpayerScope = "BOTH"
)

// Valid reports whether the scope is one of the known values
func (s TaxpayerScope) Valid() bool {
	switch s {
	case ScopeTrust, ScopePersonal, ScopeBoth:
		return true
	}
	return false
}

// Includes reports whether a taxpayer of the given type is inside the scope
func (s TaxpayerScope) Includes(t TaxpayerType) bool {
	switch s {
	case ScopeBoth:
		return true
	case ScopeTrust:
		return t == TaxpayerTrust
	case ScopePersonal:
		return t == TaxpayerPersonal
	}
	return false
}

// TaxpayerEntity is the legal/tax scope for wash-sale and taxability rules.
// Identity (ID, Type) is immutable; Name and Notes are display attributes.
type TaxpayerEntity struct {
	ID    int64        `json:"id"`
	Name  string       `json:"name"`
	Type  TaxpayerType `json:"type"`
	Notes string       `json:"notes,omitempty"`
}

// IsTaxDeferred reports whether the entity is excluded from capital-gains estimation
func (t TaxpayerEntity) IsTaxDeferred() bool {
	return t.Type == TaxpayerPersonal
}

// AccountType is the tax treatment of an account
type AccountType string

const (
	AccountTaxable     AccountType = "TAXABLE"
	AccountTaxDeferred AccountType = "TAX_DEFERRED"
)

// Account belongs to exactly one TaxpayerEntity
type Account struct {
	ID               int64       `json:"id"`
	Name             string      `json:"name"`
	Broker           string      `json:"broker,omitempty"`
	Type             AccountType `json:"type"`
	TaxpayerEntityID int64       `json:"taxpayer_entity_id"`
}

// IsTaxable reports whether realized gains in the account are taxable
func (a Account) IsTaxable() bool {
	return a.Type == AccountTaxable
}

// Security is an instrument known to the universe.
// SubstituteGroupID is nil when no substitute-group mapping is configured.
type Security struct {
	Ticker            string           `json:"ticker"`
	Name              string           `json:"name,omitempty"`
	AssetClass        string           `json:"asset_class"`
	SubstituteGroupID *int64           `json:"substitute_group_id,omitempty"`
	ExpenseRatio      decimal.Decimal  `json:"expense_ratio"`
	LastPrice         *decimal.Decimal `json:"last_price,omitempty"`
}

// HasSubstituteGroup reports whether a substitute-group mapping is known
func (s Security) HasSubstituteGroup() bool {
	return s.SubstituteGroupID != nil
}

// SubstantiallyIdentical applies the wash-sale identity rule:
// same ticker, or same substitute group when both are mapped.
func (s Security) SubstantiallyIdentical(other Security) bool {
	if s.Ticker == other.Ticker {
		return true
	}
	if s.SubstituteGroupID == nil || other.SubstituteGroupID == nil {
		return false
	}
	return *s.SubstituteGroupID == *other.SubstituteGroupID
}

// PositionLot is a discrete acquisition of shares in one (account, security).
// Planning never mutates lots; only a recorded sale consumes them.
type PositionLot struct {
	ID                 int64            `json:"id"`
	AccountID          int64            `json:"account_id"`
	Ticker             string           `json:"ticker"`
	AcquisitionDate    time.Time        `json:"acquisition_date"`
	Quantity           decimal.Decimal  `json:"quantity"`
	BasisTotal         decimal.Decimal  `json:"basis_total"`
	AdjustedBasisTotal *decimal.Decimal `json:"adjusted_basis_total,omitempty"`
}

// Basis returns the adjusted basis when present, else the original basis
func (l PositionLot) Basis() decimal.Decimal {
	if l.AdjustedBasisTotal != nil {
		return *l.AdjustedBasisTotal
	}
	return l.BasisTotal
}

// Position is the broker-reported quantity for an (account, security) pair
type Position struct {
	AccountID int64           `json:"account_id"`
	Ticker    string          `json:"ticker"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// CashBalance is the latest known cash in an account
type CashBalance struct {
	AccountID int64           `json:"account_id"`
	AsOf      time.Time       `json:"as_of"`
	Amount    decimal.Decimal `json:"amount"`
}

// TransactionType classifies a ledger transaction
type TransactionType string

const (
	TxBuy         TransactionType = "BUY"
	TxSell        TransactionType = "SELL"
	TxDividend    TransactionType = "DIV"
	TxInterest    TransactionType = "INT"
	TxWithholding TransactionType = "WITHHOLDING"
	TxFee         TransactionType = "FEE"
	TxDeposit     TransactionType = "DEPOSIT"
	TxWithdrawal  TransactionType = "WITHDRAWAL"
)

// Transaction is an immutable imported cashflow record.
// Amount is signed: BUY negative, SELL positive.
type Transaction struct {
	ID                 int64            `json:"id"`
	AccountID          int64            `json:"account_id"`
	Date               time.Time        `json:"date"`
	Type               TransactionType  `json:"type"`
	Ticker             string           `json:"ticker,omitempty"`
	Quantity           decimal.Decimal  `json:"quantity"`
	Amount             decimal.Decimal  `json:"amount"`
	LotBasisTotal      *decimal.Decimal `json:"lot_basis_total,omitempty"`
	LotTerm            Term             `json:"lot_term,omitempty"`
	LotAcquisitionDate *time.Time       `json:"lot_acquisition_date,omitempty"`
}
