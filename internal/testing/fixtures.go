package testing

import (
	"time"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/shopspring/decimal"
)

// Fixture IDs of the default household
const (
	TrustID    int64 = 1
	PersonalID int64 = 2

	IBTaxableID int64 = 1
	RJTaxableID int64 = 2
	ChaseIRAID  int64 = 3

	HouseholdPolicyID int64 = 1
)

// D parses a decimal literal and panics on malformed input
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Date builds a UTC calendar date
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// GroupID returns a pointer to a substitute group ID
func GroupID(id int64) *int64 {
	return &id
}

// HouseholdPolicy returns the default four-bucket policy effective 2024-01-01
func HouseholdPolicy() domain.BucketPolicy {
	return domain.BucketPolicy{
		ID:               HouseholdPolicyID,
		Name:             "Household Policy",
		EffectiveDate:    Date(2024, time.January, 1),
		MaxSingleNamePct: D("0.15"),
		Buckets: []domain.Bucket{
			{Code: domain.BucketLiquidity, Name: "Liquidity", MinPct: D("0.05"), TargetPct: D("0.10"), MaxPct: D("0.20"), AllowedClasses: []string{"CASH", "MMF"}},
			{Code: domain.BucketIncome, Name: "Income", MinPct: D("0.20"), TargetPct: D("0.30"), MaxPct: D("0.45"), AllowedClasses: []string{"BOND", "CREDIT", "DIVIDEND"}},
			{Code: domain.BucketGrowth, Name: "Growth", MinPct: D("0.30"), TargetPct: D("0.45"), MaxPct: D("0.65"), AllowedClasses: []string{"EQUITY", "INDEX", "GROWTH"}},
			{Code: domain.BucketAlpha, Name: "Alpha", MinPct: D("0"), TargetPct: D("0.15"), MaxPct: D("0.25"), AllowedClasses: []string{"ALTERNATIVE", "THEMATIC", "ALPHA"}},
		},
	}
}

// Household is a mutable dataset for one planning test. Helpers append to
// it; Collaborators loads it into in-memory repositories.
type Household struct {
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

	nextLotID int64
	nextTxID  int64
}

// NewHousehold returns the Trust and Personal entities with their three
// accounts and the household policy, holding nothing.
func NewHousehold() *Household {
	return &Household{
		Taxpayers: []domain.TaxpayerEntity{
			{ID: TrustID, Name: "Trust", Type: domain.TaxpayerTrust},
			{ID: PersonalID, Name: "Personal", Type: domain.TaxpayerPersonal},
		},
		Accounts: []domain.Account{
			{ID: IBTaxableID, Name: "IB Taxable", Broker: "Interactive Brokers", Type: domain.AccountTaxable, TaxpayerEntityID: TrustID},
			{ID: RJTaxableID, Name: "RJ Taxable", Broker: "Raymond James", Type: domain.AccountTaxable, TaxpayerEntityID: TrustID},
			{ID: ChaseIRAID, Name: "Chase IRA", Broker: "Chase", Type: domain.AccountTaxDeferred, TaxpayerEntityID: PersonalID},
		},
		Policies:  []domain.BucketPolicy{HouseholdPolicy()},
		Prices:    make(map[string]decimal.Decimal),
		nextLotID: 1,
		nextTxID:  1,
	}
}

// AddSecurity registers a security, optionally assigned to a bucket of the
// household policy.
func (h *Household) AddSecurity(sec domain.Security, bucket domain.BucketCode) *Household {
	h.Securities = append(h.Securities, sec)
	if bucket != "" {
		h.Assignments = append(h.Assignments, domain.BucketAssignment{PolicyID: HouseholdPolicyID, Ticker: sec.Ticker, Bucket: bucket})
	}
	return h
}

// SetPrice sets the latest price of a ticker
func (h *Household) SetPrice(ticker, price string) *Household {
	h.Prices[ticker] = D(price)
	return h
}

// AddLot appends a lot and returns its ID
func (h *Household) AddLot(accountID int64, ticker string, acquired time.Time, quantity, basis string) int64 {
	id := h.nextLotID
	h.nextLotID++
	h.Lots = append(h.Lots, domain.PositionLot{
		ID:              id,
		AccountID:       accountID,
		Ticker:          ticker,
		AcquisitionDate: acquired,
		Quantity:        D(quantity),
		BasisTotal:      D(basis),
	})
	return id
}

// SetCash records an account's cash balance on a date
func (h *Household) SetCash(accountID int64, asOf time.Time, amount string) *Household {
	h.Cash = append(h.Cash, domain.CashBalance{AccountID: accountID, AsOf: asOf, Amount: D(amount)})
	return h
}

// AddBuy records an executed BUY and returns its transaction ID
func (h *Household) AddBuy(accountID int64, ticker string, date time.Time, quantity, amount string) int64 {
	return h.AddTransaction(domain.Transaction{
		AccountID: accountID,
		Date:      date,
		Type:      domain.TxBuy,
		Ticker:    ticker,
		Quantity:  D(quantity),
		Amount:    D(amount).Neg(),
	})
}

// AddTransaction appends a transaction, assigning its ID
func (h *Household) AddTransaction(tx domain.Transaction) int64 {
	tx.ID = h.nextTxID
	h.nextTxID++
	h.Transactions = append(h.Transactions, tx)
	return tx.ID
}

// Collaborators are in-memory repositories loaded from a Household
type Collaborators struct {
	Positions *MockPositionRepository
	Policies  *MockPolicyRepository
	History   *MockTransactionHistory
	Prices    *MockPriceSource
	Audit     *MockAuditSink
	Archiver  *MockPlanArchiver
	Snapshots *NoopSnapshotter
}

// Collaborators loads the household into fresh mocks
func (h *Household) Collaborators() Collaborators {
	c := Collaborators{
		Positions: NewMockPositionRepository(),
		Policies:  NewMockPolicyRepository(),
		History:   NewMockTransactionHistory(),
		Prices:    NewMockPriceSource(),
		Audit:     NewMockAuditSink(),
		Archiver:  NewMockPlanArchiver(),
		Snapshots: &NoopSnapshotter{},
	}
	c.Positions.SetTaxpayers(h.Taxpayers)
	c.Positions.SetAccounts(h.Accounts)
	c.Positions.SetSecurities(h.Securities)
	c.Positions.SetLots(h.Lots)
	c.Positions.SetPositions(h.Positions)
	c.Positions.SetCash(h.Cash)
	c.Policies.SetPolicies(h.Policies)
	c.Policies.SetAssignments(h.Assignments)
	c.History.SetTransactions(h.Transactions)
	for ticker, price := range h.Prices {
		c.Prices.SetPrice(ticker, price)
	}
	return c
}

// LossHarvestHousehold is the single-account XYZ dataset: Lot A (60 shares,
// basis 6,600, long-term) and Lot B (40 shares, basis 2,000, short-term)
// in the Trust's IB Taxable account, priced at 90.
func LossHarvestHousehold(asOf time.Time) (*Household, int64, int64) {
	h := NewHousehold()
	h.AddSecurity(domain.Security{Ticker: "XYZ", Name: "XYZ Corp", AssetClass: "EQUITY", SubstituteGroupID: GroupID(10), ExpenseRatio: D("0.0010")}, domain.BucketGrowth)
	h.AddSecurity(domain.Security{Ticker: "ABC", Name: "ABC Total Market", AssetClass: "EQUITY", SubstituteGroupID: GroupID(11), ExpenseRatio: D("0.0003")}, domain.BucketGrowth)
	h.SetPrice("XYZ", "90")
	h.SetPrice("ABC", "50")
	lotA := h.AddLot(IBTaxableID, "XYZ", asOf.AddDate(0, 0, -400), "60", "6600")
	lotB := h.AddLot(IBTaxableID, "XYZ", asOf.AddDate(0, 0, -10), "40", "2000")
	h.SetCash(IBTaxableID, asOf, "1000")
	return h, lotA, lotB
}
