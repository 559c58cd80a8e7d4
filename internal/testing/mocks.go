package testing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/shopspring/decimal"
)

// MockPositionRepository is an in-memory PositionRepository for testing
type MockPositionRepository struct {
	mu         sync.RWMutex
	taxpayers  []domain.TaxpayerEntity
	accounts   []domain.Account
	securities []domain.Security
	lots       []domain.PositionLot
	positions  []domain.Position
	cash       []domain.CashBalance
	err        error
}

// NewMockPositionRepository creates a new mock position repository
func NewMockPositionRepository() *MockPositionRepository {
	return &MockPositionRepository{}
}

// SetTaxpayers sets the taxpayer entities to return
func (m *MockPositionRepository) SetTaxpayers(taxpayers []domain.TaxpayerEntity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taxpayers = taxpayers
}

// SetAccounts sets the accounts to return
func (m *MockPositionRepository) SetAccounts(accounts []domain.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = accounts
}

// SetSecurities sets the securities to return
func (m *MockPositionRepository) SetSecurities(securities []domain.Security) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.securities = securities
}

// SetLots sets the lots to return
func (m *MockPositionRepository) SetLots(lots []domain.PositionLot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lots = lots
}

// SetPositions sets the reported positions to return
func (m *MockPositionRepository) SetPositions(positions []domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = positions
}

// SetCash sets the cash balances to return
func (m *MockPositionRepository) SetCash(cash []domain.CashBalance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cash = cash
}

// SetError sets the error every method returns
func (m *MockPositionRepository) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Taxpayers returns all taxpayer entities
func (m *MockPositionRepository) Taxpayers(ctx context.Context) ([]domain.TaxpayerEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.TaxpayerEntity(nil), m.taxpayers...), m.err
}

// Accounts returns all accounts
func (m *MockPositionRepository) Accounts(ctx context.Context) ([]domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Account(nil), m.accounts...), m.err
}

// Securities returns all securities
func (m *MockPositionRepository) Securities(ctx context.Context) ([]domain.Security, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Security(nil), m.securities...), m.err
}

// Lots returns lots in the given accounts
func (m *MockPositionRepository) Lots(ctx context.Context, accountIDs []int64) ([]domain.PositionLot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	in := accountFilter(accountIDs)
	var out []domain.PositionLot
	for _, l := range m.lots {
		if in(l.AccountID) {
			out = append(out, l)
		}
	}
	return out, nil
}

// Positions returns reported positions in the given accounts
func (m *MockPositionRepository) Positions(ctx context.Context, accountIDs []int64) ([]domain.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	in := accountFilter(accountIDs)
	var out []domain.Position
	for _, p := range m.positions {
		if in(p.AccountID) {
			out = append(out, p)
		}
	}
	return out, nil
}

// CashBalances returns balances dated on or before asOf in the given accounts
func (m *MockPositionRepository) CashBalances(ctx context.Context, accountIDs []int64, asOf time.Time) ([]domain.CashBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	in := accountFilter(accountIDs)
	var out []domain.CashBalance
	for _, c := range m.cash {
		if in(c.AccountID) && !c.AsOf.After(asOf) {
			out = append(out, c)
		}
	}
	return out, nil
}

// MockPolicyRepository is an in-memory PolicyRepository for testing
type MockPolicyRepository struct {
	mu          sync.RWMutex
	policies    []domain.BucketPolicy
	assignments []domain.BucketAssignment
	err         error
}

// NewMockPolicyRepository creates a new mock policy repository
func NewMockPolicyRepository() *MockPolicyRepository {
	return &MockPolicyRepository{}
}

// SetPolicies sets the policy versions to return
func (m *MockPolicyRepository) SetPolicies(policies []domain.BucketPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies = policies
}

// SetAssignments sets the bucket assignments to return
func (m *MockPolicyRepository) SetAssignments(assignments []domain.BucketAssignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments = assignments
}

// SetError sets the error every method returns
func (m *MockPolicyRepository) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Policies returns all policy versions
func (m *MockPolicyRepository) Policies(ctx context.Context) ([]domain.BucketPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.BucketPolicy(nil), m.policies...), m.err
}

// Assignments returns the assignments of one policy version
func (m *MockPolicyRepository) Assignments(ctx context.Context, policyID int64) ([]domain.BucketAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.BucketAssignment
	for _, a := range m.assignments {
		if a.PolicyID == policyID {
			out = append(out, a)
		}
	}
	return out, nil
}

// MockTransactionHistory is an in-memory TransactionHistory for testing
type MockTransactionHistory struct {
	mu           sync.RWMutex
	transactions []domain.Transaction
	err          error
}

// NewMockTransactionHistory creates a new mock transaction history
func NewMockTransactionHistory() *MockTransactionHistory {
	return &MockTransactionHistory{}
}

// SetTransactions sets the transactions to return
func (m *MockTransactionHistory) SetTransactions(txs []domain.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = txs
}

// SetError sets the error to return
func (m *MockTransactionHistory) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Transactions returns transactions in the accounts dated within [from, to]
func (m *MockTransactionHistory) Transactions(ctx context.Context, accountIDs []int64, from, to time.Time) ([]domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	in := accountFilter(accountIDs)
	var out []domain.Transaction
	for _, tx := range m.transactions {
		if in(tx.AccountID) && !tx.Date.Before(from) && !tx.Date.After(to) {
			out = append(out, tx)
		}
	}
	return out, nil
}

// MockPriceSource is an in-memory PriceSource for testing
type MockPriceSource struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	calls  int
	err    error
}

// NewMockPriceSource creates a new mock price source
func NewMockPriceSource() *MockPriceSource {
	return &MockPriceSource{prices: make(map[string]decimal.Decimal)}
}

// SetPrice sets the price of one ticker
func (m *MockPriceSource) SetPrice(ticker string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[ticker] = price
}

// SetError sets the error to return
func (m *MockPriceSource) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times LatestPrices was called
func (m *MockPriceSource) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// LatestPrices returns known prices for the tickers
func (m *MockPriceSource) LatestPrices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]decimal.Decimal, len(tickers))
	for _, t := range tickers {
		if p, ok := m.prices[t]; ok {
			out[t] = p
		}
	}
	return out, nil
}

// MockAuditSink records audit facts in memory
type MockAuditSink struct {
	mu    sync.Mutex
	facts []domain.AuditFact
	err   error
}

// NewMockAuditSink creates a new mock audit sink
func NewMockAuditSink() *MockAuditSink {
	return &MockAuditSink{}
}

// SetError sets the error to return
func (m *MockAuditSink) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Record appends facts
func (m *MockAuditSink) Record(ctx context.Context, facts []domain.AuditFact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.facts = append(m.facts, facts...)
	return nil
}

// Facts returns recorded facts
func (m *MockAuditSink) Facts() []domain.AuditFact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditFact(nil), m.facts...)
}

// MockPlanArchiver records archived plans in memory
type MockPlanArchiver struct {
	mu    sync.Mutex
	plans []domain.Plan
	err   error
}

// NewMockPlanArchiver creates a new mock plan archiver
func NewMockPlanArchiver() *MockPlanArchiver {
	return &MockPlanArchiver{}
}

// SetError sets the error to return
func (m *MockPlanArchiver) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Archive records the plan
func (m *MockPlanArchiver) Archive(ctx context.Context, plan domain.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.plans = append(m.plans, plan)
	return nil
}

// Archived returns archived plan IDs
func (m *MockPlanArchiver) Archived() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.plans))
	for _, p := range m.plans {
		ids = append(ids, p.ID)
	}
	sort.Strings(ids)
	return ids
}

// NoopSnapshotter runs the callback with the caller's context
type NoopSnapshotter struct {
	mu    sync.Mutex
	calls int
}

// ReadSnapshot calls fn directly
func (s *NoopSnapshotter) ReadSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return fn(ctx)
}

// Calls returns how many snapshots were opened
func (s *NoopSnapshotter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func accountFilter(ids []int64) func(int64) bool {
	if ids == nil {
		return func(int64) bool { return true }
	}
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return func(id int64) bool { return set[id] }
}
