package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PositionRepository exposes holdings for one read snapshot.
// accountIDs filters by account; nil means all accounts.
type PositionRepository interface {
	Taxpayers(ctx context.Context) ([]TaxpayerEntity, error)
	Accounts(ctx context.Context) ([]Account, error)
	Securities(ctx context.Context) ([]Security, error)
	Lots(ctx context.Context, accountIDs []int64) ([]PositionLot, error)
	Positions(ctx context.Context, accountIDs []int64) ([]Position, error)
	CashBalances(ctx context.Context, accountIDs []int64, asOf time.Time) ([]CashBalance, error)
}

// PolicyRepository exposes versioned bucket policies and their assignments
type PolicyRepository interface {
	Policies(ctx context.Context) ([]BucketPolicy, error)
	Assignments(ctx context.Context, policyID int64) ([]BucketAssignment, error)
}

// TransactionHistory exposes executed transactions for wash evidence and YTD baselines
type TransactionHistory interface {
	Transactions(ctx context.Context, accountIDs []int64, from, to time.Time) ([]Transaction, error)
}

// PriceSource returns current prices. Tickers without a price are omitted.
type PriceSource interface {
	LatestPrices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error)
}

// AuditSink durably records audit facts
type AuditSink interface {
	Record(ctx context.Context, facts []AuditFact) error
}

// PlanStore persists write-once plans
type PlanStore interface {
	Save(ctx context.Context, plan Plan) error
	Get(ctx context.Context, id string) (Plan, error)
	List(ctx context.Context, limit int) ([]PlanSummary, error)
}

// PlanArchiver copies finalized plans to long-term storage
type PlanArchiver interface {
	Archive(ctx context.Context, plan Plan) error
}
