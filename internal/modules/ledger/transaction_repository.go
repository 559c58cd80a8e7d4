// Package ledger stores executed transactions and the audit log.
// Database: ledger.db. Both tables are append-only.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/bucketplan/internal/database"
	"github.com/aristath/bucketplan/internal/domain"
	"github.com/rs/zerolog"
)

// TransactionRepository handles executed transaction records
type TransactionRepository struct {
	db    *database.DB
	clock func() time.Time
	log   zerolog.Logger
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *database.DB, log zerolog.Logger) *TransactionRepository {
	return &TransactionRepository{
		db:    db,
		clock: time.Now,
		log:   log.With().Str("repo", "transaction").Logger(),
	}
}

var validTypes = map[domain.TransactionType]bool{
	domain.TxBuy: true, domain.TxSell: true, domain.TxDividend: true, domain.TxInterest: true,
	domain.TxWithholding: true, domain.TxFee: true, domain.TxDeposit: true, domain.TxWithdrawal: true,
}

// Append records executed transactions in one database transaction and
// returns their IDs in order
func (r *TransactionRepository) Append(ctx context.Context, txs []domain.Transaction) ([]int64, error) {
	for i, t := range txs {
		if !validTypes[t.Type] {
			return nil, fmt.Errorf("transaction %d: invalid type %q", i, t.Type)
		}
		if (t.Type == domain.TxBuy || t.Type == domain.TxSell) && t.Ticker == "" {
			return nil, fmt.Errorf("transaction %d: %s requires a ticker", i, t.Type)
		}
		if t.LotTerm != "" && t.LotTerm != domain.TermShort && t.LotTerm != domain.TermLong {
			return nil, fmt.Errorf("transaction %d: invalid lot term %q", i, t.LotTerm)
		}
	}

	ids := make([]int64, 0, len(txs))
	createdAt := r.clock().UnixNano()
	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		for _, t := range txs {
			var ticker, quantity, term, acquired sql.NullString
			if t.Ticker != "" {
				ticker = sql.NullString{String: t.Ticker, Valid: true}
				quantity = sql.NullString{String: t.Quantity.String(), Valid: true}
			}
			if t.LotTerm != "" {
				term = sql.NullString{String: string(t.LotTerm), Valid: true}
			}
			if t.LotAcquisitionDate != nil {
				acquired = sql.NullString{String: database.FormatDate(*t.LotAcquisitionDate), Valid: true}
			}
			res, err := tx.ExecContext(ctx, `INSERT INTO transactions
				(account_id, date, type, ticker, quantity, amount, lot_basis_total, lot_term, lot_acquisition_date, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				t.AccountID, database.FormatDate(t.Date), string(t.Type), ticker, quantity, t.Amount.String(),
				database.NullDecimal(t.LotBasisTotal), term, acquired, createdAt)
			if err != nil {
				return fmt.Errorf("failed to insert %s transaction for account %d: %w", t.Type, t.AccountID, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Info().Int("count", len(ids)).Msg("Transactions recorded")
	return ids, nil
}

// Transactions returns executed transactions of the given accounts (nil
// means all) dated within [from, to], ordered by date then ID
func (r *TransactionRepository) Transactions(ctx context.Context, accountIDs []int64, from, to time.Time) ([]domain.Transaction, error) {
	where, args, ok := database.InClause("account_id", accountIDs)
	if !ok {
		return []domain.Transaction{}, nil
	}
	args = append(args, database.FormatDate(from), database.FormatDate(to))
	rows, err := r.db.Querier(ctx).QueryContext(ctx, `SELECT id, account_id, date, type, COALESCE(ticker, ''),
		COALESCE(quantity, '0'), amount, lot_basis_total, COALESCE(lot_term, ''), lot_acquisition_date
		FROM transactions
		WHERE `+where+` AND date >= ? AND date <= ?
		ORDER BY date, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := []domain.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txs, nil
}

func scanTransaction(rows *sql.Rows) (domain.Transaction, error) {
	var t domain.Transaction
	var date, typ, qty, amount, term string
	var basis, acquired sql.NullString
	if err := rows.Scan(&t.ID, &t.AccountID, &date, &typ, &t.Ticker, &qty, &amount, &basis, &term, &acquired); err != nil {
		return t, fmt.Errorf("failed to scan transaction: %w", err)
	}
	t.Type = domain.TransactionType(typ)
	t.LotTerm = domain.Term(term)

	var err error
	if t.Date, err = database.ParseDate(date); err != nil {
		return t, fmt.Errorf("transaction %d: %w", t.ID, err)
	}
	if t.Quantity, err = database.ParseDecimal("quantity", qty); err != nil {
		return t, fmt.Errorf("transaction %d: %w", t.ID, err)
	}
	if t.Amount, err = database.ParseDecimal("amount", amount); err != nil {
		return t, fmt.Errorf("transaction %d: %w", t.ID, err)
	}
	if t.LotBasisTotal, err = database.ParseNullDecimal("lot_basis_total", basis); err != nil {
		return t, fmt.Errorf("transaction %d: %w", t.ID, err)
	}
	if acquired.Valid {
		d, err := database.ParseDate(acquired.String)
		if err != nil {
			return t, fmt.Errorf("transaction %d: %w", t.ID, err)
		}
		t.LotAcquisitionDate = &d
	}
	return t, nil
}
