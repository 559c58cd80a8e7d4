package universe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aristath/bucketplan/internal/database"
	"github.com/aristath/bucketplan/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrSecurityNotFound is returned when a ticker is not in the security master
var ErrSecurityNotFound = errors.New("security not found")

// SecurityRepository handles security master operations
// Database: portfolio.db (securities, substitute_groups tables)
type SecurityRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewSecurityRepository creates a new security repository
func NewSecurityRepository(db *database.DB, log zerolog.Logger) *SecurityRepository {
	return &SecurityRepository{
		db:  db,
		log: log.With().Str("repo", "security").Logger(),
	}
}

const securityColumns = `ticker, COALESCE(name, ''), asset_class, substitute_group_id, expense_ratio, last_price`

// Securities returns every security ordered by ticker
func (r *SecurityRepository) Securities(ctx context.Context) ([]domain.Security, error) {
	rows, err := r.db.Querier(ctx).QueryContext(ctx, `SELECT `+securityColumns+` FROM securities ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("failed to query securities: %w", err)
	}
	defer rows.Close()

	securities := []domain.Security{}
	for rows.Next() {
		sec, err := scanSecurity(rows)
		if err != nil {
			return nil, err
		}
		securities = append(securities, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating securities: %w", err)
	}
	return securities, nil
}

// GetByTicker returns one security
func (r *SecurityRepository) GetByTicker(ctx context.Context, ticker string) (domain.Security, error) {
	row := r.db.Querier(ctx).QueryRowContext(ctx, `SELECT `+securityColumns+` FROM securities WHERE ticker = ?`, ticker)
	sec, err := scanSecurity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Security{}, fmt.Errorf("%s: %w", ticker, ErrSecurityNotFound)
	}
	return sec, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSecurity(s scanner) (domain.Security, error) {
	var sec domain.Security
	var group sql.NullInt64
	var expenseRatio string
	var lastPrice sql.NullString
	if err := s.Scan(&sec.Ticker, &sec.Name, &sec.AssetClass, &group, &expenseRatio, &lastPrice); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sec, err
		}
		return sec, fmt.Errorf("failed to scan security: %w", err)
	}
	if group.Valid {
		id := group.Int64
		sec.SubstituteGroupID = &id
	}

	var err error
	if sec.ExpenseRatio, err = database.ParseDecimal("expense_ratio", expenseRatio); err != nil {
		return sec, fmt.Errorf("security %s: %w", sec.Ticker, err)
	}
	if sec.LastPrice, err = database.ParseNullDecimal("last_price", lastPrice); err != nil {
		return sec, fmt.Errorf("security %s: %w", sec.Ticker, err)
	}
	return sec, nil
}

// Upsert inserts or replaces a security's master data. The stored last
// price is kept when sec.LastPrice is nil.
func (r *SecurityRepository) Upsert(ctx context.Context, sec domain.Security) error {
	if sec.Ticker == "" {
		return fmt.Errorf("security ticker is required")
	}
	if sec.AssetClass == "" {
		return fmt.Errorf("security %s: asset class is required", sec.Ticker)
	}
	var group sql.NullInt64
	if sec.SubstituteGroupID != nil {
		group = sql.NullInt64{Int64: *sec.SubstituteGroupID, Valid: true}
	}

	_, err := r.db.Conn().ExecContext(ctx, `INSERT INTO securities
		(ticker, name, asset_class, substitute_group_id, expense_ratio, last_price)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			name = excluded.name,
			asset_class = excluded.asset_class,
			substitute_group_id = excluded.substitute_group_id,
			expense_ratio = excluded.expense_ratio,
			last_price = COALESCE(excluded.last_price, securities.last_price)`,
		sec.Ticker, sec.Name, sec.AssetClass, group, sec.ExpenseRatio.String(), database.NullDecimal(sec.LastPrice))
	if err != nil {
		return fmt.Errorf("failed to upsert security %s: %w", sec.Ticker, err)
	}
	r.log.Debug().Str("ticker", sec.Ticker).Msg("Security upserted")
	return nil
}

// UpdateLastPrice records the latest known price of a security
func (r *SecurityRepository) UpdateLastPrice(ctx context.Context, ticker string, price decimal.Decimal) error {
	res, err := r.db.Conn().ExecContext(ctx, `UPDATE securities SET last_price = ? WHERE ticker = ?`, price.String(), ticker)
	if err != nil {
		return fmt.Errorf("failed to update last price of %s: %w", ticker, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", ticker, ErrSecurityNotFound)
	}
	return nil
}

// CreateSubstituteGroup registers a group of substantially identical securities
func (r *SecurityRepository) CreateSubstituteGroup(ctx context.Context, id int64, name string) error {
	_, err := r.db.Conn().ExecContext(ctx, `INSERT INTO substitute_groups (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`, id, name)
	if err != nil {
		return fmt.Errorf("failed to upsert substitute group %d: %w", id, err)
	}
	return nil
}
