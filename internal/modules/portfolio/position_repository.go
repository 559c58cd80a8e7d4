package portfolio

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/bucketplan/internal/database"
	"github.com/aristath/bucketplan/internal/domain"
	"github.com/rs/zerolog"
)

// SecurityProvider supplies the security master.
// Defined here to avoid import cycle with universe package
type SecurityProvider interface {
	Securities(ctx context.Context) ([]domain.Security, error)
}

// PositionRepository handles taxpayer, account, lot, position and cash
// operations. Database: portfolio.db
//
// Reads go through the snapshot transaction carried in the context when
// there is one.
type PositionRepository struct {
	db         *database.DB
	securities SecurityProvider
	log        zerolog.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db *database.DB, securities SecurityProvider, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		db:         db,
		securities: securities,
		log:        log.With().Str("repo", "position").Logger(),
	}
}

// Taxpayers returns all taxpayer entities ordered by ID
func (r *PositionRepository) Taxpayers(ctx context.Context) ([]domain.TaxpayerEntity, error) {
	rows, err := r.db.Querier(ctx).QueryContext(ctx,
		`SELECT id, name, type, COALESCE(notes, '') FROM taxpayer_entities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query taxpayers: %w", err)
	}
	defer rows.Close()

	taxpayers := []domain.TaxpayerEntity{}
	for rows.Next() {
		var tp domain.TaxpayerEntity
		var typ string
		if err := rows.Scan(&tp.ID, &tp.Name, &typ, &tp.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan taxpayer: %w", err)
		}
		tp.Type = domain.TaxpayerType(typ)
		taxpayers = append(taxpayers, tp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating taxpayers: %w", err)
	}
	return taxpayers, nil
}

// Accounts returns all accounts ordered by ID
func (r *PositionRepository) Accounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.db.Querier(ctx).QueryContext(ctx,
		`SELECT id, name, COALESCE(broker, ''), type, taxpayer_entity_id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	accounts := []domain.Account{}
	for rows.Next() {
		var a domain.Account
		var typ string
		if err := rows.Scan(&a.ID, &a.Name, &a.Broker, &typ, &a.TaxpayerEntityID); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.Type = domain.AccountType(typ)
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

// Securities returns the security master from the security provider
func (r *PositionRepository) Securities(ctx context.Context) ([]domain.Security, error) {
	if r.securities == nil {
		return nil, fmt.Errorf("no security provider configured")
	}
	return r.securities.Securities(ctx)
}

// Lots returns open lots of the given accounts (nil means all), ordered by
// account, ticker, acquisition date and ID.
func (r *PositionRepository) Lots(ctx context.Context, accountIDs []int64) ([]domain.PositionLot, error) {
	where, args, ok := database.InClause("account_id", accountIDs)
	if !ok {
		return []domain.PositionLot{}, nil
	}
	rows, err := r.db.Querier(ctx).QueryContext(ctx, `SELECT id, account_id, ticker, acquisition_date,
		quantity, basis_total, adjusted_basis_total
		FROM position_lots WHERE `+where+`
		ORDER BY account_id, ticker, acquisition_date, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	lots := []domain.PositionLot{}
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lots: %w", err)
	}
	return lots, nil
}

func scanLot(rows *sql.Rows) (domain.PositionLot, error) {
	var lot domain.PositionLot
	var acquired, qty, basis string
	var adjusted sql.NullString
	if err := rows.Scan(&lot.ID, &lot.AccountID, &lot.Ticker, &acquired, &qty, &basis, &adjusted); err != nil {
		return lot, fmt.Errorf("failed to scan lot: %w", err)
	}

	var err error
	if lot.AcquisitionDate, err = database.ParseDate(acquired); err != nil {
		return lot, fmt.Errorf("lot %d: %w", lot.ID, err)
	}
	if lot.Quantity, err = database.ParseDecimal("quantity", qty); err != nil {
		return lot, fmt.Errorf("lot %d: %w", lot.ID, err)
	}
	if lot.BasisTotal, err = database.ParseDecimal("basis_total", basis); err != nil {
		return lot, fmt.Errorf("lot %d: %w", lot.ID, err)
	}
	if lot.AdjustedBasisTotal, err = database.ParseNullDecimal("adjusted_basis_total", adjusted); err != nil {
		return lot, fmt.Errorf("lot %d: %w", lot.ID, err)
	}
	return lot, nil
}

// Positions returns broker-reported positions of the given accounts
func (r *PositionRepository) Positions(ctx context.Context, accountIDs []int64) ([]domain.Position, error) {
	where, args, ok := database.InClause("account_id", accountIDs)
	if !ok {
		return []domain.Position{}, nil
	}
	rows, err := r.db.Querier(ctx).QueryContext(ctx,
		`SELECT account_id, ticker, quantity FROM positions WHERE `+where+` ORDER BY account_id, ticker`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	positions := []domain.Position{}
	for rows.Next() {
		var p domain.Position
		var qty string
		if err := rows.Scan(&p.AccountID, &p.Ticker, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		if p.Quantity, err = database.ParseDecimal("quantity", qty); err != nil {
			return nil, fmt.Errorf("position %d/%s: %w", p.AccountID, p.Ticker, err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return positions, nil
}

// CashBalances returns the latest balance dated on or before asOf for each
// of the given accounts. Accounts without such a balance are omitted.
func (r *PositionRepository) CashBalances(ctx context.Context, accountIDs []int64, asOf time.Time) ([]domain.CashBalance, error) {
	where, args, ok := database.InClause("c.account_id", accountIDs)
	if !ok {
		return []domain.CashBalance{}, nil
	}
	day := database.FormatDate(asOf)
	query := `SELECT c.account_id, c.as_of, c.amount FROM cash_balances c
		WHERE ` + where + ` AND c.as_of = (
			SELECT MAX(as_of) FROM cash_balances WHERE account_id = c.account_id AND as_of <= ?
		)
		ORDER BY c.account_id`
	rows, err := r.db.Querier(ctx).QueryContext(ctx, query, append(args, day)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cash balances: %w", err)
	}
	defer rows.Close()

	balances := []domain.CashBalance{}
	for rows.Next() {
		var c domain.CashBalance
		var date, amount string
		if err := rows.Scan(&c.AccountID, &date, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan cash balance: %w", err)
		}
		if c.AsOf, err = database.ParseDate(date); err != nil {
			return nil, fmt.Errorf("cash balance of account %d: %w", c.AccountID, err)
		}
		if c.Amount, err = database.ParseDecimal("amount", amount); err != nil {
			return nil, fmt.Errorf("cash balance of account %d: %w", c.AccountID, err)
		}
		balances = append(balances, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cash balances: %w", err)
	}
	return balances, nil
}

// CreateTaxpayer inserts a taxpayer entity. A zero ID is assigned by the database.
func (r *PositionRepository) CreateTaxpayer(ctx context.Context, tp domain.TaxpayerEntity) (int64, error) {
	if tp.Type != domain.TaxpayerTrust && tp.Type != domain.TaxpayerPersonal {
		return 0, fmt.Errorf("invalid taxpayer type %q", tp.Type)
	}
	res, err := r.db.Conn().ExecContext(ctx,
		`INSERT INTO taxpayer_entities (id, name, type, notes) VALUES (?, ?, ?, ?)`,
		nullID(tp.ID), tp.Name, string(tp.Type), tp.Notes)
	if err != nil {
		return 0, fmt.Errorf("failed to insert taxpayer %s: %w", tp.Name, err)
	}
	return res.LastInsertId()
}

// CreateAccount inserts an account owned by an existing taxpayer entity
func (r *PositionRepository) CreateAccount(ctx context.Context, a domain.Account) (int64, error) {
	res, err := r.db.Conn().ExecContext(ctx,
		`INSERT INTO accounts (id, name, broker, type, taxpayer_entity_id) VALUES (?, ?, ?, ?, ?)`,
		nullID(a.ID), a.Name, a.Broker, string(a.Type), a.TaxpayerEntityID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert account %s: %w", a.Name, err)
	}
	return res.LastInsertId()
}

// AddLot inserts an open lot
func (r *PositionRepository) AddLot(ctx context.Context, lot domain.PositionLot) (int64, error) {
	if !lot.Quantity.IsPositive() {
		return 0, fmt.Errorf("lot quantity must be positive, got %s", lot.Quantity)
	}
	res, err := r.db.Conn().ExecContext(ctx, `INSERT INTO position_lots
		(id, account_id, ticker, acquisition_date, quantity, basis_total, adjusted_basis_total)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullID(lot.ID), lot.AccountID, lot.Ticker, database.FormatDate(lot.AcquisitionDate),
		lot.Quantity.String(), lot.BasisTotal.String(), database.NullDecimal(lot.AdjustedBasisTotal))
	if err != nil {
		return 0, fmt.Errorf("failed to insert lot %s in account %d: %w", lot.Ticker, lot.AccountID, err)
	}
	return res.LastInsertId()
}

// SetPosition upserts a broker-reported position
func (r *PositionRepository) SetPosition(ctx context.Context, p domain.Position) error {
	_, err := r.db.Conn().ExecContext(ctx, `INSERT INTO positions (account_id, ticker, quantity) VALUES (?, ?, ?)
		ON CONFLICT(account_id, ticker) DO UPDATE SET quantity = excluded.quantity`,
		p.AccountID, p.Ticker, p.Quantity.String())
	if err != nil {
		return fmt.Errorf("failed to upsert position %s in account %d: %w", p.Ticker, p.AccountID, err)
	}
	return nil
}

// SetCash upserts a dated cash balance
func (r *PositionRepository) SetCash(ctx context.Context, c domain.CashBalance) error {
	_, err := r.db.Conn().ExecContext(ctx, `INSERT INTO cash_balances (account_id, as_of, amount) VALUES (?, ?, ?)
		ON CONFLICT(account_id, as_of) DO UPDATE SET amount = excluded.amount`,
		c.AccountID, database.FormatDate(c.AsOf), c.Amount.String())
	if err != nil {
		return fmt.Errorf("failed to upsert cash balance for account %d: %w", c.AccountID, err)
	}
	return nil
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}
