package portfolio

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/bucketplan/internal/database"
	"github.com/aristath/bucketplan/internal/domain"
)

// DefaultTaxpayers are the household's two taxpayer entities
func DefaultTaxpayers() []domain.TaxpayerEntity {
	return []domain.TaxpayerEntity{
		{ID: 1, Name: "Trust", Type: domain.TaxpayerTrust},
		{ID: 2, Name: "Personal", Type: domain.TaxpayerPersonal},
	}
}

// DefaultAccounts are the household's brokerage accounts
func DefaultAccounts() []domain.Account {
	return []domain.Account{
		{ID: 1, Name: "IB Taxable", Broker: "Interactive Brokers", Type: domain.AccountTaxable, TaxpayerEntityID: 1},
		{ID: 2, Name: "RJ Taxable", Broker: "Raymond James", Type: domain.AccountTaxable, TaxpayerEntityID: 1},
		{ID: 3, Name: "Chase IRA", Broker: "Chase", Type: domain.AccountTaxDeferred, TaxpayerEntityID: 2},
	}
}

// SeedDefaults creates the default taxpayers and accounts when no taxpayer
// exists yet. Returns whether anything was written.
func (r *PositionRepository) SeedDefaults(ctx context.Context) (bool, error) {
	var n int
	if err := r.db.Conn().QueryRowContext(ctx, `SELECT count(*) FROM taxpayer_entities`).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to count taxpayers: %w", err)
	}
	if n > 0 {
		r.log.Debug().Int("taxpayers", n).Msg("Taxpayers exist, skipping default setup")
		return false, nil
	}

	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		for _, tp := range DefaultTaxpayers() {
			if _, err := tx.ExecContext(ctx, `INSERT INTO taxpayer_entities (id, name, type) VALUES (?, ?, ?)`,
				tp.ID, tp.Name, string(tp.Type)); err != nil {
				return fmt.Errorf("failed to seed taxpayer %s: %w", tp.Name, err)
			}
		}
		for _, a := range DefaultAccounts() {
			if _, err := tx.ExecContext(ctx, `INSERT INTO accounts (id, name, broker, type, taxpayer_entity_id) VALUES (?, ?, ?, ?, ?)`,
				a.ID, a.Name, a.Broker, string(a.Type), a.TaxpayerEntityID); err != nil {
				return fmt.Errorf("failed to seed account %s: %w", a.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	r.log.Info().
		Int("taxpayers", len(DefaultTaxpayers())).
		Int("accounts", len(DefaultAccounts())).
		Msg("Seeded default taxpayers and accounts")
	return true, nil
}
