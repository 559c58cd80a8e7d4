package di

import (
	"context"
	"fmt"

	"github.com/aristath/bucketplan/internal/modules/allocation"
	"github.com/aristath/bucketplan/internal/modules/ledger"
	planningrepo "github.com/aristath/bucketplan/internal/modules/planning/repository"
	"github.com/aristath/bucketplan/internal/modules/portfolio"
	"github.com/aristath/bucketplan/internal/modules/universe"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates all repositories over the open databases
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container.PortfolioDB == nil || container.LedgerDB == nil {
		return fmt.Errorf("databases must be initialized before repositories")
	}

	container.SecurityRepo = universe.NewSecurityRepository(container.PortfolioDB, log)
	container.PositionRepo = portfolio.NewPositionRepository(container.PortfolioDB, container.SecurityRepo, log)
	container.PolicyRepo = allocation.NewRepository(container.PortfolioDB, log)

	container.TransactionRepo = ledger.NewTransactionRepository(container.LedgerDB, log)
	container.AuditRepo = ledger.NewAuditRepository(container.LedgerDB, log)
	container.PlanRepo = planningrepo.NewPlanRepository(container.LedgerDB, log)

	log.Debug().Msg("Repositories initialized")
	return nil
}

// SeedDefaults creates the default taxpayers, accounts and household policy
// on empty databases. Existing data is never touched.
func SeedDefaults(ctx context.Context, container *Container, log zerolog.Logger) error {
	seeded, err := container.PositionRepo.SeedDefaults(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed default setup: %w", err)
	}
	policySeeded, err := container.PolicyRepo.SeedDefaultPolicy(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed default policy: %w", err)
	}

	log.Info().
		Bool("setup_seeded", seeded).
		Bool("policy_seeded", policySeeded).
		Msg("Default setup checked")
	return nil
}
