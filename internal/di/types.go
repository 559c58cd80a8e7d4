// Package di wires databases, repositories, services and jobs into a Container.
package di

import (
	"errors"

	"github.com/aristath/bucketplan/internal/database"
	"github.com/aristath/bucketplan/internal/modules/allocation"
	"github.com/aristath/bucketplan/internal/modules/ledger"
	"github.com/aristath/bucketplan/internal/modules/planning"
	planningrepo "github.com/aristath/bucketplan/internal/modules/planning/repository"
	"github.com/aristath/bucketplan/internal/modules/portfolio"
	"github.com/aristath/bucketplan/internal/modules/universe"
	"github.com/aristath/bucketplan/internal/reliability"
	"github.com/aristath/bucketplan/internal/scheduler"
)

// Container holds all dependencies for the application.
// It is created by Wire() and passed to the server.
type Container struct {
	// Databases
	PortfolioDB *database.DB // taxpayers, accounts, securities, lots, positions, cash, policies
	LedgerDB    *database.DB // transactions, plans, audit log (append-only)
	Snapshotter *database.Snapshotter

	// Repositories
	SecurityRepo    *universe.SecurityRepository
	PositionRepo    *portfolio.PositionRepository
	PolicyRepo      *allocation.Repository
	TransactionRepo *ledger.TransactionRepository
	AuditRepo       *ledger.AuditRepository
	PlanRepo        *planningrepo.PlanRepository

	// Services
	PriceSource     *universe.PriceSource
	PlanArchiver    *reliability.PlanArchiver // nil when archiving is disabled
	PlanningService *planning.Service

	// Jobs
	Scheduler    *scheduler.Scheduler
	DriftMonitor *scheduler.DriftMonitorJob
	WALCheck     *scheduler.CheckWALCheckpointsJob
}

// Databases returns the open databases in a stable order
func (c *Container) Databases() []*database.DB {
	var dbs []*database.DB
	for _, db := range []*database.DB{c.PortfolioDB, c.LedgerDB} {
		if db != nil {
			dbs = append(dbs, db)
		}
	}
	return dbs
}

// Close closes every open database
func (c *Container) Close() error {
	var errs []error
	for _, db := range c.Databases() {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
