package di

import (
	"context"
	"fmt"

	"github.com/aristath/bucketplan/internal/config"
	"github.com/aristath/bucketplan/internal/modules/planning"
	"github.com/aristath/bucketplan/internal/modules/universe"
	"github.com/aristath/bucketplan/internal/reliability"
	"github.com/rs/zerolog"
)

// InitializeServices creates the price source, the optional plan archiver
// and the planning service
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container.SecurityRepo == nil {
		return fmt.Errorf("repositories must be initialized before services")
	}

	// No live quote feed is configured; prices come from the security master
	container.PriceSource = universe.NewPriceSource(container.SecurityRepo, nil, cfg.PriceCacheTTL, log)

	deps := planning.ServiceDeps{
		Positions: container.PositionRepo,
		Policies:  container.PolicyRepo,
		History:   container.TransactionRepo,
		Prices:    container.PriceSource,
		Plans:     container.PlanRepo,
		Audit:     container.AuditRepo,
		Snapshots: container.Snapshotter,
		Defaults:  cfg.PlannerOptions(),
	}

	if cfg.Archive.Enabled {
		archiver, err := reliability.NewS3PlanArchiver(ctx, cfg.Archive, log)
		if err != nil {
			return fmt.Errorf("failed to create plan archiver: %w", err)
		}
		container.PlanArchiver = archiver
		deps.Archiver = archiver
		log.Info().Str("bucket", cfg.Archive.Bucket).Msg("Plan archive enabled")
	}

	container.PlanningService = planning.NewService(deps, log)

	log.Debug().Msg("Services initialized")
	return nil
}
