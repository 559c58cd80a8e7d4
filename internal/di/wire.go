package di

import (
	"context"
	"fmt"

	"github.com/aristath/bucketplan/internal/config"
	"github.com/rs/zerolog"
)

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
// 1. Initialize databases
// 2. Initialize repositories (and seed defaults when enabled)
// 3. Initialize services
// 4. Register jobs
func Wire(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	fail := func(step string, err error) (*Container, error) {
		container.Close()
		return nil, fmt.Errorf("failed to %s: %w", step, err)
	}

	if err := InitializeRepositories(container, log); err != nil {
		return fail("initialize repositories", err)
	}
	if cfg.SeedDefaults {
		if err := SeedDefaults(ctx, container, log); err != nil {
			return fail("seed defaults", err)
		}
	}
	if err := InitializeServices(ctx, container, cfg, log); err != nil {
		return fail("initialize services", err)
	}
	if err := RegisterJobs(container, cfg, log); err != nil {
		return fail("register jobs", err)
	}

	log.Info().Msg("Dependency injection wiring completed successfully")
	return container, nil
}
