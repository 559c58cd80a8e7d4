package di

import (
	"fmt"

	"github.com/aristath/bucketplan/internal/config"
	"github.com/aristath/bucketplan/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs creates the scheduler and registers the drift monitor and
// WAL checkpoint jobs. The scheduler is not started.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container.PlanningService == nil {
		return fmt.Errorf("services must be initialized before jobs")
	}

	container.Scheduler = scheduler.New(log)
	container.DriftMonitor = scheduler.NewDriftMonitorJob(container.PlanningService, log)
	container.WALCheck = scheduler.NewCheckWALCheckpointsJob(log, container.Databases()...)

	if err := container.Scheduler.AddJob(cfg.DriftCheckSchedule, container.DriftMonitor); err != nil {
		return fmt.Errorf("failed to register drift monitor: %w", err)
	}
	if err := container.Scheduler.AddJob(cfg.WALCheckSchedule, container.WALCheck); err != nil {
		return fmt.Errorf("failed to register WAL checkpoint job: %w", err)
	}
	return nil
}
