package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/aristath/bucketplan/internal/modules/planning"
	"github.com/rs/zerolog"
)

// DriftReporter computes drift for a scope
type DriftReporter interface {
	Drift(ctx context.Context, scope domain.TaxpayerScope, asOf time.Time) (planning.DriftView, error)
}

// DriftMonitorJob computes household drift and logs every policy violation.
// It never plans or trades.
type DriftMonitorJob struct {
	drift   DriftReporter
	timeout time.Duration
	log     zerolog.Logger

	mu   sync.Mutex
	last *planning.DriftView
}

// NewDriftMonitorJob creates a drift monitor over scope BOTH
func NewDriftMonitorJob(drift DriftReporter, log zerolog.Logger) *DriftMonitorJob {
	return &DriftMonitorJob{
		drift:   drift,
		timeout: time.Minute,
		log:     log.With().Str("job", "drift_monitor").Logger(),
	}
}

// Name returns the job name
func (j *DriftMonitorJob) Name() string {
	return "drift_monitor"
}

// Run executes the drift check
func (j *DriftMonitorJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	view, err := j.drift.Drift(ctx, domain.ScopeBoth, time.Time{})
	if err != nil {
		return fmt.Errorf("drift check failed: %w", err)
	}

	violations := 0
	for _, tp := range view.Taxpayers {
		for _, row := range tp.Report.Buckets {
			if row.Status != domain.StatusRed {
				continue
			}
			j.log.Warn().
				Int64("taxpayer_id", tp.TaxpayerID).
				Str("bucket", string(row.Bucket)).
				Str("actual_pct", row.ActualPct.StringFixed(4)).
				Str("reason", row.Reason).
				Msg("Bucket out of band")
		}
		for _, v := range tp.Report.Violations {
			violations++
			j.log.Warn().
				Int64("taxpayer_id", tp.TaxpayerID).
				Str("kind", v.Kind).
				Str("bucket", string(v.Bucket)).
				Str("ticker", v.Ticker).
				Msg(v.Message)
		}
	}

	j.log.Info().
		Str("as_of", view.AsOf.Format(domain.DateLayout)).
		Str("total_value", view.Total.TotalValue.StringFixed(2)).
		Float64("l1_drift", view.Total.L1).
		Float64("l2_drift", view.Total.L2).
		Int("violations", violations).
		Int("warnings", len(view.Warnings)).
		Msg("Drift check completed")

	j.mu.Lock()
	j.last = &view
	j.mu.Unlock()
	return nil
}

// Last returns the most recent drift view, if any
func (j *DriftMonitorJob) Last() (planning.DriftView, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.last == nil {
		return planning.DriftView{}, false
	}
	return *j.last, true
}
