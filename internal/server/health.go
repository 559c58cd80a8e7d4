package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/bucketplan/internal/database"
)

// HostSampler samples host CPU and memory usage
type HostSampler func() (cpuPercent, memPercent float64, err error)

// HealthHandler reports database integrity and host resource usage
type HealthHandler struct {
	dbs     []*database.DB
	sampler HostSampler
	started time.Time
	log     zerolog.Logger
}

// NewHealthHandler creates a health handler over the given databases
func NewHealthHandler(dbs []*database.DB, log zerolog.Logger) *HealthHandler {
	h := &HealthHandler{
		dbs:     dbs,
		started: time.Now(),
		log:     log.With().Str("handler", "health").Logger(),
	}
	h.sampler = h.sampleHost
	return h
}

// DatabaseHealth is the health of one database
type DatabaseHealth struct {
	Healthy bool            `json:"healthy"`
	Error   string          `json:"error,omitempty"`
	Stats   *database.Stats `json:"stats,omitempty"`
}

// HealthResponse is the /health payload
type HealthResponse struct {
	Status        string                    `json:"status"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	Databases     map[string]DatabaseHealth `json:"databases"`
	CPUPercent    float64                   `json:"cpu_percent"`
	MemoryPercent float64                   `json:"memory_percent"`
	Goroutines    int                       `json:"goroutines"`
}

// ServeHTTP answers 200 when every database passes its quick check, else 503
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Databases:     make(map[string]DatabaseHealth, len(h.dbs)),
		Goroutines:    runtime.NumGoroutine(),
	}

	for _, db := range h.dbs {
		dh := DatabaseHealth{Healthy: true}
		if err := db.QuickCheck(ctx); err != nil {
			dh.Healthy = false
			dh.Error = err.Error()
			resp.Status = "degraded"
			h.log.Error().Err(err).Str("database", db.Name()).Msg("Database health check failed")
		}
		if stats, err := db.GetStats(); err == nil {
			dh.Stats = stats
		}
		resp.Databases[db.Name()] = dh
	}

	cpuPct, memPct, err := h.sampler()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to sample host resources")
	}
	resp.CPUPercent = cpuPct
	resp.MemoryPercent = memPct

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *HealthHandler) sampleHost() (float64, float64, error) {
	// 100ms sample keeps the endpoint responsive
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		return 0, 0, err
	}
	memStat, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent, nil
}
