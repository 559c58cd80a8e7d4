package config

import (
	"testing"
	"time"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PLANNER_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.SeedDefaults)
	assert.Equal(t, 5*time.Minute, cfg.PriceCacheTTL)
	assert.Equal(t, "0 0 6 * * *", cfg.DriftCheckSchedule)
	assert.False(t, cfg.Archive.Enabled)

	opts := cfg.PlannerOptions()
	want := domain.DefaultPlannerOptions()
	assert.Equal(t, want.LotStrategy, opts.LotStrategy)
	assert.True(t, want.PlaceholderPrice.Equal(opts.PlaceholderPrice))
	assert.True(t, want.MinTradeValue.Equal(opts.MinTradeValue))
	assert.True(t, want.MaterialityThreshold.Equal(opts.MaterialityThreshold))
	assert.Equal(t, 30, opts.WashWindowDays)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PLANNER_DATA_DIR", t.TempDir())
	t.Setenv("PORT", "9001")
	t.Setenv("PLACEHOLDER_PRICE", "2.5")
	t.Setenv("WASH_WINDOW_DAYS", "31")
	t.Setenv("LOT_STRATEGY", "fifo")
	t.Setenv("PRICE_CACHE_TTL", "90s")
	t.Setenv("SEED_DEFAULTS", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Port)
	assert.Equal(t, "2.5", cfg.PlaceholderPrice.String())
	assert.Equal(t, 31, cfg.WashWindowDays)
	assert.Equal(t, domain.LotStrategyFIFO, cfg.LotStrategy)
	assert.Equal(t, 90*time.Second, cfg.PriceCacheTTL)
	assert.True(t, cfg.SeedDefaults)
}

func TestLoad_RejectsShortWashWindow(t *testing.T) {
	t.Setenv("PLANNER_DATA_DIR", t.TempDir())
	t.Setenv("WASH_WINDOW_DAYS", "10")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wash_window_days")
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("PLANNER_DATA_DIR", t.TempDir())
	t.Setenv("PORT", "eighty")
	t.Setenv("MIN_TRADE_VALUE", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "250", cfg.MinTradeValue.String())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}, "LOG_LEVEL"},
		{"bad lot strategy", map[string]string{"LOT_STRATEGY": "RANDOM"}, "planner defaults"},
		{"zero placeholder price", map[string]string{"PLACEHOLDER_PRICE": "0"}, "planner defaults"},
		{"bad cron", map[string]string{"DRIFT_CHECK_SCHEDULE": "every morning"}, "DRIFT_CHECK_SCHEDULE"},
		{"archive without bucket", map[string]string{"ARCHIVE_ENABLED": "true"}, "ARCHIVE_BUCKET"},
		{"archive without credentials", map[string]string{"ARCHIVE_ENABLED": "true", "ARCHIVE_BUCKET": "plans"}, "credentials"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PLANNER_DATA_DIR", t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
