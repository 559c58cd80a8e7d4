// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// Config holds application configuration
type Config struct {
	DataDir      string // Base directory for portfolio.db and ledger.db (always absolute)
	LogLevel     string
	Port         int
	DevMode      bool
	SeedDefaults bool // Create default taxpayers, accounts and policy on an empty database

	// Planner defaults, overridable per request
	PlaceholderPrice     decimal.Decimal
	MinTradeValue        decimal.Decimal
	MaterialityThreshold decimal.Decimal
	WashWindowDays       int
	LotStrategy          domain.LotStrategy

	PriceCacheTTL      time.Duration
	DriftCheckSchedule string // cron spec with seconds
	WALCheckSchedule   string

	Archive ArchiveConfig
}

// ArchiveConfig configures the S3-compatible archive of finalized plans
type ArchiveConfig struct {
	Enabled         bool
	Bucket          string
	Endpoint        string // empty means AWS S3
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("PLANNER_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	defaults := domain.DefaultPlannerOptions()
	cfg := &Config{
		DataDir:      absDataDir,
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		Port:         getEnvAsInt("PORT", 8080),
		DevMode:      getEnvAsBool("DEV_MODE", false),
		SeedDefaults: getEnvAsBool("SEED_DEFAULTS", false),

		PlaceholderPrice:     getEnvAsDecimal("PLACEHOLDER_PRICE", defaults.PlaceholderPrice),
		MinTradeValue:        getEnvAsDecimal("MIN_TRADE_VALUE", defaults.MinTradeValue),
		MaterialityThreshold: getEnvAsDecimal("MATERIALITY_THRESHOLD", defaults.MaterialityThreshold),
		WashWindowDays:       getEnvAsInt("WASH_WINDOW_DAYS", defaults.WashWindowDays),
		LotStrategy:          domain.LotStrategy(strings.ToUpper(getEnv("LOT_STRATEGY", string(defaults.LotStrategy)))),

		PriceCacheTTL:      getEnvAsDuration("PRICE_CACHE_TTL", 5*time.Minute),
		DriftCheckSchedule: getEnv("DRIFT_CHECK_SCHEDULE", "0 0 6 * * *"),
		WALCheckSchedule:   getEnv("WAL_CHECK_SCHEDULE", "0 */30 * * * *"),

		Archive: ArchiveConfig{
			Enabled:         getEnvAsBool("ARCHIVE_ENABLED", false),
			Bucket:          getEnv("ARCHIVE_BUCKET", ""),
			Endpoint:        getEnv("ARCHIVE_ENDPOINT", ""),
			Region:          getEnv("ARCHIVE_REGION", "auto"),
			AccessKeyID:     getEnv("ARCHIVE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_SECRET_ACCESS_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// PlannerOptions returns the configured planner defaults
func (c *Config) PlannerOptions() domain.PlannerOptions {
	return domain.PlannerOptions{
		LotStrategy:          c.LotStrategy,
		MinTradeValue:        c.MinTradeValue,
		PlaceholderPrice:     c.PlaceholderPrice,
		MaterialityThreshold: c.MaterialityThreshold,
		WashWindowDays:       c.WashWindowDays,
	}
}

// Validate checks if required configuration is present and consistent
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel)
	}
	if err := c.PlannerOptions().Validate(); err != nil {
		return fmt.Errorf("invalid planner defaults: %w", err)
	}
	if c.PriceCacheTTL <= 0 {
		return fmt.Errorf("PRICE_CACHE_TTL must be positive")
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{"DRIFT_CHECK_SCHEDULE": c.DriftCheckSchedule, "WAL_CHECK_SCHEDULE": c.WALCheckSchedule} {
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, spec, err)
		}
	}

	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			return fmt.Errorf("ARCHIVE_BUCKET is required when ARCHIVE_ENABLED is set")
		}
		if c.Archive.AccessKeyID == "" || c.Archive.SecretAccessKey == "" {
			return fmt.Errorf("archive credentials are required when ARCHIVE_ENABLED is set")
		}
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
