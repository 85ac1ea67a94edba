// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/procurehq/spendguard/internal/utils"
)

// Config holds application configuration
type Config struct {
	DataDir             string // Base directory for all databases (always absolute)
	CatalogPath         string // Path to the rule catalog CSV, empty to rely on the stored catalog
	LogLevel            string
	Port                int
	DevMode             bool
	MonitorSchedule     string // Cron expression for the compliance monitor
	MonitorWindow       int    // Revalidation window for the monitor, in hours
	MaintenanceSchedule string // Cron expression for the off-peak database maintenance job

	HighRiskDefault []string // Entities treated as high-risk when a request names none
	Tunables        Tunables
}

// Tunables are the adjustment parameters of the evaluation and repair
// pipeline. Defaults match the documented behavior; deployments override
// them per environment, not per request.
type Tunables struct {
	WarningBand        float64 // Fraction of the threshold treated as the warning zone
	MaxIterations      int     // Default repair iteration budget
	MaxTransferPerPass float64 // Largest single rebalancing transfer, in share points
	MinShareEpsilon    float64 // Shares below this are folded away during renormalization
	SeedShare          float64 // Share granted to a newly introduced entity
	SumEpsilon         float64 // Allowed drift of an allocation's sum around 100
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("SPENDGUARD_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:             absDataDir,
		CatalogPath:         getEnv("SPENDGUARD_CATALOG_PATH", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		Port:                getEnvAsInt("SPENDGUARD_PORT", 8080),
		DevMode:             getEnvAsBool("DEV_MODE", false),
		MonitorSchedule:     getEnv("SPENDGUARD_MONITOR_SCHEDULE", "0 * * * *"),
		MonitorWindow:       getEnvAsInt("SPENDGUARD_MONITOR_WINDOW_HOURS", 24),
		MaintenanceSchedule: getEnv("SPENDGUARD_MAINTENANCE_SCHEDULE", "0 3 * * *"),
		HighRiskDefault:     utils.ParseCSV(getEnv("SPENDGUARD_HIGH_RISK_ENTITIES", "")),
		Tunables: Tunables{
			WarningBand:        getEnvAsFloat("SPENDGUARD_WARNING_BAND", 0.10),
			MaxIterations:      getEnvAsInt("SPENDGUARD_MAX_ITERATIONS", 5),
			MaxTransferPerPass: getEnvAsFloat("SPENDGUARD_MAX_TRANSFER", 10.0),
			MinShareEpsilon:    getEnvAsFloat("SPENDGUARD_MIN_SHARE", 1.0),
			SeedShare:          getEnvAsFloat("SPENDGUARD_SEED_SHARE", 5.0),
			SumEpsilon:         getEnvAsFloat("SPENDGUARD_SUM_EPSILON", 0.5),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Tunables.WarningBand < 0 || c.Tunables.WarningBand >= 1 {
		return fmt.Errorf("warning band must be in [0, 1), got %g", c.Tunables.WarningBand)
	}
	if c.Tunables.MaxIterations <= 0 {
		return fmt.Errorf("max iterations must be positive, got %d", c.Tunables.MaxIterations)
	}
	if c.Tunables.SumEpsilon <= 0 {
		return fmt.Errorf("sum epsilon must be positive, got %g", c.Tunables.SumEpsilon)
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
