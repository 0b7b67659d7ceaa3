// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir   string // Base directory for all databases (always absolute)
	Port      int
	DevMode   bool
	LogLevel  string
	AdminKey  string // Shared secret for the admin HTTP surface
	BatchV2   bool   // Toggles the scheduler between V1 and V2 job sets
	Timezone  string // Home exchange timezone, defaults to US Eastern
	Providers ProviderConfig
	Analytics AnalyticsConfig
	Backup    BackupConfig
}

// ProviderConfig holds market-data provider settings.
type ProviderConfig struct {
	FMPAPIKey      string
	RequestTimeout int // seconds, per HTTP request
	MaxRetries     int
	BatchSize      int // symbols per provider request
	RatePerSecond  float64
}

// AnalyticsConfig carries every tunable used by the calculation engines.
// Defaults follow the platform's production values.
type AnalyticsConfig struct {
	MarketBetaWindowDays    int
	MinRegressionDays       int
	SpreadWindowDays        int
	SpreadMinDays           int
	RidgeWindowDays         int
	BetaCap                 float64
	BetaConfidence          float64 // one-sided significance level
	RidgeLambda             float64
	CorrelationWindowDays   int
	CorrMinPairObs          int
	CorrClusterThreshold    float64
	StressCorrClampMin      float64
	StressCorrClampMax      float64
	StressCorrelationScale  float64
	PlaceholderGraceHours   int
	MaxPortfolioConcurrency int
	VolPercentileWindowDays int
	VolTrendWindowDays      int
	BackfillMaxTradingDays  int
	WeeklyBackfillDays      int
	ScenarioFile            string // optional override for the stress scenario library
	BenchmarkSymbol         string
	RatesBenchmarkSymbol    string
	TreasuryYieldSymbol     string
}

// BackupConfig holds S3 backup settings. Backups are disabled when the
// bucket is empty.
type BackupConfig struct {
	Bucket          string
	Prefix          string
	Endpoint        string // S3-compatible endpoint, empty for AWS
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	RetainCount     int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("SPYGLASS_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8002),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		AdminKey: getEnv("ADMIN_API_KEY", ""),
		BatchV2:  getEnvAsBool("BATCH_V2_ENABLED", true),
		Timezone: getEnv("HOME_TIMEZONE", "America/New_York"),
		Providers: ProviderConfig{
			FMPAPIKey:      getEnv("FMP_API_KEY", ""),
			RequestTimeout: getEnvAsInt("PROVIDER_TIMEOUT_SECONDS", 20),
			MaxRetries:     getEnvAsInt("PROVIDER_MAX_RETRIES", 2),
			BatchSize:      getEnvAsInt("PROVIDER_BATCH_SIZE", 50),
			RatePerSecond:  getEnvAsFloat("PROVIDER_RATE_PER_SECOND", 4.0),
		},
		Analytics: AnalyticsConfig{
			MarketBetaWindowDays:    getEnvAsInt("MARKET_BETA_WINDOW_DAYS", 90),
			MinRegressionDays:       getEnvAsInt("MIN_REGRESSION_DAYS", 60),
			SpreadWindowDays:        getEnvAsInt("SPREAD_WINDOW_DAYS", 180),
			SpreadMinDays:           getEnvAsInt("SPREAD_MIN_DAYS", 60),
			RidgeWindowDays:         getEnvAsInt("RIDGE_WINDOW_DAYS", 60),
			BetaCap:                 getEnvAsFloat("BETA_CAP", 5.0),
			BetaConfidence:          getEnvAsFloat("BETA_CONFIDENCE", 0.10),
			RidgeLambda:             getEnvAsFloat("RIDGE_LAMBDA", 1.0),
			CorrelationWindowDays:   getEnvAsInt("CORRELATION_WINDOW_DAYS", 90),
			CorrMinPairObs:          getEnvAsInt("CORR_MIN_PAIR_OBS", 30),
			CorrClusterThreshold:    getEnvAsFloat("CORR_CLUSTER_THRESHOLD", 0.7),
			StressCorrClampMin:      getEnvAsFloat("STRESS_CORR_CLAMP_MIN", -0.95),
			StressCorrClampMax:      getEnvAsFloat("STRESS_CORR_CLAMP_MAX", 0.95),
			StressCorrelationScale:  getEnvAsFloat("STRESS_CORRELATION_SCALE", 0.5),
			PlaceholderGraceHours:   getEnvAsInt("SNAPSHOT_PLACEHOLDER_GRACE_HOURS", 1),
			MaxPortfolioConcurrency: getEnvAsInt("ORCHESTRATOR_MAX_PORTFOLIO_CONCURRENCY", 8),
			VolPercentileWindowDays: getEnvAsInt("VOL_PERCENTILE_WINDOW_DAYS", 252),
			VolTrendWindowDays:      getEnvAsInt("VOL_TREND_WINDOW_DAYS", 10),
			BackfillMaxTradingDays:  getEnvAsInt("BACKFILL_MAX_TRADING_DAYS", 30),
			WeeklyBackfillDays:      getEnvAsInt("WEEKLY_BACKFILL_DAYS", 90),
			ScenarioFile:            getEnv("STRESS_SCENARIO_FILE", ""),
			BenchmarkSymbol:         getEnv("MARKET_BENCHMARK_SYMBOL", "SPY"),
			RatesBenchmarkSymbol:    getEnv("RATES_BENCHMARK_SYMBOL", "TLT"),
			TreasuryYieldSymbol:     getEnv("TREASURY_YIELD_SYMBOL", "DGS10"),
		},
		Backup: BackupConfig{
			Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			Prefix:          getEnv("BACKUP_S3_PREFIX", "spyglass-backups"),
			Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:          getEnv("BACKUP_S3_REGION", "auto"),
			AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			RetainCount:     getEnvAsInt("BACKUP_RETAIN_COUNT", 8),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Analytics.MinRegressionDays > c.Analytics.MarketBetaWindowDays {
		return fmt.Errorf("MIN_REGRESSION_DAYS (%d) exceeds MARKET_BETA_WINDOW_DAYS (%d)",
			c.Analytics.MinRegressionDays, c.Analytics.MarketBetaWindowDays)
	}
	if c.Analytics.SpreadMinDays > c.Analytics.SpreadWindowDays {
		return fmt.Errorf("SPREAD_MIN_DAYS (%d) exceeds SPREAD_WINDOW_DAYS (%d)",
			c.Analytics.SpreadMinDays, c.Analytics.SpreadWindowDays)
	}
	if c.Analytics.BetaCap <= 0 {
		return fmt.Errorf("BETA_CAP must be positive, got %v", c.Analytics.BetaCap)
	}
	if c.Analytics.StressCorrClampMin >= c.Analytics.StressCorrClampMax {
		return fmt.Errorf("invalid stress correlation clamp [%v, %v]",
			c.Analytics.StressCorrClampMin, c.Analytics.StressCorrClampMax)
	}
	if c.Analytics.MaxPortfolioConcurrency < 1 {
		return fmt.Errorf("ORCHESTRATOR_MAX_PORTFOLIO_CONCURRENCY must be at least 1")
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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
