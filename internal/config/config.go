// Package config loads farmd's configuration from the environment (and an
// optional .env file), the loading order and helper shape taken directly
// from this project's .env-based configuration layer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the composition root needs to wire the
// Risk Manager, Capital Allocator, Central Scheduler, and operator
// surface.
type Config struct {
	DataDir   string // base directory for the embedded store's database file
	LogLevel  string
	LogPretty bool
	Port      int

	OperatorToken string // required to clear a HALTED circuit breaker

	DailyLossCapUSD       float64
	DegradedScale         float64
	AssetConcentrationCap float64
	TxCapPct              float64
	ReservationTTL        time.Duration

	AllocatorAlgorithm      string
	AllocatorDriftThreshold float64
	AllocatorPerTxCapPct    float64

	MarketPollInterval time.Duration
	MarketMaxAge       time.Duration

	SchedulerMaxConcurrentPerWallet int
	SchedulerMaxWorkers             int

	BackupBucket string
	BackupPrefix string
	BackupRegion string

	MarketChains []string // chains the Clock polls gas price for
	MarketAssets []string // assets the Clock polls USD price for

	Wallets []string // wallet ids the Portfolio View reconciles balances across
}

// Load reads configuration from environment variables, loading a .env
// file first if present (godotenv.Load's error on a missing file is
// ignored — .env is optional, environment variables alone are enough).
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("FARMD_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:   absDataDir,
		LogLevel:  getEnv("FARMD_LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("FARMD_LOG_PRETTY", false),
		Port:      getEnvAsInt("FARMD_PORT", 8080),

		OperatorToken: getEnv("FARMD_OPERATOR_TOKEN", ""),

		DailyLossCapUSD:       getEnvAsFloat("FARMD_DAILY_LOSS_CAP_USD", 1000),
		DegradedScale:         getEnvAsFloat("FARMD_DEGRADED_SCALE", 0.5),
		AssetConcentrationCap: getEnvAsFloat("FARMD_ASSET_CONCENTRATION_CAP", 0.35),
		TxCapPct:              getEnvAsFloat("FARMD_TX_CAP_PCT", 0.05),
		ReservationTTL:        getEnvAsDuration("FARMD_RESERVATION_TTL", 10*time.Minute),

		AllocatorAlgorithm:      getEnv("FARMD_ALLOCATOR_ALGORITHM", "equal_weight"),
		AllocatorDriftThreshold: getEnvAsFloat("FARMD_ALLOCATOR_DRIFT_THRESHOLD", 0.05),
		AllocatorPerTxCapPct:    getEnvAsFloat("FARMD_ALLOCATOR_PER_TX_CAP_PCT", 0.05),

		MarketPollInterval: getEnvAsDuration("FARMD_MARKET_POLL_INTERVAL", 30*time.Second),
		MarketMaxAge:       getEnvAsDuration("FARMD_MARKET_MAX_AGE", 2*time.Minute),

		SchedulerMaxConcurrentPerWallet: getEnvAsInt("FARMD_MAX_CONCURRENT_PER_WALLET", 1),
		SchedulerMaxWorkers:             getEnvAsInt("FARMD_MAX_WORKERS", 8),

		BackupBucket: getEnv("FARMD_BACKUP_BUCKET", ""),
		BackupPrefix: getEnv("FARMD_BACKUP_PREFIX", "farmd/backups"),
		BackupRegion: getEnv("FARMD_BACKUP_REGION", ""),

		MarketChains: getEnvAsList("FARMD_MARKET_CHAINS", []string{"ethereum"}),
		MarketAssets: getEnvAsList("FARMD_MARKET_ASSETS", []string{"ETH"}),

		Wallets: getEnvAsList("FARMD_WALLETS", nil),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the system assumes hold at
// startup — an empty operator token, for instance, would make the
// circuit breaker's Reset permanently unreachable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OperatorToken) == "" {
		return fmt.Errorf("config: FARMD_OPERATOR_TOKEN must be set")
	}
	if c.DailyLossCapUSD <= 0 {
		return fmt.Errorf("config: FARMD_DAILY_LOSS_CAP_USD must be > 0")
	}
	if c.DegradedScale <= 0 || c.DegradedScale > 1 {
		return fmt.Errorf("config: FARMD_DEGRADED_SCALE must be in (0, 1]")
	}
	if c.SchedulerMaxConcurrentPerWallet <= 0 {
		return fmt.Errorf("config: FARMD_MAX_CONCURRENT_PER_WALLET must be > 0")
	}
	return nil
}

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
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
