// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if not set)

	// Ward registry
	WardRegistryPath string // JSON file of canonical wards loaded at startup (optional)

	// Analysis settings
	FuzzyCutoff       float64 // Minimum similarity for a fuzzy ward match
	UrbanTPRThreshold float64 // Action threshold for urban wards (percent)
	RuralTPRThreshold float64 // Action threshold for rural wards (percent)
	ClassifierMinConf float64 // Classifier confidence below which the engine clarifies
	SessionTTL        time.Duration
	RateLimitRPS      int
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultFuzzyCutoff       = 0.75
	DefaultUrbanThreshold    = 50.0
	DefaultRuralThreshold    = 70.0
	DefaultClassifierMinConf = 0.4
	DefaultSessionTTL        = 24 * time.Hour
	DefaultRateLimit         = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OTLPEndpoint:      os.Getenv("OTLP_ENDPOINT"),
		WardRegistryPath:  os.Getenv("WARD_REGISTRY_PATH"),
		FuzzyCutoff:       getEnvFloat("FUZZY_CUTOFF", DefaultFuzzyCutoff),
		UrbanTPRThreshold: getEnvFloat("URBAN_TPR_THRESHOLD", DefaultUrbanThreshold),
		RuralTPRThreshold: getEnvFloat("RURAL_TPR_THRESHOLD", DefaultRuralThreshold),
		ClassifierMinConf: getEnvFloat("CLASSIFIER_MIN_CONFIDENCE", DefaultClassifierMinConf),
		SessionTTL:        getEnvDuration("SESSION_TTL", DefaultSessionTTL),
		RateLimitRPS:      int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent
func (c *Config) Validate() error {
	if c.FuzzyCutoff <= 0 || c.FuzzyCutoff > 1 {
		return fmt.Errorf("FUZZY_CUTOFF must be in (0, 1], got %v", c.FuzzyCutoff)
	}
	if c.UrbanTPRThreshold <= 0 || c.UrbanTPRThreshold > 100 {
		return fmt.Errorf("URBAN_TPR_THRESHOLD must be in (0, 100], got %v", c.UrbanTPRThreshold)
	}
	if c.RuralTPRThreshold <= 0 || c.RuralTPRThreshold > 100 {
		return fmt.Errorf("RURAL_TPR_THRESHOLD must be in (0, 100], got %v", c.RuralTPRThreshold)
	}
	if c.ClassifierMinConf < 0 || c.ClassifierMinConf > 1 {
		return fmt.Errorf("CLASSIFIER_MIN_CONFIDENCE must be in [0, 1], got %v", c.ClassifierMinConf)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %v", c.SessionTTL)
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
