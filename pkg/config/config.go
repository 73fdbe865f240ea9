package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port string
	Env  string

	// Database configuration
	DatabaseURL string

	// Redis configuration
	RedisURL      string
	RedisPassword string

	// CORS
	AllowedOrigins []string

	// MaxTransactionAmount caps a single transfer. Zero means unbounded.
	MaxTransactionAmount decimal.Decimal

	// Rate limiting (per client)
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Load loads configuration from a .env file (if present) and the environment.
func Load() (*Config, error) {
	// Missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Env:               getEnv("ENV", "development"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisURL:          getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		AllowedOrigins:    splitEnv("ALLOWED_ORIGINS", "*"),
		RateLimitRequests: getEnvAsInt("RATE_LIMIT_REQUESTS", 500),
		RateLimitWindow:   getEnvAsDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
	}

	maxAmount := getEnv("MAX_TRANSACTION_AMOUNT", "")
	if maxAmount != "" {
		d, err := decimal.NewFromString(maxAmount)
		if err != nil {
			return nil, fmt.Errorf("MAX_TRANSACTION_AMOUNT is not a valid number: %w", err)
		}
		cfg.MaxTransactionAmount = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures all required configuration is present
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.MaxTransactionAmount.IsNegative() {
		return fmt.Errorf("MAX_TRANSACTION_AMOUNT cannot be negative")
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be positive")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
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

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// splitEnv gets a comma-separated environment variable as a slice
func splitEnv(key, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
