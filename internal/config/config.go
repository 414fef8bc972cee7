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
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Storage (both optional, in-memory when empty)
	DatabaseURL string
	RedisURL    string

	// External fraud-scoring platform
	FraudAPIURL         string
	FraudAPITimeout     time.Duration // bound on remote risk scoring
	ReceiverTimeout     time.Duration // bound on receiver identity lookups
	BreakerThreshold    int
	BreakerOpenDuration time.Duration

	// Auth
	JWTSecret    string
	DemoSenderID string // identity used when no valid bearer token is presented

	// Engine
	LedgerCapacity     int
	AttemptTTL         time.Duration
	RiskWeightBehavior float64
	RiskWeightAmount   float64
	RiskWeightReceiver float64
	RiskAmountFloor    float64

	// HTTP
	RateLimitPerMinute int

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultFraudAPIURL         = "http://localhost:8000/api"
	DefaultFraudAPITimeout     = 3 * time.Second
	DefaultReceiverTimeout     = 2 * time.Second
	DefaultBreakerThreshold    = 5
	DefaultBreakerOpenDuration = 30 * time.Second
	DefaultDemoSenderID        = "demo"
	DefaultLedgerCapacity      = 50
	DefaultAttemptTTL          = 15 * time.Minute
	DefaultRateLimitPerMinute  = 10
	DefaultRiskWeightBehavior  = 0.35
	DefaultRiskWeightAmount    = 0.25
	DefaultRiskWeightReceiver  = 0.40
	DefaultRiskAmountFloor     = 1000.0
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		FraudAPIURL:         getEnv("FRAUD_API_URL", DefaultFraudAPIURL),
		FraudAPITimeout:     getEnvDuration("FRAUD_API_TIMEOUT", DefaultFraudAPITimeout),
		ReceiverTimeout:     getEnvDuration("RECEIVER_TIMEOUT", DefaultReceiverTimeout),
		BreakerThreshold:    int(getEnvInt64("BREAKER_THRESHOLD", DefaultBreakerThreshold)),
		BreakerOpenDuration: getEnvDuration("BREAKER_OPEN_DURATION", DefaultBreakerOpenDuration),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		DemoSenderID:        getEnv("DEMO_SENDER_ID", DefaultDemoSenderID),
		LedgerCapacity:      int(getEnvInt64("LEDGER_CAPACITY", DefaultLedgerCapacity)),
		AttemptTTL:          getEnvDuration("ATTEMPT_TTL", DefaultAttemptTTL),
		RiskWeightBehavior:  getEnvFloat("RISK_WEIGHT_BEHAVIOR", DefaultRiskWeightBehavior),
		RiskWeightAmount:    getEnvFloat("RISK_WEIGHT_AMOUNT", DefaultRiskWeightAmount),
		RiskWeightReceiver:  getEnvFloat("RISK_WEIGHT_RECEIVER", DefaultRiskWeightReceiver),
		RiskAmountFloor:     getEnvFloat("RISK_AMOUNT_FLOOR", DefaultRiskAmountFloor),
		RateLimitPerMinute:  int(getEnvInt64("RATE_LIMIT_PER_MINUTE", DefaultRateLimitPerMinute)),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.LedgerCapacity <= 0 {
		return fmt.Errorf("LEDGER_CAPACITY must be positive")
	}
	if c.FraudAPITimeout <= 0 || c.ReceiverTimeout <= 0 {
		return fmt.Errorf("FRAUD_API_TIMEOUT and RECEIVER_TIMEOUT must be positive")
	}
	if c.RiskWeightBehavior < 0 || c.RiskWeightAmount < 0 || c.RiskWeightReceiver < 0 {
		return fmt.Errorf("risk weights must not be negative")
	}
	if c.RiskWeightBehavior+c.RiskWeightAmount+c.RiskWeightReceiver == 0 {
		return fmt.Errorf("at least one risk weight must be positive")
	}
	if c.RiskAmountFloor <= 0 {
		return fmt.Errorf("RISK_AMOUNT_FLOOR must be positive")
	}

	if c.IsProduction() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if os.Getenv("FRAUD_API_URL") == "" {
			return fmt.Errorf("FRAUD_API_URL is required in production")
		}
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
