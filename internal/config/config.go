// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
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
	Version   string

	// Journey archive
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	ArchivePath string // bbolt file used when DATABASE_URL is not set (optional)

	// Pool observation
	RPCURL           string // Ethereum JSON-RPC endpoint (optional, pool is push-only if not set)
	PoolPollInterval time.Duration

	// Protection
	PrivateRelayURL  string
	TuningFile       string // YAML scoring overrides (optional, hot-reloaded)
	ExecutionTimeout time.Duration
	SimulatedLatency time.Duration // latency of the built-in execution simulator
	BatchConcurrency int

	// Journey event stream
	KafkaBrokers []string
	KafkaTopic   string

	// Tracing
	OTLPEndpoint string

	// Security
	RateLimitRPM   int
	AllowedOrigins []string
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultPrivateRelayURL  = "https://rpc.flashbots.net"
	DefaultKafkaTopic       = "mevguard.journeys"
	DefaultPoolPollInterval = 12 * time.Second
	DefaultExecutionTimeout = 30 * time.Second
	DefaultBatchConcurrency = 8
	DefaultRateLimit        = 600
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:        getEnv("LOG_FORMAT", DefaultLogFormat),
		Version:          getEnv("VERSION", "dev"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		ArchivePath:      os.Getenv("JOURNEY_ARCHIVE_PATH"),
		RPCURL:           os.Getenv("RPC_URL"),
		PoolPollInterval: getEnvDuration("POOL_POLL_INTERVAL", DefaultPoolPollInterval),
		PrivateRelayURL:  getEnv("PRIVATE_RELAY_URL", DefaultPrivateRelayURL),
		TuningFile:       os.Getenv("TUNING_FILE"),
		ExecutionTimeout: getEnvDuration("EXECUTION_TIMEOUT", DefaultExecutionTimeout),
		SimulatedLatency: getEnvDuration("SIMULATED_LATENCY", 0),
		BatchConcurrency: int(getEnvInt64("BATCH_CONCURRENCY", DefaultBatchConcurrency)),
		KafkaBrokers:     getEnvList("KAFKA_BROKERS"),
		KafkaTopic:       getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:     int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		AllowedOrigins:   getEnvList("ALLOWED_ORIGINS"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.ExecutionTimeout <= 0 {
		return fmt.Errorf("EXECUTION_TIMEOUT must be positive")
	}
	if c.DatabaseURL != "" && c.ArchivePath != "" {
		return fmt.Errorf("set only one of DATABASE_URL and JOURNEY_ARCHIVE_PATH")
	}
	if c.RPCURL != "" && c.PoolPollInterval <= 0 {
		return fmt.Errorf("POOL_POLL_INTERVAL must be positive when RPC_URL is set")
	}
	if c.SimulatedLatency < 0 {
		return fmt.Errorf("SIMULATED_LATENCY must not be negative")
	}
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("BATCH_CONCURRENCY must be at least 1")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json")
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
