package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func validConfig() Config {
	return Config{
		Port:             DefaultPort,
		LogFormat:        "json",
		ExecutionTimeout: DefaultExecutionTimeout,
		PoolPollInterval: DefaultPoolPollInterval,
		BatchConcurrency: DefaultBatchConcurrency,
		KafkaTopic:       DefaultKafkaTopic,
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "EXECUTION_TIMEOUT", "")
	setEnv(t, "KAFKA_BROKERS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultExecutionTimeout, cfg.ExecutionTimeout)
	assert.Equal(t, DefaultPrivateRelayURL, cfg.PrivateRelayURL)
	assert.Equal(t, DefaultKafkaTopic, cfg.KafkaTopic)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "EXECUTION_TIMEOUT", "250ms")
	setEnv(t, "KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	setEnv(t, "RPC_URL", "http://localhost:8545")
	setEnv(t, "POOL_POLL_INTERVAL", "3s")
	setEnv(t, "LOG_FORMAT", "text")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.ExecutionTimeout)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3*time.Second, cfg.PoolPollInterval)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_InvalidLogFormat(t *testing.T) {
	setEnv(t, "LOG_FORMAT", "xml")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "LOG_FORMAT")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "zero execution timeout",
			mutate:  func(c *Config) { c.ExecutionTimeout = 0 },
			wantErr: "EXECUTION_TIMEOUT",
		},
		{
			name: "rpc without poll interval",
			mutate: func(c *Config) {
				c.RPCURL = "http://localhost:8545"
				c.PoolPollInterval = 0
			},
			wantErr: "POOL_POLL_INTERVAL",
		},
		{
			name: "brokers without topic",
			mutate: func(c *Config) {
				c.KafkaBrokers = []string{"localhost:9092"}
				c.KafkaTopic = ""
			},
			wantErr: "KAFKA_TOPIC",
		},
		{
			name: "two archives",
			mutate: func(c *Config) {
				c.DatabaseURL = "postgres://localhost/mevguard"
				c.ArchivePath = "journeys.db"
			},
			wantErr: "JOURNEY_ARCHIVE_PATH",
		},
		{
			name:    "no batch concurrency",
			mutate:  func(c *Config) { c.BatchConcurrency = 0 },
			wantErr: "BATCH_CONCURRENCY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_DURATION", "1m30s")
	setEnv(t, "TEST_BAD_DURATION", "90")

	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", 0))
	assert.Equal(t, time.Second, getEnvDuration("TEST_BAD_DURATION", time.Second))
}
