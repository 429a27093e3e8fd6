package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/brojonat/aptostx/service/txn"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	LogLevel    string
	MetricsAddr string
	// ServerAddr is where the gateway listens.
	ServerAddr string

	// Aptos fullnode configuration
	NodeURL string
	// ChainID is 0 when the chain id should be read from the node.
	ChainID uint8

	// Transaction defaults
	MaxGasAmount  uint64
	GasUnitPrice  uint64
	ExpirationTTL time.Duration

	// Confirmation
	WaitTimeout  time.Duration
	PollInterval time.Duration

	// Optional sinks; empty disables them.
	DatabaseURL string
	NATSURL     string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9090")
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")

	cfg.NodeURL = os.Getenv("APTOS_NODE_URL")
	if cfg.NodeURL == "" {
		errs = append(errs, fmt.Errorf("APTOS_NODE_URL is required"))
	} else if _, err := url.ParseRequestURI(cfg.NodeURL); err != nil {
		errs = append(errs, fmt.Errorf("APTOS_NODE_URL: invalid url %q: %w", cfg.NodeURL, err))
	}

	chainID, err := parseUint("APTOS_CHAIN_ID", 0, 8)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ChainID = uint8(chainID)
	}

	if cfg.MaxGasAmount, err = parseUint("MAX_GAS_AMOUNT", txn.DefaultMaxGasAmount, 64); err != nil {
		errs = append(errs, err)
	}
	if cfg.GasUnitPrice, err = parseUint("GAS_UNIT_PRICE", txn.DefaultGasUnitPrice, 64); err != nil {
		errs = append(errs, err)
	}

	if cfg.ExpirationTTL, err = parseDuration("TXN_EXPIRATION_TTL", txn.DefaultExpirationTTL.String()); err != nil {
		errs = append(errs, err)
	}
	if cfg.WaitTimeout, err = parseDuration("TXN_WAIT_TIMEOUT", "20s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.PollInterval, err = parseDuration("POLL_INTERVAL", "2s"); err != nil {
		errs = append(errs, err)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")

	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "aptostx-confirm")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for worker initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.NodeURL == "" {
		errs = append(errs, fmt.Errorf("NodeURL is required"))
	}

	if c.MaxGasAmount == 0 {
		errs = append(errs, fmt.Errorf("MaxGasAmount must be positive"))
	}

	if c.GasUnitPrice == 0 {
		errs = append(errs, fmt.Errorf("GasUnitPrice must be positive"))
	}

	if c.ExpirationTTL < time.Second {
		errs = append(errs, fmt.Errorf("ExpirationTTL must be at least 1 second"))
	}

	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("PollInterval must be positive"))
	}

	if c.WaitTimeout < c.PollInterval {
		errs = append(errs, fmt.Errorf("WaitTimeout (%v) cannot be less than PollInterval (%v)", c.WaitTimeout, c.PollInterval))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseUint parses an unsigned integer of the given bit size from an
// environment variable or uses a default.
func parseUint(key string, defaultValue uint64, bitSize int) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseUint(value, 10, bitSize)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid unsigned integer %q: %w", key, value, err)
	}
	return result, nil
}
