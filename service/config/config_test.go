package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	t.Setenv("APTOS_NODE_URL", "https://fullnode.devnet.aptoslabs.com/v1")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "https://fullnode.devnet.aptoslabs.com/v1", cfg.NodeURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Zero(t, cfg.ChainID)
	assert.Equal(t, uint64(2000), cfg.MaxGasAmount)
	assert.Equal(t, uint64(100), cfg.GasUnitPrice)
	assert.Equal(t, 600*time.Second, cfg.ExpirationTTL)
	assert.Equal(t, 20*time.Second, cfg.WaitTimeout)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, "aptostx-confirm", cfg.TemporalTaskQueue)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APTOS_NODE_URL", "http://localhost:8080/v1")
	t.Setenv("APTOS_CHAIN_ID", "4")
	t.Setenv("MAX_GAS_AMOUNT", "5000")
	t.Setenv("TXN_WAIT_TIMEOUT", "1m")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("SERVER_ADDR", "127.0.0.1:9000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, uint8(4), cfg.ChainID)
	assert.Equal(t, uint64(5000), cfg.MaxGasAmount)
	assert.Equal(t, time.Minute, cfg.WaitTimeout)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, "127.0.0.1:9000", cfg.ServerAddr)
}

func TestLoad_MissingNodeURL(t *testing.T) {
	t.Setenv("APTOS_NODE_URL", "")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "APTOS_NODE_URL is required")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"chain id too large", "APTOS_CHAIN_ID", "256", "APTOS_CHAIN_ID"},
		{"negative gas", "MAX_GAS_AMOUNT", "-1", "invalid unsigned integer"},
		{"bad interval", "POLL_INTERVAL", "soon", "invalid duration"},
		{"wait shorter than interval", "TXN_WAIT_TIMEOUT", "1s", "cannot be less than PollInterval"},
		{"zero gas price", "GAS_UNIT_PRICE", "0", "GasUnitPrice must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("APTOS_NODE_URL", "http://localhost:8080/v1")
			t.Setenv(tt.key, tt.value)

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_AggregatesErrors(t *testing.T) {
	t.Setenv("APTOS_NODE_URL", "")
	t.Setenv("POLL_INTERVAL", "nope")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APTOS_NODE_URL is required")
	assert.Contains(t, err.Error(), "POLL_INTERVAL")
}

func TestValidate(t *testing.T) {
	valid := Config{
		NodeURL:           "http://localhost:8080/v1",
		MaxGasAmount:      2000,
		GasUnitPrice:      100,
		ExpirationTTL:     time.Minute,
		PollInterval:      2 * time.Second,
		WaitTimeout:       20 * time.Second,
		TemporalHost:      "localhost:7233",
		TemporalNamespace: "default",
		TemporalTaskQueue: "q",
	}
	require.NoError(t, valid.Validate())

	broken := valid
	broken.NodeURL = ""
	broken.TemporalTaskQueue = ""
	err := broken.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NodeURL is required")
	assert.Contains(t, err.Error(), "TemporalTaskQueue is required")
}
