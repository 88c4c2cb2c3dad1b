package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/matcher?sslmode=disable")
	t.Setenv("KAFKA_BROKER", "localhost:9092")
	t.Setenv("KAFKA_TOPIC", "settlements")
}

func TestNewConfigSkipsNetworksWithoutRPC(t *testing.T) {
	setRequired(t)
	t.Setenv("EXECUTOR_ENABLED", "TRUE")
	t.Setenv("EXECUTOR_INTERVAL_MS", "2500")
	t.Setenv("EXECUTOR_PRIVATE_KEY", "0xabc123")
	t.Setenv("EXECUTOR_RPC_URL", "")
	t.Setenv("EXECUTOR_RPC_URL_BASE", "https://mainnet.base.org")
	t.Setenv("CHUNK_SIZE", "250")

	cfg := NewConfig()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, 2500*time.Millisecond, cfg.Interval)
	assert.Equal(t, "abc123", cfg.PrivateKey)
	require.Len(t, cfg.Networks, 1)
	assert.Equal(t, NetworkBase, cfg.Networks[0].Name)
	assert.Equal(t, int64(8453), cfg.Networks[0].ChainID)
	assert.Equal(t, uint64(250), cfg.Networks[0].ChunkSize)
	assert.True(t, cfg.Runnable())
}

func TestNewConfigDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("EXECUTOR_ENABLED", "")
	t.Setenv("EXECUTOR_INTERVAL_MS", "")
	t.Setenv("EXECUTOR_PRIVATE_KEY", "")
	t.Setenv("EXECUTOR_RPC_URL", "https://bsc-dataseed.binance.org")
	t.Setenv("EXECUTOR_RPC_URL_BASE", "")
	t.Setenv("SETTLEMENT_ADDRESS_BSC", "")

	cfg := NewConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Interval)
	assert.Equal(t, 8080, cfg.APIPort)
	require.Len(t, cfg.Networks, 1)
	assert.Equal(t, "0x7DBA6a1488356428C33cC9fB8Ef3c8462c8679d0", cfg.Networks[0].SettlementAddress)
	assert.False(t, cfg.Runnable())
}
