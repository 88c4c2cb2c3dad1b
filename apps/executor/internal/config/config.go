package config

import (
	"github.com/joho/godotenv"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	NetworkBSC  = "bsc"
	NetworkBase = "base"
	// NetworkCrossChain tags rows in cross_chain_orders.
	NetworkCrossChain = "crosschain"
)

// NetworkConfig describes one EVM chain the executor settles on.
type NetworkConfig struct {
	Name              string
	ChainID           int64
	RpcURL            string
	SettlementAddress string
	ChunkSize         uint64
	WatchLookback     uint64
}

type Config struct {
	Enabled       bool
	Interval      time.Duration
	PrivateKey    string
	Networks      []NetworkConfig
	DbURL         string
	KafkaBroker   string
	KafkaTopic    string
	APIPort       int
	SagaLogPath   string
	ChunkSize     uint64
	WatchLookback uint64
}

// NewConfig loads configuration from environment variables
func NewConfig() *Config {
	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	cfg := &Config{
		Enabled:       getEnvBool("EXECUTOR_ENABLED", false),
		Interval:      time.Duration(getEnvInt("EXECUTOR_INTERVAL_MS", 10000)) * time.Millisecond,
		PrivateKey:    strings.TrimPrefix(os.Getenv("EXECUTOR_PRIVATE_KEY"), "0x"),
		DbURL:         getEnvOrFatal("DB_URL"),
		KafkaBroker:   getEnvOrFatal("KAFKA_BROKER"),
		KafkaTopic:    getEnvOrFatal("KAFKA_TOPIC"),
		APIPort:       getEnvInt("API_PORT", 8080),
		SagaLogPath:   getEnv("SAGA_LOG_PATH", "data/sagas"),
		ChunkSize:     getEnvUint64("CHUNK_SIZE", 500),
		WatchLookback: getEnvUint64("WATCH_FROM_LOOKBACK", 200),
	}

	// Networks without an RPC URL are left out; the rest of the executor keeps running.
	candidates := []NetworkConfig{
		{
			Name:              NetworkBSC,
			ChainID:           56,
			RpcURL:            os.Getenv("EXECUTOR_RPC_URL"),
			SettlementAddress: getEnv("SETTLEMENT_ADDRESS_BSC", "0x7DBA6a1488356428C33cC9fB8Ef3c8462c8679d0"),
		},
		{
			Name:              NetworkBase,
			ChainID:           8453,
			RpcURL:            os.Getenv("EXECUTOR_RPC_URL_BASE"),
			SettlementAddress: getEnv("SETTLEMENT_ADDRESS_BASE", "0xBBf7A39F053BA2B8F4991282425ca61F2D871f45"),
		},
	}
	for _, n := range candidates {
		if n.RpcURL == "" {
			log.Printf("Warning: %s RPC URL not configured, skipping", n.Name)
			continue
		}
		n.ChunkSize = cfg.ChunkSize
		n.WatchLookback = cfg.WatchLookback
		cfg.Networks = append(cfg.Networks, n)
	}

	return cfg
}

// Runnable reports whether the executor has enough configuration to start.
func (c *Config) Runnable() bool {
	return c.Enabled && c.PrivateKey != "" && len(c.Networks) > 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrFatal(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	log.Fatalf("Warning: environment variable %s not set", key)

	return ""
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.EqualFold(strings.TrimSpace(value), "true")
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
