package repository

import (
	"database/sql"
	"fmt"
)

// InitMigration creates the tables the executor reads and writes. Order tables are normally
// owned by the order intake service; they are created here so a fresh database works.
func InitMigration(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			network VARCHAR(16) NOT NULL,
			order_id VARCHAR(64) PRIMARY KEY,
			order_hash VARCHAR(66) NOT NULL,
			maker VARCHAR(42) NOT NULL,
			token_in VARCHAR(42) NOT NULL,
			token_out VARCHAR(42) NOT NULL,
			amount_in NUMERIC(78,0) NOT NULL,
			amount_out_min NUMERIC(78,0) NOT NULL,
			base VARCHAR(42) NOT NULL,
			quote VARCHAR(42) NOT NULL,
			remaining NUMERIC(78,0) NOT NULL,
			signature TEXT NOT NULL,
			order_json JSONB NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'open',
			source VARCHAR(16),
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_network_status_updated ON orders (network, status, updated_at)`,
		`CREATE TABLE IF NOT EXISTS cross_chain_orders (LIKE orders INCLUDING ALL)`,
		`CREATE TABLE IF NOT EXISTS conditional_orders (
			network VARCHAR(16) NOT NULL,
			conditional_order_id VARCHAR(64) PRIMARY KEY,
			maker VARCHAR(42) NOT NULL,
			base_token VARCHAR(42) NOT NULL,
			quote_token VARCHAR(42) NOT NULL,
			type VARCHAR(16) NOT NULL,
			trigger_price NUMERIC NOT NULL,
			order_template JSONB,
			signature TEXT NOT NULL,
			expiration TIMESTAMP,
			status VARCHAR(16) NOT NULL DEFAULT 'pending',
			triggered_at TIMESTAMP,
			triggered_price NUMERIC,
			resulting_order_id VARCHAR(64),
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conditional_orders_network_status ON conditional_orders (network, status)`,
		`CREATE TABLE IF NOT EXISTS tokens (
			network VARCHAR(16) NOT NULL,
			address VARCHAR(42) NOT NULL,
			symbol VARCHAR(32) NOT NULL DEFAULT '',
			decimals INTEGER NOT NULL,
			PRIMARY KEY (network, address)
		)`,
		`CREATE TABLE IF NOT EXISTS fills (
			id BIGSERIAL PRIMARY KEY,
			network VARCHAR(16) NOT NULL,
			buy_order_id VARCHAR(64) NOT NULL,
			sell_order_id VARCHAR(64) NOT NULL,
			amount_base NUMERIC(78,0) NOT NULL,
			amount_quote NUMERIC(78,0) NOT NULL,
			tx_hash VARCHAR(66) NOT NULL,
			block_number BIGINT NOT NULL,
			confirmed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fills_network_tx ON fills (network, tx_hash)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id BIGSERIAL PRIMARY KEY,
			network VARCHAR(16) NOT NULL,
			pair VARCHAR(96) NOT NULL,
			base_address VARCHAR(42) NOT NULL,
			quote_address VARCHAR(42) NOT NULL,
			amount_base NUMERIC(78,0) NOT NULL,
			amount_quote NUMERIC(78,0) NOT NULL,
			price NUMERIC NOT NULL,
			tx_hash VARCHAR(66) NOT NULL,
			block_number BIGINT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_network_created ON trades (network, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS cross_chain_fills (
			id BIGSERIAL PRIMARY KEY,
			saga_id VARCHAR(64) NOT NULL,
			buy_network VARCHAR(16) NOT NULL,
			sell_network VARCHAR(16) NOT NULL,
			buy_order_id VARCHAR(64) NOT NULL,
			sell_order_id VARCHAR(64) NOT NULL,
			amount_base NUMERIC(78,0) NOT NULL,
			amount_quote NUMERIC(78,0) NOT NULL,
			tx_hash_buy VARCHAR(66),
			tx_hash_sell VARCHAR(66),
			block_number_buy BIGINT,
			block_number_sell BIGINT,
			tx_hash_buy_settlement VARCHAR(66),
			tx_hash_sell_settlement VARCHAR(66),
			block_number_buy_settlement BIGINT,
			block_number_sell_settlement BIGINT,
			status VARCHAR(16) NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS cross_chain_trades (
			id BIGSERIAL PRIMARY KEY,
			pair VARCHAR(96) NOT NULL,
			base_address VARCHAR(42) NOT NULL,
			quote_address VARCHAR(42) NOT NULL,
			amount_base NUMERIC(78,0) NOT NULL,
			amount_quote NUMERIC(78,0) NOT NULL,
			price NUMERIC NOT NULL,
			buy_network VARCHAR(16) NOT NULL,
			sell_network VARCHAR(16) NOT NULL,
			tx_hash_buy VARCHAR(66),
			tx_hash_sell VARCHAR(66),
			block_number_buy BIGINT,
			block_number_sell BIGINT,
			status VARCHAR(16) NOT NULL DEFAULT 'completed',
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS event_outbox (
			event_id UUID PRIMARY KEY,
			event_type VARCHAR(32) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'unsent',
			network VARCHAR(16) NOT NULL,
			tx_hash VARCHAR(66) NOT NULL,
			block_number BIGINT NOT NULL,
			log_index INTEGER NOT NULL,
			event_blob JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (event_type, network, tx_hash, log_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_outbox_status_created ON event_outbox (status, created_at)`,
		`CREATE TABLE IF NOT EXISTS watcher_state (
			network VARCHAR(16) PRIMARY KEY,
			last_processed_block BIGINT NOT NULL,
			updated_at TIMESTAMP DEFAULT NOW()
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}

	return nil
}
