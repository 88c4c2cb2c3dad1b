package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"matcher/apps/executor/internal/model"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type OutboxRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOutboxRepository(db *sql.DB, logger *zap.Logger) *OutboxRepository {
	return &OutboxRepository{db: db, logger: logger}
}

// NewOutboxEvent builds an unsent event with a fresh id and payload marshalled to JSON.
func NewOutboxEvent(eventType, network, txHash string, blockNumber uint64, logIndex uint, payload interface{}) (model.OutboxEvent, error) {
	blob, err := json.Marshal(payload)
	if err != nil {
		return model.OutboxEvent{}, fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	return model.OutboxEvent{
		EventID:     uuid.New().String(),
		EventType:   eventType,
		Status:      "unsent",
		Network:     network,
		TxHash:      txHash,
		BlockNumber: blockNumber,
		LogIndex:    logIndex,
		EventBlob:   blob,
	}, nil
}

// insertOutboxEvent stores event unless an event with the same type, network, tx and log
// index already exists.
func insertOutboxEvent(ctx context.Context, ex execer, event model.OutboxEvent) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO event_outbox (event_id, event_type, status, network, tx_hash, block_number, log_index, event_blob)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_type, network, tx_hash, log_index) DO NOTHING
	`, event.EventID, event.EventType, event.Status, event.Network, event.TxHash, event.BlockNumber, event.LogIndex, []byte(event.EventBlob))
	if err != nil {
		return fmt.Errorf("failed to store outbox event: %w", err)
	}
	return nil
}

func (c *OutboxRepository) StoreOutboxEvent(ctx context.Context, event model.OutboxEvent) error {
	if err := insertOutboxEvent(ctx, c.db, event); err != nil {
		return err
	}

	c.logger.Info("Stored event", zap.String("event_type", event.EventType), zap.String("network", event.Network), zap.String("tx_hash", event.TxHash))
	return nil
}

func (c *OutboxRepository) GetUnsentEventsForProcessing(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	// Use a transaction to ensure atomicity
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() // Will be ignored if tx.Commit() succeeds

	// Select and lock unsent events for processing
	rows, err := tx.QueryContext(ctx, `
		SELECT event_id, event_type, status, network, tx_hash, block_number, log_index, event_blob, created_at
		FROM event_outbox
		WHERE status = 'unsent'
		ORDER BY created_at, log_index
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.OutboxEvent
	for rows.Next() {
		var event model.OutboxEvent
		var blob []byte
		if err := rows.Scan(&event.EventID, &event.EventType, &event.Status, &event.Network,
			&event.TxHash, &event.BlockNumber, &event.LogIndex, &blob, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.EventBlob = blob
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	// Mark selected events as 'processing' to prevent other publishers from picking them up
	for _, event := range events {
		if _, err := tx.ExecContext(ctx, `
			UPDATE event_outbox
			SET status = 'processing'
			WHERE event_id = $1 AND status = 'unsent'
		`, event.EventID); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return events, nil
}

func (c *OutboxRepository) MarkEventAsSent(ctx context.Context, eventID string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE event_outbox
		SET status = 'sent'
		WHERE event_id = $1
	`, eventID)
	return err
}

// MarkEventAsFailed returns a processing event to the unsent queue for retry.
func (c *OutboxRepository) MarkEventAsFailed(ctx context.Context, eventID string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE event_outbox
		SET status = 'unsent'
		WHERE event_id = $1 AND status = 'processing'
	`, eventID)
	return err
}

// GetLastProcessedBlock returns the watcher cursor for network; ok is false before the first
// scan.
func (c *OutboxRepository) GetLastProcessedBlock(network string) (uint64, bool, error) {
	var block uint64
	err := c.db.QueryRow(`
		SELECT last_processed_block FROM watcher_state WHERE network = $1
	`, network).Scan(&block)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read watcher state: %w", err)
	}
	return block, true, nil
}

func (c *OutboxRepository) UpdateLastProcessedBlock(network string, block uint64) error {
	_, err := c.db.Exec(`
		INSERT INTO watcher_state (network, last_processed_block, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (network) DO UPDATE SET
			last_processed_block = EXCLUDED.last_processed_block,
			updated_at = NOW()
	`, network, block)
	return err
}
