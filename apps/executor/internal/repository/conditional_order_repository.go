package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"matcher/apps/executor/internal/model"
)

type ConditionalOrderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewConditionalOrderRepository(db *sql.DB, logger *zap.Logger) *ConditionalOrderRepository {
	return &ConditionalOrderRepository{db: db, logger: logger}
}

// GetPendingConditionalOrders returns pending, unexpired conditional orders for network.
// Malformed records are logged and skipped.
func (r *ConditionalOrderRepository) GetPendingConditionalOrders(ctx context.Context, network string, now time.Time, limit int) ([]*model.ConditionalOrder, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT network, conditional_order_id, maker, base_token, quote_token, type, trigger_price::text,
			order_template, signature, expiration, status
		FROM conditional_orders
		WHERE network = $1 AND status = 'pending' AND (expiration IS NULL OR expiration > $2)
		LIMIT $3
	`, network, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conditional orders: %w", err)
	}
	defer rows.Close()

	var orders []*model.ConditionalOrder
	for rows.Next() {
		var row model.ConditionalOrderRow
		var template []byte
		if err := rows.Scan(&row.Network, &row.ID, &row.Maker, &row.BaseToken, &row.QuoteToken, &row.Type,
			&row.TriggerPrice, &template, &row.Signature, &row.Expiration, &row.Status); err != nil {
			return nil, fmt.Errorf("failed to scan conditional order: %w", err)
		}
		row.OrderTemplate = template

		co, err := model.ParseConditionalOrderRow(row)
		if err != nil {
			r.logger.Warn("Skipping malformed conditional order", zap.String("network", network), zap.String("conditional_order_id", row.ID), zap.Error(err))
			continue
		}
		orders = append(orders, co)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conditional orders: %w", err)
	}

	return orders, nil
}

// TriggerConditionalOrder inserts the order co became and marks co triggered, in one
// transaction. It returns false, writing nothing, when co is no longer pending.
func (r *ConditionalOrderRepository) TriggerConditionalOrder(ctx context.Context, co *model.ConditionalOrder, order *model.Order, price decimal.Decimal) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE conditional_orders
		SET status = 'triggered', triggered_at = NOW(), triggered_price = $1, resulting_order_id = $2, updated_at = NOW()
		WHERE conditional_order_id = $3 AND network = $4 AND status = 'pending'
	`, price.String(), order.OrderID, co.ID, co.Network)
	if err != nil {
		return false, fmt.Errorf("failed to mark conditional order %s triggered: %w", co.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark conditional order %s triggered: %w", co.ID, err)
	}
	if affected == 0 {
		r.logger.Warn("Conditional order already triggered", zap.String("network", co.Network), zap.String("conditional_order_id", co.ID))
		return false, nil
	}

	if err := insertOrder(ctx, tx, order); err != nil {
		return false, err
	}

	event, err := NewOutboxEvent(model.EventConditionalFired, co.Network, co.ID, 0, 0, conditionalPayload(co, price, order.OrderID))
	if err != nil {
		return false, err
	}
	if err := insertOutboxEvent(ctx, tx, event); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit conditional order %s: %w", co.ID, err)
	}

	r.logger.Info("Conditional order triggered",
		zap.String("network", co.Network),
		zap.String("conditional_order_id", co.ID),
		zap.String("resulting_order_id", order.OrderID))
	return true, nil
}
