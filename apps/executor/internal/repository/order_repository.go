package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"matcher/apps/executor/internal/config"
	"matcher/apps/executor/internal/model"
)

type OrderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOrderRepository(db *sql.DB, logger *zap.Logger) *OrderRepository {
	return &OrderRepository{db: db, logger: logger}
}

// orderTable picks cross_chain_orders for the crosschain pseudo-network.
func orderTable(network string) string {
	if network == config.NetworkCrossChain {
		return "cross_chain_orders"
	}
	return "orders"
}

// GetOpenOrders returns up to limit open orders with positive remaining, oldest update
// first. Rows that fail validation are logged and skipped.
func (r *OrderRepository) GetOpenOrders(ctx context.Context, network string, limit int) ([]*model.Order, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT network, order_id, order_hash, maker, order_json, signature, base, quote, remaining, status, source, created_at, updated_at
		FROM %s
		WHERE network = $1 AND status = 'open' AND remaining > 0
		ORDER BY updated_at ASC
		LIMIT $2
	`, orderTable(network)), network, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch open orders: %w", err)
	}
	defer rows.Close()

	var orders []*model.Order
	for rows.Next() {
		var row model.OrderRow
		var orderJSON []byte
		if err := rows.Scan(&row.Network, &row.OrderID, &row.OrderHash, &row.Maker, &orderJSON, &row.Signature,
			&row.Base, &row.Quote, &row.Remaining, &row.Status, &row.Source, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		row.OrderJSON = orderJSON

		order, err := model.ParseOrderRow(row)
		if err != nil {
			r.logger.Warn("Skipping malformed order", zap.String("network", network), zap.String("order_id", row.OrderID), zap.Error(err))
			continue
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read open orders: %w", err)
	}

	return orders, nil
}

// InsertOrder stores a new open order.
func (r *OrderRepository) InsertOrder(ctx context.Context, order *model.Order) error {
	if err := insertOrder(ctx, r.db, order); err != nil {
		return err
	}

	r.logger.Info("Inserted order",
		zap.String("network", order.Network),
		zap.String("order_id", order.OrderID),
		zap.String("source", string(order.Source)))
	return nil
}

func insertOrder(ctx context.Context, ex execer, order *model.Order) error {
	orderJSON, err := json.Marshal(model.TemplateOf(order.Terms))
	if err != nil {
		return fmt.Errorf("failed to marshal order terms: %w", err)
	}

	_, err = ex.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (network, order_id, order_hash, maker, token_in, token_out, amount_in, amount_out_min,
			base, quote, remaining, signature, order_json, status, source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())
	`, orderTable(order.Network)),
		order.Network, order.OrderID, order.OrderHash, lower(order.Terms.Maker.Hex()),
		lower(order.Terms.TokenIn.Hex()), lower(order.Terms.TokenOut.Hex()),
		order.Terms.AmountIn.String(), order.Terms.AmountOutMin.String(),
		lower(order.Base.Hex()), lower(order.Quote.Hex()), order.Remaining.String(),
		hexutil.Encode(order.Signature), orderJSON, string(order.Status), string(order.Source))
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// UpdateOrderRemaining writes the new remaining amount and status of an order.
func (r *OrderRepository) UpdateOrderRemaining(ctx context.Context, network, orderID string, remaining *big.Int, status model.OrderStatus) error {
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET remaining = $1, status = $2, updated_at = NOW()
		WHERE order_id = $3 AND status = 'open'
	`, orderTable(network)), remaining.String(), string(status), orderID)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", orderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		r.logger.Warn("Order not updated; not open or missing", zap.String("network", network), zap.String("order_id", orderID))
	}

	r.logger.Info("Updated order remaining",
		zap.String("network", network),
		zap.String("order_id", orderID),
		zap.String("remaining", remaining.String()),
		zap.String("status", string(status)))
	return nil
}

func lower(s string) string { return strings.ToLower(s) }
