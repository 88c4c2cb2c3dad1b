package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"matcher/apps/executor/internal/config"
	"matcher/apps/executor/internal/model"
)

// TradeRepository records settlement outcomes. Every record is written together with its
// outbox event in one transaction.
type TradeRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewTradeRepository(db *sql.DB, logger *zap.Logger) *TradeRepository {
	return &TradeRepository{db: db, logger: logger}
}

func (r *TradeRepository) withOutbox(ctx context.Context, event model.OutboxEvent, write func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := write(tx); err != nil {
		return err
	}
	if err := insertOutboxEvent(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *TradeRepository) InsertFill(ctx context.Context, f model.Fill) error {
	event, err := NewOutboxEvent(model.EventFill, f.Network, f.TxHash, f.BlockNumber, 0, fillPayload(f))
	if err != nil {
		return err
	}
	err = r.withOutbox(ctx, event, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO fills (network, buy_order_id, sell_order_id, amount_base, amount_quote, tx_hash, block_number, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		`, f.Network, f.BuyOrderID, f.SellOrderID, bigText(f.AmountBase), bigText(f.AmountQuote), f.TxHash, f.BlockNumber)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert fill: %w", err)
	}

	r.logger.Info("Inserted fill", zap.String("network", f.Network), zap.String("tx_hash", f.TxHash),
		zap.String("buy_order_id", f.BuyOrderID), zap.String("sell_order_id", f.SellOrderID))
	return nil
}

func (r *TradeRepository) InsertTrade(ctx context.Context, t model.Trade) error {
	event, err := NewOutboxEvent(model.EventTrade, t.Network, t.TxHash, t.BlockNumber, 0, tradePayload(t))
	if err != nil {
		return err
	}
	err = r.withOutbox(ctx, event, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trades (network, pair, base_address, quote_address, amount_base, amount_quote, price, tx_hash, block_number, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		`, t.Network, t.Pair, t.BaseAddress, t.QuoteAddr, bigText(t.AmountBase), bigText(t.AmountQuote), t.Price.String(), t.TxHash, t.BlockNumber)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}

	r.logger.Info("Inserted trade", zap.String("network", t.Network), zap.String("pair", t.Pair), zap.String("price", t.Price.String()))
	return nil
}

func (r *TradeRepository) InsertCrossChainFill(ctx context.Context, f model.CrossChainFill) error {
	// Failed sagas may have no transaction at all; the saga id keys their event.
	eventKey, block := f.SagaID, uint64(0)
	if f.BuyCustody != nil {
		eventKey, block = f.BuyCustody.Hash, f.BuyCustody.BlockNumber
	}
	event, err := NewOutboxEvent(model.EventCrossChainFill, config.NetworkCrossChain, eventKey, block, 0, crossChainFillPayload(f))
	if err != nil {
		return err
	}

	buyHash, buyBlock := nullable(f.BuyCustody)
	sellHash, sellBlock := nullable(f.SellCustody)
	buySetHash, buySetBlock := nullable(f.BuySettlement)
	sellSetHash, sellSetBlock := nullable(f.SellSettlement)

	err = r.withOutbox(ctx, event, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cross_chain_fills (saga_id, buy_network, sell_network, buy_order_id, sell_order_id, amount_base, amount_quote,
				tx_hash_buy, block_number_buy, tx_hash_sell, block_number_sell,
				tx_hash_buy_settlement, block_number_buy_settlement, tx_hash_sell_settlement, block_number_sell_settlement,
				status, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
		`, f.SagaID, f.BuyNetwork, f.SellNetwork, f.BuyOrderID, f.SellOrderID, bigText(f.AmountBase), bigText(f.AmountQuote),
			buyHash, buyBlock, sellHash, sellBlock, buySetHash, buySetBlock, sellSetHash, sellSetBlock, string(f.Status))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert cross-chain fill: %w", err)
	}

	r.logger.Info("Inserted cross-chain fill", zap.String("saga_id", f.SagaID), zap.String("status", string(f.Status)))
	return nil
}

func (r *TradeRepository) InsertCrossChainTrade(ctx context.Context, t model.CrossChainTrade) error {
	eventKey, block := refHash(t.BuyTx), uint64(0)
	if t.BuyTx != nil {
		block = t.BuyTx.BlockNumber
	}
	event, err := NewOutboxEvent(model.EventCrossChainTrade, config.NetworkCrossChain, eventKey, block, 0, crossChainTradePayload(t))
	if err != nil {
		return err
	}

	buyHash, buyBlock := nullable(t.BuyTx)
	sellHash, sellBlock := nullable(t.SellTx)

	err = r.withOutbox(ctx, event, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cross_chain_trades (pair, base_address, quote_address, amount_base, amount_quote, price,
				buy_network, sell_network, tx_hash_buy, block_number_buy, tx_hash_sell, block_number_sell, status, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 'completed', NOW())
		`, t.Pair, t.BaseAddress, t.QuoteAddr, bigText(t.AmountBase), bigText(t.AmountQuote), t.Price.String(),
			t.BuyNetwork, t.SellNetwork, buyHash, buyBlock, sellHash, sellBlock)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert cross-chain trade: %w", err)
	}

	r.logger.Info("Inserted cross-chain trade", zap.String("pair", t.Pair), zap.String("price", t.Price.String()))
	return nil
}

// GetLatestPrices returns the most recent trade price per base/quote pair among the last
// limit trades of network, keyed by model.PairKey.
func (r *TradeRepository) GetLatestPrices(ctx context.Context, network string, limit int) (map[string]decimal.Decimal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT base_address, quote_address, price::text
		FROM trades
		WHERE network = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, network, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent trades: %w", err)
	}
	defer rows.Close()

	prices := make(map[string]decimal.Decimal)
	for rows.Next() {
		var base, quote, price string
		if err := rows.Scan(&base, &quote, &price); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		key := model.PairKey(common.HexToAddress(base), common.HexToAddress(quote))
		if _, seen := prices[key]; seen {
			continue
		}
		p, err := decimal.NewFromString(price)
		if err != nil {
			r.logger.Warn("Skipping trade with invalid price", zap.String("pair", key), zap.String("price", price))
			continue
		}
		prices[key] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recent trades: %w", err)
	}
	return prices, nil
}

// ConfirmFill stamps fills whose settlement transaction was observed on chain.
func (r *TradeRepository) ConfirmFill(ctx context.Context, network, txHash string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE fills
		SET confirmed_at = NOW()
		WHERE network = $1 AND LOWER(tx_hash) = LOWER($2) AND confirmed_at IS NULL
	`, network, txHash)
	if err != nil {
		return 0, fmt.Errorf("failed to confirm fill %s: %w", txHash, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
