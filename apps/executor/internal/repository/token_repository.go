package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"matcher/apps/executor/internal/model"
)

type TokenRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewTokenRepository(db *sql.DB, logger *zap.Logger) *TokenRepository {
	return &TokenRepository{db: db, logger: logger}
}

// GetTokens returns the stored metadata of addresses on any of networks.
func (r *TokenRepository) GetTokens(ctx context.Context, networks []string, addresses []common.Address) ([]model.Token, error) {
	lowered := make([]string, 0, len(addresses))
	for _, a := range addresses {
		lowered = append(lowered, lower(a.Hex()))
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT network, address, symbol, decimals
		FROM tokens
		WHERE network = ANY($1) AND LOWER(address) = ANY($2)
	`, pq.Array(networks), pq.Array(lowered))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tokens: %w", err)
	}
	defer rows.Close()

	var tokens []model.Token
	for rows.Next() {
		var t model.Token
		var address string
		if err := rows.Scan(&t.Network, &address, &t.Symbol, &t.Decimals); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		if !common.IsHexAddress(address) {
			r.logger.Warn("Skipping token with invalid address", zap.String("network", t.Network), zap.String("address", address))
			continue
		}
		t.Address = common.HexToAddress(address)
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tokens: %w", err)
	}
	return tokens, nil
}

// UpsertToken stores or refreshes token metadata.
func (r *TokenRepository) UpsertToken(ctx context.Context, t model.Token) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tokens (network, address, symbol, decimals)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (network, address) DO UPDATE SET symbol = EXCLUDED.symbol, decimals = EXCLUDED.decimals
	`, t.Network, lower(t.Address.Hex()), t.Symbol, t.Decimals)
	if err != nil {
		return fmt.Errorf("failed to upsert token %s: %w", t.Address.Hex(), err)
	}
	return nil
}
