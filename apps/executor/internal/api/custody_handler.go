package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"matcher/apps/executor/internal/assets"
)

// Chain is the part of a network connector the ops API reads.
type Chain interface {
	Network() string
	Address() common.Address
	SettlementAddress() common.Address
	BalanceOf(ctx context.Context, token, owner common.Address) *big.Int
}

// CustodyHandler reports what the executor wallet holds. Balances left behind by an
// unfinished cross-chain settlement show up here.
type CustodyHandler struct {
	chains        map[string]Chain
	logger        *zap.Logger
	assetRegistry *assets.AssetRegistry
}

func NewCustodyHandler(chains []Chain, registry *assets.AssetRegistry, logger *zap.Logger) *CustodyHandler {
	byName := make(map[string]Chain, len(chains))
	for _, c := range chains {
		byName[c.Network()] = c
	}
	return &CustodyHandler{chains: byName, logger: logger, assetRegistry: registry}
}

// GetCustody handles GET /api/custody/{network} and /api/custody/{network}/{token}. The token
// may be a canonical symbol or an address.
func (h *CustodyHandler) GetCustody(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	c, ok := h.chains[strings.ToLower(vars["network"])]
	if !ok {
		writeErrorResponse(w, h.logger, http.StatusNotFound, "unknown_network", "Network is not connected")
		return
	}

	var tokens []*assets.Asset
	if token := vars["token"]; token != "" {
		asset, ok := h.resolveToken(c.Network(), token)
		if !ok {
			writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_token", "Token must be a known symbol or an address")
			return
		}
		tokens = append(tokens, asset)
	} else {
		for _, a := range h.assetRegistry.GetAllAsArray() {
			if a.Network == c.Network() {
				tokens = append(tokens, a)
			}
		}
	}

	response := CustodyResponse{
		Network:         c.Network(),
		ExecutorAddress: c.Address().Hex(),
		Balances:        make([]CustodyBalance, 0, len(tokens)),
	}
	for _, a := range tokens {
		raw := c.BalanceOf(r.Context(), a.Address, c.Address())
		response.Balances = append(response.Balances, CustodyBalance{
			Balance:  decimal.NewFromBigInt(raw, int32(-a.Decimals)).String(),
			Raw:      raw.String(),
			Symbol:   a.Symbol,
			Address:  a.Address.Hex(),
			Decimals: a.Decimals,
		})
	}

	writeJSONResponse(w, h.logger, http.StatusOK, response)
}

func (h *CustodyHandler) resolveToken(network, token string) (*assets.Asset, bool) {
	if asset, ok := h.assetRegistry.GetBySymbol(token); ok && asset.Network == network {
		return asset, true
	}
	if !common.IsHexAddress(token) {
		return nil, false
	}
	address := common.HexToAddress(token)
	if asset, ok := h.assetRegistry.GetByAddress(address); ok {
		return asset, true
	}
	return &assets.Asset{Network: network, Address: address, Decimals: assets.DefaultDecimals}, true
}

// writeJSONResponse writes a JSON response with the specified status code
func writeJSONResponse(w http.ResponseWriter, logger *zap.Logger, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func writeErrorResponse(w http.ResponseWriter, logger *zap.Logger, statusCode int, errorCode, message string) {
	writeJSONResponse(w, logger, statusCode, ErrorResponse{Error: errorCode, Message: message})
}
