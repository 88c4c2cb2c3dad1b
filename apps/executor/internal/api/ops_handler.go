package api

import (
	"math/big"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"matcher/apps/executor/internal/saga"
)

const defaultSagaLimit = 50

// SagaLister reads the saga journal.
type SagaLister interface {
	Recent(limit int) ([]*saga.Record, error)
}

type OpsHandler struct {
	chains []Chain
	sagas  SagaLister
	logger *zap.Logger
}

func NewOpsHandler(chains []Chain, sagas SagaLister, logger *zap.Logger) *OpsHandler {
	return &OpsHandler{chains: chains, sagas: sagas, logger: logger}
}

// GetNetworks handles GET /api/networks
func (h *OpsHandler) GetNetworks(w http.ResponseWriter, r *http.Request) {
	networks := make([]NetworkResponse, 0, len(h.chains))
	for _, c := range h.chains {
		networks = append(networks, NetworkResponse{
			Name:              c.Network(),
			ExecutorAddress:   c.Address().Hex(),
			SettlementAddress: c.SettlementAddress().Hex(),
		})
	}
	writeJSONResponse(w, h.logger, http.StatusOK, networks)
}

// GetSagas handles GET /api/sagas?limit=N
func (h *OpsHandler) GetSagas(w http.ResponseWriter, r *http.Request) {
	if h.sagas == nil {
		writeErrorResponse(w, h.logger, http.StatusServiceUnavailable, "journal_unavailable", "Saga journal is not open")
		return
	}

	limit := defaultSagaLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := h.sagas.Recent(limit)
	if err != nil {
		h.logger.Error("Failed to read saga journal", zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusInternalServerError, "journal_error", "Failed to read saga journal")
		return
	}

	response := make([]SagaResponse, 0, len(records))
	for _, rec := range records {
		response = append(response, SagaResponse{
			ID:          rec.ID,
			State:       string(rec.State),
			BuyNetwork:  rec.BuyNetwork,
			SellNetwork: rec.SellNetwork,
			BuyOrderID:  rec.BuyOrderID,
			SellOrderID: rec.SellOrderID,
			AmountBase:  bigString(rec.AmountBase),
			AmountQuote: bigString(rec.AmountQuote),
			InFlight:    rec.InFlight,
			Errors:      rec.Errors,
			UpdatedAt:   rec.UpdatedAt,
		})
	}
	writeJSONResponse(w, h.logger, http.StatusOK, response)
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
