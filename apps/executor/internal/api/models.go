package api

import "time"

type HealthResponse struct {
	Status   string `json:"status"`
	Networks int    `json:"networks"`
	Time     string `json:"time"`
}

// NetworkResponse describes one connected network.
type NetworkResponse struct {
	Name              string `json:"name"`
	ExecutorAddress   string `json:"executor_address"`
	SettlementAddress string `json:"settlement_address"`
}

// CustodyBalance is the executor wallet's holding of one token.
type CustodyBalance struct {
	Balance  string `json:"balance"`
	Raw      string `json:"raw"`
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
}

type CustodyResponse struct {
	Network         string           `json:"network"`
	ExecutorAddress string           `json:"executor_address"`
	Balances        []CustodyBalance `json:"balances"`
}

type SagaResponse struct {
	ID          string    `json:"id"`
	State       string    `json:"state"`
	BuyNetwork  string    `json:"buy_network"`
	SellNetwork string    `json:"sell_network"`
	BuyOrderID  string    `json:"buy_order_id"`
	SellOrderID string    `json:"sell_order_id"`
	AmountBase  string    `json:"amount_base"`
	AmountQuote string    `json:"amount_quote"`
	InFlight    string    `json:"in_flight,omitempty"`
	Errors      []string  `json:"errors,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ErrorResponse represents the API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
