package events

import (
	"encoding/json"
	"time"
)

// SettlementEvent is the Kafka envelope for everything the executor publishes.
type SettlementEvent struct {
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	Network     string          `json:"network"`
	TxHash      string          `json:"tx_hash"`
	BlockNumber uint64          `json:"block_number"`
	LogIndex    uint64          `json:"log_index"`
	EventData   json.RawMessage `json:"event_data"`
	CreatedAt   time.Time       `json:"created_at"`
	Timestamp   time.Time       `json:"timestamp"`
}

type FillPayload struct {
	BuyOrderID  string `json:"buy_order_id"`
	SellOrderID string `json:"sell_order_id"`
	AmountBase  string `json:"amount_base"`
	AmountQuote string `json:"amount_quote"`
}

type TradePayload struct {
	Pair        string `json:"pair"`
	BaseAddress string `json:"base_address"`
	QuoteAddr   string `json:"quote_address"`
	AmountBase  string `json:"amount_base"`
	AmountQuote string `json:"amount_quote"`
	Price       string `json:"price"`
}

type CrossChainFillPayload struct {
	SagaID               string `json:"saga_id"`
	BuyNetwork           string `json:"buy_network"`
	SellNetwork          string `json:"sell_network"`
	BuyOrderID           string `json:"buy_order_id"`
	SellOrderID          string `json:"sell_order_id"`
	AmountBase           string `json:"amount_base"`
	AmountQuote          string `json:"amount_quote"`
	Status               string `json:"status"`
	TxHashBuy            string `json:"tx_hash_buy,omitempty"`
	TxHashSell           string `json:"tx_hash_sell,omitempty"`
	TxHashBuySettlement  string `json:"tx_hash_buy_settlement,omitempty"`
	TxHashSellSettlement string `json:"tx_hash_sell_settlement,omitempty"`
}

type CrossChainTradePayload struct {
	TradePayload
	BuyNetwork  string `json:"buy_network"`
	SellNetwork string `json:"sell_network"`
	TxHashBuy   string `json:"tx_hash_buy,omitempty"`
	TxHashSell  string `json:"tx_hash_sell,omitempty"`
}

type ChainMatchedPayload struct {
	BuyHash     string `json:"buy_hash"`
	SellHash    string `json:"sell_hash"`
	Matcher     string `json:"matcher"`
	AmountBase  string `json:"amount_base"`
	AmountQuote string `json:"amount_quote"`
}

type ChainOrderFilledPayload struct {
	OrderHash string `json:"order_hash"`
	Maker     string `json:"maker"`
	Taker     string `json:"taker"`
	TokenIn   string `json:"token_in"`
	TokenOut  string `json:"token_out"`
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
}

type ConditionalTriggeredPayload struct {
	ConditionalOrderID string `json:"conditional_order_id"`
	Kind               string `json:"type"`
	TriggerPrice       string `json:"trigger_price"`
	TriggeredPrice     string `json:"triggered_price"`
	ResultingOrderID   string `json:"resulting_order_id"`
}
