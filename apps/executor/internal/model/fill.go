package model

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Fill is the audit record of one single-chain settlement.
type Fill struct {
	Network     string    `db:"network"`
	BuyOrderID  string    `db:"buy_order_id"`
	SellOrderID string    `db:"sell_order_id"`
	AmountBase  *big.Int  `db:"amount_base"`
	AmountQuote *big.Int  `db:"amount_quote"`
	TxHash      string    `db:"tx_hash"`
	BlockNumber uint64    `db:"block_number"`
	CreatedAt   time.Time `db:"created_at"`
}

// Trade is the market-data view of a fill; Price is quote per base in human units.
type Trade struct {
	Network     string          `db:"network"`
	Pair        string          `db:"pair"`
	BaseAddress string          `db:"base_address"`
	QuoteAddr   string          `db:"quote_address"`
	AmountBase  *big.Int        `db:"amount_base"`
	AmountQuote *big.Int        `db:"amount_quote"`
	Price       decimal.Decimal `db:"price"`
	TxHash      string          `db:"tx_hash"`
	BlockNumber uint64          `db:"block_number"`
	CreatedAt   time.Time       `db:"created_at"`
}

type CrossChainStatus string

const (
	CrossChainCompleted CrossChainStatus = "completed"
	CrossChainFailed    CrossChainStatus = "failed"
)

// TxRef locates a confirmed transaction.
type TxRef struct {
	Hash        string
	BlockNumber uint64
}

// CrossChainFill records the custody legs (BuyCustody, SellCustody) and the settlement legs
// (BuySettlement pays the seller on the buy network, SellSettlement pays the buyer on the
// sell network). Legs that never ran are nil.
type CrossChainFill struct {
	SagaID         string           `db:"saga_id"`
	BuyNetwork     string           `db:"buy_network"`
	SellNetwork    string           `db:"sell_network"`
	BuyOrderID     string           `db:"buy_order_id"`
	SellOrderID    string           `db:"sell_order_id"`
	AmountBase     *big.Int         `db:"amount_base"`
	AmountQuote    *big.Int         `db:"amount_quote"`
	BuyCustody     *TxRef           `db:"tx_hash_buy"`
	SellCustody    *TxRef           `db:"tx_hash_sell"`
	BuySettlement  *TxRef           `db:"tx_hash_buy_settlement"`
	SellSettlement *TxRef           `db:"tx_hash_sell_settlement"`
	Status         CrossChainStatus `db:"status"`
}

// CrossChainTrade is the market-data view of a completed cross-chain fill.
type CrossChainTrade struct {
	Pair        string          `db:"pair"`
	BaseAddress string          `db:"base_address"`
	QuoteAddr   string          `db:"quote_address"`
	AmountBase  *big.Int        `db:"amount_base"`
	AmountQuote *big.Int        `db:"amount_quote"`
	Price       decimal.Decimal `db:"price"`
	BuyNetwork  string          `db:"buy_network"`
	SellNetwork string          `db:"sell_network"`
	BuyTx       *TxRef          `db:"tx_hash_buy"`  // buyer receives base
	SellTx      *TxRef          `db:"tx_hash_sell"` // seller receives quote
}

// LatestPrice is the most recent trade price of a pair.
type LatestPrice struct {
	BaseAddress string
	QuoteAddr   string
	Price       decimal.Decimal
}
