package model

import (
	"encoding/json"
	"time"
)

const (
	EventFill             = "fill"
	EventTrade            = "trade"
	EventCrossChainFill   = "cross_chain_fill"
	EventCrossChainTrade  = "cross_chain_trade"
	EventChainMatched     = "chain_matched"
	EventChainOrderFilled = "chain_order_filled"
	EventConditionalFired = "conditional_triggered"
)

type OutboxEvent struct {
	EventID     string          `db:"event_id"`
	EventType   string          `db:"event_type"`
	Status      string          `db:"status"`
	Network     string          `db:"network"`
	TxHash      string          `db:"tx_hash"`
	BlockNumber uint64          `db:"block_number"`
	LogIndex    uint            `db:"log_index"`
	EventBlob   json.RawMessage `db:"event_blob"`
	CreatedAt   time.Time       `db:"created_at"`
}
