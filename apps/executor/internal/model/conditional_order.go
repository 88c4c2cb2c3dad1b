package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type ConditionalKind string

const (
	StopLoss   ConditionalKind = "stop_loss"
	TakeProfit ConditionalKind = "take_profit"
)

type ConditionalStatus string

const (
	ConditionalPending   ConditionalStatus = "pending"
	ConditionalTriggered ConditionalStatus = "triggered"
	ConditionalCancelled ConditionalStatus = "cancelled"
)

// ConditionalOrder is a stop-loss or take-profit template whose signature was collected up
// front for the template's exact terms.
type ConditionalOrder struct {
	Network          string
	ID               string
	Maker            common.Address
	BaseToken        common.Address
	QuoteToken       common.Address
	Kind             ConditionalKind
	TriggerPrice     decimal.Decimal
	Template         SignedOrder
	Signature        []byte
	Expiration       *time.Time
	Status           ConditionalStatus
	TriggeredPrice   *decimal.Decimal
	ResultingOrderID string
}

// ConditionalOrderRow is a conditional_orders row as stored.
type ConditionalOrderRow struct {
	Network       string          `db:"network"`
	ID            string          `db:"conditional_order_id"`
	Maker         string          `db:"maker"`
	BaseToken     string          `db:"base_token"`
	QuoteToken    string          `db:"quote_token"`
	Type          string          `db:"type"`
	TriggerPrice  string          `db:"trigger_price"`
	OrderTemplate json.RawMessage `db:"order_template"`
	Signature     string          `db:"signature"`
	Expiration    *time.Time      `db:"expiration"`
	Status        string          `db:"status"`
}

// ParseConditionalOrderRow validates a stored conditional order.
func ParseConditionalOrderRow(row ConditionalOrderRow) (*ConditionalOrder, error) {
	kind := ConditionalKind(row.Type)
	if kind != StopLoss && kind != TakeProfit {
		return nil, fmt.Errorf("%w: conditional type %q", ErrMalformedOrder, row.Type)
	}
	price, err := decimal.NewFromString(row.TriggerPrice)
	if err != nil || !price.IsPositive() {
		return nil, fmt.Errorf("%w: trigger_price %q", ErrMalformedOrder, row.TriggerPrice)
	}
	if len(row.OrderTemplate) == 0 || string(row.OrderTemplate) == "null" {
		return nil, fmt.Errorf("%w: conditional order %s has no template", ErrMalformedOrder, row.ID)
	}
	var tpl OrderTemplate
	if err := json.Unmarshal(row.OrderTemplate, &tpl); err != nil {
		return nil, fmt.Errorf("%w: order_template: %v", ErrMalformedOrder, err)
	}
	terms, err := ParseTerms(tpl)
	if err != nil {
		return nil, err
	}
	sig, err := ParseSignature(row.Signature)
	if err != nil {
		return nil, err
	}
	maker, err := parseAddress("maker", row.Maker, false)
	if err != nil {
		return nil, err
	}
	if maker != terms.Maker {
		return nil, fmt.Errorf("%w: conditional maker does not match template", ErrMalformedOrder)
	}
	base, err := parseAddress("base_token", row.BaseToken, false)
	if err != nil {
		return nil, err
	}
	quote, err := parseAddress("quote_token", row.QuoteToken, false)
	if err != nil {
		return nil, err
	}

	return &ConditionalOrder{
		Network:      row.Network,
		ID:           row.ID,
		Maker:        maker,
		BaseToken:    base,
		QuoteToken:   quote,
		Kind:         kind,
		TriggerPrice: price,
		Template:     terms,
		Signature:    sig,
		Expiration:   row.Expiration,
		Status:       ConditionalStatus(row.Status),
	}, nil
}

// ShouldFire compares the latest trade price against the trigger.
func (c *ConditionalOrder) ShouldFire(current decimal.Decimal) bool {
	switch c.Kind {
	case StopLoss:
		return current.LessThanOrEqual(c.TriggerPrice)
	case TakeProfit:
		return current.GreaterThanOrEqual(c.TriggerPrice)
	}
	return false
}
