package model

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OrderRow is an orders (or cross_chain_orders) row as stored.
type OrderRow struct {
	Network   string          `db:"network"`
	OrderID   string          `db:"order_id"`
	OrderHash string          `db:"order_hash"`
	Maker     string          `db:"maker"`
	OrderJSON json.RawMessage `db:"order_json"`
	Signature string          `db:"signature"`
	Base      string          `db:"base"`
	Quote     string          `db:"quote"`
	Remaining string          `db:"remaining"`
	Status    string          `db:"status"`
	Source    *string         `db:"source"` // nullable, regular when absent
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// ParseOrderRow turns a stored row into an Order, failing closed on anything malformed.
func ParseOrderRow(row OrderRow) (*Order, error) {
	var tpl OrderTemplate
	if err := json.Unmarshal(row.OrderJSON, &tpl); err != nil {
		return nil, fmt.Errorf("%w: order_json: %v", ErrMalformedOrder, err)
	}
	terms, err := ParseTerms(tpl)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(row.Maker, terms.Maker.Hex()) {
		return nil, fmt.Errorf("%w: maker %q does not match signed terms", ErrMalformedOrder, row.Maker)
	}
	sig, err := ParseSignature(row.Signature)
	if err != nil {
		return nil, err
	}
	base, err := parseAddress("base", row.Base, false)
	if err != nil {
		return nil, err
	}
	quote, err := parseAddress("quote", row.Quote, false)
	if err != nil {
		return nil, err
	}
	remaining, err := parseAmount("remaining", row.Remaining, false, false)
	if err != nil {
		return nil, err
	}
	if remaining.Cmp(terms.AmountIn) > 0 {
		return nil, fmt.Errorf("%w: remaining %s exceeds amountIn %s", ErrMalformedOrder, remaining, terms.AmountIn)
	}

	status := OrderStatus(row.Status)
	switch status {
	case OrderOpen, OrderFilled, OrderCancelled:
	default:
		return nil, fmt.Errorf("%w: status %q", ErrMalformedOrder, row.Status)
	}
	source := SourceRegular
	if row.Source != nil && *row.Source != "" {
		source = OrderSource(*row.Source)
		if source != SourceRegular && source != SourceConditional {
			return nil, fmt.Errorf("%w: source %q", ErrMalformedOrder, *row.Source)
		}
	}

	order := &Order{
		Network:   row.Network,
		OrderID:   row.OrderID,
		OrderHash: row.OrderHash,
		Terms:     terms,
		Signature: sig,
		Base:      base,
		Quote:     quote,
		Remaining: remaining,
		Status:    status,
		Source:    source,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if _, ok := order.Side(); !ok {
		return nil, fmt.Errorf("%w: tokens do not belong to pair %s", ErrMalformedOrder, order.PairKey())
	}
	return order, nil
}

// TemplateOf renders terms back into their wire form.
func TemplateOf(o SignedOrder) OrderTemplate {
	tpl := OrderTemplate{
		Maker:        strings.ToLower(o.Maker.Hex()),
		TokenIn:      strings.ToLower(o.TokenIn.Hex()),
		TokenOut:     strings.ToLower(o.TokenOut.Hex()),
		AmountIn:     bigString(o.AmountIn),
		AmountOutMin: bigString(o.AmountOutMin),
		Expiration:   bigString(o.Expiration),
		Nonce:        bigString(o.Nonce),
		Salt:         bigString(o.Salt),
	}
	if o.Receiver != (common.Address{}) {
		tpl.Receiver = strings.ToLower(o.Receiver.Hex())
	}
	return tpl
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
