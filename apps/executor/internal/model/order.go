package model

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

type Side string

const (
	SideBid Side = "bid" // spends quote for base
	SideAsk Side = "ask" // spends base for quote
)

type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
)

type OrderSource string

const (
	SourceRegular     OrderSource = "regular"
	SourceConditional OrderSource = "conditional"
)

// ErrMalformedOrder is returned for any row or template that does not describe a valid order.
var ErrMalformedOrder = errors.New("malformed order")

// SignedOrder mirrors the settlement contract's Order tuple. Field names must stay in sync
// with the ABI component names so the struct can be packed directly.
type SignedOrder struct {
	Maker        common.Address
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	AmountOutMin *big.Int
	Expiration   *big.Int
	Nonce        *big.Int
	Receiver     common.Address
	Salt         *big.Int
}

// OrderTupleComponents describes the Order struct as the settlement ABI declares it.
var OrderTupleComponents = []abi.ArgumentMarshaling{
	{Name: "maker", Type: "address"},
	{Name: "tokenIn", Type: "address"},
	{Name: "tokenOut", Type: "address"},
	{Name: "amountIn", Type: "uint256"},
	{Name: "amountOutMin", Type: "uint256"},
	{Name: "expiration", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
	{Name: "receiver", Type: "address"},
	{Name: "salt", Type: "uint256"},
}

var orderTupleArgs = func() abi.Arguments {
	t, err := abi.NewType("tuple", "struct OrderBook.Order", OrderTupleComponents)
	if err != nil {
		panic(fmt.Sprintf("order tuple type: %v", err))
	}
	return abi.Arguments{{Type: t}}
}()

// Hash is keccak256 over the ABI encoding of the order terms. It identifies an order
// independently of the storage id.
func (o SignedOrder) Hash() common.Hash {
	packed, err := orderTupleArgs.Pack(o)
	if err != nil {
		return common.Hash{}
	}
	return crypto.Keccak256Hash(packed)
}

// Recipient is where the maker's proceeds go; the zero receiver means the maker.
func (o SignedOrder) Recipient() common.Address {
	if o.Receiver == (common.Address{}) {
		return o.Maker
	}
	return o.Receiver
}

// Expired reports whether the order had an expiration and it is at or before now.
func (o SignedOrder) Expired(now time.Time) bool {
	if o.Expiration == nil || o.Expiration.Sign() == 0 {
		return false
	}
	return o.Expiration.Cmp(big.NewInt(now.Unix())) <= 0
}

// Order is the store's view of a signed order plus the executor-owned fill state.
// The executor never changes Terms; only Remaining and Status move.
type Order struct {
	Network   string
	OrderID   string
	OrderHash string
	Terms     SignedOrder
	Signature []byte
	Base      common.Address
	Quote     common.Address
	Remaining *big.Int
	Status    OrderStatus
	Source    OrderSource
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Side is derived from which pair token the order spends.
func (o *Order) Side() (Side, bool) {
	switch {
	case o.Terms.TokenIn == o.Base && o.Terms.TokenOut == o.Quote:
		return SideAsk, true
	case o.Terms.TokenIn == o.Quote && o.Terms.TokenOut == o.Base:
		return SideBid, true
	}
	return "", false
}

// PairKey groups orders of the same base/quote pair.
func (o *Order) PairKey() string {
	return PairKey(o.Base, o.Quote)
}

func PairKey(base, quote common.Address) string {
	return strings.ToLower(base.Hex()) + "|" + strings.ToLower(quote.Hex())
}

// ApplyFill records that spent units of the input token were settled.
func (o *Order) ApplyFill(spent *big.Int) error {
	if o.Status != OrderOpen {
		return fmt.Errorf("order %s is %s", o.OrderID, o.Status)
	}
	if spent.Sign() <= 0 || spent.Cmp(o.Remaining) > 0 {
		return fmt.Errorf("order %s: fill %s exceeds remaining %s", o.OrderID, spent, o.Remaining)
	}
	o.Remaining = new(big.Int).Sub(o.Remaining, spent)
	if o.Remaining.Sign() == 0 {
		o.Status = OrderFilled
	}
	return nil
}

// OrderTemplate is the loosely typed wire form of order terms: decimal strings and hex
// addresses, as stored in order_template JSON and order rows.
type OrderTemplate struct {
	Maker        string `json:"maker"`
	TokenIn      string `json:"tokenIn"`
	TokenOut     string `json:"tokenOut"`
	AmountIn     string `json:"amountIn"`
	AmountOutMin string `json:"amountOutMin"`
	Expiration   string `json:"expiration"`
	Nonce        string `json:"nonce"`
	Receiver     string `json:"receiver"`
	Salt         string `json:"salt"`
}

// ParseTerms validates a template into contract terms. It rejects instead of coercing.
func ParseTerms(t OrderTemplate) (SignedOrder, error) {
	var (
		o   SignedOrder
		err error
	)
	if o.Maker, err = parseAddress("maker", t.Maker, false); err != nil {
		return o, err
	}
	if o.TokenIn, err = parseAddress("tokenIn", t.TokenIn, false); err != nil {
		return o, err
	}
	if o.TokenOut, err = parseAddress("tokenOut", t.TokenOut, false); err != nil {
		return o, err
	}
	if o.TokenIn == o.TokenOut {
		return o, fmt.Errorf("%w: tokenIn equals tokenOut", ErrMalformedOrder)
	}
	if o.Receiver, err = parseAddress("receiver", t.Receiver, true); err != nil {
		return o, err
	}
	if o.AmountIn, err = parseAmount("amountIn", t.AmountIn, true, false); err != nil {
		return o, err
	}
	if o.AmountOutMin, err = parseAmount("amountOutMin", t.AmountOutMin, true, false); err != nil {
		return o, err
	}
	if o.Expiration, err = parseAmount("expiration", t.Expiration, false, true); err != nil {
		return o, err
	}
	if o.Nonce, err = parseAmount("nonce", t.Nonce, false, true); err != nil {
		return o, err
	}
	if o.Salt, err = parseAmount("salt", t.Salt, false, true); err != nil {
		return o, err
	}
	return o, nil
}

// ParseSignature decodes a 0x-prefixed hex signature.
func ParseSignature(s string) ([]byte, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil || len(sig) == 0 {
		return nil, fmt.Errorf("%w: signature %q", ErrMalformedOrder, s)
	}
	return sig, nil
}

func parseAddress(field, s string, optional bool) (common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" && optional {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not an address", ErrMalformedOrder, field, s)
	}
	return common.HexToAddress(s), nil
}

// parseAmount reads a base-10 uint256. positive requires > 0; optional maps "" to 0.
func parseAmount(field, s string, positive, optional bool) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		if optional {
			return new(big.Int), nil
		}
		return nil, fmt.Errorf("%w: %s missing", ErrMalformedOrder, field)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s %q is not an unsigned integer", ErrMalformedOrder, field, s)
	}
	if v.BitLen() > 256 {
		return nil, fmt.Errorf("%w: %s does not fit in uint256", ErrMalformedOrder, field)
	}
	if positive && v.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s must be positive", ErrMalformedOrder, field)
	}
	return v, nil
}
