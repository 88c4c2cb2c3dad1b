// Package quote prices signed orders and sizes fills between a bid and an ask.
//
// All arithmetic is on integer token base units. Prices are quote per base scaled by Scale.
// Sizing floors whatever the buyer receives and ceils whatever the seller receives, so a
// rounding remainder stays unfilled instead of being taken from either maker.
package quote

import (
	"math/big"

	"github.com/shopspring/decimal"

	"matcher/apps/executor/internal/model"
)

// Scale is the fixed-point factor applied to prices.
var Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// maxSizingRounds bounds the shrink loop. Every round strictly lowers the base amount, so in
// practice it converges in two or three rounds.
const maxSizingRounds = 64

// BidPrice is quoteIn*Scale/baseOutMin for an order spending quote.
func BidPrice(o model.SignedOrder) (*big.Int, bool) {
	if o.AmountOutMin == nil || o.AmountOutMin.Sign() <= 0 || o.AmountIn == nil {
		return nil, false
	}
	p := new(big.Int).Mul(o.AmountIn, Scale)
	return p.Quo(p, o.AmountOutMin), true
}

// AskPrice is quoteOutMin*Scale/baseIn for an order spending base.
func AskPrice(o model.SignedOrder) (*big.Int, bool) {
	if o.AmountIn == nil || o.AmountIn.Sign() <= 0 || o.AmountOutMin == nil {
		return nil, false
	}
	p := new(big.Int).Mul(o.AmountOutMin, Scale)
	return p.Quo(p, o.AmountIn), true
}

// ScaledBidPrice normalizes a bid price across tokens with different decimals.
func ScaledBidPrice(o model.SignedOrder, baseDec, quoteDec int) (*big.Int, bool) {
	if o.AmountOutMin == nil || o.AmountOutMin.Sign() <= 0 || o.AmountIn == nil {
		return nil, false
	}
	num := new(big.Int).Mul(o.AmountIn, pow10(baseDec+18))
	den := new(big.Int).Mul(o.AmountOutMin, pow10(quoteDec))
	return num.Quo(num, den), true
}

// ScaledAskPrice normalizes an ask price across tokens with different decimals.
func ScaledAskPrice(o model.SignedOrder, baseDec, quoteDec int) (*big.Int, bool) {
	if o.AmountIn == nil || o.AmountIn.Sign() <= 0 || o.AmountOutMin == nil {
		return nil, false
	}
	num := new(big.Int).Mul(o.AmountOutMin, pow10(baseDec+18))
	den := new(big.Int).Mul(o.AmountIn, pow10(quoteDec))
	return num.Quo(num, den), true
}

// Crosses is the single-chain acceptance rule.
func Crosses(bid, ask *big.Int) bool {
	return bid != nil && ask != nil && bid.Cmp(ask) >= 0
}

// Equal is the cross-chain acceptance rule.
func Equal(bid, ask *big.Int) bool {
	return bid != nil && ask != nil && bid.Cmp(ask) == 0
}

// SameMaker reports a self-trade.
func SameMaker(buy, sell model.SignedOrder) bool {
	return buy.Maker == sell.Maker
}

// MinOut is the floor of amount*orderOutMin/orderIn: the least an order accepts for spending
// amount of its input token.
func MinOut(amount, orderIn, orderOutMin *big.Int) *big.Int {
	if orderIn == nil || orderIn.Sign() == 0 {
		return new(big.Int)
	}
	v := new(big.Int).Mul(amount, orderOutMin)
	return v.Quo(v, orderIn)
}

// CeilDiv returns ceil(a/b) for non-negative a and positive b, and 0 when b is 0.
func CeilDiv(a, b *big.Int) *big.Int {
	if b.Sign() == 0 || a.Sign() == 0 {
		return new(big.Int)
	}
	v := new(big.Int).Add(a, b)
	v.Sub(v, big.NewInt(1))
	return v.Quo(v, b)
}

// Limits carries the mutable side of a sizing decision.
type Limits struct {
	BuyRemaining  *big.Int   // quote the buyer may still spend
	SellRemaining *big.Int   // base the seller may still spend
	BaseCaps      []*big.Int // extra ceilings on the base amount, e.g. on-chain availability
}

// Fill is a sized match: the seller delivers Base and the buyer pays Quote.
type Fill struct {
	Base  *big.Int
	Quote *big.Int
}

// Size finds the largest base amount, within the caps, for which the ceiled quote fits the
// buyer's budget and still honors both makers' minimum rates. ok is false when the amount
// collapses to zero.
func Size(buy, sell model.SignedOrder, lim Limits) (Fill, bool) {
	if !positive(lim.BuyRemaining) || !positive(lim.SellRemaining) {
		return Fill{}, false
	}
	if !positive(buy.AmountIn) || !positive(buy.AmountOutMin) ||
		!positive(sell.AmountIn) || !positive(sell.AmountOutMin) {
		return Fill{}, false
	}

	capBase := func(v *big.Int) *big.Int {
		out := minBig(v, lim.SellRemaining)
		for _, c := range lim.BaseCaps {
			if c != nil {
				out = minBig(out, c)
			}
		}
		return out
	}
	// shrink never returns a value >= the current amount, so the loop always makes progress.
	shrink := func(cur, next *big.Int) *big.Int {
		next = capBase(next)
		if next.Cmp(cur) >= 0 {
			return new(big.Int).Sub(cur, big.NewInt(1))
		}
		return next
	}

	base := capBase(MinOut(lim.BuyRemaining, buy.AmountIn, buy.AmountOutMin))
	for i := 0; i < maxSizingRounds; i++ {
		if base.Sign() <= 0 {
			return Fill{}, false
		}

		// seller: quote*sell.In >= base*sell.OutMin
		q := CeilDiv(new(big.Int).Mul(base, sell.AmountOutMin), sell.AmountIn)
		if q.Cmp(lim.BuyRemaining) > 0 {
			base = shrink(base, MinOut(lim.BuyRemaining, sell.AmountOutMin, sell.AmountIn))
			continue
		}

		// buyer: base*buy.In >= quote*buy.OutMin
		maxQuote := MinOut(base, buy.AmountOutMin, buy.AmountIn)
		if q.Cmp(maxQuote) > 0 {
			base = shrink(base, MinOut(maxQuote, sell.AmountOutMin, sell.AmountIn))
			continue
		}
		if q.Sign() <= 0 {
			return Fill{}, false
		}
		return Fill{Base: base, Quote: q}, true
	}
	return Fill{}, false
}

// HumanPrice is quote per base after removing each token's decimals.
func HumanPrice(base, quote *big.Int, baseDec, quoteDec int) decimal.Decimal {
	if base == nil || base.Sign() == 0 {
		return decimal.Zero
	}
	b := decimal.NewFromBigInt(base, int32(-baseDec))
	q := decimal.NewFromBigInt(quote, int32(-quoteDec))
	return q.DivRound(b, 18)
}

// HumanFromScaled converts a Scale-fixed price for logging.
func HumanFromScaled(p *big.Int) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(p, -18)
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
