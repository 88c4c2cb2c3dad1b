package quote

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matcher/apps/executor/internal/model"
)

var (
	baseToken  = common.HexToAddress("0x4200000000000000000000000000000000000006")
	quoteToken = common.HexToAddress("0x833589fcd6edb6e08f4c7c32d4f71b54bda02913")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func bid(maker common.Address, quoteIn, baseOutMin int64) model.SignedOrder {
	return model.SignedOrder{
		Maker: maker, TokenIn: quoteToken, TokenOut: baseToken,
		AmountIn: big.NewInt(quoteIn), AmountOutMin: big.NewInt(baseOutMin),
		Expiration: new(big.Int), Nonce: new(big.Int), Salt: new(big.Int),
	}
}

func ask(maker common.Address, baseIn, quoteOutMin int64) model.SignedOrder {
	return model.SignedOrder{
		Maker: maker, TokenIn: baseToken, TokenOut: quoteToken,
		AmountIn: big.NewInt(baseIn), AmountOutMin: big.NewInt(quoteOutMin),
		Expiration: new(big.Int), Nonce: new(big.Int), Salt: new(big.Int),
	}
}

func TestSizeExample(t *testing.T) {
	// buyer pays up to 20 quote per base with a 100 quote budget; seller wants 18 per base for 10 base
	buy := bid(alice, 100, 5)
	sell := ask(bob, 10, 180)

	fill, ok := Size(buy, sell, Limits{BuyRemaining: big.NewInt(100), SellRemaining: big.NewInt(10)})
	require.True(t, ok)
	assert.Equal(t, "5", fill.Base.String())
	assert.Equal(t, "90", fill.Quote.String())
	assert.Equal(t, "10", new(big.Int).Sub(big.NewInt(100), fill.Quote).String())
	assert.Equal(t, "5", new(big.Int).Sub(big.NewInt(10), fill.Base).String())
}

func TestSizeCappedBySellerAndAvailability(t *testing.T) {
	buy := bid(alice, 1000, 50) // 20 per base
	sell := ask(bob, 10, 180)   // 18 per base

	fill, ok := Size(buy, sell, Limits{BuyRemaining: big.NewInt(1000), SellRemaining: big.NewInt(10)})
	require.True(t, ok)
	assert.Equal(t, "10", fill.Base.String())
	assert.Equal(t, "180", fill.Quote.String())

	fill, ok = Size(buy, sell, Limits{
		BuyRemaining:  big.NewInt(1000),
		SellRemaining: big.NewInt(10),
		BaseCaps:      []*big.Int{big.NewInt(3)},
	})
	require.True(t, ok)
	assert.Equal(t, "3", fill.Base.String())
	assert.Equal(t, "54", fill.Quote.String())
}

func TestSizeRejectsNonCrossingTerms(t *testing.T) {
	buy := bid(alice, 100, 6) // at most ~16.6 per base
	sell := ask(bob, 10, 180) // at least 18 per base

	_, ok := Size(buy, sell, Limits{BuyRemaining: big.NewInt(100), SellRemaining: big.NewInt(10)})
	assert.False(t, ok)
}

func TestSizeZeroRemaining(t *testing.T) {
	buy := bid(alice, 100, 5)
	sell := ask(bob, 10, 180)

	_, ok := Size(buy, sell, Limits{BuyRemaining: big.NewInt(0), SellRemaining: big.NewInt(10)})
	assert.False(t, ok)
	_, ok = Size(buy, sell, Limits{BuyRemaining: big.NewInt(100), SellRemaining: big.NewInt(0)})
	assert.False(t, ok)
	_, ok = Size(buy, sell, Limits{BuyRemaining: big.NewInt(100), SellRemaining: big.NewInt(10), BaseCaps: []*big.Int{big.NewInt(0)}})
	assert.False(t, ok)
}

func TestSizeHonorsBothRates(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	matched := 0
	for i := 0; i < 2000; i++ {
		buy := bid(alice, rng.Int63n(1_000_000)+1, rng.Int63n(10_000)+1)
		sell := ask(bob, rng.Int63n(10_000)+1, rng.Int63n(1_000_000)+1)
		lim := Limits{
			BuyRemaining:  big.NewInt(rng.Int63n(buy.AmountIn.Int64()) + 1),
			SellRemaining: big.NewInt(rng.Int63n(sell.AmountIn.Int64()) + 1),
		}

		fill, ok := Size(buy, sell, lim)
		again, okAgain := Size(buy, sell, lim)
		require.Equal(t, ok, okAgain)
		if !ok {
			continue
		}
		matched++
		assert.Equal(t, fill.Base.String(), again.Base.String())
		assert.Equal(t, fill.Quote.String(), again.Quote.String())

		assert.Positive(t, fill.Base.Sign())
		assert.LessOrEqual(t, fill.Quote.Cmp(lim.BuyRemaining), 0)
		assert.LessOrEqual(t, fill.Base.Cmp(lim.SellRemaining), 0)

		// seller receives at least its rate: quote/base >= sell.OutMin/sell.In
		lhs := new(big.Int).Mul(fill.Quote, sell.AmountIn)
		rhs := new(big.Int).Mul(fill.Base, sell.AmountOutMin)
		assert.GreaterOrEqual(t, lhs.Cmp(rhs), 0, "seller rate violated")

		// buyer receives at least its rate: base/quote >= buy.OutMin/buy.In
		lhs = new(big.Int).Mul(fill.Base, buy.AmountIn)
		rhs = new(big.Int).Mul(fill.Quote, buy.AmountOutMin)
		assert.GreaterOrEqual(t, lhs.Cmp(rhs), 0, "buyer rate violated")
	}
	assert.Greater(t, matched, 0)
}

func TestPrices(t *testing.T) {
	b, ok := BidPrice(bid(alice, 100, 5))
	require.True(t, ok)
	a, ok := AskPrice(ask(bob, 10, 180))
	require.True(t, ok)

	assert.Equal(t, "20", HumanFromScaled(b).String())
	assert.Equal(t, "18", HumanFromScaled(a).String())
	assert.True(t, Crosses(b, a))
	assert.False(t, Crosses(a, b))
	assert.False(t, Equal(b, a))

	_, ok = BidPrice(bid(alice, 100, 0))
	assert.False(t, ok)
	_, ok = AskPrice(ask(bob, 0, 180))
	assert.False(t, ok)
}

func TestScaledPricesAcrossDecimals(t *testing.T) {
	// base has 18 decimals, quote has 6: 1 base for 2000 quote on both sides
	oneBase, _ := new(big.Int).SetString("1000000000000000000", 10)
	quoteAmt := big.NewInt(2000_000000)

	b := model.SignedOrder{Maker: alice, TokenIn: quoteToken, TokenOut: baseToken, AmountIn: quoteAmt, AmountOutMin: oneBase}
	s := model.SignedOrder{Maker: bob, TokenIn: baseToken, TokenOut: quoteToken, AmountIn: oneBase, AmountOutMin: quoteAmt}

	pb, ok := ScaledBidPrice(b, 18, 6)
	require.True(t, ok)
	pa, ok := ScaledAskPrice(s, 18, 6)
	require.True(t, ok)
	assert.True(t, Equal(pb, pa))
	assert.Equal(t, "2000", HumanFromScaled(pb).String())
}

func TestSameMaker(t *testing.T) {
	assert.True(t, SameMaker(bid(alice, 100, 5), ask(alice, 10, 180)))
	assert.False(t, SameMaker(bid(alice, 100, 5), ask(bob, 10, 180)))
}

func TestCeilDivAndMinOut(t *testing.T) {
	assert.Equal(t, "90", CeilDiv(big.NewInt(900), big.NewInt(10)).String())
	assert.Equal(t, "91", CeilDiv(big.NewInt(901), big.NewInt(10)).String())
	assert.Equal(t, "0", CeilDiv(big.NewInt(5), big.NewInt(0)).String())
	assert.Equal(t, "4", MinOut(big.NewInt(90), big.NewInt(100), big.NewInt(5)).String())
	assert.Equal(t, "0", MinOut(big.NewInt(90), big.NewInt(0), big.NewInt(5)).String())
}

func TestHumanPrice(t *testing.T) {
	oneBase, _ := new(big.Int).SetString("500000000000000000", 10) // 0.5 base at 18 decimals
	p := HumanPrice(oneBase, big.NewInt(1000_000000), 18, 6)       // 1000 quote at 6 decimals
	assert.Equal(t, "2000", p.String())
	assert.True(t, HumanPrice(big.NewInt(0), big.NewInt(1), 18, 6).IsZero())
}
