package executor

import (
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"matcher/apps/executor/internal/model"
	"matcher/apps/executor/internal/quote"
)

type pricedOrder struct {
	*model.Order
	price *big.Int
}

// book holds one pair's orders in price-time priority.
type book struct {
	key   string
	base  common.Address
	quote common.Address
	bids  []pricedOrder // best (highest) first
	asks  []pricedOrder // best (lowest) first
}

// buildBooks groups open orders by pair and sorts each side. Orders that are expired,
// exhausted, or not on either side of their pair are left out. Books come back in pair key
// order.
func buildBooks(orders []*model.Order, now time.Time, logger *zap.Logger) []*book {
	byKey := make(map[string]*book)
	for _, o := range orders {
		if o.Status != model.OrderOpen || o.Remaining == nil || o.Remaining.Sign() <= 0 {
			continue
		}
		if o.Terms.Expired(now) {
			logger.Debug("Skipping expired order", zap.String("network", o.Network), zap.String("order_id", o.OrderID))
			continue
		}
		side, ok := o.Side()
		if !ok {
			logger.Warn("Order tokens do not match its pair", zap.String("network", o.Network), zap.String("order_id", o.OrderID))
			continue
		}

		b, exists := byKey[o.PairKey()]
		if !exists {
			b = &book{key: o.PairKey(), base: o.Base, quote: o.Quote}
			byKey[b.key] = b
		}
		switch side {
		case model.SideBid:
			if p, ok := quote.BidPrice(o.Terms); ok {
				b.bids = append(b.bids, pricedOrder{Order: o, price: p})
			}
		case model.SideAsk:
			if p, ok := quote.AskPrice(o.Terms); ok {
				b.asks = append(b.asks, pricedOrder{Order: o, price: p})
			}
		}
	}

	books := make([]*book, 0, len(byKey))
	for _, b := range byKey {
		sortSide(b.bids, true)
		sortSide(b.asks, false)
		books = append(books, b)
	}
	sort.Slice(books, func(i, j int) bool { return books[i].key < books[j].key })
	return books
}

// sortSide orders by price (descending for bids) and then by age, oldest first.
func sortSide(side []pricedOrder, descending bool) {
	sort.SliceStable(side, func(i, j int) bool {
		c := side[i].price.Cmp(side[j].price)
		if c != 0 {
			if descending {
				return c > 0
			}
			return c < 0
		}
		if !side[i].CreatedAt.Equal(side[j].CreatedAt) {
			return side[i].CreatedAt.Before(side[j].CreatedAt)
		}
		return side[i].OrderID < side[j].OrderID
	})
}
