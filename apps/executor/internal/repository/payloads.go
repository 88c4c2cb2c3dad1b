package repository

import (
	"math/big"

	"github.com/shopspring/decimal"

	"matcher/apps/executor/internal/events"
	"matcher/apps/executor/internal/model"
)

func fillPayload(f model.Fill) events.FillPayload {
	return events.FillPayload{
		BuyOrderID:  f.BuyOrderID,
		SellOrderID: f.SellOrderID,
		AmountBase:  bigText(f.AmountBase),
		AmountQuote: bigText(f.AmountQuote),
	}
}

func tradePayload(t model.Trade) events.TradePayload {
	return events.TradePayload{
		Pair:        t.Pair,
		BaseAddress: t.BaseAddress,
		QuoteAddr:   t.QuoteAddr,
		AmountBase:  bigText(t.AmountBase),
		AmountQuote: bigText(t.AmountQuote),
		Price:       t.Price.String(),
	}
}

func crossChainFillPayload(f model.CrossChainFill) events.CrossChainFillPayload {
	return events.CrossChainFillPayload{
		SagaID:               f.SagaID,
		BuyNetwork:           f.BuyNetwork,
		SellNetwork:          f.SellNetwork,
		BuyOrderID:           f.BuyOrderID,
		SellOrderID:          f.SellOrderID,
		AmountBase:           bigText(f.AmountBase),
		AmountQuote:          bigText(f.AmountQuote),
		Status:               string(f.Status),
		TxHashBuy:            refHash(f.BuyCustody),
		TxHashSell:           refHash(f.SellCustody),
		TxHashBuySettlement:  refHash(f.BuySettlement),
		TxHashSellSettlement: refHash(f.SellSettlement),
	}
}

func crossChainTradePayload(t model.CrossChainTrade) events.CrossChainTradePayload {
	return events.CrossChainTradePayload{
		TradePayload: events.TradePayload{
			Pair:        t.Pair,
			BaseAddress: t.BaseAddress,
			QuoteAddr:   t.QuoteAddr,
			AmountBase:  bigText(t.AmountBase),
			AmountQuote: bigText(t.AmountQuote),
			Price:       t.Price.String(),
		},
		BuyNetwork:  t.BuyNetwork,
		SellNetwork: t.SellNetwork,
		TxHashBuy:   refHash(t.BuyTx),
		TxHashSell:  refHash(t.SellTx),
	}
}

func conditionalPayload(co *model.ConditionalOrder, price decimal.Decimal, resultingOrderID string) events.ConditionalTriggeredPayload {
	return events.ConditionalTriggeredPayload{
		ConditionalOrderID: co.ID,
		Kind:               string(co.Kind),
		TriggerPrice:       co.TriggerPrice.String(),
		TriggeredPrice:     price.String(),
		ResultingOrderID:   resultingOrderID,
	}
}

func bigText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func refHash(r *model.TxRef) string {
	if r == nil {
		return ""
	}
	return r.Hash
}

// nullable splits a TxRef into nullable columns.
func nullable(r *model.TxRef) (interface{}, interface{}) {
	if r == nil {
		return nil, nil
	}
	return r.Hash, r.BlockNumber
}
