// Package trigger turns conditional orders into open orders once the market price reaches
// their trigger.
package trigger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"matcher/apps/executor/internal/metrics"
	"matcher/apps/executor/internal/model"
)

const (
	pendingLimit = 100
	// recentTrades is how far back the latest-price lookup reads.
	recentTrades = 1000
)

type ConditionalStore interface {
	GetPendingConditionalOrders(ctx context.Context, network string, now time.Time, limit int) ([]*model.ConditionalOrder, error)
	// TriggerConditionalOrder stores order and marks co triggered atomically. It reports false
	// when co was no longer pending.
	TriggerConditionalOrder(ctx context.Context, co *model.ConditionalOrder, order *model.Order, price decimal.Decimal) (bool, error)
}

type PriceSource interface {
	GetLatestPrices(ctx context.Context, network string, limit int) (map[string]decimal.Decimal, error)
}

type Trigger struct {
	conditionals ConditionalStore
	prices       PriceSource
	logger       *zap.Logger
	now          func() time.Time
}

func NewTrigger(conditionals ConditionalStore, prices PriceSource, logger *zap.Logger) *Trigger {
	return &Trigger{
		conditionals: conditionals,
		prices:       prices,
		logger:       logger,
		now:          time.Now,
	}
}

// Run fires every pending conditional order of network whose trigger is met and returns the
// ids of the orders it triggered. A failure on one record does not stop the others.
func (t *Trigger) Run(ctx context.Context, network string) ([]string, error) {
	pending, err := t.conditionals.GetPendingConditionalOrders(ctx, network, t.now(), pendingLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load conditional orders: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	prices, err := t.prices.GetLatestPrices(ctx, network, recentTrades)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest prices: %w", err)
	}

	var triggered []string
	for _, co := range pending {
		price, ok := prices[model.PairKey(co.BaseToken, co.QuoteToken)]
		if !ok {
			t.logger.Debug("No price for conditional order pair", zap.String("network", network), zap.String("conditional_order_id", co.ID))
			continue
		}
		if !co.ShouldFire(price) {
			continue
		}

		order := NewOrderFromConditional(co, uuid.New().String(), t.now())
		fired, err := t.conditionals.TriggerConditionalOrder(ctx, co, order, price)
		if err != nil {
			t.logger.Error("Failed to trigger conditional order",
				zap.String("network", network),
				zap.String("conditional_order_id", co.ID),
				zap.Error(err))
			continue
		}
		if !fired {
			continue
		}
		metrics.ConditionalTriggered.WithLabelValues(network, string(co.Kind)).Inc()
		triggered = append(triggered, co.ID)

		t.logger.Info("Triggered conditional order",
			zap.String("network", network),
			zap.String("conditional_order_id", co.ID),
			zap.String("type", string(co.Kind)),
			zap.String("trigger_price", co.TriggerPrice.String()),
			zap.String("price", price.String()),
			zap.String("order_id", order.OrderID))
	}
	return triggered, nil
}

// NewOrderFromConditional builds the open order a fired conditional order becomes. The
// terms are the template the maker signed, untouched.
func NewOrderFromConditional(co *model.ConditionalOrder, orderID string, now time.Time) *model.Order {
	return &model.Order{
		Network:   co.Network,
		OrderID:   orderID,
		OrderHash: co.Template.Hash().Hex(),
		Terms:     co.Template,
		Signature: co.Signature,
		Base:      co.BaseToken,
		Quote:     co.QuoteToken,
		Remaining: new(big.Int).Set(co.Template.AmountIn),
		Status:    model.OrderOpen,
		Source:    model.SourceConditional,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
