package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"matcher/apps/executor/internal/assets"
	"matcher/apps/executor/internal/chain"
	"matcher/apps/executor/internal/metrics"
	"matcher/apps/executor/internal/model"
	"matcher/apps/executor/internal/quote"
)

const (
	OrderFetchLimit    = 500
	MaxMatchesPerCycle = 5
)

type OrderStore interface {
	GetOpenOrders(ctx context.Context, network string, limit int) ([]*model.Order, error)
	UpdateOrderRemaining(ctx context.Context, network, orderID string, remaining *big.Int, status model.OrderStatus) error
}

type TradeStore interface {
	InsertFill(ctx context.Context, f model.Fill) error
	InsertTrade(ctx context.Context, t model.Trade) error
}

type PairResolver interface {
	Pair(ctx context.Context, networks []string, base, quote common.Address) assets.PairInfo
}

type ConditionalTrigger interface {
	Run(ctx context.Context, network string) ([]string, error)
}

// CycleResult summarizes one RunOnce.
type CycleResult struct {
	Skipped   bool
	Triggered []string
	Pairs     int
	Matches   int
}

// Controller runs matching cycles for single-chain networks.
type Controller struct {
	orders   OrderStore
	trades   TradeStore
	resolver PairResolver
	trigger  ConditionalTrigger
	logger   *zap.Logger
	now      func() time.Time
}

func NewController(orders OrderStore, trades TradeStore, resolver PairResolver, trigger ConditionalTrigger, logger *zap.Logger) *Controller {
	return &Controller{
		orders:   orders,
		trades:   trades,
		resolver: resolver,
		trigger:  trigger,
		logger:   logger,
		now:      time.Now,
	}
}

// RunOnce executes one matching cycle on net. If a cycle is already running there it
// returns immediately with Skipped set. Failures inside a pair are logged and only end that
// pair's attempt.
func (c *Controller) RunOnce(ctx context.Context, net *Network) (CycleResult, error) {
	if !net.TryAcquire() {
		c.logger.Info("Matching cycle still running, skipping", zap.String("network", net.Name))
		metrics.CyclesTotal.WithLabelValues(net.Name, "skipped").Inc()
		return CycleResult{Skipped: true}, nil
	}
	defer net.Release()

	start := time.Now()
	defer func() {
		metrics.CycleDuration.WithLabelValues(net.Name).Observe(time.Since(start).Seconds())
	}()

	var result CycleResult
	if c.trigger != nil {
		triggered, err := c.trigger.Run(ctx, net.Name)
		if err != nil {
			c.logger.Warn("Conditional trigger failed", zap.String("network", net.Name), zap.Error(err))
		}
		result.Triggered = triggered
	}

	orders, err := c.orders.GetOpenOrders(ctx, net.Name, OrderFetchLimit)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues(net.Name, "error").Inc()
		return result, fmt.Errorf("failed to load open orders for %s: %w", net.Name, err)
	}

	books := buildBooks(orders, c.now(), c.logger)
	result.Pairs = len(books)
	c.logger.Debug("Matching cycle started",
		zap.String("network", net.Name),
		zap.Int("orders", len(orders)),
		zap.Int("pairs", len(books)))

	for _, b := range books {
		if result.Matches >= MaxMatchesPerCycle {
			break
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		matched, err := c.tryPair(ctx, net, b)
		if err != nil {
			metrics.MatchesTotal.WithLabelValues(net.Name, "failed").Inc()
			c.logger.Error("Pair match failed", zap.String("network", net.Name), zap.String("pair", b.key), zap.Error(err))
			continue
		}
		if matched {
			metrics.MatchesTotal.WithLabelValues(net.Name, "settled").Inc()
			result.Matches++
		}
	}

	metrics.CyclesTotal.WithLabelValues(net.Name, "ok").Inc()
	if result.Matches > 0 || len(result.Triggered) > 0 {
		c.logger.Info("Matching cycle finished",
			zap.String("network", net.Name),
			zap.Int("matches", result.Matches),
			zap.Int("triggered", len(result.Triggered)))
	}
	return result, nil
}

// diagnostics are the on-chain reads taken before sizing a match.
type diagnostics struct {
	sigBuy, sigSell         bool
	availBuy, availSell     *big.Int
	allowBuy, allowSell     *big.Int
	balanceBuy, balanceSell *big.Int
}

func (c *Controller) diagnose(ctx context.Context, s Settler, buy, sell *model.Order) diagnostics {
	var d diagnostics
	spender := s.SettlementAddress()

	// Reads never fail, so the group only fans out.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { d.sigBuy = s.VerifySignature(gctx, buy.Terms, buy.Signature); return nil })
	g.Go(func() error { d.sigSell = s.VerifySignature(gctx, sell.Terms, sell.Signature); return nil })
	g.Go(func() error { d.availBuy = s.AvailableToFill(gctx, buy.Terms); return nil })
	g.Go(func() error { d.availSell = s.AvailableToFill(gctx, sell.Terms); return nil })
	g.Go(func() error { d.allowBuy = s.Allowance(gctx, buy.Terms.TokenIn, buy.Terms.Maker, spender); return nil })
	g.Go(func() error {
		d.allowSell = s.Allowance(gctx, sell.Terms.TokenIn, sell.Terms.Maker, spender)
		return nil
	})
	g.Go(func() error { d.balanceBuy = s.BalanceOf(gctx, buy.Terms.TokenIn, buy.Terms.Maker); return nil })
	g.Go(func() error { d.balanceSell = s.BalanceOf(gctx, sell.Terms.TokenIn, sell.Terms.Maker); return nil })
	_ = g.Wait()

	return d
}

func (c *Controller) tryPair(ctx context.Context, net *Network, b *book) (bool, error) {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return false, nil
	}
	buy, sell := b.bids[0], b.asks[0]
	fields := []zap.Field{
		zap.String("network", net.Name),
		zap.String("pair", b.key),
		zap.String("buy_order_id", buy.OrderID),
		zap.String("sell_order_id", sell.OrderID),
	}

	if quote.SameMaker(buy.Terms, sell.Terms) {
		c.logger.Info("Skipping self-trade", fields...)
		return false, nil
	}
	if !quote.Crosses(buy.price, sell.price) {
		c.logger.Debug("Best bid does not cross best ask", append(fields,
			zap.String("bid", quote.HumanFromScaled(buy.price).String()),
			zap.String("ask", quote.HumanFromScaled(sell.price).String()))...)
		return false, nil
	}

	d := c.diagnose(ctx, net.Settler, buy.Order, sell.Order)
	c.logger.Debug("Match diagnostics", append(fields,
		zap.Bool("sig_buy", d.sigBuy),
		zap.Bool("sig_sell", d.sigSell),
		zap.String("avail_buy", d.availBuy.String()),
		zap.String("avail_sell", d.availSell.String()),
		zap.String("allowance_buy", d.allowBuy.String()),
		zap.String("allowance_sell", d.allowSell.String()),
		zap.String("balance_buy", d.balanceBuy.String()),
		zap.String("balance_sell", d.balanceSell.String()))...)

	if !d.sigBuy || !d.sigSell {
		c.logger.Warn("Skipping pair with invalid signature", append(fields,
			zap.Bool("sig_buy", d.sigBuy), zap.Bool("sig_sell", d.sigSell))...)
		return false, nil
	}
	if d.availBuy.Sign() == 0 || d.availSell.Sign() == 0 {
		c.logger.Info("Skipping pair with nothing available on chain", fields...)
		return false, nil
	}

	fill, ok := quote.Size(buy.Terms, sell.Terms, quote.Limits{
		BuyRemaining:  buy.Remaining,
		SellRemaining: sell.Remaining,
		BaseCaps: []*big.Int{
			d.availSell,
			quote.MinOut(d.availBuy, buy.Terms.AmountIn, buy.Terms.AmountOutMin),
		},
	})
	if !ok {
		c.logger.Info("Sized fill is zero", fields...)
		return false, nil
	}

	c.logger.Info("Submitting match", append(fields,
		zap.String("amount_base", fill.Base.String()),
		zap.String("amount_quote", fill.Quote.String()))...)

	tx, err := net.Settler.MatchOrders(ctx, buy.Terms, buy.Signature, sell.Terms, sell.Signature, fill.Base, fill.Quote)
	if err != nil {
		var revert *chain.RevertError
		if errors.Is(err, chain.ErrOutcomeUnknown) {
			// availableToFill reflects the fill on later cycles if it landed
			metrics.MatchesTotal.WithLabelValues(net.Name, "unknown").Inc()
			c.logger.Error("Match sent but outcome unknown; not recorded", append(fields, zap.String("tx_hash", tx.Hash))...)
		} else if errors.As(err, &revert) {
			metrics.RevertsTotal.WithLabelValues(net.Name, revert.Reason).Inc()
			c.logger.Warn("Match reverted", append(fields,
				zap.String("reason", revert.Reason),
				zap.String("hint", revert.Hint()),
				zap.String("tx_hash", revert.TxHash))...)
		}
		return false, fmt.Errorf("matchOrders: %w", err)
	}

	c.record(ctx, net, b, buy.Order, sell.Order, fill, tx)
	return true, nil
}

// record persists a settled match. The settlement already happened on chain, so store
// failures are logged and never undo it.
func (c *Controller) record(ctx context.Context, net *Network, b *book, buy, sell *model.Order, fill quote.Fill, tx model.TxRef) {
	info := c.resolver.Pair(ctx, []string{net.Name}, b.base, b.quote)

	if err := c.trades.InsertFill(ctx, model.Fill{
		Network:     net.Name,
		BuyOrderID:  buy.OrderID,
		SellOrderID: sell.OrderID,
		AmountBase:  fill.Base,
		AmountQuote: fill.Quote,
		TxHash:      tx.Hash,
		BlockNumber: tx.BlockNumber,
	}); err != nil {
		c.logger.Error("Failed to record fill", zap.String("network", net.Name), zap.String("tx_hash", tx.Hash), zap.Error(err))
	}

	price := quote.HumanPrice(fill.Base, fill.Quote, info.BaseDecimals, info.QuoteDecimals)
	if err := c.trades.InsertTrade(ctx, model.Trade{
		Network:     net.Name,
		Pair:        strings.ToLower(b.base.Hex() + "/" + b.quote.Hex()),
		BaseAddress: strings.ToLower(b.base.Hex()),
		QuoteAddr:   strings.ToLower(b.quote.Hex()),
		AmountBase:  fill.Base,
		AmountQuote: fill.Quote,
		Price:       price,
		TxHash:      tx.Hash,
		BlockNumber: tx.BlockNumber,
	}); err != nil {
		c.logger.Error("Failed to record trade", zap.String("network", net.Name), zap.String("tx_hash", tx.Hash), zap.Error(err))
	}

	c.settle(ctx, net.Name, buy, fill.Quote)
	c.settle(ctx, net.Name, sell, fill.Base)

	c.logger.Info("Match settled",
		zap.String("network", net.Name),
		zap.String("tx_hash", tx.Hash),
		zap.Uint64("block_number", tx.BlockNumber),
		zap.String("price", price.String()))
}

func (c *Controller) settle(ctx context.Context, network string, o *model.Order, spent *big.Int) {
	if err := o.ApplyFill(spent); err != nil {
		c.logger.Error("Fill does not fit order", zap.String("network", network), zap.String("order_id", o.OrderID), zap.Error(err))
		return
	}
	if err := c.orders.UpdateOrderRemaining(ctx, network, o.OrderID, o.Remaining, o.Status); err != nil {
		c.logger.Error("Failed to update order remaining", zap.String("network", network), zap.String("order_id", o.OrderID), zap.Error(err))
	}
}
