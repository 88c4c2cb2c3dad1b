// Package saga settles pairs whose base and quote tokens live on different networks. There
// is no atomic primitive across chains, so the executor custodies both legs, forwards them,
// and refunds whatever it still holds when a leg fails.
package saga

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"matcher/apps/executor/internal/assets"
	"matcher/apps/executor/internal/chain"
	"matcher/apps/executor/internal/config"
	"matcher/apps/executor/internal/metrics"
	"matcher/apps/executor/internal/model"
	"matcher/apps/executor/internal/quote"
)

const orderFetchLimit = 500

// ErrStalled means a saga could not reach a terminal state and stays journaled for the next
// sweep.
var ErrStalled = errors.New("saga stalled")

// Custodian moves tokens through the executor's wallet on one network.
type Custodian interface {
	Network() string
	Address() common.Address
	BalanceOf(ctx context.Context, token, owner common.Address) *big.Int
	TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) (model.TxRef, error)
	Transfer(ctx context.Context, token, to common.Address, amount *big.Int) (model.TxRef, error)
	TxStatus(ctx context.Context, hash string) (model.TxRef, chain.TxStatus, error)
}

// Legs are the transactions a saga sends, in the order they are sent.
const (
	legBuyCustody     = "buy_custody"
	legSellCustody    = "sell_custody"
	legBuySettlement  = "buy_settlement"
	legSellSettlement = "sell_settlement"
	legBuyRefund      = "buy_refund"
	legSellRefund     = "sell_refund"
)

type OrderStore interface {
	GetOpenOrders(ctx context.Context, network string, limit int) ([]*model.Order, error)
	UpdateOrderRemaining(ctx context.Context, network, orderID string, remaining *big.Int, status model.OrderStatus) error
}

type FillStore interface {
	InsertCrossChainFill(ctx context.Context, f model.CrossChainFill) error
	InsertCrossChainTrade(ctx context.Context, t model.CrossChainTrade) error
}

type PairResolver interface {
	Pair(ctx context.Context, networks []string, base, quote common.Address) assets.PairInfo
}

// Journal persists saga records across restarts.
type Journal interface {
	Save(rec *Record) error
	Pending() ([]*Record, error)
}

type Runner struct {
	custodians map[string]Custodian
	networks   []string
	orders     OrderStore
	fills      FillStore
	resolver   PairResolver
	journal    Journal
	logger     *zap.Logger

	busy  sync.Mutex
	now   func() time.Time
	newID func() string
}

func NewRunner(custodians []Custodian, orders OrderStore, fills FillStore, resolver PairResolver, journal Journal, logger *zap.Logger) *Runner {
	r := &Runner{
		custodians: make(map[string]Custodian, len(custodians)),
		orders:     orders,
		fills:      fills,
		resolver:   resolver,
		journal:    journal,
		logger:     logger,
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}
	for _, c := range custodians {
		r.custodians[c.Network()] = c
		r.networks = append(r.networks, c.Network())
	}
	return r
}

// RunOnce resumes unfinished sagas, then settles at most one cross-chain pair. New sagas are
// not started while an earlier one is still unfinished.
func (r *Runner) RunOnce(ctx context.Context) error {
	if !r.busy.TryLock() {
		r.logger.Info("Cross-chain cycle still running, skipping")
		metrics.CyclesTotal.WithLabelValues(config.NetworkCrossChain, "skipped").Inc()
		return nil
	}
	defer r.busy.Unlock()

	if stalled := r.resume(ctx); stalled > 0 {
		r.logger.Warn("Unfinished cross-chain sagas, not starting new ones", zap.Int("stalled", stalled))
		metrics.CyclesTotal.WithLabelValues(config.NetworkCrossChain, "stalled").Inc()
		return nil
	}

	orders, err := r.orders.GetOpenOrders(ctx, config.NetworkCrossChain, orderFetchLimit)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues(config.NetworkCrossChain, "error").Inc()
		return fmt.Errorf("failed to load cross-chain orders: %w", err)
	}

	for _, p := range groupPairs(orders, r.now()) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		done, err := r.tryPair(ctx, p)
		if err != nil {
			r.logger.Error("Cross-chain pair failed", zap.String("pair", p.key), zap.Error(err))
			continue
		}
		if done {
			break
		}
	}

	metrics.CyclesTotal.WithLabelValues(config.NetworkCrossChain, "ok").Inc()
	return nil
}

// Recover drives every journaled, unfinished saga as far as it can go. It is run at startup
// and at the start of every cycle.
func (r *Runner) Recover(ctx context.Context) int {
	r.busy.Lock()
	defer r.busy.Unlock()
	return r.resume(ctx)
}

func (r *Runner) resume(ctx context.Context) int {
	pending, err := r.journal.Pending()
	if err != nil {
		r.logger.Error("Failed to read saga journal", zap.Error(err))
		return 0
	}

	stalled := 0
	for _, rec := range pending {
		// without a broadcast hash, a custody state here means the process died mid-saga
		if rec.InFlightTx == "" {
			if rec.InFlight != "" {
				r.logger.Error("Saga interrupted with a transaction in flight; verify on chain before trusting custody balances",
					zap.String("saga_id", rec.ID),
					zap.String("state", string(rec.State)),
					zap.String("leg", rec.InFlight))
				rec.InFlight = ""
			}
			switch rec.State {
			case NotStarted:
				// leg 1 may or may not have been sent; nothing is known to be in custody
				rec.Errors = append(rec.Errors, "interrupted before custody")
				r.fail(ctx, rec)
				continue
			case Leg1Custodied, Leg2Custodied:
				rec.Errors = append(rec.Errors, "interrupted during custody")
				r.transition(rec, Compensating)
			}
		}

		buyConn, sellConn, ok := r.connectors(rec.BuyNetwork, rec.SellNetwork)
		if !ok {
			r.logger.Error("Saga network unavailable", zap.String("saga_id", rec.ID), zap.String("buy_network", rec.BuyNetwork), zap.String("sell_network", rec.SellNetwork))
			stalled++
			continue
		}
		if rec.InFlight != "" && !r.settleInFlight(ctx, rec, buyConn, sellConn) {
			stalled++
			continue
		}

		r.logger.Info("Resuming saga", zap.String("saga_id", rec.ID), zap.String("state", string(rec.State)))
		if err := r.advance(ctx, rec, buyConn, sellConn); err != nil {
			r.logger.Warn("Resumed saga did not complete", zap.String("saga_id", rec.ID), zap.Error(err))
		}
		if !rec.State.Terminal() {
			stalled++
		}
	}
	return stalled
}

// settleInFlight reads the outcome of a broadcast leg from chain and applies it. It returns
// false while the outcome is still unknown.
func (r *Runner) settleInFlight(ctx context.Context, rec *Record, buyConn, sellConn Custodian) bool {
	name := rec.InFlight
	conn := sellConn
	switch name {
	case legBuyCustody, legBuySettlement, legBuyRefund:
		conn = buyConn
	}

	tx, status, err := conn.TxStatus(ctx, rec.InFlightTx)
	if err != nil {
		r.logger.Warn("Failed to read in-flight leg", zap.String("saga_id", rec.ID), zap.String("leg", name), zap.String("tx_hash", rec.InFlightTx), zap.Error(err))
		return false
	}

	switch status {
	case chain.TxSucceeded:
		rec.InFlight, rec.InFlightTx = "", ""
		r.logger.Info("In-flight leg confirmed", zap.String("saga_id", rec.ID), zap.String("leg", name), zap.String("tx_hash", tx.Hash))
		r.landed(rec, name, tx)
	case chain.TxReverted:
		rec.InFlight, rec.InFlightTx = "", ""
		rec.Errors = append(rec.Errors, fmt.Sprintf("%s: %s reverted", name, tx.Hash))
		r.rejected(ctx, rec, name)
	default:
		r.logger.Error("In-flight leg still has no receipt",
			zap.String("saga_id", rec.ID),
			zap.String("leg", name),
			zap.String("network", conn.Network()),
			zap.String("tx_hash", rec.InFlightTx))
		return false
	}
	return true
}

func (r *Runner) connectors(buyNetwork, sellNetwork string) (Custodian, Custodian, bool) {
	buy, ok1 := r.custodians[buyNetwork]
	sell, ok2 := r.custodians[sellNetwork]
	return buy, sell, ok1 && ok2
}

type pair struct {
	key   string
	base  common.Address
	quote common.Address
	bids  []*model.Order
	asks  []*model.Order
}

func groupPairs(orders []*model.Order, now time.Time) []*pair {
	byKey := make(map[string]*pair)
	for _, o := range orders {
		if o.Status != model.OrderOpen || o.Remaining == nil || o.Remaining.Sign() <= 0 || o.Terms.Expired(now) {
			continue
		}
		side, ok := o.Side()
		if !ok {
			continue
		}
		p, exists := byKey[o.PairKey()]
		if !exists {
			p = &pair{key: o.PairKey(), base: o.Base, quote: o.Quote}
			byKey[p.key] = p
		}
		if side == model.SideBid {
			p.bids = append(p.bids, o)
		} else {
			p.asks = append(p.asks, o)
		}
	}

	pairs := make([]*pair, 0, len(byKey))
	for _, p := range byKey {
		if len(p.bids) > 0 && len(p.asks) > 0 {
			pairs = append(pairs, p)
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })
	return pairs
}

// best returns the highest bid and lowest ask by decimal-adjusted price, oldest first on ties.
func best(p *pair, info assets.PairInfo) (buy, sell *model.Order, pBid, pAsk *big.Int) {
	for _, o := range p.bids {
		price, ok := quote.ScaledBidPrice(o.Terms, info.BaseDecimals, info.QuoteDecimals)
		if !ok {
			continue
		}
		if buy == nil || price.Cmp(pBid) > 0 || (price.Cmp(pBid) == 0 && o.CreatedAt.Before(buy.CreatedAt)) {
			buy, pBid = o, price
		}
	}
	for _, o := range p.asks {
		price, ok := quote.ScaledAskPrice(o.Terms, info.BaseDecimals, info.QuoteDecimals)
		if !ok {
			continue
		}
		if sell == nil || price.Cmp(pAsk) < 0 || (price.Cmp(pAsk) == 0 && o.CreatedAt.Before(sell.CreatedAt)) {
			sell, pAsk = o, price
		}
	}
	return buy, sell, pBid, pAsk
}

// tryPair returns true once a saga for the pair completed.
func (r *Runner) tryPair(ctx context.Context, p *pair) (bool, error) {
	info := r.resolver.Pair(ctx, r.networks, p.base, p.quote)
	buyNetwork, sellNetwork := info.QuoteNetwork, info.BaseNetwork
	fields := []zap.Field{
		zap.String("pair", p.key),
		zap.String("buy_network", buyNetwork),
		zap.String("sell_network", sellNetwork),
	}

	buyConn, sellConn, ok := r.connectors(buyNetwork, sellNetwork)
	if !ok {
		r.logger.Warn("Cross-chain pair on an unavailable network", fields...)
		return false, nil
	}

	buy, sell, pBid, pAsk := best(p, info)
	if buy == nil || sell == nil {
		return false, nil
	}
	fields = append(fields, zap.String("buy_order_id", buy.OrderID), zap.String("sell_order_id", sell.OrderID))

	if quote.SameMaker(buy.Terms, sell.Terms) {
		r.logger.Info("Skipping cross-chain self-trade", fields...)
		return false, nil
	}
	if !quote.Equal(pBid, pAsk) {
		r.logger.Debug("Cross-chain prices not equal", append(fields,
			zap.String("bid", quote.HumanFromScaled(pBid).String()),
			zap.String("ask", quote.HumanFromScaled(pAsk).String()))...)
		return false, nil
	}

	fill, ok := quote.Size(buy.Terms, sell.Terms, quote.Limits{BuyRemaining: buy.Remaining, SellRemaining: sell.Remaining})
	if !ok {
		r.logger.Info("Cross-chain sized fill is zero", fields...)
		return false, nil
	}

	buyerBalance := buyConn.BalanceOf(ctx, p.quote, buy.Terms.Maker)
	if buyerBalance.Cmp(fill.Quote) < 0 {
		r.logger.Info("Buyer balance does not cover quote", append(fields,
			zap.String("balance", buyerBalance.String()), zap.String("needed", fill.Quote.String()))...)
		return false, nil
	}
	sellerBalance := sellConn.BalanceOf(ctx, p.base, sell.Terms.Maker)
	if sellerBalance.Cmp(fill.Base) < 0 {
		r.logger.Info("Seller balance does not cover base", append(fields,
			zap.String("balance", sellerBalance.String()), zap.String("needed", fill.Base.String()))...)
		return false, nil
	}

	now := r.now()
	rec := &Record{
		ID:              r.newID(),
		State:           NotStarted,
		BuyNetwork:      buyNetwork,
		SellNetwork:     sellNetwork,
		BuyOrderID:      buy.OrderID,
		SellOrderID:     sell.OrderID,
		Buyer:           buy.Terms.Maker,
		Seller:          sell.Terms.Maker,
		BuyerRecipient:  buy.Terms.Recipient(),
		SellerRecipient: sell.Terms.Recipient(),
		BaseToken:       p.base,
		QuoteToken:      p.quote,
		BaseDecimals:    info.BaseDecimals,
		QuoteDecimals:   info.QuoteDecimals,
		AmountBase:      fill.Base,
		AmountQuote:     fill.Quote,
		BuyRemaining:    new(big.Int).Set(buy.Remaining),
		SellRemaining:   new(big.Int).Set(sell.Remaining),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.journal.Save(rec); err != nil {
		return false, fmt.Errorf("failed to journal saga before custody: %w", err)
	}

	r.logger.Info("Starting cross-chain settlement", append(fields,
		zap.String("saga_id", rec.ID),
		zap.String("amount_base", fill.Base.String()),
		zap.String("amount_quote", fill.Quote.String()))...)

	if err := r.advance(ctx, rec, buyConn, sellConn); err != nil {
		return false, err
	}
	return rec.State == Completed, nil
}

// advance runs legs until the record is terminal or a leg cannot proceed.
func (r *Runner) advance(ctx context.Context, rec *Record, buyConn, sellConn Custodian) error {
	for !rec.State.Terminal() {
		var err error
		switch rec.State {
		case NotStarted:
			err = r.leg(ctx, rec, legBuyCustody, func() (model.TxRef, error) {
				return buyConn.TransferFrom(ctx, rec.QuoteToken, rec.Buyer, buyConn.Address(), rec.AmountQuote)
			})
			if err != nil {
				return err
			}

		case Leg1Custodied:
			err = r.leg(ctx, rec, legSellCustody, func() (model.TxRef, error) {
				return sellConn.TransferFrom(ctx, rec.BaseToken, rec.Seller, sellConn.Address(), rec.AmountBase)
			})

		case Leg2Custodied:
			err = r.leg(ctx, rec, legBuySettlement, func() (model.TxRef, error) {
				return buyConn.Transfer(ctx, rec.QuoteToken, rec.SellerRecipient, rec.AmountQuote)
			})

		case SettledLeg1:
			err = r.leg(ctx, rec, legSellSettlement, func() (model.TxRef, error) {
				return sellConn.Transfer(ctx, rec.BaseToken, rec.BuyerRecipient, rec.AmountBase)
			})
			if err != nil && !errors.Is(err, ErrStalled) {
				r.logger.Error("Seller already paid but base could not be forwarded; will retry",
					zap.String("saga_id", rec.ID),
					zap.String("buyer_recipient", rec.BuyerRecipient.Hex()),
					zap.String("amount_base", rec.AmountBase.String()),
					zap.Error(err))
				return fmt.Errorf("%w: %s forwarding base: %v", ErrStalled, rec.ID, err)
			}

		case SettledLeg2:
			r.complete(ctx, rec)

		case Compensating:
			if err := r.compensate(ctx, rec, buyConn, sellConn); err != nil {
				r.recordFailure(ctx, rec)
				return fmt.Errorf("%w: %s refund incomplete: %v", ErrStalled, rec.ID, err)
			}
			r.fail(ctx, rec)
			return fmt.Errorf("saga %s failed: %s", rec.ID, strings.Join(rec.Errors, "; "))

		default:
			return fmt.Errorf("saga %s: unknown state %q", rec.ID, rec.State)
		}

		// an unconfirmed leg leaves the record where it is for the next sweep
		if errors.Is(err, ErrStalled) {
			return err
		}
	}
	return nil
}

// leg journals the in-flight marker, sends one transaction and applies its outcome. A
// transaction that was broadcast but never confirmed keeps the marker and its hash, and the
// returned error wraps ErrStalled.
func (r *Runner) leg(ctx context.Context, rec *Record, name string, send func() (model.TxRef, error)) error {
	rec.InFlight, rec.InFlightTx = name, ""
	r.save(rec)

	tx, err := send()
	switch {
	case err == nil:
		rec.InFlight = ""
		r.logger.Info("Cross-chain leg confirmed",
			zap.String("saga_id", rec.ID),
			zap.String("leg", name),
			zap.String("tx_hash", tx.Hash),
			zap.Uint64("block_number", tx.BlockNumber))
		r.landed(rec, name, tx)
		return nil

	case errors.Is(err, chain.ErrOutcomeUnknown):
		rec.InFlightTx = tx.Hash
		rec.Errors = append(rec.Errors, fmt.Sprintf("%s: %v", name, err))
		r.logger.Error("Cross-chain leg sent but not confirmed; outcome will be read from chain",
			zap.String("saga_id", rec.ID),
			zap.String("leg", name),
			zap.String("tx_hash", tx.Hash),
			zap.Error(err))
		r.save(rec)
		return fmt.Errorf("%w: %s %s: %v", ErrStalled, rec.ID, name, err)

	default:
		rec.InFlight = ""
		rec.Errors = append(rec.Errors, fmt.Sprintf("%s: %v", name, err))
		r.logger.Warn("Cross-chain leg failed", zap.String("saga_id", rec.ID), zap.String("leg", name), zap.Error(err))
		r.rejected(ctx, rec, name)
		return err
	}
}

// landed records a confirmed leg.
func (r *Runner) landed(rec *Record, name string, tx model.TxRef) {
	switch name {
	case legBuyCustody:
		rec.BuyCustody = &tx
		r.transition(rec, Leg1Custodied)
	case legSellCustody:
		rec.SellCustody = &tx
		r.transition(rec, Leg2Custodied)
	case legBuySettlement:
		rec.BuySettlement = &tx
		r.transition(rec, SettledLeg1)
	case legSellSettlement:
		rec.SellSettlement = &tx
		r.transition(rec, SettledLeg2)
	case legBuyRefund:
		rec.BuyRefund = &tx
		r.logger.Info("Refunded buyer", zap.String("saga_id", rec.ID), zap.String("tx_hash", tx.Hash))
		r.save(rec)
	case legSellRefund:
		rec.SellRefund = &tx
		r.logger.Info("Refunded seller", zap.String("saga_id", rec.ID), zap.String("tx_hash", tx.Hash))
		r.save(rec)
	}
}

// rejected handles a leg that definitely did not move funds. Forwarding and refunds stay
// where they are and are retried.
func (r *Runner) rejected(ctx context.Context, rec *Record, name string) {
	switch name {
	case legBuyCustody:
		r.fail(ctx, rec)
	case legSellCustody, legBuySettlement:
		r.transition(rec, Compensating)
	default:
		r.save(rec)
	}
}

// compensate refunds every amount still in custody to its original maker. A nil return means
// nothing is left to refund.
func (r *Runner) compensate(ctx context.Context, rec *Record, buyConn, sellConn Custodian) error {
	var failed error
	if rec.BuyCustody != nil && rec.BuySettlement == nil && rec.BuyRefund == nil {
		err := r.leg(ctx, rec, legBuyRefund, func() (model.TxRef, error) {
			return buyConn.Transfer(ctx, rec.QuoteToken, rec.Buyer, rec.AmountQuote)
		})
		if errors.Is(err, ErrStalled) {
			return err
		}
		if err != nil {
			failed = err
			r.logger.Error("Refund failed; manual reconciliation required",
				zap.String("saga_id", rec.ID),
				zap.String("network", rec.BuyNetwork),
				zap.String("to", rec.Buyer.Hex()),
				zap.String("token", rec.QuoteToken.Hex()),
				zap.String("amount", rec.AmountQuote.String()),
				zap.Error(err))
		}
	}
	if rec.SellCustody != nil && rec.SellSettlement == nil && rec.SellRefund == nil {
		err := r.leg(ctx, rec, legSellRefund, func() (model.TxRef, error) {
			return sellConn.Transfer(ctx, rec.BaseToken, rec.Seller, rec.AmountBase)
		})
		if errors.Is(err, ErrStalled) {
			return err
		}
		if err != nil {
			failed = err
			r.logger.Error("Refund failed; manual reconciliation required",
				zap.String("saga_id", rec.ID),
				zap.String("network", rec.SellNetwork),
				zap.String("to", rec.Seller.Hex()),
				zap.String("token", rec.BaseToken.Hex()),
				zap.String("amount", rec.AmountBase.String()),
				zap.Error(err))
		}
	}
	return failed
}

func (r *Runner) fail(ctx context.Context, rec *Record) {
	r.transition(rec, Failed)
	r.recordFailure(ctx, rec)
}

// recordFailure writes the failed fill row once per saga, even while refunds are still
// being retried.
func (r *Runner) recordFailure(ctx context.Context, rec *Record) {
	if rec.FailureRecorded {
		return
	}
	f := rec.Fill()
	f.Status = model.CrossChainFailed
	if err := r.fills.InsertCrossChainFill(ctx, f); err != nil {
		r.logger.Error("Failed to record failed cross-chain fill", zap.String("saga_id", rec.ID), zap.Error(err))
		return
	}
	rec.FailureRecorded = true
	r.save(rec)
}

func (r *Runner) complete(ctx context.Context, rec *Record) {
	if err := r.fills.InsertCrossChainFill(ctx, rec.Fill()); err != nil {
		r.logger.Error("Failed to record cross-chain fill", zap.String("saga_id", rec.ID), zap.Error(err))
	}

	price := quote.HumanPrice(rec.AmountBase, rec.AmountQuote, rec.BaseDecimals, rec.QuoteDecimals)
	if err := r.fills.InsertCrossChainTrade(ctx, model.CrossChainTrade{
		Pair:        strings.ToLower(rec.BaseToken.Hex() + "/" + rec.QuoteToken.Hex()),
		BaseAddress: strings.ToLower(rec.BaseToken.Hex()),
		QuoteAddr:   strings.ToLower(rec.QuoteToken.Hex()),
		AmountBase:  rec.AmountBase,
		AmountQuote: rec.AmountQuote,
		Price:       price,
		BuyNetwork:  rec.BuyNetwork,
		SellNetwork: rec.SellNetwork,
		BuyTx:       rec.SellSettlement,
		SellTx:      rec.BuySettlement,
	}); err != nil {
		r.logger.Error("Failed to record cross-chain trade", zap.String("saga_id", rec.ID), zap.Error(err))
	}

	r.decrement(ctx, rec.BuyOrderID, rec.BuyRemaining, rec.AmountQuote)
	r.decrement(ctx, rec.SellOrderID, rec.SellRemaining, rec.AmountBase)

	r.transition(rec, Completed)
	r.logger.Info("Cross-chain settlement completed",
		zap.String("saga_id", rec.ID),
		zap.String("price", price.String()))
}

func (r *Runner) decrement(ctx context.Context, orderID string, before, spent *big.Int) {
	remaining := new(big.Int).Sub(before, spent)
	if remaining.Sign() < 0 {
		r.logger.Error("Cross-chain fill exceeds remaining", zap.String("order_id", orderID),
			zap.String("remaining", before.String()), zap.String("spent", spent.String()))
		remaining.SetInt64(0)
	}
	status := model.OrderOpen
	if remaining.Sign() == 0 {
		status = model.OrderFilled
	}
	if err := r.orders.UpdateOrderRemaining(ctx, config.NetworkCrossChain, orderID, remaining, status); err != nil {
		r.logger.Error("Failed to update cross-chain order", zap.String("order_id", orderID), zap.Error(err))
	}
}

// transition moves rec and journals it before anything else happens.
func (r *Runner) transition(rec *Record, to State) {
	from := rec.State
	if err := rec.move(to, r.now()); err != nil {
		r.logger.Error("Rejected saga transition", zap.String("saga_id", rec.ID), zap.Error(err))
		return
	}
	metrics.SagaTransitions.WithLabelValues(string(to)).Inc()
	r.logger.Debug("Saga transition", zap.String("saga_id", rec.ID), zap.String("from", string(from)), zap.String("to", string(to)))
	r.save(rec)
}

// save journals rec. Once funds may be in custody a journal failure must not stop the saga,
// so it is only logged.
func (r *Runner) save(rec *Record) {
	if err := r.journal.Save(rec); err != nil {
		r.logger.Error("Failed to journal saga", zap.String("saga_id", rec.ID), zap.String("state", string(rec.State)), zap.Error(err))
	}
}
