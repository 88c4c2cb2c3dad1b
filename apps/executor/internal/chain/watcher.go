package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

type EventKind string

const (
	KindMatched     EventKind = "Matched"
	KindOrderFilled EventKind = "OrderFilled"
)

type MatchedEvent struct {
	BuyHash     common.Hash
	SellHash    common.Hash
	Matcher     common.Address
	AmountBase  *big.Int
	AmountQuote *big.Int
}

type OrderFilledEvent struct {
	OrderHash common.Hash
	Maker     common.Address
	Taker     common.Address
	TokenIn   common.Address
	TokenOut  common.Address
	AmountIn  *big.Int
	AmountOut *big.Int
}

// Event is one decoded settlement log. Exactly one of Matched and OrderFilled is set.
type Event struct {
	Kind        EventKind
	Network     string
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
	Matched     *MatchedEvent
	OrderFilled *OrderFilledEvent
}

// Cursor persists how far a watcher has scanned.
type Cursor interface {
	GetLastProcessedBlock(network string) (uint64, bool, error)
	UpdateLastProcessedBlock(network string, block uint64) error
}

const watchInterval = 6 * time.Second

// Watcher polls the settlement contract for Matched and OrderFilled logs and delivers them,
// in block order, on Events.
type Watcher struct {
	network    string
	client     Backend
	settlement common.Address
	cursor     Cursor
	logger     *zap.Logger
	chunkSize  uint64
	lookback   uint64
	interval   time.Duration
	events     chan Event
}

func NewWatcher(conn *Connector, cursor Cursor, chunkSize, lookback uint64, logger *zap.Logger) *Watcher {
	if chunkSize == 0 {
		chunkSize = 500
	}
	return &Watcher{
		network:    conn.Network(),
		client:     conn.Backend(),
		settlement: conn.SettlementAddress(),
		cursor:     cursor,
		logger:     logger.With(zap.String("network", conn.Network())),
		chunkSize:  chunkSize,
		lookback:   lookback,
		interval:   watchInterval,
		events:     make(chan Event, 64),
	}
}

func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run scans until ctx is cancelled and then closes the events channel.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)

	lastProcessed, err := w.startBlock(ctx)
	if err != nil {
		return err
	}
	w.logger.Info("Watching settlement events", zap.Uint64("from_block", lastProcessed+1), zap.String("contract", w.settlement.Hex()))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		latest, err := w.client.BlockNumber(ctx)
		if err != nil {
			w.logger.Error("Error getting latest block", zap.Error(err))
		} else if latest > lastProcessed {
			scanned, err := w.processBlockRange(ctx, lastProcessed+1, latest)
			if err != nil {
				w.logger.Error("Error processing blocks", zap.Uint64("start", lastProcessed+1), zap.Uint64("end", latest), zap.Error(err))
			}
			lastProcessed = scanned
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Watcher) startBlock(ctx context.Context) (uint64, error) {
	if w.cursor != nil {
		block, ok, err := w.cursor.GetLastProcessedBlock(w.network)
		if err != nil {
			return 0, fmt.Errorf("failed to get last processed block: %w", err)
		}
		if ok {
			return block, nil
		}
	}
	latest, err := w.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}
	if latest < w.lookback {
		return 0, nil
	}
	return latest - w.lookback, nil
}

// processBlockRange scans [fromBlock, toBlock] in chunks and returns the last block fully
// delivered.
func (w *Watcher) processBlockRange(ctx context.Context, fromBlock, toBlock uint64) (uint64, error) {
	done := fromBlock - 1
	for start := fromBlock; start <= toBlock; start += w.chunkSize {
		end := start + w.chunkSize - 1
		if end > toBlock {
			end = toBlock
		}

		logs, err := w.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{w.settlement},
			Topics:    [][]common.Hash{{MatchedEventSig, OrderFilledEventSig}},
		})
		if err != nil {
			return done, fmt.Errorf("failed to filter logs %d-%d: %w", start, end, err)
		}

		for _, l := range logs {
			if l.Removed {
				continue
			}
			ev, err := DecodeLog(w.network, l)
			if err != nil {
				w.logger.Error("Error decoding event", zap.String("tx_hash", l.TxHash.Hex()), zap.Uint("log_index", l.Index), zap.Error(err))
				continue
			}
			select {
			case w.events <- ev:
			case <-ctx.Done():
				return done, ctx.Err()
			}
		}

		done = end
		if w.cursor != nil {
			if err := w.cursor.UpdateLastProcessedBlock(w.network, end); err != nil {
				w.logger.Error("Error updating last processed block", zap.Uint64("block", end), zap.Error(err))
			}
		}
	}
	return done, nil
}

// DecodeLog decodes a Matched or OrderFilled log emitted by the settlement contract.
func DecodeLog(network string, l types.Log) (Event, error) {
	if len(l.Topics) == 0 {
		return Event{}, fmt.Errorf("log has no topics")
	}
	ev := Event{Network: network, TxHash: l.TxHash, BlockNumber: l.BlockNumber, LogIndex: l.Index}

	switch l.Topics[0] {
	case MatchedEventSig:
		if len(l.Topics) != 4 {
			return Event{}, fmt.Errorf("Matched log has %d topics", len(l.Topics))
		}
		var data struct {
			AmountBase  *big.Int
			AmountQuote *big.Int
		}
		if err := settlementABI.UnpackIntoInterface(&data, "Matched", l.Data); err != nil {
			return Event{}, fmt.Errorf("failed to unpack Matched: %w", err)
		}
		ev.Kind = KindMatched
		ev.Matched = &MatchedEvent{
			BuyHash:     l.Topics[1],
			SellHash:    l.Topics[2],
			Matcher:     common.BytesToAddress(l.Topics[3].Bytes()),
			AmountBase:  data.AmountBase,
			AmountQuote: data.AmountQuote,
		}

	case OrderFilledEventSig:
		if len(l.Topics) != 4 {
			return Event{}, fmt.Errorf("OrderFilled log has %d topics", len(l.Topics))
		}
		var data struct {
			TokenIn   common.Address
			TokenOut  common.Address
			AmountIn  *big.Int
			AmountOut *big.Int
		}
		if err := settlementABI.UnpackIntoInterface(&data, "OrderFilled", l.Data); err != nil {
			return Event{}, fmt.Errorf("failed to unpack OrderFilled: %w", err)
		}
		ev.Kind = KindOrderFilled
		ev.OrderFilled = &OrderFilledEvent{
			OrderHash: l.Topics[1],
			Maker:     common.BytesToAddress(l.Topics[2].Bytes()),
			Taker:     common.BytesToAddress(l.Topics[3].Bytes()),
			TokenIn:   data.TokenIn,
			TokenOut:  data.TokenOut,
			AmountIn:  data.AmountIn,
			AmountOut: data.AmountOut,
		}

	default:
		return Event{}, fmt.Errorf("unexpected event topic %s", l.Topics[0].Hex())
	}
	return ev, nil
}
