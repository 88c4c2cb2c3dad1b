// Package reconciler consumes the executor's own Kafka stream and confirms recorded fills
// once their settlement transaction is observed on chain.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"matcher/apps/executor/internal/events"
	"matcher/apps/executor/internal/model"
)

const readTimeout = time.Second

// Consumer is satisfied by *kafka.Consumer.
type Consumer interface {
	Subscribe(topic string, rebalanceCb kafka.RebalanceCb) error
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	Close() error
}

type FillConfirmer interface {
	ConfirmFill(ctx context.Context, network, txHash string) (int64, error)
}

type Reconciler struct {
	logger        *zap.Logger
	kafkaConsumer Consumer
	fills         FillConfirmer
	kafkaTopic    string
	executor      common.Address
}

func NewReconciler(kafkaBroker, kafkaTopic string, executor common.Address, logger *zap.Logger, fills FillConfirmer) (*Reconciler, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"group.id":          "executor-reconciler",
		"auto.offset.reset": "earliest",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	return NewReconcilerWithConsumer(consumer, kafkaTopic, executor, logger, fills), nil
}

func NewReconcilerWithConsumer(consumer Consumer, kafkaTopic string, executor common.Address, logger *zap.Logger, fills FillConfirmer) *Reconciler {
	return &Reconciler{
		logger:        logger,
		kafkaConsumer: consumer,
		fills:         fills,
		kafkaTopic:    kafkaTopic,
		executor:      executor,
	}
}

// Start consumes until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) error {
	r.logger.Info("Starting fill reconciler", zap.String("topic", r.kafkaTopic))

	if err := r.kafkaConsumer.Subscribe(r.kafkaTopic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", r.kafkaTopic, err)
	}

	for ctx.Err() == nil {
		msg, err := r.kafkaConsumer.ReadMessage(readTimeout)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
				continue
			}
			r.logger.Error("Error reading message from Kafka", zap.Error(err))
			continue
		}

		if err := r.processMessage(ctx, msg.Value); err != nil {
			r.logger.Error("Error processing message",
				zap.Int32("partition", msg.TopicPartition.Partition),
				zap.String("key", string(msg.Key)),
				zap.Error(err))
		}
	}
	return nil
}

func (r *Reconciler) processMessage(ctx context.Context, value []byte) error {
	var event events.SettlementEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal settlement event: %w", err)
	}

	switch strings.ToLower(event.EventType) {
	case model.EventChainMatched:
		return r.processMatched(ctx, event)
	default:
		return nil
	}
}

func (r *Reconciler) processMatched(ctx context.Context, event events.SettlementEvent) error {
	var payload events.ChainMatchedPayload
	if err := json.Unmarshal(event.EventData, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal matched payload: %w", err)
	}

	confirmed, err := r.fills.ConfirmFill(ctx, event.Network, event.TxHash)
	if err != nil {
		return err
	}

	if confirmed > 0 {
		r.logger.Info("Confirmed fill",
			zap.String("network", event.Network),
			zap.String("tx_hash", event.TxHash),
			zap.Uint64("block_number", event.BlockNumber))
		return nil
	}

	if common.IsHexAddress(payload.Matcher) && common.HexToAddress(payload.Matcher) == r.executor {
		// ours, but the fill row is missing or already confirmed
		r.logger.Warn("On-chain match has no unconfirmed fill",
			zap.String("network", event.Network),
			zap.String("tx_hash", event.TxHash))
	}
	return nil
}

func (r *Reconciler) Close() error {
	if r.kafkaConsumer != nil {
		return r.kafkaConsumer.Close()
	}
	return nil
}
