package event_publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"

	"matcher/apps/executor/internal/chain"
	"matcher/apps/executor/internal/events"
	"matcher/apps/executor/internal/metrics"
	"matcher/apps/executor/internal/model"
	"matcher/apps/executor/internal/repository"
)

const (
	publishInterval = 3 * time.Second
	publishBatch    = 100
)

// Outbox is the event_outbox table as the publisher sees it.
type Outbox interface {
	StoreOutboxEvent(ctx context.Context, event model.OutboxEvent) error
	GetUnsentEventsForProcessing(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkEventAsSent(ctx context.Context, eventID string) error
	MarkEventAsFailed(ctx context.Context, eventID string) error
}

// Producer is satisfied by *kafka.Producer.
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Close()
}

type EventPublisher struct {
	logger        *zap.Logger
	kafkaProducer Producer
	kafkaTopic    string
	outbox        Outbox
	mu            sync.Mutex // one publishing pass at a time
}

func NewEventPublisher(kafkaBroker, kafkaTopic string, logger *zap.Logger, outbox Outbox) (*EventPublisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"acks":              "all",
		"retries":           3,
		"retry.backoff.ms":  100,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return NewEventPublisherWithProducer(producer, kafkaTopic, logger, outbox), nil
}

func NewEventPublisherWithProducer(producer Producer, kafkaTopic string, logger *zap.Logger, outbox Outbox) *EventPublisher {
	return &EventPublisher{
		logger:        logger,
		kafkaProducer: producer,
		kafkaTopic:    kafkaTopic,
		outbox:        outbox,
	}
}

// StartPublishing drains the outbox to Kafka until ctx is cancelled.
func (ep *EventPublisher) StartPublishing(ctx context.Context) {
	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ep.publishUnsentEvents(ctx); err != nil {
				ep.logger.Error("Error publishing events to Kafka", zap.Error(err))
			}
		}
	}
}

func (ep *EventPublisher) publishUnsentEvents(ctx context.Context) error {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	outboxEvents, err := ep.outbox.GetUnsentEventsForProcessing(ctx, publishBatch)
	if err != nil {
		return err
	}

	successCount := 0
	for _, event := range outboxEvents {
		if err := ep.publishEventToKafka(event); err != nil {
			metrics.OutboxPublished.WithLabelValues(event.EventType, "failed").Inc()
			ep.logger.Error("Failed to publish event to Kafka", zap.String("event_id", event.EventID), zap.String("event_type", event.EventType), zap.Error(err))
			// back to unsent for the next pass
			if markErr := ep.outbox.MarkEventAsFailed(ctx, event.EventID); markErr != nil {
				ep.logger.Error("Failed to mark event as failed", zap.String("event_id", event.EventID), zap.Error(markErr))
			}
			continue
		}
		metrics.OutboxPublished.WithLabelValues(event.EventType, "sent").Inc()

		if err := ep.outbox.MarkEventAsSent(ctx, event.EventID); err != nil {
			// published but still processing: it will be resent after manual reset
			ep.logger.Error("Failed to mark event as sent", zap.String("event_id", event.EventID), zap.Error(err))
		} else {
			successCount++
		}
	}

	if successCount > 0 {
		ep.logger.Info("Published events to Kafka", zap.Int("success_count", successCount), zap.Int("attempted", len(outboxEvents)))
	}

	return nil
}

func (ep *EventPublisher) publishEventToKafka(event model.OutboxEvent) error {
	kafkaMsg := events.SettlementEvent{
		EventID:     event.EventID,
		EventType:   event.EventType,
		Network:     event.Network,
		TxHash:      event.TxHash,
		BlockNumber: event.BlockNumber,
		LogIndex:    uint64(event.LogIndex),
		EventData:   event.EventBlob,
		CreatedAt:   event.CreatedAt,
		Timestamp:   time.Now(),
	}

	msgBytes, err := json.Marshal(kafkaMsg)
	if err != nil {
		return err
	}

	deliveryChan := make(chan kafka.Event, 1)
	defer close(deliveryChan)

	err = ep.kafkaProducer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &ep.kafkaTopic, Partition: kafka.PartitionAny},
		Key:            []byte(event.Network), // per-network ordering
		Value:          msgBytes,
	}, deliveryChan)
	if err != nil {
		return err
	}

	e := <-deliveryChan
	switch ev := e.(type) {
	case *kafka.Message:
		if ev.TopicPartition.Error != nil {
			return ev.TopicPartition.Error
		}
		return nil
	default:
		return fmt.Errorf("unexpected kafka event type: %T", e)
	}
}

// Capture stores every settlement log a watcher delivers as an outbox event. It returns when
// the channel is closed.
func (ep *EventPublisher) Capture(ctx context.Context, in <-chan chain.Event) {
	for ev := range in {
		event, err := outboxEventOf(ev)
		if err != nil {
			ep.logger.Error("Failed to build outbox event", zap.String("network", ev.Network), zap.String("tx_hash", ev.TxHash.Hex()), zap.Error(err))
			continue
		}

		switch ev.Kind {
		case chain.KindMatched:
			ep.logger.Info("Matched on chain",
				zap.String("network", ev.Network),
				zap.String("tx_hash", ev.TxHash.Hex()),
				zap.String("buy_hash", ev.Matched.BuyHash.Hex()),
				zap.String("sell_hash", ev.Matched.SellHash.Hex()),
				zap.String("amount_base", ev.Matched.AmountBase.String()),
				zap.String("amount_quote", ev.Matched.AmountQuote.String()))
		case chain.KindOrderFilled:
			ep.logger.Info("Order filled on chain",
				zap.String("network", ev.Network),
				zap.String("tx_hash", ev.TxHash.Hex()),
				zap.String("order_hash", ev.OrderFilled.OrderHash.Hex()),
				zap.String("maker", ev.OrderFilled.Maker.Hex()))
		}

		if err := ep.outbox.StoreOutboxEvent(ctx, event); err != nil {
			ep.logger.Error("Failed to store chain event", zap.String("network", ev.Network), zap.String("tx_hash", ev.TxHash.Hex()), zap.Error(err))
		}
	}
}

func outboxEventOf(ev chain.Event) (model.OutboxEvent, error) {
	switch ev.Kind {
	case chain.KindMatched:
		m := ev.Matched
		return repository.NewOutboxEvent(model.EventChainMatched, ev.Network, ev.TxHash.Hex(), ev.BlockNumber, ev.LogIndex, events.ChainMatchedPayload{
			BuyHash:     m.BuyHash.Hex(),
			SellHash:    m.SellHash.Hex(),
			Matcher:     m.Matcher.Hex(),
			AmountBase:  m.AmountBase.String(),
			AmountQuote: m.AmountQuote.String(),
		})
	case chain.KindOrderFilled:
		f := ev.OrderFilled
		return repository.NewOutboxEvent(model.EventChainOrderFilled, ev.Network, ev.TxHash.Hex(), ev.BlockNumber, ev.LogIndex, events.ChainOrderFilledPayload{
			OrderHash: f.OrderHash.Hex(),
			Maker:     f.Maker.Hex(),
			Taker:     f.Taker.Hex(),
			TokenIn:   f.TokenIn.Hex(),
			TokenOut:  f.TokenOut.Hex(),
			AmountIn:  f.AmountIn.String(),
			AmountOut: f.AmountOut.String(),
		})
	}
	return model.OutboxEvent{}, fmt.Errorf("unknown event kind %q", ev.Kind)
}

func (ep *EventPublisher) Close() error {
	if ep.kafkaProducer != nil {
		ep.kafkaProducer.Close()
	}
	return nil
}
