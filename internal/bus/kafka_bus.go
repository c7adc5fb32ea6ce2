package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"postal-service/internal/client"
	"postal-service/internal/util"

	"go.uber.org/zap"
)

// KafkaBus carries events over a single Kafka topic. The logical topic
// travels as the message key, so events for one subject or parcel land on one
// partition and keep their relative order. Local subscribers are fed from a
// background consume loop through an in-process fan-out.
type KafkaBus struct {
	producer *client.KafkaProducer
	consumer *client.KafkaConsumer
	local    *MemoryBus
}

func NewKafkaBus(producer *client.KafkaProducer, consumer *client.KafkaConsumer) *KafkaBus {
	return &KafkaBus{
		producer: producer,
		consumer: consumer,
		local:    NewMemoryBus(),
	}
}

func (b *KafkaBus) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.producer.ProduceMessage(ctx, []byte(event.Topic), value, map[string]string{
		"event_type": event.Type,
	}); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (b *KafkaBus) Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error) {
	return b.local.Subscribe(ctx, topic)
}

// Run consumes the shared topic and fans events out to local subscribers.
// It returns when the context is canceled.
func (b *KafkaBus) Run(ctx context.Context) {
	for {
		msg, err := b.consumer.ConsumeMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			util.Warn("Kafka bus consume failed", zap.Error(err))
			continue
		}

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			util.Warn("Kafka bus dropped undecodable event",
				zap.ByteString("key", msg.Key), zap.Error(err))
			continue
		}

		_ = b.local.Publish(ctx, event)
	}
}

func (b *KafkaBus) Close() {
	b.local.Close()
}
