package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type kafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaEmitter creates an emitter that publishes every event to topic,
// keyed by warehouse so one chain stays on one partition. Events are also
// backed up to dir.
func NewKafkaEmitter(dir string, brokers []string, topic string) (*ChainedEmitter, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka emitter needs brokers and a topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 30 * time.Second,
	}
	return newChainedEmitter(dir, &kafkaSink{writer: w})
}

func (k *kafkaSink) publish(ctx context.Context, evt *RunEvent, payload []byte) error {
	msg := kafka.Message{
		Key:   []byte(evt.Run.ChainKey()),
		Value: payload,
		Time:  evt.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.EventType)},
			{Key: "event_hash", Value: []byte(evt.Chain.EventHash)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish run event: %w", err)
	}
	return nil
}

func (k *kafkaSink) close() error {
	return k.writer.Close()
}
