package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

const sourceHeader = "source"

// Producer is the subset of *kgo.Client the Kafka notifier needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Kafka publishes each alert as one record. Delivery is at-least-once: a
// retried sweep may publish the same alert again.
type Kafka struct {
	producer Producer
	topic    string
	source   string
	now      func() time.Time
}

type KafkaOption func(*Kafka)

// WithSource sets the value of the record's source header.
func WithSource(source string) KafkaOption {
	return func(k *Kafka) {
		k.source = source
	}
}

func NewKafka(producer Producer, topic string, opts ...KafkaOption) *Kafka {
	k := &Kafka{
		producer: producer,
		topic:    topic,
		source:   "coc-sweep",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func (k *Kafka) Notify(ctx context.Context, message string) error {
	record := &kgo.Record{
		Topic:     k.topic,
		Value:     []byte(message),
		Timestamp: k.now(),
		Headers:   []kgo.RecordHeader{{Key: sourceHeader, Value: []byte(k.source)}},
	}
	if err := k.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("publish coc alert to %s: %w", k.topic, err)
	}
	return nil
}
