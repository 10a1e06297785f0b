package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaNotifier publishes critical audit entries to a Kafka topic for the
// alerting pipeline to consume.
type KafkaNotifier struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaNotifier creates a notifier writing to topic on the given brokers.
func NewKafkaNotifier(brokers []string, topic string, logger *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: 5 * time.Second,
			RequiredAcks: kafka.RequireOne,
		},
		logger: logger,
	}
}

// Notify publishes the entry keyed by client IP so bursts from one address
// land on one partition in order.
func (n *KafkaNotifier) Notify(ctx context.Context, entry *Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.ClientIP),
		Value: payload,
		Time:  entry.CreatedAt,
	})
}

// Close flushes and releases the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
