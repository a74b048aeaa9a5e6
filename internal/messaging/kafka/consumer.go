package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topic   string
}

// Message is a fetched record pending acknowledgement.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte

	raw kafka.Message
}

// Consumer reads messages from Kafka as part of a consumer group. Offsets are
// committed explicitly via Commit, never on fetch, so a crash before commit
// redelivers the message.
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer creates a Kafka consumer group reader.
func NewConsumer(config ConsumerConfig) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     config.Brokers,
		GroupID:     config.GroupID,
		Topic:       config.Topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: kafka.FirstOffset,
	})

	return &Consumer{reader: reader}
}

// Fetch blocks until a message is available or the context is cancelled.
func (c *Consumer) Fetch(ctx context.Context) (*Message, error) {
	raw, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}

	return &Message{
		Topic:     raw.Topic,
		Partition: raw.Partition,
		Offset:    raw.Offset,
		Key:       raw.Key,
		Value:     raw.Value,
		raw:       raw,
	}, nil
}

// Commit acknowledges the message, advancing the group's committed offset.
func (c *Consumer) Commit(ctx context.Context, msg *Message) error {
	return c.reader.CommitMessages(ctx, msg.raw)
}

// Close releases the consumer's connections and leaves the group.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
