// Package kafka wraps the Kafka client behind small producer and consumer
// types so the rest of the application never touches broker details.
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer publishes messages to Kafka. Messages carry their own topic, so a
// single producer serves every destination topic in the outbox.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a Kafka producer for the given brokers. Writes are
// synchronous and acknowledged by all in-sync replicas, so a nil error from
// Publish means the broker durably has the message.
func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	return &Producer{writer: writer}
}

// Publish sends one message to topic. The hash balancer routes equal keys to
// the same partition, preserving per-aggregate ordering.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
}

// Close flushes pending writes and releases the producer's connections.
func (p *Producer) Close() error {
	return p.writer.Close()
}
