package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"logwarden/internal/config"
	"logwarden/internal/queue"
)

// Consumer implements queue.Consumer using Kafka. Each Consumer owns one
// reader inside the consumer group; running several Consumers in the same
// group spreads partitions across them.
type Consumer struct {
	reader *kafka.Reader
	logger *slog.Logger
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(cfg *config.KafkaConfig, logger *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{
		reader: reader,
		logger: logger,
	}
}

// Fetch blocks until a message is available or the context is done.
// The message is not committed; see Commit.
func (c *Consumer) Fetch(ctx context.Context) (*queue.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}

	queueMsg := &queue.Message{
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   make(map[string]string, len(msg.Headers)),
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}
	for _, h := range msg.Headers {
		queueMsg.Headers[h.Key] = string(h.Value)
	}

	return queueMsg, nil
}

// Commit acknowledges the given messages with the broker. Kafka commits by
// topic/partition/offset, so only those fields are carried back.
func (c *Consumer) Commit(ctx context.Context, msgs ...*queue.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	kafkaMsgs := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		kafkaMsgs = append(kafkaMsgs, kafka.Message{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
		})
	}

	if err := c.reader.CommitMessages(ctx, kafkaMsgs...); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}

	return nil
}

// Close closes the Kafka reader.
func (c *Consumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
