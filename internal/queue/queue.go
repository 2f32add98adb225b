// Package queue defines interfaces for message queue operations.
// This abstraction allows swapping implementations (Kafka, in-memory)
// without changing business logic.
//
// Consumption is split into Fetch and Commit rather than a handler callback
// because offsets must only be committed after the batch containing a message
// has been durably flushed, which happens well after the message was handled.
package queue

import (
	"context"
)

// Message represents a message in the queue.
type Message struct {
	// Key is the partition key for ordering guarantees.
	Key []byte

	// Value is the message payload.
	Value []byte

	// Headers contains optional metadata.
	Headers map[string]string

	// Topic, Partition and Offset identify the message's position for
	// commit purposes. In-memory implementations may leave them zero.
	Topic     string
	Partition int
	Offset    int64
}

// Producer defines the interface for publishing messages to a queue.
// Implementations must be safe for concurrent use.
type Producer interface {
	// Publish sends a message to the queue.
	// The key is used for partitioning - messages with the same key
	// are guaranteed to be processed in order.
	Publish(ctx context.Context, msg *Message) error

	// Close releases any resources held by the producer.
	Close() error
}

// Consumer defines the interface for consuming messages from a queue.
// A Consumer is owned by exactly one partition worker and is not safe for
// concurrent use.
type Consumer interface {
	// Fetch blocks until a message is available or the context is done.
	// Fetching does not commit: the caller owns offset advancement.
	Fetch(ctx context.Context) (*Message, error)

	// Commit marks the given messages as processed. For ordered brokers,
	// committing a message implies every earlier offset on its partition.
	Commit(ctx context.Context, msgs ...*Message) error

	// Close stops consuming and releases any resources.
	Close() error
}
