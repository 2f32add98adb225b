// Package memory provides an in-memory implementation of the queue interfaces.
// This is useful for testing and development without external dependencies.
package memory

import (
	"context"
	"sync"

	"logwarden/internal/queue"
)

// Queue is an in-memory implementation of both Producer and Consumer
// interfaces. Messages are stored in a channel, allowing for simple pub/sub
// within a process. Publishing is safe for concurrent use; multiple workers
// may fetch from the same queue, each receiving distinct messages.
type Queue struct {
	messages  chan *queue.Message
	mu        sync.Mutex
	closed    bool
	offset    int64
	committed int64
}

// NewQueue creates a new in-memory queue with the specified buffer size.
// The buffer size determines how many messages can be queued before
// Publish blocks (or fails if the context is canceled).
func NewQueue(bufferSize int) *Queue {
	return &Queue{
		messages: make(chan *queue.Message, bufferSize),
	}
}

// Publish sends a message to the in-memory queue. Blocks if the queue is
// full until space is available or the context is canceled.
func (q *Queue) Publish(ctx context.Context, msg *queue.Message) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	msg.Offset = q.offset
	q.offset++
	q.mu.Unlock()

	select {
	case q.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fetch blocks until a message is available or the context is done.
func (q *Queue) Fetch(ctx context.Context) (*queue.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-q.messages:
		if !ok {
			return nil, ErrQueueClosed
		}
		return msg, nil
	}
}

// Commit records the highest committed offset. The in-memory channel has no
// redelivery, so this only tracks progress for test assertions.
func (q *Queue) Commit(ctx context.Context, msgs ...*queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range msgs {
		if m.Offset+1 > q.committed {
			q.committed = m.Offset + 1
		}
	}
	return nil
}

// Committed returns the number of committed messages. Useful for tests.
func (q *Queue) Committed() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.committed
}

// Len returns the current number of messages in the queue.
// Useful for testing to verify queue state.
func (q *Queue) Len() int {
	return len(q.messages)
}

// Close shuts down the queue, stopping all consumers.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.messages)
	return nil
}
