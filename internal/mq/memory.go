package mq

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const defaultMemoryBuffer = 256

// MemoryBroker is an in-process backend. Each channel is a single queue
// shared by all of its subscribers.
type MemoryBroker struct {
	mu     sync.RWMutex
	queues map[string]chan Message
	buffer int
	closed bool
}

// NewMemoryBroker creates a broker whose queues hold up to buffer messages.
func NewMemoryBroker(buffer int) *MemoryBroker {
	if buffer <= 0 {
		buffer = defaultMemoryBuffer
	}
	return &MemoryBroker{
		queues: make(map[string]chan Message),
		buffer: buffer,
	}
}

func (b *MemoryBroker) queue(channel string) (chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	q, ok := b.queues[channel]
	if !ok {
		q = make(chan Message, b.buffer)
		b.queues[channel] = q
	}
	return q, nil
}

// Publish enqueues a message, blocking while the queue is full.
func (b *MemoryBroker) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("memory channel is required")
	}
	q, err := b.queue(channel)
	if err != nil {
		return "", err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return "", ErrClosed
	}

	msg := Message{
		ID:         uuid.NewString(),
		Data:       append([]byte(nil), data...),
		Attributes: maps.Clone(attrs),
	}
	select {
	case q <- msg:
		return msg.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Subscribe hands queued messages to handler until ctx is done or the
// broker is closed.
func (b *MemoryBroker) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("memory channel is required")
	}
	q, err := b.queue(channel)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-q:
			if !ok {
				return ErrClosed
			}
			if err := handler(ctx, msg); err != nil {
				b.redeliver(ctx, q, msg, err)
			}
		}
	}
}

func (b *MemoryBroker) redeliver(ctx context.Context, q chan Message, msg Message, cause error) {
	if msg.Attributes[AttrRedelivered] != "" {
		slog.WarnContext(ctx, "dropping message after repeated failure", "message_id", msg.ID, "error", cause)
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	if msg.Attributes == nil {
		msg.Attributes = make(map[string]string, 1)
	}
	msg.Attributes[AttrRedelivered] = "true"
	select {
	case q <- msg:
	default:
		slog.WarnContext(ctx, "queue full, dropping failed message", "message_id", msg.ID, "error", cause)
	}
}

// Close stops every subscriber. Pending messages are discarded.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for name, q := range b.queues {
		close(q)
		delete(b.queues, name)
	}
	return nil
}
