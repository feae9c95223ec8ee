// Package intake implements the merged writer channel: many producers (stream relays,
// the pipeline supervisor, external publishers) send raw multipart messages, a single
// session writer receives them.
package intake

import (
	"context"
	"errors"
	"sync"
)

// DefaultCapacity is the number of messages the channel buffers before senders block
const DefaultCapacity = 1024

// ErrClosed is returned by Send after the channel has been closed
var ErrClosed = errors.New("intake closed")

// Channel is a multi-producer, single-consumer queue of raw multipart messages.
//
// The message channel itself is never closed, so a producer that outlives the
// consumer can never panic on send; Close signals the end of the stream through
// Closed instead.
type Channel struct {
	messages chan [][]byte
	closed   chan struct{}
	once     sync.Once
}

// New creates a channel buffering up to capacity messages
func New(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Channel{
		messages: make(chan [][]byte, capacity),
		closed:   make(chan struct{}),
	}
}

// Send enqueues a message. It blocks while the channel is full, until ctx is done or
// the channel is closed.
func (c *Channel) Send(ctx context.Context, parts [][]byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	select {
	case c.messages <- parts:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Forward implements the relay destination contract
func (c *Channel) Forward(ctx context.Context, parts [][]byte) error {
	return c.Send(ctx, parts)
}

// Messages returns the receiving end. Only the session writer reads from it.
func (c *Channel) Messages() <-chan [][]byte {
	return c.messages
}

// Closed is closed once Close has been called
func (c *Channel) Closed() <-chan struct{} {
	return c.closed
}

// Close marks the end of the stream. It is safe to call more than once.
func (c *Channel) Close() {
	c.once.Do(func() {
		close(c.closed)
	})
}

// Len returns the number of queued messages
func (c *Channel) Len() int {
	return len(c.messages)
}
