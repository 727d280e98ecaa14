// Package bus routes messages between channels (Telegram, Discord, etc.)
// and the turn engine. Channels publish inbound messages and subscribe to
// outbound ones; the engine does the reverse.
package bus

import (
	"context"
	"sync"
)

const queueSize = 256

// MessageBus is an in-process message router backed by buffered channels.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a MessageBus with default queue sizes.
func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, queueSize),
		outbound: make(chan OutboundMessage, queueSize),
		closed:   make(chan struct{}),
	}
}

// PublishInbound enqueues a message from a channel for the turn engine.
// Blocks if the queue is full; drops the message if the bus is closed.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	case <-b.closed:
	}
}

// ConsumeInbound blocks until an inbound message is available.
// Returns ok=false when ctx is cancelled or the bus is closed.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	case <-b.closed:
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues a message for delivery to a channel.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	case <-b.closed:
	}
}

// SubscribeOutbound blocks until an outbound message is available.
// Returns ok=false when ctx is cancelled or the bus is closed.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	case <-b.closed:
		return OutboundMessage{}, false
	}
}

// Close shuts down the bus. Pending messages are discarded.
func (b *MessageBus) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
}
