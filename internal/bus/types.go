package bus

import "context"

// InboundMessage represents a message received from a channel (Telegram, Discord, etc.)
type InboundMessage struct {
	Channel  string            `json:"channel"`
	SenderID string            `json:"sender_id"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage represents a message to be sent to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"` // channel-specific metadata
}

// Metadata keys understood by all channels.
const (
	// MetaCommand marks an inbound message as a bot command ("start", "mode").
	// Command messages carry no user text — the command layer strips it.
	MetaCommand = "command"

	// MetaMode carries the requested mode name for MetaCommand="mode".
	MetaMode = "mode"

	// MetaChatAction marks an outbound message as a transient chat action
	// request ("typing") instead of a text send.
	MetaChatAction = "chat_action"
)

// MessageRouter abstracts inbound/outbound message routing between channels and the turn engine.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
