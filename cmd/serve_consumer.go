package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/buddy/internal/bus"
	"github.com/nextlevelbuilder/buddy/internal/config"
	"github.com/nextlevelbuilder/buddy/internal/providers"
	"github.com/nextlevelbuilder/buddy/internal/turns"
)

// userKey builds the coordinator's user identity from channel and chat.
// The same person on two platforms is two independent users.
func userKey(channel, chatID string) string {
	return channel + ":" + chatID
}

// splitUserKey reverses userKey.
func splitUserKey(user string) (channel, chatID string) {
	if idx := strings.Index(user, ":"); idx > 0 {
		return user[:idx], user[idx+1:]
	}
	return user, ""
}

// consumeInboundMessages reads inbound messages from the channels and routes
// them to the turn coordinator: commands act on user state immediately,
// everything else becomes a turn fragment.
func consumeInboundMessages(ctx context.Context, msgBus *bus.MessageBus, coordinator *turns.Coordinator) {
	slog.Info("inbound message consumer started")

	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			// Context cancelled or bus closed: either way, shutdown.
			slog.Info("inbound message consumer stopped")
			return
		}

		user := userKey(msg.Channel, msg.ChatID)

		reply := ""
		switch msg.Metadata[bus.MetaCommand] {
		case "init":
			reply = coordinator.OnUserInit(user)

		case "mode":
			mode, err := turns.ParseMode(msg.Metadata[bus.MetaMode])
			if err != nil {
				slog.Warn("unknown mode command", "user", user, "mode", msg.Metadata[bus.MetaMode])
				continue
			}
			reply = coordinator.OnModeChange(user, mode)

		case "status":
			status := coordinator.Status(user)
			reply = fmt.Sprintf("Current mode: %s\n%s", status.Mode, status.Mode.Description())
			if !status.LastActivity.IsZero() {
				reply += fmt.Sprintf("\nLast message: %s", status.LastActivity.Format("15:04:05"))
			}

		case "":
			coordinator.OnMessage(ctx, user, msg.Content)
			continue

		default:
			slog.Warn("unknown command", "user", user, "command", msg.Metadata[bus.MetaCommand])
			continue
		}

		msgBus.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: reply,
		})
	}
}

// busTransport adapts the message bus to the coordinator's Transport:
// replies become outbound messages, working signals become chat actions.
type busTransport struct {
	bus *bus.MessageBus
}

func newBusTransport(msgBus *bus.MessageBus) *busTransport {
	return &busTransport{bus: msgBus}
}

func (t *busTransport) Deliver(_ context.Context, user, text string) error {
	channel, chatID := splitUserKey(user)
	if chatID == "" {
		return fmt.Errorf("malformed user key %q", user)
	}
	t.bus.PublishOutbound(bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: text,
	})
	return nil
}

func (t *busTransport) SignalWorking(_ context.Context, user string) error {
	channel, chatID := splitUserKey(user)
	if chatID == "" {
		return fmt.Errorf("malformed user key %q", user)
	}
	t.bus.PublishOutbound(bus.OutboundMessage{
		Channel:  channel,
		ChatID:   chatID,
		Metadata: map[string]string{bus.MetaChatAction: "typing"},
	})
	return nil
}

// agentCompleter adapts a completion provider to the coordinator's
// Completer, wrapping the prompt in the persona envelope.
type agentCompleter struct {
	provider providers.Provider
	cfg      config.AgentConfig
}

func newAgentCompleter(provider providers.Provider, cfg config.AgentConfig) *agentCompleter {
	return &agentCompleter{provider: provider, cfg: cfg}
}

func (a *agentCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := a.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: a.cfg.SystemPrompt},
			{Role: "user", Content: prompt},
		},
		Model:       a.provider.DefaultModel(),
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
