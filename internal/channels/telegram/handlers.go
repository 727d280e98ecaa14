package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/buddy/internal/bus"
	"github.com/nextlevelbuilder/buddy/internal/channels"
)

// handleMessage processes an incoming Telegram update. Only direct chats
// are served; group, supergroup, and channel posts are skipped.
func (c *Channel) handleMessage(ctx context.Context, update telego.Update) {
	message := update.Message
	if message == nil {
		return
	}

	user := message.From
	if user == nil {
		return
	}

	if message.Chat.Type != "private" {
		slog.Debug("telegram non-private chat skipped",
			"chat_type", message.Chat.Type,
			"chat_id", message.Chat.ID,
		)
		return
	}

	if message.Text == "" {
		slog.Debug("telegram non-text message skipped",
			"chat_id", message.Chat.ID,
			"user_id", user.ID,
		)
		return
	}

	userID := fmt.Sprintf("%d", user.ID)
	senderID := userID
	if user.Username != "" {
		senderID = fmt.Sprintf("%s|%s", userID, user.Username)
	}

	if !c.IsAllowed(userID) && !c.IsAllowed(senderID) {
		slog.Debug("telegram message rejected by allowlist",
			"user_id", userID, "username", user.Username,
		)
		return
	}

	chatID := message.Chat.ID
	chatIDStr := fmt.Sprintf("%d", chatID)

	slog.Debug("telegram message received",
		"sender_id", senderID,
		"chat_id", chatIDStr,
		"preview", channels.Truncate(message.Text, 50),
	)

	if handled := c.handleBotCommand(ctx, chatID, chatIDStr, senderID, message.Text); handled {
		return
	}

	c.Bus().PublishInbound(bus.InboundMessage{
		Channel:  c.Name(),
		SenderID: senderID,
		ChatID:   chatIDStr,
		Content:  message.Text,
		Metadata: map[string]string{
			"message_id": fmt.Sprintf("%d", message.MessageID),
			"user_id":    userID,
			"username":   user.Username,
			"first_name": user.FirstName,
		},
	})
}
