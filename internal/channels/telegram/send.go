package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/buddy/internal/bus"
)

// telegramMaxMessage is the Bot API limit for a single message text.
const telegramMaxMessage = 4096

// Send delivers an outbound message to Telegram. Messages carrying a
// chat-action metadata entry trigger the typing indicator instead of a
// text send.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", msg.ChatID, err)
	}

	if msg.Metadata[bus.MetaChatAction] != "" {
		return c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping))
	}

	if msg.Content == "" {
		return nil
	}

	return c.sendChunked(ctx, chatID, msg.Content)
}

// sendChunked sends a message, splitting into multiple messages if over the
// Bot API limit.
func (c *Channel) sendChunked(ctx context.Context, chatID int64, content string) error {
	for _, chunk := range splitMessage(content, telegramMaxMessage) {
		if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

// splitMessage breaks content into chunks of at most maxLen bytes,
// preferring newline boundaries in the second half of a chunk.
func splitMessage(content string, maxLen int) []string {
	var chunks []string
	for len(content) > 0 {
		chunk := content
		if len(chunk) > maxLen {
			cutAt := maxLen
			if idx := strings.LastIndexByte(content[:maxLen], '\n'); idx > maxLen/2 {
				cutAt = idx + 1
			}
			chunk = content[:cutAt]
			content = content[cutAt:]
		} else {
			content = ""
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}
