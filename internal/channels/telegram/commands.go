package telegram

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/buddy/internal/bus"
)

// modeCommands maps slash commands to mode names understood by the
// coordinator.
var modeCommands = map[string]string{
	"/single":   "single",
	"/parallel": "parallel",
	"/stitch":   "stitch",
}

// handleBotCommand checks if the message is a known bot command and handles
// it. Returns true if the message was consumed as a command.
func (c *Channel) handleBotCommand(ctx context.Context, chatID int64, chatIDStr, senderID, text string) bool {
	if len(text) == 0 || text[0] != '/' {
		return false
	}

	// Extract command (strip @botname suffix if present)
	cmd := strings.SplitN(text, " ", 2)[0]
	cmd = strings.SplitN(cmd, "@", 2)[0]
	cmd = strings.ToLower(cmd)

	publishCommand := func(command, mode string) {
		metadata := map[string]string{bus.MetaCommand: command}
		if mode != "" {
			metadata[bus.MetaMode] = mode
		}
		c.Bus().PublishInbound(bus.InboundMessage{
			Channel:  c.Name(),
			SenderID: senderID,
			ChatID:   chatIDStr,
			Content:  text,
			Metadata: metadata,
		})
	}

	switch cmd {
	case "/start":
		publishCommand("init", "")
		return true

	case "/help":
		helpText := "Available commands:\n" +
			"/start — Reset and show the welcome message\n" +
			"/single — Batch your messages, one thoughtful reply\n" +
			"/parallel — Start thinking immediately, restart on new messages\n" +
			"/stitch — Echo back your combined messages\n" +
			"/status — Show the current mode\n" +
			"/help — Show this help message\n" +
			"\nJust send a message to chat."
		msg := tu.Message(tu.ID(chatID), helpText)
		if _, err := c.bot.SendMessage(ctx, msg); err != nil {
			slog.Warn("telegram help reply failed", "chat_id", chatIDStr, "error", err)
		}
		return true

	case "/status":
		publishCommand("status", "")
		return true
	}

	if mode, ok := modeCommands[cmd]; ok {
		publishCommand("mode", mode)
		return true
	}

	return false
}

// SyncMenuCommands registers bot commands with Telegram via setMyCommands.
func (c *Channel) SyncMenuCommands(ctx context.Context, commands []telego.BotCommand) error {
	if err := c.bot.DeleteMyCommands(ctx, nil); err != nil {
		slog.Debug("deleteMyCommands failed (may not exist)", "error", err)
	}

	if len(commands) == 0 {
		return nil
	}

	return c.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{
		Commands: commands,
	})
}

// DefaultMenuCommands returns the default bot menu commands.
func DefaultMenuCommands() []telego.BotCommand {
	return []telego.BotCommand{
		{Command: "start", Description: "Reset and show the welcome message"},
		{Command: "single", Description: "Batch messages, one reply per burst"},
		{Command: "parallel", Description: "Think immediately, restart on new messages"},
		{Command: "stitch", Description: "Echo back combined messages"},
		{Command: "status", Description: "Show the current mode"},
		{Command: "help", Description: "Show available commands"},
	}
}
