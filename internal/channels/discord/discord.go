// Package discord connects to the Discord gateway and bridges direct
// messages onto the message bus.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/buddy/internal/bus"
	"github.com/nextlevelbuilder/buddy/internal/channels"
	"github.com/nextlevelbuilder/buddy/internal/config"
)

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	session   *discordgo.Session
	config    config.DiscordConfig
	botUserID string // populated on start
}

// New creates a new Discord channel from config.
func New(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", msgBus, cfg.AllowFrom),
		session:     session,
		config:      cfg,
	}, nil
}

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	// Fetch bot identity
	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)

	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	return c.session.Close()
}

// Send delivers an outbound message to a Discord channel. Messages carrying
// a chat-action metadata entry trigger the typing indicator instead of a
// text send.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}

	channelID := msg.ChatID
	if channelID == "" {
		return fmt.Errorf("empty chat ID for discord send")
	}

	if msg.Metadata[bus.MetaChatAction] != "" {
		return c.session.ChannelTyping(channelID)
	}

	if msg.Content == "" {
		return nil
	}

	return c.sendChunked(channelID, msg.Content)
}

// sendChunked sends a message, splitting into multiple messages if over 2000 chars.
func (c *Channel) sendChunked(channelID, content string) error {
	const maxLen = 2000

	for len(content) > 0 {
		chunk := content
		if len(chunk) > maxLen {
			// Try to break at a newline
			cutAt := maxLen
			if idx := strings.LastIndexByte(content[:maxLen], '\n'); idx > maxLen/2 {
				cutAt = idx + 1
			}
			chunk = content[:cutAt]
			content = content[cutAt:]
		} else {
			content = ""
		}

		if _, err := c.session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}

	return nil
}

// handleMessage processes incoming Discord messages. Only DMs are served.
func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore bot's own messages and other bots
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}

	// GuildID is empty only for DMs.
	if m.GuildID != "" {
		return
	}

	senderID := m.Author.ID
	channelID := m.ChannelID

	if !c.IsAllowed(senderID) {
		slog.Debug("discord message rejected by allowlist",
			"user_id", senderID,
			"username", m.Author.Username,
		)
		return
	}

	content := m.Content
	if content == "" {
		return
	}

	slog.Debug("discord message received",
		"sender_id", senderID,
		"channel_id", channelID,
		"preview", channels.Truncate(content, 50),
	)

	if c.handleCommand(channelID, senderID, content) {
		return
	}

	c.Bus().PublishInbound(bus.InboundMessage{
		Channel:  c.Name(),
		SenderID: senderID,
		ChatID:   channelID,
		Content:  content,
		Metadata: map[string]string{
			"message_id": m.ID,
			"username":   m.Author.Username,
		},
	})
}

// modeCommands maps slash commands to mode names understood by the
// coordinator. Discord has no command menu registration for plain bots;
// the same slash syntax as Telegram is parsed out of the message text.
var modeCommands = map[string]string{
	"/single":   "single",
	"/parallel": "parallel",
	"/stitch":   "stitch",
}

// handleCommand intercepts slash commands. Returns true if the message was
// consumed as a command.
func (c *Channel) handleCommand(channelID, senderID, content string) bool {
	if len(content) == 0 || content[0] != '/' {
		return false
	}

	cmd := strings.ToLower(strings.SplitN(content, " ", 2)[0])

	publishCommand := func(command, mode string) {
		metadata := map[string]string{bus.MetaCommand: command}
		if mode != "" {
			metadata[bus.MetaMode] = mode
		}
		c.Bus().PublishInbound(bus.InboundMessage{
			Channel:  c.Name(),
			SenderID: senderID,
			ChatID:   channelID,
			Content:  content,
			Metadata: metadata,
		})
	}

	switch cmd {
	case "/start":
		publishCommand("init", "")
		return true

	case "/status":
		publishCommand("status", "")
		return true

	case "/help":
		helpText := "Available commands:\n" +
			"/start — Reset and show the welcome message\n" +
			"/single — Batch your messages, one thoughtful reply\n" +
			"/parallel — Start thinking immediately, restart on new messages\n" +
			"/stitch — Echo back your combined messages\n" +
			"/status — Show the current mode\n" +
			"/help — Show this help message"
		if _, err := c.session.ChannelMessageSend(channelID, helpText); err != nil {
			slog.Warn("discord help reply failed", "channel_id", channelID, "error", err)
		}
		return true
	}

	if mode, ok := modeCommands[cmd]; ok {
		publishCommand("mode", mode)
		return true
	}

	return false
}
