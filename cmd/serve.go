package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nextlevelbuilder/buddy/internal/bus"
	"github.com/nextlevelbuilder/buddy/internal/channels"
	"github.com/nextlevelbuilder/buddy/internal/channels/discord"
	"github.com/nextlevelbuilder/buddy/internal/channels/telegram"
	"github.com/nextlevelbuilder/buddy/internal/config"
	"github.com/nextlevelbuilder/buddy/internal/providers"
	"github.com/nextlevelbuilder/buddy/internal/turns"
)

func runServe() {
	// Load .env before config so env overrides see its values.
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if !cfg.Channels.Telegram.Enabled && !cfg.Channels.Discord.Enabled {
		fmt.Println("No chat channel configured. Set TELEGRAM_BOT_TOKEN or DISCORD_BOT_TOKEN")
		fmt.Println("(in the environment or a .env file) and restart.")
		os.Exit(1)
	}
	if cfg.Providers.Groq.APIKey == "" {
		fmt.Println("No provider API key found. Set GROQ_API_KEY and restart.")
		fmt.Println("Echo mode (/stitch) works without a key, but chat modes need one.")
	}

	msgBus := bus.New()

	defaultMode, err := turns.ParseMode(cfg.Turns.DefaultMode)
	if err != nil {
		slog.Error("invalid default_mode in config", "mode", cfg.Turns.DefaultMode, "error", err)
		os.Exit(1)
	}

	provider := providers.NewOpenAIProvider(
		"groq",
		cfg.Providers.Groq.APIKey,
		cfg.Providers.Groq.APIBase,
		cfg.Providers.Groq.DefaultModel,
	)

	coordinator := turns.New(
		newBusTransport(msgBus),
		newAgentCompleter(provider, cfg.Agent),
		turns.Options{
			Window:            cfg.Turns.Window(),
			EchoDelay:         cfg.Turns.EchoDelay(),
			DefaultMode:       defaultMode,
			CompletionTimeout: cfg.Turns.CompletionTimeout(),
		},
	)

	channelMgr := channels.NewManager(msgBus)

	if cfg.Channels.Telegram.Enabled {
		tg, err := telegram.New(cfg.Channels.Telegram, msgBus)
		if err != nil {
			slog.Error("failed to create telegram channel", "error", err)
			os.Exit(1)
		}
		channelMgr.RegisterChannel("telegram", tg)
	}

	if cfg.Channels.Discord.Enabled {
		dc, err := discord.New(cfg.Channels.Discord, msgBus)
		if err != nil {
			slog.Error("failed to create discord channel", "error", err)
			os.Exit(1)
		}
		channelMgr.RegisterChannel("discord", dc)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
		os.Exit(1)
	}

	go consumeInboundMessages(ctx, msgBus, coordinator)

	slog.Info("buddy started",
		"channels", channelMgr.GetEnabledChannels(),
		"default_mode", defaultMode,
		"window", cfg.Turns.Window(),
	)

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx := context.Background()
	if err := channelMgr.StopAll(shutdownCtx); err != nil {
		slog.Error("error stopping channels", "error", err)
	}
	msgBus.Close()
}
