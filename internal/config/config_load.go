package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Providers: ProvidersConfig{
			Groq: ProviderConfig{
				APIBase:      "https://api.groq.com/openai/v1",
				DefaultModel: "llama-3.3-70b-versatile",
			},
		},
		Agent: AgentConfig{
			SystemPrompt: "You are Buddy, a friendly and helpful chat companion. " +
				"Keep your responses conversational and warm.",
			MaxTokens:   1000,
			Temperature: 0.7,
		},
		Turns: TurnsConfig{
			WindowMS:    5000,
			EchoDelayMS: 1000,
			DefaultMode: "single",
		},
	}
}

// Load reads config from a JSON file, then overlays env vars.
// A missing file is not an error: defaults plus env vars apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("BUDDY_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("BUDDY_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("BUDDY_GROQ_API_KEY", &c.Providers.Groq.APIKey)

	// Legacy env names kept for .env compatibility.
	envStr("TELEGRAM_BOT_TOKEN", &c.Channels.Telegram.Token)
	envStr("DISCORD_BOT_TOKEN", &c.Channels.Discord.Token)
	envStr("GROQ_API_KEY", &c.Providers.Groq.APIKey)

	envStr("BUDDY_GROQ_API_BASE", &c.Providers.Groq.APIBase)
	envStr("BUDDY_MODEL", &c.Providers.Groq.DefaultModel)
	envStr("BUDDY_DEFAULT_MODE", &c.Turns.DefaultMode)

	if v := os.Getenv("BUDDY_WINDOW_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Turns.WindowMS = ms
		}
	}
	if v := os.Getenv("BUDDY_ECHO_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Turns.EchoDelayMS = ms
		}
	}
	if v := os.Getenv("BUDDY_COMPLETION_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			c.Turns.CompletionTimeoutMS = ms
		}
	}

	// Auto-enable channels if credentials are provided via env
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
}
