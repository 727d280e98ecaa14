// Package config defines the bot configuration: channel credentials,
// provider settings, persona, and turn timing.
package config

import "time"

// Config is the root configuration for the Buddy bot.
type Config struct {
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Agent     AgentConfig     `json:"agent"`
	Turns     TurnsConfig     `json:"turns"`
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"-"` // from env only, never persisted
	AllowFrom []string `json:"allow_from,omitempty"`
	Proxy     string   `json:"proxy,omitempty"`
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"-"` // from env only, never persisted
	AllowFrom []string `json:"allow_from,omitempty"`
}

// ChannelsConfig holds per-channel configuration.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

// ProviderConfig configures an OpenAI-compatible completion provider.
type ProviderConfig struct {
	APIKey       string `json:"-"` // from env only, never persisted
	APIBase      string `json:"api_base,omitempty"`
	DefaultModel string `json:"default_model,omitempty"`
}

// ProvidersConfig holds provider configurations.
type ProvidersConfig struct {
	Groq ProviderConfig `json:"groq"`
}

// AgentConfig configures the completion request envelope.
type AgentConfig struct {
	SystemPrompt string  `json:"system_prompt,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
}

// TurnsConfig configures the per-user batching behavior.
type TurnsConfig struct {
	WindowMS            int    `json:"window_ms,omitempty"`
	EchoDelayMS         int    `json:"echo_delay_ms,omitempty"`
	CompletionTimeoutMS int    `json:"completion_timeout_ms,omitempty"` // 0 = unbounded
	DefaultMode         string `json:"default_mode,omitempty"`
}

// Window returns the batching window as a duration.
func (t TurnsConfig) Window() time.Duration {
	return time.Duration(t.WindowMS) * time.Millisecond
}

// EchoDelay returns the echo-mode delay as a duration.
func (t TurnsConfig) EchoDelay() time.Duration {
	return time.Duration(t.EchoDelayMS) * time.Millisecond
}

// CompletionTimeout returns the completion deadline as a duration.
func (t TurnsConfig) CompletionTimeout() time.Duration {
	return time.Duration(t.CompletionTimeoutMS) * time.Millisecond
}
