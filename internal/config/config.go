// Package config provides the configuration schema, loader, and provider
// registry for the Sri voice assistant.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to an [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// TriggerMode selects how speech is captured.
type TriggerMode string

const (
	// ModePushToTalk records only while the trigger key is held.
	ModePushToTalk TriggerMode = "push_to_talk"

	// ModeAmbient listens continuously in short phrases.
	ModeAmbient TriggerMode = "ambient"
)

// IsValid reports whether m is a recognised capture mode.
func (m TriggerMode) IsValid() bool {
	return m == ModePushToTalk || m == ModeAmbient
}

// Config is the root configuration structure for Sri.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Trigger      TriggerConfig      `yaml:"trigger"`
	Transcript   TranscriptConfig   `yaml:"transcript"`
	Conversation ConversationConfig `yaml:"conversation"`
	Speech       SpeechConfig       `yaml:"speech"`
	Discord      DiscordConfig      `yaml:"discord"`
	Providers    ProvidersConfig    `yaml:"providers"`
}

// ServerConfig holds logging and observability settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address of the /metrics and /healthz endpoint
	// (e.g. ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// TriggerConfig configures speech capture.
type TriggerConfig struct {
	// Key is the push-to-talk key, e.g. "f1" or "ctrl+space".
	Key string `yaml:"key"`

	// Mode selects push-to-talk or ambient listening.
	Mode TriggerMode `yaml:"mode"`

	// MinDuration is the shortest hold that is transcribed.
	MinDuration time.Duration `yaml:"min_duration"`

	// MaxDuration force-finalizes a recording held this long.
	MaxDuration time.Duration `yaml:"max_duration"`
}

// TranscriptConfig configures the transcription gateway.
type TranscriptConfig struct {
	// Languages are tried in order; the first non-empty result wins.
	Languages []string `yaml:"languages"`

	// WakeWord is the canonical assistant name that misrecognitions are
	// rewritten to.
	WakeWord string `yaml:"wake_word"`

	// Phonetic enables the fuzzy wake-word pass.
	Phonetic PhoneticConfig `yaml:"phonetic"`
}

// PhoneticConfig configures fuzzy wake-word matching.
type PhoneticConfig struct {
	Enabled bool `yaml:"enabled"`

	// Threshold is the minimum Jaro-Winkler similarity in [0, 1].
	Threshold float64 `yaml:"threshold"`
}

// ConversationConfig configures reply generation.
type ConversationConfig struct {
	// Persona is the fixed instruction block placed at the top of every prompt.
	Persona string `yaml:"persona"`

	// HistorySize bounds the per-speaker rolling history.
	HistorySize int `yaml:"history_size"`

	// PromptTurns is how many recent turns are included in the prompt.
	PromptTurns int `yaml:"prompt_turns"`

	// ContextTimeout is how long a mentioned activity stays in the prompt.
	ContextTimeout time.Duration `yaml:"context_timeout"`

	// PrimaryUser is the identity addressed with PrimaryTitle. When empty
	// the first non-system speaker seen is used.
	PrimaryUser string `yaml:"primary_user"`

	// PrimaryTitle is how the primary user is addressed.
	PrimaryTitle string `yaml:"primary_title"`

	// Temperature and MaxTokens are passed to the LLM.
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// Fallbacks are the canned replies used when generation fails.
	Fallbacks FallbackReplies `yaml:"fallbacks"`
}

// FallbackReplies are chosen by keyword match on the failed utterance.
type FallbackReplies struct {
	Greeting  string `yaml:"greeting"`
	Thanks    string `yaml:"thanks"`
	Retry     string `yaml:"retry"`
	Technical string `yaml:"technical"`
}

// SpeechConfig configures the speech synthesis manager.
type SpeechConfig struct {
	// DailyCharLimit is the primary provider's character quota per day.
	DailyCharLimit int `yaml:"daily_char_limit"`

	// MaxCharsPerRequest caps a single utterance after optimisation.
	MaxCharsPerRequest int `yaml:"max_chars_per_request"`

	// CostPerChar is used for the usage estimate (USD).
	CostPerChar float64 `yaml:"cost_per_char"`

	// MinSpeakingTime, CharsPerSecond and SpeakingBuffer drive the speaking
	// estimate for sinks that cannot report completion.
	MinSpeakingTime time.Duration `yaml:"min_speaking_time"`
	CharsPerSecond  float64       `yaml:"chars_per_second"`
	SpeakingBuffer  time.Duration `yaml:"speaking_buffer"`

	// QueueSize bounds pending utterances.
	QueueSize int `yaml:"queue_size"`
}

// DiscordConfig configures the chat bridge. An empty Token disables it.
type DiscordConfig struct {
	Token string `yaml:"token"`

	// GuildID restricts slash command registration to one guild. Empty
	// registers global commands.
	GuildID string `yaml:"guild_id"`

	// VoiceChannel is the channel name that triggers auto-join.
	VoiceChannel string `yaml:"voice_channel"`

	// AutoJoin enables joining VoiceChannel when a user enters it.
	AutoJoin *bool `yaml:"auto_join"`

	// LeaveDelay is how long to wait after the last human leaves.
	LeaveDelay time.Duration `yaml:"leave_delay"`

	// ControlRoleID limits the join, leave and listen commands to members
	// holding this role. Empty allows everyone.
	ControlRoleID string `yaml:"control_role_id"`
}

// AutoJoinEnabled reports the effective auto-join setting (default true).
func (d DiscordConfig) AutoJoinEnabled() bool {
	return d.AutoJoin == nil || *d.AutoJoin
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each entry selects a named provider registered in the
// [Registry]. The fallback entries are optional.
type ProvidersConfig struct {
	LLM         ProviderEntry `yaml:"llm"`
	STT         ProviderEntry `yaml:"stt"`
	STTFallback ProviderEntry `yaml:"stt_fallback"`
	TTS         ProviderEntry `yaml:"tts"`
	TTSFallback ProviderEntry `yaml:"tts_fallback"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gemini-2.5-flash", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// Configured reports whether the entry names a provider.
func (e ProviderEntry) Configured() bool { return e.Name != "" }

// OptionString returns Options[key] as a string, or def.
func (e ProviderEntry) OptionString(key, def string) string {
	if v, ok := e.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// OptionFloat returns Options[key] as a float64, or def. Integer values are
// converted.
func (e ProviderEntry) OptionFloat(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}
