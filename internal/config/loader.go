package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/sri/pkg/keyboard"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq"},
	"stt": {"whisper-api", "deepgram", "whisper"},
	"tts": {"elevenlabs", "coqui", "command"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultMinDuration        = 500 * time.Millisecond
	DefaultMaxDuration        = 30 * time.Second
	DefaultWakeWord           = "sri"
	DefaultPhoneticThreshold  = 0.80
	DefaultHistorySize        = 10
	DefaultPromptTurns        = 5
	DefaultContextTimeout     = 30 * time.Minute
	DefaultPrimaryTitle       = "Kak"
	DefaultTemperature        = 0.8
	DefaultMaxTokens          = 256
	DefaultDailyCharLimit     = 5000
	DefaultMaxCharsPerRequest = 500
	DefaultCostPerChar        = 0.00075
	DefaultMinSpeakingTime    = time.Second
	DefaultCharsPerSecond     = 12.0
	DefaultSpeakingBuffer     = 500 * time.Millisecond
	DefaultQueueSize          = 16
	DefaultVoiceChannel       = "Sri-Voice"
	DefaultLeaveDelay         = 2 * time.Second
)

// DefaultLanguages are the transcription candidates used when none are configured.
var DefaultLanguages = []string{"id-ID", "en-US"}

// DefaultPersona is the instruction block used when none is configured.
const DefaultPersona = `You are Sri, a cheerful and caring AI little sister who keeps people company over voice chat.
Keep replies short, warm and conversational, well under thirty seconds of speech.
Only answer when someone says "Sri" or clearly speaks to you.
Answer in the language you were spoken to in.`

// DefaultFallbacks are the canned replies used when generation fails.
var DefaultFallbacks = FallbackReplies{
	Greeting:  "Halo Kak! Ada yang bisa Sri bantu?",
	Thanks:    "Sama-sama, Kak!",
	Retry:     "Kak, aku agak susah ngerti nih. Bisa diulangi lagi?",
	Technical: "Kak, aku lagi ada masalah teknis nih.",
}

// envAPIKeys maps provider names to the environment variable holding their key.
var envAPIKeys = map[string]string{
	"elevenlabs":  "ELEVENLABS_API_KEY",
	"gemini":      "GEMINI_API_KEY",
	"openai":      "OPENAI_API_KEY",
	"whisper-api": "OPENAI_API_KEY",
	"deepgram":    "DEEPGRAM_API_KEY",
	"anthropic":   "ANTHROPIC_API_KEY",
	"groq":        "GROQ_API_KEY",
	"mistral":     "MISTRAL_API_KEY",
	"deepseek":    "DEEPSEEK_API_KEY",
}

// LookupFunc resolves an environment variable, like [os.LookupEnv].
type LookupFunc func(key string) (string, bool)

type loadOptions struct {
	lookup LookupFunc
}

// LoadOption configures [Load] and [LoadFromReader].
type LoadOption func(*loadOptions)

// WithEnv applies environment overrides resolved through lookup. Pass
// [os.LookupEnv] in production.
func WithEnv(lookup LookupFunc) LoadOption {
	return func(o *loadOptions) { o.lookup = lookup }
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. An empty path loads an empty document, so a deployment can be
// configured through the environment alone.
func Load(path string, opts ...LoadOption) (*Config, error) {
	if path == "" {
		return finish(&Config{}, opts)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result.
func LoadFromReader(r io.Reader, opts ...LoadOption) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return finish(cfg, opts)
}

func finish(cfg *Config, opts []LoadOption) (*Config, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.lookup != nil {
		ApplyEnv(cfg, o.lookup)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with values from the environment. Set variables win
// over file values; unset or empty variables are ignored.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return v, ok && v != ""
	}
	if v, ok := get("DISCORD_TOKEN"); ok {
		cfg.Discord.Token = v
	}
	if v, ok := get("VOICE_CHANNEL_NAME"); ok {
		cfg.Discord.VoiceChannel = v
	}
	if v, ok := get("MAIN_USER"); ok {
		cfg.Conversation.PrimaryUser = v
	}
	if v, ok := get("PUSH_TO_TALK_KEY"); ok {
		cfg.Trigger.Key = v
	}
	if v, ok := get("SRI_LOG_LEVEL"); ok {
		cfg.Server.LogLevel = LogLevel(v)
	}

	// Fill the primary providers first so key lookups see the defaults.
	defaultProviders(&cfg.Providers)
	for _, e := range []*ProviderEntry{
		&cfg.Providers.LLM, &cfg.Providers.STT, &cfg.Providers.STTFallback,
		&cfg.Providers.TTS, &cfg.Providers.TTSFallback,
	} {
		envKey, known := envAPIKeys[e.Name]
		if !known {
			continue
		}
		if v, ok := get(envKey); ok {
			e.APIKey = v
		}
	}
	if v, ok := get("ELEVENLABS_VOICE_ID"); ok && cfg.Providers.TTS.Name == "elevenlabs" {
		if cfg.Providers.TTS.Options == nil {
			cfg.Providers.TTS.Options = make(map[string]any)
		}
		cfg.Providers.TTS.Options["voice_id"] = v
	}
}

func defaultProviders(p *ProvidersConfig) {
	if p.LLM.Name == "" {
		p.LLM.Name = "gemini"
	}
	if p.STT.Name == "" {
		p.STT.Name = "whisper-api"
	}
	if p.TTS.Name == "" {
		p.TTS.Name = "elevenlabs"
	}
	if p.TTSFallback.Name == "" {
		p.TTSFallback.Name = "command"
	}
}

// ApplyDefaults fills zero-valued fields of cfg with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	t := &cfg.Trigger
	if t.Key == "" {
		t.Key = keyboard.DefaultKey
	}
	if t.Mode == "" {
		t.Mode = ModePushToTalk
	}
	if t.MinDuration == 0 {
		t.MinDuration = DefaultMinDuration
	}
	if t.MaxDuration == 0 {
		t.MaxDuration = DefaultMaxDuration
	}

	tr := &cfg.Transcript
	if len(tr.Languages) == 0 {
		tr.Languages = slices.Clone(DefaultLanguages)
	}
	if tr.WakeWord == "" {
		tr.WakeWord = DefaultWakeWord
	}
	if tr.Phonetic.Threshold == 0 {
		tr.Phonetic.Threshold = DefaultPhoneticThreshold
	}

	c := &cfg.Conversation
	if c.Persona == "" {
		c.Persona = DefaultPersona
	}
	if c.HistorySize == 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.PromptTurns == 0 {
		c.PromptTurns = DefaultPromptTurns
	}
	if c.ContextTimeout == 0 {
		c.ContextTimeout = DefaultContextTimeout
	}
	if c.PrimaryTitle == "" {
		c.PrimaryTitle = DefaultPrimaryTitle
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Fallbacks.Greeting == "" {
		c.Fallbacks.Greeting = DefaultFallbacks.Greeting
	}
	if c.Fallbacks.Thanks == "" {
		c.Fallbacks.Thanks = DefaultFallbacks.Thanks
	}
	if c.Fallbacks.Retry == "" {
		c.Fallbacks.Retry = DefaultFallbacks.Retry
	}
	if c.Fallbacks.Technical == "" {
		c.Fallbacks.Technical = DefaultFallbacks.Technical
	}

	s := &cfg.Speech
	if s.DailyCharLimit == 0 {
		s.DailyCharLimit = DefaultDailyCharLimit
	}
	if s.MaxCharsPerRequest == 0 {
		s.MaxCharsPerRequest = DefaultMaxCharsPerRequest
	}
	if s.CostPerChar == 0 {
		s.CostPerChar = DefaultCostPerChar
	}
	if s.MinSpeakingTime == 0 {
		s.MinSpeakingTime = DefaultMinSpeakingTime
	}
	if s.CharsPerSecond == 0 {
		s.CharsPerSecond = DefaultCharsPerSecond
	}
	if s.SpeakingBuffer == 0 {
		s.SpeakingBuffer = DefaultSpeakingBuffer
	}
	if s.QueueSize == 0 {
		s.QueueSize = DefaultQueueSize
	}

	d := &cfg.Discord
	if d.VoiceChannel == "" {
		d.VoiceChannel = DefaultVoiceChannel
	}
	if d.LeaveDelay == 0 {
		d.LeaveDelay = DefaultLeaveDelay
	}

	defaultProviders(&cfg.Providers)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Trigger
	if cfg.Trigger.Key != "" {
		if _, err := keyboard.Parse(cfg.Trigger.Key); err != nil {
			errs = append(errs, fmt.Errorf("trigger.key: %w", err))
		}
	}
	if cfg.Trigger.Mode != "" && !cfg.Trigger.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("trigger.mode %q is invalid; valid values: push_to_talk, ambient", cfg.Trigger.Mode))
	}
	if cfg.Trigger.MinDuration < 0 {
		errs = append(errs, fmt.Errorf("trigger.min_duration %s must not be negative", cfg.Trigger.MinDuration))
	}
	if cfg.Trigger.MaxDuration > 0 && cfg.Trigger.MaxDuration <= cfg.Trigger.MinDuration {
		errs = append(errs, fmt.Errorf("trigger.max_duration %s must exceed trigger.min_duration %s", cfg.Trigger.MaxDuration, cfg.Trigger.MinDuration))
	}

	// Transcript
	if th := cfg.Transcript.Phonetic.Threshold; th < 0 || th > 1 {
		errs = append(errs, fmt.Errorf("transcript.phonetic.threshold %.2f is out of range [0, 1]", th))
	}

	// Conversation
	if cfg.Conversation.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("conversation.history_size %d must not be negative", cfg.Conversation.HistorySize))
	}
	if cfg.Conversation.PromptTurns < 0 {
		errs = append(errs, fmt.Errorf("conversation.prompt_turns %d must not be negative", cfg.Conversation.PromptTurns))
	}
	if cfg.Conversation.HistorySize > 0 && cfg.Conversation.PromptTurns > cfg.Conversation.HistorySize {
		slog.Warn("conversation.prompt_turns exceeds history_size; only history_size turns are available",
			"prompt_turns", cfg.Conversation.PromptTurns,
			"history_size", cfg.Conversation.HistorySize,
		)
	}

	// Speech
	if cfg.Speech.DailyCharLimit < 0 {
		errs = append(errs, fmt.Errorf("speech.daily_char_limit %d must not be negative", cfg.Speech.DailyCharLimit))
	}
	if cfg.Speech.MaxCharsPerRequest < 0 || (cfg.Speech.MaxCharsPerRequest > 0 && cfg.Speech.MaxCharsPerRequest < 4) {
		errs = append(errs, fmt.Errorf("speech.max_chars_per_request %d must be at least 4", cfg.Speech.MaxCharsPerRequest))
	}
	if cfg.Speech.CharsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("speech.chars_per_second %.2f must not be negative", cfg.Speech.CharsPerSecond))
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("stt", cfg.Providers.STTFallback.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("tts", cfg.Providers.TTSFallback.Name)

	if cfg.Providers.STT.Configured() && cfg.Providers.STTFallback.Name == cfg.Providers.STT.Name {
		slog.Warn("providers.stt_fallback is the same as providers.stt; failover will not help", "name", cfg.Providers.STT.Name)
	}
	if cfg.Discord.Token == "" {
		slog.Warn("discord.token is empty; running local push-to-talk only")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
