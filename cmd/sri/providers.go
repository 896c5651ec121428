package main

import (
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/sri/internal/app"
	"github.com/MrWong99/sri/internal/config"
	"github.com/MrWong99/sri/pkg/provider/llm"
	"github.com/MrWong99/sri/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/sri/pkg/provider/llm/openai"
	"github.com/MrWong99/sri/pkg/provider/stt"
	"github.com/MrWong99/sri/pkg/provider/stt/deepgram"
	"github.com/MrWong99/sri/pkg/provider/stt/whisper"
	"github.com/MrWong99/sri/pkg/provider/stt/whisperapi"
	"github.com/MrWong99/sri/pkg/provider/tts"
	"github.com/MrWong99/sri/pkg/provider/tts/coqui"
	"github.com/MrWong99/sri/pkg/provider/tts/command"
	"github.com/MrWong99/sri/pkg/provider/tts/elevenlabs"
)

// defaultLLMModels is used when an LLM entry names no model.
var defaultLLMModels = map[string]string{
	"gemini":    "gemini-2.5-flash",
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-haiku-latest",
	"ollama":    "llama3.2",
	"deepseek":  "deepseek-chat",
	"mistral":   "mistral-small-latest",
	"groq":      "llama-3.1-8b-instant",
}

// wakeWordBoost is the Deepgram keyword intensity for the wake word.
const wakeWordBoost = 2.0

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Hosted vendors share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{"gemini", "anthropic", "deepseek", "mistral", "groq"} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, llmModel(entry), opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(llmModel(entry), opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, llmModel(entry), opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper-api", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisperapi.Option
		if entry.BaseURL != "" {
			opts = append(opts, whisperapi.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, whisperapi.WithModel(entry.Model))
		}
		if prompt := entry.OptionString("prompt", ""); prompt != "" {
			opts = append(opts, whisperapi.WithPrompt(prompt))
		}
		return whisperapi.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if wake := cfg.Transcript.WakeWord; wake != "" {
			opts = append(opts, deepgram.WithKeywords(deepgram.Keyword{
				Word:  wake,
				Boost: entry.OptionFloat("wake_word_boost", wakeWordBoost),
			}))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if voice := entry.OptionString("voice_id", ""); voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		if outputFmt := entry.OptionString("output_format", ""); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.OptionString("api_mode", ""); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if speaker := entry.OptionString("speaker", ""); speaker != "" {
			opts = append(opts, coqui.WithSpeaker(speaker))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("command", func(entry config.ProviderEntry) (tts.Provider, error) {
		engine := command.Engine(entry.OptionString("engine", ""))
		if engine == "" {
			detected, err := command.Detect()
			if err != nil {
				return nil, err
			}
			engine = detected
		}
		var opts []command.Option
		if voice := entry.OptionString("voice", ""); voice != "" {
			opts = append(opts, command.WithVoice(voice))
		}
		if rate := entry.OptionFloat("rate", 0); rate != 0 {
			opts = append(opts, command.WithRate(int(rate)))
		}
		return command.New(engine, opts...)
	})

	for kind, names := range reg.Names() {
		slog.Debug("registered providers", "kind", kind, "names", names)
	}
}

func llmModel(entry config.ProviderEntry) string {
	if entry.Model != "" {
		return entry.Model
	}
	return defaultLLMModels[entry.Name]
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// The primary slots are required; a fallback that cannot be built is logged
// and left empty.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	pc := cfg.Providers
	ps := &app.Providers{
		LLMName:         pc.LLM.Name,
		STTName:         pc.STT.Name,
		STTFallbackName: pc.STTFallback.Name,
		TTSName:         pc.TTS.Name,
		TTSFallbackName: pc.TTSFallback.Name,
	}

	var err error
	if ps.LLM, err = reg.CreateLLM(pc.LLM); err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", pc.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", pc.LLM.Name)

	if ps.STT, err = reg.CreateSTT(pc.STT); err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", pc.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", pc.STT.Name)

	if pc.STTFallback.Configured() {
		p, err := reg.CreateSTT(pc.STTFallback)
		if err != nil {
			slog.Warn("stt fallback unavailable", "name", pc.STTFallback.Name, "err", err)
		} else {
			ps.STTFallback = p
			slog.Info("provider created", "kind", "stt_fallback", "name", pc.STTFallback.Name)
		}
	}

	// A missing primary TTS key is common for a local-only setup; the
	// fallback voice takes over in that case.
	if p, err := reg.CreateTTS(pc.TTS); err != nil {
		if errors.Is(err, config.ErrProviderNotRegistered) {
			return nil, fmt.Errorf("create tts provider %q: %w", pc.TTS.Name, err)
		}
		slog.Warn("primary tts unavailable", "name", pc.TTS.Name, "err", err)
	} else {
		ps.TTS = p
		slog.Info("provider created", "kind", "tts", "name", pc.TTS.Name)
	}

	if pc.TTSFallback.Configured() {
		p, err := reg.CreateTTS(pc.TTSFallback)
		if err != nil {
			slog.Warn("tts fallback unavailable", "name", pc.TTSFallback.Name, "err", err)
		} else {
			ps.TTSFallback = p
			slog.Info("provider created", "kind", "tts_fallback", "name", pc.TTSFallback.Name)
		}
	}
	return ps, nil
}
