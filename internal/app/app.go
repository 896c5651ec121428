// Package app wires all Sri subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run keeps the capture path and the metrics endpoint alive, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithSource, WithKeySource, WithLocalSink, WithChat). When an option is not
// provided, New opens the real device.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sri/internal/capture"
	"github.com/MrWong99/sri/internal/config"
	"github.com/MrWong99/sri/internal/conversation"
	"github.com/MrWong99/sri/internal/health"
	"github.com/MrWong99/sri/internal/observe"
	"github.com/MrWong99/sri/internal/resilience"
	"github.com/MrWong99/sri/internal/session"
	"github.com/MrWong99/sri/internal/speech"
	"github.com/MrWong99/sri/internal/transcript"
	"github.com/MrWong99/sri/internal/transcript/phonetic"
	"github.com/MrWong99/sri/pkg/audio"
	"github.com/MrWong99/sri/pkg/audio/portaudio"
	"github.com/MrWong99/sri/pkg/audio/speaker"
	"github.com/MrWong99/sri/pkg/keyboard"
	"github.com/MrWong99/sri/pkg/provider/llm"
	"github.com/MrWong99/sri/pkg/provider/stt"
	"github.com/MrWong99/sri/pkg/provider/tts"
)

// ErrMissingProvider is returned by [New] when a required provider slot is empty.
var ErrMissingProvider = errors.New("app: missing provider")

// Providers holds one interface value per provider slot together with the
// name it was registered under. Nil means the provider is not configured.
// Populated by main.go via the config registry.
type Providers struct {
	LLM     llm.Provider
	LLMName string

	STT     stt.Provider
	STTName string

	STTFallback     stt.Provider
	STTFallbackName string

	TTS     tts.Provider
	TTSName string

	TTSFallback     tts.Provider
	TTSFallbackName string
}

// App owns all subsystem lifetimes and orchestrates the Sri voice pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	levels    *slog.LevelVar

	// Devices and chat outputs. The *Set flags distinguish an injected nil
	// from "open the real device".
	source    audio.Source
	sourceSet bool
	keys      capture.KeySource
	keysSet   bool
	local     audio.Sink
	localSet  bool
	text      session.TextDelivery
	voice     session.VoiceSink

	// Subsystems, initialised in New and torn down in Shutdown.
	guarded  *resilience.GuardedTTS
	gateway  *transcript.Gateway
	conv     *conversation.Manager
	speech   *speech.Manager
	recorder *capture.Recorder
	trigger  *capture.Trigger
	ambient  *capture.Ambient
	orch     *session.Orchestrator
	health   *health.Handler

	// closers release devices opened by New, after the recorder.
	closers []io.Closer

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects the microphone instead of opening the default input
// device. A nil source disables capture.
func WithSource(src audio.Source) Option {
	return func(a *App) {
		a.source = src
		a.sourceSet = true
	}
}

// WithKeySource injects the push-to-talk key events instead of registering
// the configured global hotkey. A nil source disables push-to-talk.
func WithKeySource(k capture.KeySource) Option {
	return func(a *App) {
		a.keys = k
		a.keysSet = true
	}
}

// WithLocalSink injects the local playback device instead of opening the
// default output device. A nil sink disables local playback.
func WithLocalSink(s audio.Sink) Option {
	return func(a *App) {
		a.local = s
		a.localSet = true
	}
}

// WithChat connects text replies and the remote voice sink to the chat
// platform. Either may be nil.
func WithChat(text session.TextDelivery, voice session.VoiceSink) Option {
	return func(a *App) {
		a.text = text
		a.voice = voice
	}
}

// WithMetrics records into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets [App.ApplyConfig] adjust the log level at runtime.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.levels = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Missing devices
// are logged and leave the corresponding path unavailable; only missing
// providers are an error.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, fmt.Errorf("%w: llm", ErrMissingProvider)
	}
	if providers.STT == nil {
		return nil, fmt.Errorf("%w: stt", ErrMissingProvider)
	}
	if providers.TTS == nil && providers.TTSFallback == nil {
		return nil, fmt.Errorf("%w: tts", ErrMissingProvider)
	}

	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Devices ───────────────────────────────────────────────────────
	a.openDevices()

	// ── 2. Transcription gateway ─────────────────────────────────────────
	a.gateway = transcript.NewGateway(a.buildSTT(), a.gatewayOptions()...)

	// ── 3. Conversation manager ──────────────────────────────────────────
	cc := cfg.Conversation
	a.conv = conversation.NewManager(providers.LLM,
		conversation.WithSettings(ConversationSettings(cfg)),
		conversation.WithHistorySize(cc.HistorySize),
		conversation.WithPromptTurns(cc.PromptTurns),
		conversation.WithContextTimeout(cc.ContextTimeout),
		conversation.WithGeneration(cc.Temperature, cc.MaxTokens),
		conversation.WithWakeWord(cfg.Transcript.WakeWord),
		conversation.WithMetrics(a.metrics, providers.LLMName),
	)

	// ── 4. Speech synthesis manager ──────────────────────────────────────
	var orch atomic.Pointer[session.Orchestrator]
	outputs := session.Outputs{Local: a.local, Remote: a.voice}
	var primary tts.Provider
	if providers.TTS != nil {
		a.guarded = resilience.NewGuardedTTS(providers.TTS, resilience.CircuitBreakerConfig{
			Name:          "tts:" + providers.TTSName,
			OnStateChange: a.recordTransition,
		})
		primary = a.guarded
	}
	sc := cfg.Speech
	a.speech = speech.NewManager(primary, providers.TTSFallback, outputs.Select,
		speech.WithQuota(speech.NewQuota(SpeechLimits(cfg), nil)),
		speech.WithProviderNames(providers.TTSName, providers.TTSFallbackName),
		speech.WithSpeakingEstimate(sc.MinSpeakingTime, sc.CharsPerSecond, sc.SpeakingBuffer),
		speech.WithQueueSize(sc.QueueSize),
		speech.WithMetrics(a.metrics),
		speech.WithSpeakingListener(func(speaking bool) {
			if o := orch.Load(); o != nil {
				o.OnSpeaking(speaking)
			}
		}),
	)

	// ── 5. Capture paths ─────────────────────────────────────────────────
	a.recorder = capture.NewRecorder(a.source)
	a.trigger = capture.NewTrigger(a.recorder, a.keys,
		capture.WithMinDuration(cfg.Trigger.MinDuration),
		capture.WithMaxDuration(cfg.Trigger.MaxDuration),
	)
	a.ambient = capture.NewAmbient(a.recorder, a.gateway)

	// ── 6. Session orchestrator ──────────────────────────────────────────
	closers := append([]io.Closer{a.recorder}, a.closers...)
	scfg := session.Config{
		PushToTalk:   a.trigger,
		Ambient:      a.ambient,
		Transcriber:  a.gateway,
		Conversation: a.conv,
		Speech:       a.speech,
		Text:         a.text,
		Voice:        a.voice,
		Mode:         session.Mode(cfg.Trigger.Mode),
		Speaker:      speakerName(cfg),
		Closers:      closers,
		Metrics:      a.metrics,
	}
	a.orch = session.New(scfg)
	orch.Store(a.orch)

	// ── 7. Health checks ─────────────────────────────────────────────────
	checks := []health.Checker{health.Speech(a.speech), health.Voice(a.orch)}
	if a.guarded != nil {
		checks = append(checks, health.Breaker("tts_breaker", a.guarded))
	}
	a.health = health.New(checks...)

	observe.Logger(ctx).Info("app: initialised",
		"mode", scfg.Mode,
		"capture", a.recorder.Available(),
		"push_to_talk", a.trigger.Available(),
		"local_playback", a.local != nil,
		"text", a.text != nil,
		"voice", a.voice != nil,
	)
	return a, nil
}

// openDevices opens the microphone, the trigger hotkey and the speaker
// unless they were injected. Failures are logged and leave the device unset.
func (a *App) openDevices() {
	if !a.sourceSet {
		mic, err := portaudio.Open()
		if err != nil {
			slog.Warn("app: microphone unavailable, capture disabled", "err", err)
		} else {
			a.source = mic
		}
	}
	if !a.keysSet {
		key, err := keyboard.Parse(a.cfg.Trigger.Key)
		if err != nil {
			slog.Warn("app: invalid push-to-talk key", "key", a.cfg.Trigger.Key, "err", err)
		} else if hk, err := keyboard.Register(key); err != nil {
			slog.Warn("app: push-to-talk key unavailable", "key", key.Name, "err", err)
		} else {
			a.keys = hk
			a.closers = append(a.closers, hk)
		}
	}
	if !a.localSet {
		sp, err := speaker.New(0, 0)
		if err != nil {
			slog.Warn("app: speaker unavailable, local playback disabled", "err", err)
		} else {
			a.local = sp
			a.closers = append(a.closers, sp)
		}
	}
}

// buildSTT wraps the primary STT provider in a fallback group when a
// secondary provider is configured.
func (a *App) buildSTT() stt.Provider {
	p := a.providers
	if p.STTFallback == nil {
		return p.STT
	}
	group := resilience.NewSTTFallback(p.STT, p.STTName, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{OnStateChange: a.recordTransition},
	})
	group.AddFallback(p.STTFallbackName, p.STTFallback)
	return group
}

func (a *App) gatewayOptions() []transcript.Option {
	tc := a.cfg.Transcript
	opts := []transcript.Option{
		transcript.WithLanguages(tc.Languages...),
		transcript.WithNormalizer(transcript.NewNormalizer(tc.WakeWord, nil)),
		transcript.WithMetrics(a.metrics, a.providers.STTName),
	}
	if tc.Phonetic.Enabled {
		opts = append(opts, transcript.WithPhonetic(
			phonetic.New(tc.WakeWord, phonetic.WithThreshold(tc.Phonetic.Threshold)),
		))
	}
	return opts
}

func (a *App) recordTransition(name string, from, to resilience.State) {
	slog.Warn("app: circuit breaker transition", "name", name, "from", from, "to", to)
	a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Orchestrator returns the session orchestrator, for the chat bot to bind to.
func (a *App) Orchestrator() *session.Orchestrator { return a.orch }

// Speech returns the speech synthesis manager.
func (a *App) Speech() *speech.Manager { return a.speech }

// Conversation returns the conversation manager.
func (a *App) Conversation() *conversation.Manager { return a.conv }

// Health returns the /healthz and /readyz handler.
func (a *App) Health() *health.Handler { return a.health }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts listening with the configured capture mode, serves the metrics
// endpoint when configured and blocks until ctx is cancelled. An unavailable
// capture device is not fatal: the chat bridge keeps working.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.MetricsAddr; addr != "" {
		srv := observe.NewServer(addr, a.metrics, observe.WithRoutes(a.health))
		g.Go(func() error {
			if err := srv.Serve(gctx); err != nil {
				return fmt.Errorf("app: metrics server: %w", err)
			}
			return nil
		})
	}

	if err := a.orch.Start(gctx, ""); err != nil {
		slog.Warn("app: local capture not started", "err", err)
	} else {
		mode, _ := a.orch.Listening()
		slog.Info("app: listening", "mode", mode, "key", a.cfg.Trigger.Key)
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ApplyConfig applies the hot-reloadable parts of a changed configuration.
// It is meant to be passed to [config.NewWatcher].
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged && a.levels != nil {
		a.levels.Set(d.NewLogLevel.Level())
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.ConversationChanged {
		a.conv.Update(ConversationSettings(new))
		slog.Info("app: conversation settings reloaded")
	}
	if d.SpeechLimitsChanged {
		l := SpeechLimits(new)
		a.speech.SetLimits(l)
		slog.Info("app: speech limits reloaded", "daily", l.DailyChars, "per_request", l.PerRequest)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops capture, drains the synthesis worker and releases all
// devices. It returns ctx.Err() if the deadline passes first; the teardown
// keeps running in the background in that case.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down")
		done := make(chan error, 1)
		go func() { done <- a.orch.Shutdown() }()
		select {
		case err := <-done:
			if err != nil {
				slog.Warn("app: shutdown error", "err", err)
				shutdownErr = err
			}
		case <-ctx.Done():
			slog.Warn("app: shutdown deadline exceeded")
			shutdownErr = ctx.Err()
			return
		}
		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// ConversationSettings extracts the hot-reloadable conversation settings.
func ConversationSettings(cfg *config.Config) conversation.Settings {
	cc := cfg.Conversation
	return conversation.Settings{
		Persona:      cc.Persona,
		PrimaryUser:  cc.PrimaryUser,
		PrimaryTitle: cc.PrimaryTitle,
		Fallbacks: conversation.Fallbacks{
			Greeting:  cc.Fallbacks.Greeting,
			Thanks:    cc.Fallbacks.Thanks,
			Retry:     cc.Fallbacks.Retry,
			Technical: cc.Fallbacks.Technical,
		},
	}
}

// SpeechLimits extracts the primary TTS usage limits.
func SpeechLimits(cfg *config.Config) speech.Limits {
	sc := cfg.Speech
	return speech.Limits{
		DailyChars:  sc.DailyCharLimit,
		PerRequest:  sc.MaxCharsPerRequest,
		CostPerChar: sc.CostPerChar,
	}
}

// speakerName is the identity recorded for locally captured turns.
func speakerName(cfg *config.Config) string {
	if u := cfg.Conversation.PrimaryUser; u != "" {
		return u
	}
	return session.DefaultSpeaker
}
