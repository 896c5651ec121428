package app_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/sri/internal/app"
	"github.com/MrWong99/sri/internal/config"
	"github.com/MrWong99/sri/internal/observe"
	"github.com/MrWong99/sri/internal/session"
	audiomock "github.com/MrWong99/sri/pkg/audio/mock"
	"github.com/MrWong99/sri/pkg/keyboard"
	"github.com/MrWong99/sri/pkg/provider/llm"
	llmmock "github.com/MrWong99/sri/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/sri/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/sri/pkg/provider/tts/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// testConfig returns a defaulted config with short trigger bounds.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(""),
		config.WithEnv(func(string) (string, bool) { return "", false }))
	if err != nil {
		t.Fatalf("LoadFromReader() error: %v", err)
	}
	cfg.Trigger.MinDuration = 50 * time.Millisecond
	cfg.Trigger.MaxDuration = 5 * time.Second
	cfg.Conversation.PrimaryUser = "budi"
	return cfg
}

// testProviders returns mock providers; the LLM always answers reply.
func testProviders(reply string) (*app.Providers, *sttmock.Provider, *llmmock.Provider, *ttsmock.Provider) {
	s := &sttmock.Provider{}
	l := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: reply}}
	tt := &ttsmock.Provider{}
	return &app.Providers{
		LLM: l, LLMName: "mock-llm",
		STT: s, STTName: "mock-stt",
		TTS: tt, TTSName: "mock-tts",
	}, s, l, tt
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics() error: %v", err)
	}
	return m
}

type fakeKeys struct{ events chan keyboard.Event }

func (k *fakeKeys) Events() <-chan keyboard.Event { return k.events }

type fakeText struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeText) Send(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeText) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_MissingProviders(t *testing.T) {
	t.Parallel()

	full, _, _, _ := testProviders("x")
	tests := []struct {
		name   string
		mutate func(p *app.Providers)
		want   string
	}{
		{"no llm", func(p *app.Providers) { p.LLM = nil }, "llm"},
		{"no stt", func(p *app.Providers) { p.STT = nil }, "stt"},
		{"no tts at all", func(p *app.Providers) { p.TTS = nil }, "tts"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := *full
			tc.mutate(&p)
			_, err := app.New(context.Background(), testConfig(t), &p,
				app.WithSource(nil), app.WithKeySource(nil), app.WithLocalSink(nil),
				app.WithMetrics(testMetrics(t)))
			if !errors.Is(err, app.ErrMissingProvider) {
				t.Fatalf("New() error = %v, want ErrMissingProvider", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not name %q", err, tc.want)
			}
		})
	}
}

func TestNew_FallbackOnlyTTS(t *testing.T) {
	t.Parallel()

	p, _, _, tt := testProviders("x")
	p.TTS, p.TTSFallback, p.TTSFallbackName = nil, tt, "mock-fallback"
	a, err := app.New(context.Background(), testConfig(t), p,
		app.WithSource(nil), app.WithKeySource(nil), app.WithLocalSink(nil),
		app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	if !a.Speech().IsAvailable() {
		t.Error("speech unavailable with only a fallback configured")
	}
}

func TestApp_PushToTalkTurn(t *testing.T) {
	t.Parallel()

	p, stt, llmp, tt := testProviders("Halo Kak!")
	stt.DefaultResult = "halo sri"
	src := &audiomock.Source{FrameDelay: 10 * time.Millisecond}
	keys := &fakeKeys{events: make(chan keyboard.Event, 4)}
	local := &audiomock.Sink{}
	text := &fakeText{}

	a, err := app.New(context.Background(), testConfig(t), p,
		app.WithSource(src), app.WithKeySource(keys), app.WithLocalSink(local),
		app.WithChat(text, nil), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	waitFor(t, "listening", func() bool {
		mode, ok := a.Orchestrator().Listening()
		return ok && mode == session.ModePushToTalk
	})

	keys.events <- keyboard.Event{Down: true}
	time.Sleep(150 * time.Millisecond)
	keys.events <- keyboard.Event{Down: false}

	waitFor(t, "text reply", func() bool { return len(text.messages()) == 1 })
	if want := "🎙️ **Push-to-talk:** halo sri\n\nHalo Kak!"; text.messages()[0] != want {
		t.Errorf("message = %q, want %q", text.messages()[0], want)
	}
	waitFor(t, "local playback", func() bool { return len(local.Calls()) == 1 })
	if got := tt.Texts(); len(got) != 1 || got[0] != "Halo Kak!" {
		t.Errorf("synthesized %q, want the reply", got)
	}
	if n := len(llmp.Calls()); n != 1 {
		t.Errorf("LLM called %d times, want 1", n)
	}

	cancel()
	select {
	case err := <-runErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApp_RunWithoutMicrophone(t *testing.T) {
	t.Parallel()

	p, _, _, _ := testProviders("x")
	a, err := app.New(context.Background(), testConfig(t), p,
		app.WithSource(nil), app.WithKeySource(nil), app.WithLocalSink(nil),
		app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := a.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() = %v, want DeadlineExceeded", err)
	}
	if _, ok := a.Orchestrator().Listening(); ok {
		t.Error("listening without a microphone")
	}
}

func TestApp_ApplyConfig(t *testing.T) {
	t.Parallel()

	p, _, _, _ := testProviders("x")
	levels := new(slog.LevelVar)
	old := testConfig(t)
	a, err := app.New(context.Background(), old, p,
		app.WithSource(nil), app.WithKeySource(nil), app.WithLocalSink(nil),
		app.WithMetrics(testMetrics(t)), app.WithLogLevel(levels))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	updated := *old
	updated.Server.LogLevel = config.LogDebug
	updated.Conversation.Persona = "Kamu adalah Sri yang ceria."
	updated.Speech.DailyCharLimit = 42

	a.ApplyConfig(old, &updated)

	if levels.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", levels.Level())
	}
	if prompt := a.Conversation().BuildPrompt("budi", "halo sri"); !strings.Contains(prompt, "Sri yang ceria") {
		t.Errorf("prompt lacks reloaded persona:\n%s", prompt)
	}
	if got := a.Speech().UsageInfo().Limit; got != 42 {
		t.Errorf("daily limit = %d, want 42", got)
	}
}

func TestApp_HealthRoutes(t *testing.T) {
	t.Parallel()

	p, _, _, _ := testProviders("x")
	a, err := app.New(context.Background(), testConfig(t), p,
		app.WithSource(nil), app.WithKeySource(nil), app.WithLocalSink(nil),
		app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	mux := http.NewServeMux()
	a.Health().Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestApp_ShutdownReleasesDevices(t *testing.T) {
	t.Parallel()

	p, _, _, _ := testProviders("x")
	src := &audiomock.Source{FrameDelay: 10 * time.Millisecond}
	a, err := app.New(context.Background(), testConfig(t), p,
		app.WithSource(src), app.WithKeySource(&fakeKeys{events: make(chan keyboard.Event)}),
		app.WithLocalSink(&audiomock.Sink{}), app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
	if src.CallCountClose != 1 {
		t.Errorf("source closed %d times, want 1", src.CallCountClose)
	}
	if a.Speech().IsAvailable() {
		t.Error("speech still available after shutdown")
	}
}

func TestConversionHelpers(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Conversation.PrimaryTitle = "Bos"
	cfg.Conversation.Fallbacks.Thanks = "Sama-sama!"
	cfg.Speech.MaxCharsPerRequest = 321

	s := app.ConversationSettings(cfg)
	if s.PrimaryUser != "budi" || s.PrimaryTitle != "Bos" || s.Fallbacks.Thanks != "Sama-sama!" {
		t.Errorf("ConversationSettings() = %+v", s)
	}
	if l := app.SpeechLimits(cfg); l.PerRequest != 321 || l.DailyChars != cfg.Speech.DailyCharLimit {
		t.Errorf("SpeechLimits() = %+v", l)
	}
}
