package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/sri/internal/capture"
	"github.com/MrWong99/sri/internal/conversation"
	"github.com/MrWong99/sri/internal/speech"
	"github.com/MrWong99/sri/internal/transcript"
	"github.com/MrWong99/sri/pkg/audio"
	audiomock "github.com/MrWong99/sri/pkg/audio/mock"
	"github.com/MrWong99/sri/pkg/keyboard"
	"github.com/MrWong99/sri/pkg/provider/llm"
	llmmock "github.com/MrWong99/sri/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/sri/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/sri/pkg/provider/tts/mock"
)

// pipeline bundles real components backed by provider mocks.
type pipeline struct {
	stt     *sttmock.Provider
	llm     *llmmock.Provider
	primary *ttsmock.Provider
	local   *audiomock.Sink
	voice   *fakeVoice
	text    *fakeText
	ptt     *fakePTT
	ambient *fakeListener
	speech  *speech.Manager
	orch    *Orchestrator
}

func newPipeline(t *testing.T, reply string) *pipeline {
	t.Helper()
	p := &pipeline{
		stt:     &sttmock.Provider{},
		llm:     &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: reply}},
		primary: &ttsmock.Provider{},
		local:   &audiomock.Sink{},
		voice:   newFakeVoice(),
		text:    newFakeText(),
		ptt:     newFakePTT(),
		ambient: newFakeListener(),
	}
	outputs := Outputs{Local: p.local, Remote: p.voice}

	var orch atomic.Pointer[Orchestrator]
	p.speech = speech.NewManager(p.primary, nil, outputs.Select,
		speech.WithSpeakingListener(func(s bool) {
			if o := orch.Load(); o != nil {
				o.OnSpeaking(s)
			}
		}))
	p.orch = New(Config{
		PushToTalk:   p.ptt,
		Ambient:      p.ambient,
		Transcriber:  transcript.NewGateway(p.stt),
		Conversation: conversation.NewManager(p.llm),
		Speech:       p.speech,
		Text:         p.text,
		Voice:        p.voice,
		Speaker:      "budi",
	})
	orch.Store(p.orch)
	t.Cleanup(func() { _ = p.orch.Shutdown() })
	return p
}

func recording() *capture.Recording {
	return &capture.Recording{
		Clip: audio.Clip{PCM: make([]byte, 4000), Format: audio.Format{SampleRate: 16000, Channels: 1}},
		WAV:  []byte("RIFF-fake-wav"),
	}
}

func TestOrchestrator_PushToTalkTurnEndToEnd(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, "Halo Kak!")
	p.stt.Results = map[string]string{"id-ID": "halo"}
	if err := p.orch.Start(context.Background(), "chan-1"); err != nil {
		t.Fatalf("Start() = %v", err)
	}

	p.ptt.events <- capture.Event{Kind: capture.RecordingStarted}
	p.ptt.events <- capture.Event{Kind: capture.RecordingStopped, Recording: recording(), Elapsed: time.Second}

	msg := p.text.next(t)
	if msg.Channel != "chan-1" {
		t.Errorf("channel = %q, want chan-1", msg.Channel)
	}
	if want := "🎙️ **Push-to-talk:** halo sri\n\nHalo Kak!"; msg.Text != want {
		t.Errorf("message = %q, want %q", msg.Text, want)
	}

	waitFor(t, "local playback", func() bool { return len(p.local.Calls()) == 1 })
	if got := p.primary.Texts(); len(got) != 1 || got[0] != "Halo Kak!" {
		t.Errorf("synthesized %q, want reply", got)
	}

	calls := p.llm.Calls()
	if len(calls) != 1 {
		t.Fatalf("LLM called %d times, want 1", len(calls))
	}
	if !strings.Contains(calls[0].Req.Messages[0].Content, "halo sri") {
		t.Errorf("prompt lacks normalized text:\n%s", calls[0].Req.Messages[0].Content)
	}
}

func TestOrchestrator_ShortHoldSkipsTranscription(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, "x")
	p.stt.DefaultResult = "halo"
	if err := p.orch.Start(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	p.ptt.events <- capture.Event{Kind: capture.RecordingStopped, Elapsed: 200 * time.Millisecond}
	p.ptt.events <- capture.Event{Kind: capture.RecordingStopped, Err: capture.ErrNoAudio}
	time.Sleep(50 * time.Millisecond)

	if n := p.stt.CallCount(); n != 0 {
		t.Errorf("STT called %d times, want 0", n)
	}
	if n := len(p.llm.Calls()); n != 0 {
		t.Errorf("LLM called %d times, want 0", n)
	}
}

func TestOrchestrator_EmptyTranscriptIsSilence(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, "x")
	if err := p.orch.Start(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	p.ptt.events <- capture.Event{Kind: capture.RecordingStopped, Recording: recording()}

	waitFor(t, "both languages tried", func() bool { return p.stt.CallCount() == 2 })
	time.Sleep(30 * time.Millisecond)
	if n := len(p.llm.Calls()); n != 0 {
		t.Errorf("LLM called %d times for empty transcript", n)
	}
}

func TestOrchestrator_TextFailureDoesNotBlockSpeech(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, "oke")
	p.text.err = errors.New("discord down")
	p.stt.DefaultResult = "tolong nyalakan musik"
	if err := p.orch.Start(context.Background(), "c"); err != nil {
		t.Fatal(err)
	}
	p.ptt.events <- capture.Event{Kind: capture.RecordingStopped, Recording: recording()}

	p.text.next(t)
	waitFor(t, "playback", func() bool { return len(p.local.Calls()) == 1 })
}

func TestOrchestrator_AmbientPassiveTurns(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, "Iya Kak?")
	if err := p.orch.StartMode(context.Background(), "c", ModeAmbient); err != nil {
		t.Fatal(err)
	}
	if p.ptt.Running() || !p.ambient.Running() {
		t.Fatal("ambient mode should run only the ambient listener")
	}

	p.ambient.phrases <- capture.Phrase{Text: "kita makan dulu"}
	p.ambient.phrases <- capture.Phrase{Text: "sri kamu di sana"}

	msg := p.text.next(t)
	if !strings.Contains(msg.Text, "sri kamu di sana") || !strings.HasSuffix(msg.Text, "Iya Kak?") {
		t.Errorf("message = %q", msg.Text)
	}
	if n := len(p.llm.Calls()); n != 1 {
		t.Errorf("LLM called %d times, want 1 (unaddressed phrase ignored)", n)
	}
}

func TestOrchestrator_StalePhraseDroppedOnRestart(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, "Iya Kak?")
	if err := p.orch.StartMode(context.Background(), "c", ModeAmbient); err != nil {
		t.Fatal(err)
	}
	p.orch.StopListening()
	p.ambient.phrases <- capture.Phrase{Text: "sri yang lama"}

	if err := p.orch.StartMode(context.Background(), "c", ModeAmbient); err != nil {
		t.Fatal(err)
	}
	p.ambient.phrases <- capture.Phrase{Text: "sri yang baru"}

	msg := p.text.next(t)
	if !strings.Contains(msg.Text, "sri yang baru") {
		t.Errorf("message = %q, want the phrase heard after restart", msg.Text)
	}
	time.Sleep(50 * time.Millisecond)
	if n := len(p.llm.Calls()); n != 1 {
		t.Errorf("LLM called %d times, want 1", n)
	}
}

func TestOrchestrator_ModesAreExclusive(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, "x")
	if err := p.orch.StartMode(context.Background(), "c", ModeAmbient); err != nil {
		t.Fatal(err)
	}
	if err := p.orch.StartMode(context.Background(), "c", ModePushToTalk); err != nil {
		t.Fatal(err)
	}
	if p.ambient.Running() {
		t.Error("ambient listener still running after switching to push-to-talk")
	}
	if mode, ok := p.orch.Listening(); !ok || mode != ModePushToTalk {
		t.Errorf("Listening() = %q, %v", mode, ok)
	}
}

func TestOrchestrator_StartUnavailable(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, "x")
	p.ptt.available = false
	if err := p.orch.Start(context.Background(), "c"); !errors.Is(err, capture.ErrUnavailable) {
		t.Errorf("Start() = %v, want ErrUnavailable", err)
	}
	if err := p.orch.StartMode(context.Background(), "c", Mode("telepathy")); err == nil {
		t.Error("unknown mode accepted")
	}
}

func TestOrchestrator_StopReleasesCaptureAndVoice(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, "x")
	if !p.orch.Connect(context.Background(), Target{GuildID: "g", ChannelID: "v"}) {
		t.Fatal("Connect() = false")
	}
	if err := p.orch.Start(context.Background(), "c"); err != nil {
		t.Fatal(err)
	}

	p.orch.Stop()
	if p.ptt.Running() {
		t.Error("push-to-talk still running after Stop")
	}
	if p.orch.IsConnected() {
		t.Error("voice still connected after Stop")
	}
	if _, ok := p.orch.Listening(); ok {
		t.Error("Listening() = true after Stop")
	}
	p.orch.Stop() // idempotent
}

func TestOrchestrator_StopDuringHoldIsNotReplayed(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, "Halo Kak!")
	p.stt.DefaultResult = "halo sri"
	keys := make(fakeKeys, 4)
	trig := capture.NewTrigger(
		capture.NewRecorder(&audiomock.Source{FrameDelay: 5 * time.Millisecond}),
		keys, capture.WithMinDuration(10*time.Millisecond))
	orch := New(Config{
		PushToTalk:   trig,
		Transcriber:  transcript.NewGateway(p.stt),
		Conversation: conversation.NewManager(p.llm),
		Speech:       p.speech,
		Text:         p.text,
		Speaker:      "budi",
	})
	t.Cleanup(orch.Stop)

	if err := orch.Start(context.Background(), "chan-1"); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	keys <- keyboard.Event{Down: true}
	waitFor(t, "recording", func() bool { return trig.State() == capture.StateRecording })
	time.Sleep(100 * time.Millisecond)

	orch.Stop()
	if err := orch.Start(context.Background(), "chan-1"); err != nil {
		t.Fatalf("second Start() = %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if n := p.stt.CallCount(); n != 0 {
		t.Fatalf("transcribed %d times after restart, want 0", n)
	}

	// A fresh hold after the restart is still answered.
	keys <- keyboard.Event{Down: true}
	time.Sleep(100 * time.Millisecond)
	keys <- keyboard.Event{Down: false}
	if msg := p.text.next(t); !strings.Contains(msg.Text, "Halo Kak!") {
		t.Errorf("message = %q, want the reply", msg.Text)
	}
}

func TestOrchestrator_StopListeningKeepsVoice(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, "x")
	p.orch.Connect(context.Background(), Target{ChannelID: "v"})
	if err := p.orch.Start(context.Background(), "c"); err != nil {
		t.Fatal(err)
	}
	p.orch.StopListening()
	if !p.orch.IsConnected() {
		t.Error("voice disconnected by StopListening")
	}
}

func TestOrchestrator_ConnectFailureIsTextOnly(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, "Halo!")
	p.voice.setConnectErr(errors.New("missing permission"))
	if p.orch.Connect(context.Background(), Target{ChannelID: "v"}) {
		t.Fatal("Connect() = true on failure")
	}

	reply, ok := p.orch.HandleText(context.Background(), "c", "ani", "halo sri")
	if !ok || reply != "Halo!" {
		t.Fatalf("HandleText() = %q, %v", reply, ok)
	}
	if msg := p.text.next(t); msg.Text != "Halo!" {
		t.Errorf("message = %q, want bare reply", msg.Text)
	}
	waitFor(t, "local playback", func() bool { return len(p.local.Calls()) == 1 })
	if len(p.voice.Calls()) != 0 {
		t.Error("audio sent to disconnected voice sink")
	}
}

func TestOrchestrator_SpeechUsesRemoteWhenConnected(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, "Halo!")
	if !p.orch.Connect(context.Background(), Target{ChannelID: "v"}) {
		t.Fatal("Connect() = false")
	}
	p.orch.HandleText(context.Background(), "c", "ani", "halo sri")
	waitFor(t, "remote playback", func() bool { return len(p.voice.Calls()) == 1 })
	if len(p.local.Calls()) != 0 {
		t.Error("audio played locally while connected")
	}
}

func TestOrchestrator_HandleTextUnaddressed(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, "x")
	if _, ok := p.orch.HandleText(context.Background(), "c", "ani", "makan yuk"); ok {
		t.Error("unaddressed text answered")
	}
}

func TestOrchestrator_OnSpeakingPausesAmbient(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, "x")
	p.orch.OnSpeaking(true)
	if !p.ambient.Paused() {
		t.Error("ambient not paused while speaking")
	}
	p.orch.OnSpeaking(false)
	if p.ambient.Paused() {
		t.Error("ambient still paused after speaking")
	}
}

func TestOrchestrator_ShutdownIsIdempotent(t *testing.T) {
	t.Parallel()

	var closes atomic.Int32
	ptt := newFakePTT()
	sp := speech.NewManager(&ttsmock.Provider{}, nil, nil)
	o := New(Config{
		PushToTalk: ptt,
		Speech:     sp,
		Closers: []io.Closer{
			closerFunc(func() error { closes.Add(1); return nil }),
			closerFunc(func() error { closes.Add(1); return errBoom }),
		},
	})
	if err := o.Start(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	errs := make(chan error, 2)
	for range 2 {
		go func() { errs <- o.Shutdown() }()
	}
	var got []error
	for range 2 {
		got = append(got, <-errs)
	}
	if !errors.Is(errors.Join(got...), errBoom) {
		t.Errorf("Shutdown errors = %v, want one carrying errBoom", got)
	}
	if n := closes.Load(); n != 2 {
		t.Errorf("closers ran %d times, want 2", n)
	}
	if ptt.Running() {
		t.Error("capture still running after Shutdown")
	}
	if sp.IsAvailable() {
		t.Error("speech still available after Shutdown")
	}
	if err := o.Start(context.Background(), ""); !errors.Is(err, ErrShutdown) {
		t.Errorf("Start after Shutdown = %v, want ErrShutdown", err)
	}
	if o.Connect(context.Background(), Target{ChannelID: "v"}) {
		t.Error("Connect after Shutdown = true")
	}
}

func TestOutputs_Select(t *testing.T) {
	t.Parallel()

	local := &audiomock.Sink{}
	voice := newFakeVoice()
	o := Outputs{Local: local, Remote: voice}
	if o.Select() != audio.Sink(local) {
		t.Error("Select() should return local while disconnected")
	}
	_ = voice.Connect(context.Background(), "g", "c")
	if o.Select() != audio.Sink(voice) {
		t.Error("Select() should return remote while connected")
	}
	if (Outputs{}).Select() != nil {
		t.Error("Select() with no sinks should be nil")
	}
}
