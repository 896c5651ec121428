// Package session wires capture, transcription, conversation and speech into
// one voice session and owns its lifecycle.
//
// The [Orchestrator] activates either push-to-talk or the ambient listener,
// turns each finished recording into a conversation turn and routes the
// reply to text delivery and speech. It owns the remote voice connection
// and provides the single idempotent shutdown path used by both signal
// handling and bot commands.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/sri/internal/capture"
	"github.com/MrWong99/sri/internal/conversation"
	"github.com/MrWong99/sri/internal/observe"
	"github.com/MrWong99/sri/internal/speech"
	"github.com/MrWong99/sri/internal/transcript"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Defaults for [Config].
const (
	DefaultStopTimeout  = 2 * time.Second
	DefaultSpeaker      = "User"
	defaultSendTimeout  = 10 * time.Second
	defaultVoiceTimeout = 15 * time.Second
)

// ErrShutdown is returned by operations attempted after [Orchestrator.Shutdown].
var ErrShutdown = errors.New("session: shut down")

// Mode selects the capture path.
type Mode string

const (
	ModePushToTalk Mode = "push_to_talk"
	ModeAmbient    Mode = "ambient"
)

// PushToTalk is the push-to-talk capture path; [capture.Trigger] implements it.
type PushToTalk interface {
	Available() bool
	Start(ctx context.Context) error
	Stop()
	Running() bool
	Events() <-chan capture.Event
}

// Listener is the ambient capture path; [capture.Ambient] implements it.
type Listener interface {
	Available() bool
	Start(ctx context.Context) error
	Stop()
	Running() bool
	Phrases() <-chan capture.Phrase
	SetPaused(paused bool)
}

// Transcriber turns recordings into text; [transcript.Gateway] implements it.
type Transcriber interface {
	TranscribeDetail(ctx context.Context, wav []byte) transcript.Transcript
}

// Responder produces replies; [conversation.Manager] implements it.
type Responder interface {
	Process(ctx context.Context, in conversation.Input) (string, bool)
}

// Speaker queues replies for playback; [speech.Manager] implements it.
type Speaker interface {
	Enqueue(ctx context.Context, text string, src speech.Source) <-chan speech.Result
	Close() error
}

// Config holds the collaborators of an [Orchestrator]. Nil capture paths,
// text delivery or voice sink disable the corresponding feature.
type Config struct {
	PushToTalk   PushToTalk
	Ambient      Listener
	Transcriber  Transcriber
	Conversation Responder
	Speech       Speaker
	Text         TextDelivery
	Voice        VoiceSink

	// Mode is the capture path used by [Orchestrator.Start].
	Mode Mode

	// Speaker is the identity recorded for locally captured turns.
	Speaker string

	// StopTimeout bounds how long Stop waits for in-flight work.
	StopTimeout time.Duration

	// Closers release audio devices on shutdown, in order.
	Closers []io.Closer

	Metrics *observe.Metrics
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	cfg   Config
	voice *Reconnector

	mu      sync.Mutex
	channel string
	mode    Mode
	cancel  context.CancelFunc
	pumped  chan struct{}

	connected    atomic.Bool
	shuttingDown atomic.Bool
	shutdownDone chan struct{}
}

// New returns an idle [Orchestrator].
func New(cfg Config) *Orchestrator {
	if cfg.Mode == "" {
		cfg.Mode = ModePushToTalk
	}
	if cfg.Speaker == "" {
		cfg.Speaker = DefaultSpeaker
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	o := &Orchestrator{cfg: cfg, shutdownDone: make(chan struct{})}
	o.voice = NewReconnector(ReconnectorConfig{
		Sink: cfg.Voice,
		OnReconnect: func(t Target) {
			slog.Info("session: voice connection restored", "channel_id", t.ChannelID)
		},
	})
	return o
}

// Start activates the configured capture path and remembers channel as the
// destination for text replies.
func (o *Orchestrator) Start(ctx context.Context, channel string) error {
	return o.StartMode(ctx, channel, o.cfg.Mode)
}

// StartMode is like [Orchestrator.Start] with an explicit capture path. A
// running path is stopped first; push-to-talk and ambient listening are
// never active together.
func (o *Orchestrator) StartMode(ctx context.Context, channel string, mode Mode) error {
	if o.shuttingDown.Load() {
		return ErrShutdown
	}
	o.StopListening()

	var starter interface{ Start(context.Context) error }
	switch mode {
	case ModePushToTalk:
		if o.cfg.PushToTalk == nil || !o.cfg.PushToTalk.Available() {
			return fmt.Errorf("session: push-to-talk: %w", capture.ErrUnavailable)
		}
		starter = o.cfg.PushToTalk
	case ModeAmbient:
		if o.cfg.Ambient == nil || !o.cfg.Ambient.Available() {
			return fmt.Errorf("session: ambient listener: %w", capture.ErrUnavailable)
		}
		starter = o.cfg.Ambient
	default:
		return fmt.Errorf("session: unknown mode %q", mode)
	}

	o.discardPending(mode)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := starter.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("session: start %s: %w", mode, err)
	}

	pumped := make(chan struct{})
	o.mu.Lock()
	o.channel = channel
	o.mode = mode
	o.cancel = cancel
	o.pumped = pumped
	o.mu.Unlock()

	go o.pump(runCtx, mode, pumped)
	slog.Info("session: listening started", "mode", mode, "channel", channel)
	return nil
}

// Listening reports whether a capture path is active and which.
func (o *Orchestrator) Listening() (Mode, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode, o.cancel != nil
}

// Channel returns the channel text replies are delivered to.
func (o *Orchestrator) Channel() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.channel
}

// SetChannel changes the channel text replies are delivered to.
func (o *Orchestrator) SetChannel(channel string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.channel = channel
}

// Stop deactivates capture, waits up to the stop timeout for the turn in
// progress and disconnects the remote voice sink. It is safe to call when
// nothing is running.
func (o *Orchestrator) Stop() {
	o.StopListening()
	o.Disconnect()
}

// StopListening deactivates capture but keeps the voice connection.
func (o *Orchestrator) StopListening() {
	o.mu.Lock()
	cancel, pumped, mode := o.cancel, o.pumped, o.mode
	o.cancel, o.pumped, o.mode = nil, nil, ""
	o.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	switch mode {
	case ModePushToTalk:
		o.cfg.PushToTalk.Stop()
	case ModeAmbient:
		o.cfg.Ambient.Stop()
	}
	select {
	case <-pumped:
	case <-time.After(o.cfg.StopTimeout):
		slog.Warn("session: turn still in flight after stop", "wait", o.cfg.StopTimeout)
	}
	slog.Info("session: listening stopped", "mode", mode)
}

// Shutdown stops the session, terminates the synthesis worker and releases
// audio devices. Only the first call does the work; later calls wait for it
// to finish and return nil.
func (o *Orchestrator) Shutdown() error {
	if !o.shuttingDown.CompareAndSwap(false, true) {
		<-o.shutdownDone
		return nil
	}
	defer close(o.shutdownDone)

	slog.Info("session: shutting down")
	o.Stop()
	o.voice.Stop()

	var errs []error
	if o.cfg.Speech != nil {
		if err := o.cfg.Speech.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session: close speech: %w", err))
		}
	}
	for _, c := range o.cfg.Closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session: release device: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Connect joins the remote voice channel. On failure the session continues
// text-only and false is returned.
func (o *Orchestrator) Connect(ctx context.Context, target Target) bool {
	if o.shuttingDown.Load() || o.cfg.Voice == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, defaultVoiceTimeout)
	defer cancel()
	if err := o.voice.Connect(ctx, target); err != nil {
		slog.Warn("session: voice connect failed, continuing text-only",
			"channel_id", target.ChannelID, "err", err)
		return false
	}
	if o.connected.CompareAndSwap(false, true) && o.cfg.Metrics != nil {
		o.cfg.Metrics.VoiceConnections.Add(ctx, 1)
	}
	o.voice.Monitor(context.WithoutCancel(ctx))
	slog.Info("session: voice connected", "channel_id", target.ChannelID)
	return true
}

// Disconnect leaves the remote voice channel. It is a no-op when not
// connected.
func (o *Orchestrator) Disconnect() {
	if o.cfg.Voice == nil {
		return
	}
	wasConnected := o.connected.Swap(false)
	if err := o.voice.Disconnect(); err != nil {
		slog.Warn("session: voice disconnect failed", "err", err)
	}
	if wasConnected {
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.VoiceConnections.Add(context.Background(), -1)
		}
		slog.Info("session: voice disconnected")
	}
}

// IsConnected reports whether the remote voice sink is connected.
func (o *Orchestrator) IsConnected() bool {
	return o.cfg.Voice != nil && o.cfg.Voice.IsConnected()
}

// VoiceTarget returns the voice channel the session keeps joined.
func (o *Orchestrator) VoiceTarget() Target { return o.voice.Target() }

// VoiceLost tells the session the platform dropped the voice connection; it
// reconnects in the background unless Disconnect was called.
func (o *Orchestrator) VoiceLost() { o.voice.NotifyDisconnect() }

// OnSpeaking pauses ambient listening while the assistant speaks. Register
// it as the speech manager's speaking listener.
func (o *Orchestrator) OnSpeaking(speaking bool) {
	if o.cfg.Ambient != nil {
		o.cfg.Ambient.SetPaused(speaking)
	}
}

// HandleText answers a typed chat message. It is recorded as a passive turn;
// a reply is sent to channel and spoken.
func (o *Orchestrator) HandleText(ctx context.Context, channel, speaker, text string) (string, bool) {
	if o.shuttingDown.Load() {
		return "", false
	}
	return o.respond(ctx, conversation.Input{Speaker: speaker, Text: text}, channel,
		speech.SourcePassive, func(_, reply string) string { return reply })
}

// discardPending drops capture output left over from an earlier run so a
// new run only answers what it captured itself.
func (o *Orchestrator) discardPending(mode Mode) {
	var events <-chan capture.Event
	var phrases <-chan capture.Phrase
	if mode == ModePushToTalk {
		events = o.cfg.PushToTalk.Events()
	} else {
		phrases = o.cfg.Ambient.Phrases()
	}
	for n := 0; ; n++ {
		select {
		case <-events:
		case <-phrases:
		default:
			if n > 0 {
				slog.Debug("session: discarded stale capture output", "mode", mode, "count", n)
			}
			return
		}
	}
}

// pump consumes capture events one turn at a time until ctx is done.
func (o *Orchestrator) pump(ctx context.Context, mode Mode, done chan struct{}) {
	defer close(done)
	var (
		events  <-chan capture.Event
		phrases <-chan capture.Phrase
	)
	if mode == ModePushToTalk {
		events = o.cfg.PushToTalk.Events()
	} else {
		phrases = o.cfg.Ambient.Phrases()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			o.handleEvent(ctx, ev)
		case p := <-phrases:
			o.handlePhrase(ctx, p)
		}
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, ev capture.Event) {
	switch ev.Kind {
	case capture.RecordingStarted:
		slog.Debug("session: recording started")
	case capture.RecordingStopped:
		switch {
		case ev.Recording != nil:
			o.recordOutcome(ctx, "accepted")
			o.handleRecording(ctx, ev.Recording)
		case ev.Err != nil:
			o.recordOutcome(ctx, recordingOutcome(ev.Err))
		default:
			o.recordOutcome(ctx, "too_short")
		}
	}
}

func recordingOutcome(err error) string {
	switch {
	case errors.Is(err, capture.ErrNoAudio):
		return "no_audio"
	case errors.Is(err, capture.ErrTooSmall):
		return "too_small"
	case errors.Is(err, capture.ErrStopped):
		return "stopped"
	default:
		return "error"
	}
}

func (o *Orchestrator) recordOutcome(ctx context.Context, outcome string) {
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordRecording(ctx, outcome)
	}
}

// handleRecording runs one push-to-talk turn.
func (o *Orchestrator) handleRecording(ctx context.Context, rec *capture.Recording) {
	if ctx.Err() != nil || o.cfg.Transcriber == nil {
		return
	}
	ctx, span := observe.StartSpan(ctx, "session.turn")
	defer span.End()
	start := time.Now()

	tr := o.cfg.Transcriber.TranscribeDetail(ctx, rec.WAV)
	if tr.Empty() {
		observe.Logger(ctx).Info("session: nothing recognised", "elapsed", rec.Elapsed)
		return
	}
	observe.Logger(ctx).Info("session: push-to-talk transcript", "text", tr.Text, "lang", tr.Language)

	in := conversation.Input{Speaker: o.cfg.Speaker, Raw: tr.Raw, Text: tr.Text, Force: true}
	if _, ok := o.respond(ctx, in, o.Channel(), speech.SourcePushToTalk, pushToTalkMessage); ok {
		o.recordTurn(ctx, start, ModePushToTalk)
	}
}

// handlePhrase runs one ambient turn. Ambient turns are not forced.
func (o *Orchestrator) handlePhrase(ctx context.Context, p capture.Phrase) {
	if ctx.Err() != nil {
		return
	}
	ctx, span := observe.StartSpan(ctx, "session.turn")
	defer span.End()
	start := time.Now()

	in := conversation.Input{Speaker: o.cfg.Speaker, Text: p.Text}
	if _, ok := o.respond(ctx, in, o.Channel(), speech.SourcePassive, ambientMessage); ok {
		o.recordTurn(ctx, start, ModeAmbient)
	}
}

func (o *Orchestrator) recordTurn(ctx context.Context, start time.Time, mode Mode) {
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.TurnDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("mode", string(mode))))
	}
}

func pushToTalkMessage(text, reply string) string {
	return fmt.Sprintf("🎙️ **Push-to-talk:** %s\n\n%s", text, reply)
}

func ambientMessage(text, reply string) string {
	return fmt.Sprintf("👂 **Heard:** %s\n\n%s", text, reply)
}

// respond routes a turn through the conversation and delivers a non-empty
// reply to text delivery and then speech. Neither delivery waits on the
// other.
func (o *Orchestrator) respond(ctx context.Context, in conversation.Input, channel string, src speech.Source, format func(text, reply string) string) (string, bool) {
	if o.cfg.Conversation == nil {
		return "", false
	}
	reply, ok := o.cfg.Conversation.Process(ctx, in)
	if !ok || reply == "" {
		return "", false
	}
	log := observe.Logger(ctx)
	if ctx.Err() != nil {
		log.Info("session: turn cancelled before delivery")
		return "", false
	}

	if o.cfg.Text != nil {
		msg := format(in.Text, reply)
		go func() {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultSendTimeout)
			defer cancel()
			if err := o.cfg.Text.Send(sendCtx, channel, msg); err != nil {
				log.Warn("session: text delivery failed", "channel", channel, "err", err)
			}
		}()
	}

	if o.cfg.Speech != nil && !o.shuttingDown.Load() {
		results := o.cfg.Speech.Enqueue(ctx, reply, src)
		go func() {
			if r := <-results; !r.Spoken {
				log.Warn("session: reply not spoken", "err", r.Err)
			}
		}()
	}
	return reply, true
}
