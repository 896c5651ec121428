package capture

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/sri/pkg/audio"
)

// Ambient listener defaults.
const (
	DefaultPhraseDuration  = 2 * time.Second
	DefaultDuplicateWindow = 3 * time.Second
	DefaultSilenceRMS      = 300.0
	pausePoll              = 100 * time.Millisecond
)

// Transcriber turns a WAV payload into text. An empty string means nothing
// was recognised.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) string
}

// Phrase is one recognised utterance from the ambient listener.
type Phrase struct {
	Text string
	At   time.Time
}

// AmbientOption configures an [Ambient] listener.
type AmbientOption func(*Ambient)

// WithPhraseDuration sets the length of each listening window.
func WithPhraseDuration(d time.Duration) AmbientOption {
	return func(a *Ambient) {
		if d > 0 && d <= DefaultChunkDuration {
			a.phrase = d
		}
	}
}

// WithDuplicateWindow sets how long an identical phrase is suppressed.
func WithDuplicateWindow(d time.Duration) AmbientOption {
	return func(a *Ambient) { a.dupWindow = d }
}

// WithSilenceRMS sets the RMS level below which a window is not transcribed.
// Zero disables the check.
func WithSilenceRMS(level float64) AmbientOption {
	return func(a *Ambient) { a.silence = level }
}

// WithAmbientClock overrides the time source used for duplicate suppression.
func WithAmbientClock(now func() time.Time) AmbientOption {
	return func(a *Ambient) { a.now = now }
}

// Ambient records short phrases continuously and reports recognised text.
// It idles while paused, which the session uses while the assistant speaks
// so its own voice is not picked up.
type Ambient struct {
	rec       *Recorder
	stt       Transcriber
	phrase    time.Duration
	dupWindow time.Duration
	silence   float64
	now       func() time.Time

	paused  atomic.Bool
	phrases chan Phrase

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopped  chan struct{}
	lastText string
	lastAt   time.Time
}

// NewAmbient creates an ambient listener recording through rec.
func NewAmbient(rec *Recorder, stt Transcriber, opts ...AmbientOption) *Ambient {
	a := &Ambient{
		rec:       rec,
		stt:       stt,
		phrase:    DefaultPhraseDuration,
		dupWindow: DefaultDuplicateWindow,
		silence:   DefaultSilenceRMS,
		now:       time.Now,
		phrases:   make(chan Phrase, 16),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Available reports whether an input device is present.
func (a *Ambient) Available() bool {
	return a.rec != nil && a.rec.Available() && a.stt != nil
}

// Phrases returns the channel of recognised phrases. It is never closed.
func (a *Ambient) Phrases() <-chan Phrase {
	return a.phrases
}

// SetPaused pauses or resumes listening. A window already in progress is
// finished but its result is dropped.
func (a *Ambient) SetPaused(paused bool) {
	a.paused.Store(paused)
}

// Paused reports whether listening is paused.
func (a *Ambient) Paused() bool {
	return a.paused.Load()
}

// Start begins listening in the background.
func (a *Ambient) Start(ctx context.Context) error {
	if !a.Available() {
		return ErrUnavailable
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.stopped = make(chan struct{})
	go a.run(ctx, a.stopped)
	return nil
}

// Running reports whether the listener is active.
func (a *Ambient) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancel != nil
}

// Stop ends listening and waits up to two seconds for the current window.
func (a *Ambient) Stop() {
	a.mu.Lock()
	cancel, stopped := a.cancel, a.stopped
	a.cancel, a.stopped = nil, nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(stopWait):
		slog.Warn("capture: ambient listener did not stop in time", "wait", stopWait)
	}
}

func (a *Ambient) run(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	for ctx.Err() == nil {
		if a.paused.Load() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pausePoll):
			}
			continue
		}
		a.listenOnce(ctx)
	}
}

func (a *Ambient) listenOnce(ctx context.Context) {
	winCtx, cancel := context.WithTimeout(ctx, a.phrase)
	rec, err := a.rec.Record(winCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		if !errors.Is(err, ErrTooSmall) && !errors.Is(err, ErrNoAudio) {
			slog.Warn("capture: ambient recording failed", "err", err)
			// Back off so a broken device does not spin.
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		return
	}
	if a.paused.Load() {
		return
	}
	if a.silence > 0 && rms(rec.Clip) < a.silence {
		return
	}

	text := strings.TrimSpace(a.stt.Transcribe(ctx, rec.WAV))
	if text == "" || a.paused.Load() || ctx.Err() != nil {
		return
	}
	if a.duplicate(text) {
		slog.Debug("capture: duplicate phrase suppressed", "text", text)
		return
	}

	select {
	case a.phrases <- Phrase{Text: text, At: a.now()}:
	default:
		slog.Warn("capture: phrase channel full, dropping phrase")
	}
}

// duplicate reports whether text repeats the last phrase within the
// suppression window, and records it otherwise.
func (a *Ambient) duplicate(text string) bool {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	if strings.EqualFold(text, a.lastText) && now.Sub(a.lastAt) < a.dupWindow {
		return true
	}
	a.lastText, a.lastAt = text, now
	return false
}

// rms returns the root mean square of 16-bit PCM samples.
func rms(clip audio.Clip) float64 {
	samples := audio.Int16s(clip.PCM)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
