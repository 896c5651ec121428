// Package speech turns reply text into played audio.
//
// A [Manager] runs one worker goroutine that drains a FIFO queue of
// requests, so two utterances never overlap. Each request is optimized,
// checked against the daily [Quota] and synthesized by the primary provider.
// When the quota is spent or the primary fails the request falls through to
// the fallback provider, whose outcome is final. Audio goes to whichever sink
// the [SinkSelector] returns at playback time.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/sri/internal/observe"
	"github.com/MrWong99/sri/internal/resilience"
	"github.com/MrWong99/sri/pkg/audio"
	"github.com/MrWong99/sri/pkg/provider/tts"
	"go.opentelemetry.io/otel/metric"
)

// Defaults for the speaking-time estimate used with detached sinks.
const (
	DefaultMinSpeakingTime = time.Second
	DefaultCharsPerSecond  = 12.0
	DefaultSpeakingBuffer  = 500 * time.Millisecond
	DefaultQueueSize       = 16
)

// ErrQueueFull is reported when a request arrives while the queue is full.
var ErrQueueFull = errors.New("speech: queue full")

// ErrClosed is reported for requests made after [Manager.Close].
var ErrClosed = errors.New("speech: manager closed")

// ErrEmptyText is reported when nothing is left to say after optimization.
var ErrEmptyText = errors.New("speech: empty text")

// Source tells where a request came from.
type Source int

const (
	// SourcePassive is a reply to an overheard or typed message.
	SourcePassive Source = iota
	// SourcePushToTalk is a reply to a push-to-talk turn.
	SourcePushToTalk
)

// String implements fmt.Stringer.
func (s Source) String() string {
	if s == SourcePushToTalk {
		return "push_to_talk"
	}
	return "passive"
}

// SinkSelector returns the sink to play the next utterance on, or nil when
// there is none.
type SinkSelector func() audio.Sink

// Result describes how one request was rendered.
type Result struct {
	// Spoken is true when audio was produced and played.
	Spoken bool

	// Text is the optimized text that was synthesized.
	Text string

	// Provider names the provider that produced the audio.
	Provider string

	// Fallback is true when the fallback provider produced the audio.
	Fallback bool

	// Err is the reason nothing was spoken.
	Err error
}

type request struct {
	ctx    context.Context
	text   string
	source Source
	done   chan Result
}

// Option is a functional option for configuring a [Manager].
type Option func(*Manager)

// WithQuota sets the usage quota. Default: [DefaultLimits] with a wall clock.
func WithQuota(q *Quota) Option {
	return func(m *Manager) { m.quota = q }
}

// WithProviderNames sets the names used in logs and metrics.
func WithProviderNames(primary, fallback string) Option {
	return func(m *Manager) {
		m.primaryName = primary
		m.fallbackName = fallback
	}
}

// WithSpeakingListener registers fn to be told when speaking starts and ends.
func WithSpeakingListener(fn func(speaking bool)) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, fn) }
}

// WithSpeakingEstimate sets how long the speaking flag is held for sinks that
// cannot report playback completion: max(min, chars/charsPerSecond) + buffer.
func WithSpeakingEstimate(minTime time.Duration, charsPerSecond float64, buffer time.Duration) Option {
	return func(m *Manager) {
		m.minSpeaking = minTime
		if charsPerSecond > 0 {
			m.charsPerSecond = charsPerSecond
		}
		m.buffer = buffer
	}
}

// WithQueueSize bounds the number of waiting requests.
func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// WithMetrics records TTS latency, billed characters and fallbacks.
func WithMetrics(mt *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// Manager is safe for concurrent use.
type Manager struct {
	primary      tts.Provider
	fallback     tts.Provider
	primaryName  string
	fallbackName string
	selectSink   SinkSelector
	quota        *Quota
	metrics      *observe.Metrics
	listeners    []func(bool)

	minSpeaking    time.Duration
	charsPerSecond float64
	buffer         time.Duration
	queueSize      int

	queue    chan request
	speaking atomic.Bool
	closed   atomic.Bool

	mu     sync.RWMutex // guards sends on queue against Close
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewManager starts a [Manager]. primary or fallback may be nil, but not
// both for the manager to be available. Audio is played on the sink
// returned by selectSink.
func NewManager(primary, fallback tts.Provider, selectSink SinkSelector, opts ...Option) *Manager {
	m := &Manager{
		primary:        primary,
		fallback:       fallback,
		primaryName:    "primary",
		fallbackName:   "fallback",
		selectSink:     selectSink,
		minSpeaking:    DefaultMinSpeakingTime,
		charsPerSecond: DefaultCharsPerSecond,
		buffer:         DefaultSpeakingBuffer,
		queueSize:      DefaultQueueSize,
		done:           make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.quota == nil {
		m.quota = NewQuota(DefaultLimits(), nil)
	}
	if m.selectSink == nil {
		m.selectSink = func() audio.Sink { return nil }
	}
	m.queue = make(chan request, m.queueSize)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.run(ctx)
	return m
}

// Speak queues text and waits until it has been played or dropped. It
// reports whether audio was produced and played. Cancelling ctx stops the
// wait, not the request.
func (m *Manager) Speak(ctx context.Context, text string) bool {
	return m.SpeakFrom(ctx, text, SourcePassive)
}

// SpeakFrom is like [Manager.Speak] and tags the request with src.
func (m *Manager) SpeakFrom(ctx context.Context, text string, src Source) bool {
	ch := m.Enqueue(ctx, text, src)
	select {
	case res := <-ch:
		return res.Spoken
	case <-ctx.Done():
		return false
	}
}

// Enqueue queues text without waiting. The returned channel receives exactly
// one [Result]. Requests are rendered in the order Enqueue is called.
func (m *Manager) Enqueue(ctx context.Context, text string, src Source) <-chan Result {
	done := make(chan Result, 1)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed.Load() {
		done <- Result{Err: ErrClosed}
		return done
	}
	select {
	case m.queue <- request{ctx: context.WithoutCancel(ctx), text: text, source: src, done: done}:
	default:
		slog.Warn("speech: dropping request, queue full", "source", src, "queued", len(m.queue))
		done <- Result{Err: ErrQueueFull}
	}
	return done
}

// IsSpeaking reports whether an utterance is being played.
func (m *Manager) IsSpeaking() bool { return m.speaking.Load() }

// IsAvailable reports whether the manager can produce speech: it is not
// closed and either the fallback is configured or the primary is configured
// with quota left.
func (m *Manager) IsAvailable() bool {
	if m.closed.Load() {
		return false
	}
	if m.fallback != nil {
		return true
	}
	return m.primary != nil && m.quota.Usage().Remaining > 0
}

// UsageInfo returns the primary provider's usage today. Calling it does not
// change any counter other than the daily rollover.
func (m *Manager) UsageInfo() Usage { return m.quota.Usage() }

// SetLimits replaces the usage limits.
func (m *Manager) SetLimits(l Limits) { m.quota.SetLimits(l) }

// Close cancels the request in progress, answers queued requests with
// [ErrClosed] and waits for the worker to exit. It is safe to call more than
// once.
func (m *Manager) Close() error {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed.Store(true)
		m.mu.Unlock()
		m.cancel()
	})
	<-m.done
	return nil
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.drain()
			return
		case req := <-m.queue:
			req.done <- m.render(ctx, req)
		}
	}
}

// drain answers every queued request with ErrClosed.
func (m *Manager) drain() {
	for {
		select {
		case req := <-m.queue:
			req.done <- Result{Err: ErrClosed}
		default:
			return
		}
	}
}

// render runs one request through optimize, quota, synthesis and playback.
func (m *Manager) render(workerCtx context.Context, req request) Result {
	ctx, cancel := context.WithCancel(req.ctx)
	defer cancel()
	stop := context.AfterFunc(workerCtx, cancel)
	defer stop()

	log := observe.Logger(ctx).With("source", req.source)
	text := Optimize(req.text, m.quota.Limits().PerRequest)
	if text == "" {
		return Result{Err: ErrEmptyText}
	}
	if n := utf8.RuneCountInString(req.text); n != utf8.RuneCountInString(text) {
		log.Debug("speech: text optimized", "from", n, "to", utf8.RuneCountInString(text))
	}

	clip, name, fallback, err := m.synthesize(ctx, log, text)
	if err != nil {
		log.Error("speech: synthesis failed", "err", err)
		return Result{Text: text, Err: err}
	}

	if err := m.play(ctx, text, clip); err != nil {
		log.Warn("speech: playback failed", "provider", name, "err", err)
		return Result{Text: text, Provider: name, Fallback: fallback, Err: err}
	}
	return Result{Spoken: true, Text: text, Provider: name, Fallback: fallback}
}

// synthesize tries the primary provider within quota and falls back to the
// fallback provider. Characters are billed only on primary success.
func (m *Manager) synthesize(ctx context.Context, log *slog.Logger, text string) (tts.Audio, string, bool, error) {
	n := utf8.RuneCountInString(text)
	reason := ""

	switch {
	case m.primary == nil:
		reason = "unconfigured"
	case !m.quota.Allow(n):
		reason = "quota"
		u := m.quota.Usage()
		log.Info("speech: daily limit reached, skipping primary",
			"provider", m.primaryName, "used", u.Used, "limit", u.Limit, "chars", n)
	default:
		clip, err := m.call(ctx, m.primary, m.primaryName, text)
		if err == nil {
			m.quota.Add(n)
			if m.metrics != nil {
				m.metrics.SpeechCharacters.Add(ctx, int64(n),
					metric.WithAttributes(observe.Attr("provider", m.primaryName)))
			}
			u := m.quota.Usage()
			log.Info("speech: synthesized", "provider", m.primaryName, "chars", n,
				"cost", float64(n)*m.quota.Limits().CostPerChar, "used_today", u.Used)
			return clip, m.primaryName, false, nil
		}
		reason = fallbackReason(err)
		log.Warn("speech: primary failed", "provider", m.primaryName,
			"status", tts.StatusCode(err), "reason", reason, "err", err)
	}

	if m.fallback == nil {
		return tts.Audio{}, "", false, fmt.Errorf("speech: no fallback after %s", reason)
	}
	if m.metrics != nil && reason != "unconfigured" {
		m.metrics.RecordSpeechFallback(ctx, reason)
	}
	clip, err := m.call(ctx, m.fallback, m.fallbackName, text)
	if err != nil {
		return tts.Audio{}, "", true, fmt.Errorf("speech: fallback %s: %w", m.fallbackName, err)
	}
	return clip, m.fallbackName, true, nil
}

func (m *Manager) call(ctx context.Context, p tts.Provider, name, text string) (tts.Audio, error) {
	start := time.Now()
	clip, err := p.Synthesize(ctx, text)
	if err == nil && clip.Empty() {
		err = errors.New("empty audio")
	}
	if m.metrics != nil {
		m.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("provider", name)))
		m.metrics.RecordProviderRequest(ctx, name, observe.KindTTS, err)
	}
	return clip, err
}

// fallbackReason classifies a primary failure for logs and metrics.
func fallbackReason(err error) string {
	switch {
	case errors.Is(err, tts.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	default:
		return "error"
	}
}

// play renders clip on the selected sink with the speaking flag raised.
func (m *Manager) play(ctx context.Context, text string, clip tts.Audio) error {
	sink := m.selectSink()
	if sink == nil {
		return errors.New("speech: no output sink")
	}

	m.setSpeaking(true)
	defer m.setSpeaking(false)

	start := time.Now()
	if err := sink.Play(ctx, clip); err != nil {
		return fmt.Errorf("speech: play: %w", err)
	}
	// A detached sink returns once the audio is queued; hold the speaking
	// flag for whatever part of the estimate Play did not already cover.
	if remaining := m.estimate(text) - time.Since(start); audio.IsDetached(sink) && remaining > 0 {
		t := time.NewTimer(remaining)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}
	return nil
}

// estimate is the assumed playback time of text on a detached sink.
func (m *Manager) estimate(text string) time.Duration {
	chars := float64(utf8.RuneCountInString(text))
	d := time.Duration(chars / m.charsPerSecond * float64(time.Second))
	return max(d, m.minSpeaking) + m.buffer
}

func (m *Manager) setSpeaking(v bool) {
	m.speaking.Store(v)
	for _, fn := range m.listeners {
		fn(v)
	}
}
