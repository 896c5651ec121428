package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/sri/pkg/keyboard"
)

// Default capture window bounds.
const (
	DefaultMinDuration = 500 * time.Millisecond
	DefaultMaxDuration = 30 * time.Second
)

// stopWait bounds how long Stop waits for an in-flight recording.
const stopWait = 2 * time.Second

// State is the capture state of a [Trigger].
type State int32

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	}
	return "unknown"
}

// EventKind distinguishes [Event] values.
type EventKind int

const (
	// RecordingStarted is emitted when a capture window opens.
	RecordingStarted EventKind = iota + 1

	// RecordingStopped is emitted when a capture window closes.
	RecordingStopped
)

// Event reports a trigger transition.
type Event struct {
	Kind EventKind

	// Recording is the payload for a RecordingStopped event. It is nil when
	// the window was shorter than the minimum or produced no usable audio.
	Recording *Recording

	// Elapsed is how long the window was open (RecordingStopped only).
	Elapsed time.Duration

	// Err explains a nil Recording when the recorder failed.
	Err error
}

// KeySource delivers push-to-talk key events. [keyboard.Hotkey] implements it.
type KeySource interface {
	Events() <-chan keyboard.Event
}

// TriggerOption configures a [Trigger].
type TriggerOption func(*Trigger)

// WithMinDuration sets the shortest window that is handed on.
func WithMinDuration(d time.Duration) TriggerOption {
	return func(t *Trigger) {
		if d >= 0 {
			t.minDur = d
		}
	}
}

// WithMaxDuration sets the hard ceiling after which a window is finalized
// even while the key is still held.
func WithMaxDuration(d time.Duration) TriggerOption {
	return func(t *Trigger) {
		if d > 0 {
			t.maxDur = d
		}
	}
}

// WithStateListener registers fn to be called with true when recording
// starts and false when it stops.
func WithStateListener(fn func(recording bool)) TriggerOption {
	return func(t *Trigger) { t.listener = fn }
}

// WithClock overrides the time source used to measure elapsed time.
func WithClock(now func() time.Time) TriggerOption {
	return func(t *Trigger) { t.now = now }
}

// Trigger is the push-to-talk state machine. Key-down opens a capture window,
// key-up closes it, and each closed window is reported as a RecordingStopped
// [Event]. Key events are ignored while a window is open or finalizing.
type Trigger struct {
	rec      *Recorder
	keys     KeySource
	minDur   time.Duration
	maxDur   time.Duration
	listener func(bool)
	now      func() time.Time

	state  atomic.Int32
	events chan Event

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewTrigger creates a trigger that records through rec when keys reports a
// press.
func NewTrigger(rec *Recorder, keys KeySource, opts ...TriggerOption) *Trigger {
	t := &Trigger{
		rec:    rec,
		keys:   keys,
		minDur: DefaultMinDuration,
		maxDur: DefaultMaxDuration,
		now:    time.Now,
		events: make(chan Event, 16),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Available reports whether an input device is present.
func (t *Trigger) Available() bool {
	return t.rec != nil && t.rec.Available() && t.keys != nil
}

// State returns the current capture state.
func (t *Trigger) State() State {
	return State(t.state.Load())
}

// Events returns the event channel. It is never closed.
func (t *Trigger) Events() <-chan Event {
	return t.events
}

// Start begins processing key events. It returns [ErrUnavailable] without
// retrying when no input device is present. Calling Start on a running
// trigger is a no-op.
func (t *Trigger) Start(ctx context.Context) error {
	if !t.Available() {
		return ErrUnavailable
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.stopped = make(chan struct{})
	go t.run(ctx, t.stopped)
	return nil
}

// Running reports whether Start has been called without a matching Stop.
func (t *Trigger) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

// Stop ends key processing. An open window is closed and its audio dropped;
// the RecordingStopped event carries [ErrStopped]. Stop waits up to two
// seconds for the recording to finish.
func (t *Trigger) Stop() {
	t.mu.Lock()
	cancel, stopped := t.cancel, t.stopped
	t.cancel, t.stopped = nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(stopWait):
		slog.Warn("capture: trigger did not stop in time", "wait", stopWait)
	}
}

type recordResult struct {
	rec *Recording
	err error
}

// window is an open capture window.
type window struct {
	start  time.Time
	cancel context.CancelFunc
	result chan recordResult
	limit  *time.Timer
}

func (t *Trigger) run(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	keys := t.keys.Events()

	var w *window
	for {
		var limit <-chan time.Time
		if w != nil {
			limit = w.limit.C
		}

		select {
		case <-ctx.Done():
			if w != nil {
				t.finalize(w, "stopped")
			}
			return

		case ev := <-keys:
			switch {
			case ev.Down && w == nil:
				w = t.open(ctx)
			case !ev.Down && w != nil:
				t.finalize(w, "released")
				w = nil
				drain(keys)
			}

		case <-limit:
			slog.Info("capture: maximum duration reached", "max", t.maxDur)
			t.finalize(w, "ceiling")
			w = nil
			drain(keys)
		}
	}
}

func (t *Trigger) open(ctx context.Context) *window {
	recCtx, cancel := context.WithCancel(ctx)
	w := &window{
		start:  t.now(),
		cancel: cancel,
		result: make(chan recordResult, 1),
		limit:  time.NewTimer(t.maxDur),
	}
	go func() {
		rec, err := t.rec.Record(recCtx)
		w.result <- recordResult{rec: rec, err: err}
	}()

	t.state.Store(int32(StateRecording))
	t.notify(true)
	t.emit(Event{Kind: RecordingStarted})
	slog.Debug("capture: recording started")
	return w
}

func (t *Trigger) finalize(w *window, reason string) {
	elapsed := t.now().Sub(w.start)
	w.limit.Stop()
	w.cancel()
	t.state.Store(int32(StateFinalizing))

	res := <-w.result

	ev := Event{Kind: RecordingStopped, Elapsed: elapsed}
	switch {
	case reason == "stopped":
		ev.Err = ErrStopped
		slog.Info("capture: recording dropped on stop", "elapsed", elapsed)
	case elapsed < t.minDur:
		slog.Info("capture: recording too short, ignoring", "elapsed", elapsed, "min", t.minDur)
	case res.err != nil:
		ev.Err = res.err
		lvl := slog.LevelWarn
		if errors.Is(res.err, ErrTooSmall) || errors.Is(res.err, ErrNoAudio) {
			lvl = slog.LevelInfo
		}
		slog.Log(context.Background(), lvl, "capture: recording discarded", "reason", reason, "err", res.err)
	default:
		ev.Recording = res.rec
		slog.Info("capture: recording finished",
			"reason", reason,
			"elapsed", elapsed,
			"chunks", res.rec.Chunks,
			"bytes", len(res.rec.Clip.PCM),
		)
	}

	t.state.Store(int32(StateIdle))
	t.notify(false)
	t.emit(ev)
}

func (t *Trigger) notify(recording bool) {
	if t.listener != nil {
		t.listener(recording)
	}
}

// emit never blocks the key loop; a full channel drops the event.
func (t *Trigger) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		slog.Warn("capture: event channel full, dropping event", "kind", ev.Kind)
	}
}

// drain discards key events that queued up while finalizing.
func drain(keys <-chan keyboard.Event) {
	for {
		select {
		case <-keys:
		default:
			return
		}
	}
}
