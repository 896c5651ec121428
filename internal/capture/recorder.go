// Package capture turns microphone input into speech payloads.
//
// A [Recorder] owns the input [audio.Source] and reads it in bounded chunks.
// A [Trigger] drives the recorder from push-to-talk key events and reports
// each finished capture window on a typed event channel. An [Ambient]
// listener records short phrases continuously as an alternative to
// push-to-talk.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/sri/pkg/audio"
)

// Sentinel errors.
var (
	// ErrUnavailable is returned when no input device is present.
	ErrUnavailable = errors.New("capture: audio input unavailable")

	// ErrNoAudio is returned when a recording window produced no chunks.
	ErrNoAudio = errors.New("capture: no audio captured")

	// ErrTooSmall is returned when the payload is below [MinPayloadBytes].
	ErrTooSmall = errors.New("capture: audio payload too small")

	// ErrBusy is returned when a recording is already in progress.
	ErrBusy = errors.New("capture: recorder busy")

	// ErrStopped explains a nil payload for a window that was open when the
	// trigger was stopped.
	ErrStopped = errors.New("capture: stopped while recording")
)

// MinPayloadBytes is the smallest PCM payload handed to transcription.
const MinPayloadBytes = 1000

// DefaultChunkDuration bounds a single chunk.
const DefaultChunkDuration = 2 * time.Second

// Recording is the result of one capture window.
type Recording struct {
	// Clip is the selected PCM payload.
	Clip audio.Clip

	// WAV is Clip wrapped in a RIFF/WAVE container.
	WAV []byte

	// Chunks is how many chunks were captured in total.
	Chunks int

	// Elapsed is the wall-clock length of the capture window.
	Elapsed time.Duration
}

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithChunkDuration sets the maximum chunk length. Values above
// [DefaultChunkDuration] are clamped.
func WithChunkDuration(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 && d <= DefaultChunkDuration {
			r.chunk = d
		}
	}
}

// Recorder reads an [audio.Source] in time-boxed chunks. Only one recording
// runs at a time.
type Recorder struct {
	src   audio.Source
	chunk time.Duration

	mu     sync.Mutex
	active bool
}

// NewRecorder creates a recorder over src. A nil src yields a recorder that
// reports [ErrUnavailable].
func NewRecorder(src audio.Source, opts ...RecorderOption) *Recorder {
	r := &Recorder{src: src, chunk: DefaultChunkDuration}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Available reports whether an input device is present.
func (r *Recorder) Available() bool {
	return r.src != nil
}

// Record captures audio until ctx is done. Cancelling ctx is the normal way
// to end a recording; the stop takes effect within one device frame.
//
// When several chunks were captured the largest one is returned as the
// payload.
func (r *Recorder) Record(ctx context.Context) (*Recording, error) {
	if r.src == nil {
		return nil, ErrUnavailable
	}
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return nil, ErrBusy
	}
	r.active = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.active = false
		r.mu.Unlock()
	}()

	if err := r.src.Start(); err != nil {
		return nil, fmt.Errorf("capture: start source: %w", errors.Join(ErrUnavailable, err))
	}
	defer func() {
		if err := r.src.Stop(); err != nil {
			slog.Warn("capture: stop source", "err", err)
		}
	}()

	format := r.src.Format()
	chunkBytes := format.BytesPerSecond() * int(r.chunk/time.Millisecond) / 1000
	if chunkBytes <= 0 {
		chunkBytes = 1
	}

	start := time.Now()
	var chunks [][]byte
	cur := make([]byte, 0, chunkBytes)
	for {
		frame, err := r.src.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("capture: read failed, finishing with captured audio", "err", err, "chunks", len(chunks))
			}
			break
		}
		cur = append(cur, frame...)
		if len(cur) >= chunkBytes {
			chunks = append(chunks, cur)
			cur = make([]byte, 0, chunkBytes)
		}
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}

	return buildRecording(chunks, format, time.Since(start))
}

func buildRecording(chunks [][]byte, format audio.Format, elapsed time.Duration) (*Recording, error) {
	if len(chunks) == 0 {
		return nil, ErrNoAudio
	}
	payload := largest(chunks)
	if len(payload) < MinPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooSmall, len(payload))
	}
	clip := audio.Clip{PCM: payload, Format: format}
	wav, err := audio.EncodeWAV(clip)
	if err != nil {
		return nil, fmt.Errorf("capture: encode wav: %w", err)
	}
	return &Recording{Clip: clip, WAV: wav, Chunks: len(chunks), Elapsed: elapsed}, nil
}

// largest returns the longest chunk; ties keep the earliest.
func largest(chunks [][]byte) []byte {
	best := chunks[0]
	for _, c := range chunks[1:] {
		if len(c) > len(best) {
			best = c
		}
	}
	return best
}

// Close releases the input device.
func (r *Recorder) Close() error {
	if r.src == nil {
		return nil
	}
	return r.src.Close()
}
