// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Sink] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control behaviour.
//
// Typical usage:
//
//	src := &mock.Source{
//	    Frame:      make([]byte, 3200),
//	    FrameDelay: 10 * time.Millisecond,
//	}
//	sink := &mock.Sink{PlayDelay: 50 * time.Millisecond}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/sri/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. Every Read returns a copy
// of Frame after FrameDelay has elapsed.
type Source struct {
	mu sync.Mutex

	// FormatResult is returned by Format. Defaults to 16 kHz mono.
	FormatResult audio.Format

	// Frame is the PCM returned by each Read. Defaults to 3200 bytes of a
	// non-zero pattern (100 ms at 16 kHz mono).
	Frame []byte

	// FrameDelay is how long each Read blocks before returning.
	FrameDelay time.Duration

	// StartErr is returned by Start.
	StartErr error

	// ReadErr, when non-nil, is returned by Read instead of a frame.
	ReadErr error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountRead records how many times Read was called.
	CallCountRead int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ audio.Source = (*Source)(nil)

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FormatResult == (audio.Format{}) {
		return audio.Format{SampleRate: 16000, Channels: 1}
	}
	return s.FormatResult
}

// Start implements [audio.Source]. Returns StartErr.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	return s.StartErr
}

// Read implements [audio.Source].
func (s *Source) Read(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	s.CallCountRead++
	delay, readErr := s.FrameDelay, s.ReadErr
	frame := s.Frame
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}
	if readErr != nil {
		return nil, readErr
	}
	if frame == nil {
		frame = make([]byte, 3200)
		for i := range frame {
			frame[i] = byte(i % 251)
		}
	}
	out := make([]byte, len(frame))
	copy(out, frame)
	return out, nil
}

// Stop implements [audio.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	return nil
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// Reads returns the number of Read calls so far.
func (s *Source) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountRead
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// PlayCall records a single [Sink.Play] invocation.
type PlayCall struct {
	Clip  audio.Clip
	Start time.Time
	End   time.Time
}

// Sink is a mock implementation of [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// PlayDelay is how long Play blocks, simulating rendering time.
	PlayDelay time.Duration

	// PlayErr is returned by Play.
	PlayErr error

	// DetachedResult is returned by Detached.
	DetachedResult bool

	// PlayCalls records all Play invocations in completion order.
	PlayCalls []PlayCall

	// MaxConcurrent is the highest number of Play calls observed running at
	// the same time.
	MaxConcurrent int

	active int
}

var (
	_ audio.Sink     = (*Sink)(nil)
	_ audio.Detached = (*Sink)(nil)
)

// Play implements [audio.Sink].
func (s *Sink) Play(ctx context.Context, clip audio.Clip) error {
	start := time.Now()
	s.mu.Lock()
	s.active++
	if s.active > s.MaxConcurrent {
		s.MaxConcurrent = s.active
	}
	delay := s.PlayDelay
	s.mu.Unlock()

	var err error
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			err = ctx.Err()
		}
		t.Stop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
	s.PlayCalls = append(s.PlayCalls, PlayCall{Clip: clip, Start: start, End: time.Now()})
	if err != nil {
		return err
	}
	return s.PlayErr
}

// Detached implements [audio.Detached].
func (s *Sink) Detached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DetachedResult
}

// Calls returns a snapshot of PlayCalls.
func (s *Sink) Calls() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlayCall, len(s.PlayCalls))
	copy(out, s.PlayCalls)
	return out
}

// Concurrency returns MaxConcurrent.
func (s *Sink) Concurrency() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MaxConcurrent
}
