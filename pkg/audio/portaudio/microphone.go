// Package portaudio provides an [audio.Source] backed by the system's default
// input device through PortAudio.
//
// The PortAudio C library must be installed; building this package requires
// cgo.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/sri/pkg/audio"
)

const (
	defaultSampleRate   = 16000
	defaultFrameSamples = 1024
)

var _ audio.Source = (*Microphone)(nil)

// Option is a functional option for [Open].
type Option func(*Microphone)

// WithSampleRate sets the capture sample rate in Hz. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(m *Microphone) {
		m.format.SampleRate = rate
	}
}

// WithFrameSamples sets the number of samples delivered per Read. Smaller
// frames make the recorder react faster to a stop request. Defaults to 1024
// (64 ms at 16 kHz).
func WithFrameSamples(n int) Option {
	return func(m *Microphone) {
		m.frameSamples = n
	}
}

// Microphone captures mono 16-bit PCM from the default input device.
type Microphone struct {
	mu           sync.Mutex
	format       audio.Format
	frameSamples int
	buf          []int16
	stream       *pa.Stream
	closed       bool
}

// Open initialises PortAudio and verifies that a default input device exists.
// It returns an error wrapping [audio.ErrDeviceUnavailable] when none does.
func Open(opts ...Option) (*Microphone, error) {
	m := &Microphone{
		format:       audio.Format{SampleRate: defaultSampleRate, Channels: 1},
		frameSamples: defaultFrameSamples,
	}
	for _, o := range opts {
		o(m)
	}
	if m.format.SampleRate <= 0 || m.frameSamples <= 0 {
		return nil, errors.New("portaudio: sample rate and frame size must be positive")
	}

	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	dev, err := pa.DefaultInputDevice()
	if err != nil || dev == nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: no default input device: %w", audio.ErrDeviceUnavailable)
	}
	slog.Debug("portaudio: input device", "name", dev.Name, "format", m.format.String())
	m.buf = make([]int16, m.frameSamples)
	return m, nil
}

// Format implements [audio.Source].
func (m *Microphone) Format() audio.Format {
	return m.format
}

// Start implements [audio.Source].
func (m *Microphone) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("portaudio: start: %w", audio.ErrDeviceUnavailable)
	}
	if m.stream != nil {
		return nil
	}
	stream, err := pa.OpenDefaultStream(m.format.Channels, 0, float64(m.format.SampleRate), len(m.buf), m.buf)
	if err != nil {
		return fmt.Errorf("portaudio: open stream: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("portaudio: start stream: %w", err)
	}
	m.stream = stream
	return nil
}

// Read implements [audio.Source]. Each call blocks for one frame.
func (m *Microphone) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil, errors.New("portaudio: read: stream not started")
	}
	if err := m.stream.Read(); err != nil {
		if !errors.Is(err, pa.InputOverflowed) {
			return nil, fmt.Errorf("portaudio: read: %w", err)
		}
		slog.Debug("portaudio: input overflowed")
	}
	return audio.Bytes(m.buf), nil
}

// Stop implements [audio.Source].
func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked()
}

func (m *Microphone) stopLocked() error {
	if m.stream == nil {
		return nil
	}
	stream := m.stream
	m.stream = nil
	errStop := stream.Stop()
	errClose := stream.Close()
	if err := errors.Join(errStop, errClose); err != nil {
		return fmt.Errorf("portaudio: stop: %w", err)
	}
	return nil
}

// Close implements [audio.Source]. It stops any open stream and terminates
// PortAudio.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	errStop := m.stopLocked()
	return errors.Join(errStop, pa.Terminate())
}
