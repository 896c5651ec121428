// Package audio defines the audio primitives shared by Sri's capture and
// playback paths.
//
// The three abstractions are:
//
//   - [Clip]: a self-contained block of PCM audio plus its [Format].
//   - [Source]: an exclusively owned input device (microphone) that is read
//     in short frames while a recording window is open.
//   - [Sink]: a place synthesized speech is rendered to (local speaker or a
//     remote voice channel).
//
// All PCM handled by this package is signed 16-bit little-endian, interleaved
// when there is more than one channel.
//
// Implementations live in sub-packages (audio/portaudio, audio/speaker,
// audio/discord). This package lives under pkg/ because those adapters, and
// any third-party device, implement [Source] and [Sink].
package audio

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDeviceUnavailable is returned when an audio device cannot be opened.
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// Format describes the sample rate and channel count of 16-bit PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM byte rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// Clip is a complete, contiguous block of PCM audio.
type Clip struct {
	PCM    []byte
	Format Format
}

// Empty reports whether the clip carries no samples.
func (c Clip) Empty() bool {
	return len(c.PCM) < 2
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	bps := c.Format.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(len(c.PCM)) * int64(time.Second) / int64(bps))
}

// Source is an audio input device. Exactly one component owns a Source and
// reads from it; Sources are not safe for concurrent readers.
//
// The expected call sequence is Start, any number of Read calls, Stop, and
// eventually Close once the device is no longer needed. Start may be called
// again after Stop.
type Source interface {
	// Format returns the PCM format that Read delivers.
	Format() Format

	// Start opens the capture stream. It returns [ErrDeviceUnavailable]
	// (possibly wrapped) when no input device can be opened.
	Start() error

	// Read blocks until the next frame of PCM is available and returns it.
	// A frame is short (well under a second) so callers can poll a
	// liveness flag between reads. Read returns ctx.Err() when ctx is
	// cancelled.
	Read(ctx context.Context) ([]byte, error)

	// Stop closes the capture stream opened by Start.
	Stop() error

	// Close releases the device. It is safe to call more than once.
	Close() error
}

// Sink renders audio. Implementations must be safe for concurrent use, but
// callers are expected to serialise Play calls so utterances never overlap.
type Sink interface {
	// Play renders clip, converting it to the sink's native format if
	// needed. It blocks until the clip has been rendered or handed off
	// (see [Detached]) or ctx is cancelled.
	Play(ctx context.Context, clip Clip) error
}

// Detached is implemented by sinks whose Play returns once the audio has been
// handed off, before it has finished rendering. Callers that need to know
// when speech ends must estimate it for such sinks.
type Detached interface {
	Detached() bool
}

// IsDetached reports whether s hands audio off without waiting for playback
// to finish.
func IsDetached(s Sink) bool {
	d, ok := s.(Detached)
	return ok && d.Detached()
}
