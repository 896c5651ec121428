// Package speaker provides an [audio.Sink] that plays clips on the local
// default output device using github.com/faiface/beep.
//
// The underlying beep speaker is process-global, so only one [Speaker]
// should exist per process.
package speaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/faiface/beep"
	bspeaker "github.com/faiface/beep/speaker"

	"github.com/MrWong99/sri/pkg/audio"
)

const defaultSampleRate = 44100

var _ audio.Sink = (*Speaker)(nil)

// Speaker plays clips on the local output device. Play blocks until the clip
// has finished playing.
type Speaker struct {
	mu        sync.Mutex
	conv      audio.Converter
	closeOnce sync.Once
}

// New initialises the output device at sampleRate (0 selects 44.1 kHz) with
// a buffer of bufferDur (0 selects 100 ms). It returns an error wrapping
// [audio.ErrDeviceUnavailable] when the device cannot be opened.
func New(sampleRate int, bufferDur time.Duration) (*Speaker, error) {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	if bufferDur <= 0 {
		bufferDur = time.Second / 10
	}
	sr := beep.SampleRate(sampleRate)
	if err := bspeaker.Init(sr, sr.N(bufferDur)); err != nil {
		return nil, fmt.Errorf("speaker: init: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	return &Speaker{
		conv: audio.Converter{Target: audio.Format{SampleRate: sampleRate, Channels: 2}},
	}, nil
}

// Play implements [audio.Sink]. Cancelling ctx stops playback immediately.
func (s *Speaker) Play(ctx context.Context, clip audio.Clip) error {
	s.mu.Lock()
	clip = s.conv.Convert(clip)
	s.mu.Unlock()
	if clip.Empty() {
		return nil
	}

	done := make(chan struct{})
	bspeaker.Play(beep.Seq(&pcmStreamer{pcm: clip.PCM}, beep.Callback(func() {
		close(done)
	})))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		bspeaker.Clear()
		return ctx.Err()
	}
}

// Close stops playback and releases the output device.
func (s *Speaker) Close() error {
	s.closeOnce.Do(func() {
		bspeaker.Clear()
		bspeaker.Close()
	})
	return nil
}

// pcmStreamer adapts interleaved stereo 16-bit PCM to a beep.Streamer.
type pcmStreamer struct {
	pcm []byte
	pos int
}

func (p *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	if p.pos >= len(p.pcm) {
		return 0, false
	}
	n := 0
	for n < len(samples) && p.pos+4 <= len(p.pcm) {
		l := int16(p.pcm[p.pos]) | int16(p.pcm[p.pos+1])<<8
		r := int16(p.pcm[p.pos+2]) | int16(p.pcm[p.pos+3])<<8
		samples[n][0] = float64(l) / 32768
		samples[n][1] = float64(r) / 32768
		p.pos += 4
		n++
	}
	if n == 0 {
		p.pos = len(p.pcm)
		return 0, false
	}
	return n, true
}

func (p *pcmStreamer) Err() error { return nil }
