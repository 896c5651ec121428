// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{SynthesizeErr: &tts.APIError{Provider: "elevenlabs", StatusCode: 429}}
//	_, err := p.Synthesize(ctx, "halo")
//	// errors.Is(err, tts.ErrRateLimited) == true
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/sri/pkg/audio"
	"github.com/MrWong99/sri/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Ctx  context.Context
	Text string
}

// Provider is a mock implementation of tts.Provider and tts.VoiceLister.
type Provider struct {
	mu sync.Mutex

	// SynthesizeResult is returned by Synthesize. When its PCM is empty a
	// 100 ms clip of 16 kHz mono silence is returned instead.
	SynthesizeResult tts.Audio

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// Delay makes Synthesize block for the given duration or until ctx is done.
	Delay time.Duration

	// Voices is returned by ListVoices.
	Voices []tts.Voice

	// ListVoicesErr, if non-nil, is returned by ListVoices.
	ListVoicesErr error

	// SynthesizeCalls records every invocation of Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text})
	result, err, delay := p.SynthesizeResult, p.SynthesizeErr, p.Delay
	p.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return tts.Audio{}, ctx.Err()
		}
	}
	if err != nil {
		return tts.Audio{}, err
	}
	if len(result.PCM) == 0 {
		f := audio.Format{SampleRate: 16000, Channels: 1}
		result = audio.Clip{PCM: make([]byte, f.BytesPerSecond()/10), Format: f}
	}
	return result, nil
}

// ListVoices implements tts.VoiceLister.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Voices, p.ListVoicesErr
}

// Texts returns the text of every recorded Synthesize call in order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = c.Text
	}
	return out
}

// CallCount returns the number of Synthesize calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// SetErr replaces SynthesizeErr under the lock.
func (p *Provider) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeErr = err
}
