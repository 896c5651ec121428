// Package mock provides a test double for the stt.Provider interface.
//
// Results and Errs are keyed by language tag so tests can script the
// language fallback of the transcription gateway.
//
// Example:
//
//	p := &mock.Provider{
//	    Errs:    map[string]error{"id-ID": stt.ErrNoMatch},
//	    Results: map[string]string{"en-US": "hello sri"},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sri/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	Ctx  context.Context
	WAV  []byte
	Lang string
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results maps a language tag to the text returned for it.
	Results map[string]string

	// Errs maps a language tag to the error returned for it. Checked before
	// Results.
	Errs map[string]error

	// DefaultResult is returned for languages missing from both maps. When
	// empty, stt.ErrNoMatch is returned instead.
	DefaultResult string

	// TranscribeCalls records every invocation of Transcribe in order.
	TranscribeCalls []TranscribeCall
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, wav []byte, lang string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, WAV: wav, Lang: lang})
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err, ok := p.Errs[lang]; ok && err != nil {
		return "", err
	}
	if text, ok := p.Results[lang]; ok {
		return text, nil
	}
	if p.DefaultResult != "" {
		return p.DefaultResult, nil
	}
	return "", stt.ErrNoMatch
}

// Langs returns the language tags of all recorded calls in order.
func (p *Provider) Langs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.TranscribeCalls))
	for i, c := range p.TranscribeCalls {
		out[i] = c.Lang
	}
	return out
}

// CallCount returns the number of Transcribe calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}
