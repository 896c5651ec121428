package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/sri/pkg/provider/tts"
)

// GuardedTTS wraps a single [tts.Provider] with a circuit breaker. While the
// breaker is open Synthesize fails fast with [ErrCircuitOpen], so a hosted
// provider that keeps failing is not hit on every utterance.
type GuardedTTS struct {
	provider tts.Provider
	breaker  *CircuitBreaker
}

// Compile-time interface assertion.
var _ tts.Provider = (*GuardedTTS)(nil)

// NewGuardedTTS wraps provider with a breaker built from cfg. Context
// cancellation does not count as a failure.
func NewGuardedTTS(provider tts.Provider, cfg CircuitBreakerConfig) *GuardedTTS {
	cfg.IsFailure = func(err error) bool {
		return err != nil && !errors.Is(err, context.Canceled)
	}
	return &GuardedTTS{provider: provider, breaker: NewCircuitBreaker(cfg)}
}

// Synthesize implements [tts.Provider].
func (g *GuardedTTS) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	var out tts.Audio
	err := g.breaker.Execute(func() error {
		var err error
		out, err = g.provider.Synthesize(ctx, text)
		return err
	})
	return out, err
}

// ListVoices delegates to the wrapped provider when it lists voices. It is
// not guarded by the breaker.
func (g *GuardedTTS) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	if l, ok := g.provider.(tts.VoiceLister); ok {
		return l.ListVoices(ctx)
	}
	return nil, nil
}

// State reports the breaker state.
func (g *GuardedTTS) State() State { return g.breaker.State() }
