package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/sri/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker. [stt.ErrNoMatch] is
// an answer, not a fault: it is returned immediately without consulting the
// fallbacks.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	cfg.Terminal = isNoMatch
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs the request against the first healthy provider.
func (f *STTFallback) Transcribe(ctx context.Context, wav []byte, lang string) (string, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, wav, lang)
	})
}

func isNoMatch(err error) bool {
	return errors.Is(err, stt.ErrNoMatch) || errors.Is(err, context.Canceled)
}
