// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A provider turns one optimised utterance into decoded PCM audio ready for an
// audio.Sink. Hosted providers report HTTP failures as *APIError so callers can
// log the status and detect rate limiting with errors.Is(err, ErrRateLimited).
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/sri/pkg/audio"
)

// ErrRateLimited matches any error caused by the backend throttling requests
// (HTTP 429).
var ErrRateLimited = errors.New("tts: rate limited")

// Audio is synthesised speech as decoded PCM.
type Audio = audio.Clip

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text to audio. The returned clip must not be empty
	// when err is nil.
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// Voice describes one voice offered by a provider.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Category is a provider-specific grouping such as "premade" or "cloned".
	Category string

	// Labels holds provider-specific voice attributes (gender, accent, ...).
	Labels map[string]string
}

// VoiceLister is implemented by providers that expose a voice catalogue.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]Voice, error)
}

// APIError is returned when a hosted backend answers with a non-2xx status.
type APIError struct {
	// Provider names the backend, e.g. "elevenlabs".
	Provider string

	// StatusCode is the HTTP status returned by the backend.
	StatusCode int

	// Message is the (possibly truncated) response body.
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Is reports whether e matches target. A 429 status matches ErrRateLimited.
func (e *APIError) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == http.StatusTooManyRequests
}

// StatusCode extracts the HTTP status carried by err, or 0 when err carries
// none.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
