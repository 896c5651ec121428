// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider receives one finished utterance (16-bit mono PCM in a WAV
// container) and returns its transcription in the requested language. The
// capture layer hands over audio only after the push-to-talk key is released,
// so every provider works in batch mode even when its transport is a stream.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"strings"
)

// ErrNoMatch is returned when the backend processed the audio but recognised
// no speech in the requested language. Callers treat it as "try the next
// language", not as a failure.
var ErrNoMatch = errors.New("stt: no speech recognised")

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe recognises speech in wav using the BCP-47 language tag lang
	// (e.g. "id-ID", "en-US"). An empty lang lets the backend auto-detect.
	//
	// Returns ErrNoMatch (possibly wrapped) when nothing was recognised. Any
	// other error is a transport or service failure.
	Transcribe(ctx context.Context, wav []byte, lang string) (string, error)
}

// BaseLanguage reduces a BCP-47 tag to its primary language subtag, lower
// cased: "id-ID" becomes "id", "en_US" becomes "en". Backends that only take
// ISO-639-1 codes use it.
func BaseLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
