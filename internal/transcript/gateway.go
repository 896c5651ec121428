// Package transcript turns finished recordings into normalized text.
//
// The [Gateway] asks an STT provider for a transcription in each configured
// language until one produces text, then runs the result through a
// [Normalizer] and, when enabled, a phonetic wake-word pass. Any failure is
// logged and reported as an empty transcript so callers stay silent instead of
// erroring.
package transcript

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/MrWong99/sri/internal/observe"
	"github.com/MrWong99/sri/internal/transcript/phonetic"
	"github.com/MrWong99/sri/pkg/provider/stt"
	"go.opentelemetry.io/otel/metric"
)

// DefaultLanguages are tried in order when no languages are configured.
var DefaultLanguages = []string{"id-ID", "en-US"}

// Transcript is the result of one recognition.
type Transcript struct {
	// Raw is the provider output before normalization.
	Raw string

	// Text is the normalized text. Empty when nothing was recognised.
	Text string

	// Language is the tag that produced Raw.
	Language string
}

// Empty reports whether nothing was recognised.
func (t Transcript) Empty() bool { return t.Text == "" }

// Option is a functional option for configuring a [Gateway].
type Option func(*Gateway)

// WithLanguages sets the language candidates in the order they are tried.
func WithLanguages(langs ...string) Option {
	return func(g *Gateway) {
		if len(langs) > 0 {
			g.langs = slices.Clone(langs)
		}
	}
}

// WithNormalizer replaces the default normalizer for the wake word "sri".
func WithNormalizer(n *Normalizer) Option {
	return func(g *Gateway) {
		if n != nil {
			g.norm = n
		}
	}
}

// WithPhonetic enables the phonetic wake-word pass.
func WithPhonetic(m *phonetic.Matcher) Option {
	return func(g *Gateway) {
		g.phonetic = m
	}
}

// WithMetrics records recognition latency and provider outcomes.
func WithMetrics(m *observe.Metrics, providerName string) Option {
	return func(g *Gateway) {
		g.metrics = m
		g.providerName = providerName
	}
}

// Gateway is safe for concurrent use.
type Gateway struct {
	provider     stt.Provider
	langs        []string
	norm         *Normalizer
	phonetic     *phonetic.Matcher
	metrics      *observe.Metrics
	providerName string
}

// NewGateway returns a [Gateway] backed by provider. A nil provider yields a
// gateway that always returns an empty transcript.
func NewGateway(provider stt.Provider, opts ...Option) *Gateway {
	g := &Gateway{
		provider: provider,
		langs:    slices.Clone(DefaultLanguages),
		norm:     NewNormalizer("sri", nil),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Languages returns the configured language candidates.
func (g *Gateway) Languages() []string { return slices.Clone(g.langs) }

// Transcribe returns the normalized text spoken in wav, or "" when nothing
// could be recognised.
func (g *Gateway) Transcribe(ctx context.Context, wav []byte) string {
	return g.TranscribeDetail(ctx, wav).Text
}

// TranscribeDetail is like [Gateway.Transcribe] but also reports the raw text
// and the language that matched.
func (g *Gateway) TranscribeDetail(ctx context.Context, wav []byte) Transcript {
	if g.provider == nil || len(wav) == 0 {
		return Transcript{}
	}
	log := observe.Logger(ctx)

	for _, lang := range g.langs {
		if ctx.Err() != nil {
			return Transcript{}
		}
		raw, err := g.recognise(ctx, wav, lang)
		switch {
		case errors.Is(err, stt.ErrNoMatch):
			log.Debug("transcript: no match", "lang", lang)
			continue
		case err != nil:
			log.Warn("transcript: recognition failed", "lang", lang, "err", err)
			continue
		}

		text := g.Normalize(raw)
		if text == "" {
			continue
		}
		log.Debug("transcript: recognised", "lang", lang, "raw", raw, "text", text)
		return Transcript{Raw: raw, Text: text, Language: lang}
	}
	return Transcript{}
}

// Normalize applies the normalizer and the optional phonetic pass to text.
func (g *Gateway) Normalize(text string) string {
	out := g.norm.Normalize(text)
	if g.phonetic != nil && out != "" {
		out = g.norm.Normalize(g.phonetic.Correct(out))
	}
	return out
}

func (g *Gateway) recognise(ctx context.Context, wav []byte, lang string) (string, error) {
	start := time.Now()
	raw, err := g.provider.Transcribe(ctx, wav, lang)
	if g.metrics != nil {
		g.metrics.STTDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("provider", g.providerName), observe.Attr("lang", lang)))
		var reqErr error
		if err != nil && !errors.Is(err, stt.ErrNoMatch) {
			reqErr = err
		}
		g.metrics.RecordProviderRequest(ctx, g.providerName, observe.KindSTT, reqErr)
	}
	return raw, err
}
