package transcript

import (
	"regexp"
	"slices"
	"strings"
)

// DefaultVariants are common misrecognitions of the wake word "sri".
var DefaultVariants = []string{"sry", "shri", "seri", "cri", "tree", "free"}

// standaloneGreetings get the wake word appended when they are the whole
// utterance.
var standaloneGreetings = []string{
	"halo", "hai", "hello", "hi", "hey",
	"selamat malam", "selamat pagi", "selamat siang", "selamat sore",
}

// Normalizer applies the conservative text clean-up that runs on every
// transcript: lowercase, whitespace collapse, wake-word variant rewrite and
// greeting completion.
//
// A Normalizer is read-only after construction and safe for concurrent use.
type Normalizer struct {
	wake        string
	variants    *regexp.Regexp
	greetingMid *regexp.Regexp
	greetingEnd *regexp.Regexp
}

// NewNormalizer returns a [Normalizer] that rewrites variants to wake. A nil
// variants slice uses [DefaultVariants].
func NewNormalizer(wake string, variants []string) *Normalizer {
	wake = strings.ToLower(strings.TrimSpace(wake))
	if variants == nil {
		variants = DefaultVariants
	}
	quoted := make([]string, 0, len(variants))
	for _, v := range variants {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || v == wake {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(v))
	}

	n := &Normalizer{
		wake:        wake,
		greetingMid: regexp.MustCompile(`^(halo|hai|hello) \w{1,3} (selamat)`),
		greetingEnd: regexp.MustCompile(`^(selamat (?:malam|pagi|siang|sore))$`),
	}
	if len(quoted) > 0 {
		n.variants = regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}
	return n
}

// WakeWord returns the canonical wake word.
func (n *Normalizer) WakeWord() string { return n.wake }

// Normalize returns the cleaned-up form of text.
func (n *Normalizer) Normalize(text string) string {
	out := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	if out == "" || n.wake == "" {
		return out
	}
	if n.variants != nil {
		out = n.variants.ReplaceAllString(out, n.wake)
	}

	// "halo xx selamat malam" → "halo sri selamat malam"
	out = n.greetingMid.ReplaceAllString(out, "${1} "+n.wake+" ${2}")
	// "selamat malam" → "selamat malam sri"
	out = n.greetingEnd.ReplaceAllString(out, "${1} "+n.wake)

	if len(strings.Fields(out)) <= 2 && slices.Contains(standaloneGreetings, out) {
		out += " " + n.wake
	}
	return out
}
