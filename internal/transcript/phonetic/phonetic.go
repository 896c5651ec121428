// Package phonetic rewrites words that sound like a target word (the wake
// word) into the target itself.
//
// A word is a candidate when its Double Metaphone codes overlap with the
// target's codes. Candidates are accepted when their Jaro-Winkler similarity
// to the target reaches the threshold. Words with no phonetic overlap are
// accepted only above the stricter fuzzy threshold.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	// DefaultThreshold is the minimum Jaro-Winkler score for a phonetic
	// candidate.
	DefaultThreshold = 0.80

	defaultFuzzyThreshold = 0.92
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithThreshold sets the minimum Jaro-Winkler score required for a
// phonetically matching word to be rewritten. Default: 0.80.
func WithThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.threshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for words whose
// phonetic codes do not overlap with the target. Default: 0.92.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	target         string
	targetCodes    map[string]struct{}
	threshold      float64
	fuzzyThreshold float64
}

// New returns a [Matcher] that rewrites words close to target.
func New(target string, opts ...Option) *Matcher {
	target = strings.ToLower(strings.TrimSpace(target))
	m := &Matcher{
		target:         target,
		targetCodes:    codesForTokens(strings.Fields(target)),
		threshold:      DefaultThreshold,
		fuzzyThreshold: defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Target returns the word candidates are rewritten to.
func (m *Matcher) Target() string { return m.target }

// Score reports the Jaro-Winkler similarity of word to the target and
// whether it clears the applicable threshold.
func (m *Matcher) Score(word string) (score float64, matched bool) {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" || m.target == "" {
		return 0, false
	}
	if word == m.target {
		return 1, true
	}
	score = matchr.JaroWinkler(word, m.target, false)
	if codesOverlap(codesForTokens([]string{word}), m.targetCodes) {
		return score, score >= m.threshold
	}
	return score, score >= m.fuzzyThreshold
}

// Correct returns text with every word that matches the target replaced by
// the target. Words are split on whitespace; other words are kept verbatim.
func (m *Matcher) Correct(text string) string {
	words := strings.Fields(text)
	changed := false
	for i, w := range words {
		if _, ok := m.Score(w); ok && !strings.EqualFold(w, m.target) {
			words[i] = m.target
			changed = true
		}
	}
	if !changed {
		return text
	}
	return strings.Join(words, " ")
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
