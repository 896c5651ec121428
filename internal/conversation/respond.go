package conversation

import (
	"strings"
)

// directAddress are prefixes that mark an utterance as spoken to the
// assistant even without the wake word.
var directAddress = []string{
	"what", "how", "when", "where", "why", "who",
	"can you", "could you", "would you", "will you",
	"help", "please", "thanks", "thank you",
}

// shouldRespond reports whether text contains wake or starts with a
// direct-address prefix. Matching is case-insensitive.
func shouldRespond(text, wake string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return false
	}
	if wake != "" && strings.Contains(lower, strings.ToLower(wake)) {
		return true
	}
	for _, p := range directAddress {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// Fallbacks are the canned in-persona replies used when generation fails.
type Fallbacks struct {
	Greeting  string
	Thanks    string
	Retry     string
	Technical string
}

var (
	thanksWords   = []string{"terima kasih", "makasih", "thanks", "thank you", "thx"}
	greetingWords = []string{"halo", "hai", "hello", "hi", "hey", "selamat"}
	questionWords = []string{
		"apa", "kenapa", "mengapa", "gimana", "bagaimana", "siapa", "kapan", "dimana", "berapa",
		"what", "how", "why", "who", "when", "where",
	}
)

// Pick returns the fallback reply matching text: thanks, then greeting, then
// question (retry), else the technical-issue reply.
func (f Fallbacks) Pick(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})

	switch {
	case containsPhrase(lower, words, thanksWords):
		return f.Thanks
	case containsPhrase(lower, words, greetingWords):
		return f.Greeting
	case strings.HasSuffix(lower, "?") || containsPhrase(lower, words, questionWords):
		return f.Retry
	default:
		return f.Technical
	}
}

// containsPhrase matches single-word phrases against words and multi-word
// phrases against the whole text.
func containsPhrase(text string, words, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(p, " ") {
			if strings.Contains(text, p) {
				return true
			}
			continue
		}
		for _, w := range words {
			if w == p {
				return true
			}
		}
	}
	return false
}
