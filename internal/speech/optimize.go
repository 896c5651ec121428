package speech

import (
	"strings"
	"unicode/utf8"
)

// ellipsis marks a hard-truncated utterance.
const ellipsis = "..."

// Optimize collapses whitespace in text and bounds it to limit characters.
//
// Over-long text is cut after the last sentence terminator (".", "!" or "?")
// that keeps it within limit. When no sentence fits, the text is cut to
// limit-3 characters and [ellipsis] is appended. A limit below 4 disables the
// bound.
func Optimize(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if limit < len(ellipsis)+1 || utf8.RuneCountInString(text) <= limit {
		return text
	}

	runes := []rune(text)
	for i := limit - 1; i >= 0; i-- {
		switch runes[i] {
		case '.', '!', '?':
			if cut := strings.TrimSpace(string(runes[:i+1])); cut != "" && !onlyPunct(cut) {
				return cut
			}
		}
	}
	return strings.TrimSpace(string(runes[:limit-len(ellipsis)])) + ellipsis
}

func onlyPunct(s string) bool {
	return strings.Trim(s, ".!? ") == ""
}
