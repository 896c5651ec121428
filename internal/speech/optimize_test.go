package speech

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestOptimize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		limit int
		want  string
	}{
		{"collapses whitespace", "  halo \n\t kak  ", 500, "halo kak"},
		{"within limit", "Halo Kak!", 9, "Halo Kak!"},
		{"cuts at last sentence", "Satu dua. Tiga empat! Lima enam tujuh.", 22, "Satu dua. Tiga empat!"},
		{"question mark", "Apa kabar? Baik sekali hari ini", 15, "Apa kabar?"},
		{"no sentence fits", "abcdefghijklmnop", 10, "abcdefg..."},
		{"leading dots do not count", "... abcdefghijkl", 8, "... a..."},
		{"tiny limit disables bound", "abcdef", 3, "abcdef"},
		{"empty", "   ", 10, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Optimize(tc.text, tc.limit); got != tc.want {
				t.Errorf("Optimize(%q, %d) = %q, want %q", tc.text, tc.limit, got, tc.want)
			}
		})
	}
}

func TestOptimize_LongReplyCutsAtSentence(t *testing.T) {
	t.Parallel()

	sentence := "Ini adalah kalimat yang cukup panjang untuk pengujian. "
	text := strings.Repeat(sentence, 15) // > 800 chars
	got := Optimize(text, 500)

	if n := utf8.RuneCountInString(got); n > 500 {
		t.Fatalf("len = %d, want <= 500", n)
	}
	if !strings.HasSuffix(got, ".") {
		t.Errorf("result %q does not end at a sentence boundary", got[len(got)-20:])
	}
	if strings.HasSuffix(got, ellipsis) {
		t.Error("result was hard-truncated although a sentence fits")
	}
}

func TestOptimize_CountsRunes(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("é", 12)
	got := Optimize(text, 10)
	if n := utf8.RuneCountInString(got); n != 10 {
		t.Errorf("rune count = %d, want 10 (%q)", n, got)
	}
}
