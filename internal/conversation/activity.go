package conversation

import (
	"slices"
	"strings"
	"time"
)

// activityIndicators introduce a shared activity; the words that follow name
// it. Multi-word indicators anchor on their last word.
var activityIndicators = []string{
	"main", "playing", "mulai", "start", "buka", "open",
	"game", "lagi main", "sekarang main", "mau main",
}

// activityKeywords are recognised activity names.
var activityKeywords = []string{
	"dota", "mobile legends", "pubg", "valorant", "minecraft",
	"genshin", "honkai", "cod", "ff", "free fire", "chess",
	"among us", "fall guys", "rocket league", "csgo", "cs2",
}

// maxActivityWords bounds how many words after an indicator form the name.
const maxActivityWords = 3

// DetectActivity returns the activity mentioned in text, or "".
//
// The first indicator present as a word takes the up to three words after
// it. Otherwise the first known keyword present in the text is returned.
func DetectActivity(text string) string {
	lower := strings.ToLower(text)
	words := strings.Fields(lower)

	for _, ind := range activityIndicators {
		if !strings.Contains(lower, ind) {
			continue
		}
		parts := strings.Fields(ind)
		i := slices.Index(words, parts[len(parts)-1])
		if i < 0 || i+1 >= len(words) {
			continue
		}
		end := min(i+1+maxActivityWords, len(words))
		return strings.Join(words[i+1:end], " ")
	}
	for _, kw := range activityKeywords {
		if containsPhrase(lower, words, []string{kw}) {
			return kw
		}
	}
	return ""
}

// activity is the last mentioned shared activity.
type activity struct {
	name string
	at   time.Time
}

// current returns the activity name unless it is older than timeout. A zero
// timeout never expires.
func (a activity) current(now time.Time, timeout time.Duration) string {
	if a.name == "" {
		return ""
	}
	if timeout > 0 && now.Sub(a.at) > timeout {
		return ""
	}
	return a.name
}
