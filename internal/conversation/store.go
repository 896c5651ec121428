package conversation

import (
	"slices"
	"sync"
	"time"
)

// SystemSpeaker is the speaker identity of pinned persona and system entries.
const SystemSpeaker = "System"

// MinHistorySize is the smallest accepted history bound: the pinned entry
// plus one turn.
const MinHistorySize = 2

// Turn is one entry in a speaker's history.
type Turn struct {
	// Speaker is who said it.
	Speaker string

	// Raw is the text as received, before normalization.
	Raw string

	// Text is the normalized text.
	Text string

	// At is when the turn was recorded.
	At time.Time
}

// System reports whether the turn was recorded under [SystemSpeaker].
func (t Turn) System() bool { return t.Speaker == SystemSpeaker }

// Store holds one bounded rolling history per speaker. Every history starts
// with a pinned system entry carrying the persona; trimming never evicts it.
//
// All methods are safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	size      int
	persona   string
	histories map[string][]Turn
	order     []string
}

// NewStore returns a [Store] whose histories hold at most size entries,
// pinned entry included. Values below [MinHistorySize] are raised to it.
func NewStore(size int, persona string) *Store {
	return &Store{
		size:      max(size, MinHistorySize),
		persona:   persona,
		histories: make(map[string][]Turn),
	}
}

// Size returns the history bound.
func (s *Store) Size() int { return s.size }

// Append records t in the history of t.Speaker, creating the history on
// first use, and trims it to the bound. It returns the resulting length.
func (s *Store) Append(t Turn) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(t.Speaker, t)
}

// AppendTo records t in the history of owner. It is used for entries whose
// speaker differs from the history they belong to, like assistant replies.
func (s *Store) AppendTo(owner string, t Turn) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(owner, t)
}

func (s *Store) appendLocked(owner string, t Turn) int {
	h, ok := s.histories[owner]
	if !ok {
		h = []Turn{{Speaker: SystemSpeaker, Text: s.persona, Raw: s.persona, At: t.At}}
		if owner != SystemSpeaker {
			s.order = append(s.order, owner)
		}
	}
	h = trim(append(h, t), s.size)
	s.histories[owner] = h
	return len(h)
}

// AddSystem appends a system entry to every existing history.
func (s *Store) AddSystem(text string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := Turn{Speaker: SystemSpeaker, Raw: text, Text: text, At: at}
	if len(s.histories) == 0 {
		s.appendLocked(SystemSpeaker, t)
		return
	}
	for owner := range s.histories {
		s.appendLocked(owner, t)
	}
}

// History returns a copy of the history of speaker, pinned entry first.
// An unknown speaker has no history.
func (s *Store) History(speaker string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.histories[speaker])
}

// Recent returns up to n of the newest non-pinned entries of speaker's
// history, oldest first.
func (s *Store) Recent(speaker string, n int) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.histories[speaker]
	if len(h) <= 1 || n <= 0 {
		return nil
	}
	body := h[1:]
	if len(body) > n {
		body = body[len(body)-n:]
	}
	return slices.Clone(body)
}

// FirstSpeaker returns the first non-system speaker recorded, or "".
func (s *Store) FirstSpeaker() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return ""
	}
	return s.order[0]
}

// Speakers returns all non-system speakers in first-seen order.
func (s *Store) Speakers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

// SetPersona replaces the pinned entry of every history.
func (s *Store) SetPersona(persona string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persona = persona
	for _, h := range s.histories {
		h[0].Raw = persona
		h[0].Text = persona
	}
}

// Reset drops every history.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.histories)
	s.order = nil
}

// trim keeps the pinned first entry and the newest size-1 entries.
func trim(h []Turn, size int) []Turn {
	if len(h) <= size {
		return h
	}
	out := make([]Turn, 0, size)
	out = append(out, h[0])
	return append(out, h[len(h)-(size-1):]...)
}
