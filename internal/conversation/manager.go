// Package conversation decides whether the assistant answers an utterance
// and obtains the reply.
//
// The [Manager] keeps a per-speaker rolling history in a [Store], remembers
// the last mentioned shared activity, resolves how the speaker is addressed
// and calls the LLM exactly once per answered turn. Generation failures are
// replaced with a canned in-persona reply chosen by keyword.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/sri/internal/observe"
	"github.com/MrWong99/sri/pkg/provider/llm"
	"go.opentelemetry.io/otel/metric"
)

// Defaults used when the corresponding option is not given.
const (
	DefaultHistorySize    = 10
	DefaultPromptTurns    = 5
	DefaultContextTimeout = 30 * time.Minute
	DefaultPrimaryTitle   = "Kak"
	DefaultAssistantName  = "Sri"
	DefaultWakeWord       = "sri"
)

// DefaultFallbacks are used for any fallback reply left unset.
var DefaultFallbacks = Fallbacks{
	Greeting:  "Halo Kak! Ada yang bisa Sri bantu?",
	Thanks:    "Sama-sama, Kak!",
	Retry:     "Kak, aku agak susah ngerti nih. Bisa diulangi lagi?",
	Technical: "Kak, aku lagi ada masalah teknis nih.",
}

// errEmptyReply is logged when the model answers with nothing.
var errEmptyReply = errors.New("conversation: empty reply")

// Input is one utterance handed to [Manager.Process].
type Input struct {
	// Speaker identifies who spoke.
	Speaker string

	// Raw is the text before normalization. Defaults to Text.
	Raw string

	// Text is the normalized utterance.
	Text string

	// Force answers regardless of the wake word. Push-to-talk turns set it.
	Force bool
}

// Settings are the hot-reloadable parts of the configuration.
type Settings struct {
	Persona      string
	PrimaryUser  string
	PrimaryTitle string
	Fallbacks    Fallbacks
}

// Option is a functional option for configuring a [Manager].
type Option func(*Manager)

// WithSettings sets persona, primary user, title and fallback replies. Empty
// fields keep their defaults.
func WithSettings(s Settings) Option {
	return func(m *Manager) { m.applySettings(s) }
}

// WithHistorySize bounds each speaker's history, pinned entry included.
func WithHistorySize(n int) Option {
	return func(m *Manager) { m.historySize = n }
}

// WithPromptTurns sets how many recent turns go into the prompt.
func WithPromptTurns(n int) Option {
	return func(m *Manager) { m.promptTurns = n }
}

// WithContextTimeout sets how long a mentioned activity stays relevant.
func WithContextTimeout(d time.Duration) Option {
	return func(m *Manager) { m.contextTimeout = d }
}

// WithGeneration sets the sampling temperature and reply token cap.
func WithGeneration(temperature float64, maxTokens int) Option {
	return func(m *Manager) {
		m.temperature = temperature
		m.maxTokens = maxTokens
	}
}

// WithWakeWord sets the word that marks an utterance as addressed.
func WithWakeWord(w string) Option {
	return func(m *Manager) { m.wake = strings.ToLower(strings.TrimSpace(w)) }
}

// WithAssistantName sets the speaker name recorded for replies.
func WithAssistantName(name string) Option {
	return func(m *Manager) { m.assistant = name }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics records LLM latency and outcomes under providerName.
func WithMetrics(mt *observe.Metrics, providerName string) Option {
	return func(m *Manager) {
		m.metrics = mt
		m.providerName = providerName
	}
}

// Manager is safe for concurrent use.
type Manager struct {
	provider     llm.Provider
	store        *Store
	metrics      *observe.Metrics
	providerName string
	now          func() time.Time

	historySize    int
	promptTurns    int
	contextTimeout time.Duration
	temperature    float64
	maxTokens      int
	wake           string
	assistant      string

	mu       sync.Mutex
	settings Settings
	activity activity
}

// NewManager returns a [Manager] that generates replies with provider. A nil
// provider answers every addressed turn with a fallback reply.
func NewManager(provider llm.Provider, opts ...Option) *Manager {
	m := &Manager{
		provider:       provider,
		now:            time.Now,
		historySize:    DefaultHistorySize,
		promptTurns:    DefaultPromptTurns,
		contextTimeout: DefaultContextTimeout,
		wake:           DefaultWakeWord,
		assistant:      DefaultAssistantName,
		settings:       Settings{PrimaryTitle: DefaultPrimaryTitle, Fallbacks: DefaultFallbacks},
	}
	for _, o := range opts {
		o(m)
	}
	m.store = NewStore(m.historySize, m.settings.Persona)
	return m
}

// Store returns the underlying history store.
func (m *Manager) Store() *Store { return m.store }

// ShouldRespond reports whether text is addressed to the assistant: the wake
// word appears anywhere or the text starts with a direct-address phrase.
func (m *Manager) ShouldRespond(text string) bool {
	return shouldRespond(text, m.wake)
}

// ProcessMessage records text from speaker and returns the reply. ok is
// false when the turn is not answered. force answers regardless of
// [Manager.ShouldRespond].
func (m *Manager) ProcessMessage(ctx context.Context, text, speaker string, force bool) (reply string, ok bool) {
	return m.Process(ctx, Input{Speaker: speaker, Text: text, Force: force})
}

// Process records in and, when addressed or forced, generates a reply. The
// turn is recorded whether or not it is answered.
func (m *Manager) Process(ctx context.Context, in Input) (reply string, ok bool) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return "", false
	}
	if in.Raw == "" {
		in.Raw = in.Text
	}
	now := m.now()
	log := observe.Logger(ctx)

	if name := DetectActivity(text); name != "" {
		m.mu.Lock()
		m.activity = activity{name: name, at: now}
		m.mu.Unlock()
		log.Info("conversation: activity updated", "activity", name)
	}

	m.store.Append(Turn{Speaker: in.Speaker, Raw: in.Raw, Text: text, At: now})

	if !in.Force && !m.ShouldRespond(text) {
		log.Debug("conversation: not addressed", "speaker", in.Speaker)
		return "", false
	}

	reply, err := m.generate(ctx, in.Speaker, text)
	if err != nil {
		reply = m.Fallbacks().Pick(text)
		log.Warn("conversation: using fallback reply", "provider", m.providerName, "err", err)
	}
	m.store.AppendTo(in.Speaker, Turn{Speaker: m.assistant, Raw: reply, Text: reply, At: m.now()})
	return reply, true
}

// AddSystemMessage records text under [SystemSpeaker].
func (m *Manager) AddSystemMessage(text string) {
	m.store.AddSystem(text, m.now())
}

// IsPrimaryUser reports whether speaker is the primary user: the configured
// identity when set, else the first non-system speaker seen.
func (m *Manager) IsPrimaryUser(speaker string) bool {
	m.mu.Lock()
	configured := m.settings.PrimaryUser
	m.mu.Unlock()
	if configured != "" {
		return strings.EqualFold(configured, speaker)
	}
	first := m.store.FirstSpeaker()
	return first == "" || first == speaker
}

// Title returns how speaker is addressed.
func (m *Manager) Title(speaker string) string {
	if m.IsPrimaryUser(speaker) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.settings.PrimaryTitle
	}
	return speaker
}

// Activity returns the current shared activity, or "" when none was
// mentioned within the context timeout.
func (m *Manager) Activity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activity.current(m.now(), m.contextTimeout)
}

// Fallbacks returns the canned replies in use.
func (m *Manager) Fallbacks() Fallbacks {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings.Fallbacks
}

// Update applies reloaded settings. Empty fields keep their current value,
// except PrimaryUser which may be cleared.
func (m *Manager) Update(s Settings) {
	m.mu.Lock()
	m.settings.PrimaryUser = s.PrimaryUser
	m.applySettings(s)
	persona := m.settings.Persona
	m.mu.Unlock()
	m.store.SetPersona(persona)
}

func (m *Manager) applySettings(s Settings) {
	if s.Persona != "" {
		m.settings.Persona = s.Persona
	}
	if s.PrimaryUser != "" {
		m.settings.PrimaryUser = s.PrimaryUser
	}
	if s.PrimaryTitle != "" {
		m.settings.PrimaryTitle = s.PrimaryTitle
	}
	f := &m.settings.Fallbacks
	if s.Fallbacks.Greeting != "" {
		f.Greeting = s.Fallbacks.Greeting
	}
	if s.Fallbacks.Thanks != "" {
		f.Thanks = s.Fallbacks.Thanks
	}
	if s.Fallbacks.Retry != "" {
		f.Retry = s.Fallbacks.Retry
	}
	if s.Fallbacks.Technical != "" {
		f.Technical = s.Fallbacks.Technical
	}
}

// generate makes the single LLM attempt for a turn.
func (m *Manager) generate(ctx context.Context, speaker, text string) (string, error) {
	if m.provider == nil {
		return "", errors.New("conversation: no llm provider configured")
	}

	m.mu.Lock()
	persona := m.settings.Persona
	m.mu.Unlock()

	req := llm.CompletionRequest{
		SystemPrompt: persona,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: m.BuildPrompt(speaker, text)}},
		Temperature:  m.temperature,
		MaxTokens:    m.maxTokens,
	}

	start := time.Now()
	resp, err := m.provider.Complete(ctx, req)
	if err == nil && (resp == nil || strings.TrimSpace(resp.Content) == "") {
		err = errEmptyReply
	}
	if m.metrics != nil {
		m.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("provider", m.providerName)))
		m.metrics.RecordProviderRequest(ctx, m.providerName, observe.KindLLM, err)
	}
	if err != nil {
		return "", fmt.Errorf("conversation: complete: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// BuildPrompt renders the user message for a turn: the recent history of
// speaker, the current activity, how the speaker is addressed and the
// utterance itself. The persona travels separately as the system prompt.
func (m *Manager) BuildPrompt(speaker, text string) string {
	var b strings.Builder
	title := m.Title(speaker)

	b.WriteString("Recent conversation:\n")
	for _, t := range m.store.Recent(speaker, m.promptTurns) {
		name := t.Speaker
		if name == speaker {
			name = title
		}
		fmt.Fprintf(&b, "%s: %s\n", name, t.Text)
	}
	if act := m.Activity(); act != "" {
		fmt.Fprintf(&b, "\nCurrent activity: %s is playing %s. %s knows this game and can chat about it.\n",
			title, act, m.assistant)
	}
	fmt.Fprintf(&b, "\nThe speaker is %s. Reply as %s to: %s", title, m.assistant, text)
	return b.String()
}
