package llm

// Roles used in [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry of the conversation sent to the model.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the message text.
	Content string
}

// CompletionRequest carries everything the LLM needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is the persona instruction. Providers without a dedicated
	// system field prepend it as a system-role message.
	SystemPrompt string

	// Messages is the ordered conversation. The last message drives the reply.
	Messages []Message

	// Temperature controls randomness in [0.0, 2.0]. Zero selects the
	// provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero selects the provider default.
	MaxTokens int
}

// Usage holds token accounting reported by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	// Content is the full reply text.
	Content string

	// Usage contains token accounting for this request, when reported.
	Usage Usage
}
