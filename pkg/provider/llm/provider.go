// Package llm defines the Provider interface for reply-generation backends.
//
// An LLM provider wraps a remote or local model API (Gemini, OpenAI, a local
// Ollama instance, ...) and exposes a single blocking completion call. Sri
// makes exactly one attempt per conversation turn; retries and fallback
// replies are the caller's responsibility.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply.
	//
	// Returns an error if the request fails, the model returns no choices, or
	// ctx is cancelled before the completion arrives. Implementations must
	// not retry internally.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
