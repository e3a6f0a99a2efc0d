// Package llm defines the Provider interface for Large Language Model backends
// used as the text-translation stage of the cascade translator.
//
// A provider wraps a remote or local model API (OpenAI, Anthropic, Gemini,
// Ollama and friends) and exposes a single non-streaming completion call. The
// translator only needs one JSON answer per utterance, so there is no
// streaming or tool-calling surface.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional instruction injected before Messages.
	SystemPrompt string

	// Messages is the ordered conversation. The last message is normally
	// from the "user" role.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero keeps the
	// provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero keeps the provider default.
	MaxTokens int

	// JSONMode asks the backend to constrain output to a JSON object where
	// it supports that. Backends without the feature ignore it.
	JSONMode bool
}

// CompletionResponse is the full answer to a CompletionRequest.
type CompletionResponse struct {
	// Content is the text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
