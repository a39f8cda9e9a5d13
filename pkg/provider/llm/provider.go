// Package llm defines the Provider interface for chat-completion backends.
//
// The orchestrator uses two call shapes: StreamCompletion for the live turn
// (tokens feed the client and the TTS sentence buffer as they arrive) and
// Complete for short utility calls such as background state extraction.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import "context"

// Message represents a single message in a conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// CompletionRequest carries everything the model needs to produce a response.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically
	// from the "user" role and drives the response.
	Messages []Message

	// Model is the backend model identifier (e.g. "gpt-4o-mini"). Empty
	// uses the provider default.
	Model string

	// MaxTokens caps completion length. Zero means the provider default.
	MaxTokens int

	// Temperature controls randomness in [0.0, 2.0]. The utility path uses
	// 0.0 for deterministic extraction.
	Temperature float64
}

// Chunk is a single delta emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental content of this chunk. May be empty on the
	// final chunk, which carries only FinishReason.
	Text string

	// FinishReason is set on the final chunk ("stop", "length", or "error"
	// when the stream failed mid-flight) and empty otherwise.
	FinishReason string
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// StreamCompletion sends req and returns a read-only channel emitting
	// Chunk values as they arrive. The channel is closed when generation
	// finishes or ctx is cancelled; the caller must drain it. The error
	// return is non-nil only when the stream cannot be started.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and waits for the full response text. Used for
	// short utility calls; implementations apply their own hard timeout.
	// An empty string with nil error means the backend produced nothing.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
