// Package moderation defines the Provider interface for remote content
// moderation backends.
//
// Moderation is advisory infrastructure: the guardrail layer that calls it
// fails open on timeout or transport error, so a Provider only reports what
// the backend actually said. Implementations must be safe for concurrent use.
package moderation

import "context"

// Result is the outcome of a moderation check.
type Result struct {
	// OK is true when the text passed moderation.
	OK bool

	// Category is the highest-scoring flagged category when OK is false.
	Category string

	// Confidence is the score of Category in [0, 1].
	Confidence float64

	// Reason is a human-readable explanation suitable for client display.
	Reason string
}

// Provider is the abstraction over any moderation backend.
type Provider interface {
	// Check classifies text. A non-nil error means the backend could not
	// be consulted; callers decide the failure policy (the guardrail
	// fails open).
	Check(ctx context.Context, text string) (Result, error)
}
