// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider accepts a complete utterance as raw PCM and returns the
// final transcript. The orchestrator buffers microphone audio until its VAD
// declares end-of-utterance, so the contract is a single blocking call rather
// than a streaming session; latency is bounded by the provider's own timeout.
//
// Implementations must be safe for concurrent use; one provider instance is
// shared by every session in the process.
package stt

import "context"

// Provider is the abstraction over any speech-to-text backend.
type Provider interface {
	// Transcribe converts a buffered utterance of raw little-endian s16 mono
	// PCM into text. language is a BCP-47 tag hint (e.g. "en"); empty lets
	// the provider auto-detect where supported.
	//
	// A nil error with an empty string means the provider heard nothing
	// usable (near-silent audio, or the backend returned no text). Callers
	// treat that as "no transcript", not a failure. Errors are reserved for
	// conditions the caller may want to log; the turn must still degrade
	// gracefully.
	Transcribe(ctx context.Context, pcm []byte, language string) (string, error)
}
