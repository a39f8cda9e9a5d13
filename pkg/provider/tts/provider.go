// Package tts defines the Provider interface for text-to-speech backends.
//
// The contract is built for minimum time-to-first-audio: implementations
// split the input into sentences and synthesise sentence-by-sentence, so the
// first bytes arrive while later sentences are still being generated. Audio
// is emitted as compressed chunks (MP3 for the OpenAI backend) forwarded to
// the client unmodified.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"strings"
)

// minSentenceChars is the minimum length of a fragment worth its own
// synthesis call; shorter fragments are merged with their neighbour.
const minSentenceChars = 20

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// StreamSpeech synthesises text with the given voice and returns a
	// read-only channel emitting audio chunks as they arrive. The channel
	// is closed when synthesis completes or ctx is cancelled; the caller
	// must drain it. The error return is non-nil only when synthesis
	// cannot be started.
	StreamSpeech(ctx context.Context, text, voice string) (<-chan []byte, error)
}

// VoiceMap is a static persona → voice-identifier mapping.
type VoiceMap map[string]string

// Voice returns the voice for persona, falling back to fallback when the
// persona is unknown.
func (m VoiceMap) Voice(persona, fallback string) string {
	if v, ok := m[strings.ToLower(persona)]; ok {
		return v
	}
	return fallback
}

// SplitSentences breaks text at '.', '!' and '?' boundaries into fragments
// suitable for per-sentence synthesis. Fragments shorter than 20 characters
// are merged forward; a trailing short fragment is appended to the last
// sentence. Returns the trimmed input as a single element when no boundary
// produces a long-enough fragment.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var parts []string
	var cur strings.Builder
	for i := 0; i < len(text); i++ {
		cur.WriteByte(text[i])
		if text[i] == '.' || text[i] == '!' || text[i] == '?' {
			// Boundary only when followed by whitespace or end of text.
			if i+1 == len(text) || text[i+1] == ' ' || text[i+1] == '\n' || text[i+1] == '\t' {
				parts = append(parts, strings.TrimSpace(cur.String()))
				cur.Reset()
			}
		}
	}
	if rest := strings.TrimSpace(cur.String()); rest != "" {
		parts = append(parts, rest)
	}

	var merged []string
	buf := ""
	for _, part := range parts {
		buf = strings.TrimSpace(buf + " " + part)
		if len(buf) >= minSentenceChars {
			merged = append(merged, buf)
			buf = ""
		}
	}
	if buf != "" {
		if len(merged) > 0 {
			merged[len(merged)-1] += " " + buf
		} else {
			merged = append(merged, buf)
		}
	}
	if len(merged) == 0 {
		return []string{text}
	}
	return merged
}
