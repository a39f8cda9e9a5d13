// Package mock provides a test double for the stt.Provider interface.
//
// Zero values cause Transcribe to return an empty transcript and nil error.
// Set Text to feed a canned transcript, or Err to inject a failure.
package mock

import (
	"context"
	"sync"

	"github.com/renovox/renovox/pkg/provider/stt"
)

// Compile-time assertion that Provider satisfies the stt interface.
var _ stt.Provider = (*Provider)(nil)

// Call records a single invocation of Transcribe.
type Call struct {
	// PCM is the audio buffer passed to Transcribe.
	PCM []byte
	// Language is the language hint passed to Transcribe.
	Language string
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned by Transcribe.
	Text string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// Calls records every invocation in order.
	Calls []Call
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(_ context.Context, pcm []byte, language string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, Call{PCM: pcm, Language: language})
	if p.Err != nil {
		return "", p.Err
	}
	return p.Text, nil
}

// CallCount returns the number of Transcribe invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
