// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/renovox/renovox/pkg/provider/tts"
)

// Compile-time assertion that Provider satisfies the tts interface.
var _ tts.Provider = (*Provider)(nil)

// Call records a single invocation of StreamSpeech.
type Call struct {
	// Text is the text passed to StreamSpeech.
	Text string
	// Voice is the voice identifier passed to StreamSpeech.
	Voice string
}

// Provider is a mock implementation of tts.Provider. Each StreamSpeech call
// replays Chunks on the returned channel.
type Provider struct {
	mu sync.Mutex

	// Chunks is the audio replayed on every StreamSpeech call.
	Chunks [][]byte

	// Err, if non-nil, is returned by StreamSpeech.
	Err error

	// Calls records every invocation in order.
	Calls []Call
}

// StreamSpeech implements tts.Provider.
func (p *Provider) StreamSpeech(ctx context.Context, text, voice string) (<-chan []byte, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Text: text, Voice: voice})
	chunks := make([][]byte, len(p.Chunks))
	copy(chunks, p.Chunks)
	err := p.Err
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// CallTexts returns the text of every StreamSpeech call in order.
func (p *Provider) CallTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Text
	}
	return out
}

// CallVoices returns the voice of every StreamSpeech call in order.
func (p *Provider) CallVoices() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Voice
	}
	return out
}
