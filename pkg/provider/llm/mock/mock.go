// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the prompts the orchestrator builds
// and to replay controlled token streams without a live backend.
//
// Example:
//
//	p := &mock.Provider{
//	    StreamChunks: []llm.Chunk{{Text: "Hello. "}, {FinishReason: "stop"}},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/renovox/renovox/pkg/provider/llm"
)

// Compile-time assertion that Provider satisfies the llm interface.
var _ llm.Provider = (*Provider)(nil)

// StreamCall records a single invocation of StreamCompletion.
type StreamCall struct {
	// Req is the CompletionRequest passed to StreamCompletion.
	Req llm.CompletionRequest
}

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider. Zero values cause
// methods to return empty results and nil errors.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is the sequence emitted on the channel returned by
	// StreamCompletion. All chunks are sent before the channel is closed.
	StreamChunks []llm.Chunk

	// StreamDelay, when set, is a per-chunk gate: each chunk waits for a
	// receive on the channel before being emitted. Lets tests interleave
	// cancellation with streaming deterministically.
	StreamDelay chan struct{}

	// StreamErr, if non-nil, is returned by StreamCompletion instead of a
	// channel.
	StreamErr error

	// CompleteText is returned by Complete.
	CompleteText string

	// CompleteErr, if non-nil, is returned by Complete.
	CompleteErr error

	// StreamCalls records every StreamCompletion invocation in order.
	StreamCalls []StreamCall

	// CompleteCalls records every Complete invocation in order.
	CompleteCalls []CompleteCall
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Req: req})
	chunks := make([]llm.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	gate := p.StreamDelay
	err := p.StreamErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if gate != nil {
				select {
				case <-gate:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Req: req})
	if p.CompleteErr != nil {
		return "", p.CompleteErr
	}
	return p.CompleteText, nil
}

// LastStreamReq returns the request of the most recent StreamCompletion call,
// or a zero request if none were made.
func (p *Provider) LastStreamReq() llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.StreamCalls) == 0 {
		return llm.CompletionRequest{}
	}
	return p.StreamCalls[len(p.StreamCalls)-1].Req
}
