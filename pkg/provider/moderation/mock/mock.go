// Package mock provides a test double for the moderation.Provider interface.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/renovox/renovox/pkg/provider/moderation"
)

// Compile-time assertion that Provider satisfies the moderation interface.
var _ moderation.Provider = (*Provider)(nil)

// Provider is a mock implementation of moderation.Provider returning a canned
// result. Delay and Block simulate a slow or hung backend so callers can test
// their timeout policy.
type Provider struct {
	mu sync.Mutex

	// Result is returned by every Check call.
	Result moderation.Result

	// Err, if non-nil, is returned by Check.
	Err error

	// Delay is waited before responding. Zero means respond immediately.
	Delay time.Duration

	// Block, if non-nil, makes Check wait until the channel is closed or
	// ctx is cancelled, simulating a hung backend.
	Block chan struct{}

	// Calls records the text of every Check invocation in order.
	Calls []string
}

// Check implements moderation.Provider.
func (p *Provider) Check(ctx context.Context, text string) (moderation.Result, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, text)
	res := p.Result
	err := p.Err
	delay := p.Delay
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return moderation.Result{}, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return moderation.Result{}, ctx.Err()
		}
	}
	if err != nil {
		return moderation.Result{}, err
	}
	return res, nil
}

// CallCount returns the number of Check invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
