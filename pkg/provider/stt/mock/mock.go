// Package mock provides a test double for [stt.Provider].
//
// Results are handed out in order; once exhausted, Default is returned. Set
// Block to make Transcribe wait until its context is cancelled, which is how
// tests simulate a slow provider racing a barge-in or a stage timeout.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// Call records one invocation of Provider.Transcribe.
type Call struct {
	Ctx context.Context
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results are returned by successive calls.
	Results []stt.Transcript

	// Default is returned when Results is exhausted.
	Default stt.Transcript

	// Err, if non-nil, is returned instead of a transcript.
	Err error

	// Delay is slept (cancellably) before returning.
	Delay time.Duration

	// Block makes Transcribe wait for ctx to be cancelled and return ctx.Err().
	Block bool

	// Calls records every call to Transcribe.
	Calls []Call

	// Started, if non-nil, receives a value each time Transcribe is entered.
	Started chan struct{}
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns the next configured result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Ctx: ctx, Req: req})
	idx := len(p.Calls) - 1
	block, delay, err := p.Block, p.Delay, p.Err
	started := p.Started
	p.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block {
		<-ctx.Done()
		return stt.Transcript{}, ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		}
	}
	if err != nil {
		return stt.Transcript{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < len(p.Results) {
		return p.Results[idx], nil
	}
	return p.Default, nil
}

// CallCount returns the number of Transcribe calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Requests returns a copy of all requests received.
func (p *Provider) Requests() []stt.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]stt.Request, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Req
	}
	return out
}
