// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the orchestrator sends correct
// CompletionRequests and to feed controlled token streams without a live
// backend. Set HoldAfter to make a stream stall part-way through, which lets a
// test trigger a barge-in while generation is still producing. All fields
// should be set before the first call.
//
// Example:
//
//	p := &mock.Provider{StreamChunks: mock.Tokens("It's", " sunny", " today")}
//	ch, err := p.StreamCompletion(ctx, req)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// StreamCall records a single invocation of StreamCompletion.
type StreamCall struct {
	// Ctx is the context passed to StreamCompletion.
	Ctx context.Context
	// Req is the CompletionRequest passed to StreamCompletion.
	Req llm.CompletionRequest
}

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Tokens builds a chunk sequence from plain strings, marking the last one as
// the natural end of the stream.
func Tokens(tokens ...string) []llm.Chunk {
	out := make([]llm.Chunk, len(tokens))
	for i, t := range tokens {
		out[i] = llm.Chunk{Text: t}
	}
	if len(out) > 0 {
		out[len(out)-1].FinishReason = "stop"
	}
	return out
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Replies holds one chunk sequence per StreamCompletion call, in order.
	// Calls beyond len(Replies) use StreamChunks.
	Replies [][]llm.Chunk

	// StreamChunks is the default chunk sequence.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned as the error from StreamCompletion.
	StreamErr error

	// ChunkDelay is waited before each chunk.
	ChunkDelay time.Duration

	// HoldAfter, when positive, stalls every stream after that many chunks
	// until Release is closed or the stream context is cancelled.
	HoldAfter int

	// Release unblocks held streams when closed.
	Release chan struct{}

	// Held, if non-nil, receives a value each time a stream stalls.
	Held chan struct{}

	// CompleteResponse is returned by Complete. May be nil.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// --- Call records (read after test) ---

	StreamCalls   []StreamCall
	CompleteCalls []CompleteCall

	// Stopped counts streams that ended because their context was cancelled.
	Stopped int
}

// StreamCompletion records the call and returns a channel that emits the
// configured chunks. If StreamErr is set, it returns nil, StreamErr.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	idx := len(p.StreamCalls)
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	src := p.StreamChunks
	if idx < len(p.Replies) {
		src = p.Replies[idx]
	}
	chunks := append([]llm.Chunk(nil), src...)
	delay, holdAfter, release, held := p.ChunkDelay, p.HoldAfter, p.Release, p.Held
	p.mu.Unlock()

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		for i, c := range chunks {
			if holdAfter > 0 && i == holdAfter {
				if held != nil {
					held <- struct{}{}
				}
				select {
				case <-release:
				case <-ctx.Done():
					p.stopped()
					return
				}
			}
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					p.stopped()
					return
				}
			}
			select {
			case <-ctx.Done():
				p.stopped()
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

func (p *Provider) stopped() {
	p.mu.Lock()
	p.Stopped++
	p.mu.Unlock()
}

// Complete records the call and returns CompleteResponse, CompleteErr. An
// empty response is returned when neither is set.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if p.CompleteResponse == nil {
		return &llm.CompletionResponse{}, nil
	}
	return p.CompleteResponse, nil
}

// CompleteCallCount returns the number of Complete calls so far.
func (p *Provider) CompleteCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// Calls returns a copy of the recorded stream calls.
func (p *Provider) Calls() []StreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StreamCall(nil), p.StreamCalls...)
}

// StoppedCount returns how many streams ended through cancellation.
func (p *Provider) StoppedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Stopped
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CompleteCalls = nil
	p.Stopped = 0
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
