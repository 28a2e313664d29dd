// Package mock provides a test double for the tts.Provider interface.
//
// Provider emits one PCM chunk per text fragment it receives, so tests can
// drive the reply pipeline end to end and inspect exactly which text reached
// the synthesiser.
//
// Example:
//
//	p := &mock.Provider{ChunkBytes: 640}
//	seg, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	// Ctx is the context passed to SynthesizeStream.
	Ctx context.Context
	// Voice is the VoiceProfile passed to SynthesizeStream.
	Voice tts.VoiceProfile
	// Text holds every fragment received on the text channel, in order.
	Text []string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SampleRate is reported on returned segments. Default: 16000.
	SampleRate int

	// ChunkBytes is the size of the PCM chunk emitted per text fragment.
	// Default: 320.
	ChunkBytes int

	// ChunkDelay is slept before each chunk is emitted.
	ChunkDelay time.Duration

	// SynthesizeErr, if non-nil, is returned from SynthesizeStream.
	SynthesizeErr error

	// StreamErr, if non-nil, ends the stream after FailAfter chunks and is
	// recorded on the segment.
	StreamErr error
	FailAfter int

	// Hold keeps the audio channel open after the text channel closes until
	// the context is cancelled. Held is signalled (non-blocking) once the
	// stream is holding.
	Hold bool
	Held chan struct{}

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// SynthesizeStreamCalls records every call to SynthesizeStream in order.
	SynthesizeStreamCalls []SynthesizeStreamCall

	// ListVoicesCalls counts calls to ListVoices.
	ListVoicesCalls int
}

// SynthesizeStream records the call and returns a segment carrying one chunk
// per received fragment.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (*audio.AudioSegment, error) {
	p.mu.Lock()
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeStreamCall{Ctx: ctx, Voice: voice})
	idx := len(p.SynthesizeStreamCalls) - 1
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	rate := p.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	size := p.ChunkBytes
	if size <= 0 {
		size = 320
	}
	delay, streamErr, failAfter, hold, held := p.ChunkDelay, p.StreamErr, p.FailAfter, p.Hold, p.Held
	p.mu.Unlock()

	ch := make(chan []byte, 8)
	seg := &audio.AudioSegment{Audio: ch, SampleRate: rate}

	go func() {
		defer close(ch)
		defer func() {
			if ctx.Err() != nil {
				go audio.Drain(text)
			}
		}()

		emitted := 0
		for {
			if streamErr != nil && emitted >= failAfter {
				seg.SetStreamErr(streamErr)
				go audio.Drain(text)
				return
			}
			var fragment string
			var ok bool
			select {
			case fragment, ok = <-text:
			case <-ctx.Done():
				return
			}
			if !ok {
				break
			}
			p.mu.Lock()
			p.SynthesizeStreamCalls[idx].Text = append(p.SynthesizeStreamCalls[idx].Text, fragment)
			p.mu.Unlock()

			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			pcm := make([]byte, size)
			pcm[0] = 1
			select {
			case ch <- pcm:
				emitted++
			case <-ctx.Done():
				return
			}
		}

		if streamErr != nil {
			seg.SetStreamErr(streamErr)
			return
		}
		if hold {
			if held != nil {
				select {
				case held <- struct{}{}:
				default:
				}
			}
			<-ctx.Done()
		}
	}()
	return seg, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	return p.ListVoicesResult, p.ListVoicesErr
}

// Calls returns a snapshot of the recorded SynthesizeStream calls.
func (p *Provider) Calls() []SynthesizeStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeStreamCall, len(p.SynthesizeStreamCalls))
	for i, c := range p.SynthesizeStreamCalls {
		c.Text = append([]string(nil), c.Text...)
		out[i] = c
	}
	return out
}

// Spoken returns the concatenated text received by each call.
func (p *Provider) Spoken() []string {
	calls := p.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = strings.Join(c.Text, "")
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeStreamCalls = nil
	p.ListVoicesCalls = 0
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
