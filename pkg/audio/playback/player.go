// Package playback streams synthesized speech to an [audio.Sink] with support
// for hard interruption.
//
// A [Player] plays at most one [audio.AudioSegment] at a time. Audio is written
// to the sink in small frames so that [Player.Interrupt] takes effect within
// one frame: buffered, unplayed audio is discarded rather than faded out.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// DefaultFrame is the output write granularity. It bounds how long audio keeps
// playing after [Player.Interrupt].
const DefaultFrame = 20 * time.Millisecond

// ErrClosed is returned by [Player.Play] after [Player.Close].
var ErrClosed = errors.New("playback: player closed")

// Option configures a [Player] during construction.
type Option func(*Player)

// WithFrame sets the output write granularity. Non-positive values are ignored.
func WithFrame(d time.Duration) Option {
	return func(p *Player) {
		if d > 0 {
			p.frame = d
		}
	}
}

// WithCeiling limits the peak level of played audio to ceiling (a fraction of
// full scale). Values outside (0, 1) disable limiting.
func WithCeiling(ceiling float64) Option {
	return func(p *Player) {
		p.ceiling = ceiling
	}
}

// Player plays streamed speech to a sink, one segment at a time.
//
// All exported methods are safe for concurrent use.
type Player struct {
	sink    audio.Sink
	frame   time.Duration
	ceiling float64

	mu       sync.Mutex
	cancel   chan struct{} // closed to interrupt the current segment
	reason   audio.InterruptReason
	playing  bool
	closed   bool
	finished chan struct{} // closed when the current Play call returns
}

// New creates a [Player] writing to sink.
func New(sink audio.Sink, opts ...Option) *Player {
	p := &Player{
		sink:  sink,
		frame: DefaultFrame,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Play streams seg to the sink and blocks until one of the following:
//
//   - the Audio channel closes: returns seg.Err(), nil on a clean finish;
//   - [Player.Interrupt] is called: returns [audio.ErrInterrupted];
//   - ctx is cancelled: returns ctx.Err();
//   - the sink fails: returns the sink error.
//
// If another segment is already playing it is interrupted first, so at most
// one segment is ever audible. Whatever the outcome, seg.Audio is drained in the
// background so its producer can exit.
func (p *Player) Play(ctx context.Context, seg *audio.AudioSegment) error {
	cancel, err := p.begin()
	if err != nil {
		go audio.Drain(seg.Audio)
		return err
	}
	defer p.end(cancel)

	rs := &audio.Resampler{From: seg.SampleRate, To: p.sink.SampleRate()}
	frameBytes := audio.FrameBytes(p.sink.SampleRate(), p.frame)
	if frameBytes <= 0 {
		frameBytes = 2
	}
	var pending []byte

	for {
		select {
		case <-cancel:
			go audio.Drain(seg.Audio)
			return audio.ErrInterrupted
		case <-ctx.Done():
			go audio.Drain(seg.Audio)
			return ctx.Err()
		case chunk, ok := <-seg.Audio:
			if !ok {
				if len(pending) > 0 {
					if err := p.write(ctx, cancel, pending); err != nil {
						return err
					}
				}
				return seg.Err()
			}
			audio.Limit(chunk, p.ceiling)
			pending = append(pending, rs.Convert(chunk)...)
			for len(pending) >= frameBytes {
				if err := p.write(ctx, cancel, pending[:frameBytes]); err != nil {
					go audio.Drain(seg.Audio)
					return err
				}
				pending = pending[frameBytes:]
			}
		}
	}
}

// write sends one frame to the sink unless the segment has been interrupted
// or ctx is done.
func (p *Player) write(ctx context.Context, cancel <-chan struct{}, frame []byte) error {
	select {
	case <-cancel:
		return audio.ErrInterrupted
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return p.sink.Write(frame)
}

// begin registers a new active segment, interrupting any previous one and
// waiting for its Play call to return.
func (p *Player) begin() (chan struct{}, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}
		if !p.playing {
			p.playing = true
			p.cancel = make(chan struct{})
			p.finished = make(chan struct{})
			c := p.cancel
			p.mu.Unlock()
			return c, nil
		}
		prev := p.finished
		p.interruptLocked(audio.BargeIn)
		p.mu.Unlock()
		<-prev
	}
}

// end clears the active segment registered by begin.
func (p *Player) end(cancel chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished != nil {
		close(p.finished)
		p.finished = nil
	}
	p.playing = false
	if p.cancel == cancel {
		p.cancel = nil
	}
}

// Interrupt stops the currently playing segment for the given reason. Audio
// that has been received but not yet written is discarded. Reports whether a
// segment was playing.
func (p *Player) Interrupt(reason audio.InterruptReason) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interruptLocked(reason)
}

// interruptLocked must be called with p.mu held.
func (p *Player) interruptLocked(reason audio.InterruptReason) bool {
	if p.cancel == nil {
		return false
	}
	p.reason = reason
	close(p.cancel)
	p.cancel = nil
	return true
}

// Playing reports whether a segment is currently being played.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// LastInterrupt returns the reason passed to the most recent interrupt.
func (p *Player) LastInterrupt() audio.InterruptReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

// Close interrupts playback and rejects further segments. Close is idempotent.
// It does not close the sink.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.interruptLocked(audio.Shutdown)
	return nil
}
