package segment

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/parley/pkg/audio"
)

const (
	// DefaultQueueFrames is the frame queue depth: one second of 20 ms frames.
	DefaultQueueFrames = 50

	// DefaultEventBuffer is the event channel depth.
	DefaultEventBuffer = 16
)

// PumpOption configures a [Pump].
type PumpOption func(*Pump)

// WithQueueFrames sets how many frames may wait for segmentation before the
// oldest is dropped.
func WithQueueFrames(n int) PumpOption {
	return func(p *Pump) {
		if n > 0 {
			p.queueFrames = n
		}
	}
}

// WithEventBuffer sets the event channel depth.
func WithEventBuffer(n int) PumpOption {
	return func(p *Pump) {
		if n > 0 {
			p.eventBuffer = n
		}
	}
}

// WithDropHook registers fn to be called for every dropped frame. It runs on
// the capture goroutine and must not block.
func WithDropHook(fn func()) PumpOption {
	return func(p *Pump) {
		p.onDrop = fn
	}
}

// Pump decouples capture from segmentation. Frames pushed by the capture
// device wait in a bounded queue; when the queue is full the oldest frame is
// discarded so that capture never blocks and memory never grows. Only
// SpeechStarted and SpeechEnded events are forwarded on [Pump.Events].
type Pump struct {
	seg         *Segmenter
	queueFrames int
	eventBuffer int
	onDrop      func()

	frames chan audio.AudioFrame
	events chan Event

	mu     sync.Mutex
	closed bool

	dropped       atomic.Int64
	droppedEvents atomic.Int64
}

// NewPump creates a [Pump] feeding seg.
func NewPump(seg *Segmenter, opts ...PumpOption) *Pump {
	p := &Pump{
		seg:         seg,
		queueFrames: DefaultQueueFrames,
		eventBuffer: DefaultEventBuffer,
	}
	for _, o := range opts {
		o(p)
	}
	p.frames = make(chan audio.AudioFrame, p.queueFrames)
	p.events = make(chan Event, p.eventBuffer)
	return p
}

// Push enqueues a frame without blocking, dropping the oldest queued frame if
// the queue is full. Push after [Pump.Close] is a no-op. Push is intended to
// be passed as the emit callback of [audio.Source.Capture].
func (p *Pump) Push(f audio.AudioFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for {
		select {
		case p.frames <- f:
			return
		default:
		}
		select {
		case <-p.frames:
			p.dropped.Add(1)
			if p.onDrop != nil {
				p.onDrop()
			}
		default:
		}
	}
}

// Close marks the end of the frame stream. [Pump.Run] segments whatever is
// still queued, flushes an utterance in progress, and returns. Safe to call
// more than once.
func (p *Pump) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.frames)
}

// Events returns the channel of SpeechStarted and SpeechEnded events. It is
// closed when [Pump.Run] returns.
func (p *Pump) Events() <-chan Event {
	return p.events
}

// Dropped returns the number of frames discarded because segmentation fell
// behind.
func (p *Pump) Dropped() int64 {
	return p.dropped.Load()
}

// Run segments queued frames until ctx is cancelled or the pump is closed and
// drained. It always returns nil; VAD errors are logged and the frame is
// skipped.
func (p *Pump) Run(ctx context.Context) error {
	defer close(p.events)
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-p.frames:
			if !ok {
				if ev, ok := p.seg.Flush(); ok {
					p.emit(ev)
				}
				return nil
			}
			ev, err := p.seg.Observe(f)
			if err != nil {
				slog.Warn("segment: dropping frame", "err", err)
				continue
			}
			if ev.Type == SpeechStarted || ev.Type == SpeechEnded {
				p.emit(ev)
			}
		}
	}
}

// emit forwards ev, discarding the oldest pending event if the consumer has
// fallen behind.
func (p *Pump) emit(ev Event) {
	for {
		select {
		case p.events <- ev:
			return
		default:
		}
		select {
		case old := <-p.events:
			p.droppedEvents.Add(1)
			slog.Warn("segment: event consumer behind, dropping oldest event", "type", old.Type, "at", old.At)
		default:
		}
	}
}
