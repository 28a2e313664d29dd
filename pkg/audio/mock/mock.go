// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Sink] for use in unit tests.
//
// Both mocks are safe for concurrent use. They record every call so that tests
// can assert on call counts and arguments, and they expose exported fields that
// the test can set to control behaviour.
//
// Typical usage:
//
//	src := &mock.Source{Rate: 16000, Frames: frames}
//	sink := &mock.Sink{Rate: 16000}
//	err := src.Capture(ctx, func(f audio.AudioFrame) { ... })
//	played := sink.Written()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// ─── Source ──────────────────────────────────────────────────────────────────

// Source is a mock [audio.Source] that replays a fixed list of frames.
type Source struct {
	mu sync.Mutex

	// Rate is returned by SampleRate.
	Rate int

	// Frames are emitted in order by Capture.
	Frames []audio.AudioFrame

	// Interval is slept between frames. Zero emits as fast as possible.
	Interval time.Duration

	// Hold keeps Capture blocked after the last frame until ctx is cancelled.
	// When false, Capture returns nil once all frames are emitted.
	Hold bool

	// CaptureErr, when non-nil, is returned after all frames are emitted.
	CaptureErr error

	// CallCountCapture records how many times Capture was called.
	CallCountCapture int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Capture implements [audio.Source].
func (s *Source) Capture(ctx context.Context, emit func(audio.AudioFrame)) error {
	s.mu.Lock()
	s.CallCountCapture++
	frames := append([]audio.AudioFrame(nil), s.Frames...)
	interval, hold, captureErr := s.Interval, s.Hold, s.CaptureErr
	s.mu.Unlock()

	for _, f := range frames {
		if interval > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
		} else if ctx.Err() != nil {
			return nil
		}
		emit(f)
	}
	if captureErr != nil {
		return captureErr
	}
	if hold {
		<-ctx.Done()
	}
	return nil
}

// SampleRate implements [audio.Source].
func (s *Source) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Rate
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// ─── Sink ────────────────────────────────────────────────────────────────────

// Sink is a mock [audio.Sink] that records written chunks.
type Sink struct {
	mu sync.Mutex

	// Rate is returned by SampleRate.
	Rate int

	// WriteDelay is slept inside every Write to emulate a real device.
	WriteDelay time.Duration

	// WriteErr, when non-nil, is returned by every Write.
	WriteErr error

	// OnWrite, when set, is called with every chunk before it is recorded.
	OnWrite func([]byte)

	written [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Write implements [audio.Sink].
func (s *Sink) Write(pcm []byte) error {
	s.mu.Lock()
	delay, writeErr, onWrite := s.WriteDelay, s.WriteErr, s.OnWrite
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if writeErr != nil {
		return writeErr
	}
	if onWrite != nil {
		onWrite(pcm)
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)

	s.mu.Lock()
	s.written = append(s.written, cp)
	s.mu.Unlock()
	return nil
}

// SampleRate implements [audio.Sink].
func (s *Sink) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Rate
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// Written returns a copy of every chunk passed to Write, in order.
func (s *Sink) Written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.written))
	copy(out, s.written)
	return out
}

// Bytes returns all written audio concatenated.
func (s *Sink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, c := range s.written {
		out = append(out, c...)
	}
	return out
}

// Compile-time interface assertions.
var (
	_ audio.Source = (*Source)(nil)
	_ audio.Sink   = (*Sink)(nil)
)
