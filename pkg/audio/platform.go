// Package audio defines the audio types and device interfaces used by the
// parley voice loop.
//
// The two device abstractions are:
//
//   - [Source]: a continuous capture stream (microphone, file, test double).
//   - [Sink]: a playback device that accepts PCM chunks.
//
// Concrete devices live in audio/device. Speech output is modelled as an
// [AudioSegment]: a streamed, cancellable sequence of PCM chunks played by
// audio/playback.
//
// All PCM in this package is signed 16-bit little-endian mono.
package audio

import (
	"context"
)

// Source is a continuous audio capture device.
//
// Implementations must be safe for a single concurrent Capture call.
type Source interface {
	// Capture reads frames from the device and hands each one to emit until
	// ctx is cancelled, the source is exhausted, or the device fails.
	//
	// emit must never block; callers that cannot keep up are expected to drop
	// frames on their side. Capture returns nil when ctx is cancelled or a
	// finite source reaches its end, and a non-nil error on device failure.
	Capture(ctx context.Context, emit func(AudioFrame)) error

	// SampleRate returns the rate in Hz of the frames passed to emit.
	SampleRate() int

	// Close releases device resources. Safe to call more than once.
	Close() error
}

// Sink is a playback device.
//
// Implementations must be safe for concurrent use, but only one goroutine is
// expected to call Write at a time.
type Sink interface {
	// Write plays pcm. It may block for roughly the duration of the chunk while
	// the device accepts it.
	Write(pcm []byte) error

	// SampleRate returns the rate in Hz that Write expects.
	SampleRate() int

	// Close releases device resources. Safe to call more than once.
	Close() error
}
