package audio

import (
	"errors"
	"sync/atomic"
)

// ErrInterrupted is returned by a player when playback was cut short by
// [InterruptReason] rather than reaching the end of the stream.
var ErrInterrupted = errors.New("audio: playback interrupted")

// InterruptReason identifies why the current audio segment was cut short.
type InterruptReason int

const (
	// BargeIn indicates that the user started speaking while the assistant
	// was still talking.
	BargeIn InterruptReason = iota

	// Shutdown indicates that the session is ending.
	Shutdown
)

// String returns the human-readable name of the interrupt reason.
func (r InterruptReason) String() string {
	switch r {
	case BargeIn:
		return "BARGE_IN"
	case Shutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// AudioSegment is one streamed utterance of synthesized speech. Audio arrives
// incrementally on the Audio channel so playback can begin before synthesis is
// complete.
type AudioSegment struct {
	// Audio is a read-only channel of PCM chunks. The producer closes it when
	// the utterance ends or when a mid-stream error occurs. After the channel
	// closes, call [AudioSegment.Err] to check whether synthesis completed
	// cleanly.
	Audio <-chan []byte

	// SampleRate is the sample rate in Hz of the PCM on the Audio channel.
	// Must be > 0.
	SampleRate int

	streamErr atomic.Pointer[error]
}

// Err returns the error that caused the Audio channel to close prematurely,
// or nil if the stream completed successfully.
func (s *AudioSegment) Err() error {
	if p := s.streamErr.Load(); p != nil {
		return *p
	}
	return nil
}

// SetStreamErr records a mid-stream error. The producer should call this
// before closing the Audio channel.
func (s *AudioSegment) SetStreamErr(err error) {
	s.streamErr.Store(&err)
}
