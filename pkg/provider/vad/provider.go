// Package vad defines the Engine interface for frame-level voice activity
// classification.
//
// A VAD engine answers one question per audio frame: does this frame contain
// speech? Debouncing and segmentation (how many voiced frames start an
// utterance, how many silent frames end it) are deliberately left to the
// caller, see internal/segment.
//
// Each session keeps its own classifier state (noise floor, smoothing history),
// so multiple audio streams can be processed independently. ProcessFrame is
// synchronous and must not block, making it suitable for the capture path.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	FrameSizeMs int

	// SpeechThreshold is the probability at or above which a frame is
	// classified as speech. Range: [0.0, 1.0]. Typical: 0.5.
	SpeechThreshold float64
}

// SessionHandle classifies the frames of a single audio stream.
type SessionHandle interface {
	// ProcessFrame classifies one frame of raw little-endian 16-bit PCM at the
	// session's SampleRate. Returns an error if the frame is malformed or the
	// engine fails internally.
	ProcessFrame(frame []byte) (Result, error)

	// Reset clears accumulated classifier state without closing the session.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewSession creates a new session with the given configuration. Returns an
	// error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
