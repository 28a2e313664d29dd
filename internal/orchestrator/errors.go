package orchestrator

import (
	"errors"
	"fmt"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrInterrupted marks work abandoned because the user barged in or the
// session is shutting down. It is expected and never reported as a failure.
// It is the same value the player returns for a cut-off segment.
var ErrInterrupted = audio.ErrInterrupted

// ErrAlreadyRunning is returned by [Orchestrator.Run] when called twice.
var ErrAlreadyRunning = errors.New("orchestrator: already running")

// CaptureError reports that the audio input failed. It is fatal: the
// conversation cannot continue without a microphone.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string { return fmt.Sprintf("orchestrator: capture: %v", e.Err) }
func (e *CaptureError) Unwrap() error { return e.Err }

// TranscriptionError reports a failed or timed-out transcription. The
// utterance is dropped and the loop keeps listening.
type TranscriptionError struct {
	Turn uint64
	Err  error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("orchestrator: turn %d: transcribe: %v", e.Turn, e.Err)
}
func (e *TranscriptionError) Unwrap() error { return e.Err }

// GenerationError reports a failed or timed-out reply generation. Any text
// produced before the failure is still spoken and committed.
type GenerationError struct {
	Turn uint64
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("orchestrator: turn %d: generate: %v", e.Turn, e.Err)
}
func (e *GenerationError) Unwrap() error { return e.Err }

// SynthesisError reports a failed speech synthesis or playback. The reply
// stays committed; only the rest of the audio is lost.
type SynthesisError struct {
	Turn uint64
	Err  error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("orchestrator: turn %d: synthesize: %v", e.Turn, e.Err)
}
func (e *SynthesisError) Unwrap() error { return e.Err }
