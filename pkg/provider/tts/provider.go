// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a speech synthesis service (ElevenLabs, a Coqui server,
// an OpenAI-compatible speech endpoint such as Kokoro-FastAPI) and presents a
// uniform streaming interface. SynthesizeStream accepts a channel of text
// chunks and returns an [audio.AudioSegment] whose PCM arrives as it is
// synthesised, so playback can start while the language model is still
// generating.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/parley/pkg/audio"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text chunks until the text channel is closed and
	// returns a segment emitting 16-bit mono PCM at segment.SampleRate.
	//
	// The segment's Audio channel is closed when all text has been synthesised,
	// when a synthesis error occurs (recorded through SetStreamErr), or when ctx
	// is cancelled. Cancelling ctx must stop synthesis, not just delivery.
	//
	// The caller closes text when the reply is complete and must stop sending
	// once ctx is cancelled or the Audio channel has closed.
	//
	// The error return is non-nil only if the stream cannot be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (*audio.AudioSegment, error)

	// ListVoices returns the voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
