//go:build !portaudio

package device

import (
	"errors"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrNoPortAudio is returned when the binary was built without PortAudio.
var ErrNoPortAudio = errors.New("device: audio devices not available: rebuild with -tags portaudio")

// NewMicrophone is unavailable without the portaudio build tag.
func NewMicrophone(int, time.Duration) (audio.Source, error) {
	return nil, ErrNoPortAudio
}

// NewSpeaker is unavailable without the portaudio build tag.
func NewSpeaker(int, time.Duration) (audio.Sink, error) {
	return nil, ErrNoPortAudio
}
