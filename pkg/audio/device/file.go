// Package device provides concrete [audio.Source] and [audio.Sink]
// implementations: the system microphone and speaker via PortAudio (build tag
// "portaudio") and WAV files for headless runs.
package device

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Source = (*FileSource)(nil)
	_ audio.Sink   = (*FileSink)(nil)
)

// FileSource replays a 16-bit PCM WAV file as a capture stream. Frames are
// paced in real time unless created with realtime=false. When the file is
// exhausted, a tail of silence is emitted so the segmenter can close the final
// utterance, then Capture returns nil.
type FileSource struct {
	pcm      []byte
	rate     int
	frame    time.Duration
	tail     time.Duration
	realtime bool
}

// NewFileSource loads path and resamples it to sampleRate.
func NewFileSource(path string, sampleRate int, frame time.Duration, realtime bool) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("device: read %q: %w", path, err)
	}
	pcm, rate, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("device: decode %q: %w", path, err)
	}
	return &FileSource{
		pcm:      audio.Resample(pcm, rate, sampleRate),
		rate:     sampleRate,
		frame:    frame,
		tail:     2 * time.Second,
		realtime: realtime,
	}, nil
}

// Capture implements [audio.Source].
func (s *FileSource) Capture(ctx context.Context, emit func(audio.AudioFrame)) error {
	frameBytes := audio.FrameBytes(s.rate, s.frame)
	if frameBytes <= 0 {
		return fmt.Errorf("device: invalid frame size for %d Hz / %s", s.rate, s.frame)
	}
	silence := make([]byte, frameBytes)
	total := len(s.pcm) + audio.FrameBytes(s.rate, s.tail)

	var ticker *time.Ticker
	if s.realtime {
		ticker = time.NewTicker(s.frame)
		defer ticker.Stop()
	}

	var ts time.Duration
	for off := 0; off < total; off += frameBytes {
		if ctx.Err() != nil {
			return nil
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}

		data := silence
		if off < len(s.pcm) {
			data = make([]byte, frameBytes)
			copy(data, s.pcm[off:min(off+frameBytes, len(s.pcm))])
		}
		emit(audio.AudioFrame{Data: data, SampleRate: s.rate, Timestamp: ts})
		ts += s.frame
	}
	return nil
}

// SampleRate implements [audio.Source].
func (s *FileSource) SampleRate() int { return s.rate }

// Close implements [audio.Source].
func (s *FileSource) Close() error { return nil }

// FileSink records played audio into a WAV file. The header is written on
// Close, so an unclosed file is truncated.
type FileSink struct {
	path string
	rate int

	mu     sync.Mutex
	pcm    []byte
	closed bool
}

// NewFileSink creates a sink that writes to path on Close.
func NewFileSink(path string, sampleRate int) *FileSink {
	return &FileSink{path: path, rate: sampleRate}
}

// Write implements [audio.Sink].
func (s *FileSink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("device: write to closed file sink %q", s.path)
	}
	s.pcm = append(s.pcm, pcm...)
	return nil
}

// SampleRate implements [audio.Sink].
func (s *FileSink) SampleRate() int { return s.rate }

// Close implements [audio.Sink].
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := os.WriteFile(s.path, audio.EncodeWAV(s.pcm, s.rate), 0o644); err != nil {
		return fmt.Errorf("device: write %q: %w", s.path, err)
	}
	return nil
}
