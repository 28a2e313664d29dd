//go:build portaudio

package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/parley/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Source = (*Microphone)(nil)
	_ audio.Sink   = (*Speaker)(nil)
)

// Microphone captures mono 16-bit audio from the default input device.
type Microphone struct {
	rate   int
	frame  time.Duration
	buf    []int16
	stream *portaudio.Stream

	closeOnce sync.Once
}

// NewMicrophone opens the default input device at sampleRate, delivering one
// frame of the given duration per read.
func NewMicrophone(sampleRate int, frame time.Duration) (audio.Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("device: initialise portaudio: %w", err)
	}
	n := audio.FrameBytes(sampleRate, frame) / 2
	buf := make([]int16, n)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), n, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("device: open input stream: %w", err)
	}
	return &Microphone{rate: sampleRate, frame: frame, buf: buf, stream: stream}, nil
}

// Capture implements [audio.Source]. Input overflows are logged and skipped;
// any other read error is returned.
func (m *Microphone) Capture(ctx context.Context, emit func(audio.AudioFrame)) error {
	if err := m.stream.Start(); err != nil {
		return fmt.Errorf("device: start input stream: %w", err)
	}
	defer m.stream.Stop()
	slog.Info("microphone started", "sample_rate", m.rate, "frame", m.frame)

	var ts time.Duration
	for ctx.Err() == nil {
		if err := m.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				slog.Debug("microphone input overflowed")
				continue
			}
			return fmt.Errorf("device: read input stream: %w", err)
		}
		data := make([]byte, len(m.buf)*2)
		for i, s := range m.buf {
			binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
		}
		emit(audio.AudioFrame{Data: data, SampleRate: m.rate, Timestamp: ts})
		ts += m.frame
	}
	return nil
}

// SampleRate implements [audio.Source].
func (m *Microphone) SampleRate() int { return m.rate }

// Close implements [audio.Source].
func (m *Microphone) Close() error {
	var err error
	m.closeOnce.Do(func() {
		err = m.stream.Close()
		portaudio.Terminate()
	})
	return err
}

// Speaker plays mono 16-bit audio on the default output device.
type Speaker struct {
	rate int

	mu     sync.Mutex
	buf    []int16
	stream *portaudio.Stream

	closeOnce sync.Once
}

// NewSpeaker opens and starts the default output device at sampleRate. Writes
// are split into device buffers of the given frame duration.
func NewSpeaker(sampleRate int, frame time.Duration) (audio.Sink, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("device: initialise portaudio: %w", err)
	}
	n := audio.FrameBytes(sampleRate, frame) / 2
	buf := make([]int16, n)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), n, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("device: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("device: start output stream: %w", err)
	}
	return &Speaker{rate: sampleRate, buf: buf, stream: stream}, nil
}

// Write implements [audio.Sink]. The final partial buffer is padded with
// silence.
func (s *Speaker) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples := len(pcm) / 2
	for off := 0; off < samples; off += len(s.buf) {
		for i := range s.buf {
			if off+i < samples {
				s.buf[i] = int16(binary.LittleEndian.Uint16(pcm[(off+i)*2:]))
			} else {
				s.buf[i] = 0
			}
		}
		if err := s.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return fmt.Errorf("device: write output stream: %w", err)
		}
	}
	return nil
}

// SampleRate implements [audio.Sink].
func (s *Speaker) SampleRate() int { return s.rate }

// Close implements [audio.Sink].
func (s *Speaker) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.stream.Stop()
		err = s.stream.Close()
		portaudio.Terminate()
	})
	return err
}
