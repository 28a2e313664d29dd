// Package energy provides a pure-Go [vad.Engine] that classifies frames by RMS
// energy relative to an adaptive noise floor.
//
// It needs no model files or cgo and is accurate enough for close-talking
// microphones. Frames whose RMS exceeds both the absolute minimum level and
// the tracked noise floor by the configured ratio are reported as speech.
package energy

import (
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

const (
	// DefaultMinLevel is the RMS level (fraction of full scale) below which a
	// frame is never speech.
	DefaultMinLevel = 0.015

	// DefaultFloorRatio is how far above the noise floor a frame must be.
	DefaultFloorRatio = 3.0

	// floorAdapt is the EMA weight applied to non-speech frames when tracking
	// the noise floor.
	floorAdapt = 0.05
)

// Option configures an [Engine].
type Option func(*Engine)

// WithMinLevel sets the absolute RMS level below which frames are silence.
func WithMinLevel(level float64) Option {
	return func(e *Engine) {
		if level > 0 {
			e.minLevel = level
		}
	}
}

// WithFloorRatio sets the factor by which speech must exceed the noise floor.
func WithFloorRatio(ratio float64) Option {
	return func(e *Engine) {
		if ratio >= 1 {
			e.floorRatio = ratio
		}
	}
}

// Engine creates energy-based VAD sessions.
type Engine struct {
	minLevel   float64
	floorRatio float64
}

var _ vad.Engine = (*Engine)(nil)

// New creates an [Engine].
func New(opts ...Option) *Engine {
	e := &Engine{minLevel: DefaultMinLevel, floorRatio: DefaultFloorRatio}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: invalid frame size %d ms", cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %v out of range [0, 1]", cfg.SpeechThreshold)
	}
	threshold := cfg.SpeechThreshold
	if threshold == 0 {
		threshold = 0.5
	}
	return &session{
		frameBytes: cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
		threshold:  threshold,
		minLevel:   e.minLevel,
		ratio:      e.floorRatio,
	}, nil
}

// session tracks the noise floor of one stream. Not safe for concurrent use.
type session struct {
	frameBytes int
	threshold  float64
	minLevel   float64
	ratio      float64

	floor  float64
	closed bool
}

var errClosed = errors.New("energy: session closed")

// ProcessFrame implements [vad.SessionHandle]. Frames of the wrong size are
// rejected.
func (s *session) ProcessFrame(frame []byte) (vad.Result, error) {
	if s.closed {
		return vad.Result{}, errClosed
	}
	if len(frame) != s.frameBytes {
		return vad.Result{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	level := audio.RMS(frame)
	gate := math.Max(s.minLevel, s.floor*s.ratio)

	// Map the level onto [0, 1] so that the gate sits at 0.5.
	p := math.Min(1, level/(2*gate))
	speech := p >= s.threshold

	if !speech {
		if s.floor == 0 {
			s.floor = level
		} else {
			s.floor += floorAdapt * (level - s.floor)
		}
	}
	return vad.Result{Speech: speech, Probability: p}, nil
}

// Reset implements [vad.SessionHandle].
func (s *session) Reset() {
	s.floor = 0
}

// Close implements [vad.SessionHandle].
func (s *session) Close() error {
	s.closed = true
	return nil
}
