package energy_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/provider/vad/energy"
)

// tone returns a 20 ms frame at 16 kHz of a square wave with the given
// amplitude.
func tone(amp int16) []byte {
	buf := make([]byte, 640)
	for i := range 320 {
		v := amp
		if i%2 == 1 {
			v = -amp
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func newSession(t *testing.T) vad.SessionHandle {
	t.Helper()
	s, err := energy.New().NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 0.5})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func TestProcessFrame_Classifies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		frame  []byte
		speech bool
	}{
		{name: "silence", frame: tone(0), speech: false},
		{name: "quiet noise", frame: tone(100), speech: false},
		{name: "loud voice", frame: tone(8000), speech: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newSession(t)
			r, err := s.ProcessFrame(tt.frame)
			if err != nil {
				t.Fatalf("ProcessFrame: %v", err)
			}
			if r.Speech != tt.speech {
				t.Errorf("Speech = %v (p=%.3f), want %v", r.Speech, r.Probability, tt.speech)
			}
			if r.Probability < 0 || r.Probability > 1 {
				t.Errorf("Probability %v out of range", r.Probability)
			}
		})
	}
}

func TestProcessFrame_AdaptsToNoiseFloor(t *testing.T) {
	t.Parallel()

	s := newSession(t)
	// A steady hum just under the absolute gate raises the floor, so a frame
	// only slightly louder than the hum is no longer speech.
	for range 200 {
		if _, err := s.ProcessFrame(tone(450)); err != nil {
			t.Fatal(err)
		}
	}
	r, err := s.ProcessFrame(tone(700))
	if err != nil {
		t.Fatal(err)
	}
	if r.Speech {
		t.Errorf("frame near noise floor classified as speech (p=%.3f)", r.Probability)
	}

	s.Reset()
	r, err = s.ProcessFrame(tone(700))
	if err != nil {
		t.Fatal(err)
	}
	if !r.Speech {
		t.Errorf("after Reset, frame above absolute gate not speech (p=%.3f)", r.Probability)
	}
}

func TestProcessFrame_WrongSize(t *testing.T) {
	t.Parallel()

	s := newSession(t)
	if _, err := s.ProcessFrame(make([]byte, 10)); err == nil {
		t.Error("expected error for short frame")
	}
}

func TestProcessFrame_AfterClose(t *testing.T) {
	t.Parallel()

	s := newSession(t)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ProcessFrame(tone(0)); err == nil {
		t.Error("expected error after Close")
	}
}

func TestNewSession_InvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{name: "zero rate", cfg: vad.Config{FrameSizeMs: 20}},
		{name: "zero frame", cfg: vad.Config{SampleRate: 16000}},
		{name: "threshold too high", cfg: vad.Config{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := energy.New().NewSession(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
