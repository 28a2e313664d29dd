package segment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/segment"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
	vadmock "github.com/MrWong99/parley/pkg/provider/vad/mock"
)

const (
	rate      = 16000
	frameDur  = 20 * time.Millisecond
	frameSize = 640
)

// byteClassifier marks a frame as speech when its first byte is non-zero.
func byteClassifier() *vadmock.Session {
	return &vadmock.Session{Classify: func(frame []byte) vad.Result {
		if len(frame) > 0 && frame[0] != 0 {
			return vad.Result{Speech: true, Probability: 0.9}
		}
		return vad.Result{Probability: 0.1}
	}}
}

// frames builds a frame sequence from a pattern: 'v' voiced, '.' silent.
// Voiced frames carry their index in byte 1 so tests can check ordering.
func frames(pattern string) []audio.AudioFrame {
	out := make([]audio.AudioFrame, len(pattern))
	for i, c := range pattern {
		data := make([]byte, frameSize)
		if c == 'v' {
			data[0] = 1
			data[1] = byte(i)
		}
		out[i] = audio.AudioFrame{Data: data, SampleRate: rate, Timestamp: time.Duration(i) * frameDur}
	}
	return out
}

func observeAll(t *testing.T, s *segment.Segmenter, fs []audio.AudioFrame) []segment.Event {
	t.Helper()
	var events []segment.Event
	for _, f := range fs {
		ev, err := s.Observe(f)
		if err != nil {
			t.Fatalf("Observe: %v", err)
		}
		if ev.Type == segment.SpeechStarted || ev.Type == segment.SpeechEnded {
			events = append(events, ev)
		}
	}
	return events
}

func TestSegmenter_StartDebounce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		pattern     string
		wantStarted bool
		wantAt      time.Duration
	}{
		{name: "transient noise", pattern: "vv.vv.", wantStarted: false},
		{name: "exactly K", pattern: "..vvv", wantStarted: true, wantAt: 2 * frameDur},
		{name: "restart after gap", pattern: "v.vvv", wantStarted: true, wantAt: 2 * frameDur},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := segment.New(byteClassifier(), segment.Config{StartFrames: 3, EndFrames: 4})
			events := observeAll(t, s, frames(tt.pattern))
			if !tt.wantStarted {
				if len(events) != 0 {
					t.Fatalf("events = %v, want none", events)
				}
				return
			}
			if len(events) != 1 || events[0].Type != segment.SpeechStarted {
				t.Fatalf("events = %v, want one SpeechStarted", events)
			}
			if events[0].At != tt.wantAt {
				t.Errorf("At = %v, want %v", events[0].At, tt.wantAt)
			}
			if !s.InSpeech() {
				t.Error("InSpeech = false after start")
			}
		})
	}
}

func TestSegmenter_EndDebounceKeepsGapsAndTrimsTail(t *testing.T) {
	t.Parallel()

	s := segment.New(byteClassifier(), segment.Config{StartFrames: 3, EndFrames: 4})
	// Start at frame 0, short pause (3 < M) at 3-5, speech 6-7, then end.
	events := observeAll(t, s, frames("vvv...vv...."))

	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Type != segment.SpeechStarted || events[1].Type != segment.SpeechEnded {
		t.Fatalf("event types = %v,%v", events[0].Type, events[1].Type)
	}

	seg := events[1].Segment
	if seg == nil {
		t.Fatal("SpeechEnded without segment")
	}
	// Frames 0..7 inclusive: 5 voiced + 3 gap frames; trailing 4 trimmed.
	if got, want := len(seg.Audio), 8*frameSize; got != want {
		t.Errorf("segment bytes = %d, want %d", got, want)
	}
	if seg.Start != 0 || seg.End != 7*frameDur {
		t.Errorf("segment span = %v..%v, want 0..%v", seg.Start, seg.End, 7*frameDur)
	}
	if seg.SampleRate != rate {
		t.Errorf("SampleRate = %d, want %d", seg.SampleRate, rate)
	}
	// Order is preserved.
	if seg.Audio[7*frameSize+1] != 7 {
		t.Errorf("last voiced frame index = %d, want 7", seg.Audio[7*frameSize+1])
	}
	if s.InSpeech() {
		t.Error("InSpeech = true after end")
	}
}

func TestSegmenter_OneSegmentPerUtterance(t *testing.T) {
	t.Parallel()

	s := segment.New(byteClassifier(), segment.Config{StartFrames: 2, EndFrames: 3})
	events := observeAll(t, s, frames("vvvv...vv....vvvvv...."))

	var started, ended int
	for _, ev := range events {
		switch ev.Type {
		case segment.SpeechStarted:
			started++
			if started != ended+1 {
				t.Fatalf("SpeechStarted without preceding SpeechEnded")
			}
		case segment.SpeechEnded:
			ended++
		}
	}
	if started != 3 || ended != 3 {
		t.Errorf("started=%d ended=%d, want 3/3", started, ended)
	}
}

func TestSegmenter_MaxSegmentForcesEnd(t *testing.T) {
	t.Parallel()

	s := segment.New(byteClassifier(), segment.Config{
		StartFrames: 1,
		EndFrames:   10,
		MaxSegment:  5 * frameDur,
	})
	events := observeAll(t, s, frames("vvvvvvvvvvvv"))

	if len(events) < 3 {
		t.Fatalf("events = %d, want at least 3", len(events))
	}
	if events[1].Type != segment.SpeechEnded {
		t.Fatalf("second event = %v, want SpeechEnded", events[1].Type)
	}
	if got := len(events[1].Segment.Audio); got > 5*frameSize {
		t.Errorf("forced segment = %d bytes, exceeds cap %d", got, 5*frameSize)
	}
	if events[2].Type != segment.SpeechStarted {
		t.Errorf("third event = %v, want SpeechStarted", events[2].Type)
	}
}

func TestSegmenter_Flush(t *testing.T) {
	t.Parallel()

	s := segment.New(byteClassifier(), segment.Config{StartFrames: 2, EndFrames: 5})
	if _, ok := s.Flush(); ok {
		t.Fatal("Flush on idle segmenter reported an utterance")
	}
	observeAll(t, s, frames("vvv"))
	ev, ok := s.Flush()
	if !ok || ev.Type != segment.SpeechEnded {
		t.Fatalf("Flush = %v,%v, want SpeechEnded", ev.Type, ok)
	}
	if got := len(ev.Segment.Audio); got != 3*frameSize {
		t.Errorf("flushed bytes = %d, want %d", got, 3*frameSize)
	}
}

func TestSegmenter_Errors(t *testing.T) {
	t.Parallel()

	t.Run("sample rate change", func(t *testing.T) {
		t.Parallel()
		s := segment.New(byteClassifier(), segment.Config{})
		if _, err := s.Observe(audio.AudioFrame{Data: make([]byte, frameSize), SampleRate: rate}); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Observe(audio.AudioFrame{Data: make([]byte, 960), SampleRate: 24000}); err == nil {
			t.Error("expected error on sample rate change")
		}
	})

	t.Run("vad failure", func(t *testing.T) {
		t.Parallel()
		wantErr := errors.New("model crashed")
		s := segment.New(&vadmock.Session{ProcessFrameErr: wantErr}, segment.Config{})
		_, err := s.Observe(audio.AudioFrame{Data: make([]byte, frameSize), SampleRate: rate})
		if !errors.Is(err, wantErr) {
			t.Errorf("err = %v, want %v", err, wantErr)
		}
	})
}

func TestSegmenter_Reset(t *testing.T) {
	t.Parallel()

	sess := byteClassifier()
	s := segment.New(sess, segment.Config{StartFrames: 1})
	observeAll(t, s, frames("vv"))
	s.Reset()
	if s.InSpeech() {
		t.Error("InSpeech after Reset")
	}
	if sess.ResetCallCount != 1 {
		t.Errorf("vad Reset calls = %d, want 1", sess.ResetCallCount)
	}
}

func TestPump_ForwardsBoundaryEvents(t *testing.T) {
	t.Parallel()

	s := segment.New(byteClassifier(), segment.Config{StartFrames: 2, EndFrames: 2})
	p := segment.NewPump(s, segment.WithQueueFrames(64))

	for _, f := range frames("..vvvv..vvv") {
		p.Push(f)
	}
	p.Close()
	p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var got []segment.EventType
	for ev := range p.Events() {
		got = append(got, ev.Type)
	}
	// The second utterance is closed by the flush at end of stream.
	want := []segment.EventType{segment.SpeechStarted, segment.SpeechEnded, segment.SpeechStarted, segment.SpeechEnded}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPump_DropsOldestWhenFull(t *testing.T) {
	t.Parallel()

	var hooked int
	s := segment.New(byteClassifier(), segment.Config{StartFrames: 1, EndFrames: 1})
	p := segment.NewPump(s, segment.WithQueueFrames(4), segment.WithDropHook(func() { hooked++ }))

	// Nothing consumes yet: 10 pushes into a queue of 4 drop the 6 oldest.
	fs := frames("vvvvvvvvvv")
	for _, f := range fs {
		p.Push(f)
	}
	if got := p.Dropped(); got != 6 {
		t.Fatalf("Dropped = %d, want 6", got)
	}
	if hooked != 6 {
		t.Errorf("drop hook calls = %d, want 6", hooked)
	}

	p.Close()
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	var ended *segment.Segment
	for ev := range p.Events() {
		if ev.Type == segment.SpeechEnded {
			ended = ev.Segment
		}
	}
	if ended == nil {
		t.Fatal("no segment emitted")
	}
	// The surviving frames are the newest four: indices 6..9.
	if first := ended.Audio[1]; first != 6 {
		t.Errorf("first surviving frame = %d, want 6", first)
	}
}

func TestPump_PushAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	p := segment.NewPump(segment.New(byteClassifier(), segment.Config{}))
	p.Close()
	p.Push(frames("v")[0])
	if p.Dropped() != 0 {
		t.Errorf("Dropped = %d after closed push", p.Dropped())
	}
}

func TestPump_StopsOnCancel(t *testing.T) {
	t.Parallel()

	p := segment.NewPump(segment.New(byteClassifier(), segment.Config{}))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, ok := <-p.Events(); ok {
		t.Error("Events channel not closed")
	}
}
