package playback_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/mock"
	"github.com/MrWong99/parley/pkg/audio/playback"
)

// makeSegment returns a segment whose channel is pre-loaded with chunks and
// already closed.
func makeSegment(rate int, chunks ...[]byte) *audio.AudioSegment {
	ch := make(chan []byte, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return &audio.AudioSegment{Audio: ch, SampleRate: rate}
}

// makeOpenSegment returns a segment whose channel the caller controls.
func makeOpenSegment(rate int) (*audio.AudioSegment, chan []byte) {
	ch := make(chan []byte, 16)
	return &audio.AudioSegment{Audio: ch, SampleRate: rate}, ch
}

func TestPlay_Complete(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{Rate: 16000}
	p := playback.New(sink)

	seg := makeSegment(16000, make([]byte, 640), make([]byte, 640))
	if err := p.Play(context.Background(), seg); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if got := len(sink.Written()); got != 2 {
		t.Errorf("writes = %d, want 2", got)
	}
	if p.Playing() {
		t.Error("Playing() = true after completion")
	}
}

func TestPlay_RechunksIntoFrames(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{Rate: 16000}
	p := playback.New(sink, playback.WithFrame(20*time.Millisecond))

	if err := p.Play(context.Background(), makeSegment(16000, make([]byte, 1000))); err != nil {
		t.Fatalf("Play: %v", err)
	}
	written := sink.Written()
	if len(written) != 2 {
		t.Fatalf("writes = %d, want 2", len(written))
	}
	if len(written[0]) != 640 || len(written[1]) != 360 {
		t.Errorf("frame sizes = %d,%d, want 640,360", len(written[0]), len(written[1]))
	}
}

func TestPlay_ResamplesToSinkRate(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{Rate: 48000}
	p := playback.New(sink)

	// 20 ms at 24 kHz becomes 20 ms at 48 kHz.
	if err := p.Play(context.Background(), makeSegment(24000, make([]byte, 960))); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if got := len(sink.Bytes()); got != 1920 {
		t.Errorf("bytes written = %d, want 1920", got)
	}
}

func TestPlay_StreamError(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{Rate: 16000}
	p := playback.New(sink)

	wantErr := errors.New("synthesis failed")
	seg, ch := makeOpenSegment(16000)
	ch <- make([]byte, 640)
	seg.SetStreamErr(wantErr)
	close(ch)

	if err := p.Play(context.Background(), seg); !errors.Is(err, wantErr) {
		t.Fatalf("Play err = %v, want %v", err, wantErr)
	}
	if got := len(sink.Written()); got != 1 {
		t.Errorf("writes = %d, want 1", got)
	}
}

func TestPlay_SinkError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("device gone")
	sink := &mock.Sink{Rate: 16000, WriteErr: wantErr}
	p := playback.New(sink)

	if err := p.Play(context.Background(), makeSegment(16000, make([]byte, 640))); !errors.Is(err, wantErr) {
		t.Fatalf("Play err = %v, want %v", err, wantErr)
	}
}

func TestInterrupt_StopsImmediately(t *testing.T) {
	t.Parallel()

	firstWrite := make(chan struct{}, 1)
	sink := &mock.Sink{Rate: 16000, OnWrite: func([]byte) {
		select {
		case firstWrite <- struct{}{}:
		default:
		}
	}}
	p := playback.New(sink)

	seg, ch := makeOpenSegment(16000)
	done := make(chan error, 1)
	go func() { done <- p.Play(context.Background(), seg) }()

	ch <- make([]byte, 640)
	select {
	case <-firstWrite:
	case <-time.After(2 * time.Second):
		t.Fatal("first frame never written")
	}

	if !p.Interrupt(audio.BargeIn) {
		t.Fatal("Interrupt reported nothing playing")
	}

	select {
	case err := <-done:
		if !errors.Is(err, audio.ErrInterrupted) {
			t.Fatalf("Play err = %v, want ErrInterrupted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Play did not return after Interrupt")
	}
	before := len(sink.Written())

	// Audio arriving after the interrupt must never reach the sink.
	ch <- make([]byte, 640)
	ch <- make([]byte, 640)
	close(ch)
	time.Sleep(50 * time.Millisecond)

	if after := len(sink.Written()); after != before {
		t.Errorf("writes after interrupt = %d, want %d", after, before)
	}
	if got := p.LastInterrupt(); got != audio.BargeIn {
		t.Errorf("LastInterrupt = %v, want BARGE_IN", got)
	}
}

func TestInterrupt_NothingPlaying(t *testing.T) {
	t.Parallel()

	p := playback.New(&mock.Sink{Rate: 16000})
	if p.Interrupt(audio.BargeIn) {
		t.Error("Interrupt on idle player reported true")
	}
}

func TestPlay_ContextCancel(t *testing.T) {
	t.Parallel()

	p := playback.New(&mock.Sink{Rate: 16000})
	seg, _ := makeOpenSegment(16000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Play(ctx, seg) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Play err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Play did not return after cancel")
	}
}

func TestPlay_NewSegmentInterruptsPrevious(t *testing.T) {
	t.Parallel()

	p := playback.New(&mock.Sink{Rate: 16000})

	first, _ := makeOpenSegment(16000)
	firstDone := make(chan error, 1)
	go func() { firstDone <- p.Play(context.Background(), first) }()

	deadline := time.Now().Add(2 * time.Second)
	for !p.Playing() {
		if time.Now().After(deadline) {
			t.Fatal("first segment never started")
		}
		time.Sleep(time.Millisecond)
	}

	if err := p.Play(context.Background(), makeSegment(16000, make([]byte, 640))); err != nil {
		t.Fatalf("second Play: %v", err)
	}
	select {
	case err := <-firstDone:
		if !errors.Is(err, audio.ErrInterrupted) {
			t.Errorf("first Play err = %v, want ErrInterrupted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first Play never returned")
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	p := playback.New(&mock.Sink{Rate: 16000})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := p.Play(context.Background(), makeSegment(16000, make([]byte, 2))); !errors.Is(err, playback.ErrClosed) {
		t.Errorf("Play after Close err = %v, want ErrClosed", err)
	}
}

func TestWithCeiling(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{Rate: 16000}
	p := playback.New(sink, playback.WithCeiling(0.5))

	loud := make([]byte, 640)
	for i := 0; i < len(loud); i += 2 {
		loud[i], loud[i+1] = 0xff, 0x7f // 32767
	}
	if err := p.Play(context.Background(), makeSegment(16000, loud)); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if peak := audio.Peak(sink.Bytes()); peak > 0.5001 {
		t.Errorf("peak = %v, want <= 0.5", peak)
	}
}
