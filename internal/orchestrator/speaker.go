package orchestrator

import (
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/speech"
	"github.com/MrWong99/parley/pkg/audio"
)

// speaker feeds reply text to one synthesis stream and plays the result. The
// stream is opened lazily on the first non-empty chunk, so a reply that turns
// out empty never reaches the synthesiser. say and finish are called from the
// reply worker only.
type speaker struct {
	o *Orchestrator
	t *turn

	text chan string
	done chan struct{} // closed when playback has returned
	err  error         // valid after done is closed

	started bool
	begun   time.Time
	span    trace.Span
}

func (o *Orchestrator) newSpeaker(t *turn) *speaker {
	return &speaker{
		o:    o,
		t:    t,
		text: make(chan string),
		done: make(chan struct{}),
	}
}

// prepare turns a released chunk into synthesiser input. Sentence and full
// chunks are cleaned and get a trailing space so consecutive chunks do not
// run together; tokens keep their own spacing.
func (s *speaker) prepare(chunk string) string {
	if s.o.cfg.Chunking == speech.Token {
		chunk = speech.StripMarkup(chunk)
		if strings.TrimSpace(chunk) == "" {
			return ""
		}
		return chunk
	}
	if chunk = speech.Clean(chunk); chunk == "" {
		return ""
	}
	return chunk + " "
}

func (s *speaker) say(chunk string) {
	if chunk = s.prepare(chunk); chunk == "" {
		return
	}
	if !s.started {
		s.start()
	}
	select {
	case s.text <- chunk:
	case <-s.done:
	case <-s.t.ctx.Done():
	}
}

func (s *speaker) start() {
	s.started = true
	s.begun = time.Now()
	ctx, span := observe.StartSpan(s.t.ctx, observe.SpanSpeak)
	s.span = span

	seg, err := s.o.cfg.TTS.SynthesizeStream(ctx, s.text, s.o.cfg.Voice)
	if err != nil {
		s.err = err
		close(s.done)
		return
	}
	played := s.tap(seg)
	go func() {
		defer close(s.done)
		s.err = s.o.cfg.Player.Play(s.t.ctx, played)
	}()
}

// tap forwards seg unchanged and records the latency from end of user speech
// to the first synthesised audio.
func (s *speaker) tap(seg *audio.AudioSegment) *audio.AudioSegment {
	out := make(chan []byte)
	tapped := &audio.AudioSegment{Audio: out, SampleRate: seg.SampleRate}
	go func() {
		defer close(out)
		first := true
		for chunk := range seg.Audio {
			if first {
				first = false
				s.o.metrics.FirstAudio.Record(s.t.ctx, time.Since(s.t.heard).Seconds())
			}
			select {
			case out <- chunk:
			case <-s.t.ctx.Done():
				go audio.Drain(seg.Audio)
				return
			}
		}
		if err := seg.Err(); err != nil {
			tapped.SetStreamErr(err)
		}
	}()
	return tapped
}

// finish signals the end of the reply text and waits for playback to end.
func (s *speaker) finish() error {
	if !s.started {
		return nil
	}
	close(s.text)
	<-s.done
	s.o.metrics.RecordStage(s.t.ctx, observe.StageSynthesize, time.Since(s.begun))
	observe.EndSpan(s.span, s.err)
	return s.err
}
