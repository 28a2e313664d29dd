package orchestrator

import (
	"cmp"
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/segment"
	"github.com/MrWong99/parley/internal/speech"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

// turn is one user utterance and the reply to it. Fields other than ctx,
// id and seg are owned by the loop goroutine.
type turn struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span
	seg    *segment.Segment
	heard  time.Time

	reply     strings.Builder
	generated bool
}

type resultKind int

const (
	resultTranscribed resultKind = iota
	resultToken
	resultGenerated
	resultSpoken
)

// result is what a worker goroutine reports back to the loop.
type result struct {
	turn uint64
	kind resultKind
	text string
	err  error
}

func (o *Orchestrator) transcribe(t *turn) {
	defer o.wg.Done()

	ctx, cancel := context.WithTimeout(t.ctx, o.cfg.TranscribeTimeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, observe.SpanTranscribe)

	start := time.Now()
	tr, err := o.cfg.STT.Transcribe(ctx, stt.Request{
		Audio:      t.seg.Audio,
		SampleRate: t.seg.SampleRate,
		Language:   o.cfg.Language,
	})
	o.metrics.RecordStage(ctx, observe.StageTranscribe, time.Since(start))
	observe.EndSpan(span, err)
	o.post(result{turn: t.id, kind: resultTranscribed, text: tr.Text, err: err})
}

// reply streams the model's answer, feeds it to the speaker and reports the
// outcome of generation and then of playback.
func (o *Orchestrator) reply(t *turn, req llm.CompletionRequest) {
	defer o.wg.Done()

	var sp *speaker
	if !o.cfg.DisableSpeech {
		sp = o.newSpeaker(t)
	}

	ctx, cancel := context.WithTimeout(t.ctx, o.cfg.GenerateTimeout)
	ctx, span := observe.StartSpan(ctx, observe.SpanGenerate)
	start := time.Now()
	err := o.stream(ctx, t, req, sp)
	o.metrics.RecordStage(ctx, observe.StageGenerate, time.Since(start))
	observe.EndSpan(span, err)
	cancel()

	o.post(result{turn: t.id, kind: resultGenerated, err: err})
	if sp != nil {
		o.post(result{turn: t.id, kind: resultSpoken, err: sp.finish()})
	}
}

func (o *Orchestrator) stream(ctx context.Context, t *turn, req llm.CompletionRequest, sp *speaker) error {
	ch, err := o.cfg.LLM.StreamCompletion(ctx, req)
	if err != nil {
		return err
	}

	chunker := speech.NewChunker(o.cfg.Chunking)
	flush := func() {
		if sp != nil {
			sp.say(chunker.Flush())
		}
	}

	for {
		select {
		case <-ctx.Done():
			go audio.Drain(ch)
			flush()
			return ctx.Err()
		case c, ok := <-ch:
			if !ok {
				flush()
				return nil
			}
			if c.IsError() {
				flush()
				return fmt.Errorf("orchestrator: llm stream: %s", cmp.Or(c.Text, "failed"))
			}
			if c.Text != "" {
				o.post(result{turn: t.id, kind: resultToken, text: c.Text})
				if sp != nil {
					for _, part := range chunker.Push(c.Text) {
						sp.say(part)
					}
				}
			}
			if c.FinishReason != "" {
				flush()
				return nil
			}
		}
	}
}
