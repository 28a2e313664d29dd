package tts

import (
	"context"
	"strings"

	"github.com/MrWong99/parley/pkg/audio"
)

const (
	// lookahead bounds how many sentence requests may be in flight at once.
	lookahead = 4

	// pcmChunkSize is the size of each PCM chunk emitted on the audio channel.
	pcmChunkSize = 4096
)

// SynthesizeFunc renders one sentence to 16-bit mono PCM at the segment rate.
type SynthesizeFunc func(ctx context.Context, sentence string) ([]byte, error)

// SynthesizeSentences adapts a request-per-utterance backend to the streaming
// contract. Incoming text is cut into sentences; each sentence is synthesised
// by fn with up to a few requests in flight, and the PCM is emitted in
// sentence order. The first synthesis error ends the stream and is recorded on
// the segment.
func SynthesizeSentences(ctx context.Context, text <-chan string, sampleRate int, fn SynthesizeFunc) *audio.AudioSegment {
	audioCh := make(chan []byte, 64)
	seg := &audio.AudioSegment{Audio: audioCh, SampleRate: sampleRate}

	type result struct {
		pcm []byte
		err error
	}

	go func() {
		defer close(audioCh)

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		sentences := make(chan string, lookahead)
		queue := make(chan chan result, lookahead)

		// Accumulator: fragments in, sentences out.
		go func() {
			defer close(sentences)
			defer func() {
				if ctx.Err() != nil {
					go audio.Drain(text)
				}
			}()
			var buf string
			for {
				select {
				case fragment, ok := <-text:
					var ready []string
					if !ok {
						if rest := strings.TrimSpace(buf); rest != "" {
							ready = append(ready, rest)
						}
					} else {
						ready, buf = SplitSentences(buf + fragment)
					}
					for _, s := range ready {
						select {
						case sentences <- s:
						case <-ctx.Done():
							return
						}
					}
					if !ok {
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()

		// Dispatcher: one request per sentence, results queued in order.
		go func() {
			defer close(queue)
			for s := range sentences {
				out := make(chan result, 1)
				select {
				case queue <- out:
				case <-ctx.Done():
					return
				}
				go func() {
					pcm, err := fn(ctx, s)
					out <- result{pcm: pcm, err: err}
				}()
			}
		}()

		// Collector.
		for out := range queue {
			var r result
			select {
			case r = <-out:
			case <-ctx.Done():
				return
			}
			if r.err != nil {
				if ctx.Err() == nil {
					seg.SetStreamErr(r.err)
				}
				return
			}
			for pcm := r.pcm; len(pcm) > 0; {
				n := min(pcmChunkSize, len(pcm))
				select {
				case audioCh <- pcm[:n]:
				case <-ctx.Done():
					return
				}
				pcm = pcm[n:]
			}
		}
	}()

	return seg
}
