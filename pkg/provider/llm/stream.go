package llm

import (
	"context"
	"iter"
)

// Pipe delivers chunks on a channel, the way [Provider.StreamCompletion]
// returns them. Chunks with neither text nor a finish reason are skipped.
// Once chunks is exhausted, a non-nil result from streamErr is sent as a
// [FinishReasonError] chunk unless ctx has been cancelled. The channel closes
// when chunks ends or ctx is cancelled.
func Pipe(ctx context.Context, chunks iter.Seq[Chunk], streamErr func() error) <-chan Chunk {
	out := make(chan Chunk, 32)
	go func() {
		defer close(out)
		for c := range chunks {
			if c.Text == "" && c.FinishReason == "" {
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		if err := streamErr(); err != nil && ctx.Err() == nil {
			select {
			case out <- Chunk{Text: err.Error(), FinishReason: FinishReasonError}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}
