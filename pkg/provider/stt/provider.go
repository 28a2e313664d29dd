// Package stt defines the Transcriber contract used to turn one finished
// speech segment into text.
//
// Transcription is batch: the caller hands over the whole segment and receives
// the full transcript. Implementations must honour ctx cancellation promptly
// because the orchestrator abandons a transcription when the user starts
// speaking again or the stage timeout expires.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Provider transcribes complete utterances.
type Provider interface {
	// Transcribe converts req.Audio into text. An empty transcript (after
	// whitespace trimming) is a valid result, not an error.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}
