package stt

import "time"

// Request is one utterance to transcribe.
type Request struct {
	// Audio is 16-bit signed little-endian mono PCM.
	Audio []byte

	// SampleRate of Audio in Hz.
	SampleRate int

	// Language is a BCP-47 hint such as "en". Empty lets the provider decide.
	Language string
}

// Duration returns the length of the request audio.
func (r Request) Duration() time.Duration {
	if r.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(r.Audio)/2) * time.Second / time.Duration(r.SampleRate)
}

// Transcript is the result of a transcription.
type Transcript struct {
	// Text is the recognised text, trimmed of surrounding whitespace.
	Text string

	// Confidence in [0, 1] when the provider reports one, otherwise 0.
	Confidence float64

	// Language detected or used by the provider, if known.
	Language string
}

// Empty reports whether the transcript carries no text.
func (t Transcript) Empty() bool { return t.Text == "" }
