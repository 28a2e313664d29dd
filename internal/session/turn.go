package session

import "time"

// Speaker identifies who produced a [Turn].
type Speaker int

const (
	// User is the human on the microphone.
	User Speaker = iota

	// Assistant is the agent.
	Assistant
)

// String returns the speaker name.
func (s Speaker) String() string {
	switch s {
	case User:
		return "user"
	case Assistant:
		return "assistant"
	default:
		return "unknown"
	}
}

// Turn is one completed utterance in the conversation. Turns are values and
// are never modified after they are appended.
type Turn struct {
	Speaker   Speaker
	Text      string
	Timestamp time.Time
}
