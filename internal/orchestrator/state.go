package orchestrator

// State is the phase of the conversation loop.
type State int32

const (
	// Idle means the loop is not running.
	Idle State = iota

	// Listening means the loop waits for the user to finish an utterance.
	Listening

	// Transcribing means a finished utterance is being transcribed.
	Transcribing

	// Generating means the model is producing a reply and nothing has been
	// emitted yet.
	Generating

	// Speaking means reply text is flowing to the synthesiser (or the console)
	// while generation may still be running.
	Speaking
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Listening:
		return "LISTENING"
	case Transcribing:
		return "TRANSCRIBING"
	case Generating:
		return "GENERATING"
	case Speaking:
		return "SPEAKING"
	default:
		return "UNKNOWN"
	}
}

// replying reports whether a reply is in flight, which is when user speech
// counts as a barge-in.
func (s State) replying() bool {
	return s == Generating || s == Speaking
}

// InterruptPolicy decides what happens to reply text that was generated
// before a barge-in.
type InterruptPolicy string

const (
	// Discard drops the interrupted reply. The context only contains replies
	// that were generated to completion.
	Discard InterruptPolicy = "discard"

	// CommitPartial appends whatever had been generated as the assistant turn.
	CommitPartial InterruptPolicy = "commit_partial"
)
