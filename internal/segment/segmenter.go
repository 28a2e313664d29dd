// Package segment turns a continuous stream of audio frames into discrete
// speech segments.
//
// A [Segmenter] classifies each frame through a [vad.SessionHandle] and applies
// hysteresis on top: speech starts after K consecutive voiced frames and ends
// after M consecutive silent frames. Samples are accumulated as they stream in
// and never rescanned, and a segment is force-ended once it reaches the
// configured maximum length, so memory stays bounded.
//
// A [Pump] runs the segmenter on its own goroutine behind a drop-oldest frame
// queue so that capture never blocks on segmentation.
package segment

import (
	"fmt"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// EventType classifies the result of observing one frame.
type EventType int

const (
	// Silence means the frame was not part of an utterance.
	Silence EventType = iota

	// SpeechStarted means the frame completed the start debounce.
	SpeechStarted

	// Speech means an utterance is in progress and did not change state.
	Speech

	// SpeechEnded means the frame completed the end debounce, or the segment
	// hit its maximum length. The event carries the finished [Segment].
	SpeechEnded
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case Silence:
		return "SILENCE"
	case SpeechStarted:
		return "SPEECH_STARTED"
	case Speech:
		return "SPEECH"
	case SpeechEnded:
		return "SPEECH_ENDED"
	default:
		return "UNKNOWN"
	}
}

// Segment is one continuous span of detected speech.
type Segment struct {
	// Audio holds the 16-bit mono PCM of the utterance, trailing silence
	// trimmed. Ownership passes to the receiver of the SpeechEnded event.
	Audio []byte

	// SampleRate of Audio in Hz.
	SampleRate int

	// Start and End are capture timestamps of the first and last voiced frame.
	Start, End time.Duration
}

// Duration returns the length of the segment audio.
func (s *Segment) Duration() time.Duration {
	return audio.BytesDuration(len(s.Audio), s.SampleRate)
}

// Event is the result of [Segmenter.Observe].
type Event struct {
	Type EventType

	// At is the capture timestamp of the frame that produced the event.
	At time.Duration

	// Segment is set for SpeechEnded only.
	Segment *Segment
}

// Config holds the segmenter hysteresis parameters.
type Config struct {
	// StartFrames (K) is the number of consecutive voiced frames required to
	// start a segment. Default: 3.
	StartFrames int

	// EndFrames (M) is the number of consecutive silent frames required to end
	// a segment. Default: 25.
	EndFrames int

	// MaxSegment caps segment length. A segment reaching it is force-ended.
	// Default: 30s.
	MaxSegment time.Duration
}

func (c *Config) applyDefaults() {
	if c.StartFrames <= 0 {
		c.StartFrames = 3
	}
	if c.EndFrames <= 0 {
		c.EndFrames = 25
	}
	if c.MaxSegment <= 0 {
		c.MaxSegment = 30 * time.Second
	}
}

// Segmenter applies start/end hysteresis to per-frame VAD results.
// Not safe for concurrent use; a [Pump] owns it in practice.
type Segmenter struct {
	cfg Config
	vad vad.SessionHandle

	rate     int
	maxBytes int

	inSpeech bool
	voiced   int // consecutive voiced frames while waiting to start
	silent   int // consecutive silent frames while in speech

	pending      []byte // debounce frames held until the start is confirmed
	pendingStart time.Duration

	buf         []byte
	lastVoiced  int // len(buf) right after the most recent voiced frame
	start, last time.Duration
}

// New creates a [Segmenter] classifying frames with sess.
func New(sess vad.SessionHandle, cfg Config) *Segmenter {
	cfg.applyDefaults()
	return &Segmenter{cfg: cfg, vad: sess}
}

// InSpeech reports whether an utterance is currently in progress.
func (s *Segmenter) InSpeech() bool { return s.inSpeech }

// Observe classifies frame and advances the hysteresis state machine. All
// frames of a stream must share one sample rate.
func (s *Segmenter) Observe(frame audio.AudioFrame) (Event, error) {
	if s.rate == 0 {
		s.rate = frame.SampleRate
		s.maxBytes = audio.FrameBytes(s.rate, s.cfg.MaxSegment)
	} else if frame.SampleRate != s.rate {
		return Event{}, fmt.Errorf("segment: sample rate changed from %d to %d Hz", s.rate, frame.SampleRate)
	}

	res, err := s.vad.ProcessFrame(frame.Data)
	if err != nil {
		return Event{}, fmt.Errorf("segment: classify frame: %w", err)
	}

	if !s.inSpeech {
		return s.observeIdle(frame, res.Speech), nil
	}
	return s.observeSpeech(frame, res.Speech), nil
}

func (s *Segmenter) observeIdle(frame audio.AudioFrame, speech bool) Event {
	if !speech {
		s.voiced = 0
		s.pending = s.pending[:0]
		return Event{Type: Silence, At: frame.Timestamp}
	}

	if s.voiced == 0 {
		s.pendingStart = frame.Timestamp
	}
	s.voiced++
	s.pending = append(s.pending, frame.Data...)
	if s.voiced < s.cfg.StartFrames {
		return Event{Type: Silence, At: frame.Timestamp}
	}

	s.inSpeech = true
	s.voiced = 0
	s.silent = 0
	s.buf = append(make([]byte, 0, 2*len(s.pending)), s.pending...)
	s.pending = s.pending[:0]
	s.lastVoiced = len(s.buf)
	s.start = s.pendingStart
	s.last = frame.Timestamp
	return Event{Type: SpeechStarted, At: s.start}
}

func (s *Segmenter) observeSpeech(frame audio.AudioFrame, speech bool) Event {
	if len(s.buf)+len(frame.Data) > s.maxBytes {
		ev := s.finish(frame.Timestamp)
		// The overflowing frame seeds the next start debounce.
		if speech {
			s.voiced = 1
			s.pendingStart = frame.Timestamp
			s.pending = append(s.pending, frame.Data...)
		}
		return ev
	}

	s.buf = append(s.buf, frame.Data...)
	if speech {
		s.silent = 0
		s.lastVoiced = len(s.buf)
		s.last = frame.Timestamp
		return Event{Type: Speech, At: frame.Timestamp}
	}

	s.silent++
	if s.silent < s.cfg.EndFrames {
		return Event{Type: Speech, At: frame.Timestamp}
	}
	return s.finish(frame.Timestamp)
}

// finish closes the current segment and hands off its buffer.
func (s *Segmenter) finish(at time.Duration) Event {
	seg := &Segment{
		Audio:      s.buf[:s.lastVoiced],
		SampleRate: s.rate,
		Start:      s.start,
		End:        s.last,
	}
	s.buf = nil
	s.lastVoiced = 0
	s.inSpeech = false
	s.silent = 0
	return Event{Type: SpeechEnded, At: at, Segment: seg}
}

// Flush ends an utterance in progress, for use when the stream closes. The
// second return value is false if no utterance was in progress.
func (s *Segmenter) Flush() (Event, bool) {
	if !s.inSpeech {
		return Event{}, false
	}
	return s.finish(s.last), true
}

// Reset drops any utterance in progress and clears classifier state.
func (s *Segmenter) Reset() {
	s.inSpeech = false
	s.voiced = 0
	s.silent = 0
	s.pending = s.pending[:0]
	s.buf = nil
	s.lastVoiced = 0
	s.vad.Reset()
}
