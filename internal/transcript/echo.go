// Package transcript filters finished transcripts before they reach the
// conversation.
//
// With an open microphone and loudspeakers the agent can hear itself: the
// tail of its own reply is captured, segmented and transcribed like any other
// utterance. [EchoFilter] recognises such transcripts by comparing them with
// the text the agent was speaking, using Double Metaphone keys so that the
// usual recognition errors ("sunni" for "sunny") still line up.
package transcript

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultThreshold = 0.8
	defaultMinWords  = 2

	// wordSimilarity is the Jaro-Winkler score at which two words with no
	// shared phonetic code are still considered the same.
	wordSimilarity = 0.9
)

// Option is a functional option for configuring an [EchoFilter].
type Option func(*EchoFilter)

// WithThreshold sets the fraction of transcript words that must line up, in
// order, with the reference for the transcript to count as echo.
// Default: 0.8.
func WithThreshold(threshold float64) Option {
	return func(f *EchoFilter) {
		if threshold > 0 && threshold <= 1 {
			f.threshold = threshold
		}
	}
}

// WithMinWords sets the shortest transcript that can be classified as echo.
// Shorter transcripts ("yes", "stop") always pass. Default: 2.
func WithMinWords(n int) Option {
	return func(f *EchoFilter) {
		if n > 0 {
			f.minWords = n
		}
	}
}

// EchoFilter detects transcripts that repeat the agent's own speech. It is
// read-only after construction and safe for concurrent use.
type EchoFilter struct {
	threshold float64
	minWords  int
}

// NewEchoFilter returns an [EchoFilter] configured with opts.
func NewEchoFilter(opts ...Option) *EchoFilter {
	f := &EchoFilter{threshold: defaultThreshold, minWords: defaultMinWords}
	for _, o := range opts {
		o(f)
	}
	return f
}

// IsEcho reports whether transcript is a recording of any of the references.
func (f *EchoFilter) IsEcho(transcript string, references ...string) bool {
	words := tokenize(transcript)
	if len(words) < f.minWords {
		return false
	}
	for _, ref := range references {
		if f.Score(words, tokenize(ref)) >= f.threshold {
			return true
		}
	}
	return false
}

// Score returns the fraction of words that match ref in order, in [0, 1].
func (f *EchoFilter) Score(words, ref []Word) float64 {
	if len(words) == 0 || len(ref) == 0 {
		return 0
	}
	return float64(alignedWords(words, ref)) / float64(len(words))
}

// Word is a normalised token with its Double Metaphone codes.
type Word struct {
	Text                string
	Primary, Alternate string
}

// tokenize lower-cases s, splits it on anything that is not a letter or
// digit, and encodes each word.
func tokenize(s string) []Word {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	words := make([]Word, 0, len(fields))
	for _, w := range fields {
		w = strings.ReplaceAll(w, "'", "")
		if w == "" {
			continue
		}
		p, a := matchr.DoubleMetaphone(w)
		words = append(words, Word{Text: w, Primary: p, Alternate: a})
	}
	return words
}

// sameWord reports whether a and b sound alike.
func sameWord(a, b Word) bool {
	if a.Text == b.Text {
		return true
	}
	for _, x := range [...]string{a.Primary, a.Alternate} {
		if x != "" && (x == b.Primary || x == b.Alternate) {
			return true
		}
	}
	return matchr.JaroWinkler(a.Text, b.Text, false) >= wordSimilarity
}

// alignedWords returns the length of the longest common subsequence of a and
// b under [sameWord].
func alignedWords(a, b []Word) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case sameWord(a[i-1], b[j-1]):
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
