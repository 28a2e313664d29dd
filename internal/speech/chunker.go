// Package speech decides how a streamed reply is released to the speech
// synthesiser and prepares the released text for rendering.
package speech

import (
	"fmt"
	"strings"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Mode selects when buffered reply text is released for synthesis.
type Mode string

const (
	// Sentence releases each complete sentence as soon as it is terminated.
	Sentence Mode = "sentence"

	// Token releases every token immediately.
	Token Mode = "token"

	// Full holds the whole reply until generation completes.
	Full Mode = "full"
)

// ParseMode validates s. An empty string selects [Sentence].
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return Sentence, nil
	case Sentence, Token, Full:
		return m, nil
	default:
		return "", fmt.Errorf("speech: unknown chunking mode %q (want sentence, token or full)", s)
	}
}

// Chunker accumulates generated tokens and releases synthesis-worthy chunks.
// It is owned by one goroutine.
type Chunker struct {
	mode Mode
	buf  string
}

// NewChunker creates a [Chunker]. An unknown mode behaves like [Sentence].
func NewChunker(mode Mode) *Chunker {
	switch mode {
	case Sentence, Token, Full:
	default:
		mode = Sentence
	}
	return &Chunker{mode: mode}
}

// Mode returns the release mode.
func (c *Chunker) Mode() Mode { return c.mode }

// Push adds a token and returns the chunks that are now ready, in order.
func (c *Chunker) Push(token string) []string {
	if token == "" {
		return nil
	}
	switch c.mode {
	case Token:
		return []string{token}
	case Full:
		c.buf += token
		return nil
	}
	var ready []string
	ready, c.buf = tts.SplitSentences(c.buf + token)
	return ready
}

// Flush returns whatever is still buffered, trimmed, and resets the chunker.
// The result is empty if nothing remains.
func (c *Chunker) Flush() string {
	rest := strings.TrimSpace(c.buf)
	c.buf = ""
	return rest
}
