package tts

import (
	"strings"
	"unicode"
)

// SentenceBoundary returns the index of the first sentence-ending character
// ('.', '!', '?') that is immediately followed by whitespace. Returns -1 if
// there is none yet. A terminator at the very end of s does not count, since
// more text may follow ("3." could become "3.14").
func SentenceBoundary(s string) int {
	for i := 0; i+1 < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}

// SplitSentences removes every complete sentence from the front of buf and
// returns them trimmed, along with the unfinished remainder.
func SplitSentences(buf string) (sentences []string, rest string) {
	for {
		idx := SentenceBoundary(buf)
		if idx < 0 {
			return sentences, buf
		}
		if s := strings.TrimSpace(buf[:idx+1]); s != "" {
			sentences = append(sentences, s)
		}
		buf = buf[idx+1:]
	}
}
