package speech

import (
	"regexp"
	"strings"
)

var (
	bracketed = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)`)
	spaces    = regexp.MustCompile(`\s+`)

	markup = strings.NewReplacer(
		"*", "",
		"_", "",
		"—", " ", // em dash
		"–", " ", // en dash
	)
)

// Clean prepares reply text for synthesis. It drops stage directions in
// square brackets or parentheses and markdown emphasis, turns dashes into
// pauses, and collapses whitespace. The result may be empty.
func Clean(text string) string {
	text = bracketed.ReplaceAllString(text, "")
	text = markup.Replace(text)
	return strings.TrimSpace(spaces.ReplaceAllString(text, " "))
}

// StripMarkup removes emphasis markers and dashes from a single streamed
// token without touching its surrounding whitespace, so consecutive tokens
// still join into words.
func StripMarkup(token string) string {
	return markup.Replace(token)
}
