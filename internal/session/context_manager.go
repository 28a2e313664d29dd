// Package session holds the conversational state of a running agent.
package session

import (
	"strings"
	"sync"
)

// charsPerToken is the heuristic ratio used for token estimation.
// English text averages roughly 4 characters per token across common
// LLM tokenizers. This avoids pulling in a tokenizer dependency.
const charsPerToken = 4

const (
	// DefaultMaxTurns is the history window used when none is configured.
	DefaultMaxTurns = 10

	// DefaultUserLabel and DefaultAssistantLabel prefix rendered turns.
	DefaultUserLabel      = "Human"
	DefaultAssistantLabel = "Assistant"
)

// ContextManager keeps the most recent turns of a conversation in order,
// together with a personality preamble that is never evicted, and renders
// them into a single prompt.
//
// When appending would exceed the window, the oldest turns are dropped first.
// Mutations are expected from one goroutine (the orchestrator's control loop);
// the mutex lets status readers call [ContextManager.Len] and
// [ContextManager.Turns] concurrently.
type ContextManager struct {
	maxTurns       int
	userLabel      string
	assistantLabel string

	mu       sync.Mutex
	preamble string
	turns    []Turn
}

// ContextManagerConfig configures a [ContextManager].
type ContextManagerConfig struct {
	// MaxTurns is the number of turns retained (N). Defaults to 10 if zero or
	// negative.
	MaxTurns int

	// Preamble is the personality text rendered ahead of the history.
	Preamble string

	// UserLabel and AssistantLabel override the default turn labels.
	UserLabel      string
	AssistantLabel string
}

// NewContextManager creates a new [ContextManager] with the given configuration.
func NewContextManager(cfg ContextManagerConfig) *ContextManager {
	cm := &ContextManager{
		maxTurns:       cfg.MaxTurns,
		userLabel:      cfg.UserLabel,
		assistantLabel: cfg.AssistantLabel,
		preamble:       cfg.Preamble,
	}
	if cm.maxTurns <= 0 {
		cm.maxTurns = DefaultMaxTurns
	}
	if cm.userLabel == "" {
		cm.userLabel = DefaultUserLabel
	}
	if cm.assistantLabel == "" {
		cm.assistantLabel = DefaultAssistantLabel
	}
	cm.turns = make([]Turn, 0, cm.maxTurns)
	return cm
}

// Append adds a completed turn, evicting the oldest turns while the window is
// full.
func (cm *ContextManager) Append(t Turn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if over := len(cm.turns) + 1 - cm.maxTurns; over > 0 {
		// Shift in place so the backing array is reused.
		n := copy(cm.turns, cm.turns[over:])
		clear(cm.turns[n:])
		cm.turns = cm.turns[:n]
	}
	cm.turns = append(cm.turns, t)
}

// Render returns the prompt for the next assistant reply: the preamble, each
// retained turn as "{label}: {text}", and a trailing assistant marker. The
// output depends only on the preamble and the retained turns.
func (cm *ContextManager) Render() string {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var b strings.Builder
	if p := strings.TrimSpace(cm.preamble); p != "" {
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	for _, t := range cm.turns {
		b.WriteString(cm.label(t.Speaker))
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(t.Text))
		b.WriteByte('\n')
	}
	b.WriteString(cm.assistantLabel)
	b.WriteByte(':')
	return b.String()
}

func (cm *ContextManager) label(s Speaker) string {
	if s == Assistant {
		return cm.assistantLabel
	}
	return cm.userLabel
}

// Turns returns a copy of the retained turns, oldest first.
func (cm *ContextManager) Turns() []Turn {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	out := make([]Turn, len(cm.turns))
	copy(out, cm.turns)
	return out
}

// Len returns the number of retained turns.
func (cm *ContextManager) Len() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.turns)
}

// MaxTurns returns the configured window size.
func (cm *ContextManager) MaxTurns() int {
	return cm.maxTurns
}

// Preamble returns the current personality preamble.
func (cm *ContextManager) Preamble() string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.preamble
}

// SetPreamble replaces the personality preamble. History is kept.
func (cm *ContextManager) SetPreamble(p string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.preamble = p
}

// Clear drops all turns. The preamble is kept.
func (cm *ContextManager) Clear() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	clear(cm.turns)
	cm.turns = cm.turns[:0]
}

// EstimateTokens returns a rough token count for s using the
// 1-token-per-4-characters heuristic.
func EstimateTokens(s string) int {
	tokens := len(s) / charsPerToken
	if tokens == 0 && len(s) > 0 {
		tokens = 1
	}
	return tokens
}
