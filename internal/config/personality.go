package config

import (
	"log/slog"
	"os"
	"strings"
)

// DefaultPersonality is the preamble used when none is configured or the
// personality file cannot be read.
const DefaultPersonality = "You are a friendly and helpful AI assistant. Always be conversational and curious."

// LoadPersonality reads the preamble from path. A missing, unreadable or
// empty file is not an error: it logs a warning and returns
// [DefaultPersonality].
func LoadPersonality(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("config: cannot read personality file, using default", "path", path, "err", err)
		return DefaultPersonality
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		slog.Warn("config: personality file is empty, using default", "path", path)
		return DefaultPersonality
	}
	return text
}

// ResolvePersonality returns the preamble selected by a: the personality
// file if set, else the inline text, else [DefaultPersonality].
func (a AgentConfig) ResolvePersonality() string {
	if a.PersonalityFile != "" {
		return LoadPersonality(a.PersonalityFile)
	}
	if text := strings.TrimSpace(a.Personality); text != "" {
		return text
	}
	return DefaultPersonality
}
