package main

import (
	"context"
	"slices"
	"testing"

	"github.com/MrWong99/parley/internal/config"
)

func TestRegisterBuiltinProviders_MatchesKnownNames(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	for _, kind := range []string{"llm", "stt", "tts", "vad"} {
		t.Run(kind, func(t *testing.T) {
			t.Parallel()
			want := slices.Sorted(slices.Values(config.ValidProviderNames[kind]))
			got := reg.Names(kind)
			if !slices.Equal(got, want) {
				t.Errorf("registered %v, config knows %v", got, want)
			}
			if !slices.Equal(slices.Sorted(slices.Values(builtinProviders[kind])), want) {
				t.Errorf("builtinProviders[%q] is out of date", kind)
			}
		})
	}
}

func TestKokoroDefaults(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	p, err := reg.CreateTTS(config.ProviderEntry{Name: "kokoro"})
	if err != nil {
		t.Fatalf("CreateTTS: %v", err)
	}
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != kokoroVoice {
		t.Errorf("voices = %+v, want only %q", voices, kokoroVoice)
	}
}

func TestEnergyVADOptions(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	_, err := reg.CreateVAD(config.ProviderEntry{
		Name:    "energy",
		Options: map[string]any{"min_level": 300, "floor_ratio": 2.5},
	})
	if err != nil {
		t.Fatalf("CreateVAD: %v", err)
	}
}

func TestApplyFlags(t *testing.T) {
	t.Parallel()
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	cfg.Agent.PersonalityFile = "persona.txt"

	applyFlags(cfg, "qwen2.5", "Be brief.", config.ChunkFull, true)

	if cfg.Providers.LLM.Model != "qwen2.5" {
		t.Errorf("model = %q", cfg.Providers.LLM.Model)
	}
	if cfg.Agent.Personality != "Be brief." || cfg.Agent.PersonalityFile != "" {
		t.Errorf("personality = %q, file = %q", cfg.Agent.Personality, cfg.Agent.PersonalityFile)
	}
	if cfg.Agent.Chunking != config.ChunkFull {
		t.Errorf("chunking = %q", cfg.Agent.Chunking)
	}
	if cfg.Agent.SpeechEnabled() {
		t.Error("-no-tts should disable speech")
	}
	if err := config.Validate(cfg); err != nil {
		t.Errorf("Validate after flags: %v", err)
	}
}

func TestApplyFlags_EmptyKeepsConfig(t *testing.T) {
	t.Parallel()
	cfg, _ := loadConfig("")
	before := *cfg
	applyFlags(cfg, "", "", "", false)
	if cfg.Providers.LLM.Model != before.Providers.LLM.Model || cfg.Agent.Chunking != before.Agent.Chunking || !cfg.Agent.SpeechEnabled() {
		t.Error("empty flags changed the config")
	}
}

func TestOptHelpers(t *testing.T) {
	t.Parallel()
	opts := map[string]any{
		"language": "de",
		"level":    300,
		"ratio":    2.5,
		"voices":   []any{"alloy", 7, "nova"},
	}

	if got := optString(opts, "language"); got != "de" {
		t.Errorf("optString = %q", got)
	}
	if got := optString(opts, "level"); got != "" {
		t.Errorf("optString on int = %q, want empty", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("optString on nil map = %q", got)
	}

	tests := []struct {
		key    string
		want   float64
		wantOK bool
	}{
		{"level", 300, true},
		{"ratio", 2.5, true},
		{"language", 0, false},
		{"missing", 0, false},
	}
	for _, tt := range tests {
		got, ok := optFloat(opts, tt.key)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("optFloat(%q) = %v, %v; want %v, %v", tt.key, got, ok, tt.want, tt.wantOK)
		}
	}

	if got := optStrings(opts, "voices"); !slices.Equal(got, []string{"alloy", "nova"}) {
		t.Errorf("optStrings = %v", got)
	}
}
