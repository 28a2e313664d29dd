package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"ollama", "openai", "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"whisper", "whisper-native", "openai", "deepgram"},
	"tts": {"openai", "kokoro", "elevenlabs", "coqui"},
	"vad": {"energy"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultContextTurns      = 10
	DefaultSampleRate        = 16000
	DefaultFrameMs           = 20
	DefaultOutputGain        = 0.7
	DefaultQueueFrames       = 50
	DefaultStartFrames       = 3
	DefaultEndFrames         = 25
	DefaultMaxSegment        = 30 * time.Second
	DefaultSpeechThreshold   = 0.5
	DefaultTranscribeTimeout = 15 * time.Second
	DefaultGenerateTimeout   = 60 * time.Second
	DefaultJournalQueue      = 64
)

// DefaultLLMModel is used with the default ollama provider when no model is
// configured.
const DefaultLLMModel = "llama3.2"

var supportedRates = []int{8000, 16000, 22050, 24000, 32000, 44100, 48000}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and validates
// the result. Unknown keys are rejected. An empty document yields the default
// configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field that has a default. It is idempotent.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = "ollama"
	}
	if cfg.Providers.LLM.Name == "ollama" && cfg.Providers.LLM.Model == "" {
		cfg.Providers.LLM.Model = DefaultLLMModel
	}
	if cfg.Providers.STT.Name == "" {
		cfg.Providers.STT.Name = "whisper"
	}
	if cfg.Providers.TTS.Name == "" {
		cfg.Providers.TTS.Name = "kokoro"
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = "energy"
	}

	a := &cfg.Agent
	if a.ContextTurns <= 0 {
		a.ContextTurns = DefaultContextTurns
	}
	if a.InterruptPolicy == "" {
		a.InterruptPolicy = InterruptDiscard
	}
	if a.Chunking == "" {
		a.Chunking = ChunkSentence
	}
	if a.UserLabel == "" {
		a.UserLabel = "Human"
	}
	if a.AssistantLabel == "" {
		a.AssistantLabel = "Assistant"
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.FrameMs <= 0 {
		cfg.Audio.FrameMs = DefaultFrameMs
	}
	if cfg.Audio.OutputGain == 0 {
		cfg.Audio.OutputGain = DefaultOutputGain
	}
	if cfg.Audio.QueueFrames <= 0 {
		cfg.Audio.QueueFrames = DefaultQueueFrames
	}

	s := &cfg.Segmenter
	if s.StartFrames <= 0 {
		s.StartFrames = DefaultStartFrames
	}
	if s.EndFrames <= 0 {
		s.EndFrames = DefaultEndFrames
	}
	if s.MaxSegment <= 0 {
		s.MaxSegment = DefaultMaxSegment
	}
	if s.SpeechThreshold == 0 {
		s.SpeechThreshold = DefaultSpeechThreshold
	}

	if cfg.Timeouts.Transcribe <= 0 {
		cfg.Timeouts.Transcribe = DefaultTranscribeTimeout
	}
	if cfg.Timeouts.Generate <= 0 {
		cfg.Timeouts.Generate = DefaultGenerateTimeout
	}
	if cfg.Journal.QueueSize <= 0 {
		cfg.Journal.QueueSize = DefaultJournalQueue
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.LLMFallback.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("stt", cfg.Providers.STTFallback.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("tts", cfg.Providers.TTSFallback.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	if cfg.Providers.LLM.Model == "" {
		errs = append(errs, errors.New("providers.llm.model is required"))
	}

	// Agent
	a := cfg.Agent
	if a.ContextTurns < 0 {
		errs = append(errs, fmt.Errorf("agent.context_turns %d must not be negative", a.ContextTurns))
	}
	switch a.InterruptPolicy {
	case "", InterruptDiscard, InterruptCommitPartial:
	default:
		errs = append(errs, fmt.Errorf("agent.interrupt_policy %q is invalid; valid values: discard, commit_partial", a.InterruptPolicy))
	}
	switch a.Chunking {
	case "", ChunkSentence, ChunkToken, ChunkFull:
	default:
		errs = append(errs, fmt.Errorf("agent.chunking %q is invalid; valid values: sentence, token, full", a.Chunking))
	}
	if a.Voice.SpeedFactor != 0 && (a.Voice.SpeedFactor < 0.5 || a.Voice.SpeedFactor > 2.0) {
		errs = append(errs, fmt.Errorf("agent.voice.speed_factor %.2f is out of range [0.5, 2.0]", a.Voice.SpeedFactor))
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		errs = append(errs, fmt.Errorf("agent.temperature %.2f is out of range [0, 2]", a.Temperature))
	}
	if a.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("agent.max_tokens %d must not be negative", a.MaxTokens))
	}
	if a.Personality != "" && a.PersonalityFile != "" {
		slog.Warn("both agent.personality and agent.personality_file are set; the file wins")
	}

	// Audio
	if cfg.Audio.OutputGain < 0 || cfg.Audio.OutputGain > 1 {
		errs = append(errs, fmt.Errorf("audio.output_gain %.2f is out of range [0, 1]", cfg.Audio.OutputGain))
	}
	if !slices.Contains(supportedRates, cfg.Audio.SampleRate) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is not a supported rate", cfg.Audio.SampleRate))
	}
	if f := cfg.Audio.FrameMs; f != 0 && f != 10 && f != 20 && f != 30 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is invalid; valid values: 10, 20, 30", f))
	}

	// Segmenter
	if t := cfg.Segmenter.SpeechThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("segmenter.speech_threshold %.2f is out of range [0, 1]", t))
	}
	if cfg.Segmenter.StartFrames < 0 || cfg.Segmenter.EndFrames < 0 {
		errs = append(errs, errors.New("segmenter.start_frames and end_frames must not be negative"))
	}

	// Timeouts
	if cfg.Timeouts.Transcribe < 0 || cfg.Timeouts.Generate < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
