// Command parley is a spoken-dialogue agent: it listens on a microphone,
// transcribes what it hears, asks a language model for a reply and speaks the
// reply back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/orchestrator"
	"github.com/MrWong99/parley/pkg/audio/device"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/parley/pkg/provider/llm/openai"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/parley/pkg/provider/stt/openai"
	"github.com/MrWong99/parley/pkg/provider/stt/whisper"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/tts/coqui"
	"github.com/MrWong99/parley/pkg/provider/tts/elevenlabs"
	oaitts "github.com/MrWong99/parley/pkg/provider/tts/openai"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/provider/vad/energy"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitCapture = 2
)

// kokoroVoice is the default voice of Kokoro-FastAPI servers.
const kokoroVoice = "af_heart"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	model := flag.String("model", "", "override providers.llm.model")
	personality := flag.String("personality", "", "override agent.personality with this text")
	noTTS := flag.Bool("no-tts", false, "print replies instead of speaking them")
	chunking := flag.String("chunking", "", "override agent.chunking: sentence, token or full")
	input := flag.String("input", "", "read audio from this WAV file instead of the microphone")
	output := flag.String("output", "", "write spoken audio to this WAV file instead of the speaker")
	listVoices := flag.Bool("list-voices", false, "list the voices of the configured TTS provider and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return exitFailure
	}
	applyFlags(cfg, *model, *personality, *chunking, *noTTS)
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		return exitFailure
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	slog.Info("parley starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Init(ctx, observe.Config{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return exitFailure
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := app.BuildProviders(cfg, reg, tel.Metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return exitFailure
	}

	if *listVoices {
		return printVoices(ctx, providers.TTS)
	}

	// ── Audio devices ─────────────────────────────────────────────────────────
	if err := openDevices(cfg, providers, *input, *output); err != nil {
		slog.Error("failed to open audio devices", "err", err)
		return exitFailure
	}
	defer closeDevices(providers)

	printStartupSummary(cfg, *input, *output)

	application, err := app.New(ctx, cfg, providers, app.WithMetrics(tel.Metrics), app.WithLevelVar(levelVar))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return exitFailure
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, application.OnConfigChange)
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	slog.Info("listening; press Ctrl+C to stop")

	code := exitOK
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = exitFailure
		var capErr *orchestrator.CaptureError
		if errors.As(err, &capErr) {
			code = exitCapture
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		if code == exitOK {
			code = exitFailure
		}
	}
	slog.Info("goodbye")
	return code
}

// loadConfig reads path, or returns the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := &config.Config{}
		config.ApplyDefaults(cfg)
		return cfg, nil
	}
	return config.Load(path)
}

// applyFlags lets command-line flags override the loaded config.
func applyFlags(cfg *config.Config, model, personality, chunking string, noTTS bool) {
	if model != "" {
		cfg.Providers.LLM.Model = model
	}
	if personality != "" {
		cfg.Agent.Personality = personality
		cfg.Agent.PersonalityFile = ""
	}
	if chunking != "" {
		cfg.Agent.Chunking = chunking
	}
	if noTTS {
		off := false
		cfg.Agent.TTSEnabled = &off
	}
}

// openDevices attaches the capture source and, when speech is enabled, the
// playback sink to providers.
func openDevices(cfg *config.Config, ps *app.Providers, input, output string) error {
	rate := cfg.Audio.SampleRate
	frame := time.Duration(cfg.Audio.FrameMs) * time.Millisecond

	var err error
	if input != "" {
		ps.Source, err = device.NewFileSource(input, rate, frame, true)
	} else {
		ps.Source, err = device.NewMicrophone(rate, frame)
	}
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}

	if !cfg.Agent.SpeechEnabled() {
		return nil
	}
	if output != "" {
		ps.Sink = device.NewFileSink(output, rate)
		return nil
	}
	ps.Sink, err = device.NewSpeaker(rate, frame)
	if err != nil {
		_ = ps.Source.Close()
		return fmt.Errorf("open output: %w", err)
	}
	return nil
}

func closeDevices(ps *app.Providers) {
	for _, c := range []interface{ Close() error }{ps.Source, ps.Sink} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			slog.Warn("audio device close", "err", err)
		}
	}
}

func printVoices(ctx context.Context, p tts.Provider) int {
	if p == nil {
		fmt.Fprintln(os.Stderr, "parley: speech is disabled, no TTS provider to ask")
		return exitFailure
	}
	voices, err := p.ListVoices(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parley: list voices: %v\n", err)
		return exitFailure
	}
	for _, v := range voices {
		if v.Name != "" && v.Name != v.ID {
			fmt.Printf("%s\t%s\n", v.ID, v.Name)
		} else {
			fmt.Println(v.ID)
		}
	}
	return exitOK
}

// ─────────────────────────────────────────────────────────────────────────────
// Provider registration
// ─────────────────────────────────────────────────────────────────────────────

// builtinProviders lists every provider name registered by
// registerBuiltinProviders, grouped by kind.
var builtinProviders = map[string][]string{
	"llm": {"ollama", "openai", "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"whisper", "whisper-native", "openai", "deepgram"},
	"tts": {"openai", "kokoro", "elevenlabs", "coqui"},
	"vad": {"energy"},
}

// registerBuiltinProviders registers a factory for every provider
// implementation that ships with parley.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ──────────────────────────────────────────────────────────────────
	for _, providerName := range []string{
		"ollama", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// ── STT ──────────────────────────────────────────────────────────────────
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oaistt.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		return oaistt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ──────────────────────────────────────────────────────────────────
	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		return oaitts.New(entry.APIKey, openAITTSOptions(entry, "")...)
	})

	// Kokoro-FastAPI speaks the OpenAI speech API.
	reg.RegisterTTS("kokoro", func(entry config.ProviderEntry) (tts.Provider, error) {
		if entry.BaseURL == "" {
			entry.BaseURL = "http://localhost:8880/v1"
		}
		if entry.Model == "" {
			entry.Model = "kokoro"
		}
		return oaitts.New(entry.APIKey, openAITTSOptions(entry, kokoroVoice)...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── VAD ──────────────────────────────────────────────────────────────────
	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		var opts []energy.Option
		if v, ok := optFloat(entry.Options, "min_level"); ok {
			opts = append(opts, energy.WithMinLevel(v))
		}
		if v, ok := optFloat(entry.Options, "floor_ratio"); ok {
			opts = append(opts, energy.WithFloorRatio(v))
		}
		return energy.New(opts...), nil
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

func openAITTSOptions(entry config.ProviderEntry, defaultVoice string) []oaitts.Option {
	var opts []oaitts.Option
	if entry.BaseURL != "" {
		opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
	}
	if entry.Model != "" {
		opts = append(opts, oaitts.WithModel(entry.Model))
	}
	if v := optString(entry.Options, "voice"); v != "" {
		defaultVoice = v
	}
	if defaultVoice != "" {
		opts = append(opts, oaitts.WithDefaultVoice(defaultVoice))
	}
	if s := optString(entry.Options, "instructions"); s != "" {
		opts = append(opts, oaitts.WithInstructions(s))
	}
	if voices := optStrings(entry.Options, "voices"); len(voices) > 0 {
		opts = append(opts, oaitts.WithVoices(voices...))
	}
	return opts
}

// ─────────────────────────────────────────────────────────────────────────────
// Startup summary
// ─────────────────────────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, input, output string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         parley - startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	if cfg.Agent.SpeechEnabled() {
		printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	} else {
		fmt.Printf("║  %-16s: %-19s ║\n", "TTS", "(disabled)")
	}
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	fmt.Printf("║  %-16s: %-19s ║\n", "Input", deviceName(input, "microphone"))
	if cfg.Agent.SpeechEnabled() {
		fmt.Printf("║  %-16s: %-19s ║\n", "Output", deviceName(output, "speaker"))
	}
	fmt.Printf("║  %-16s: %-19d ║\n", "Context turns", cfg.Agent.ContextTurns)
	fmt.Printf("║  %-16s: %-19s ║\n", "Chunking", cfg.Agent.Chunking)
	fmt.Printf("║  %-16s: %-19t ║\n", "Barge-in", cfg.Agent.BargeInEnabled())
	if cfg.Journal.PostgresDSN != "" {
		fmt.Printf("║  %-16s: %-19s ║\n", "Journal", "postgres")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  %-16s: %-19s ║\n", "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	val := name
	if val == "" {
		val = "(not configured)"
	} else if model != "" {
		val = name + "/" + model
	}
	if len(val) > 19 {
		val = val[:16] + "..."
	}
	fmt.Printf("║  %-16s: %-19s ║\n", kind, val)
}

func deviceName(path, fallback string) string {
	if path == "" {
		return fallback
	}
	if len(path) > 19 {
		return "..." + path[len(path)-16:]
	}
	return path
}

// ─────────────────────────────────────────────────────────────────────────────
// Option helpers
// ─────────────────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider options map.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// optFloat extracts a number from a provider options map. YAML decodes
// integers as int, so both are accepted.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// optStrings extracts a list of strings from a provider options map.
func optStrings(opts map[string]any, key string) []string {
	list, _ := opts[key].([]any)
	var out []string
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
