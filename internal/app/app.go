// Package app wires the parley subsystems into a running voice agent.
//
// [New] builds the pipeline from a validated config and a set of providers:
// capture feeds the segmenter pump, the pump feeds the orchestrator, and the
// orchestrator drives transcription, generation and playback. [App.Run]
// runs these stages in one errgroup next to the optional status server, and
// [App.Shutdown] releases what New acquired.
//
// For testing, providers are plain interfaces and every external resource
// (metrics, journal, output) can be injected with an [Option].
package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/journal"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/orchestrator"
	"github.com/MrWong99/parley/internal/segment"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/speech"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// reloadTimeout bounds applying a live config change to the control loop.
const reloadTimeout = 5 * time.Second

// Journal is the turn journal used by the app. [*journal.Journal]
// satisfies it.
type Journal interface {
	orchestrator.TurnRecorder
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// App owns all subsystem lifetimes of one conversation.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	output    io.Writer
	levelVar  *slog.LevelVar

	vadSession vad.SessionHandle
	pump       *segment.Pump
	history    *session.ContextManager
	player     *playback.Player
	journal    Journal
	orch       *orchestrator.Orchestrator

	stopOnce sync.Once
}

// Option is a functional option for [New]. Use these to inject test doubles.
type Option func(*App)

// WithMetrics records into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithJournal injects a turn journal instead of opening one from
// journal.postgres_dsn.
func WithJournal(j Journal) Option {
	return func(a *App) { a.journal = j }
}

// WithOutput sets where replies are printed when speech is disabled.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.output = w }
}

// WithLevelVar lets [App.OnConfigChange] adjust the log level live.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// New builds the pipeline. cfg must already be validated.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if err := providers.validate(cfg.Agent.SpeechEnabled()); err != nil {
		return nil, err
	}

	chunking, err := speech.ParseMode(cfg.Agent.Chunking)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── 1. Segmentation ──────────────────────────────────────────────────
	a.vadSession, err = providers.VAD.NewSession(vad.Config{
		SampleRate:      cfg.Audio.SampleRate,
		FrameSizeMs:     cfg.Audio.FrameMs,
		SpeechThreshold: cfg.Segmenter.SpeechThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("app: open vad session: %w", err)
	}
	seg := segment.New(a.vadSession, segment.Config{
		StartFrames: cfg.Segmenter.StartFrames,
		EndFrames:   cfg.Segmenter.EndFrames,
		MaxSegment:  cfg.Segmenter.MaxSegment,
	})
	a.pump = segment.NewPump(seg,
		segment.WithQueueFrames(cfg.Audio.QueueFrames),
		segment.WithDropHook(func() { a.metrics.FramesDropped.Add(context.Background(), 1) }),
	)

	// ── 2. Context ───────────────────────────────────────────────────────
	a.history = session.NewContextManager(session.ContextManagerConfig{
		MaxTurns:       cfg.Agent.ContextTurns,
		Preamble:       cfg.Agent.ResolvePersonality(),
		UserLabel:      cfg.Agent.UserLabel,
		AssistantLabel: cfg.Agent.AssistantLabel,
	})

	// ── 3. Playback ──────────────────────────────────────────────────────
	if cfg.Agent.SpeechEnabled() {
		a.player = playback.New(providers.Sink,
			playback.WithFrame(time.Duration(cfg.Audio.FrameMs)*time.Millisecond),
			playback.WithCeiling(cfg.Audio.OutputGain),
		)
	}

	// ── 4. Journal ───────────────────────────────────────────────────────
	if a.journal == nil && cfg.Journal.PostgresDSN != "" {
		j, err := journal.Open(ctx, cfg.Journal.PostgresDSN, journal.WithQueueSize(cfg.Journal.QueueSize))
		if err != nil {
			// The journal never affects the conversation.
			slog.Warn("journal unavailable, continuing without it", "err", err)
		} else {
			a.journal = j
			slog.Info("journal connected", "session_id", j.SessionID())
		}
	}

	// ── 5. Orchestrator ──────────────────────────────────────────────────
	ocfg := orchestrator.Config{
		STT:               providers.STT,
		LLM:               providers.LLM,
		TTS:               providers.TTS,
		Player:            a.player,
		History:           a.history,
		Voice:             voiceProfile(cfg),
		DisableSpeech:     !cfg.Agent.SpeechEnabled(),
		DisableBargeIn:    !cfg.Agent.BargeInEnabled(),
		InterruptPolicy:   orchestrator.InterruptPolicy(cfg.Agent.InterruptPolicy),
		Chunking:          chunking,
		Language:          cfg.Agent.Language,
		Temperature:       cfg.Agent.Temperature,
		MaxTokens:         cfg.Agent.MaxTokens,
		TranscribeTimeout: cfg.Timeouts.Transcribe,
		GenerateTimeout:   cfg.Timeouts.Generate,
		Metrics:           a.metrics,
		Output:            a.output,
	}
	if a.journal != nil {
		ocfg.Journal = a.journal
	}
	if cfg.Agent.SpeechEnabled() && cfg.Agent.EchoSuppressionEnabled() {
		ocfg.EchoFilter = transcript.NewEchoFilter()
	}
	a.orch, err = orchestrator.New(ocfg)
	if err != nil {
		_ = a.Shutdown(ctx)
		return nil, fmt.Errorf("app: %w", err)
	}
	return a, nil
}

func voiceProfile(cfg *config.Config) tts.VoiceProfile {
	return tts.VoiceProfile{
		ID:          cfg.Agent.Voice.VoiceID,
		Name:        cfg.Agent.Voice.Name,
		Provider:    cfg.Providers.TTS.Name,
		SpeedFactor: cfg.Agent.Voice.SpeedFactor,
	}
}

// Orchestrator returns the turn orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Run captures audio and converses until ctx is cancelled, the source runs
// out of audio, or capture fails. A capture failure is returned as an
// [*orchestrator.CaptureError].
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer a.pump.Close()
		err := a.providers.Source.Capture(gctx, a.pump.Push)
		if err != nil && gctx.Err() == nil {
			return &orchestrator.CaptureError{Err: err}
		}
		slog.Debug("capture finished")
		return nil
	})
	g.Go(func() error { return a.pump.Run(gctx) })
	// A warm-up still in flight is abandoned once the conversation ends.
	warmCtx, stopWarm := context.WithCancel(gctx)
	defer stopWarm()
	g.Go(func() error {
		defer stopWarm()
		return a.orch.Run(gctx, a.pump.Events())
	})
	if a.cfg.Agent.WarmUpEnabled() {
		g.Go(func() error {
			a.warmUp(warmCtx)
			return nil
		})
	}
	if a.cfg.Server.ListenAddr != "" {
		g.Go(func() error { return a.serve(gctx) })
	}

	err := g.Wait()
	if dropped := a.pump.Dropped(); dropped > 0 {
		slog.Info("capture frames dropped during session", "frames", dropped)
	}
	return err
}

// warmUp asks the model for a single token so that a backend which loads
// models on first use has it resident before the first turn. Failures are
// logged only.
func (a *App) warmUp(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, cmp.Or(a.cfg.Timeouts.Generate, orchestrator.DefaultGenerateTimeout))
	defer cancel()

	start := time.Now()
	resp, err := a.providers.LLM.Complete(ctx, llm.CompletionRequest{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "Hello"}},
		MaxTokens: 1,
	})
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		slog.Warn("model warm-up failed", "err", err)
		return
	}
	slog.Info("model ready",
		"took", time.Since(start).Round(time.Millisecond),
		"prompt_tokens", resp.Usage.PromptTokens,
	)
}

// OnConfigChange applies a reloaded config. The log level and the
// personality change live; everything else is reported as needing a
// restart. It has the signature expected by [config.NewWatcher].
func (a *App) OnConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	// A changed personality file shows up here even when the path did not
	// change, so compare the resolved text.
	if preamble := new.Agent.ResolvePersonality(); preamble != a.history.Preamble() {
		ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
		defer cancel()
		if err := a.orch.SetPreamble(ctx, preamble); err != nil {
			slog.Warn("could not apply new personality", "err", err)
		} else {
			slog.Info("personality reloaded", "chars", len(preamble))
		}
	}

	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "sections", d.RestartRequired)
	}
}

// Shutdown releases the resources acquired by [New]. It is idempotent; the
// audio devices themselves belong to the caller.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		if a.player != nil {
			errs = append(errs, a.player.Close())
		}
		if a.journal != nil {
			errs = append(errs, a.journal.Close(ctx))
		}
		if a.vadSession != nil {
			errs = append(errs, a.vadSession.Close())
		}
	})
	return errors.Join(errs...)
}

// SlogLevel maps a config log level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
