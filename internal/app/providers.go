package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// Providers holds one value per collaborator slot. TTS and Sink may be nil
// when speech is disabled.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
	VAD vad.Engine

	Source audio.Source
	Sink   audio.Sink

	// Checks are readiness checks contributed by the provider wrappers.
	Checks []health.Checker
}

func (p *Providers) validate(speech bool) error {
	var errs []error
	if p.LLM == nil {
		errs = append(errs, errors.New("llm provider is required"))
	}
	if p.STT == nil {
		errs = append(errs, errors.New("stt provider is required"))
	}
	if p.VAD == nil {
		errs = append(errs, errors.New("vad engine is required"))
	}
	if p.Source == nil {
		errs = append(errs, errors.New("audio source is required"))
	}
	if speech && p.TTS == nil {
		errs = append(errs, errors.New("tts provider is required when speech is enabled"))
	}
	if speech && p.Sink == nil {
		errs = append(errs, errors.New("audio sink is required when speech is enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// BuildProviders instantiates the providers named in cfg from reg. Each
// language, transcription and synthesis provider is wrapped in a resilience
// fallback group, with the configured fallback entry if there is one, so
// provider calls are metered and protected by a circuit breaker. The TTS
// provider is skipped when speech is disabled. Audio devices are left to
// the caller.
func BuildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*Providers, error) {
	ps := &Providers{}
	fb := func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{Kind: kind, Metrics: metrics}
	}
	pc := cfg.Providers

	primaryLLM, err := reg.CreateLLM(pc.LLM)
	if err != nil {
		return nil, fmt.Errorf("app: create llm provider %q: %w", pc.LLM.Name, err)
	}
	llmGroup := resilience.NewLLMFallback(primaryLLM, pc.LLM.Name, fb("llm"))
	if pc.LLMFallback.Name != "" {
		p, err := reg.CreateLLM(pc.LLMFallback)
		if err != nil {
			return nil, fmt.Errorf("app: create llm fallback %q: %w", pc.LLMFallback.Name, err)
		}
		llmGroup.AddFallback(pc.LLMFallback.Name, p)
	}
	ps.LLM = llmGroup
	ps.Checks = append(ps.Checks, health.Checker{Name: "llm", Check: llmGroup.Group().Check})
	slog.Info("provider created", "kind", "llm", "chain", llmGroup.Group().Names(), "model", pc.LLM.Model)

	primarySTT, err := reg.CreateSTT(pc.STT)
	if err != nil {
		return nil, fmt.Errorf("app: create stt provider %q: %w", pc.STT.Name, err)
	}
	sttGroup := resilience.NewSTTFallback(primarySTT, pc.STT.Name, fb("stt"))
	if pc.STTFallback.Name != "" {
		p, err := reg.CreateSTT(pc.STTFallback)
		if err != nil {
			return nil, fmt.Errorf("app: create stt fallback %q: %w", pc.STTFallback.Name, err)
		}
		sttGroup.AddFallback(pc.STTFallback.Name, p)
	}
	ps.STT = sttGroup
	ps.Checks = append(ps.Checks, health.Checker{Name: "stt", Check: sttGroup.Group().Check})
	slog.Info("provider created", "kind", "stt", "chain", sttGroup.Group().Names())

	if cfg.Agent.SpeechEnabled() {
		primaryTTS, err := reg.CreateTTS(pc.TTS)
		if err != nil {
			return nil, fmt.Errorf("app: create tts provider %q: %w", pc.TTS.Name, err)
		}
		ttsGroup := resilience.NewTTSFallback(primaryTTS, pc.TTS.Name, fb("tts"))
		if pc.TTSFallback.Name != "" {
			p, err := reg.CreateTTS(pc.TTSFallback)
			if err != nil {
				return nil, fmt.Errorf("app: create tts fallback %q: %w", pc.TTSFallback.Name, err)
			}
			ttsGroup.AddFallback(pc.TTSFallback.Name, p)
		}
		ps.TTS = ttsGroup
		ps.Checks = append(ps.Checks, health.Checker{Name: "tts", Check: ttsGroup.Group().Check})
		slog.Info("provider created", "kind", "tts", "chain", ttsGroup.Group().Names())
	} else {
		slog.Info("speech disabled, replies are printed only")
	}

	ps.VAD, err = reg.CreateVAD(pc.VAD)
	if err != nil {
		return nil, fmt.Errorf("app: create vad engine %q: %w", pc.VAD.Name, err)
	}
	return ps, nil
}
