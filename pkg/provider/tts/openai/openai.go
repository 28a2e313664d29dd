// Package openai provides speech synthesis through the OpenAI audio API or any
// server implementing POST /audio/speech, such as a local Kokoro-FastAPI
// deployment.
//
// Requests are made per sentence with response_format=pcm, which yields raw
// 16-bit mono PCM at 24 kHz.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

const (
	// SampleRate is the fixed rate of the "pcm" response format.
	SampleRate = 24000

	defaultModel = "tts-1"
	defaultVoice = "alloy"
)

var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the speech endpoint.
type Provider struct {
	client       oai.Client
	model        string
	defaultVoice string
	instructions string
	voices       []string
}

type config struct {
	baseURL      string
	model        string
	voice        string
	instructions string
	voices       []string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the speech model. Defaults to "tts-1"; Kokoro servers
// expect "kokoro".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithDefaultVoice sets the voice used when a VoiceProfile has no ID.
func WithDefaultVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithInstructions sets style instructions for models that accept them.
func WithInstructions(s string) Option {
	return func(c *config) { c.instructions = s }
}

// WithVoices sets the voice list reported by ListVoices.
func WithVoices(ids ...string) Option {
	return func(c *config) { c.voices = ids }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Provider. apiKey may be empty only when a base URL is set.
func New(apiKey string, opts ...Option) (*Provider, error) {
	cfg := &config{model: defaultModel, voice: defaultVoice}
	for _, o := range opts {
		o(cfg)
	}
	if apiKey == "" && cfg.baseURL == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	voices := cfg.voices
	if len(voices) == 0 {
		voices = []string{cfg.voice}
	}
	return &Provider{
		client:       oai.NewClient(reqOpts...),
		model:        cfg.model,
		defaultVoice: cfg.voice,
		instructions: cfg.instructions,
		voices:       voices,
	}, nil
}

// SynthesizeStream synthesises text sentence by sentence.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (*audio.AudioSegment, error) {
	params := oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(p.defaultVoice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.ID != "" {
		params.Voice = oai.AudioSpeechNewParamsVoice(voice.ID)
	}
	if voice.SpeedFactor > 0 {
		params.Speed = oai.Float(voice.SpeedFactor)
	}
	if p.instructions != "" {
		params.Instructions = oai.String(p.instructions)
	}

	return tts.SynthesizeSentences(ctx, text, SampleRate, func(ctx context.Context, sentence string) ([]byte, error) {
		req := params
		req.Input = sentence
		resp, err := p.client.Audio.Speech.New(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("openai: speech: %w", err)
		}
		defer resp.Body.Close()
		pcm, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("openai: read speech: %w", err)
		}
		// Drop a trailing odd byte so samples stay aligned.
		return pcm[:len(pcm)&^1], nil
	}), nil
}

// ListVoices returns the configured voice list. The speech API has no
// discovery endpoint.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	out := make([]tts.VoiceProfile, 0, len(p.voices))
	for _, id := range p.voices {
		out = append(out, tts.VoiceProfile{ID: id, Name: id, Provider: "openai"})
	}
	return out, nil
}
