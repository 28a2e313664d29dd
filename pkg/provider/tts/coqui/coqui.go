// Package coqui speaks through a self-hosted Coqui TTS server.
//
// Two server flavours exist and they share almost nothing but the WAV they
// return:
//
//   - [APIModeStandard] (default) is the stock tts-server. It synthesises on
//     GET /api/tts?text=...&speaker_id=... and describes its model on
//     GET /details.
//   - [APIModeXTTS] is the XTTS v2 API server. It synthesises on
//     POST /tts_to_audio/ with a JSON body, always needs a speaker, and lists
//     speakers on GET /studio_speakers.
//
// Each request carries one sentence, so replies are cut at sentence
// boundaries and a few sentences are requested at once.
package coqui

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage   = "en"
	defaultTimeout    = 30 * time.Second
	defaultSampleRate = 22050

	xttsSynthPath  = "/tts_to_audio/"
	xttsVoicesPath = "/studio_speakers"
	stdSynthPath   = "/api/tts"
	stdVoicesPath  = "/details"
)

// APIMode names the server flavour a [Provider] talks to.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

// Option configures a [Provider].
type Option func(*Provider)

// WithLanguage sets the language sent with every request. Default "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.lang = lang }
}

// WithTimeout bounds each HTTP request. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.Timeout = d }
}

// WithAPIMode selects the server flavour.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.mode = mode }
}

// WithOutputSampleRate sets the rate replies are resampled to. Default 22050,
// which is what most Coqui models produce natively.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.rate = rate
		}
	}
}

// Provider is a [tts.Provider] for a Coqui server.
type Provider struct {
	base   string
	lang   string
	mode   APIMode
	rate   int
	client *http.Client
}

// New returns a Provider for the server at base, e.g. "http://localhost:5002".
func New(base string, opts ...Option) (*Provider, error) {
	if base == "" {
		return nil, errors.New("coqui: server URL is required")
	}
	p := &Provider{
		base:   strings.TrimRight(base, "/"),
		lang:   defaultLanguage,
		mode:   APIModeStandard,
		rate:   defaultSampleRate,
		client: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	switch p.mode {
	case APIModeStandard, APIModeXTTS:
	default:
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.mode)
	}
	return p, nil
}

// xttsBody is the POST body of the XTTS synthesis endpoint.
type xttsBody struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// modelDetails is what the standard server reports on /details. Speakers is
// empty for single-speaker models.
type modelDetails struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// SynthesizeStream implements [tts.Provider].
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (*audio.AudioSegment, error) {
	if p.mode == APIModeXTTS && voice.ID == "" {
		return nil, errors.New("coqui: xtts mode needs a voice")
	}
	return tts.SynthesizeSentences(ctx, text, p.rate, func(ctx context.Context, sentence string) ([]byte, error) {
		return p.speak(ctx, sentence, voice.ID)
	}), nil
}

func (p *Provider) speak(ctx context.Context, sentence, speaker string) ([]byte, error) {
	req, err := p.synthRequest(ctx, sentence, speaker)
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	body, err := p.do(req)
	if err != nil {
		return nil, err
	}
	pcm, rate, err := audio.DecodeWAV(body)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	return audio.Resample(pcm, rate, p.rate), nil
}

func (p *Provider) synthRequest(ctx context.Context, sentence, speaker string) (*http.Request, error) {
	if p.mode == APIModeXTTS {
		data, err := json.Marshal(xttsBody{Text: sentence, SpeakerWav: speaker, Language: p.lang})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+xttsSynthPath, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	q := url.Values{"text": {sentence}}
	if speaker != "" {
		q.Set("speaker_id", speaker)
	}
	if p.lang != "" {
		q.Set("language_id", p.lang)
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, p.base+stdSynthPath+"?"+q.Encode(), nil)
}

// do sends req and returns the body of a 200 response.
func (p *Provider) do(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s: unexpected status %s", req.Method, req.URL.Path, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read %s: %w", req.URL.Path, err)
	}
	return body, nil
}

// ListVoices implements [tts.Provider]. A single-speaker standard model is
// reported as one voice named after the model.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if p.mode == APIModeXTTS {
		var speakers map[string]json.RawMessage
		if err := p.fetch(ctx, xttsVoicesPath, &speakers); err != nil {
			return nil, err
		}
		return profiles(slices.Sorted(maps.Keys(speakers)), map[string]string{"type": "studio"}), nil
	}

	var d modelDetails
	if err := p.fetch(ctx, stdVoicesPath, &d); err != nil {
		return nil, err
	}
	if len(d.Speakers) == 0 {
		model := cmp.Or(d.ModelName, "default")
		return profiles([]string{model}, map[string]string{"type": "single-speaker", "model_name": model}), nil
	}
	return profiles(slices.Sorted(slices.Values(d.Speakers)), map[string]string{"type": "speaker", "model_name": d.ModelName}), nil
}

func (p *Provider) fetch(ctx context.Context, path string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+path, nil)
	if err != nil {
		return fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := p.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, into); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", path, err)
	}
	return nil
}

// profiles builds one voice per id. Every profile gets its own copy of meta.
func profiles(ids []string, meta map[string]string) []tts.VoiceProfile {
	out := make([]tts.VoiceProfile, len(ids))
	for i, id := range ids {
		out[i] = tts.VoiceProfile{ID: id, Name: id, Provider: "coqui", Metadata: maps.Clone(meta)}
	}
	return out
}
