// Package whisper transcribes with whisper.cpp.
//
// [Provider] uploads each segment to a whisper-server process
// (POST /inference). [NativeProvider] runs the model in-process through the
// cgo bindings and needs the "whispercpp" build tag.
package whisper

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

const (
	defaultLanguage = "en"

	// modelRate is the only input rate whisper models accept.
	modelRate = 16000
)

var _ stt.Provider = (*Provider)(nil)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel names the model the server should use. Empty keeps the one the
// server was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language used when a request names none. Default "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.lang = lang }
}

// WithHTTPClient replaces the default client, which times out after a minute.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// Provider is an [stt.Provider] for a whisper-server instance.
type Provider struct {
	endpoint string
	model    string
	lang     string
	client   *http.Client
}

// New returns a Provider for the server at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Provider, error) {
	if base == "" {
		return nil, errors.New("whisper: server URL is required")
	}
	p := &Provider{
		endpoint: strings.TrimRight(base, "/") + "/inference",
		lang:     defaultLanguage,
		client:   &http.Client{Timeout: time.Minute},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Transcribe implements [stt.Provider]. Audio is resampled to 16 kHz and
// uploaded as a WAV file.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if req.SampleRate <= 0 {
		return stt.Transcript{}, fmt.Errorf("whisper: invalid sample rate %d", req.SampleRate)
	}
	lang := cmp.Or(req.Language, p.lang)

	body, contentType, err := p.form(audio.Resample(req.Audio, req.SampleRate, modelRate), lang)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: encode upload: %w", err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
	}
	hreq.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(hreq)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: inference: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return stt.Transcript{}, fmt.Errorf("whisper: inference: unexpected status %s", resp.Status)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: decode inference result: %w", err)
	}
	return stt.Transcript{Text: strings.TrimSpace(out.Text), Language: lang}, nil
}

// form builds the multipart upload: the WAV file plus the optional language
// and model fields.
func (p *Provider) form(pcm []byte, lang string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	file, err := w.CreateFormFile("file", "segment.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := file.Write(audio.EncodeWAV(pcm, modelRate)); err != nil {
		return nil, "", err
	}
	fields := [][2]string{{"language", lang}, {"model", p.model}, {"response_format", "json"}}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
