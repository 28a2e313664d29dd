// Package elevenlabs streams speech from the ElevenLabs stream-input
// WebSocket API.
//
// A reply is one WebSocket session: an opening message carries the API key
// and voice settings, every text chunk follows as its own message, and an
// empty text message ends input. PCM arrives base64-encoded in JSON messages
// until one is flagged final.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

const (
	defaultWSBase  = "wss://api.elevenlabs.io"
	defaultAPIBase = "https://api.elevenlabs.io"
	defaultModel   = "eleven_flash_v2_5"
	defaultFormat  = "pcm_16000"
)

var _ tts.Provider = (*Provider)(nil)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel sets the model ID.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat sets the output format. Only raw PCM formats of the form
// "pcm_<rate>" are accepted.
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.format = format }
}

// WithBaseURLs points the provider at other WebSocket and REST hosts.
func WithBaseURLs(wsBase, apiBase string) Option {
	return func(p *Provider) {
		p.wsBase = strings.TrimRight(wsBase, "/")
		p.apiBase = strings.TrimRight(apiBase, "/")
	}
}

// Provider is a [tts.Provider] for ElevenLabs.
type Provider struct {
	key     string
	model   string
	format  string
	rate    int
	wsBase  string
	apiBase string
	client  *http.Client
}

// New returns a Provider authenticating with key.
func New(key string, opts ...Option) (*Provider, error) {
	if key == "" {
		return nil, errors.New("elevenlabs: api key is required")
	}
	p := &Provider{
		key:     key,
		model:   defaultModel,
		format:  defaultFormat,
		wsBase:  defaultWSBase,
		apiBase: defaultAPIBase,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	rate, err := pcmRate(p.format)
	if err != nil {
		return nil, err
	}
	p.rate = rate
	return p, nil
}

func pcmRate(format string) (int, error) {
	digits, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: output format %q is not raw pcm", format)
	}
	rate, err := strconv.Atoi(digits)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("elevenlabs: output format %q has no valid sample rate", format)
	}
	return rate, nil
}

type settings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// openMessage starts a session. Text must not be empty, so it is one space.
type openMessage struct {
	Text     string    `json:"text"`
	Settings *settings `json:"voice_settings,omitempty"`
	APIKey   string    `json:"xi_api_key"`
}

// chunkMessage carries one text chunk. An empty Text ends input.
type chunkMessage struct {
	Text    string `json:"text"`
	Trigger bool   `json:"try_trigger_generation,omitempty"`
}

type serverMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (p *Provider) streamURL(voiceID string) string {
	q := url.Values{"model_id": {p.model}, "output_format": {p.format}}
	return p.wsBase + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input?" + q.Encode()
}

// SynthesizeStream implements [tts.Provider]. The session is opened before
// it returns, so a bad key or an unreachable host fails the call itself.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (*audio.AudioSegment, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: a voice id is required")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voice.ID), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	open := openMessage{
		Text:     " ",
		Settings: &settings{Stability: 0.5, SimilarityBoost: 0.75, Speed: max(voice.SpeedFactor, 0)},
		APIKey:   p.key,
	}
	if err := writeJSON(ctx, conn, open); err != nil {
		conn.Close(websocket.StatusInternalError, "open failed")
		return nil, fmt.Errorf("elevenlabs: open session: %w", err)
	}

	s := &session{conn: conn, out: make(chan []byte, 64)}
	seg := &audio.AudioSegment{Audio: s.out, SampleRate: p.rate}
	go s.run(ctx, text, seg)
	return seg, nil
}

// session is one open stream-input connection.
type session struct {
	conn *websocket.Conn
	out  chan []byte
}

func (s *session) run(ctx context.Context, text <-chan string, seg *audio.AudioSegment) {
	defer close(s.out)
	defer s.conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	received := make(chan struct{})
	go func() {
		defer close(received)
		defer cancel()
		if err := s.receive(ctx); err != nil && ctx.Err() == nil {
			seg.SetStreamErr(err)
		}
	}()

	s.send(ctx, text)
	<-received
}

// send forwards text until it closes, then ends input.
func (s *session) send(ctx context.Context, text <-chan string) {
	for {
		select {
		case <-ctx.Done():
			go audio.Drain(text)
			return
		case chunk, ok := <-text:
			if !ok {
				_ = writeJSON(ctx, s.conn, chunkMessage{})
				return
			}
			if strings.TrimSpace(chunk) == "" {
				continue
			}
			// The trailing space marks a word boundary for the service.
			if err := writeJSON(ctx, s.conn, chunkMessage{Text: chunk + " ", Trigger: true}); err != nil {
				go audio.Drain(text)
				return
			}
		}
	}
}

// receive emits decoded PCM until the final message.
func (s *session) receive(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return nil
		}
		if err != nil {
			return fmt.Errorf("elevenlabs: read: %w", err)
		}

		var msg serverMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.Error != "" {
			return fmt.Errorf("elevenlabs: %s: %s", msg.Error, msg.Message)
		}
		if msg.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return fmt.Errorf("elevenlabs: audio payload: %w", err)
			}
			select {
			case s.out <- pcm:
			case <-ctx.Done():
				return nil
			}
		}
		if msg.IsFinal {
			return nil
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

type voiceList struct {
	Voices []struct {
		ID       string            `json:"voice_id"`
		Name     string            `json:"name"`
		Category string            `json:"category"`
		Labels   map[string]string `json:"labels"`
	} `json:"voices"`
}

// ListVoices returns the voices the API key can use. Labels become metadata,
// plus a "category" entry when the voice has one.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.key)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: voices: unexpected status %s", resp.Status)
	}

	var list voiceList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("elevenlabs: voices: %w", err)
	}
	out := make([]tts.VoiceProfile, len(list.Voices))
	for i, v := range list.Voices {
		meta := maps.Clone(v.Labels)
		if meta == nil {
			meta = map[string]string{}
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		out[i] = tts.VoiceProfile{ID: v.ID, Name: v.Name, Provider: "elevenlabs", Metadata: meta}
	}
	return out, nil
}
