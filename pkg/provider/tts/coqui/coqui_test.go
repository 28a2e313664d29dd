package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

func textOf(parts ...string) <-chan string {
	ch := make(chan string, len(parts))
	for _, p := range parts {
		ch <- p
	}
	close(ch)
	return ch
}

func collect(seg *audio.AudioSegment) []byte {
	var pcm []byte
	for chunk := range seg.Audio {
		pcm = append(pcm, chunk...)
	}
	return pcm
}

func newProvider(t *testing.T, base string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(base, opts...)
	if err != nil {
		t.Fatalf("New(%q): %v", base, err)
	}
	return p
}

func TestNew(t *testing.T) {
	t.Parallel()

	p := newProvider(t, "http://coqui:5002/")
	if p.base != "http://coqui:5002" || p.lang != "en" || p.mode != APIModeStandard || p.rate != 22050 || p.client.Timeout != defaultTimeout {
		t.Errorf("defaults: %+v", p)
	}

	p = newProvider(t, "http://coqui:8002", WithLanguage("de"), WithTimeout(time.Second), WithAPIMode(APIModeXTTS), WithOutputSampleRate(24000))
	if p.lang != "de" || p.mode != APIModeXTTS || p.rate != 24000 || p.client.Timeout != time.Second {
		t.Errorf("options: %+v", p)
	}

	for name, args := range map[string]struct {
		base string
		opts []Option
	}{
		"empty url":    {base: ""},
		"unknown mode": {base: "http://coqui:5002", opts: []Option{WithAPIMode("tortoise")}},
	} {
		if _, err := New(args.base, args.opts...); err == nil {
			t.Errorf("%s: New succeeded, want error", name)
		}
	}
}

func TestSynthesizeStream_XTTSNeedsVoice(t *testing.T) {
	t.Parallel()
	p := newProvider(t, "http://coqui:8002", WithAPIMode(APIModeXTTS))
	if _, err := p.SynthesizeStream(context.Background(), textOf("Hi."), tts.VoiceProfile{}); err == nil || !strings.HasPrefix(err.Error(), "coqui:") {
		t.Fatalf("err = %v, want coqui error", err)
	}
}

func TestSynthesizeStream_StandardWithoutVoice(t *testing.T) {
	t.Parallel()
	p := newProvider(t, "http://coqui:5002")
	seg, err := p.SynthesizeStream(context.Background(), textOf(), tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	if pcm := collect(seg); len(pcm) != 0 {
		t.Errorf("no text produced %d bytes", len(pcm))
	}
}

func TestSynthesizeStream_XTTS(t *testing.T) {
	t.Parallel()

	pcm := bytes.Repeat([]byte{0x42}, 100)
	var (
		mu     sync.Mutex
		bodies []xttsBody
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var b xttsBody
		if r.Method != http.MethodPost || r.URL.Path != xttsSynthPath || json.NewDecoder(r.Body).Decode(&b) != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		mu.Lock()
		bodies = append(bodies, b)
		mu.Unlock()
		_, _ = w.Write(audio.EncodeWAV(pcm, 16000))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL, WithAPIMode(APIModeXTTS), WithOutputSampleRate(16000))
	seg, err := p.SynthesizeStream(context.Background(), textOf("Hello ", "world. ", "Goodbye now!"), tts.VoiceProfile{ID: "Ana"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	got := collect(seg)
	if err := seg.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if seg.SampleRate != 16000 || len(got) != 2*len(pcm) {
		t.Errorf("rate %d, %d bytes; want 16000, %d", seg.SampleRate, len(got), 2*len(pcm))
	}

	mu.Lock()
	defer mu.Unlock()
	var texts []string
	for _, b := range bodies {
		texts = append(texts, b.Text)
		if b.SpeakerWav != "Ana" || b.Language != "en" {
			t.Errorf("body = %+v", b)
		}
	}
	slices.Sort(texts)
	if want := []string{"Goodbye now!", "Hello world."}; !slices.Equal(texts, want) {
		t.Errorf("sentences = %q, want %q", texts, want)
	}
}

func TestSynthesizeStream_StandardQueryAndResample(t *testing.T) {
	t.Parallel()

	query := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != stdSynthPath {
			http.NotFound(w, r)
			return
		}
		query <- r.URL.RawQuery
		// 100 ms at the model's native rate.
		_, _ = w.Write(audio.EncodeWAV(make([]byte, 2*2205), 22050))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL, WithLanguage("fr"), WithOutputSampleRate(44100))
	seg, err := p.SynthesizeStream(context.Background(), textOf("Bonjour."), tts.VoiceProfile{ID: "p225"})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(collect(seg)); got != 2*4410 {
		t.Errorf("PCM bytes = %d, want %d", got, 2*4410)
	}
	if got, want := <-query, "language_id=fr&speaker_id=p225&text=Bonjour."; got != want {
		t.Errorf("query = %q, want %q", got, want)
	}
}

func TestSynthesizeStream_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr bool
	}{
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) { http.Error(w, "boom", http.StatusInternalServerError) },
			wantErr: true,
		},
		{
			name:    "not a wav",
			handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("definitely not RIFF")) },
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			seg, err := newProvider(t, srv.URL).SynthesizeStream(context.Background(), textOf("A sentence."), tts.VoiceProfile{})
			if err != nil {
				t.Fatalf("SynthesizeStream: %v", err)
			}
			if pcm := collect(seg); len(pcm) != 0 {
				t.Errorf("got %d bytes", len(pcm))
			}
			if (seg.Err() != nil) != tt.wantErr {
				t.Errorf("stream err = %v, wantErr %v", seg.Err(), tt.wantErr)
			}
		})
	}
}

func TestSynthesizeStream_CancelStopsRequest(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	seg, err := newProvider(t, srv.URL).SynthesizeStream(ctx, textOf("Never heard."), tts.VoiceProfile{})
	if err != nil {
		t.Fatal(err)
	}
	time.AfterFunc(20*time.Millisecond, cancel)

	done := make(chan struct{})
	go func() {
		collect(seg)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("segment still open after cancel")
	}
	if seg.Err() != nil {
		t.Errorf("cancel recorded as stream error: %v", seg.Err())
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mode     APIMode
		path     string
		body     string
		wantIDs  []string
		wantType string
	}{
		{
			name:     "xtts studio speakers",
			mode:     APIModeXTTS,
			path:     xttsVoicesPath,
			body:     `{"Zed":{"speaker_embedding":[]},"Ana":{}}`,
			wantIDs:  []string{"Ana", "Zed"},
			wantType: "studio",
		},
		{
			name:     "multi-speaker model",
			mode:     APIModeStandard,
			path:     stdVoicesPath,
			body:     `{"model_name":"tts_models/en/vctk/vits","speakers":["p226","p225"]}`,
			wantIDs:  []string{"p225", "p226"},
			wantType: "speaker",
		},
		{
			name:     "single-speaker model",
			mode:     APIModeStandard,
			path:     stdVoicesPath,
			body:     `{"model_name":"tts_models/en/ljspeech/vits"}`,
			wantIDs:  []string{"tts_models/en/ljspeech/vits"},
			wantType: "single-speaker",
		},
		{
			name:     "nameless model",
			mode:     APIModeStandard,
			path:     stdVoicesPath,
			body:     `{}`,
			wantIDs:  []string{"default"},
			wantType: "single-speaker",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tt.path {
					http.NotFound(w, r)
					return
				}
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			voices, err := newProvider(t, srv.URL, WithAPIMode(tt.mode)).ListVoices(context.Background())
			if err != nil {
				t.Fatalf("ListVoices: %v", err)
			}
			var ids []string
			for _, v := range voices {
				ids = append(ids, v.ID)
				if v.Provider != "coqui" || v.Metadata["type"] != tt.wantType {
					t.Errorf("voice %+v", v)
				}
			}
			if !slices.Equal(ids, tt.wantIDs) {
				t.Errorf("ids = %q, want %q", ids, tt.wantIDs)
			}
		})
	}
}

func TestListVoices_Errors(t *testing.T) {
	t.Parallel()
	for name, h := range map[string]http.HandlerFunc{
		"unavailable": func(w http.ResponseWriter, _ *http.Request) { http.Error(w, "nope", http.StatusServiceUnavailable) },
		"bad json":    func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("{")) },
	} {
		srv := httptest.NewServer(h)
		if _, err := newProvider(t, srv.URL).ListVoices(context.Background()); err == nil {
			t.Errorf("%s: ListVoices succeeded, want error", name)
		}
		srv.Close()
	}
}
