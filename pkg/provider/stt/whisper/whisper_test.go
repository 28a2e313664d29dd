package whisper_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/stt/whisper"
)

type captured struct {
	mu       sync.Mutex
	language string
	model    string
	rate     int
	samples  int
}

// newServer answers POST /inference with text and records what it received.
func newServer(t *testing.T, text string, status int, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		pcm, rate, err := audio.DecodeWAV(data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if got != nil {
			got.mu.Lock()
			got.language = r.FormValue("language")
			got.model = r.FormValue("model")
			got.rate = rate
			got.samples = len(pcm) / 2
			got.mu.Unlock()
		}
		if status != http.StatusOK {
			http.Error(w, "boom", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_EmptyServerURL(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		reply     string
		req       stt.Request
		opts      []whisper.Option
		wantText  string
		wantLang  string
		wantModel string
		wantRate  int
		wantN     int
	}{
		{
			name:     "trims whitespace",
			reply:    "  What's the weather like?\n",
			req:      stt.Request{Audio: make([]byte, 3200), SampleRate: 16000},
			wantText: "What's the weather like?",
			wantLang: "en",
			wantRate: 16000,
			wantN:    1600,
		},
		{
			name:      "request language wins and model forwarded",
			reply:     "hallo",
			req:       stt.Request{Audio: make([]byte, 3200), SampleRate: 16000, Language: "de"},
			opts:      []whisper.Option{whisper.WithModel("small"), whisper.WithLanguage("fr")},
			wantText:  "hallo",
			wantLang:  "de",
			wantModel: "small",
			wantRate:  16000,
			wantN:     1600,
		},
		{
			name:     "resamples to 16 kHz",
			reply:    "ok",
			req:      stt.Request{Audio: make([]byte, 9600), SampleRate: 48000},
			wantText: "ok",
			wantLang: "en",
			wantRate: 16000,
			wantN:    1600,
		},
		{
			name:     "empty transcript is not an error",
			reply:    "   ",
			req:      stt.Request{Audio: make([]byte, 640), SampleRate: 16000},
			wantText: "",
			wantLang: "en",
			wantRate: 16000,
			wantN:    320,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got captured
			srv := newServer(t, tt.reply, http.StatusOK, &got)
			p, err := whisper.New(srv.URL+"/", tt.opts...)
			if err != nil {
				t.Fatal(err)
			}
			tr, err := p.Transcribe(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Transcribe: %v", err)
			}
			if tr.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", tr.Text, tt.wantText)
			}
			got.mu.Lock()
			defer got.mu.Unlock()
			if got.language != tt.wantLang {
				t.Errorf("language field = %q, want %q", got.language, tt.wantLang)
			}
			if got.model != tt.wantModel {
				t.Errorf("model field = %q, want %q", got.model, tt.wantModel)
			}
			if got.rate != tt.wantRate || got.samples != tt.wantN {
				t.Errorf("uploaded %d samples @ %d Hz, want %d @ %d", got.samples, got.rate, tt.wantN, tt.wantRate)
			}
		})
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()
	srv := newServer(t, "", http.StatusInternalServerError, nil)
	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), stt.Request{Audio: make([]byte, 640), SampleRate: 16000}); err == nil {
		t.Fatal("expected error on HTTP 500")
	}
}

func TestTranscribe_InvalidRate(t *testing.T) {
	t.Parallel()
	p, _ := whisper.New("http://127.0.0.1:1")
	if _, err := p.Transcribe(context.Background(), stt.Request{Audio: make([]byte, 640)}); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
}

func TestTranscribe_Cancelled(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	p, _ := whisper.New(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := p.Transcribe(ctx, stt.Request{Audio: make([]byte, 640), SampleRate: 16000}); err == nil {
		t.Fatal("expected error after cancellation")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Transcribe did not return promptly on cancellation")
	}
}

func TestNewNative_EmptyPath(t *testing.T) {
	t.Parallel()
	if _, err := whisper.NewNative(""); err == nil {
		t.Fatal("expected error for empty model path")
	}
}
