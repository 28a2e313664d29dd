package openai_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/stt/openai"
)

func TestNew_RequiresKeyOrBaseURL(t *testing.T) {
	t.Parallel()
	if _, err := openai.New(""); err == nil {
		t.Error("expected error without key and base URL")
	}
	if _, err := openai.New("", openai.WithBaseURL("http://localhost:8000/v1")); err != nil {
		t.Errorf("local server without key: %v", err)
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	var (
		mu                        sync.Mutex
		gotModel, gotLang, gotPath string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		gotLang = r.FormValue("language")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":" It's sunny today. "}`))
	}))
	defer srv.Close()

	p, err := openai.New("test-key", openai.WithBaseURL(srv.URL+"/v1/"), openai.WithLanguage("en"))
	if err != nil {
		t.Fatal(err)
	}
	tr, err := p.Transcribe(context.Background(), stt.Request{Audio: make([]byte, 3200), SampleRate: 16000})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if tr.Text != "It's sunny today." {
		t.Errorf("Text = %q", tr.Text)
	}
	if gotPath != "/v1/audio/transcriptions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotModel != "whisper-1" || gotLang != "en" {
		t.Errorf("model=%q language=%q", gotModel, gotLang)
	}
}

func TestTranscribe_InvalidRate(t *testing.T) {
	t.Parallel()
	p, _ := openai.New("k")
	if _, err := p.Transcribe(context.Background(), stt.Request{Audio: []byte{0, 0}}); err == nil {
		t.Error("expected error for zero sample rate")
	}
}
