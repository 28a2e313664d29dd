//go:build whispercpp

// Building with the whispercpp tag links libwhisper.a; it and whisper.h must
// be on LIBRARY_PATH and C_INCLUDE_PATH.

package whisper

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider runs whisper.cpp in-process. The model is shared; each call
// creates its own context since contexts are not safe for concurrent use.
type NativeProvider struct {
	model whisperlib.Model
	lang  string
}

// NativeOption configures a [NativeProvider].
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language used when a request names none.
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.lang = lang }
}

// NewNative loads the model file at path. Close releases it.
func NewNative(path string, opts ...NativeOption) (*NativeProvider, error) {
	if path == "" {
		return nil, errors.New("whisper: model path is required")
	}
	model, err := whisperlib.New(path)
	if err != nil {
		return nil, fmt.Errorf("whisper: load %s: %w", path, err)
	}
	p := &NativeProvider{model: model, lang: defaultLanguage}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Close releases the model.
func (p *NativeProvider) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}

// Transcribe implements [stt.Provider]. whisper.cpp cannot be interrupted
// mid-inference, so on cancellation Transcribe returns at once and the
// running inference finishes in the background with its result dropped.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}
	if req.SampleRate <= 0 {
		return stt.Transcript{}, fmt.Errorf("whisper: invalid sample rate %d", req.SampleRate)
	}
	lang := cmp.Or(req.Language, p.lang)
	samples := audio.ToFloat32(audio.Resample(req.Audio, req.SampleRate, modelRate))

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		text, err := p.run(ctx, samples, lang)
		done <- outcome{text, err}
	}()

	select {
	case <-ctx.Done():
		return stt.Transcript{}, ctx.Err()
	case o := <-done:
		if o.err != nil {
			return stt.Transcript{}, o.err
		}
		return stt.Transcript{Text: o.text, Language: lang}, nil
	}
}

func (p *NativeProvider) run(ctx context.Context, samples []float32, lang string) (string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: new context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: language not supported by model, using its default", "language", lang, "err", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process: %w", err)
	}

	var text strings.Builder
	for ctx.Err() == nil {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: segment: %w", err)
		}
		if s := strings.TrimSpace(seg.Text); s != "" {
			if text.Len() > 0 {
				text.WriteByte(' ')
			}
			text.WriteString(s)
		}
	}
	return text.String(), nil
}
