//go:build !whispercpp

package whisper

import (
	"context"
	"errors"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// ErrNoNative is returned by NewNative in builds without the "whispercpp" tag.
var ErrNoNative = errors.New("whisper: built without whisper.cpp support (rebuild with -tags whispercpp)")

// NativeProvider is unavailable in this build.
type NativeProvider struct{}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage is accepted for API compatibility.
func WithNativeLanguage(string) NativeOption { return func(*NativeProvider) {} }

// NewNative always returns ErrNoNative.
func NewNative(string, ...NativeOption) (*NativeProvider, error) {
	return nil, ErrNoNative
}

// Transcribe always returns ErrNoNative.
func (*NativeProvider) Transcribe(context.Context, stt.Request) (stt.Transcript, error) {
	return stt.Transcript{}, ErrNoNative
}

// Close is a no-op.
func (*NativeProvider) Close() error { return nil }
