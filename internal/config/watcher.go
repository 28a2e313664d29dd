package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a config file, and the personality file it names, and calls
// onChange with the old and new config whenever the content of either
// changes and the new config is valid.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu   sync.Mutex
	snap snapshot

	done     chan struct{}
	stopOnce sync.Once
}

// snapshot is the last valid config together with what it was loaded from.
type snapshot struct {
	cfg    *Config
	sum    [sha256.Size]byte
	stamps [2]stamp
}

// stamp identifies a file version cheaply, so unchanged files are not re-read
// on every poll.
type stamp struct {
	mtime time.Time
	size  int64
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it in the background. It fails if
// the initial load fails. onChange may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.snap = snap

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap.cfg
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	w.mu.Lock()
	prev := w.snap
	w.mu.Unlock()

	if w.stamps(prev.cfg) == prev.stamps {
		return
	}

	next, err := w.load()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if next.sum == w.snap.sum {
		// Touched but not changed.
		w.snap.stamps = next.stamps
		w.mu.Unlock()
		return
	}
	w.snap = next
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(prev.cfg, next.cfg)
	}
}

// stamps returns the stamps of the config file and of cfg's personality
// file. Missing files yield zero stamps.
func (w *Watcher) stamps(cfg *Config) [2]stamp {
	var out [2]stamp
	out[0] = statStamp(w.path)
	if cfg != nil && cfg.Agent.PersonalityFile != "" {
		out[1] = statStamp(cfg.Agent.PersonalityFile)
	}
	return out
}

func statStamp(path string) stamp {
	info, err := os.Stat(path)
	if err != nil {
		return stamp{}
	}
	return stamp{mtime: info.ModTime(), size: info.Size()}
}

// load parses and validates the config file. The returned sum covers the
// config bytes and the personality file bytes, so a personality edit counts
// as a change even though the config itself is identical.
func (w *Watcher) load() (snapshot, error) {
	// Stat before reading: a write racing the read then shows up as a new
	// stamp on the next poll instead of being missed.
	var snap snapshot
	snap.stamps[0] = statStamp(w.path)
	data, err := os.ReadFile(w.path)
	if err != nil {
		return snapshot{}, err
	}
	snap.cfg, err = LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}

	h := sha256.New()
	h.Write(data)
	if p := snap.cfg.Agent.PersonalityFile; p != "" {
		snap.stamps[1] = statStamp(p)
		// Unreadable hashes as empty; ResolvePersonality falls back to the
		// default preamble for it.
		personality, _ := os.ReadFile(p)
		h.Write([]byte{0})
		h.Write(personality)
	}
	copy(snap.sum[:], h.Sum(nil))
	return snap, nil
}
