package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often [Watcher.Watch] looks at the file.
const DefaultWatchInterval = 5 * time.Second

// Watcher tracks a config file on disk. [Watcher.Reload] picks up a changed
// file once; [Watcher.Watch] does so on a timer. Edits that fail to parse or
// validate are logged and the last good config stays current.
type Watcher struct {
	path     string
	interval time.Duration

	mu      sync.Mutex
	current *Config
	modTime time.Time
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval of Watch.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path. It fails when the file cannot be read or is
// invalid.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval}
	for _, opt := range opts {
		opt(w)
	}
	cfg, data, modTime, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.modTime, w.sum = cfg, modTime, sha256.Sum256(data)
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload re-reads the file if its modification time moved. It returns the
// previous and the new config when the content changed, and (nil, nil, nil)
// when there is nothing new. On error the current config is unchanged.
func (w *Watcher) Reload() (old, cur *Config, err error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, nil, err
	}
	w.mu.Lock()
	seen := info.ModTime().Equal(w.modTime)
	w.mu.Unlock()
	if seen {
		return nil, nil, nil
	}

	cfg, data, modTime, err := w.load()
	if err != nil {
		return nil, nil, err
	}
	sum := sha256.Sum256(data)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.modTime = modTime
	if sum == w.sum {
		return nil, nil, nil
	}
	old = w.current
	w.current, w.sum = cfg, sum
	return old, cfg, nil
}

// Watch calls Reload every interval until ctx is done and passes each change
// to onChange.
func (w *Watcher) Watch(ctx context.Context, onChange func(old, cur *Config)) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		old, cur, err := w.Reload()
		switch {
		case err != nil:
			slog.Warn("config reload failed; keeping previous config", "path", w.path, "err", err)
		case cur != nil:
			slog.Info("config reloaded", "path", w.path)
			onChange(old, cur)
		}
	}
}

func (w *Watcher) load() (*Config, []byte, time.Time, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, nil, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, nil, time.Time{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, time.Time{}, err
	}
	return cfg, data, info.ModTime(), nil
}
