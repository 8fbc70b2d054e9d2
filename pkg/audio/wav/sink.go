package wav

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
)

// DefaultPattern names files in directory mode. It is formatted with the
// utterance sequence number.
const DefaultPattern = "utterance-%04d.wav"

// DirSink is an [audio.Sink] that writes each utterance to a WAV file.
//
// If the configured path ends in ".wav" every utterance overwrites that one
// file. Otherwise the path is a directory and each utterance gets its own
// file named by the pattern.
type DirSink struct {
	mu      sync.Mutex
	path    string
	pattern string
	single  bool
	written int
}

var _ audio.Sink = (*DirSink)(nil)

// NewDirSink prepares path for writing. An empty pattern selects
// [DefaultPattern].
func NewDirSink(path, pattern string) (*DirSink, error) {
	if path == "" {
		return nil, fmt.Errorf("wav: sink path is empty")
	}
	if pattern == "" {
		pattern = DefaultPattern
	}
	if !strings.Contains(pattern, "%") {
		return nil, fmt.Errorf("wav: pattern %q has no sequence verb", pattern)
	}

	single := strings.EqualFold(filepath.Ext(path), ".wav")
	dir := path
	if single {
		dir = filepath.Dir(path)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wav: create %s: %w", dir, err)
	}
	return &DirSink{path: path, pattern: pattern, single: single}, nil
}

// PathFor returns the file an utterance with sequence number seq is written
// to.
func (s *DirSink) PathFor(seq int) string {
	if s.single {
		return s.path
	}
	return filepath.Join(s.path, fmt.Sprintf(s.pattern, seq))
}

// WriteUtterance encodes u into its file.
func (s *DirSink) WriteUtterance(ctx context.Context, u audio.Utterance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.PathFor(u.Seq)
	if err := WriteFile(path, u.SampleRate, u.Data); err != nil {
		return err
	}
	s.written++
	slog.Info("wav sink: utterance written",
		"path", path,
		"seq", u.Seq,
		"duration", u.Duration(),
	)
	return nil
}

// Written returns how many utterances were written successfully.
func (s *DirSink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Close is a no-op; every file is closed as soon as it is written.
func (s *DirSink) Close() error { return nil }
