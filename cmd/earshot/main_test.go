package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/audio"
	audiomock "github.com/MrWong99/earshot/pkg/audio/mock"
)

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Detector != config.Default().Detector {
		t.Errorf("detector = %+v, want defaults", cfg.Detector)
	}
}

func TestRawFormat(t *testing.T) {
	t.Parallel()
	d := config.Default().Detector
	tests := []struct {
		name string
		src  config.SourceConfig
		want audio.Format
	}{
		{"unset follows detector", config.SourceConfig{}, audio.Format{SampleRate: 16000, Channels: 1}},
		{"declared", config.SourceConfig{SampleRate: 44100, Channels: 2}, audio.Format{SampleRate: 44100, Channels: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := rawFormat(tt.src, d); got != tt.want {
				t.Errorf("rawFormat = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestHubOptions(t *testing.T) {
	t.Parallel()
	o := hubOptions(map[string]any{
		"buffer":          4,
		"write_timeout":   "250ms",
		"origin_patterns": []any{"localhost:*", 7},
	})
	if o.Buffer != 4 || o.WriteTimeout != 250*time.Millisecond {
		t.Errorf("options = %+v", o)
	}
	if len(o.OriginPatterns) != 1 || o.OriginPatterns[0] != "localhost:*" {
		t.Errorf("origin patterns = %v", o.OriginPatterns)
	}

	if o := hubOptions(map[string]any{"write_timeout": "soon"}); o.WriteTimeout != 0 {
		t.Errorf("malformed timeout kept: %v", o.WriteTimeout)
	}
}

func TestApplyReload_SetsLevel(t *testing.T) {
	t.Parallel()
	var level slog.LevelVar
	applyReload(&level, config.ConfigDiff{LogLevelChanged: true, NewLogLevel: config.LogDebug})
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want DEBUG", level.Level())
	}
	applyReload(&level, config.ConfigDiff{RestartRequired: []string{"detector"}})
	if level.Level() != slog.LevelDebug {
		t.Errorf("restart-only diff changed level to %v", level.Level())
	}
}

func TestRegisterBuiltins_RawSourceAndSinks(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	d := config.Default().Detector
	d.ChunkSize = 4

	raw := filepath.Join(dir, "in.pcm")
	if err := os.WriteFile(raw, make([]byte, 2*d.ChunkSize*3+1), 0o644); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	reg := config.NewRegistry()
	registerBuiltins(reg, mux)

	if _, err := reg.CreateVAD(d); err != nil {
		t.Errorf("CreateVAD(spectral): %v", err)
	}

	src, err := reg.CreateSource(config.SourceConfig{Name: "raw", Path: raw}, d)
	if err != nil {
		t.Fatalf("CreateSource(raw): %v", err)
	}
	defer src.Close()
	var n int
	for {
		if _, err := src.ReadChunk(context.Background()); err != nil {
			break
		}
		n++
	}
	if n != 3 {
		t.Errorf("raw source produced %d chunks, want 3", n)
	}

	sinks, err := reg.CreateSinks([]config.SinkConfig{
		{Name: "wav", Path: filepath.Join(dir, "clips")},
		{Name: "websocket"},
	}, d)
	if err != nil {
		t.Fatalf("CreateSinks: %v", err)
	}
	for _, s := range sinks {
		defer s.Close()
	}
	if fi, err := os.Stat(filepath.Join(dir, "clips")); err != nil || !fi.IsDir() {
		t.Errorf("wav sink directory not created: %v", err)
	}

	// A plain GET to the feed route reaches the hub, which rejects the
	// missing upgrade.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", config.DefaultWebSocketRoute, nil))
	if rec.Code == http.StatusNotFound {
		t.Errorf("GET %s = 404, websocket hub not mounted", config.DefaultWebSocketRoute)
	}
}

func TestRegisterBuiltins_RawSourceMissingFile(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltins(reg, http.NewServeMux())
	_, err := reg.CreateSource(config.SourceConfig{Name: "raw", Path: filepath.Join(t.TempDir(), "nope.pcm")}, config.Default().Detector)
	if err == nil {
		t.Fatal("expected error for missing raw input")
	}
}

func TestGuardSink(t *testing.T) {
	t.Parallel()
	inner := &audiomock.Sink{}
	if got := guardSink(inner, config.SinkConfig{Name: "wav"}); got != audio.Sink(inner) {
		t.Errorf("sink without breaker was wrapped: %T", got)
	}

	got := guardSink(inner, config.SinkConfig{
		Name:    "wav",
		Breaker: &config.BreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute},
	})
	g, ok := got.(*resilience.Sink)
	if !ok {
		t.Fatalf("guardSink = %T, want *resilience.Sink", got)
	}
	if g.Sink != audio.Sink(inner) {
		t.Error("guarded sink does not wrap the original")
	}
	if g.Breaker.State() != resilience.StateClosed {
		t.Errorf("breaker state = %v, want closed", g.Breaker.State())
	}
}
