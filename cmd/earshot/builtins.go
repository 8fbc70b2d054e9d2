package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/mic"
	"github.com/MrWong99/earshot/pkg/audio/wav"
	"github.com/MrWong99/earshot/pkg/audio/wsfeed"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/spectral"
)

// registerBuiltins wires every detector, source and sink that ships with
// earshot into reg. WebSocket sinks mount their hub on mux.
func registerBuiltins(reg *config.Registry, mux *http.ServeMux) {
	// ── Detectors ─────────────────────────────────────────────────────────────
	reg.RegisterVAD("spectral", func(config.DetectorConfig) (vad.Engine, error) {
		return spectral.Engine{}, nil
	})

	// ── Sources ───────────────────────────────────────────────────────────────
	reg.RegisterSource("portaudio", func(s config.SourceConfig, d config.DetectorConfig) (audio.Source, error) {
		m, err := mic.Open(mic.Options{
			SampleRate: d.SampleRate,
			ChunkSize:  d.ChunkSize,
			Device:     s.Device,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("microphone selected", "device", m.Device())
		return m, nil
	})

	reg.RegisterSource("wav", func(s config.SourceConfig, d config.DetectorConfig) (audio.Source, error) {
		f, err := wav.OpenFile(s.Path, d.SampleRate, d.ChunkSize)
		if err != nil {
			return nil, err
		}
		slog.Debug("wav source format", "path", s.Path, "sample_rate", f.Format().SampleRate, "channels", f.Format().Channels)
		return f, nil
	})

	reg.RegisterSource("raw", func(s config.SourceConfig, d config.DetectorConfig) (audio.Source, error) {
		r, err := openRaw(s.Path)
		if err != nil {
			return nil, err
		}
		return audio.NewReaderSource(r, rawFormat(s, d), d.SampleRate, d.ChunkSize), nil
	})

	// ── Sinks ─────────────────────────────────────────────────────────────────
	reg.RegisterSink("wav", func(s config.SinkConfig, _ config.DetectorConfig) (audio.Sink, error) {
		pattern, _ := config.StringOption(s.Options, "pattern")
		return wav.NewDirSink(s.Path, pattern)
	})

	reg.RegisterSink("websocket", func(s config.SinkConfig, _ config.DetectorConfig) (audio.Sink, error) {
		hub := wsfeed.NewHub(hubOptions(s.Options))
		mux.Handle("GET "+s.Route(), hub)
		return hub, nil
	})
}

// openRaw opens path for reading. Empty or "-" selects standard input, which
// is never closed.
func openRaw(path string) (io.Reader, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("raw source: %w", err)
	}
	return f, nil
}

// rawFormat is the declared format of raw input; unset fields follow the
// detector.
func rawFormat(s config.SourceConfig, d config.DetectorConfig) audio.Format {
	f := audio.Format{SampleRate: s.SampleRate, Channels: s.Channels}
	if f.SampleRate == 0 {
		f.SampleRate = d.SampleRate
	}
	if f.Channels == 0 {
		f.Channels = 1
	}
	return f
}

// hubOptions reads buffer, write_timeout and origin_patterns from a
// websocket sink's options.
func hubOptions(opts map[string]any) wsfeed.Options {
	var o wsfeed.Options
	if n, ok := config.IntOption(opts, "buffer"); ok {
		o.Buffer = n
	}
	if s, ok := config.StringOption(opts, "write_timeout"); ok {
		if d, err := time.ParseDuration(s); err == nil {
			o.WriteTimeout = d
		} else {
			slog.Warn("websocket sink: ignoring write_timeout", "value", s, "err", err)
		}
	}
	if list, ok := opts["origin_patterns"].([]any); ok {
		for _, v := range list {
			if p, ok := v.(string); ok {
				o.OriginPatterns = append(o.OriginPatterns, p)
			}
		}
	}
	return o
}
