package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/earshot/pkg/audio/spectrum"
	"gopkg.in/yaml.v3"
)

// ValidNames lists known implementation names per registry kind.
// Used by [Validate] to warn about unrecognised names.
var ValidNames = map[string][]string{
	"vad":    {"spectral"},
	"source": {"portaudio", "wav", "raw"},
	"sink":   {"wav", "websocket"},
}

// reservedRoutes are served by the command itself.
var reservedRoutes = []string{"/healthz", "/readyz", "/metrics"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] and validates the
// result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	errs = append(errs, validateDetector(&cfg.Detector)...)

	// Source
	validateName("source", cfg.Source.Name)
	switch {
	case cfg.Source.Name == "":
		errs = append(errs, errors.New("source.name is required"))
	case cfg.Source.Name == "wav" && cfg.Source.Path == "":
		errs = append(errs, errors.New("source.path is required for the wav source"))
	}
	if cfg.Source.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("source.sample_rate %d must not be negative", cfg.Source.SampleRate))
	}
	if cfg.Source.Channels < 0 {
		errs = append(errs, fmt.Errorf("source.channels %d must not be negative", cfg.Source.Channels))
	}

	// Sinks
	if len(cfg.Sinks) == 0 {
		slog.Warn("no sinks configured; detected utterances will be discarded")
	}
	routes := make(map[string]int, len(cfg.Sinks))
	for i, s := range cfg.Sinks {
		prefix := fmt.Sprintf("sinks[%d]", i)
		validateName("sink", s.Name)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		switch s.Name {
		case "wav":
			if s.Path == "" {
				errs = append(errs, fmt.Errorf("%s.path is required for the wav sink", prefix))
			}
			if p, ok := s.Options["pattern"]; ok {
				if ps, isStr := p.(string); !isStr || !strings.Contains(ps, "%") {
					errs = append(errs, fmt.Errorf("%s.options.pattern must be a string with a sequence verb such as %%04d", prefix))
				}
			}
		case "websocket":
			if cfg.Server.ListenAddr == "" {
				errs = append(errs, fmt.Errorf("%s: websocket sink requires server.listen_addr", prefix))
			}
			route := s.Route()
			if !strings.HasPrefix(route, "/") {
				errs = append(errs, fmt.Errorf("%s.path %q must start with /", prefix, route))
			}
			if slices.Contains(reservedRoutes, route) {
				errs = append(errs, fmt.Errorf("%s.path %q is reserved", prefix, route))
			}
			if prev, ok := routes[route]; ok {
				errs = append(errs, fmt.Errorf("%s.path %q is a duplicate of sinks[%d]", prefix, route, prev))
			}
			routes[route] = i
		}
		if b := s.Breaker; b != nil {
			if b.MaxFailures < 0 {
				errs = append(errs, fmt.Errorf("%s.breaker.max_failures %d must not be negative", prefix, b.MaxFailures))
			}
			if b.ResetTimeout < 0 {
				errs = append(errs, fmt.Errorf("%s.breaker.reset_timeout %s must not be negative", prefix, b.ResetTimeout))
			}
		}
	}

	// Run
	if cfg.Run.MaxUtterances < 0 {
		errs = append(errs, fmt.Errorf("run.max_utterances %d must not be negative", cfg.Run.MaxUtterances))
	}

	return errors.Join(errs...)
}

func validateDetector(d *DetectorConfig) []error {
	var errs []error
	validateName("vad", d.Engine)
	if d.Engine == "" {
		errs = append(errs, errors.New("detector.engine is required"))
	}
	if d.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("detector.sample_rate %d must be positive", d.SampleRate))
	}
	if d.ChunkSize < 2 || !spectrum.IsPowerOfTwo(d.ChunkSize) {
		errs = append(errs, fmt.Errorf("detector.chunk_size %d must be a power of two of at least 2", d.ChunkSize))
	}
	for _, f := range []struct {
		key string
		v   time.Duration
	}{
		{"pause", d.Pause},
		{"phrase", d.Phrase},
		{"context", d.Context},
		{"max_utterance", d.MaxUtterance},
		{"calibration", d.Calibration},
	} {
		if f.v <= 0 {
			errs = append(errs, fmt.Errorf("detector.%s %s must be positive", f.key, f.v))
		}
	}
	if d.VoiceBand.LowHz < 0 || d.VoiceBand.HighHz <= d.VoiceBand.LowHz {
		errs = append(errs, fmt.Errorf("detector.voice_band [%g, %g] Hz is empty", d.VoiceBand.LowHz, d.VoiceBand.HighHz))
	}
	if d.SampleRate > 0 && d.VoiceBand.HighHz > float64(d.SampleRate)/2 {
		errs = append(errs, fmt.Errorf("detector.voice_band.high_hz %g exceeds Nyquist %g Hz", d.VoiceBand.HighHz, float64(d.SampleRate)/2))
	}
	if d.MaxUtterance > 0 && d.MaxUtterance < d.Pause+d.Phrase {
		slog.Warn("detector.max_utterance is shorter than pause plus phrase; utterances may never complete",
			"max_utterance", d.MaxUtterance,
			"pause", d.Pause,
			"phrase", d.Phrase,
		)
	}
	return errs
}

// validateName logs a warning if name is non-empty and not found in the
// [ValidNames] list for the given kind.
func validateName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown implementation name, may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
