// Package config provides the configuration schema, loader, and source/sink
// registry for the earshot utterance detector.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to its slog level. Unknown and empty values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Detector DetectorConfig `yaml:"detector"`
	Source   SourceConfig   `yaml:"source"`
	Sinks    []SinkConfig   `yaml:"sinks"`
	Run      RunConfig      `yaml:"run"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP server exposing health,
	// metrics and the utterance feed (e.g., ":8080"). Empty disables it.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// DetectorConfig holds the VAD engine selection and its construction
// parameters. Durations are YAML duration strings such as "500ms".
type DetectorConfig struct {
	// Engine selects the registered VAD engine.
	Engine string `yaml:"engine"`

	SampleRate   int           `yaml:"sample_rate"`
	ChunkSize    int           `yaml:"chunk_size"`
	Pause        time.Duration `yaml:"pause"`
	Phrase       time.Duration `yaml:"phrase"`
	Context      time.Duration `yaml:"context"`
	MaxUtterance time.Duration `yaml:"max_utterance"`
	Calibration  time.Duration `yaml:"calibration"`

	VoiceBand VoiceBandConfig `yaml:"voice_band"`
}

// VoiceBandConfig bounds the frequency band used for speech energy.
type VoiceBandConfig struct {
	LowHz  float64 `yaml:"low_hz"`
	HighHz float64 `yaml:"high_hz"`
}

// VAD converts d into the engine construction parameters.
func (d DetectorConfig) VAD() vad.Config {
	return vad.Config{
		SampleRate:           d.SampleRate,
		ChunkSize:            d.ChunkSize,
		PauseDuration:        d.Pause,
		PhraseDuration:       d.Phrase,
		ContextDuration:      d.Context,
		MaxUtteranceDuration: d.MaxUtterance,
		CalibrationDuration:  d.Calibration,
		VoiceBandLowHz:       d.VoiceBand.LowHz,
		VoiceBandHighHz:      d.VoiceBand.HighHz,
	}
}

// SourceConfig selects where audio comes from.
type SourceConfig struct {
	// Name selects the registered source ("portaudio", "wav", "raw").
	Name string `yaml:"name"`

	// Path is the input file for file-based sources. For "raw", empty or "-"
	// reads standard input.
	Path string `yaml:"path"`

	// Device is a substring of the capture device name for "portaudio".
	Device string `yaml:"device"`

	// SampleRate and Channels describe raw input. Zero means the detector's
	// sample rate and mono.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// Options holds source-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// SinkConfig selects one utterance destination.
type SinkConfig struct {
	// Name selects the registered sink ("wav", "websocket").
	Name string `yaml:"name"`

	// Path is the output directory or .wav file for "wav", and the HTTP route
	// for "websocket".
	Path string `yaml:"path"`

	// Options holds sink-specific values such as the wav file name pattern.
	Options map[string]any `yaml:"options"`

	// Breaker pauses a sink after repeated write failures. Nil disables it.
	Breaker *BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of a sink. Zero fields use
// the breaker defaults.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failed writes that pause the
	// sink.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long a paused sink is skipped before a trial write.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// DefaultWebSocketRoute is the route of a websocket sink without a path.
const DefaultWebSocketRoute = "/utterances"

// Route returns the HTTP route of a websocket sink.
func (s SinkConfig) Route() string {
	if s.Path == "" {
		return DefaultWebSocketRoute
	}
	return s.Path
}

// RunConfig controls the lifetime of a detection run.
type RunConfig struct {
	// MaxUtterances stops the run after this many utterances. Zero keeps
	// listening until the source ends or the process is signalled.
	MaxUtterances int `yaml:"max_utterances"`
}

// Default returns the configuration used for keys absent from a file: a 16 kHz
// microphone, 1024-sample chunks, and every utterance written over out.wav.
func Default() *Config {
	return &Config{
		Server: ServerConfig{LogLevel: LogInfo},
		Detector: DetectorConfig{
			Engine:       "spectral",
			SampleRate:   16000,
			ChunkSize:    1024,
			Pause:        500 * time.Millisecond,
			Phrase:       100 * time.Millisecond,
			Context:      500 * time.Millisecond,
			MaxUtterance: 4 * time.Second,
			Calibration:  time.Second,
			VoiceBand:    VoiceBandConfig{LowHz: 300, HighHz: 1200},
		},
		Source: SourceConfig{Name: "portaudio"},
		Sinks:  []SinkConfig{{Name: "wav", Path: "out.wav"}},
	}
}

// StringOption returns opts[key] if it is a string.
func StringOption(opts map[string]any, key string) (string, bool) {
	v, ok := opts[key].(string)
	return v, ok
}

// IntOption returns opts[key] if it is an integer.
func IntOption(opts map[string]any, key string) (int, bool) {
	v, ok := opts[key].(int)
	return v, ok
}
