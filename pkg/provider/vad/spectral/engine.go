// Package spectral implements a [vad.Engine] that finds utterances by
// comparing voice-band spectral energy against a calibrated noise baseline.
//
// Each chunk is turned into a one-sided power spectrum. The first chunks of a
// session (the calibration window) build a per-bin baseline of background
// power. Afterwards every chunk's energy above that baseline, summed over the
// voice band, is compared with a slowly adapting noise floor to label it
// speech or non-speech. Chunks are kept in a bounded ring; when enough speech
// has been followed by enough non-speech, the ring is re-scored against the
// current noise floor and trimmed from both ends with a 3-of-5 majority
// window before the remaining chunks are concatenated into one utterance.
//
// Detection is purely heuristic. It assumes one microphone, one sample rate
// and a gap-free chunk stream.
package spectral

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/earshot/pkg/audio/spectrum"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Default voice band in Hz.
const (
	DefaultVoiceBandLowHz  = 300.0
	DefaultVoiceBandHighHz = 1200.0
)

// Engine creates spectral detector sessions. The zero value is ready to use
// and safe for concurrent NewSession calls.
type Engine struct{}

// NewSession returns a new [Detector] for cfg.
func (Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	d, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return d, nil
}

var _ vad.Engine = Engine{}

// Thresholds are the chunk counts and spectrum indices derived from a
// [vad.Config]. They never change after construction.
type Thresholds struct {
	// Pause is the number of consecutive non-speech chunks that must be
	// exceeded before an utterance can end.
	Pause int

	// Phrase is the number of speech chunks that must be exceeded before an
	// utterance can end.
	Phrase int

	// Context is the number of non-speech chunks kept on each side of the
	// detected speech.
	Context int

	// Max is the ring capacity in chunks.
	Max int

	// Calibration is the number of leading chunks that build the baseline.
	Calibration int

	// BandStart and BandStop are the inclusive spectrum indices of the voice
	// band.
	BandStart int
	BandStop  int
}

// Bins returns the number of spectrum bins in the voice band.
func (t Thresholds) Bins() int { return t.BandStop - t.BandStart + 1 }

// deriveThresholds validates cfg and converts it into chunk counts.
func deriveThresholds(cfg vad.Config) (Thresholds, error) {
	var errs []error

	if cfg.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate %d must be positive", cfg.SampleRate))
	}
	if cfg.ChunkSize < 2 || !spectrum.IsPowerOfTwo(cfg.ChunkSize) {
		errs = append(errs, fmt.Errorf("chunk size %d must be a power of two of at least 2", cfg.ChunkSize))
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"pause duration", cfg.PauseDuration},
		{"phrase duration", cfg.PhraseDuration},
		{"context duration", cfg.ContextDuration},
		{"max utterance duration", cfg.MaxUtteranceDuration},
		{"calibration duration", cfg.CalibrationDuration},
	} {
		if d.v <= 0 {
			errs = append(errs, fmt.Errorf("%s %s must be positive", d.name, d.v))
		}
	}

	low, high := cfg.VoiceBandLowHz, cfg.VoiceBandHighHz
	if low == 0 {
		low = DefaultVoiceBandLowHz
	}
	if high == 0 {
		high = DefaultVoiceBandHighHz
	}
	if low < 0 || high <= low {
		errs = append(errs, fmt.Errorf("voice band [%g, %g] Hz is empty", low, high))
	}
	if cfg.SampleRate > 0 && high > float64(cfg.SampleRate)/2 {
		errs = append(errs, fmt.Errorf("voice band upper edge %g Hz exceeds Nyquist %g Hz", high, float64(cfg.SampleRate)/2))
	}

	if len(errs) > 0 {
		return Thresholds{}, fmt.Errorf("spectral: invalid config: %w", errors.Join(errs...))
	}

	secondsPerChunk := float64(cfg.ChunkSize) / float64(cfg.SampleRate)
	frames := func(d time.Duration) int {
		return int(math.Ceil(d.Seconds() / secondsPerChunk))
	}

	step := spectrum.Resolution(cfg.SampleRate, cfg.ChunkSize)
	t := Thresholds{
		Pause:       frames(cfg.PauseDuration),
		Phrase:      frames(cfg.PhraseDuration),
		Context:     frames(cfg.ContextDuration),
		Max:         frames(cfg.MaxUtteranceDuration),
		Calibration: frames(cfg.CalibrationDuration),
		BandStart:   int(math.Ceil(low / step)),
		BandStop:    int(math.Floor(high / step)),
	}
	if t.BandStop < t.BandStart {
		return Thresholds{}, fmt.Errorf("spectral: invalid config: voice band [%g, %g] Hz contains no bin at %g Hz resolution", low, high, step)
	}
	return t, nil
}
