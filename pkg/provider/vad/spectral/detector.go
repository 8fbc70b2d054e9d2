package spectral

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/MrWong99/earshot/internal/ringbuf"
	"github.com/MrWong99/earshot/pkg/audio/spectrum"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Noise floor smoothing weights for the previous estimate and the newest
// sample.
const (
	noiseFloorKeep = 0.99
	noiseFloorNew  = 0.01
)

// noiseFloorUnset marks a noise floor that has not seen a sample yet.
const noiseFloorUnset = -1.0

// frame is one buffered chunk.
type frame struct {
	data []byte

	// rawPowerDiff is the voice-band energy above baseline at capture time.
	rawPowerDiff float64

	// powerDiff is rawPowerDiff re-scored against the noise floor during the
	// last boundary trim.
	powerDiff float64
}

// Detector is a spectral VAD session. It implements [vad.SessionHandle].
//
// A Detector is not safe for concurrent use; drive it from one goroutine.
type Detector struct {
	sampleRate int
	chunkSize  int
	th         Thresholds

	calibGot int
	baseline []float64

	// noiseFloor is the smoothed square root of the above-baseline energy.
	noiseFloor float64

	nPhrase    int
	nNonSpeech int
	// nPhraseContSeen counts consecutive speech chunks. Nothing reads it for
	// detection; it is exposed through Stats only.
	nPhraseContSeen int

	frames     *ringbuf.Ring[frame]
	utterances ringbuf.Queue[[]byte]

	closed bool
}

var _ vad.SessionHandle = (*Detector)(nil)

// New validates cfg and returns a Detector at the start of its calibration
// window.
func New(cfg vad.Config) (*Detector, error) {
	th, err := deriveThresholds(cfg)
	if err != nil {
		return nil, err
	}
	return &Detector{
		sampleRate: cfg.SampleRate,
		chunkSize:  cfg.ChunkSize,
		th:         th,
		baseline:   make([]float64, th.Bins()),
		noiseFloor: noiseFloorUnset,
		frames:     ringbuf.NewRing[frame](th.Max),
	}, nil
}

// Thresholds returns the derived chunk counts and band indices.
func (d *Detector) Thresholds() Thresholds { return d.th }

// Next consumes one chunk and reports whether it completed an utterance.
// When it returns true exactly one more utterance can be taken with
// [Detector.PopUtterance].
func (d *Detector) Next(chunk []byte) (bool, error) {
	ev, err := d.ProcessFrame(chunk)
	if err != nil {
		return false, err
	}
	return ev.Type == vad.EventUtterance, nil
}

// ProcessFrame consumes one chunk of exactly 2*ChunkSize bytes. The chunk is
// copied; callers may reuse their buffer.
func (d *Detector) ProcessFrame(chunk []byte) (vad.Event, error) {
	if d.closed {
		return vad.Event{}, vad.ErrClosed
	}
	if len(chunk) != 2*d.chunkSize {
		return vad.Event{}, fmt.Errorf("spectral: %w: got %d bytes, want %d", vad.ErrChunkSize, len(chunk), 2*d.chunkSize)
	}

	ps, err := spectrum.PowerSpectrum(chunk, d.sampleRate)
	if err != nil {
		return vad.Event{}, fmt.Errorf("spectral: power spectrum: %w", err)
	}
	band := ps[d.th.BandStart : d.th.BandStop+1]

	if d.calibGot < d.th.Calibration {
		need := float64(d.th.Calibration)
		for i, p := range band {
			d.baseline[i] += p / need
		}
		d.calibGot++
		if d.calibGot == d.th.Calibration {
			slog.Debug("spectral: calibration complete", "chunks", d.calibGot, "bins", len(band))
		}
		return vad.Event{Type: vad.EventCalibrating, NoiseFloor: d.noiseFloor}, nil
	}

	var powerDiff float64
	for i, p := range band {
		powerDiff += max(0, p-d.baseline[i])
	}

	root := math.Sqrt(powerDiff)
	if d.noiseFloor < 0 {
		d.noiseFloor = root
	} else {
		d.noiseFloor = noiseFloorKeep*d.noiseFloor + noiseFloorNew*root
	}

	ev := vad.Event{Type: vad.EventSilence, PowerDiff: powerDiff, NoiseFloor: d.noiseFloor}
	if powerDiff-d.noiseFloor*d.noiseFloor > 0 {
		ev.Type = vad.EventSpeech
		d.nPhrase++
		d.nNonSpeech = 0
		d.nPhraseContSeen++
	} else {
		d.nNonSpeech++
		d.nPhraseContSeen = 0
	}

	data := make([]byte, len(chunk))
	copy(data, chunk)
	d.frames.Push(frame{data: data, rawPowerDiff: powerDiff, powerDiff: powerDiff})

	if d.nPhrase > d.th.Phrase && d.nNonSpeech > d.th.Pause {
		utterance, ok := d.extract()
		if !ok {
			// The stricter re-scoring found no speech majority. Keep buffering;
			// the next chunk re-runs extraction on the grown buffer.
			slog.Debug("spectral: extraction abandoned, no speech majority",
				"buffered", d.frames.Len(),
				"noise_floor", d.noiseFloor,
			)
			ev.Abandoned = true
			return ev, nil
		}
		d.utterances.Push(utterance)
		d.Reset()
		ev.Type = vad.EventUtterance
	}
	return ev, nil
}

// PopUtterance removes and returns the oldest queued utterance.
func (d *Detector) PopUtterance() ([]byte, error) {
	if d.closed {
		return nil, vad.ErrClosed
	}
	u, ok := d.utterances.Pop()
	if !ok {
		return nil, vad.ErrNoUtterance
	}
	return u, nil
}

// Pending returns the number of queued utterances.
func (d *Detector) Pending() int { return d.utterances.Len() }

// Reset drops all buffered chunks and zeroes the phrase and pause counters.
// The baseline and noise floor survive.
func (d *Detector) Reset() {
	d.frames.Clear()
	d.nPhrase = 0
	d.nNonSpeech = 0
	d.nPhraseContSeen = 0
}

// Close drops buffered chunks and queued utterances. Later calls to
// ProcessFrame and PopUtterance return [vad.ErrClosed].
func (d *Detector) Close() error {
	if d.closed {
		return nil
	}
	d.Reset()
	for d.utterances.Len() > 0 {
		d.utterances.Pop()
	}
	d.closed = true
	return nil
}

// Stats is a point-in-time view of a detector's internal state.
type Stats struct {
	Calibrated         bool
	CalibrationChunks  int
	CalibrationNeeded  int
	Buffered           int
	Phrase             int
	NonSpeech          int
	PhraseContinuation int
	NoiseFloor         float64
	Pending            int
}

// Stats returns the current detector state.
func (d *Detector) Stats() Stats {
	return Stats{
		Calibrated:         d.calibGot >= d.th.Calibration,
		CalibrationChunks:  d.calibGot,
		CalibrationNeeded:  d.th.Calibration,
		Buffered:           d.frames.Len(),
		Phrase:             d.nPhrase,
		NonSpeech:          d.nNonSpeech,
		PhraseContinuation: d.nPhraseContSeen,
		NoiseFloor:         d.noiseFloor,
		Pending:            d.utterances.Len(),
	}
}

// Baseline returns a copy of the per-bin calibration baseline, indexed from
// the first voice-band bin.
func (d *Detector) Baseline() []float64 {
	out := make([]float64, len(d.baseline))
	copy(out, d.baseline)
	return out
}
