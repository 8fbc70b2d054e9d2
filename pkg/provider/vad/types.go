package vad

// Event describes what a session did with one chunk.
type Event struct {
	// Type is the classification of the chunk.
	Type EventType

	// PowerDiff is the voice-band energy above the calibrated baseline.
	// Zero while calibrating.
	PowerDiff float64

	// NoiseFloor is the current smoothed noise estimate (square-root
	// domain). Negative until the first post-calibration chunk.
	NoiseFloor float64

	// Abandoned is set when the chunk satisfied the phrase and pause
	// thresholds but extraction found no speech majority. Buffered audio
	// and counters are kept.
	Abandoned bool
}

// EventType enumerates chunk classifications.
type EventType int

const (
	// EventCalibrating marks a chunk consumed by baseline calibration.
	EventCalibrating EventType = iota

	// EventSilence marks a chunk classified as non-speech.
	EventSilence

	// EventSpeech marks a chunk classified as speech.
	EventSpeech

	// EventUtterance marks the chunk that completed an utterance; one more
	// utterance is available via PopUtterance.
	EventUtterance
)

// String returns the lower-case name of the event type.
func (t EventType) String() string {
	switch t {
	case EventCalibrating:
		return "calibrating"
	case EventSilence:
		return "silence"
	case EventSpeech:
		return "speech"
	case EventUtterance:
		return "utterance"
	default:
		return "unknown"
	}
}
