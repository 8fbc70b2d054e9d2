// Package vad defines the Engine interface for utterance-level Voice Activity
// Detection backends.
//
// A VAD engine consumes a gap-free stream of fixed-size 16-bit mono PCM chunks
// and decides where a spoken utterance starts and ends. Unlike frame-level
// detectors that only label each frame, a session here buffers recent chunks
// and, once a phrase followed by a long enough pause has been seen, extracts
// the whole utterance into an internal FIFO queue. Callers pull finished
// utterances with PopUtterance.
//
// Sessions are synchronous: ProcessFrame fully completes, extraction
// included, before it returns. A SessionHandle must be driven from a single
// goroutine, one chunk at a time, in capture order.
package vad

import (
	"errors"
	"time"
)

// ErrChunkSize is returned by ProcessFrame when the chunk length differs from
// the configured chunk size. The session state is left untouched.
var ErrChunkSize = errors.New("vad: chunk length does not match configured chunk size")

// ErrNoUtterance is returned by PopUtterance when no utterance is queued.
var ErrNoUtterance = errors.New("vad: no utterance queued")

// ErrClosed is returned by session methods called after Close.
var ErrClosed = errors.New("vad: session closed")

// Config holds the construction parameters of a VAD session. Every duration
// is converted once into a whole number of chunks by dividing by the chunk
// duration (ChunkSize / SampleRate) and rounding up.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// chunks passed to ProcessFrame.
	SampleRate int

	// ChunkSize is the number of samples per chunk. ProcessFrame rejects any
	// chunk that is not exactly 2*ChunkSize bytes. Must be a power of two.
	ChunkSize int

	// PauseDuration is how much trailing non-speech ends an utterance.
	PauseDuration time.Duration

	// PhraseDuration is how much speech must accumulate before a pause can
	// end an utterance.
	PhraseDuration time.Duration

	// ContextDuration is the amount of non-speech kept on each side of the
	// detected speech.
	ContextDuration time.Duration

	// MaxUtteranceDuration bounds the number of buffered chunks, and thereby
	// the longest utterance that can be emitted.
	MaxUtteranceDuration time.Duration

	// CalibrationDuration is the leading stretch of audio used to learn the
	// background noise baseline. No detection happens during calibration.
	CalibrationDuration time.Duration

	// VoiceBandLowHz and VoiceBandHighHz bound the frequency band whose energy
	// is compared against the baseline. Zero selects 300 Hz and 1200 Hz.
	VoiceBandLowHz  float64
	VoiceBandHighHz float64
}

// ChunkDuration returns the wall-clock length of one chunk.
func (c Config) ChunkDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.ChunkSize) * time.Second / time.Duration(c.SampleRate)
}

// SessionHandle is an active detection session over a single audio stream.
// It is an interface so that pipeline code can be tested with the doubles in
// the mock subpackage.
type SessionHandle interface {
	// ProcessFrame consumes the next chunk. The returned Event reports how the
	// chunk was classified; Event.Type is EventUtterance when an utterance was
	// extracted and queued by this call. Returns ErrChunkSize (wrapped) for a
	// chunk of the wrong length.
	ProcessFrame(chunk []byte) (Event, error)

	// PopUtterance removes and returns the oldest queued utterance: the raw
	// PCM bytes of consecutive chunks. Returns ErrNoUtterance when the queue
	// is empty.
	PopUtterance() ([]byte, error)

	// Pending returns the number of queued utterances.
	Pending() int

	// Reset drops buffered chunks and phrase/pause counters. Calibration and
	// the noise floor estimate are kept.
	Reset()

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession validates cfg and returns a session ready for its first
	// chunk. Invalid configurations return a joined error listing every
	// problem.
	NewSession(cfg Config) (SessionHandle, error)
}
