// Package audio defines the capture and output contracts around the detector,
// plus the PCM plumbing that turns arbitrary 16-bit input into the fixed-size
// mono chunks a VAD session expects.
//
// All PCM in this package is signed 16-bit little-endian. Multi-channel data
// is interleaved.
package audio

import (
	"context"
	"time"
)

// Source delivers fixed-size mono PCM chunks in capture order, with no gaps.
type Source interface {
	// ReadChunk blocks until the next chunk is available and returns exactly
	// 2*chunkSize bytes. It returns io.EOF when the stream has ended; a
	// trailing partial chunk is discarded.
	ReadChunk(ctx context.Context) ([]byte, error)

	// Close releases the underlying device or file.
	Close() error
}

// Sink receives finished utterances.
type Sink interface {
	// WriteUtterance delivers one utterance. Implementations must not retain
	// u.Data after returning unless they copy it.
	WriteUtterance(ctx context.Context, u Utterance) error

	// Close flushes and releases the sink.
	Close() error
}

// Utterance is one extracted phrase with its surrounding context.
type Utterance struct {
	// Seq numbers utterances from 1 in emission order.
	Seq int

	// SampleRate of Data in Hz.
	SampleRate int

	// Data is mono 16-bit PCM made of whole chunks.
	Data []byte

	// End is the stream offset of the end of the chunk that completed the
	// utterance.
	End time.Duration
}

// Duration returns the playback length of Data.
func (u Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.Data)/2) * time.Second / time.Duration(u.SampleRate)
}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameBytes returns the size in bytes of one interleaved sample frame.
func (f Format) FrameBytes() int { return 2 * max(f.Channels, 1) }
