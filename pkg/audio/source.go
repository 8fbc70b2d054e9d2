package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// readBlockFrames is how many input frames ReaderSource reads per call.
const readBlockFrames = 4096

// ReaderSource is a [Source] over a raw interleaved PCM stream such as a
// pipe or file. Input in another format is converted to mono at the target
// rate before chunking.
type ReaderSource struct {
	r       io.Reader
	conv    *Converter
	chunker *Chunker
	block   []byte
	carry   []byte
	eof     bool
}

var _ Source = (*ReaderSource)(nil)

// NewReaderSource returns a ReaderSource reading PCM of format from r and
// producing chunks of chunkSize samples at sampleRate.
func NewReaderSource(r io.Reader, from Format, sampleRate, chunkSize int) *ReaderSource {
	if from.SampleRate <= 0 {
		from.SampleRate = sampleRate
	}
	return &ReaderSource{
		r:       r,
		conv:    &Converter{From: from, TargetRate: sampleRate},
		chunker: NewChunker(chunkSize),
		block:   make([]byte, readBlockFrames*from.FrameBytes()),
	}
}

// ReadChunk returns the next chunk, reading from the underlying stream as
// needed. It returns io.EOF once the stream is exhausted and fewer than a
// chunk's worth of bytes remain.
func (s *ReaderSource) ReadChunk(ctx context.Context) ([]byte, error) {
	for {
		if chunk, ok := s.chunker.Next(); ok {
			return chunk, nil
		}
		if s.eof {
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := s.r.Read(s.block)
		if n > 0 {
			s.feed(s.block[:n])
		}
		if errors.Is(err, io.EOF) {
			s.eof = true
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("audio: read source: %w", err)
		}
	}
}

// feed converts whole frames of p, holding back a partial frame until the
// next read completes it.
func (s *ReaderSource) feed(p []byte) {
	fb := s.conv.From.FrameBytes()
	if len(s.carry) > 0 {
		p = append(s.carry, p...)
		s.carry = nil
	}
	whole := len(p) - len(p)%fb
	if whole < len(p) {
		s.carry = append([]byte(nil), p[whole:]...)
	}
	if whole > 0 {
		s.chunker.Write(s.conv.Convert(p[:whole]))
	}
}

// Close closes the underlying reader if it implements io.Closer.
func (s *ReaderSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
