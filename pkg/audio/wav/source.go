package wav

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	gowav "github.com/go-audio/wav"

	"github.com/MrWong99/earshot/pkg/audio"
)

// FileSource is an [audio.Source] over a WAV file. The whole file is decoded
// and converted when opened.
type FileSource struct {
	format  audio.Format
	chunker *audio.Chunker
}

var _ audio.Source = (*FileSource)(nil)

// OpenFile decodes the WAV file at path and prepares chunks of chunkSize
// samples at sampleRate.
func OpenFile(path string, sampleRate, chunkSize int) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wav: open %s: %w", path, err)
	}
	defer f.Close()

	dec := gowav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("wav: %s is not a valid WAV file", path)
	}
	if dec.BitDepth != bitDepth || dec.WavAudioFormat != formatPCM {
		return nil, fmt.Errorf("%w: %s has format %d at %d bits, want PCM at 16 bits",
			ErrUnsupportedFormat, path, dec.WavAudioFormat, dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wav: decode %s: %w", path, err)
	}

	format := audio.Format{SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	conv := &audio.Converter{From: format, TargetRate: sampleRate}
	chunker := audio.NewChunker(chunkSize)
	chunker.Write(conv.Convert(audio.EncodePCM16(samples)))

	slog.Info("wav source: opened",
		"path", path,
		"sample_rate", format.SampleRate,
		"channels", format.Channels,
		"samples", len(samples),
	)
	return &FileSource{format: format, chunker: chunker}, nil
}

// Format returns the format of the file as stored.
func (s *FileSource) Format() audio.Format { return s.format }

// ReadChunk returns the next chunk, or io.EOF once fewer than a chunk's worth
// of samples remain.
func (s *FileSource) ReadChunk(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chunk, ok := s.chunker.Next()
	if !ok {
		return nil, io.EOF
	}
	return chunk, nil
}

// Close is a no-op; the file is closed after decoding.
func (s *FileSource) Close() error { return nil }
