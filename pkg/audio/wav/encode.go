// Package wav reads and writes utterances as RIFF/WAVE files.
//
// Output files are always 16-bit signed little-endian mono PCM at the
// detector's sample rate. Input files may be any 16-bit PCM layout; they are
// downmixed and resampled before chunking.
package wav

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"

	"github.com/MrWong99/earshot/pkg/audio"
)

// formatPCM is the WAVE format tag for uncompressed integer PCM.
const formatPCM = 1

// bitDepth is the only sample width read or written.
const bitDepth = 16

// ErrUnsupportedFormat is returned for WAV input that is not 16-bit PCM.
var ErrUnsupportedFormat = errors.New("wav: unsupported format")

// Encode writes pcm (16-bit mono) to w as a complete WAV file.
func Encode(w io.WriteSeeker, sampleRate int, pcm []byte) error {
	enc := gowav.NewEncoder(w, sampleRate, bitDepth, 1, formatPCM)

	samples := audio.DecodePCM16(pcm)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("wav: write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wav: finalize header: %w", err)
	}
	return nil
}

// WriteFile creates or truncates path and encodes pcm into it.
func WriteFile(path string, sampleRate int, pcm []byte) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wav: create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("wav: close %s: %w", path, cerr)
		}
	}()
	return Encode(f, sampleRate, pcm)
}
