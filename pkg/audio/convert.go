package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// DecodePCM16 converts little-endian 16-bit PCM into samples. A trailing odd
// byte is ignored.
func DecodePCM16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// EncodePCM16 converts samples into little-endian 16-bit PCM.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DownmixPCM16 averages each interleaved frame of channels samples into one
// mono sample. Mono input is returned unchanged; an incomplete trailing frame
// is dropped.
func DownmixPCM16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := 2 * channels
	frames := len(pcm) / stride
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for c := range channels {
			off := i*stride + c*2
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		// The mean of int16 values always fits in int16.
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/int32(channels))))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	sample := func(i int) int16 { return int16(binary.LittleEndian.Uint16(pcm[i*2:])) }

	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sample(idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sample(idx + 1)
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// Resampler is a streaming form of [ResampleMono16]. It carries the
// interpolation position and the last input sample across calls, so a stream
// split into blocks of any size resamples to the same output as the whole
// stream at once. The last input sample is held back until the next call
// supplies its right-hand neighbour.
type Resampler struct {
	SrcRate, DstRate int

	// pos is the next output position in input samples, scaled by DstRate
	// and measured from prev.
	pos    int64
	prev   int16
	primed bool
}

// Process resamples the next block of 16-bit mono PCM. A trailing odd byte
// is ignored.
func (r *Resampler) Process(pcm []byte) []byte {
	n := len(pcm) / 2
	if n == 0 || r.SrcRate <= 0 || r.DstRate <= 0 {
		return nil
	}
	buf := make([]int16, 0, n+1)
	if r.primed {
		buf = append(buf, r.prev)
	}
	buf = append(buf, DecodePCM16(pcm[:n*2])...)

	src, dst := int64(r.SrcRate), int64(r.DstRate)
	last := int64(len(buf) - 1)
	out := make([]byte, 0, 2*(last*dst/src+1))
	for ; r.pos/dst < last; r.pos += src {
		idx := r.pos / dst
		frac := float64(r.pos%dst) / float64(dst)
		v := int16(float64(buf[idx])*(1-frac) + float64(buf[idx+1])*frac)
		out = binary.LittleEndian.AppendUint16(out, uint16(v))
	}
	r.pos -= last * dst
	r.prev, r.primed = buf[last], true
	return out
}

// Converter turns interleaved PCM of any format into mono PCM at a target
// rate, keeping resampling state between calls. It logs once on the first
// conversion and once on misaligned input. Create one per stream; not
// designed for shared use across goroutines.
type Converter struct {
	From       Format
	TargetRate int

	resampler     *Resampler
	warnedConvert sync.Once
	warnedCorrupt sync.Once
}

// Convert downmixes then resamples pcm. Input that does not hold a whole
// number of frames is truncated to the last full frame.
func (c *Converter) Convert(pcm []byte) []byte {
	fb := c.From.FrameBytes()
	if rem := len(pcm) % fb; rem != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: input not frame aligned, truncating",
				"bytes", len(pcm),
				"frame_bytes", fb,
			)
		})
		pcm = pcm[:len(pcm)-rem]
	}

	if c.From.Channels <= 1 && c.From.SampleRate == c.TargetRate {
		return pcm
	}

	c.warnedConvert.Do(func() {
		slog.Info("audio converter: converting input",
			"from", formatString(c.From.SampleRate, c.From.Channels),
			"to", formatString(c.TargetRate, 1),
		)
	})

	// Downmix first so only one channel is resampled.
	pcm = DownmixPCM16(pcm, c.From.Channels)
	if c.From.SampleRate == c.TargetRate {
		return pcm
	}
	if c.resampler == nil {
		c.resampler = &Resampler{SrcRate: c.From.SampleRate, DstRate: c.TargetRate}
	}
	return c.resampler.Process(pcm)
}

// formatString returns a human-readable string for a sample rate and channel
// count, e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
