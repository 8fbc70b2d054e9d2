package spectrum

import "encoding/binary"

// pcmScale maps a signed 16-bit sample into [-1, 1).
const pcmScale = 32768.0

// PowerSpectrum decodes chunk as signed 16-bit little-endian mono PCM and
// returns its one-sided power spectrum: n/2+1 values for n samples, each
// |Y[i]|^2 / (sampleRate * n). All values are non-negative.
//
// The sample count must be a power of two.
func PowerSpectrum(chunk []byte, sampleRate int) ([]float64, error) {
	if len(chunk)%2 != 0 {
		return nil, ErrOddLength
	}
	n := len(chunk) / 2
	if !IsPowerOfTwo(n) {
		return nil, ErrNotPowerOfTwo
	}

	samples := make([]complex128, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(chunk[2*i:]))
		samples[i] = complex(float64(s)/pcmScale, 0)
	}

	y := fft(samples)

	scale := 1.0 / (float64(sampleRate) * float64(n))
	out := make([]float64, n/2+1)
	for i := range out {
		re, im := real(y[i]), imag(y[i])
		out[i] = (re*re + im*im) * scale
	}
	return out, nil
}

// BinFrequency returns the centre frequency in Hz of spectrum bin i for a
// chunk of chunkSize samples at sampleRate.
func BinFrequency(i, sampleRate, chunkSize int) float64 {
	return float64(i) * Resolution(sampleRate, chunkSize)
}

// Resolution returns the width in Hz of one spectrum bin:
// (sampleRate/2) / (chunkSize/2).
func Resolution(sampleRate, chunkSize int) float64 {
	return (float64(sampleRate) / 2) / float64(chunkSize/2)
}
