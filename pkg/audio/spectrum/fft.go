// Package spectrum computes power spectra of 16-bit PCM chunks.
//
// The transform is a plain recursive radix-2 Cooley-Tukey FFT. It allocates
// per call and keeps no state, so every function in this package is safe for
// concurrent use on independent inputs.
//
// Spectra are one-sided: a chunk of n samples yields n/2+1 power values, bin
// i covering [BinFrequency] (i) Hz.
package spectrum

import (
	"errors"
	"math"
	"math/cmplx"
)

// ErrNotPowerOfTwo is returned when a transform input length is not a power
// of two (zero included).
var ErrNotPowerOfTwo = errors.New("spectrum: length is not a power of two")

// ErrOddLength is returned when a PCM16 byte slice has an odd length.
var ErrOddLength = errors.New("spectrum: odd byte count in PCM16 data")

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// FFT returns the discrete Fourier transform of x. The input is not
// modified. len(x) must be a power of two; a length of one is returned as a
// copy.
func FFT(x []complex128) ([]complex128, error) {
	if !IsPowerOfTwo(len(x)) {
		return nil, ErrNotPowerOfTwo
	}
	return fft(x), nil
}

// InverseFFT returns the inverse transform of y, scaled by 1/n so that
// InverseFFT(FFT(x)) reproduces x.
func InverseFFT(y []complex128) ([]complex128, error) {
	if !IsPowerOfTwo(len(y)) {
		return nil, ErrNotPowerOfTwo
	}
	n := len(y)
	conj := make([]complex128, n)
	for i, v := range y {
		conj[i] = cmplx.Conj(v)
	}
	out := fft(conj)
	scale := complex(1/float64(n), 0)
	for i, v := range out {
		out[i] = cmplx.Conj(v) * scale
	}
	return out, nil
}

// fft assumes len(x) is a power of two.
func fft(x []complex128) []complex128 {
	n := len(x)
	if n == 1 {
		return []complex128{x[0]}
	}

	half := n / 2
	even := make([]complex128, half)
	for k := range half {
		even[k] = x[2*k]
	}
	q := fft(even)

	// even is no longer needed once q is computed.
	odd := even
	for k := range half {
		odd[k] = x[2*k+1]
	}
	r := fft(odd)

	y := make([]complex128, n)
	for k := range half {
		kth := -2 * float64(k) * math.Pi / float64(n)
		wk := complex(math.Cos(kth), math.Sin(kth))
		t := wk * r[k]
		y[k] = q[k] + t
		y[k+half] = q[k] - t
	}
	return y
}
