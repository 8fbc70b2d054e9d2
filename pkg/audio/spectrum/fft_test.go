package spectrum_test

import (
	"errors"
	"math"
	"math/cmplx"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/MrWong99/earshot/pkg/audio/spectrum"
)

const tolerance = 1e-9

func randomSequence(n int, seed uint64) []complex128 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	x := make([]complex128, n)
	for i := range x {
		x[i] = complex(rng.Float64()*2-1, rng.Float64()*2-1)
	}
	return x
}

func TestFFT_RejectsNonPowerOfTwo(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, 3, 6, 12, 1000} {
		_, err := spectrum.FFT(make([]complex128, n))
		if !errors.Is(err, spectrum.ErrNotPowerOfTwo) {
			t.Errorf("FFT(len=%d) error = %v, want ErrNotPowerOfTwo", n, err)
		}
		_, err = spectrum.InverseFFT(make([]complex128, n))
		if !errors.Is(err, spectrum.ErrNotPowerOfTwo) {
			t.Errorf("InverseFFT(len=%d) error = %v, want ErrNotPowerOfTwo", n, err)
		}
	}
}

func TestFFT_SingleSampleIsIdentity(t *testing.T) {
	t.Parallel()
	in := []complex128{complex(0.25, -1)}
	out, err := spectrum.FFT(in)
	if err != nil {
		t.Fatalf("FFT: %v", err)
	}
	if len(out) != 1 || out[0] != in[0] {
		t.Errorf("FFT(%v) = %v, want unchanged", in, out)
	}
	out[0] = 0
	if in[0] == 0 {
		t.Error("FFT returned the input slice instead of a copy")
	}
}

func TestFFT_ZeroInput(t *testing.T) {
	t.Parallel()
	out, err := spectrum.FFT(make([]complex128, 64))
	if err != nil {
		t.Fatalf("FFT: %v", err)
	}
	for i, v := range out {
		if v != 0 {
			t.Fatalf("bin %d = %v, want 0", i, v)
		}
	}
}

func TestFFT_DCInput(t *testing.T) {
	t.Parallel()
	const n = 128
	x := make([]complex128, n)
	for i := range x {
		x[i] = 0.5
	}
	out, err := spectrum.FFT(x)
	if err != nil {
		t.Fatalf("FFT: %v", err)
	}
	if got := cmplx.Abs(out[0] - complex(0.5*n, 0)); got > tolerance {
		t.Errorf("DC bin = %v, want %v", out[0], 0.5*n)
	}
	for i := 1; i < n; i++ {
		if cmplx.Abs(out[i]) > tolerance {
			t.Errorf("bin %d = %v, want 0", i, out[i])
		}
	}
}

func TestFFT_RoundTrip(t *testing.T) {
	t.Parallel()
	for _, n := range []int{1, 2, 4, 8, 64, 1024} {
		x := randomSequence(n, uint64(n))
		y, err := spectrum.FFT(x)
		if err != nil {
			t.Fatalf("FFT(n=%d): %v", n, err)
		}
		back, err := spectrum.InverseFFT(y)
		if err != nil {
			t.Fatalf("InverseFFT(n=%d): %v", n, err)
		}
		for i := range x {
			if d := cmplx.Abs(back[i] - x[i]); d > tolerance {
				t.Errorf("n=%d sample %d: got %v, want %v (|diff|=%g)", n, i, back[i], x[i], d)
			}
		}
	}
}

func TestFFT_MatchesGonum(t *testing.T) {
	t.Parallel()
	for _, n := range []int{2, 16, 256, 2048} {
		x := randomSequence(n, 42+uint64(n))
		got, err := spectrum.FFT(x)
		if err != nil {
			t.Fatalf("FFT(n=%d): %v", n, err)
		}
		want := fourier.NewCmplxFFT(n).Coefficients(nil, x)
		for i := range want {
			if d := cmplx.Abs(got[i] - want[i]); d > 1e-8*float64(n) {
				t.Errorf("n=%d bin %d: got %v, gonum %v", n, i, got[i], want[i])
			}
		}
	}
}

func TestFFT_PureToneLandsInItsBin(t *testing.T) {
	t.Parallel()
	const n, bin = 256, 10
	x := make([]complex128, n)
	for i := range x {
		x[i] = complex(math.Cos(2*math.Pi*bin*float64(i)/n), 0)
	}
	out, err := spectrum.FFT(x)
	if err != nil {
		t.Fatalf("FFT: %v", err)
	}
	peak := 0
	for i := 1; i < n/2; i++ {
		if cmplx.Abs(out[i]) > cmplx.Abs(out[peak]) {
			peak = i
		}
	}
	if peak != bin {
		t.Errorf("peak bin = %d, want %d", peak, bin)
	}
}
