package spectral

// Boundary trim window: a position counts as speech onset once at least
// trimMajority of the last trimWindow chunks are speech.
const (
	trimWindow   = 5
	trimMajority = 3
)

// extract re-scores the buffered chunks against the current noise floor,
// trims non-speech from both ends, and concatenates what is left plus up to
// Context chunks of padding per side. ok is false when the trims from the
// two ends meet or cross.
func (d *Detector) extract() (utterance []byte, ok bool) {
	n := d.frames.Len()
	threshold := d.noiseFloor * d.noiseFloor

	front := leadingNonSpeech(n, d.frames.At, threshold)
	back := leadingNonSpeech(n, func(i int) *frame { return d.frames.At(n - 1 - i) }, threshold)
	if front+back >= n {
		return nil, false
	}

	clipFront := max(0, front-d.th.Context)
	clipBack := max(0, back-d.th.Context)

	size := 2 * d.chunkSize
	utterance = make([]byte, 0, size*(n-clipFront-clipBack))
	for i := clipFront; i < n-clipBack; i++ {
		utterance = append(utterance, d.frames.At(i).data...)
	}
	return utterance, true
}

// leadingNonSpeech walks n frames in the order given by at, re-scoring each
// frame's powerDiff against threshold, and returns how many frames were
// walked before the trailing window first held a speech majority. If no
// majority is ever reached it returns n.
//
// The majority test starts once a full window lies behind the current
// frame, so the count is never below trimWindow.
func leadingNonSpeech(n int, at func(int) *frame, threshold float64) int {
	speaking := 0
	count := 0
	for i := range n {
		f := at(i)
		f.powerDiff = max(0, f.rawPowerDiff-threshold)
		if f.powerDiff > 0 {
			speaking++
		}
		if i >= trimWindow {
			if at(i-trimWindow).powerDiff > 0 {
				speaking--
			}
			if speaking >= trimMajority {
				break
			}
		}
		count++
	}
	return count
}
