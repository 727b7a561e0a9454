package features

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// melFilter is one triangular filter stored sparsely over FFT bins.
type melFilter struct {
	start   int
	weights []float64
}

func (f melFilter) apply(power []float64) float64 {
	if len(f.weights) == 0 {
		return 0
	}
	return floats.Dot(f.weights, power[f.start:f.start+len(f.weights)])
}

// melScale is the Kaldi mel scale.
func melScale(hz float64) float64 {
	return 1127.0 * math.Log(1.0+hz/700.0)
}

func inverseMelScale(mel float64) float64 {
	return 700.0 * (math.Exp(mel/1127.0) - 1.0)
}

// melFilterBank builds numMels triangles equally spaced on the mel axis
// between lowFreq and highFreq. Each triangle peaks at 1 at its center; no
// area normalization is applied.
func melFilterBank(numMels, fftSize, sampleRate int, lowFreq, highFreq float64) []melFilter {
	numBins := fftSize/2 + 1
	binWidth := float64(sampleRate) / float64(fftSize)

	melLow := melScale(lowFreq)
	melHigh := melScale(highFreq)
	delta := (melHigh - melLow) / float64(numMels+1)

	bank := make([]melFilter, numMels)
	for m := 0; m < numMels; m++ {
		left := melLow + float64(m)*delta
		center := melLow + float64(m+1)*delta
		right := melLow + float64(m+2)*delta

		first, last := -1, -1
		weights := make([]float64, numBins)
		for k := 0; k < numBins; k++ {
			mel := melScale(binWidth * float64(k))
			if mel <= left || mel >= right {
				continue
			}
			if mel <= center {
				weights[k] = (mel - left) / (center - left)
			} else {
				weights[k] = (right - mel) / (right - center)
			}
			if first < 0 {
				first = k
			}
			last = k
		}
		if first < 0 {
			// Narrow low-frequency filters can fall between FFT bins.
			bank[m] = melFilter{}
			continue
		}
		bank[m] = melFilter{start: first, weights: weights[first : last+1]}
	}
	return bank
}
