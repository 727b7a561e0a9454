// Package features turns 16 kHz mono PCM into the log-mel frames consumed by
// the transducer encoder.
//
// The front-end follows the Kaldi fbank convention used to train the
// Parakeet TDT models:
//
//	SampleRate:   16000
//	FrameLength:  400 (25 ms)
//	FrameShift:   160 (10 ms)
//	FFTSize:      512
//	LowFreq:      20
//	HighFreq:     7600
//	PreEmphasis:  0.97 (whole buffer)
//	WindowPower:  0.85 (Povey window)
//
// Normalization is per mel bin over one chunk of frames; see Normalize.
package features

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Config controls log-mel extraction.
type Config struct {
	SampleRate  int     // Hz
	FrameLength int     // window length in samples
	FrameShift  int     // hop in samples
	FFTSize     int     // must be >= FrameLength
	MelBins     int     // variant dependent (80 or 128)
	LowFreq     float64 // lowest filter edge in Hz
	HighFreq    float64 // highest filter edge in Hz
	PreEmphasis float64
	WindowPower float64
	LogFloor    float64
}

// DefaultConfig returns the reference front-end with the given mel bin count.
func DefaultConfig(melBins int) Config {
	return Config{
		SampleRate:  16000,
		FrameLength: 400,
		FrameShift:  160,
		FFTSize:     512,
		MelBins:     melBins,
		LowFreq:     20,
		HighFreq:    7600,
		PreEmphasis: 0.97,
		WindowPower: 0.85,
		LogFloor:    1e-10,
	}
}

func (c Config) validate() error {
	switch {
	case c.SampleRate <= 0:
		return errors.New("features: sample rate must be positive")
	case c.FrameLength <= 0 || c.FrameShift <= 0:
		return errors.New("features: frame length and shift must be positive")
	case c.FFTSize < c.FrameLength:
		return fmt.Errorf("features: fft size %d smaller than frame length %d", c.FFTSize, c.FrameLength)
	case c.MelBins <= 0:
		return errors.New("features: mel bin count must be positive")
	case c.LowFreq < 0 || c.HighFreq <= c.LowFreq || c.HighFreq > float64(c.SampleRate)/2:
		return fmt.Errorf("features: invalid mel range %.0f-%.0f Hz", c.LowFreq, c.HighFreq)
	}
	return nil
}

// Extractor computes log-mel features. It holds only immutable tables and is
// safe for concurrent use.
type Extractor struct {
	cfg    Config
	window []float64
	bank   []melFilter
}

// New builds an Extractor for cfg.
func New(cfg Config) (*Extractor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Extractor{
		cfg:    cfg,
		window: poveyWindow(cfg.FrameLength, cfg.WindowPower),
		bank:   melFilterBank(cfg.MelBins, cfg.FFTSize, cfg.SampleRate, cfg.LowFreq, cfg.HighFreq),
	}, nil
}

// Config returns the extractor configuration.
func (e *Extractor) Config() Config {
	return e.cfg
}

// NumFrames reports how many frames LogMel yields for n samples.
func (e *Extractor) NumFrames(n int) int {
	switch {
	case n <= 0:
		return 0
	case n < e.cfg.FrameLength:
		return 1
	default:
		return (n-e.cfg.FrameLength)/e.cfg.FrameShift + 1
	}
}

// LogMel computes un-normalized log-mel frames for samples. Empty input
// yields an empty matrix. Input shorter than one frame is zero-padded to a
// single frame. NaN and Inf samples are not filtered.
func (e *Extractor) LogMel(samples []float32) Matrix {
	cfg := e.cfg
	numFrames := e.NumFrames(len(samples))
	out := NewMatrix(numFrames, cfg.MelBins)
	if numFrames == 0 {
		return out
	}

	emphasized := preEmphasize(samples, cfg.PreEmphasis)
	if len(emphasized) < cfg.FrameLength {
		padded := make([]float64, cfg.FrameLength)
		copy(padded, emphasized)
		emphasized = padded
	}

	fft := fourier.NewFFT(cfg.FFTSize)
	frame := make([]float64, cfg.FFTSize)
	coeffs := make([]complex128, cfg.FFTSize/2+1)
	power := make([]float64, cfg.FFTSize/2+1)

	for t := 0; t < numFrames; t++ {
		start := t * cfg.FrameShift
		for i := 0; i < cfg.FrameLength; i++ {
			frame[i] = emphasized[start+i] * e.window[i]
		}
		for i := cfg.FrameLength; i < cfg.FFTSize; i++ {
			frame[i] = 0
		}

		coeffs = fft.Coefficients(coeffs, frame)
		for k, c := range coeffs {
			re, im := real(c), imag(c)
			power[k] = re*re + im*im
		}

		row := out.Row(t)
		for m, f := range e.bank {
			row[m] = float32(math.Log(f.apply(power) + cfg.LogFloor))
		}
	}
	return out
}

// Extract computes log-mel frames for samples and normalizes them as one
// chunk.
func (e *Extractor) Extract(samples []float32) Matrix {
	m := e.LogMel(samples)
	Normalize(m)
	return m
}

// preEmphasize applies y[n] = x[n] - a*x[n-1] once across the buffer.
func preEmphasize(samples []float32, coeff float64) []float64 {
	out := make([]float64, len(samples))
	if len(samples) == 0 {
		return out
	}
	out[0] = float64(samples[0])
	for i := 1; i < len(samples); i++ {
		out[i] = float64(samples[i]) - coeff*float64(samples[i-1])
	}
	return out
}

// poveyWindow is the Hann window raised to power (0.85 for Kaldi's "povey").
func poveyWindow(n int, power float64) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	denom := float64(n - 1)
	for i := range w {
		hann := 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/denom)
		w[i] = math.Pow(hann, power)
	}
	return w
}
