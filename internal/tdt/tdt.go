// Package tdt implements greedy Token-and-Duration Transducer decoding over
// one encoder chunk at a time.
//
// Decoder recurrent state is an explicit value. Every step takes a State and
// returns a new one, so a chunk sequence can be replayed from any Carry.
package tdt

import (
	"errors"
	"fmt"
)

// DefaultMaxSymbolsPerFrame bounds consecutive emissions without a frame
// advance.
const DefaultMaxSymbolsPerFrame = 5

// DefaultDurations are the frame advances selected by the duration bins.
var DefaultDurations = []int{0, 1, 2, 3, 4}

// ErrLogits reports a joiner output too short for the vocabulary plus the
// duration bins.
var ErrLogits = errors.New("tdt: joiner logits shorter than vocabulary plus durations")

// State is the prediction network's recurrent state (hidden and cell).
type State struct {
	Hidden []float32
	Cell   []float32
}

// ZeroState returns a state of size zeros per tensor.
func ZeroState(size int) State {
	return State{Hidden: make([]float32, size), Cell: make([]float32, size)}
}

// Clone deep-copies the state.
func (s State) Clone() State {
	return State{
		Hidden: append([]float32(nil), s.Hidden...),
		Cell:   append([]float32(nil), s.Cell...),
	}
}

// EncoderOutput is one chunk of encoder output laid out as
// (batch=1, Dim, Frames). Length is the number of frames backed by real
// audio; zero means all of them.
type EncoderOutput struct {
	Dim    int
	Frames int
	Length int
	Data   []float32
}

// ValidFrames is the number of leading frames to decode.
func (e EncoderOutput) ValidFrames() int {
	if e.Length > 0 && e.Length < e.Frames {
		return e.Length
	}
	return e.Frames
}

// Frame copies the Dim-vector for frame t into dst, growing it if needed.
func (e EncoderOutput) Frame(t int, dst []float32) []float32 {
	if cap(dst) < e.Dim {
		dst = make([]float32, e.Dim)
	}
	dst = dst[:e.Dim]
	for d := 0; d < e.Dim; d++ {
		dst[d] = e.Data[d*e.Frames+t]
	}
	return dst
}

// Stepper runs single prediction and joint network steps. Implementations
// must not modify the State passed to RunDecoder.
type Stepper interface {
	RunDecoder(token int, state State) (output []float32, next State, err error)
	RunJoiner(encoderFrame, decoderOutput []float32) ([]float32, error)
}

// Config fixes the decoding constants for one model.
type Config struct {
	BlankID            int
	VocabSize          int
	StateSize          int
	Durations          []int
	MaxSymbolsPerFrame int
}

func (c Config) validate() error {
	switch {
	case c.VocabSize <= 0:
		return errors.New("tdt: vocab size must be positive")
	case c.BlankID < 0 || c.BlankID >= c.VocabSize:
		return fmt.Errorf("tdt: blank id %d outside vocabulary of %d", c.BlankID, c.VocabSize)
	case c.StateSize <= 0:
		return errors.New("tdt: state size must be positive")
	case len(c.Durations) == 0:
		return errors.New("tdt: no duration bins")
	case c.MaxSymbolsPerFrame <= 0:
		return errors.New("tdt: max symbols per frame must be positive")
	}
	return nil
}

// Carry is what crosses a chunk boundary: the last emitted token (blank if
// none yet) and the decoder state that preceded its prediction step.
// Re-running the decoder on (Seed, State) reproduces the decoder output that
// was current when the previous chunk ended.
type Carry struct {
	Seed  int
	State State
}

// ChunkResult is the outcome of decoding one chunk.
type ChunkResult struct {
	Tokens      []int
	Next        Carry
	JoinerCalls int
	// DecoderCalls includes the priming step.
	DecoderCalls int
}

// Decoder is a stateless greedy TDT decoder; all per-utterance state lives in
// Carry values.
type Decoder struct {
	cfg  Config
	step Stepper
}

// New validates cfg and binds it to step.
func New(step Stepper, cfg Config) (*Decoder, error) {
	if cfg.Durations == nil {
		cfg.Durations = DefaultDurations
	}
	if cfg.MaxSymbolsPerFrame == 0 {
		cfg.MaxSymbolsPerFrame = DefaultMaxSymbolsPerFrame
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Decoder{cfg: cfg, step: step}, nil
}

// Config returns the effective configuration.
func (d *Decoder) Config() Config { return d.cfg }

// Start returns the carry for the first chunk of an utterance: blank seed
// and zeroed state.
func (d *Decoder) Start() Carry {
	return Carry{Seed: d.cfg.BlankID, State: ZeroState(d.cfg.StateSize)}
}

// DecodeChunk primes the prediction network from carry and greedily decodes
// the valid frames of enc. The frame index advances by at least one per
// joiner call, so the loop ends after at most enc.ValidFrames() iterations.
func (d *Decoder) DecodeChunk(enc EncoderOutput, carry Carry) (ChunkResult, error) {
	res := ChunkResult{Next: carry}

	decOut, state, err := d.step.RunDecoder(carry.Seed, carry.State)
	if err != nil {
		return ChunkResult{}, fmt.Errorf("prime decoder: %w", err)
	}
	res.DecoderCalls++

	vocabSize := d.cfg.VocabSize
	need := vocabSize + len(d.cfg.Durations)
	frame := make([]float32, enc.Dim)
	emitted := 0

	frames := enc.ValidFrames()
	for t := 0; t < frames; {
		frame = enc.Frame(t, frame)
		logits, err := d.step.RunJoiner(frame, decOut)
		if err != nil {
			return ChunkResult{}, fmt.Errorf("joiner at frame %d: %w", t, err)
		}
		res.JoinerCalls++
		if len(logits) < need {
			return ChunkResult{}, fmt.Errorf("%w: got %d, need %d", ErrLogits, len(logits), need)
		}

		y := argmax(logits[:vocabSize])
		skip := d.cfg.Durations[argmax(logits[vocabSize:need])]

		if y != d.cfg.BlankID {
			res.Tokens = append(res.Tokens, y)
			res.Next = Carry{Seed: y, State: state}
			decOut, state, err = d.step.RunDecoder(y, state)
			if err != nil {
				return ChunkResult{}, fmt.Errorf("decoder after token %d: %w", y, err)
			}
			res.DecoderCalls++
			emitted++
		}
		if skip > 0 {
			emitted = 0
		}
		if emitted >= d.cfg.MaxSymbolsPerFrame {
			skip = 1
			emitted = 0
		}
		if y == d.cfg.BlankID && skip == 0 {
			skip = 1
			emitted = 0
		}
		t += max(skip, 1)
	}
	return res, nil
}

// argmax returns the first index of the largest value.
func argmax(values []float32) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}
