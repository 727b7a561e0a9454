package tdt

import (
	"errors"
	"reflect"
	"testing"
)

const (
	testVocab = 5
	testBlank = 4
)

type joinerCall struct {
	frame   float32
	decoder []float32
}

// fakeStepper is a deterministic stand-in for the prediction and joint
// networks. Its decoder output encodes the state chain so tests can check
// what the joiner was primed with.
type fakeStepper struct {
	joiner        func(frame, dec []float32) []float32
	decoderTokens []int
	joinerCalls   []joinerCall
	failJoinerAt  int
}

func (f *fakeStepper) RunDecoder(token int, s State) ([]float32, State, error) {
	f.decoderTokens = append(f.decoderTokens, token)
	next := State{
		Hidden: []float32{s.Hidden[0]*0.5 + float32(token)},
		Cell:   []float32{s.Cell[0] + 1},
	}
	return []float32{next.Hidden[0], next.Cell[0]}, next, nil
}

func (f *fakeStepper) RunJoiner(frame, dec []float32) ([]float32, error) {
	f.joinerCalls = append(f.joinerCalls, joinerCall{frame: frame[0], decoder: append([]float32(nil), dec...)})
	if f.failJoinerAt > 0 && len(f.joinerCalls) == f.failJoinerAt {
		return nil, errors.New("boom")
	}
	return f.joiner(frame, dec), nil
}

func logits(token, durationBin int) []float32 {
	out := make([]float32, testVocab+len(DefaultDurations))
	out[token] = 1
	out[testVocab+durationBin] = 1
	return out
}

// frames builds an encoder output whose single dimension holds the global
// frame number.
func frames(from, n int) EncoderOutput {
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(from + i)
	}
	return EncoderOutput{Dim: 1, Frames: n, Data: data}
}

func newDecoder(t *testing.T, step Stepper) *Decoder {
	t.Helper()
	d, err := New(step, Config{BlankID: testBlank, VocabSize: testVocab, StateSize: 1})
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	return d
}

func TestPrimesDecoderBeforeFirstFrame(t *testing.T) {
	step := &fakeStepper{joiner: func(_, _ []float32) []float32 { return logits(testBlank, 1) }}
	d := newDecoder(t, step)

	res, err := d.DecodeChunk(frames(0, 3), d.Start())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Tokens) != 0 {
		t.Fatalf("expected no tokens, got %v", res.Tokens)
	}
	if !reflect.DeepEqual(step.decoderTokens, []int{testBlank}) {
		t.Fatalf("expected one priming step on blank, got %v", step.decoderTokens)
	}
	// Priming blank from zero state yields hidden=4, cell=1.
	if got := step.joinerCalls[0].decoder; got[0] != 4 || got[1] != 1 {
		t.Fatalf("first joiner call not primed: %v", got)
	}
	if res.Next.Seed != testBlank {
		t.Fatalf("expected blank seed after a silent chunk, got %d", res.Next.Seed)
	}
}

func TestAllZeroLogitsTerminate(t *testing.T) {
	step := &fakeStepper{joiner: func(_, _ []float32) []float32 {
		return make([]float32, testVocab+len(DefaultDurations))
	}}
	d := newDecoder(t, step)

	res, err := d.DecodeChunk(frames(0, 10), d.Start())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Ties resolve to token 0 with duration 0; the floor still advances
	// one frame per joiner call.
	if res.JoinerCalls != 10 {
		t.Fatalf("expected 10 joiner calls, got %d", res.JoinerCalls)
	}
	if len(res.Tokens) != 10 {
		t.Fatalf("expected 10 tokens, got %d", len(res.Tokens))
	}
	if res.DecoderCalls != len(res.Tokens)+1 {
		t.Fatalf("decoder calls %d, want tokens+1", res.DecoderCalls)
	}
}

func TestFrameAdvanceIsMonotonic(t *testing.T) {
	for bin := range DefaultDurations {
		for _, tok := range []int{0, testBlank} {
			step := &fakeStepper{joiner: func(_, _ []float32) []float32 { return logits(tok, bin) }}
			d := newDecoder(t, step)
			res, err := d.DecodeChunk(frames(0, 17), d.Start())
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			last := float32(-1)
			for _, c := range step.joinerCalls {
				if c.frame <= last {
					t.Fatalf("token %d bin %d: frame %v after %v", tok, bin, c.frame, last)
				}
				last = c.frame
			}
			advance := max(DefaultDurations[bin], 1)
			if want := (17 + advance - 1) / advance; res.JoinerCalls != want {
				t.Fatalf("token %d bin %d: %d joiner calls, want %d", tok, bin, res.JoinerCalls, want)
			}
		}
	}
}

func TestDecoderRunsOncePerEmission(t *testing.T) {
	step := &fakeStepper{joiner: func(frame, _ []float32) []float32 {
		if int(frame[0])%2 == 0 {
			return logits(int(frame[0])%4, 1)
		}
		return logits(testBlank, 1)
	}}
	d := newDecoder(t, step)
	res, err := d.DecodeChunk(frames(0, 8), d.Start())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if want := []int{0, 2, 0, 2}; !reflect.DeepEqual(res.Tokens, want) {
		t.Fatalf("tokens %v, want %v", res.Tokens, want)
	}
	if want := []int{testBlank, 0, 2, 0, 2}; !reflect.DeepEqual(step.decoderTokens, want) {
		t.Fatalf("decoder tokens %v, want %v", step.decoderTokens, want)
	}
	if res.Next.Seed != 2 {
		t.Fatalf("expected seed 2, got %d", res.Next.Seed)
	}
	for _, tok := range res.Tokens {
		if tok == testBlank {
			t.Fatal("blank leaked into tokens")
		}
	}
}

func TestChunkBoundaryMatchesSinglePass(t *testing.T) {
	script := func(frame, dec []float32) []float32 {
		f := int(frame[0])
		if f%3 == 0 {
			return logits(testBlank, 1)
		}
		return logits((f+int(dec[1]))%4, 1)
	}

	single := &fakeStepper{joiner: script}
	d := newDecoder(t, single)
	whole, err := d.DecodeChunk(frames(0, 20), d.Start())
	if err != nil {
		t.Fatalf("single pass: %v", err)
	}

	split := &fakeStepper{joiner: script}
	d = newDecoder(t, split)
	first, err := d.DecodeChunk(frames(0, 10), d.Start())
	if err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	second, err := d.DecodeChunk(frames(10, 10), first.Next)
	if err != nil {
		t.Fatalf("second chunk: %v", err)
	}

	got := append(append([]int(nil), first.Tokens...), second.Tokens...)
	if !reflect.DeepEqual(got, whole.Tokens) {
		t.Fatalf("chunked tokens %v, single pass %v", got, whole.Tokens)
	}
	if !reflect.DeepEqual(split.joinerCalls, single.joinerCalls) {
		t.Fatalf("joiner inputs diverged across the boundary")
	}
	if len(whole.Tokens) == 0 {
		t.Fatal("script should emit tokens")
	}
}

func TestCarryIsNotMutated(t *testing.T) {
	step := &fakeStepper{joiner: func(_, _ []float32) []float32 { return logits(1, 1) }}
	d := newDecoder(t, step)
	carry := Carry{Seed: 3, State: State{Hidden: []float32{7}, Cell: []float32{9}}}
	before := carry.State.Clone()

	if _, err := d.DecodeChunk(frames(0, 4), carry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(carry.State, before) {
		t.Fatalf("carry state mutated: %+v", carry.State)
	}
	if step.decoderTokens[0] != 3 {
		t.Fatalf("expected priming on seed 3, got %d", step.decoderTokens[0])
	}
}

func TestDeterministic(t *testing.T) {
	script := func(frame, dec []float32) []float32 {
		return logits((int(frame[0])*7+int(dec[0]))%testVocab, int(frame[0])%3)
	}
	run := func() []int {
		step := &fakeStepper{joiner: script}
		d := newDecoder(t, step)
		res, err := d.DecodeChunk(frames(0, 40), d.Start())
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		return res.Tokens
	}
	a, b := run(), run()
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("repeated decode differs: %v vs %v", a, b)
	}
}

func TestErrors(t *testing.T) {
	short := &fakeStepper{joiner: func(_, _ []float32) []float32 { return make([]float32, testVocab) }}
	d := newDecoder(t, short)
	if _, err := d.DecodeChunk(frames(0, 2), d.Start()); !errors.Is(err, ErrLogits) {
		t.Fatalf("expected ErrLogits, got %v", err)
	}

	failing := &fakeStepper{joiner: func(_, _ []float32) []float32 { return logits(1, 1) }, failJoinerAt: 2}
	d = newDecoder(t, failing)
	res, err := d.DecodeChunk(frames(0, 5), d.Start())
	if err == nil {
		t.Fatal("expected joiner failure")
	}
	if res.Tokens != nil {
		t.Fatalf("expected no partial tokens on failure, got %v", res.Tokens)
	}
}

func TestNewValidates(t *testing.T) {
	cases := map[string]Config{
		"blank outside vocab": {BlankID: 5, VocabSize: 5, StateSize: 1},
		"no state":            {BlankID: 0, VocabSize: 5},
		"no vocab":            {StateSize: 1},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := New(&fakeStepper{}, cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDecodesOnlyValidFrames(t *testing.T) {
	step := &fakeStepper{joiner: func(_, _ []float32) []float32 { return logits(2, 1) }}
	d := newDecoder(t, step)
	enc := frames(0, 10)
	enc.Length = 6
	res, err := d.DecodeChunk(enc, d.Start())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.JoinerCalls != 6 || len(res.Tokens) != 6 {
		t.Fatalf("expected 6 frames decoded, got %d calls and %d tokens", res.JoinerCalls, len(res.Tokens))
	}
}

func TestEncoderOutputFrame(t *testing.T) {
	enc := EncoderOutput{Dim: 2, Frames: 3, Data: []float32{1, 2, 3, 4, 5, 6}}
	if got := enc.Frame(1, nil); !reflect.DeepEqual(got, []float32{2, 5}) {
		t.Fatalf("frame 1 = %v", got)
	}
}
