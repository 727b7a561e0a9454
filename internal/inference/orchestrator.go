// Package inference drives the encoder, prediction and joint networks of a
// loaded model bundle. It holds no per-utterance state.
package inference

import (
	"fmt"

	"github.com/loqalabs/loqa-stt/internal/features"
	"github.com/loqalabs/loqa-stt/internal/model"
	"github.com/loqalabs/loqa-stt/internal/tdt"
	ort "github.com/yalue/onnxruntime_go"
)

// DefaultChunkFrames is the encoder chunk size in feature frames.
const DefaultChunkFrames = 80

// Orchestrator implements tdt.Stepper and the per-chunk encoder call over a
// model.Bundle. Calls on one Orchestrator must be serialized.
type Orchestrator struct {
	bundle      *model.Bundle
	chunkFrames int
}

// New binds an orchestrator to b with a fixed chunk size.
func New(b *model.Bundle, chunkFrames int) (*Orchestrator, error) {
	if chunkFrames <= 0 {
		return nil, fmt.Errorf("chunk frames must be positive, got %d", chunkFrames)
	}
	return &Orchestrator{bundle: b, chunkFrames: chunkFrames}, nil
}

// ChunkFrames is the exact frame count RunEncoder accepts.
func (o *Orchestrator) ChunkFrames() int { return o.chunkFrames }

// RunEncoder encodes one padded chunk. The length input carries the real
// frame count so padding frames are masked out, and the encoder's own
// length output bounds the frames handed to the decoder.
func (o *Orchestrator) RunEncoder(chunk features.Chunk) (tdt.EncoderOutput, error) {
	data, shape, err := encoderInput(chunk.Features, o.chunkFrames, o.bundle.MelBins(), o.bundle.TransposeInput())
	if err != nil {
		return tdt.EncoderOutput{}, err
	}
	valid, err := validLength(chunk.Length, o.chunkFrames)
	if err != nil {
		return tdt.EncoderOutput{}, err
	}
	x, err := ort.NewTensor(ort.NewShape(shape...), data)
	if err != nil {
		return tdt.EncoderOutput{}, fmt.Errorf("%w: encoder input: %v", ErrInference, err)
	}
	defer x.Destroy()
	length, err := ort.NewTensor(ort.NewShape(1), []int64{int64(valid)})
	if err != nil {
		return tdt.EncoderOutput{}, fmt.Errorf("%w: encoder length: %v", ErrInference, err)
	}
	defer length.Destroy()

	outs, err := o.bundle.Encoder.Run([]ort.Value{x, length})
	if err != nil {
		return tdt.EncoderOutput{}, fmt.Errorf("%w: %v", ErrInference, err)
	}
	defer destroyAll(outs)

	out, err := floatTensor(outs[0], "encoder output")
	if err != nil {
		return tdt.EncoderOutput{}, err
	}
	enc, err := encoderOutput(out.GetData(), out.GetShape())
	if err != nil {
		return tdt.EncoderOutput{}, err
	}
	if len(outs) > 1 {
		if lengths, ok := outs[1].(*ort.Tensor[int64]); ok && len(lengths.GetData()) > 0 {
			enc.Length = int(lengths.GetData()[0])
		}
	}
	return enc, nil
}

// RunDecoder runs one prediction step on token from state. state is not
// modified.
func (o *Orchestrator) RunDecoder(token int, state tdt.State) ([]float32, tdt.State, error) {
	desc := o.bundle.Descriptor
	size := desc.StateSize()
	if len(state.Hidden) != size || len(state.Cell) != size {
		return nil, tdt.State{}, fmt.Errorf("%w: decoder state has %d/%d values, want %d",
			ErrShape, len(state.Hidden), len(state.Cell), size)
	}
	stateShape := ort.NewShape(int64(desc.DecoderLayers), 1, int64(desc.DecoderHiddenSize))

	targets, err := ort.NewTensor(ort.NewShape(1, 1), []int32{int32(token)})
	if err != nil {
		return nil, tdt.State{}, fmt.Errorf("%w: targets: %v", ErrInference, err)
	}
	defer targets.Destroy()
	targetLength, err := ort.NewTensor(ort.NewShape(1), []int32{1})
	if err != nil {
		return nil, tdt.State{}, fmt.Errorf("%w: target length: %v", ErrInference, err)
	}
	defer targetLength.Destroy()
	// The runtime may read from these buffers; hand it copies.
	hidden, err := ort.NewTensor(stateShape, append([]float32(nil), state.Hidden...))
	if err != nil {
		return nil, tdt.State{}, fmt.Errorf("%w: state: %v", ErrInference, err)
	}
	defer hidden.Destroy()
	cell, err := ort.NewTensor(stateShape, append([]float32(nil), state.Cell...))
	if err != nil {
		return nil, tdt.State{}, fmt.Errorf("%w: state: %v", ErrInference, err)
	}
	defer cell.Destroy()

	outs, err := o.bundle.Decoder.Run([]ort.Value{targets, targetLength, hidden, cell})
	if err != nil {
		return nil, tdt.State{}, fmt.Errorf("%w: %v", ErrInference, err)
	}
	defer destroyAll(outs)

	first, second, err := stateOutputs(len(outs))
	if err != nil {
		return nil, tdt.State{}, err
	}
	out, err := floatTensor(outs[0], "decoder output")
	if err != nil {
		return nil, tdt.State{}, err
	}
	decOut, err := lastColumn(out.GetData(), out.GetShape())
	if err != nil {
		return nil, tdt.State{}, err
	}
	h, err := floatTensor(outs[first], "decoder state")
	if err != nil {
		return nil, tdt.State{}, err
	}
	c, err := floatTensor(outs[second], "decoder state")
	if err != nil {
		return nil, tdt.State{}, err
	}
	next := tdt.State{
		Hidden: append([]float32(nil), h.GetData()...),
		Cell:   append([]float32(nil), c.GetData()...),
	}
	if len(next.Hidden) != size || len(next.Cell) != size {
		return nil, tdt.State{}, fmt.Errorf("%w: decoder returned state of %d/%d values, want %d",
			ErrShape, len(next.Hidden), len(next.Cell), size)
	}
	return decOut, next, nil
}

// RunJoiner scores one encoder frame against the current decoder output.
// The result holds vocabulary logits followed by duration logits.
func (o *Orchestrator) RunJoiner(encoderFrame, decoderOutput []float32) ([]float32, error) {
	enc, err := ort.NewTensor(ort.NewShape(1, int64(len(encoderFrame)), 1), append([]float32(nil), encoderFrame...))
	if err != nil {
		return nil, fmt.Errorf("%w: joiner encoder input: %v", ErrInference, err)
	}
	defer enc.Destroy()
	dec, err := ort.NewTensor(ort.NewShape(1, int64(len(decoderOutput)), 1), append([]float32(nil), decoderOutput...))
	if err != nil {
		return nil, fmt.Errorf("%w: joiner decoder input: %v", ErrInference, err)
	}
	defer dec.Destroy()

	outs, err := o.bundle.Joiner.Run([]ort.Value{enc, dec})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	defer destroyAll(outs)

	logits, err := floatTensor(outs[0], "joiner output")
	if err != nil {
		return nil, err
	}
	want := o.bundle.VocabSize() + len(o.bundle.Descriptor.Durations)
	data := logits.GetData()
	if len(data) != want {
		return nil, fmt.Errorf("%w: joiner returned %d logits, want %d", ErrShape, len(data), want)
	}
	return append([]float32(nil), data...), nil
}

func floatTensor(v ort.Value, what string) (*ort.Tensor[float32], error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok || t == nil {
		return nil, fmt.Errorf("%w: %s is %T, want float32 tensor", ErrShape, what, v)
	}
	return t, nil
}

func destroyAll(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}
