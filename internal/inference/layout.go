package inference

import (
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-stt/internal/features"
	"github.com/loqalabs/loqa-stt/internal/tdt"
)

var (
	// ErrShape marks a chunk or tensor whose shape does not match the model.
	ErrShape = errors.New("tensor shape")
	// ErrInference marks a failing runtime call.
	ErrInference = errors.New("inference")
)

// encoderInput flattens chunk in the axis order the variant expects and
// returns the (1, ...) input shape.
func encoderInput(chunk features.Matrix, frames, bins int, transpose bool) ([]float32, []int64, error) {
	if chunk.Frames != frames {
		return nil, nil, fmt.Errorf("%w: chunk has %d frames, encoder takes exactly %d", ErrShape, chunk.Frames, frames)
	}
	if chunk.Bins != bins {
		return nil, nil, fmt.Errorf("%w: chunk has %d mel bins, model expects %d", ErrShape, chunk.Bins, bins)
	}
	if transpose {
		return chunk.FeatureMajor(), []int64{1, int64(bins), int64(frames)}, nil
	}
	return chunk.TimeMajor(), []int64{1, int64(frames), int64(bins)}, nil
}

// validLength resolves a chunk's real frame count; zero means a full chunk.
func validLength(length, frames int) (int, error) {
	switch {
	case length == 0:
		return frames, nil
	case length < 0 || length > frames:
		return 0, fmt.Errorf("%w: chunk length %d outside 1..%d", ErrShape, length, frames)
	default:
		return length, nil
	}
}

// encoderOutput copies a (1, dim, frames) tensor into an EncoderOutput.
func encoderOutput(data []float32, shape []int64) (tdt.EncoderOutput, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return tdt.EncoderOutput{}, fmt.Errorf("%w: encoder output shape %v, want (1, dim, frames)", ErrShape, shape)
	}
	dim, frames := int(shape[1]), int(shape[2])
	if len(data) != dim*frames {
		return tdt.EncoderOutput{}, fmt.Errorf("%w: encoder output has %d values for shape %v", ErrShape, len(data), shape)
	}
	return tdt.EncoderOutput{Dim: dim, Frames: frames, Data: append([]float32(nil), data...)}, nil
}

// lastColumn extracts the final time step of a (1, hidden, steps) tensor.
func lastColumn(data []float32, shape []int64) ([]float32, error) {
	if len(shape) != 3 || shape[0] != 1 || shape[2] < 1 {
		return nil, fmt.Errorf("%w: decoder output shape %v, want (1, hidden, steps)", ErrShape, shape)
	}
	hidden, steps := int(shape[1]), int(shape[2])
	if len(data) != hidden*steps {
		return nil, fmt.Errorf("%w: decoder output has %d values for shape %v", ErrShape, len(data), shape)
	}
	out := make([]float32, hidden)
	for h := 0; h < hidden; h++ {
		out[h] = data[h*steps+steps-1]
	}
	return out, nil
}

// stateOutputs picks the two recurrent state outputs of the prediction
// network. Exports with a lengths output place them at 2 and 3.
func stateOutputs(count int) (int, int, error) {
	switch {
	case count >= 4:
		return 2, 3, nil
	case count == 3:
		return 1, 2, nil
	default:
		return 0, 0, fmt.Errorf("%w: decoder has %d outputs, need output and two states", ErrShape, count)
	}
}
