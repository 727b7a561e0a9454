package features

import "math"

// NormalizeEpsilon is added to each column's standard deviation before
// division.
const NormalizeEpsilon = 1e-5

// Normalize rescales every mel bin of m in place to zero mean and unit
// variance over m's frames. The standard deviation is the population value;
// a constant column becomes all zeros.
func Normalize(m Matrix) {
	if m.Frames == 0 {
		return
	}
	n := float64(m.Frames)
	for b := 0; b < m.Bins; b++ {
		var sum float64
		for t := 0; t < m.Frames; t++ {
			sum += float64(m.Data[t*m.Bins+b])
		}
		mean := sum / n

		var sq float64
		for t := 0; t < m.Frames; t++ {
			d := float64(m.Data[t*m.Bins+b]) - mean
			sq += d * d
		}
		denom := math.Sqrt(sq/n) + NormalizeEpsilon

		for t := 0; t < m.Frames; t++ {
			i := t*m.Bins + b
			m.Data[i] = float32((float64(m.Data[i]) - mean) / denom)
		}
	}
}

// Chunk is one fixed-size encoder input. Features always holds the full
// chunk size; Length counts the real frames before the zero padding.
type Chunk struct {
	Features Matrix
	Length   int
}

// Chunks splits log-mel frames into fixed-size chunks. Each chunk is
// normalized over its own real frames and the last one is zero-padded to
// size afterwards. The input is not modified.
func Chunks(m Matrix, size int) []Chunk {
	if size <= 0 || m.Frames == 0 {
		return nil
	}
	chunks := make([]Chunk, 0, (m.Frames+size-1)/size)
	for start := 0; start < m.Frames; start += size {
		end := min(start+size, m.Frames)
		c := m.Slice(start, end).Clone()
		Normalize(c)
		chunks = append(chunks, Chunk{Features: c.Pad(size), Length: end - start})
	}
	return chunks
}
