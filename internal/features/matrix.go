package features

// Matrix is a row-major (frames x bins) float32 feature matrix.
type Matrix struct {
	Frames int
	Bins   int
	Data   []float32
}

// NewMatrix allocates a zeroed matrix.
func NewMatrix(frames, bins int) Matrix {
	return Matrix{Frames: frames, Bins: bins, Data: make([]float32, frames*bins)}
}

// Empty reports whether the matrix has no frames.
func (m Matrix) Empty() bool {
	return m.Frames == 0
}

// Row returns frame i as a slice aliasing the matrix storage.
func (m Matrix) Row(i int) []float32 {
	return m.Data[i*m.Bins : (i+1)*m.Bins]
}

// Slice returns frames [start, end) aliasing the matrix storage.
func (m Matrix) Slice(start, end int) Matrix {
	return Matrix{Frames: end - start, Bins: m.Bins, Data: m.Data[start*m.Bins : end*m.Bins]}
}

// Clone returns a deep copy.
func (m Matrix) Clone() Matrix {
	data := make([]float32, len(m.Data))
	copy(data, m.Data)
	return Matrix{Frames: m.Frames, Bins: m.Bins, Data: data}
}

// Pad returns a copy of m extended with zero frames up to frames. A matrix
// that already has at least that many frames is returned unchanged.
func (m Matrix) Pad(frames int) Matrix {
	if m.Frames >= frames {
		return m
	}
	out := NewMatrix(frames, m.Bins)
	copy(out.Data, m.Data)
	return out
}

// TimeMajor flattens the matrix as (time, features).
func (m Matrix) TimeMajor() []float32 {
	out := make([]float32, len(m.Data))
	copy(out, m.Data)
	return out
}

// FeatureMajor flattens the matrix as (features, time).
func (m Matrix) FeatureMajor() []float32 {
	out := make([]float32, len(m.Data))
	for t := 0; t < m.Frames; t++ {
		row := m.Row(t)
		for f, v := range row {
			out[f*m.Frames+t] = v
		}
	}
	return out
}
