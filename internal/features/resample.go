package features

// MixDown averages interleaved multi-channel samples into mono.
func MixDown(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts samples between rates by linear interpolation. It is a
// convenience path for non-conforming input and does not band-limit, so
// results differ slightly from polyphase resamplers.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}
	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(samples)) / ratio)
	out := make([]float32, outLen)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// Conform returns 16 kHz (or cfg rate) mono samples from interleaved input.
func (e *Extractor) Conform(interleaved []float32, sampleRate, channels int) []float32 {
	return Resample(MixDown(interleaved, channels), sampleRate, e.cfg.SampleRate)
}
