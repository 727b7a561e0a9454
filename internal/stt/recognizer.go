package stt

import (
	"context"
	"time"
)

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text           string
	Tokens         []int
	Chunks         int
	Variant        string
	AudioDuration  time.Duration
	ProcessingTime time.Duration
}

// RealTimeFactor is processing time over audio time.
func (r TranscriptResult) RealTimeFactor() float64 {
	if r.AudioDuration <= 0 {
		return 0
	}
	return r.ProcessingTime.Seconds() / r.AudioDuration.Seconds()
}

// Recognizer abstracts STT backends. Samples are interleaved float32 in
// [-1, 1] at any rate and channel count.
type Recognizer interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int, channels int) (TranscriptResult, error)
}
