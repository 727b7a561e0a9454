package stt

import (
	"context"
	"fmt"
	"time"
)

type mockRecognizer struct{}

// NewMockRecognizer returns a backend that describes its input instead of
// recognizing it. It lets the node run without model files.
func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, samples []float32, sampleRate int, channels int) (TranscriptResult, error) {
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}
	if channels <= 0 {
		channels = 1
	}
	frames := len(samples) / channels
	var audio time.Duration
	if sampleRate > 0 {
		audio = time.Duration(frames) * time.Second / time.Duration(sampleRate)
	}
	return TranscriptResult{
		Text:          fmt.Sprintf("[mock transcript frames=%d]", frames),
		Variant:       "mock",
		AudioDuration: audio,
	}, nil
}
