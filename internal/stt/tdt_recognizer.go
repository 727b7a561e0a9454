package stt

import (
	"context"

	"github.com/loqalabs/loqa-stt/internal/recognizer"
)

// Engine is the part of recognizer.Recognizer the tdt backend needs.
type Engine interface {
	RecognizeAudio(ctx context.Context, interleaved []float32, sampleRate, channels int) (recognizer.Result, error)
	Info() recognizer.Info
}

type tdtRecognizer struct {
	engine Engine
}

// NewTDTRecognizer adapts a loaded transducer engine to the Recognizer seam.
func NewTDTRecognizer(engine Engine) Recognizer {
	return &tdtRecognizer{engine: engine}
}

func (r *tdtRecognizer) Transcribe(ctx context.Context, samples []float32, sampleRate int, channels int) (TranscriptResult, error) {
	res, err := r.engine.RecognizeAudio(ctx, samples, sampleRate, channels)
	if err != nil {
		return TranscriptResult{}, err
	}
	return TranscriptResult{
		Text:           res.Text,
		Tokens:         res.Tokens,
		Chunks:         res.Chunks,
		Variant:        r.engine.Info().Variant,
		AudioDuration:  res.AudioDuration,
		ProcessingTime: res.ProcessingTime,
	}, nil
}
