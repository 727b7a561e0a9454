// Package recognizer turns a finished speech segment into text by chaining
// feature extraction, per-chunk encoding and greedy TDT decoding.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-stt/internal/features"
	"github.com/loqalabs/loqa-stt/internal/inference"
	"github.com/loqalabs/loqa-stt/internal/model"
	"github.com/loqalabs/loqa-stt/internal/tdt"
	"github.com/loqalabs/loqa-stt/internal/vocab"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-stt/recognizer"

// Engine runs the networks for one model.
type Engine interface {
	RunEncoder(chunk features.Chunk) (tdt.EncoderOutput, error)
	tdt.Stepper
}

// Options fixes the engine geometry.
type Options struct {
	MelBins            int
	ChunkFrames        int
	StateSize          int
	Durations          []int
	MaxSymbolsPerFrame int
}

// Result is the outcome of one Recognize call.
type Result struct {
	Text           string
	Tokens         []int
	Chunks         int
	AudioDuration  time.Duration
	ProcessingTime time.Duration
}

// RealTimeFactor is processing time over audio time.
func (r Result) RealTimeFactor() float64 {
	if r.AudioDuration <= 0 {
		return 0
	}
	return r.ProcessingTime.Seconds() / r.AudioDuration.Seconds()
}

// Info describes the loaded model for logs and capability adverts.
type Info struct {
	Variant   string
	Device    string
	MelBins   int
	VocabSize int
	BlankID   int
	Quantized bool
}

// Recognizer is safe for concurrent use; calls are serialized because the
// underlying sessions are shared.
type Recognizer struct {
	engine      Engine
	vocab       *vocab.Vocabulary
	extractor   *features.Extractor
	decoder     *tdt.Decoder
	chunkFrames int
	info        Info
	closer      func() error

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics

	mu sync.Mutex
}

// New assembles a recognizer around an engine.
func New(engine Engine, voc *vocab.Vocabulary, opts Options, logger *slog.Logger) (*Recognizer, error) {
	if opts.ChunkFrames <= 0 {
		opts.ChunkFrames = inference.DefaultChunkFrames
	}
	extractor, err := features.New(features.DefaultConfig(opts.MelBins))
	if err != nil {
		return nil, err
	}
	decoder, err := tdt.New(engine, tdt.Config{
		BlankID:            voc.BlankID(),
		VocabSize:          voc.Size(),
		StateSize:          opts.StateSize,
		Durations:          opts.Durations,
		MaxSymbolsPerFrame: opts.MaxSymbolsPerFrame,
	})
	if err != nil {
		return nil, err
	}
	m, err := newMetrics(otel.Meter(instrumentationName))
	if err != nil {
		logger.Warn("failed to initialize recognizer metrics", slog.String("error", err.Error()))
	}
	return &Recognizer{
		engine:      engine,
		vocab:       voc,
		extractor:   extractor,
		decoder:     decoder,
		chunkFrames: opts.ChunkFrames,
		info:        Info{MelBins: opts.MelBins, VocabSize: voc.Size(), BlankID: voc.BlankID()},
		logger:      logger.With(slog.String("component", "recognizer")),
		tracer:      otel.Tracer(instrumentationName),
		metrics:     m,
	}, nil
}

// LoadOptions configures Open.
type LoadOptions struct {
	Model              model.Options
	ChunkFrames        int
	MaxSymbolsPerFrame int
}

// Open loads a model bundle and returns a recognizer that owns it.
func Open(ctx context.Context, opts LoadOptions, logger *slog.Logger) (*Recognizer, error) {
	if opts.ChunkFrames <= 0 {
		opts.ChunkFrames = inference.DefaultChunkFrames
	}
	bundle, err := model.Load(ctx, opts.Model, logger)
	if err != nil {
		return nil, err
	}
	orch, err := inference.New(bundle, opts.ChunkFrames)
	if err != nil {
		_ = bundle.Close()
		return nil, err
	}
	desc := bundle.Descriptor
	r, err := New(orch, bundle.Vocab, Options{
		MelBins:            desc.MelBins,
		ChunkFrames:        opts.ChunkFrames,
		StateSize:          desc.StateSize(),
		Durations:          desc.Durations,
		MaxSymbolsPerFrame: opts.MaxSymbolsPerFrame,
	}, logger)
	if err != nil {
		_ = bundle.Close()
		return nil, err
	}
	r.info.Variant = desc.Name
	r.info.Device = string(bundle.Device)
	r.info.Quantized = bundle.Files.Quantized()
	r.closer = bundle.Close
	return r, nil
}

// Info describes the loaded model.
func (r *Recognizer) Info() Info { return r.info }

// SampleRate is the rate Recognize expects.
func (r *Recognizer) SampleRate() int { return r.extractor.Config().SampleRate }

// Close releases the model bundle when the recognizer owns one.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closer == nil {
		return nil
	}
	err := r.closer()
	r.closer = nil
	return err
}

// RecognizeAudio mixes interleaved input down to mono, resamples it by
// linear interpolation when needed and recognizes it.
func (r *Recognizer) RecognizeAudio(ctx context.Context, interleaved []float32, sampleRate, channels int) (Result, error) {
	return r.Recognize(ctx, r.extractor.Conform(interleaved, sampleRate, channels))
}

// Recognize transcribes 16 kHz mono samples. ctx is only checked before
// work starts; a running utterance always completes. On error the result is
// empty.
func (r *Recognizer) Recognize(ctx context.Context, samples []float32) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "recognizer.Recognize",
		trace.WithAttributes(attribute.Int("audio.samples", len(samples))))
	defer span.End()

	res, err := r.recognize(ctx, samples)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.recordFailure(ctx)
		return Result{}, err
	}

	res.AudioDuration = time.Duration(len(samples)) * time.Second / time.Duration(r.SampleRate())
	res.ProcessingTime = elapsed
	span.SetAttributes(
		attribute.Int("stt.chunks", res.Chunks),
		attribute.Int("stt.tokens", len(res.Tokens)))
	r.metrics.recordSuccess(ctx, res)
	r.logger.Debug("utterance recognized",
		slog.Int("chunks", res.Chunks),
		slog.Int("tokens", len(res.Tokens)),
		slog.Duration("audio", res.AudioDuration),
		slog.Duration("elapsed", elapsed),
		slog.Float64("rtf", res.RealTimeFactor()))
	return res, nil
}

func (r *Recognizer) recognize(ctx context.Context, samples []float32) (Result, error) {
	chunks := features.Chunks(r.extractor.LogMel(samples), r.chunkFrames)
	carry := r.decoder.Start()

	var tokens []int
	for i, chunk := range chunks {
		out, err := r.decodeChunk(ctx, i, chunk, carry)
		if err != nil {
			return Result{}, fmt.Errorf("chunk %d of %d: %w", i+1, len(chunks), err)
		}
		tokens = append(tokens, out.Tokens...)
		carry = out.Next
	}
	return Result{Text: r.vocab.Text(tokens), Tokens: tokens, Chunks: len(chunks)}, nil
}

func (r *Recognizer) decodeChunk(ctx context.Context, index int, chunk features.Chunk, carry tdt.Carry) (tdt.ChunkResult, error) {
	_, span := r.tracer.Start(ctx, "recognizer.chunk", trace.WithAttributes(
		attribute.Int("stt.chunk.index", index),
		attribute.Int("stt.chunk.frames", chunk.Length)))
	defer span.End()

	enc, err := r.engine.RunEncoder(chunk)
	if err != nil {
		span.RecordError(err)
		return tdt.ChunkResult{}, fmt.Errorf("encode: %w", err)
	}
	out, err := r.decoder.DecodeChunk(enc, carry)
	if err != nil {
		span.RecordError(err)
		return tdt.ChunkResult{}, fmt.Errorf("decode: %w", err)
	}
	r.logger.Debug("chunk decoded",
		slog.Int("chunk", index),
		slog.Int("frames", chunk.Length),
		slog.Int("encoder_frames", enc.ValidFrames()),
		slog.Int("tokens", len(out.Tokens)),
		slog.Int("joiner_calls", out.JoinerCalls))
	return out, nil
}

// IsLoadError reports whether err came from loading the model.
func IsLoadError(err error) bool {
	return errors.Is(err, model.ErrModelLoad) || errors.Is(err, vocab.ErrVocabulary)
}
