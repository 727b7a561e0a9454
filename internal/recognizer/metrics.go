package recognizer

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

type metrics struct {
	duration metric.Float64Histogram
	rtf      metric.Float64Histogram
	chunks   metric.Int64Counter
	tokens   metric.Int64Counter
	failures metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	duration, err := meter.Float64Histogram("loqa.stt.recognize.duration",
		metric.WithDescription("Wall time of one recognition"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...))
	if err != nil {
		return nil, err
	}
	rtf, err := meter.Float64Histogram("loqa.stt.recognize.rtf",
		metric.WithDescription("Processing time divided by audio time"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.2, 0.5, 1, 2))
	if err != nil {
		return nil, err
	}
	chunks, err := meter.Int64Counter("loqa.stt.chunks", metric.WithDescription("Encoder chunks processed"))
	if err != nil {
		return nil, err
	}
	tokens, err := meter.Int64Counter("loqa.stt.tokens", metric.WithDescription("Tokens emitted"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("loqa.stt.recognize.failures", metric.WithDescription("Failed recognitions"))
	if err != nil {
		return nil, err
	}
	return &metrics{duration: duration, rtf: rtf, chunks: chunks, tokens: tokens, failures: failures}, nil
}

func (m *metrics) recordSuccess(ctx context.Context, res Result) {
	if m == nil {
		return
	}
	m.duration.Record(ctx, res.ProcessingTime.Seconds())
	if res.AudioDuration > 0 {
		m.rtf.Record(ctx, res.RealTimeFactor())
	}
	m.chunks.Add(ctx, int64(res.Chunks))
	m.tokens.Add(ctx, int64(len(res.Tokens)))
}

func (m *metrics) recordFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.failures.Add(ctx, 1)
}
