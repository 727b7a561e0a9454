package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-stt/internal/audio"
	"github.com/loqalabs/loqa-stt/internal/bus"
	"github.com/loqalabs/loqa-stt/internal/config"
	"github.com/loqalabs/loqa-stt/internal/eventstore"
	"github.com/loqalabs/loqa-stt/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Recorder persists recognition outcomes. *eventstore.Store satisfies it.
type Recorder interface {
	RecordRecognition(ctx context.Context, rec eventstore.Recognition) error
}

const segmentTimeout = 45 * time.Second

// Service buffers audio frames per session and recognizes each segment once
// its final frame arrives. Segments are processed in arrival order by a
// single worker.
type Service struct {
	cfg        config.STTConfig
	bus        *bus.Client
	recognizer Recognizer
	store      Recorder
	log        *slog.Logger
	sessions   map[string]*sessionState
	jobs       chan segment
	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	sub        *nats.Subscription
	wg         sync.WaitGroup
	ready      atomic.Bool
	newTraceID func() string
}

type sessionState struct {
	Buffer     []byte
	SampleRate int
	Channels   int
}

type segment struct {
	SessionID  string
	PCM        []byte
	SampleRate int
	Channels   int
	Truncated  bool
}

func NewService(parent context.Context, cfg config.STTConfig, busClient *bus.Client, recognizer Recognizer, store Recorder, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:        cfg,
		bus:        busClient,
		recognizer: recognizer,
		store:      store,
		log:        log.With(slog.String("component", "stt")),
		sessions:   make(map[string]*sessionState),
		jobs:       make(chan segment, 16),
		ctx:        ctx,
		cancel:     cancel,
		newTraceID: uuid.NewString,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := s.bus.Conn().Subscribe(subject, s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub

	s.wg.Add(1)
	go s.run()

	s.ready.Store(true)
	s.log.Info("stt service listening", slog.String("subject", subject))
	return nil
}

func (s *Service) Close() {
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready.Load()
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.log.Warn("failed to decode audio frame", slogError(err))
		return
	}
	if frame.SessionID == "" {
		s.log.Warn("audio frame without session id", slog.String("subject", msg.Subject))
		return
	}

	if seg, ok := s.appendFrame(frame); ok {
		s.enqueue(seg)
	}
}

// appendFrame buffers frame and returns the segment to recognize when the
// session ends or hits the max_segment_ms bound.
func (s *Service) appendFrame(frame protocol.AudioFrame) (segment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.sessions[frame.SessionID]
	if state == nil {
		state = &sessionState{SampleRate: s.cfg.SampleRate, Channels: s.cfg.Channels}
		if frame.SampleRate > 0 {
			state.SampleRate = frame.SampleRate
		}
		if frame.Channels > 0 {
			state.Channels = frame.Channels
		}
		s.sessions[frame.SessionID] = state
	}
	state.Buffer = append(state.Buffer, frame.PCM...)

	limit := segmentLimit(s.cfg.MaxSegmentMS, state.SampleRate, state.Channels)
	truncated := limit > 0 && len(state.Buffer) >= limit
	if !frame.Final && !truncated {
		return segment{}, false
	}

	delete(s.sessions, frame.SessionID)
	return segment{
		SessionID:  frame.SessionID,
		PCM:        state.Buffer,
		SampleRate: state.SampleRate,
		Channels:   state.Channels,
		Truncated:  truncated && !frame.Final,
	}, true
}

// segmentLimit is the PCM16 byte size of maxMS of audio.
func segmentLimit(maxMS, sampleRate, channels int) int {
	if maxMS <= 0 {
		return 0
	}
	return maxMS * sampleRate / 1000 * channels * 2
}

func (s *Service) enqueue(seg segment) {
	if seg.Truncated {
		s.log.Warn("segment reached max length, recognizing early",
			slog.String("session_id", seg.SessionID),
			slog.Int("max_segment_ms", s.cfg.MaxSegmentMS))
	}
	select {
	case s.jobs <- seg:
	case <-s.ctx.Done():
	}
}

func (s *Service) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case seg := <-s.jobs:
			s.process(seg)
		}
	}
}

func (s *Service) process(seg segment) {
	ctx, cancel := context.WithTimeout(s.ctx, segmentTimeout)
	defer cancel()

	traceID := s.newTraceID()
	log := s.log.With(slog.String("session_id", seg.SessionID), slog.String("trace_id", traceID))

	result, err := s.transcribe(ctx, seg)
	if err != nil {
		log.Warn("stt transcription failed", slogError(err))
		s.record(ctx, eventstore.Recognition{SessionID: seg.SessionID, TraceID: traceID, Source: "bus", Error: err.Error()})
		s.publishError(seg.SessionID, traceID, err)
		return
	}

	log.Info("segment recognized",
		slog.Int("tokens", len(result.Tokens)),
		slog.Duration("audio", result.AudioDuration),
		slog.Duration("processing", result.ProcessingTime))
	s.record(ctx, RecognitionEvent(seg.SessionID, traceID, "bus", result))
	s.publishTranscript(seg.SessionID, traceID, result)
}

func (s *Service) transcribe(ctx context.Context, seg segment) (TranscriptResult, error) {
	samples, err := audio.PCM16ToFloat32(seg.PCM)
	if err != nil {
		return TranscriptResult{}, err
	}
	return s.recognizer.Transcribe(ctx, samples, seg.SampleRate, seg.Channels)
}

func (s *Service) record(ctx context.Context, rec eventstore.Recognition) {
	if s.store == nil {
		return
	}
	if err := s.store.RecordRecognition(ctx, rec); err != nil {
		s.log.Warn("failed to record recognition", slogError(err))
	}
}

func (s *Service) publishTranscript(sessionID, traceID string, result TranscriptResult) {
	if result.Text == "" {
		return
	}
	msg := protocol.Transcript{
		SessionID:    sessionID,
		TraceID:      traceID,
		Text:         result.Text,
		Tokens:       result.Tokens,
		Variant:      result.Variant,
		AudioMS:      result.AudioDuration.Milliseconds(),
		ProcessingMS: result.ProcessingTime.Milliseconds(),
		Timestamp:    time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(protocol.SubjectTranscriptFinal, msg); err != nil {
		s.log.Warn("failed to publish transcript", slogError(err))
	}
}

func (s *Service) publishError(sessionID, traceID string, cause error) {
	msg := protocol.RecognitionError{
		SessionID: sessionID,
		TraceID:   traceID,
		Error:     cause.Error(),
		Timestamp: time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(protocol.SubjectRecognitionError, msg); err != nil {
		s.log.Warn("failed to publish recognition error", slogError(err))
	}
}

// RecognitionEvent converts a successful result into its timeline entry.
func RecognitionEvent(sessionID, traceID, source string, result TranscriptResult) eventstore.Recognition {
	return eventstore.Recognition{
		SessionID:    sessionID,
		TraceID:      traceID,
		Source:       source,
		Variant:      result.Variant,
		Text:         result.Text,
		Tokens:       result.Tokens,
		Chunks:       result.Chunks,
		AudioMS:      result.AudioDuration.Milliseconds(),
		ProcessingMS: result.ProcessingTime.Milliseconds(),
		RTF:          result.RealTimeFactor(),
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
