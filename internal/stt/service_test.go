package stt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-stt/internal/audio"
	"github.com/loqalabs/loqa-stt/internal/bus"
	"github.com/loqalabs/loqa-stt/internal/config"
	"github.com/loqalabs/loqa-stt/internal/eventstore"
	"github.com/loqalabs/loqa-stt/internal/natsserver"
	"github.com/loqalabs/loqa-stt/internal/protocol"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type memoryRecorder struct {
	mu   sync.Mutex
	recs []eventstore.Recognition
}

func (m *memoryRecorder) RecordRecognition(_ context.Context, rec eventstore.Recognition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memoryRecorder) snapshot() []eventstore.Recognition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]eventstore.Recognition(nil), m.recs...)
}

type scriptedRecognizer struct {
	mu      sync.Mutex
	err     error
	samples []int
}

func (s *scriptedRecognizer) Transcribe(_ context.Context, samples []float32, sampleRate, channels int) (TranscriptResult, error) {
	s.mu.Lock()
	s.samples = append(s.samples, len(samples))
	s.mu.Unlock()
	if s.err != nil {
		return TranscriptResult{}, s.err
	}
	return TranscriptResult{
		Text:           "hello world",
		Tokens:         []int{3, 9},
		Chunks:         1,
		Variant:        "parakeet-tdt-0.6b",
		AudioDuration:  time.Duration(len(samples)/channels) * time.Second / time.Duration(sampleRate),
		ProcessingTime: 10 * time.Millisecond,
	}, nil
}

func testConfig() config.STTConfig {
	cfg := config.Default().STT
	cfg.Mode = "mock"
	return cfg
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, newLogger())
	if err != nil {
		t.Fatalf("connect bus: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func publishFrame(t *testing.T, client *bus.Client, frame protocol.AudioFrame) {
	t.Helper()
	if err := client.PublishJSON(protocol.AudioFrameSubject(frame.SessionID), frame); err != nil {
		t.Fatalf("publish frame: %v", err)
	}
}

func TestServicePublishesFinalTranscript(t *testing.T) {
	client := startBus(t)
	recorder := &memoryRecorder{}
	rec := &scriptedRecognizer{}
	svc := NewService(context.Background(), testConfig(), client, rec, recorder, newLogger())
	svc.newTraceID = func() string { return "trace-fixed" }
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	if !svc.Healthy() {
		t.Fatal("expected service healthy after start")
	}

	transcripts := make(chan *nats.Msg, 4)
	sub, err := client.Conn().ChanSubscribe(protocol.SubjectTranscriptFinal, transcripts)
	if err != nil {
		t.Fatalf("subscribe transcripts: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	pcm := audio.Float32ToPCM16(make([]float32, 1600))
	publishFrame(t, client, protocol.AudioFrame{SessionID: "kitchen", Sequence: 1, SampleRate: 16000, Channels: 1, PCM: pcm})
	publishFrame(t, client, protocol.AudioFrame{SessionID: "kitchen", Sequence: 2, SampleRate: 16000, Channels: 1, PCM: pcm, Final: true})

	select {
	case msg := <-transcripts:
		var tr protocol.Transcript
		if err := json.Unmarshal(msg.Data, &tr); err != nil {
			t.Fatalf("decode transcript: %v", err)
		}
		if tr.SessionID != "kitchen" || tr.Text != "hello world" || tr.TraceID != "trace-fixed" {
			t.Fatalf("unexpected transcript: %+v", tr)
		}
		if tr.AudioMS != 200 {
			t.Fatalf("expected 200ms of audio, got %d", tr.AudioMS)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for transcript")
	}

	rec.mu.Lock()
	calls := append([]int(nil), rec.samples...)
	rec.mu.Unlock()
	if len(calls) != 1 || calls[0] != 3200 {
		t.Fatalf("expected one call with the whole segment, got %v", calls)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(recorder.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	recs := recorder.snapshot()
	if len(recs) != 1 || recs[0].Failed() || recs[0].Source != "bus" || recs[0].Text != "hello world" {
		t.Fatalf("unexpected recorded events: %+v", recs)
	}
}

func TestServicePublishesErrorWithoutText(t *testing.T) {
	client := startBus(t)
	recorder := &memoryRecorder{}
	rec := &scriptedRecognizer{err: errors.New("inference failed")}
	svc := NewService(context.Background(), testConfig(), client, rec, recorder, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)

	finals := make(chan *nats.Msg, 1)
	errs := make(chan *nats.Msg, 1)
	finalSub, err := client.Conn().ChanSubscribe(protocol.SubjectTranscriptFinal, finals)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { _ = finalSub.Unsubscribe() })
	errSub, err := client.Conn().ChanSubscribe(protocol.SubjectRecognitionError, errs)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { _ = errSub.Unsubscribe() })

	publishFrame(t, client, protocol.AudioFrame{SessionID: "den", PCM: make([]byte, 640), Final: true})

	select {
	case msg := <-errs:
		var re protocol.RecognitionError
		if err := json.Unmarshal(msg.Data, &re); err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if re.SessionID != "den" || re.Error != "inference failed" || re.TraceID == "" {
			t.Fatalf("unexpected error message: %+v", re)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for error")
	}
	select {
	case msg := <-finals:
		t.Fatalf("no transcript expected, got %s", msg.Data)
	case <-time.After(100 * time.Millisecond):
	}
	recs := recorder.snapshot()
	if len(recs) != 1 || !recs[0].Failed() {
		t.Fatalf("expected one recorded failure, got %+v", recs)
	}
}

func TestAppendFrameBuffersUntilFinal(t *testing.T) {
	cfg := testConfig()
	svc := NewService(context.Background(), cfg, nil, NewMockRecognizer(), nil, newLogger())

	if _, ok := svc.appendFrame(protocol.AudioFrame{SessionID: "a", PCM: make([]byte, 100)}); ok {
		t.Fatal("segment emitted before final frame")
	}
	if _, ok := svc.appendFrame(protocol.AudioFrame{SessionID: "b", PCM: make([]byte, 10), SampleRate: 8000, Channels: 2}); ok {
		t.Fatal("segment emitted before final frame")
	}
	seg, ok := svc.appendFrame(protocol.AudioFrame{SessionID: "a", PCM: make([]byte, 20), Final: true})
	if !ok {
		t.Fatal("expected segment on final frame")
	}
	if len(seg.PCM) != 120 || seg.SampleRate != cfg.SampleRate || seg.Channels != cfg.Channels || seg.Truncated {
		t.Fatalf("unexpected segment: %+v", seg)
	}
	if _, exists := svc.sessions["a"]; exists {
		t.Fatal("finished session should be dropped")
	}
	seg, ok = svc.appendFrame(protocol.AudioFrame{SessionID: "b", Final: true})
	if !ok || seg.SampleRate != 8000 || seg.Channels != 2 || len(seg.PCM) != 10 {
		t.Fatalf("per-session format not kept: %+v", seg)
	}
}

func TestAppendFrameBoundsSegment(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSegmentMS = 100 // 3200 bytes at 16 kHz mono
	svc := NewService(context.Background(), cfg, nil, NewMockRecognizer(), nil, newLogger())

	if _, ok := svc.appendFrame(protocol.AudioFrame{SessionID: "long", PCM: make([]byte, 3000)}); ok {
		t.Fatal("segment emitted below the bound")
	}
	seg, ok := svc.appendFrame(protocol.AudioFrame{SessionID: "long", PCM: make([]byte, 400)})
	if !ok || !seg.Truncated || len(seg.PCM) != 3400 {
		t.Fatalf("expected truncated segment at the bound, got ok=%v %+v", ok, seg)
	}
	if _, ok := svc.appendFrame(protocol.AudioFrame{SessionID: "long", PCM: make([]byte, 10)}); ok {
		t.Fatal("expected a fresh buffer after the bound")
	}
}

func TestSegmentLimit(t *testing.T) {
	if got := segmentLimit(30000, 16000, 1); got != 960000 {
		t.Fatalf("unexpected limit %d", got)
	}
	if got := segmentLimit(0, 16000, 1); got != 0 {
		t.Fatalf("expected no limit, got %d", got)
	}
}
