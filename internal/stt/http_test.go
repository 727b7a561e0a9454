package stt

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-stt/internal/audio"
)

func wavBody(t *testing.T, samples []float32, rate, channels int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	if err := audio.WriteWAV(f, audio.Float32ToPCM16(samples), rate, channels); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	return data
}

func TestHandlerRecognizesWAV(t *testing.T) {
	recorder := &memoryRecorder{}
	rec := &scriptedRecognizer{}
	h := NewHandler(rec, recorder, newLogger())

	body := wavBody(t, make([]float32, 8000), 16000, 1)
	req := httptest.NewRequest(http.MethodPost, "/v1/recognize", bytes.NewReader(body))
	req.Header.Set("X-Loqa-Session", "desk")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp RecognizeResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Text != "hello world" || resp.SessionID != "desk" || resp.AudioMS != 500 || len(resp.Tokens) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.TraceID == "" {
		t.Fatal("expected a trace id")
	}
	recs := recorder.snapshot()
	if len(recs) != 1 || recs[0].Source != "http" || recs[0].TraceID != resp.TraceID {
		t.Fatalf("unexpected recorded events: %+v", recs)
	}
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	h := NewHandler(&scriptedRecognizer{}, nil, newLogger())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/recognize", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/recognize", strings.NewReader("not a wav file")))
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rr.Code)
	}
}

func TestHandlerReportsRecognitionFailure(t *testing.T) {
	recorder := &memoryRecorder{}
	h := NewHandler(&scriptedRecognizer{err: errors.New("decoder failed")}, recorder, newLogger())

	body := wavBody(t, make([]float32, 1600), 16000, 1)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/recognize", bytes.NewReader(body)))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "hello") {
		t.Fatalf("failure must not carry text: %s", rr.Body.String())
	}
	recs := recorder.snapshot()
	if len(recs) != 1 || recs[0].Error != "decoder failed" {
		t.Fatalf("expected recorded failure, got %+v", recs)
	}
}
