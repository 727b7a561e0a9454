package stt

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-stt/internal/audio"
	"github.com/loqalabs/loqa-stt/internal/eventstore"
)

// MaxUploadBytes bounds a POST /v1/recognize body.
const MaxUploadBytes = 64 << 20

// RecognizeResponse is the JSON body returned by the recognize endpoint.
type RecognizeResponse struct {
	SessionID    string  `json:"session_id"`
	TraceID      string  `json:"trace_id"`
	Text         string  `json:"text"`
	Tokens       []int   `json:"tokens"`
	Chunks       int     `json:"chunks"`
	AudioMS      int64   `json:"audio_ms"`
	ProcessingMS int64   `json:"processing_ms"`
	RTF          float64 `json:"rtf"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves POST /v1/recognize: a WAV body in, a transcript out.
type Handler struct {
	recognizer Recognizer
	store      Recorder
	log        *slog.Logger
}

func NewHandler(recognizer Recognizer, store Recorder, log *slog.Logger) *Handler {
	return &Handler{
		recognizer: recognizer,
		store:      store,
		log:        log.With(slog.String("component", "stt-http")),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "audio too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	clip, err := audio.DecodeWAV(bytes.NewReader(body))
	if err != nil {
		writeJSON(w, http.StatusUnsupportedMediaType, errorResponse{Error: err.Error()})
		return
	}

	sessionID := r.Header.Get("X-Loqa-Session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	traceID := uuid.NewString()
	log := h.log.With(slog.String("session_id", sessionID), slog.String("trace_id", traceID))

	result, err := h.recognizer.Transcribe(r.Context(), clip.Samples, clip.SampleRate, clip.Channels)
	if err != nil {
		log.Warn("recognition failed", slogError(err))
		h.record(r, RecognitionEvent(sessionID, traceID, "http", TranscriptResult{}), err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	h.record(r, RecognitionEvent(sessionID, traceID, "http", result), nil)

	tokens := result.Tokens
	if tokens == nil {
		tokens = []int{}
	}
	writeJSON(w, http.StatusOK, RecognizeResponse{
		SessionID:    sessionID,
		TraceID:      traceID,
		Text:         result.Text,
		Tokens:       tokens,
		Chunks:       result.Chunks,
		AudioMS:      result.AudioDuration.Milliseconds(),
		ProcessingMS: result.ProcessingTime.Milliseconds(),
		RTF:          result.RealTimeFactor(),
	})
}

func (h *Handler) record(r *http.Request, rec eventstore.Recognition, cause error) {
	if h.store == nil {
		return
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := h.store.RecordRecognition(r.Context(), rec); err != nil {
		h.log.Warn("failed to record recognition", slogError(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
