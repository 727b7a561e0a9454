package protocol

import "time"

// AudioFrame carries little-endian PCM16 audio streamed from edge devices.
// Frames of a session accumulate until one arrives with Final set; the
// buffered segment is then recognized once.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Transcript is a final recognition result broadcast on the bus.
type Transcript struct {
	SessionID    string    `json:"session_id"`
	TraceID      string    `json:"trace_id"`
	Text         string    `json:"text"`
	Tokens       []int     `json:"tokens,omitempty"`
	Variant      string    `json:"variant,omitempty"`
	AudioMS      int64     `json:"audio_ms"`
	ProcessingMS int64     `json:"processing_ms"`
	Timestamp    time.Time `json:"timestamp"`
}

// RecognitionError reports a segment that could not be recognized. No text
// is ever published for such a segment.
type RecognitionError struct {
	SessionID string    `json:"session_id"`
	TraceID   string    `json:"trace_id"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix = "audio.frame"
	SubjectTranscriptFinal  = "stt.text.final"
	SubjectRecognitionError = "stt.error"
)

// AudioFrameSubject is the subject a session's frames are published on.
func AudioFrameSubject(sessionID string) string {
	return SubjectAudioFramePrefix + "." + sessionID
}
