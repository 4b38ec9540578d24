package protocol

import "time"

// Transcript represents STT output broadcast on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// CaptureError is reported by the STT engine for a session.
type CaptureError struct {
	SessionID string    `json:"session_id"`
	Code      string    `json:"code"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CaptureControl opens or closes recognition for a session.
type CaptureControl struct {
	SessionID string    `json:"session_id"`
	Action    string    `json:"action"`
	Locale    string    `json:"locale,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SpeechRequest asks the TTS engine to speak text.
type SpeechRequest struct {
	SessionID string    `json:"session_id"`
	RequestID string    `json:"request_id"`
	Text      string    `json:"text"`
	Voice     string    `json:"voice,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SpeechStatus reports playback progress for a request. Timestamp is the
// engine's own clock reading for the transition.
type SpeechStatus struct {
	SessionID string    `json:"session_id"`
	RequestID string    `json:"request_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SpeechControl interrupts playback for a session.
type SpeechControl struct {
	SessionID string    `json:"session_id"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// Utterance mirrors transcript.Utterance on the wire.
type Utterance struct {
	Role      string  `json:"role"`
	Text      string  `json:"text"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Synthetic bool    `json:"synthetic,omitempty"`
}

// InterviewEvent is a coordinator notification mirrored on the bus and on
// the websocket stream.
type InterviewEvent struct {
	SessionID string     `json:"session_id"`
	Kind      string     `json:"kind"`
	State     string     `json:"state,omitempty"`
	Previous  string     `json:"previous,omitempty"`
	Utterance *Utterance `json:"utterance,omitempty"`
	Error     string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

const (
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectCaptureError      = "stt.error"
	SubjectCaptureControl    = "stt.control"
	SubjectCaptureAll        = "stt.>"
	SubjectSpeechRequest     = "tts.request"
	SubjectSpeechStatus      = "tts.status"
	SubjectSpeechControl     = "tts.control"
	SubjectInterviewEvents   = "interview.events"
)

const (
	ActionStart = "start"
	ActionStop  = "stop"
)

const (
	SpeechStarted   = "started"
	SpeechFinished  = "finished"
	SpeechCancelled = "cancelled"
	SpeechFailed    = "failed"
)

// InterviewSubject returns the per-session notification subject.
func InterviewSubject(sessionID string) string {
	return SubjectInterviewEvents + "." + sessionID
}
