package protocol

import "time"

// ChatRequest is the body posted to a responder's /chat endpoint.
type ChatRequest struct {
	Message string `json:"message"`
	Context string `json:"context,omitempty"`
}

// ChatResponse is what a responder returns from /chat.
type ChatResponse struct {
	Success    bool      `json:"success"`
	Response   string    `json:"response,omitempty"`
	Type       string    `json:"type,omitempty"`
	Model      string    `json:"model,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Disclaimer string    `json:"disclaimer,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SpeakRequest is the body accepted by the speech synthesis endpoint.
type SpeakRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice,omitempty"`
	Language string `json:"language,omitempty"`
	Engine   string `json:"engine,omitempty"`
}

// TranscriptEvent is broadcast on the bus once a request has a final transcript.
type TranscriptEvent struct {
	RequestID   string    `json:"request_id"`
	Text        string    `json:"text"`
	Confidence  float64   `json:"confidence"`
	ConfigIndex *int      `json:"config_index,omitempty"`
	Config      string    `json:"config,omitempty"`
	Attempts    int       `json:"attempts"`
	Timestamp   time.Time `json:"timestamp"`
}

// ChatOutcomeEvent records what the downstream responder did with a transcript.
type ChatOutcomeEvent struct {
	RequestID string    `json:"request_id"`
	Status    string    `json:"status"`
	Success   bool      `json:"success"`
	Response  string    `json:"response,omitempty"`
	Error     string    `json:"error,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTranscriptFinal = "care.transcript.final"
	SubjectChatOutcome     = "care.chat.outcome"
)
