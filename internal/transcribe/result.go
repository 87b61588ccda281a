package transcribe

import (
	"net/http"

	"github.com/loqalabs/carevoice/internal/forward"
	"github.com/loqalabs/carevoice/internal/stt"
)

type Status string

const (
	StatusSuccess          Status = "success"
	StatusNoSpeech         Status = "no_speech"
	StatusAllConfigsFailed Status = "all_configs_failed"
	StatusValidationError  Status = "validation_error"
)

// Outcome is what transcription alone produced. ConfigIndex and Config are set
// only when audio was recognized successfully.
type Outcome struct {
	Text        string                 `json:"text"`
	Confidence  float64                `json:"confidence"`
	ConfigIndex *int                   `json:"config_index"`
	Config      *stt.RecognitionConfig `json:"config,omitempty"`
	Status      Status                 `json:"status"`
	Error       string                 `json:"error,omitempty"`
	Attempts    int                    `json:"attempts"`
}

// Result is the single response returned for a transcription request.
// Downstream is non-nil exactly when Status is success.
type Result struct {
	RequestID string `json:"request_id,omitempty"`
	Outcome
	Downstream *forward.Outcome `json:"downstream"`
}

// HTTPStatus maps a transcription status onto the response code.
func (s Status) HTTPStatus() int {
	switch s {
	case StatusValidationError:
		return http.StatusBadRequest
	case StatusAllConfigsFailed:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

func validationError(msg string) Outcome {
	return Outcome{Status: StatusValidationError, Error: msg}
}
