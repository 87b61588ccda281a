package stt

import (
	"context"
	"fmt"
)

// Encoding names the audio encoding a recognizer should assume.
type Encoding string

const (
	EncodingLinear16 Encoding = "LINEAR16"
	EncodingWebMOpus Encoding = "WEBM_OPUS"
	EncodingOggOpus  Encoding = "OGG_OPUS"
	EncodingMP3      Encoding = "MP3"
	// EncodingAuto leaves detection to the backend.
	EncodingAuto Encoding = "AUTO"
)

// RecognitionConfig is the set of parameters a backend needs to interpret raw audio.
// SampleRateHz of zero means the rate is not declared.
type RecognitionConfig struct {
	Encoding        Encoding `json:"encoding"`
	SampleRateHz    int      `json:"sample_rate_hz,omitempty"`
	LanguageCode    string   `json:"language_code"`
	DomainModel     string   `json:"domain_model,omitempty"`
	AutoPunctuation bool     `json:"auto_punctuation"`
}

func (c RecognitionConfig) String() string {
	return fmt.Sprintf("%s/%dHz/%s/%s", c.Encoding, c.SampleRateHz, c.LanguageCode, c.DomainModel)
}

// Alternative is one candidate transcript for a result.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// Result is one recognized segment; alternatives are ordered best first.
type Result struct {
	Alternatives []Alternative `json:"alternatives"`
}

// Recognizer abstracts STT backends. A nil or empty slice with a nil error means
// the call succeeded and found no speech.
type Recognizer interface {
	Recognize(ctx context.Context, audio []byte, cfg RecognitionConfig) ([]Result, error)
}
