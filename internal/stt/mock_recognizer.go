package stt

import (
	"context"
	"fmt"
)

type mockRecognizer struct{}

func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Recognize(_ context.Context, audio []byte, cfg RecognitionConfig) ([]Result, error) {
	if len(audio) == 0 {
		return nil, nil
	}
	return []Result{{
		Alternatives: []Alternative{{
			Transcript: fmt.Sprintf("[mock transcript encoding=%s length=%d]", cfg.Encoding, len(audio)),
			Confidence: 0.5,
		}},
	}}, nil
}
