package tts

import (
	"context"
	"fmt"

	"github.com/loqalabs/carevoice/internal/config"
)

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	Text     string
	Voice    string
	Language string
}

// SynthChunk carries 16-bit little-endian PCM.
type SynthChunk struct {
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio. Both channels are closed when
// synthesis ends; at most one error is delivered.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// NewEngines builds one synthesizer per configured engine. Engines without a
// command fall back to the mock.
func NewEngines(cfg config.TTSConfig) (map[string]Synthesizer, error) {
	engines := make(map[string]Synthesizer, len(cfg.Engines))
	for _, e := range cfg.Engines {
		if e.Command == "" {
			engines[e.Name] = NewMockSynth(cfg.SampleRate, cfg.Channels)
			continue
		}
		synth, err := NewExecSynth(e.Command, cfg.SampleRate, cfg.Channels)
		if err != nil {
			return nil, fmt.Errorf("tts engine %s: %w", e.Name, err)
		}
		engines[e.Name] = synth
	}
	return engines, nil
}
