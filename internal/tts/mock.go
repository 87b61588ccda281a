package tts

import (
	"context"
	"strings"
	"time"
)

type mockSynth struct {
	sampleRate int
	channels   int
}

// NewMockSynth produces silence sized to the text, 250ms per word.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if err := ctx.Err(); err != nil {
			errs <- err
			return
		}
		words := len(strings.Fields(req.Text))
		duration := time.Duration(words) * 250 * time.Millisecond
		samples := int(duration.Seconds() * float64(m.sampleRate))
		chunks <- SynthChunk{
			SampleRate: m.sampleRate,
			Channels:   m.channels,
			PCM:        make([]byte, samples*m.channels*2),
			Final:      true,
		}
	}()
	return chunks, errs
}
