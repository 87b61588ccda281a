package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loqalabs/carevoice/internal/config"
)

// Request describes one chat turn. Message is what the user said; Prompt is the
// message wrapped in the healthcare instructions for backends that take raw text.
type Request struct {
	Message     string
	Prompt      string
	System      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Chunk represents streamed model output. Type and Confidence are set by
// backends that classify their own answers.
type Chunk struct {
	Content          string
	Partial          bool
	Type             string
	Model            string
	Confidence       float64
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// Reply is a fully accumulated generation.
type Reply struct {
	Text       string
	Type       string
	Model      string
	Confidence float64
	Latency    time.Duration
}

// Collect drains a generator into a single reply.
func Collect(ctx context.Context, g Generator, req Request) (Reply, error) {
	var (
		b     strings.Builder
		reply Reply
	)
	err := g.Generate(ctx, req, func(c Chunk) error {
		b.WriteString(c.Content)
		if c.Type != "" {
			reply.Type = c.Type
		}
		if c.Model != "" {
			reply.Model = c.Model
		}
		if c.Confidence > 0 {
			reply.Confidence = c.Confidence
		}
		reply.Latency = c.Latency
		return nil
	})
	if err != nil {
		return Reply{}, err
	}
	reply.Text = strings.TrimSpace(b.String())
	if reply.Text == "" {
		return Reply{}, errors.New("model returned an empty response")
	}
	return reply, nil
}

// RequestFromConfig wraps message with the healthcare prompt and config defaults.
func RequestFromConfig(cfg config.LLMConfig, message string) Request {
	return Request{
		Message:     message,
		Prompt:      fmt.Sprintf(healthcarePrompt, message),
		System:      systemPrompt,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
}

// NewGenerator builds the backend selected by cfg.Mode.
func NewGenerator(cfg config.LLMConfig) (Generator, error) {
	switch cfg.Mode {
	case "mock", "":
		return NewMockGenerator(), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, nil), nil
	case "openai":
		return NewOpenAIGenerator(cfg.Endpoint, cfg.APIKey), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
	}
}
