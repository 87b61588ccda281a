package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type openAIGenerator struct {
	client *openai.Client
}

// NewOpenAIGenerator talks to any OpenAI-compatible chat completions host, such
// as a hosted MedGemma endpoint. An empty baseURL uses api.openai.com.
func NewOpenAIGenerator(baseURL, apiKey string) Generator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL = strings.TrimRight(baseURL, "/"); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	return &openAIGenerator{client: openai.NewClientWithConfig(cfg)}
}

func (g *openAIGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Message},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return errors.New("chat completion returned no choices")
	}
	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return consumer(Chunk{
		Content:          resp.Choices[0].Message.Content,
		Type:             "openai",
		Model:            model,
		Confidence:       0.9,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Latency:          time.Since(start),
	})
}
