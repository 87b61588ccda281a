package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/carevoice/internal/config"
	"github.com/loqalabs/carevoice/internal/protocol"
)

// Service is the downstream responder: it answers transcripts over HTTP.
type Service struct {
	cfg       config.LLMConfig
	generator Generator
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(cfg config.LLMConfig, generator Generator, logger *slog.Logger) *Service {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		cfg:       cfg,
		generator: generator,
		timeout:   timeout,
		logger:    logger.With(slog.String("component", "llm-service")),
		now:       time.Now,
	}
}

func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /models", s.handleModels)
	mux.HandleFunc("GET /prompts", s.handlePrompts)
}

func (s *Service) handleChat(w http.ResponseWriter, r *http.Request) {
	var req protocol.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeChat(w, http.StatusBadRequest, protocol.ChatResponse{Error: "Invalid JSON body"})
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		s.writeChat(w, http.StatusBadRequest, protocol.ChatResponse{Error: "Message is required"})
		return
	}

	logger := s.logger.With(slog.String("context", req.Context), slog.Int("message_len", len(message)))
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	reply, err := Collect(ctx, s.generator, RequestFromConfig(s.cfg, message))
	if err != nil {
		logger.Warn("llm generation failed", slogError(err))
		if !s.cfg.FallbackOnError {
			s.writeChat(w, http.StatusBadGateway, protocol.ChatResponse{Error: "Chat request failed: " + err.Error()})
			return
		}
		s.writeChat(w, http.StatusOK, protocol.ChatResponse{
			Success:    true,
			Response:   fmt.Sprintf(fallbackReply, message),
			Type:       "fallback",
			Confidence: 0.5,
			Disclaimer: Prompts["disclaimer"],
		})
		return
	}

	model := reply.Model
	if model == "" {
		model = s.cfg.Model
	}
	logger.Info("llm generation complete",
		slog.String("type", reply.Type),
		slog.String("model", model),
		slog.Duration("latency", reply.Latency))
	s.writeChat(w, http.StatusOK, protocol.ChatResponse{
		Success:    true,
		Response:   reply.Text,
		Type:       reply.Type,
		Model:      model,
		Confidence: reply.Confidence,
		Disclaimer: Prompts["disclaimer"],
	})
}

func (s *Service) writeChat(w http.ResponseWriter, status int, resp protocol.ChatResponse) {
	resp.Timestamp = s.now().UTC()
	writeJSON(w, status, resp)
}

func (s *Service) handleModels(w http.ResponseWriter, _ *http.Request) {
	current := s.cfg.Model
	if s.cfg.Mode == "mock" || s.cfg.Mode == "" {
		current = mockModel
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":             s.cfg.Mode,
		"available_models": []string{current},
		"current_model":    current,
		"capabilities":     capabilities,
		"limitations":      limitations,
	})
}

func (s *Service) handlePrompts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"prompts":    Prompts,
		"categories": promptCategories,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
