package transcribe

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/carevoice/internal/config"
)

const multipartMemory = 8 << 20

// Handler serves the transcription endpoints.
type Handler struct {
	orch      *Orchestrator
	sinks     []Sink
	maxUpload int64
	models    ModelInfo
	logger    *slog.Logger
}

// ModelInfo describes what the active speech backend can do.
type ModelInfo struct {
	Backend            string   `json:"backend"`
	CurrentModel       string   `json:"current_model"`
	FallbackModel      string   `json:"fallback_model"`
	AvailableModels    []string `json:"available_models"`
	SupportedFormats   []string `json:"supported_formats"`
	SupportedLanguages []string `json:"supported_languages"`
	ContinueOnEmpty    bool     `json:"continue_on_empty"`
}

var backendModels = map[string][]string{
	"google":  {"medical_conversation", "medical_dictation", "latest_long", "latest_short", "phone_call", "video", "default"},
	"whisper": {"tiny", "base", "small", "medium", "large"},
	"mock":    {"mock"},
}

var supportedLanguages = []string{"en-US", "en-GB", "es-ES", "fr-FR", "de-DE", "it-IT", "pt-BR", "ru-RU", "ja-JP", "ko-KR", "zh-CN"}

func NewHandler(orch *Orchestrator, cfg config.STTConfig, sinks []Sink, logger *slog.Logger) *Handler {
	return &Handler{
		orch:      orch,
		sinks:     sinks,
		maxUpload: cfg.MaxUploadBytes,
		models: ModelInfo{
			Backend:            cfg.Mode,
			CurrentModel:       cfg.DomainModel,
			FallbackModel:      cfg.FallbackModel,
			AvailableModels:    backendModels[cfg.Mode],
			SupportedFormats:   SupportedContentTypes(),
			SupportedLanguages: supportedLanguages,
			ContinueOnEmpty:    cfg.ContinueOnEmpty,
		},
		logger: logger.With(slog.String("component", "transcribe.http")),
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /transcribe", h.handleTranscribe)
	mux.HandleFunc("GET /transcribe/models", h.handleModels)
}

func (h *Handler) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.models)
}

func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)
	logger := h.logger.With(slog.String("request_id", requestID))

	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}

	in, err := parseInput(r)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		logger.Info("rejected transcription request", slogError(err))
		writeJSON(w, status, Result{RequestID: requestID, Outcome: validationError(err.Error())})
		return
	}

	res := h.orch.Transcribe(r.Context(), in)
	res.RequestID = requestID

	attrs := []any{
		slog.String("status", string(res.Status)),
		slog.Int("attempts", res.Attempts),
		slog.Duration("latency", time.Since(start)),
	}
	if res.Downstream != nil {
		attrs = append(attrs, slog.String("downstream", string(res.Downstream.Status)))
	}
	logger.Info("transcription finished", attrs...)

	for _, sink := range h.sinks {
		sink.Record(r.Context(), in, res, time.Since(start))
	}
	writeJSON(w, res.Status.HTTPStatus(), res)
}

type jsonBody struct {
	Text        *string `json:"text"`
	Audio       []byte  `json:"audio"`
	ContentType string  `json:"content_type"`
}

// parseInput reduces a request to exactly one Input variant.
func parseInput(r *http.Request) (Input, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		return parseMultipart(r)
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
		if _, ok := r.PostForm["text"]; !ok {
			return nil, errors.New("either audio or text is required")
		}
		return Text{Value: r.PostForm.Get("text")}, nil
	case "application/json":
		var body jsonBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("decode json body: %w", err)
		}
		return choose(body.Audio, body.ContentType, body.Audio != nil, body.Text)
	default:
		return nil, fmt.Errorf("unsupported request content type %q", mediaType)
	}
}

func parseMultipart(r *http.Request) (Input, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, fmt.Errorf("parse multipart form: %w", err)
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	var text *string
	if values, ok := r.MultipartForm.Value["text"]; ok && len(values) > 0 {
		text = &values[0]
	}

	var (
		data        []byte
		contentType string
		hasAudio    bool
	)
	for _, field := range []string{"audio", "file"} {
		headers := r.MultipartForm.File[field]
		if len(headers) == 0 {
			continue
		}
		f, err := headers[0].Open()
		if err != nil {
			return nil, fmt.Errorf("open %s upload: %w", field, err)
		}
		data, err = io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s upload: %w", field, err)
		}
		contentType = headers[0].Header.Get("Content-Type")
		hasAudio = true
		break
	}
	if override := strings.TrimSpace(r.FormValue("content_type")); override != "" {
		contentType = override
	}
	return choose(data, contentType, hasAudio, text)
}

// choose enforces that exactly one of audio and text was supplied. A blank text
// field next to an upload is ignored, since browser forms often send one.
func choose(data []byte, contentType string, hasAudio bool, text *string) (Input, error) {
	hasText := text != nil && (strings.TrimSpace(*text) != "" || !hasAudio)
	switch {
	case hasAudio && hasText:
		return nil, errors.New("provide either audio or text, not both")
	case hasAudio:
		return Audio{Data: data, ContentType: contentType}, nil
	case hasText:
		return Text{Value: *text}, nil
	default:
		return nil, errors.New("either audio or text is required")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
