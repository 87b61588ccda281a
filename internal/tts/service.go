package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/carevoice/internal/config"
	"github.com/loqalabs/carevoice/internal/protocol"
)

// Service renders text to WAV over HTTP.
type Service struct {
	cfg      config.TTSConfig
	engines  map[string]Synthesizer
	timeout  time.Duration
	logger   *slog.Logger
	requests metric.Int64Counter
}

func NewService(cfg config.TTSConfig, engines map[string]Synthesizer, logger *slog.Logger) *Service {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	logger = logger.With(slog.String("component", "tts-service"))
	requests, err := otel.Meter("github.com/loqalabs/carevoice/tts").Int64Counter(
		"carevoice.tts.requests",
		metric.WithDescription("Speech synthesis requests, by engine and result"),
	)
	if err != nil {
		logger.Warn("failed to create tts counter", slogError(err))
	}
	return &Service{
		cfg:      cfg,
		engines:  engines,
		timeout:  timeout,
		logger:   logger,
		requests: requests,
	}
}

func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /speak", s.handleSpeak)
	mux.HandleFunc("GET /engines", s.handleEngines)
}

func (s *Service) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req protocol.SpeakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "Text is required")
		return
	}
	engine := req.Engine
	if engine == "" {
		engine = s.cfg.DefaultEngine
	}
	synth, ok := s.engines[engine]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown engine: %s", engine))
		return
	}
	voice := req.Voice
	if voice == "" {
		voice = s.cfg.Voice
	}

	logger := s.logger.With(slog.String("engine", engine), slog.String("voice", voice))
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	start := time.Now()
	pcm, sampleRate, channels, err := s.collect(ctx, synth, SynthRequest{Text: text, Voice: voice, Language: req.Language})
	if err != nil {
		s.count(ctx, engine, "error")
		logger.Warn("tts synthesis failed", slogError(err))
		writeError(w, http.StatusInternalServerError, "TTS failed: "+err.Error())
		return
	}

	var body bytes.Buffer
	if _, err := EncodeWAV(&body, pcm, sampleRate, channels); err != nil {
		s.count(ctx, engine, "error")
		logger.Warn("wav encoding failed", slogError(err))
		writeError(w, http.StatusInternalServerError, "TTS failed: "+err.Error())
		return
	}
	s.count(ctx, engine, "ok")
	logger.Info("tts synthesis complete",
		slog.Int("pcm_bytes", len(pcm)),
		slog.Duration("latency", time.Since(start)))

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="speech.wav"`)
	w.Header().Set("Content-Length", strconv.Itoa(body.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body.Bytes())
}

// collect drains a synthesis stream into one PCM buffer.
func (s *Service) collect(ctx context.Context, synth Synthesizer, req SynthRequest) ([]byte, int, int, error) {
	sampleRate, channels := s.cfg.SampleRate, s.cfg.Channels
	var pcm []byte
	var synthErr error
	chunks, errs := synth.Synthesize(ctx, req)
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if chunk.SampleRate > 0 {
				sampleRate = chunk.SampleRate
			}
			if chunk.Channels > 0 {
				channels = chunk.Channels
			}
			pcm = append(pcm, chunk.PCM...)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				synthErr = err
			}
		case <-ctx.Done():
			return nil, 0, 0, ctx.Err()
		}
	}
	if synthErr != nil {
		return nil, 0, 0, synthErr
	}
	return pcm, sampleRate, channels, nil
}

func (s *Service) count(ctx context.Context, engine, result string) {
	if s.requests == nil {
		return
	}
	s.requests.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("result", result),
	))
}

func (s *Service) handleEngines(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(s.engines))
	for name := range s.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string]any{
		"engines": names,
		"default": s.cfg.DefaultEngine,
		"voice":   s.cfg.Voice,
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
