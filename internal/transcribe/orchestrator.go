package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/loqalabs/carevoice/internal/forward"
	"github.com/loqalabs/carevoice/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Forwarder hands a transcript to the downstream responder.
type Forwarder interface {
	Forward(ctx context.Context, transcript string) forward.Outcome
}

// Options shape the recognition configs tried for each audio upload.
type Options struct {
	Language        string
	DomainModel     string
	FallbackModel   string
	AutoPunctuation bool
	// ContinueOnEmpty keeps trying later configs after a call that heard no speech.
	ContinueOnEmpty bool
}

// Orchestrator turns one input into a transcript and forwards it.
type Orchestrator struct {
	recognizer stt.Recognizer
	forwarder  Forwarder
	opts       Options
	logger     *slog.Logger
	requests   metric.Int64Counter
	attempts   metric.Int64Counter
}

func NewOrchestrator(recognizer stt.Recognizer, forwarder Forwarder, opts Options, logger *slog.Logger) *Orchestrator {
	meter := otel.Meter("github.com/loqalabs/carevoice/transcribe")
	requests, err := meter.Int64Counter("carevoice.transcribe.requests",
		metric.WithDescription("Transcription requests by final status"))
	if err != nil {
		logger.Warn("failed to create transcribe request counter", slogError(err))
	}
	attempts, err := meter.Int64Counter("carevoice.transcribe.attempts",
		metric.WithDescription("Speech backend calls made while walking the config sequence"))
	if err != nil {
		logger.Warn("failed to create transcribe attempt counter", slogError(err))
	}
	return &Orchestrator{
		recognizer: recognizer,
		forwarder:  forwarder,
		opts:       opts,
		logger:     logger.With(slog.String("component", "transcribe")),
		requests:   requests,
		attempts:   attempts,
	}
}

// Transcribe never returns an error; every failure is expressed in the Result.
func (o *Orchestrator) Transcribe(ctx context.Context, in Input) Result {
	var outcome Outcome
	switch v := in.(type) {
	case Text:
		outcome = transcriptFromText(v)
	case Audio:
		outcome = o.recognize(ctx, v)
	default:
		outcome = validationError("either audio or text is required")
	}

	if o.requests != nil {
		o.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(outcome.Status))))
	}

	result := Result{Outcome: outcome}
	if outcome.Status != StatusSuccess {
		return result
	}
	downstream := o.forwarder.Forward(ctx, outcome.Text)
	result.Downstream = &downstream
	return result
}

func transcriptFromText(t Text) Outcome {
	if strings.TrimSpace(t.Value) == "" {
		return validationError("text must not be empty")
	}
	return Outcome{Text: t.Value, Confidence: 1.0, Status: StatusSuccess}
}

func (o *Orchestrator) recognize(ctx context.Context, a Audio) Outcome {
	if !isAudioType(a.ContentType) {
		return validationError("content type must be audio/*, got " + quoteOrEmpty(a.ContentType))
	}
	if len(a.Data) == 0 {
		return validationError("audio payload is empty")
	}

	seq := BuildSequence(a.ContentType, o.opts)
	var (
		lastErr  error
		sawEmpty bool
		attempts int
	)
	for i, cfg := range seq {
		if err := ctx.Err(); err != nil {
			return Outcome{Status: StatusAllConfigsFailed, Error: err.Error(), Attempts: attempts}
		}
		attempts++
		if o.attempts != nil {
			o.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("encoding", string(cfg.Encoding))))
		}
		logger := o.logger.With(slog.Int("config_index", i), slog.String("config", cfg.String()))

		results, err := o.recognizer.Recognize(ctx, a.Data, cfg)
		if err != nil {
			logger.Warn("recognition attempt failed", slogError(err))
			lastErr = err
			continue
		}

		text, confidence, ok := bestTranscript(results)
		if !ok {
			sawEmpty = true
			if o.opts.ContinueOnEmpty {
				logger.Info("no speech detected, trying next config")
				continue
			}
			logger.Info("no speech detected")
			return Outcome{Status: StatusNoSpeech, Error: "No speech detected", Attempts: attempts}
		}

		logger.Info("recognition succeeded", slog.Float64("confidence", confidence))
		index := i
		matched := cfg
		return Outcome{
			Text:        text,
			Confidence:  confidence,
			ConfigIndex: &index,
			Config:      &matched,
			Status:      StatusSuccess,
			Attempts:    attempts,
		}
	}

	if sawEmpty {
		return Outcome{Status: StatusNoSpeech, Error: "No speech detected", Attempts: attempts}
	}
	if lastErr == nil {
		lastErr = errors.New("no recognition configs available")
	}
	return Outcome{Status: StatusAllConfigsFailed, Error: lastErr.Error(), Attempts: attempts}
}

// bestTranscript takes the first alternative of the first result that has text.
func bestTranscript(results []stt.Result) (string, float64, bool) {
	for _, r := range results {
		for _, alt := range r.Alternatives {
			text := strings.TrimSpace(alt.Transcript)
			if text == "" {
				continue
			}
			return text, clamp(alt.Confidence), true
		}
	}
	return "", 0, false
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func quoteOrEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return "<empty>"
	}
	return `"` + s + `"`
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
