package transcribe

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/loqalabs/carevoice/internal/eventstore"
	"github.com/loqalabs/carevoice/internal/protocol"
)

// Sink observes finished results before they are written. Failures are logged
// and never change what the caller receives.
type Sink interface {
	Record(ctx context.Context, in Input, res Result, latency time.Duration)
}

// Publisher is the slice of the bus client used for events.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

type busSink struct {
	pub    Publisher
	logger *slog.Logger
}

// NewBusSink broadcasts transcripts and downstream outcomes on the bus.
func NewBusSink(pub Publisher, logger *slog.Logger) Sink {
	return &busSink{pub: pub, logger: logger.With(slog.String("component", "transcribe.bus"))}
}

func (s *busSink) Record(_ context.Context, _ Input, res Result, latency time.Duration) {
	if res.Status != StatusSuccess {
		return
	}
	now := time.Now().UTC()
	evt := protocol.TranscriptEvent{
		RequestID:   res.RequestID,
		Text:        res.Text,
		Confidence:  res.Confidence,
		ConfigIndex: res.ConfigIndex,
		Attempts:    res.Attempts,
		Timestamp:   now,
	}
	if res.Config != nil {
		evt.Config = res.Config.String()
	}
	if err := s.pub.PublishJSON(protocol.SubjectTranscriptFinal, evt); err != nil {
		s.logger.Warn("failed to publish transcript", slogError(err))
	}
	if res.Downstream == nil {
		return
	}
	outcome := protocol.ChatOutcomeEvent{
		RequestID: res.RequestID,
		Status:    string(res.Downstream.Status),
		Success:   res.Downstream.Success,
		Response:  res.Downstream.Response,
		Error:     res.Downstream.Error,
		LatencyMS: latency.Milliseconds(),
		Timestamp: now,
	}
	if err := s.pub.PublishJSON(protocol.SubjectChatOutcome, outcome); err != nil {
		s.logger.Warn("failed to publish chat outcome", slogError(err))
	}
}

// AuditLog is the slice of the event store used for request trails.
type AuditLog interface {
	AppendRequest(ctx context.Context, requestID, inputKind string) error
	AppendEvent(ctx context.Context, evt eventstore.Event) error
}

type auditSink struct {
	store  AuditLog
	logger *slog.Logger
}

// NewAuditSink appends every request and its outcome to the audit store.
func NewAuditSink(store AuditLog, logger *slog.Logger) Sink {
	return &auditSink{store: store, logger: logger.With(slog.String("component", "transcribe.audit"))}
}

func (s *auditSink) Record(ctx context.Context, in Input, res Result, _ time.Duration) {
	if res.RequestID == "" {
		return
	}
	// Keep the trail even if the client has gone away.
	ctx = context.WithoutCancel(ctx)
	if err := s.store.AppendRequest(ctx, res.RequestID, inputKind(in)); err != nil {
		s.logger.Warn("failed to record request", slog.String("request_id", res.RequestID), slogError(err))
		return
	}
	payload, err := json.Marshal(res.Outcome)
	if err != nil {
		s.logger.Warn("failed to encode outcome", slogError(err))
		return
	}
	if err := s.store.AppendEvent(ctx, eventstore.Event{
		RequestID: res.RequestID,
		Type:      "transcription",
		Status:    string(res.Status),
		Payload:   payload,
	}); err != nil {
		s.logger.Warn("failed to record transcription", slog.String("request_id", res.RequestID), slogError(err))
		return
	}
	if res.Downstream == nil {
		return
	}
	payload, err = json.Marshal(res.Downstream)
	if err != nil {
		s.logger.Warn("failed to encode downstream outcome", slogError(err))
		return
	}
	if err := s.store.AppendEvent(ctx, eventstore.Event{
		RequestID: res.RequestID,
		Type:      "downstream",
		Status:    string(res.Downstream.Status),
		Payload:   payload,
	}); err != nil {
		s.logger.Warn("failed to record downstream outcome", slog.String("request_id", res.RequestID), slogError(err))
	}
}

func inputKind(in Input) string {
	switch in.(type) {
	case Audio:
		return "audio"
	case Text:
		return "text"
	default:
		return "unknown"
	}
}
