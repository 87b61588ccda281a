package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/carevoice/internal/config"
	"github.com/loqalabs/carevoice/internal/protocol"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Status classifies what happened to a forwarded transcript.
type Status string

const (
	StatusProcessed     Status = "processed"
	StatusTimeout       Status = "timeout"
	StatusUpstreamError Status = "upstream_error"
)

const maxErrorBody = 1024

// Outcome is the downstream half of a unified transcription result.
type Outcome struct {
	Success  bool   `json:"success"`
	Status   Status `json:"status"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Client posts transcripts to the downstream responder. It never retries.
type Client struct {
	endpoint string
	context  string
	timeout  time.Duration
	http     *http.Client
	logger   *slog.Logger
	requests metric.Int64Counter
}

// New builds a forwarding client. A nil httpClient gets an otelhttp-instrumented default.
func New(cfg config.ForwardConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	requests, err := otel.Meter("github.com/loqalabs/carevoice/forward").Int64Counter(
		"carevoice.forward.requests",
		metric.WithDescription("Transcripts forwarded to the downstream responder, by outcome status"),
	)
	if err != nil {
		logger.Warn("failed to create forward counter", slog.String("error", err.Error()))
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		context:  cfg.Context,
		timeout:  timeout,
		http:     httpClient,
		logger:   logger.With(slog.String("component", "forward")),
		requests: requests,
	}
}

// Forward sends one transcript and reports the outcome. Failures are folded into the
// Outcome rather than returned, so the transcript result always survives.
func (c *Client) Forward(ctx context.Context, transcript string) Outcome {
	start := time.Now()
	outcome := c.forward(ctx, transcript)
	if c.requests != nil {
		c.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(outcome.Status))))
	}
	logger := c.logger.With(
		slog.String("status", string(outcome.Status)),
		slog.Duration("latency", time.Since(start)),
	)
	if outcome.Success {
		logger.Info("transcript forwarded")
	} else {
		logger.Warn("forwarding failed", slog.String("error", outcome.Error))
	}
	return outcome
}

func (c *Client) forward(ctx context.Context, transcript string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(protocol.ChatRequest{Message: transcript, Context: c.context})
	if err != nil {
		return upstreamError(fmt.Errorf("encode chat request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat", bytes.NewReader(body))
	if err != nil {
		return upstreamError(fmt.Errorf("build chat request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return c.timedOut()
		}
		return upstreamError(fmt.Errorf("call downstream responder: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Outcome{
			Status: StatusUpstreamError,
			Error:  fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
		}
	}

	var chat chatReply
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return c.timedOut()
		}
		return upstreamError(fmt.Errorf("decode chat response: %w", err))
	}
	if chat.Success != nil && !*chat.Success {
		msg := chat.Error
		if msg == "" {
			msg = "downstream responder reported failure"
		}
		return Outcome{Status: StatusUpstreamError, Error: msg}
	}
	if strings.TrimSpace(chat.Response) == "" {
		return Outcome{Status: StatusUpstreamError, Error: "downstream responder returned an empty response"}
	}
	return Outcome{Success: true, Status: StatusProcessed, Response: chat.Response}
}

// chatReply tolerates responders that omit the success flag.
type chatReply struct {
	Success  *bool  `json:"success"`
	Response string `json:"response"`
	Error    string `json:"error"`
}

func (c *Client) timedOut() Outcome {
	return Outcome{
		Status: StatusTimeout,
		Error:  fmt.Sprintf("downstream responder did not reply within %s", c.timeout),
	}
}

func upstreamError(err error) Outcome {
	return Outcome{Status: StatusUpstreamError, Error: err.Error()}
}
