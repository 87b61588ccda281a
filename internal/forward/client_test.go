package forward

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/carevoice/internal/config"
	"github.com/loqalabs/carevoice/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClient(endpoint string, timeoutMS int) *Client {
	return New(config.ForwardConfig{Endpoint: endpoint, Context: "healthcare", TimeoutMS: timeoutMS}, nil, testLogger())
}

func TestForwardProcessed(t *testing.T) {
	var got protocol.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chat" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"response":"Rest and hydrate."}`))
	}))
	defer srv.Close()

	out := newClient(srv.URL+"/", 2000).Forward(context.Background(), "I have a headache")
	if !out.Success || out.Status != StatusProcessed || out.Response != "Rest and hydrate." {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got.Message != "I have a headache" || got.Context != "healthcare" {
		t.Fatalf("unexpected request body %+v", got)
	}
}

func TestForwardAcceptsReplyWithoutSuccessFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"ok"}`))
	}))
	defer srv.Close()

	out := newClient(srv.URL, 2000).Forward(context.Background(), "hello")
	if out.Status != StatusProcessed {
		t.Fatalf("expected processed, got %+v", out)
	}
}

func TestForwardServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, strings.Repeat("x", 4096), http.StatusInternalServerError)
	}))
	defer srv.Close()

	out := newClient(srv.URL, 2000).Forward(context.Background(), "hello")
	if out.Success || out.Status != StatusUpstreamError {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if !strings.HasPrefix(out.Error, "status 500: ") {
		t.Fatalf("unexpected error %q", out.Error)
	}
	if len(out.Error) > len("status 500: ")+maxErrorBody {
		t.Fatalf("error body not truncated: %d bytes", len(out.Error))
	}
}

func TestForwardReportedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"model unavailable"}`))
	}))
	defer srv.Close()

	out := newClient(srv.URL, 2000).Forward(context.Background(), "hello")
	if out.Status != StatusUpstreamError || out.Error != "model unavailable" {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestForwardEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"response":"  "}`))
	}))
	defer srv.Close()

	out := newClient(srv.URL, 2000).Forward(context.Background(), "hello")
	if out.Status != StatusUpstreamError {
		t.Fatalf("expected upstream_error, got %+v", out)
	}
}

func TestForwardTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	out := newClient(srv.URL, 50).Forward(context.Background(), "hello")
	if out.Success || out.Status != StatusTimeout {
		t.Fatalf("expected timeout, got %+v", out)
	}
	if out.Error != "downstream responder did not reply within 50ms" {
		t.Fatalf("unexpected error %q", out.Error)
	}
}

func TestForwardConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	out := newClient("http://"+addr, 2000).Forward(context.Background(), "hello")
	if out.Status != StatusUpstreamError || out.Error == "" {
		t.Fatalf("expected upstream_error, got %+v", out)
	}
}
