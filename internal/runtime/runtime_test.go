package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/carevoice/internal/config"
	"github.com/loqalabs/carevoice/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startRuntime serves the full component graph on a listener whose address is
// known before the handler is built, so the forwarder can target its own /chat.
func startRuntime(t *testing.T, mutate func(*config.Config)) (*Runtime, *httptest.Server) {
	t.Helper()
	srv := httptest.NewUnstartedServer(nil)
	base := "http://" + srv.Listener.Addr().String()

	cfg := config.Default()
	cfg.Forward.Endpoint = base
	cfg.Forward.TimeoutMS = 5000
	cfg.LLM.Enabled = true
	cfg.TTS.Enabled = true
	cfg.Status.Enabled = true
	cfg.Status.Services = []config.ServiceTarget{{Name: "self", URL: base}}
	if mutate != nil {
		mutate(&cfg)
	}

	rt := New(cfg, testLogger())
	handler, err := rt.Handler(context.Background())
	if err != nil {
		srv.Close()
		t.Fatalf("build handler: %v", err)
	}
	rt.MarkReady()
	srv.Config.Handler = handler
	srv.Start()
	t.Cleanup(func() {
		srv.Close()
		if err := rt.Close(); err != nil {
			t.Errorf("close runtime: %v", err)
		}
	})
	return rt, srv
}

type transcribeReply struct {
	RequestID  string `json:"request_id"`
	Text       string `json:"text"`
	Status     string `json:"status"`
	Downstream *struct {
		Success  bool   `json:"success"`
		Status   string `json:"status"`
		Response string `json:"response"`
	} `json:"downstream"`
}

func TestTranscribeForwardsToBuiltInResponder(t *testing.T) {
	_, srv := startRuntime(t, nil)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/transcribe", strings.NewReader(`{"text":"I have chest pain"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out transcribeReply
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || out.Status != "success" || out.Text != "I have chest pain" {
		t.Fatalf("unexpected reply %d %+v", resp.StatusCode, out)
	}
	if out.Downstream == nil || out.Downstream.Status != "processed" || !strings.Contains(out.Downstream.Response, "emergency") {
		t.Fatalf("unexpected downstream %+v", out.Downstream)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	_, srv := startRuntime(t, nil)

	for path, want := range map[string]int{
		"/healthz":             http.StatusOK,
		"/readyz":              http.StatusOK,
		"/health":              http.StatusOK,
		"/engines":             http.StatusOK,
		"/prompts":             http.StatusOK,
		"/transcribe/models":   http.StatusOK,
		"/api/services/status": http.StatusOK,
		"/metrics":             http.StatusNotFound,
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("GET %s = %d, want %d", path, resp.StatusCode, want)
		}
	}

	resp, err := http.Get(srv.URL + "/api/services/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var report struct {
		Services map[string]struct {
			Status string `json:"status"`
		} `json:"services"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&report)
	if report.Services["self"].Status != "healthy" {
		t.Fatalf("unexpected status report %+v", report)
	}
}

func TestDisabledComponentsAreNotRouted(t *testing.T) {
	_, srv := startRuntime(t, func(cfg *config.Config) {
		cfg.LLM.Enabled = false
		cfg.TTS.Enabled = false
		cfg.Status.Enabled = false
	})
	resp, err := http.Post(srv.URL+"/speak", "application/json", strings.NewReader(`{"text":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for disabled tts, got %d", resp.StatusCode)
	}
}

func TestEventsReachBusAndAuditStore(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "audit.db")
	rt, srv := startRuntime(t, func(cfg *config.Config) {
		cfg.Bus.Enabled = true
		cfg.Bus.Embedded = true
		cfg.Bus.Port = -1
		cfg.Bus.StoreDir = filepath.Join(dir, "nats")
		cfg.EventStore.RetentionMode = "persistent"
		cfg.EventStore.Path = dbPath
	})

	finals := make(chan *nats.Msg, 1)
	sub, err := rt.components.bus.Conn().ChanSubscribe(protocol.SubjectTranscriptFinal, finals)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()
	if err := rt.components.bus.Conn().Flush(); err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/transcribe", strings.NewReader(`{"text":"fever since monday"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	select {
	case msg := <-finals:
		var evt protocol.TranscriptEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if evt.RequestID != "req-42" || evt.Text != "fever since monday" {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no transcript event published")
	}

	events, err := rt.components.store.ListRequestEvents(context.Background(), "req-42", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("expected audit events for request")
	}
}

func TestSetupTelemetryServesMetrics(t *testing.T) {
	cfg := config.Default()
	shutdown, handler, err := setupTelemetry(cfg, testLogger())
	if err != nil {
		t.Fatalf("setup telemetry: %v", err)
	}
	defer shutdown(context.Background())
	if handler == nil {
		t.Fatal("expected metrics handler")
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
}
