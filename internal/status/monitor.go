package status

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/carevoice/internal/config"
)

const (
	StateHealthy   = "healthy"
	StateUnhealthy = "unhealthy"
)

// ServiceStatus is the last probe result for one dependency.
type ServiceStatus struct {
	Status    string          `json:"status"`
	URL       string          `json:"url"`
	Error     string          `json:"error,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
	CheckedAt time.Time       `json:"checked_at"`
}

type Report struct {
	Success   bool                     `json:"success"`
	Services  map[string]ServiceStatus `json:"services"`
	Timestamp time.Time                `json:"timestamp"`
}

// Monitor probes the /health endpoint of each configured service.
type Monitor struct {
	cfg     config.StatusConfig
	client  *http.Client
	timeout time.Duration
	log     *slog.Logger

	mu     sync.RWMutex
	last   map[string]ServiceStatus
	cancel context.CancelFunc
	done   chan struct{}
}

func NewMonitor(cfg config.StatusConfig, client *http.Client, log *slog.Logger) *Monitor {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	m := &Monitor{
		cfg:     cfg,
		client:  client,
		timeout: timeout,
		log:     log.With(slog.String("component", "status-monitor")),
		last:    make(map[string]ServiceStatus),
	}
	if err := m.initMetrics(); err != nil {
		m.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return m
}

// Start refreshes the cached report every interval. A zero interval disables
// background probing; the HTTP endpoint still probes on demand.
func (m *Monitor) Start(ctx context.Context) {
	interval := time.Duration(m.cfg.IntervalMS) * time.Millisecond
	if interval <= 0 || m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		m.Check(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Check(ctx)
			}
		}
	}()
}

func (m *Monitor) Close() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

func (m *Monitor) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/services/status", m.handleStatus)
}

// Check probes every service concurrently and caches the results.
func (m *Monitor) Check(ctx context.Context) Report {
	results := make(map[string]ServiceStatus, len(m.cfg.Services))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, svc := range m.cfg.Services {
		wg.Add(1)
		go func(svc config.ServiceTarget) {
			defer wg.Done()
			st := m.probe(ctx, svc)
			mu.Lock()
			results[svc.Name] = st
			mu.Unlock()
		}(svc)
	}
	wg.Wait()

	m.mu.Lock()
	m.last = results
	m.mu.Unlock()

	for name, st := range results {
		if st.Status != StateHealthy {
			m.log.Debug("service unhealthy", slog.String("service", name), slog.String("error", st.Error))
		}
	}
	return Report{Success: true, Services: results, Timestamp: time.Now().UTC()}
}

func (m *Monitor) probe(ctx context.Context, svc config.ServiceTarget) ServiceStatus {
	st := ServiceStatus{URL: svc.URL, CheckedAt: time.Now().UTC()}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	url := strings.TrimRight(svc.URL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		st.Status, st.Error = StateUnhealthy, err.Error()
		return st
	}
	resp, err := m.client.Do(req)
	if err != nil {
		st.Status, st.Error = StateUnhealthy, err.Error()
		return st
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		st.Status = StateUnhealthy
		st.Error = fmt.Sprintf("status %d", resp.StatusCode)
		return st
	}
	st.Status = StateHealthy
	if body = bytes.TrimSpace(body); json.Valid(body) && len(body) > 0 {
		st.Response = body
	}
	return st
}

// Snapshot returns the most recent cached results.
func (m *Monitor) Snapshot() map[string]ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]ServiceStatus, len(m.last))
	for name, st := range m.last {
		out[name] = st
	}
	return out
}

func (m *Monitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	report := m.Check(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}

func (m *Monitor) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/carevoice/status")
	healthy, err := meter.Int64ObservableGauge("carevoice.services.healthy", metric.WithDescription("Dependencies whose last probe succeeded"))
	if err != nil {
		return err
	}
	known, err := meter.Int64ObservableGauge("carevoice.services.known", metric.WithDescription("Configured dependencies"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		up, total := m.counts()
		obs.ObserveInt64(healthy, up)
		obs.ObserveInt64(known, total)
		return nil
	}, healthy, known)
	return err
}

func (m *Monitor) counts() (int64, int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var up int64
	for _, st := range m.last {
		if st.Status == StateHealthy {
			up++
		}
	}
	return up, int64(len(m.cfg.Services))
}
