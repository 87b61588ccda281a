package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/carevoice/internal/config"
)

type captureSink struct {
	inputs  []Input
	results []Result
}

func (c *captureSink) Record(_ context.Context, in Input, res Result, _ time.Duration) {
	c.inputs = append(c.inputs, in)
	c.results = append(c.results, res)
}

func newTestServer(t *testing.T, rec *scriptedRecognizer, fwd *recordingForwarder, sinks ...Sink) *httptest.Server {
	t.Helper()
	return newTestServerWithConfig(t, config.Default().STT, rec, fwd, sinks...)
}

func newTestServerWithConfig(t *testing.T, cfg config.STTConfig, rec *scriptedRecognizer, fwd *recordingForwarder, sinks ...Sink) *httptest.Server {
	t.Helper()
	h := NewHandler(newOrchestrator(rec, fwd, testOptions), cfg, sinks, testLogger())
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type part struct {
	field, filename, contentType string
	data                         []byte
}

func multipartBody(t *testing.T, parts []part, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.filename+`"`)
		if p.contentType != "" {
			header.Set("Content-Type", p.contentType)
		}
		fw, err := w.CreatePart(header)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(p.data)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func decodeResult(t *testing.T, resp *http.Response) Result {
	t.Helper()
	defer resp.Body.Close()
	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return res
}

func TestHandlerAudioUpload(t *testing.T) {
	rec := &scriptedRecognizer{steps: []step{transcript("my knee hurts", 0.9)}}
	fwd := &recordingForwarder{outcome: processed}
	sink := &captureSink{}
	srv := newTestServer(t, rec, fwd, sink)

	body, ct := multipartBody(t, []part{{field: "audio", filename: "rec.webm", contentType: "audio/webm;codecs=opus", data: []byte("opus-bytes")}}, nil)
	resp, err := http.Post(srv.URL+"/transcribe", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	requestID := resp.Header.Get("X-Request-ID")
	res := decodeResult(t, resp)

	if res.Status != StatusSuccess || res.Text != "my knee hurts" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.RequestID == "" || res.RequestID != requestID {
		t.Fatalf("request id mismatch: body %q header %q", res.RequestID, requestID)
	}
	if res.Downstream == nil || res.Downstream.Response != "ok" {
		t.Fatalf("expected downstream in body, got %+v", res.Downstream)
	}
	if rec.calls[0].Encoding != "WEBM_OPUS" {
		t.Fatalf("expected part content type to drive the first guess, got %s", rec.calls[0].Encoding)
	}
	if len(sink.results) != 1 || sink.results[0].RequestID != requestID {
		t.Fatalf("sink did not observe the result: %+v", sink.results)
	}
	if _, ok := sink.inputs[0].(Audio); !ok {
		t.Fatalf("expected audio input, got %T", sink.inputs[0])
	}
}

func TestHandlerRejectsOversizedUpload(t *testing.T) {
	rec := &scriptedRecognizer{steps: []step{transcript("unused", 0.9)}}
	fwd := &recordingForwarder{outcome: processed}
	cfg := config.Default().STT
	cfg.MaxUploadBytes = 1024
	srv := newTestServerWithConfig(t, cfg, rec, fwd)

	body, ct := multipartBody(t, []part{{field: "audio", filename: "long.wav", contentType: "audio/wav", data: make([]byte, 64<<10)}}, nil)
	resp, err := http.Post(srv.URL+"/transcribe", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
	res := decodeResult(t, resp)
	if res.Status != StatusValidationError || res.Downstream != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(rec.calls) != 0 || len(fwd.calls) != 0 {
		t.Fatalf("oversized upload reached recognizer (%d) or forwarder (%d)", len(rec.calls), len(fwd.calls))
	}
}

func TestHandlerFileFieldAndContentTypeOverride(t *testing.T) {
	rec := &scriptedRecognizer{steps: []step{transcript("ok", 0.5)}}
	srv := newTestServer(t, rec, &recordingForwarder{outcome: processed})

	body, ct := multipartBody(t,
		[]part{{field: "file", filename: "rec.bin", contentType: "application/octet-stream", data: []byte("pcm!")}},
		map[string]string{"content_type": "audio/wav"})
	resp, err := http.Post(srv.URL+"/transcribe", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	res := decodeResult(t, resp)
	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	if rec.calls[0].Encoding != "LINEAR16" {
		t.Fatalf("expected override to select LINEAR16, got %s", rec.calls[0].Encoding)
	}
}

func TestHandlerRejectsNonAudioUpload(t *testing.T) {
	rec := &scriptedRecognizer{}
	srv := newTestServer(t, rec, &recordingForwarder{})

	body, ct := multipartBody(t, []part{{field: "audio", filename: "notes.txt", contentType: "text/plain", data: []byte("hello")}}, nil)
	resp, err := http.Post(srv.URL+"/transcribe", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if res := decodeResult(t, resp); res.Status != StatusValidationError {
		t.Fatalf("expected validation_error, got %s", res.Status)
	}
	if len(rec.calls) != 0 {
		t.Fatal("backend must not be called")
	}
}

func TestHandlerBothAndNeither(t *testing.T) {
	srv := newTestServer(t, &scriptedRecognizer{}, &recordingForwarder{})

	both, ct := multipartBody(t, []part{{field: "audio", filename: "a.wav", contentType: "audio/wav", data: []byte("x")}}, map[string]string{"text": "also text"})
	resp, err := http.Post(srv.URL+"/transcribe", ct, both)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("both: expected 400, got %d", resp.StatusCode)
	}
	if res := decodeResult(t, resp); !strings.Contains(res.Error, "not both") {
		t.Fatalf("both: unexpected error %q", res.Error)
	}

	neither, ct := multipartBody(t, nil, map[string]string{"note": "nothing useful"})
	resp, err = http.Post(srv.URL+"/transcribe", ct, neither)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("neither: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHandlerBlankTextBesideAudioIsIgnored(t *testing.T) {
	rec := &scriptedRecognizer{steps: []step{transcript("ok", 0.5)}}
	srv := newTestServer(t, rec, &recordingForwarder{outcome: processed})

	body, ct := multipartBody(t, []part{{field: "audio", filename: "a.wav", contentType: "audio/wav", data: []byte("x")}}, map[string]string{"text": ""})
	resp, err := http.Post(srv.URL+"/transcribe", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	if res := decodeResult(t, resp); res.Status != StatusSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
}

func TestHandlerFormText(t *testing.T) {
	rec := &scriptedRecognizer{}
	fwd := &recordingForwarder{outcome: processed}
	srv := newTestServer(t, rec, fwd)

	resp, err := http.PostForm(srv.URL+"/transcribe", url.Values{"text": {"  fever for three days "}})
	if err != nil {
		t.Fatal(err)
	}
	res := decodeResult(t, resp)
	if res.Status != StatusSuccess || res.Confidence != 1 || res.ConfigIndex != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(fwd.calls) != 1 || fwd.calls[0] != "fever for three days" {
		t.Fatalf("unexpected forward calls %v", fwd.calls)
	}
}

func TestHandlerJSONText(t *testing.T) {
	srv := newTestServer(t, &scriptedRecognizer{}, &recordingForwarder{outcome: processed})

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/transcribe", strings.NewReader(`{"text":"rash on arm"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res := decodeResult(t, resp)
	if res.Status != StatusSuccess || res.Text != "rash on arm" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.RequestID != "abc-123" {
		t.Fatalf("expected caller request id to be kept, got %q", res.RequestID)
	}
}

func TestHandlerJSONBlankText(t *testing.T) {
	srv := newTestServer(t, &scriptedRecognizer{}, &recordingForwarder{})

	resp, err := http.Post(srv.URL+"/transcribe", "application/json", strings.NewReader(`{"text":"   "}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHandlerAllConfigsFailedIs502(t *testing.T) {
	rec := &scriptedRecognizer{steps: []step{failure("a"), failure("b")}}
	srv := newTestServer(t, rec, &recordingForwarder{})

	body, ct := multipartBody(t, []part{{field: "audio", filename: "a.webm", contentType: "audio/webm", data: []byte("x")}}, nil)
	resp, err := http.Post(srv.URL+"/transcribe", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	res := decodeResult(t, resp)
	if res.Status != StatusAllConfigsFailed || res.Error != "b" || res.Downstream != nil {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestHandlerUnsupportedBody(t *testing.T) {
	srv := newTestServer(t, &scriptedRecognizer{}, &recordingForwarder{})
	resp, err := http.Post(srv.URL+"/transcribe", "text/plain", strings.NewReader("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHandlerModels(t *testing.T) {
	srv := newTestServer(t, &scriptedRecognizer{}, &recordingForwarder{})
	resp, err := http.Get(srv.URL + "/transcribe/models")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var info ModelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.Backend != "mock" || info.CurrentModel != "medical_conversation" || len(info.SupportedFormats) == 0 {
		t.Fatalf("unexpected model info %+v", info)
	}
}
