package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-audio/wav"

	"github.com/loqalabs/carevoice/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeScript(t *testing.T, body string) (command, stdinPath string) {
	t.Helper()
	dir := t.TempDir()
	stdinPath = filepath.Join(dir, "stdin.json")
	path := filepath.Join(dir, "speak.sh")
	script := "#!/bin/sh\ncat > " + stdinPath + "\n" + body
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return "sh " + path, stdinPath
}

func decodeSamples(t *testing.T, body []byte) ([]int, int) {
	t.Helper()
	dec := wav.NewDecoder(bytes.NewReader(body))
	if !dec.IsValidFile() {
		t.Fatal("response is not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	return buf.Data, int(dec.SampleRate)
}

func TestExecSynthStreamsChunks(t *testing.T) {
	cmd, stdinPath := writeScript(t, `echo '{"pcm_base64":"AAABAA==","final":false}'
echo ''
echo '{"pcm_base64":"AgADAA==","final":true}'
`)
	synth, err := NewExecSynth(cmd, 16000, 1)
	if err != nil {
		t.Fatal(err)
	}
	chunks, errs := synth.Synthesize(context.Background(), SynthRequest{Text: "hello", Voice: "amy", Language: "en"})
	var got []SynthChunk
	for chunk := range chunks {
		got = append(got, chunk)
	}
	if err := <-errs; err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(got) != 2 || got[1].Sequence != 1 || !got[1].Final || got[0].SampleRate != 16000 {
		t.Fatalf("unexpected chunks %+v", got)
	}

	raw, err := os.ReadFile(stdinPath)
	if err != nil {
		t.Fatal(err)
	}
	var req execRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		t.Fatalf("decode stdin: %v", err)
	}
	if req.Text != "hello" || req.Voice != "amy" || req.Language != "en" || req.SampleRate != 16000 {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestExecSynthCommandFailure(t *testing.T) {
	cmd, _ := writeScript(t, `echo "voice missing" >&2
exit 3
`)
	synth, err := NewExecSynth(cmd, 16000, 1)
	if err != nil {
		t.Fatal(err)
	}
	chunks, errs := synth.Synthesize(context.Background(), SynthRequest{Text: "hi"})
	for range chunks {
	}
	err = <-errs
	if err == nil || !strings.Contains(err.Error(), "voice missing") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestNewExecSynthRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecSynth("   ", 16000, 1); err == nil {
		t.Fatal("expected error")
	}
}

func TestMockSynthSizesSilence(t *testing.T) {
	chunks, errs := NewMockSynth(8000, 1).Synthesize(context.Background(), SynthRequest{Text: "take two tablets daily"})
	chunk := <-chunks
	if err := <-errs; err != nil {
		t.Fatal(err)
	}
	// four words at 250ms each, 8000Hz mono, 2 bytes per sample
	if len(chunk.PCM) != 16000 || !chunk.Final {
		t.Fatalf("unexpected chunk len=%d final=%v", len(chunk.PCM), chunk.Final)
	}
}

func TestEncodeWAVRoundTrip(t *testing.T) {
	var out bytes.Buffer
	pcm := []byte{0x01, 0x00, 0xff, 0xff, 0x10, 0x00}
	if _, err := EncodeWAV(&out, pcm, 22050, 1); err != nil {
		t.Fatalf("encode: %v", err)
	}
	samples, rate := decodeSamples(t, out.Bytes())
	if rate != 22050 {
		t.Fatalf("unexpected sample rate %d", rate)
	}
	want := []int{1, -1, 16}
	if len(samples) != len(want) {
		t.Fatalf("unexpected samples %v", samples)
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Fatalf("sample %d = %d, want %d", i, samples[i], want[i])
		}
	}
}

func TestEncodeWAVRejectsOddPayload(t *testing.T) {
	if _, err := EncodeWAV(io.Discard, []byte{1, 2, 3}, 16000, 1); err == nil {
		t.Fatal("expected error")
	}
}

type failingSynth struct{}

func (failingSynth) Synthesize(context.Context, SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	close(chunks)
	errs <- errors.New("engine crashed")
	close(errs)
	return chunks, errs
}

func newServer(t *testing.T, engines map[string]Synthesizer) *httptest.Server {
	t.Helper()
	cfg := config.Default().TTS
	mux := http.NewServeMux()
	NewService(cfg, engines, testLogger()).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postSpeak(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url+"/speak", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func TestSpeakReturnsWAV(t *testing.T) {
	engines, err := NewEngines(config.Default().TTS)
	if err != nil {
		t.Fatal(err)
	}
	srv := newServer(t, engines)

	resp, body := postSpeak(t, srv.URL, `{"text":"rest and drink water"}`)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "audio/wav" {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	samples, rate := decodeSamples(t, body)
	if rate != 22050 || len(samples) != 22050 {
		t.Fatalf("unexpected wav rate=%d samples=%d", rate, len(samples))
	}
}

func TestSpeakUsesRequestedEngine(t *testing.T) {
	cmd, stdinPath := writeScript(t, `echo '{"pcm_base64":"AAABAA==","final":true}'
`)
	exec, err := NewExecSynth(cmd, 22050, 1)
	if err != nil {
		t.Fatal(err)
	}
	srv := newServer(t, map[string]Synthesizer{"offline": NewMockSynth(22050, 1), "cloud": exec})

	resp, body := postSpeak(t, srv.URL, `{"text":"hello","engine":"cloud","language":"es"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, body)
	}
	if samples, _ := decodeSamples(t, body); len(samples) != 2 {
		t.Fatalf("expected exec engine samples, got %v", samples)
	}
	raw, _ := os.ReadFile(stdinPath)
	if !strings.Contains(string(raw), `"voice":"default"`) || !strings.Contains(string(raw), `"language":"es"`) {
		t.Fatalf("unexpected exec request %s", raw)
	}
}

func TestSpeakValidation(t *testing.T) {
	srv := newServer(t, map[string]Synthesizer{"offline": NewMockSynth(22050, 1)})

	cases := []struct {
		body string
		want string
	}{
		{`{"text":"   "}`, "Text is required"},
		{`{"text":"hi","engine":"robot"}`, "Unknown engine: robot"},
		{`not json`, "Invalid JSON body"},
	}
	for _, tc := range cases {
		resp, body := postSpeak(t, srv.URL, tc.body)
		var out map[string]any
		_ = json.Unmarshal(body, &out)
		if resp.StatusCode != http.StatusBadRequest || out["error"] != tc.want {
			t.Fatalf("body %s: unexpected response %d %v", tc.body, resp.StatusCode, out)
		}
	}
}

func TestSpeakSynthesisFailure(t *testing.T) {
	srv := newServer(t, map[string]Synthesizer{"offline": failingSynth{}})

	resp, body := postSpeak(t, srv.URL, `{"text":"hi"}`)
	if resp.StatusCode != http.StatusInternalServerError || !strings.Contains(string(body), "engine crashed") {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, body)
	}
}

func TestEnginesListing(t *testing.T) {
	srv := newServer(t, map[string]Synthesizer{"offline": NewMockSynth(22050, 1), "cloud": NewMockSynth(22050, 1)})

	resp, err := http.Get(srv.URL + "/engines")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct {
		Engines []string `json:"engines"`
		Default string   `json:"default"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if len(out.Engines) != 2 || out.Engines[0] != "cloud" || out.Default != "offline" {
		t.Fatalf("unexpected engines %+v", out)
	}
}
