package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/carevoice/internal/config"
	"github.com/mattn/go-shellwords"
)

// whisperRecognizer shells out to a local Whisper CLI. The command receives
// --audio <file> [--model <path>] [--language <iso639-1>] and prints
// {"text": "...", "confidence": 0.0} on stdout.
type whisperRecognizer struct {
	cmd           []string
	modelPath     string
	pcmSampleRate int
	mu            sync.Mutex
}

type whisperResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
}

// containerTypes lists the detected media types accepted for each declared encoding.
var containerTypes = map[Encoding][]string{
	EncodingWebMOpus: {"video/webm", "audio/webm", "video/x-matroska"},
	EncodingOggOpus:  {"audio/ogg", "application/ogg", "audio/opus"},
	EncodingMP3:      {"audio/mpeg", "audio/mp3"},
}

var fileExtensions = map[Encoding]string{
	EncodingLinear16: ".wav",
	EncodingWebMOpus: ".webm",
	EncodingOggOpus:  ".ogg",
	EncodingMP3:      ".mp3",
	EncodingAuto:     ".wav",
}

func NewWhisperRecognizer(cfg config.STTConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &whisperRecognizer{cmd: args, modelPath: cfg.ModelPath, pcmSampleRate: cfg.PCMSampleRate}, nil
}

func (r *whisperRecognizer) Recognize(ctx context.Context, audioData []byte, cfg RecognitionConfig) ([]Result, error) {
	if err := checkContainer(audioData, cfg.Encoding); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "carevoice_stt_*"+fileExtensions[cfg.Encoding])
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if cfg.Encoding == EncodingLinear16 && !isRIFF(audioData) {
		rate := cfg.SampleRateHz
		if rate <= 0 {
			rate = r.pcmSampleRate
		}
		if err := writePCMToWav(file, audioData, rate, 1); err != nil {
			return nil, err
		}
	} else if _, err := file.Write(audioData); err != nil {
		return nil, fmt.Errorf("write audio: %w", err)
	}

	base := r.cmd[0]
	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if r.modelPath != "" {
		cmdArgs = append(cmdArgs, "--model", r.modelPath)
	}
	if lang := whisperLanguage(cfg.LanguageCode); lang != "" {
		cmdArgs = append(cmdArgs, "--language", lang)
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("stt command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp whisperResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode stt response: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, nil
	}
	return []Result{{Alternatives: []Alternative{{Transcript: text, Confidence: resp.Confidence}}}}, nil
}

// checkContainer rejects audio whose container contradicts the declared encoding,
// so a wrong guess fails fast and the caller can move on to the next config.
func checkContainer(data []byte, enc Encoding) error {
	switch enc {
	case EncodingAuto:
		return nil
	case EncodingLinear16:
		if !isRIFF(data) {
			if len(data)%2 != 0 {
				return fmt.Errorf("pcm payload not aligned")
			}
			if detected, ok := knownContainer(data); ok {
				return fmt.Errorf("audio is %s, not raw LINEAR16", detected)
			}
			return nil
		}
		dec := wav.NewDecoder(bytes.NewReader(data))
		if !dec.IsValidFile() {
			return fmt.Errorf("invalid wav container")
		}
		if dec.BitDepth != 16 {
			return fmt.Errorf("wav bit depth %d is not LINEAR16", dec.BitDepth)
		}
		return nil
	}
	accepted, ok := containerTypes[enc]
	if !ok {
		return fmt.Errorf("unsupported encoding %q", enc)
	}
	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		for _, want := range accepted {
			if m.Is(want) {
				return nil
			}
		}
	}
	return fmt.Errorf("audio does not look like %s (detected %s)", enc, detected.String())
}

// compressedContainers are media types that can never be raw PCM.
var compressedContainers = []string{
	"video/webm", "audio/webm", "video/x-matroska",
	"audio/ogg", "application/ogg",
	"audio/mpeg", "audio/mp4", "video/mp4",
	"audio/flac",
}

func knownContainer(data []byte) (string, bool) {
	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		for _, c := range compressedContainers {
			if m.Is(c) {
				return detected.String(), true
			}
		}
	}
	return "", false
}

func isRIFF(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// whisperLanguage turns a BCP-47 code like en-US into the two-letter code Whisper expects.
func whisperLanguage(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	return strings.ToLower(code)
}

func writePCMToWav(file io.WriteSeeker, pcm []byte, sampleRate int, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}, SourceBitDepth: 16}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
