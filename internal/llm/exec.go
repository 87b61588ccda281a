package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

// execGenerator runs a local inference script such as a MedGemma wrapper. The
// script receives --prompt, --max_length and --temperature and prints
// {"success": true, "response": "...", "model": "...", "confidence": 0.9}.
type execGenerator struct {
	cmd []string
	mu  sync.Mutex
}

type execResponse struct {
	Success    bool    `json:"success"`
	Response   string  `json:"response"`
	Model      string  `json:"model,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
}

func NewExecGenerator(command string) (Generator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("llm command empty")
	}
	return &execGenerator{cmd: args}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	args := append([]string{}, g.cmd[1:]...)
	args = append(args, "--prompt", req.Message)
	if req.MaxTokens > 0 {
		args = append(args, "--max_length", strconv.Itoa(req.MaxTokens))
	}
	args = append(args, "--temperature", strconv.FormatFloat(req.Temperature, 'f', -1, 64))

	start := time.Now()
	cmd := exec.CommandContext(ctx, g.cmd[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()

	// The script reports its own failures as JSON, even with a non-zero exit.
	var resp execResponse
	if decodeErr := json.Unmarshal(bytes.TrimSpace(output), &resp); decodeErr != nil {
		if err != nil {
			return fmt.Errorf("llm exec command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("decode llm exec response: %w", decodeErr)
	}
	if !resp.Success {
		if resp.Error == "" {
			resp.Error = "inference script reported failure"
		}
		return errors.New(resp.Error)
	}

	return consumer(Chunk{
		Content:    resp.Response,
		Type:       "exec",
		Model:      resp.Model,
		Confidence: resp.Confidence,
		Latency:    time.Since(start),
	})
}
