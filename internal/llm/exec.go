package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// execGenerator hands each prompt to an external command, e.g. a local model runner script.
// The command reads one JSON request on stdin and streams JSON lines on stdout:
//
//	{"content": "Paris is", "done": false}
//	{"content": " the capital.", "done": true, "prompt_tokens": 4, "completion_tokens": 5}
//
// A line with an "error" field aborts generation.
type execGenerator struct {
	argv []string
}

type execRequest struct {
	SessionID   string  `json:"session_id,omitempty"`
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type execLine struct {
	Content          string `json:"content"`
	Done             bool   `json:"done"`
	Error            string `json:"error,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

func NewExecGenerator(command string) (Generator, error) {
	argv, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("llm command empty")
	}
	return &execGenerator{argv: argv}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	input, err := json.Marshal(execRequest{
		SessionID:   req.SessionID,
		Prompt:      req.Prompt,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return fmt.Errorf("marshal llm request: %w", err)
	}

	cmd := exec.CommandContext(ctx, g.argv[0], g.argv[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start llm command: %w", err)
	}

	streamErr := g.stream(stdout, start, consumer)
	if streamErr != nil {
		// Unblock a command still writing to a pipe nobody reads.
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()
	if streamErr != nil {
		return streamErr
	}
	if waitErr != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("llm command failed: %w: %s", waitErr, msg)
		}
		return fmt.Errorf("llm command failed: %w", waitErr)
	}
	return nil
}

func (g *execGenerator) stream(stdout io.Reader, start time.Time, consumer func(Chunk) error) error {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	done := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		// Output after the final line is drained so the command can exit.
		if done || len(line) == 0 {
			continue
		}
		var out execLine
		if err := json.Unmarshal(line, &out); err != nil {
			return fmt.Errorf("decode llm exec output: %w", err)
		}
		if out.Error != "" {
			return fmt.Errorf("llm command reported: %s", out.Error)
		}
		if err := consumer(Chunk{
			Content:          out.Content,
			Partial:          !out.Done,
			PromptTokens:     out.PromptTokens,
			CompletionTokens: out.CompletionTokens,
			Latency:          time.Since(start),
		}); err != nil {
			return err
		}
		done = out.Done
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read llm exec output: %w", err)
	}
	return nil
}
