package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/loqalabs/cyruss/internal/config"
)

// Request describes a language model prompt.
type Request struct {
	SessionID   string
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
}

// Chunk is one streamed fragment of model output. Content holds only the new text.
type Chunk struct {
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// OptionsFromConfig builds the request defaults applied to every prompt.
func OptionsFromConfig(cfg config.LLMConfig) Request {
	return Request{
		System:      cfg.System,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
}

// New selects the backend named by cfg.Mode.
func New(cfg config.LLMConfig) (Generator, error) {
	client := &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond}
	switch cfg.Mode {
	case "gemini":
		return NewGeminiGenerator(cfg.APIKey, cfg.Model, cfg.Endpoint, client), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model, client), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	case "mock":
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
	}
}
