package llm

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/cyruss/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ErrorReply = "Sorry, I encountered an error processing your request."
	EmptyReply = "I didn't receive a response. Could you please ask again?"
)

// Responder turns a prompt into one spoken-ready answer. Backend failures are reported to the
// caller as a fixed apology, not as an error.
type Responder struct {
	gen     Generator
	base    Request
	timeout time.Duration
	log     *slog.Logger
	tracer  trace.Tracer
}

func NewResponder(gen Generator, cfg config.LLMConfig, log *slog.Logger) *Responder {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Responder{
		gen:     gen,
		base:    OptionsFromConfig(cfg),
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		log:     log.With(slog.String("component", "llm")),
		tracer:  otel.Tracer("github.com/loqalabs/cyruss/llm"),
	}
}

// GetResponse concatenates the streamed fragments verbatim and trims the result.
func (r *Responder) GetResponse(ctx context.Context, prompt string) (string, error) {
	ctx, span := r.tracer.Start(ctx, "llm.generate")
	defer span.End()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	req := r.base
	req.Prompt = prompt

	var b strings.Builder
	var completionTokens int
	start := time.Now()
	err := r.gen.Generate(ctx, req, func(c Chunk) error {
		b.WriteString(c.Content)
		if c.CompletionTokens > 0 {
			completionTokens = c.CompletionTokens
		}
		return nil
	})
	span.SetAttributes(
		attribute.Int("llm.prompt_length", len(prompt)),
		attribute.Int("llm.completion_tokens", completionTokens),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.Error("language model request failed", slog.String("error", err.Error()))
		return ErrorReply, nil
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		r.log.Warn("language model returned an empty response")
		return EmptyReply, nil
	}
	r.log.Debug("language model responded",
		slog.Int("length", len(text)),
		slog.Duration("latency", time.Since(start)))
	return text, nil
}
