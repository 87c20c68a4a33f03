package llm

import (
	"context"
	"strings"
	"time"
)

type mockGenerator struct{}

// NewMockGenerator echoes the prompt back word by word. Used for local runs without a model.
func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	words := strings.Fields("You said: " + strings.TrimSpace(req.Prompt))
	for i, w := range words {
		if i < len(words)-1 {
			w += " "
		}
		if err := consumer(Chunk{
			Content: w,
			Partial: i < len(words)-1,
			Latency: 20 * time.Millisecond,
		}); err != nil {
			return err
		}
	}
	return nil
}
