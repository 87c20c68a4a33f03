package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/cyruss/internal/retry"
)

func newTestGemini(url string) *geminiGenerator {
	g := NewGeminiGenerator("test-key", "gemini-test", url, nil).(*geminiGenerator)
	g.retry = retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	return g
}

func TestGeminiStreamsFragments(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-test:streamGenerateContent" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Has("key") || r.URL.Query().Get("alt") != "sse" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("api key header missing")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hello \"}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"world\"}]},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"promptTokenCount\":3,\"candidatesTokenCount\":2}}\n\n")
	}))
	defer srv.Close()

	g := newTestGemini(srv.URL)
	var chunks []Chunk
	err := g.Generate(context.Background(), Request{Prompt: "hi", MaxTokens: 2000, Temperature: 0.7}, func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(chunks) != 2 || chunks[0].Content != "Hello " || chunks[1].Content != "world" {
		t.Fatalf("unexpected chunks %+v", chunks)
	}
	if chunks[1].Partial || chunks[1].CompletionTokens != 2 {
		t.Fatalf("expected final chunk with usage, got %+v", chunks[1])
	}
	if got.GenerationConfig.MaxOutputTokens != 2000 || got.GenerationConfig.Temperature != 0.7 {
		t.Fatalf("generation config not forwarded: %+v", got.GenerationConfig)
	}
	if len(got.Contents) != 1 || got.Contents[0].Parts[0].Text != "hi" {
		t.Fatalf("prompt not forwarded: %+v", got.Contents)
	}
}

func TestGeminiRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"ok\"}]}}]}\n\n")
	}))
	defer srv.Close()

	var b strings.Builder
	err := newTestGemini(srv.URL).Generate(context.Background(), Request{Prompt: "hi"}, func(c Chunk) error {
		b.WriteString(c.Content)
		return nil
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if b.String() != "ok" || calls.Load() != 3 {
		t.Fatalf("expected success on third attempt, got %q after %d calls", b.String(), calls.Load())
	}
}

func TestGeminiDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusForbidden)
	}))
	defer srv.Close()

	err := newTestGemini(srv.URL).Generate(context.Background(), Request{Prompt: "hi"}, func(Chunk) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestGeminiStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"error\":{\"code\":500,\"message\":\"internal\"}}\n\n")
	}))
	defer srv.Close()

	err := newTestGemini(srv.URL).Generate(context.Background(), Request{Prompt: "hi"}, func(Chunk) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "internal") {
		t.Fatalf("expected stream error, got %v", err)
	}
}

func TestGeminiKeyStaysOutOfErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	g := NewGeminiGenerator("SECRET-KEY-123", "", endpoint, nil).(*geminiGenerator)
	g.retry = retry.Config{MaxAttempts: 1}
	err := g.Generate(context.Background(), Request{Prompt: "hi"}, func(Chunk) error { return nil })
	if err == nil {
		t.Fatal("expected connection error")
	}
	if strings.Contains(err.Error(), "SECRET-KEY-123") {
		t.Fatalf("api key leaked into error: %v", err)
	}
}

func TestResponderLogsWithoutKey(t *testing.T) {
	var logs strings.Builder
	log := slog.New(slog.NewTextHandler(&logs, nil))

	g := NewGeminiGenerator("SECRET-KEY-123", "", "http://127.0.0.1:1", nil).(*geminiGenerator)
	g.retry = retry.Config{MaxAttempts: 1}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := NewResponder(g, testLLMConfig(), log).GetResponse(ctx, "hi")
	if err != nil || got != ErrorReply {
		t.Fatalf("expected error reply, got %q, %v", got, err)
	}
	if !strings.Contains(logs.String(), "language model request failed") {
		t.Fatalf("expected failure to be logged, got %q", logs.String())
	}
	if strings.Contains(logs.String(), "SECRET-KEY-123") {
		t.Fatalf("api key leaked into logs: %s", logs.String())
	}
}

func TestOllamaStreamsFragments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != defaultOllamaModel || !req.Stream {
			t.Errorf("unexpected request %+v", req)
		}
		fmt.Fprintln(w, `{"response":"Hi ","done":false}`)
		fmt.Fprintln(w, `{"response":"there","done":true,"eval_count":2}`)
	}))
	defer srv.Close()

	g := NewOllamaGenerator(srv.URL+"/", "", nil)
	var b strings.Builder
	err := g.Generate(context.Background(), Request{Prompt: "hello"}, func(c Chunk) error {
		b.WriteString(c.Content)
		return nil
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if b.String() != "Hi there" {
		t.Fatalf("unexpected output %q", b.String())
	}
}
