package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loqalabs/cyruss/internal/retry"
)

const (
	defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel    = "gemini-1.5-flash"
)

// geminiGenerator streams completions from the Gemini REST API using server-sent events.
type geminiGenerator struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	retry    retry.Config
}

func NewGeminiGenerator(apiKey, model, endpoint string, client *http.Client) Generator {
	if model == "" {
		model = defaultGeminiModel
	}
	if endpoint == "" {
		endpoint = defaultGeminiEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &geminiGenerator{
		apiKey:   apiKey,
		model:    model,
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
		retry:    retry.Default(),
	}
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason,omitempty"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

func (g *geminiGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	payload := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		},
	}
	if req.System != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal gemini request: %w", err)
	}

	// The key travels in a header: transport errors embed the request URL.
	endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", g.endpoint, url.PathEscape(g.model))

	var resp *http.Response
	err = retry.Do(ctx, g.retry, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(fmt.Errorf("create gemini request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", g.apiKey)

		r, err := g.client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("send gemini request: %w", err)
		}
		if r.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(r.Body, 4096))
			r.Body.Close()
			statusErr := fmt.Errorf("gemini API error %d: %s", r.StatusCode, strings.TrimSpace(string(msg)))
			if retry.RetryableStatus(r.StatusCode) {
				return statusErr
			}
			return retry.Permanent(statusErr)
		}
		resp = r
		return nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	start := time.Now()
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			continue
		}

		var event geminiResponse
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return fmt.Errorf("decode gemini event: %w", err)
		}
		if event.Error != nil {
			return fmt.Errorf("gemini API error %d: %s", event.Error.Code, event.Error.Message)
		}

		chunk := Chunk{Partial: true, Latency: time.Since(start)}
		if len(event.Candidates) > 0 {
			cand := event.Candidates[0]
			for _, p := range cand.Content.Parts {
				chunk.Content += p.Text
			}
			chunk.Partial = cand.FinishReason == ""
		}
		if event.UsageMetadata != nil {
			chunk.PromptTokens = event.UsageMetadata.PromptTokenCount
			chunk.CompletionTokens = event.UsageMetadata.CandidatesTokenCount
		}
		if err := consumer(chunk); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read gemini stream: %w", err)
	}
	return nil
}
