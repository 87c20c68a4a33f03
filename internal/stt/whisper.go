package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/cyruss/internal/retry"
)

const defaultWhisperEndpoint = "https://api.openai.com/v1"

// whisperRecognizer posts each recording to an OpenAI-compatible /audio/transcriptions endpoint.
type whisperRecognizer struct {
	apiKey   string
	endpoint string
	language string
	client   *http.Client
	retry    retry.Config
}

func NewWhisperRecognizer(apiKey, endpoint, language string, client *http.Client) Recognizer {
	if endpoint == "" {
		endpoint = defaultWhisperEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &whisperRecognizer{
		apiKey:   apiKey,
		endpoint: strings.TrimRight(endpoint, "/"),
		language: language,
		client:   client,
		retry:    retry.Default(),
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

func (w *whisperRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, _ bool) (TranscriptResult, error) {
	if w.apiKey == "" {
		return TranscriptResult{}, errors.New("whisper api key not configured")
	}
	if len(pcm) == 0 {
		return TranscriptResult{}, nil
	}
	clip, err := encodeWAV(pcm, sampleRate, channels)
	if err != nil {
		return TranscriptResult{}, err
	}

	var result transcriptionResponse
	err = retry.Do(ctx, w.retry, func(ctx context.Context) error {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "audio.wav")
		if err != nil {
			return retry.Permanent(fmt.Errorf("create form file: %w", err))
		}
		if _, err := part.Write(clip); err != nil {
			return retry.Permanent(fmt.Errorf("write audio: %w", err))
		}
		if err := writer.WriteField("model", "whisper-1"); err != nil {
			return retry.Permanent(err)
		}
		if w.language != "" {
			if err := writer.WriteField("language", w.language); err != nil {
				return retry.Permanent(err)
			}
		}
		if err := writer.Close(); err != nil {
			return retry.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint+"/audio/transcriptions", body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
		req.Header.Set("Content-Type", writer.FormDataContentType())

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			statusErr := fmt.Errorf("whisper API error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
			if retry.RetryableStatus(resp.StatusCode) {
				return statusErr
			}
			return retry.Permanent(statusErr)
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return retry.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	})
	if err != nil {
		return TranscriptResult{}, err
	}
	return TranscriptResult{Text: result.Text}, nil
}
