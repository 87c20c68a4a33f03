package stt

import (
	"context"
)

type mockRecognizer struct {
	text string
}

// NewMockRecognizer returns text for every non-empty recording.
func NewMockRecognizer(text string) Recognizer {
	return &mockRecognizer{text: text}
}

func (m *mockRecognizer) Transcribe(_ context.Context, pcm []byte, _ int, _ int, _ bool) (TranscriptResult, error) {
	if len(pcm) == 0 {
		return TranscriptResult{}, nil
	}
	return TranscriptResult{Text: m.text, Confidence: 1}, nil
}
