package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 5000 {
		t.Fatalf("expected default port 5000, got %d", cfg.HTTP.Port)
	}
	if cfg.Speech.MaxChunkSize != 500 {
		t.Fatalf("expected max chunk size 500, got %d", cfg.Speech.MaxChunkSize)
	}
	if cfg.LLM.APIKey != "test-key" {
		t.Fatalf("expected api key from GEMINI_API_KEY, got %q", cfg.LLM.APIKey)
	}
	if len(cfg.Sites) == 0 || cfg.Sites[0].Name != "youtube" {
		t.Fatalf("expected default site table, got %v", cfg.Sites)
	}
}

func TestLoadRequiresGeminiKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error when gemini mode has no api key")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CYRUSS_LLM_MODE", "mock")
	t.Setenv("PORT", "8088")
	t.Setenv("CYRUSS_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("CYRUSS_BUS_ENABLED", "true")
	t.Setenv("CYRUSS_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("CYRUSS_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("CYRUSS_SPEECH_MAX_CHUNK_SIZE", "120")
	t.Setenv("CYRUSS_LLM_TEMPERATURE", "0.2")
	t.Setenv("CYRUSS_STT_SOURCE", "stdin")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTP.Port != 8088 {
		t.Fatalf("expected PORT override, got %d", cfg.HTTP.Port)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if !cfg.Bus.Enabled {
		t.Fatal("expected bus enabled override")
	}
	if cfg.EventStore.RetentionMode != "persistent" || cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store overrides, got %+v", cfg.EventStore)
	}
	if cfg.Speech.MaxChunkSize != 120 {
		t.Fatalf("expected chunk size override, got %d", cfg.Speech.MaxChunkSize)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Fatalf("expected temperature override, got %v", cfg.LLM.Temperature)
	}
	if cfg.STT.Source != "stdin" {
		t.Fatalf("expected stt source override, got %s", cfg.STT.Source)
	}
}

func TestPortPrecedence(t *testing.T) {
	t.Setenv("CYRUSS_LLM_MODE", "mock")
	t.Setenv("PORT", "6000")
	t.Setenv("CYRUSS_HTTP_PORT", "7000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 7000 {
		t.Fatalf("expected CYRUSS_HTTP_PORT to win, got %d", cfg.HTTP.Port)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("CYRUSS_LLM_MODE", "")
	path := filepath.Join(t.TempDir(), "cyruss.yaml")
	data := `
llm:
  mode: ollama
  endpoint: http://localhost:11434
sites:
  - name: netflix
    url: https://netflix.com
  - name: youtube
    url: https://youtube.com
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Mode != "ollama" {
		t.Fatalf("expected ollama mode, got %s", cfg.LLM.Mode)
	}
	if len(cfg.Sites) != 2 || cfg.Sites[0].Name != "netflix" {
		t.Fatalf("expected site table from file, got %v", cfg.Sites)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"chunk size", func(c *Config) { c.Speech.MaxChunkSize = 0 }},
		{"llm mode", func(c *Config) { c.LLM.Mode = "gpt" }},
		{"tts exec without command", func(c *Config) { c.TTS.Mode = "exec" }},
		{"stt source", func(c *Config) { c.STT.Source = "telepathy" }},
		{"empty site", func(c *Config) { c.Sites = append(c.Sites, Site{Name: "x"}) }},
		{"retention mode", func(c *Config) { c.EventStore.RetentionMode = "forever" }},
		{"port", func(c *Config) { c.HTTP.Port = 70000 }},
		{"trusted proxy", func(c *Config) { c.HTTP.TrustedProxies = []string{"not-an-ip"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.LLM.Mode = "mock"
			tt.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json"}, &buf)
	logger.Debug("hello", "k", "v")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Fatalf("expected json output, got %s", buf.String())
	}
}

func TestTrustedPrefixes(t *testing.T) {
	cfg := HTTPConfig{TrustedProxies: []string{"10.0.0.1", " 192.168.0.0/16 ", "::ffff:172.16.0.9"}}
	prefixes, err := cfg.TrustedPrefixes()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"10.0.0.1/32", "192.168.0.0/16", "172.16.0.9/32"}
	if len(prefixes) != len(want) {
		t.Fatalf("expected %d prefixes, got %v", len(want), prefixes)
	}
	for i, p := range prefixes {
		if p.String() != want[i] {
			t.Fatalf("prefix %d: expected %s, got %s", i, want[i], p)
		}
	}
}
