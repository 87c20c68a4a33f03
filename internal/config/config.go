package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TelemetryConfig struct {
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	TraceStdout    bool   `yaml:"trace_stdout"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind           string `yaml:"bind"`
	Port           int    `yaml:"port"`
	RateLimit      int    `yaml:"rate_limit_per_minute"`
	MaxRequestSize int64  `yaml:"max_request_bytes"`
	// TrustedProxies lists proxy addresses or CIDRs whose forwarding headers are believed.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// TrustedPrefixes parses TrustedProxies. Bare addresses become single-host prefixes.
func (c HTTPConfig) TrustedPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, entry := range c.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("http.trusted_proxies: %w", err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("http.trusted_proxies: %w", err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	Log         LogConfig        `yaml:"log"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Speech      SpeechConfig     `yaml:"speech"`
	Assistant   AssistantConfig  `yaml:"assistant"`
	STT         STTConfig        `yaml:"stt"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
	Sites       []Site           `yaml:"sites"`
	SitesFile   string           `yaml:"sites_file"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// SpeechConfig tunes how responses are split and paced into the speech queue.
type SpeechConfig struct {
	MaxChunkSize int    `yaml:"max_chunk_size"`
	ChunkDelayMS int    `yaml:"chunk_delay_ms"`
	OpenPrefix   string `yaml:"open_prefix"`
}

type AssistantConfig struct {
	Greeting    string `yaml:"greeting"`
	LoopDelayMS int    `yaml:"loop_delay_ms"`
}

type STTConfig struct {
	Source          string `yaml:"source"` // microphone, stdin
	Mode            string `yaml:"mode"`   // mock, exec, whisper
	Command         string `yaml:"command"`
	ModelPath       string `yaml:"model_path"`
	Language        string `yaml:"language"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	EnergyThreshold int    `yaml:"energy_threshold"`
	PauseMS         int    `yaml:"pause_ms"`
	ListenTimeoutMS int    `yaml:"listen_timeout_ms"`
	PhraseLimitMS   int    `yaml:"phrase_limit_ms"`
	WhisperAPIKey   string `yaml:"whisper_api_key"`
	WhisperEndpoint string `yaml:"whisper_endpoint"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // gemini, ollama, exec, mock
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	System      string  `yaml:"system"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Mode         string `yaml:"mode"` // gtts, exec, mock
	Command      string `yaml:"command"`
	Language     string `yaml:"language"`
	Voice        string `yaml:"voice"`
	SampleRate   int    `yaml:"sample_rate"`
	Channels     int    `yaml:"channels"`
	GTTSBinary   string `yaml:"gtts_binary"`
	FFmpegBinary string `yaml:"ffmpeg_binary"`
	TimeoutMS    int    `yaml:"timeout_ms"`
}

// Site is one entry of the spoken-name to URL table.
type Site struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

func Default() Config {
	return Config{
		RuntimeName: "cyruss",
		Environment: "development",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		HTTP: HTTPConfig{
			Bind:           "0.0.0.0",
			Port:           5000,
			RateLimit:      30,
			MaxRequestSize: 64 * 1024,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/cyruss-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Speech: SpeechConfig{
			MaxChunkSize: 500,
			ChunkDelayMS: 300,
		},
		Assistant: AssistantConfig{
			Greeting:    "Hello, I'm Cyruss AI. How can I help you today?",
			LoopDelayMS: 300,
		},
		STT: STTConfig{
			Source:          "microphone",
			Mode:            "whisper",
			Language:        "en",
			SampleRate:      16000,
			Channels:        1,
			EnergyThreshold: 4000,
			PauseMS:         800,
			ListenTimeoutMS: 5000,
			PhraseLimitMS:   8000,
			WhisperEndpoint: "https://api.openai.com/v1",
		},
		LLM: LLMConfig{
			Mode:        "gemini",
			Model:       "gemini-1.5-flash",
			Endpoint:    "https://generativelanguage.googleapis.com/v1beta",
			MaxTokens:   2000,
			Temperature: 0.7,
			TimeoutMS:   60000,
		},
		TTS: TTSConfig{
			Mode:         "gtts",
			Language:     "en",
			SampleRate:   22050,
			Channels:     1,
			GTTSBinary:   "gtts-cli",
			FFmpegBinary: "ffmpeg",
			TimeoutMS:    15000,
		},
		Sites: DefaultSites(),
	}
}

func DefaultSites() []Site {
	return []Site{
		{Name: "youtube", URL: "https://youtube.com"},
		{Name: "google", URL: "https://google.com"},
		{Name: "wikipedia", URL: "https://wikipedia.org"},
		{Name: "github", URL: "https://github.com"},
		{Name: "gmail", URL: "https://mail.google.com"},
	}
}

// Load reads .env, the optional YAML file at path and CYRUSS_* overrides, in that order.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to load .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "CYRUSS_RUNTIME_NAME")
	overrideString(&cfg.Environment, "CYRUSS_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.Log.Level, "CYRUSS_LOG_LEVEL")
	overrideString(&cfg.Log.Format, "CYRUSS_LOG_FORMAT")
	overrideString(&cfg.HTTP.Bind, "CYRUSS_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PORT")
	overrideInt(&cfg.HTTP.Port, "CYRUSS_HTTP_PORT")
	overrideInt(&cfg.HTTP.RateLimit, "CYRUSS_HTTP_RATE_LIMIT_PER_MINUTE")
	overrideStringSlice(&cfg.HTTP.TrustedProxies, "CYRUSS_HTTP_TRUSTED_PROXIES")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "CYRUSS_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "CYRUSS_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "CYRUSS_TELEMETRY_TRACE_STDOUT")
	overrideString(&cfg.Telemetry.PrometheusBind, "CYRUSS_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "CYRUSS_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "CYRUSS_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "CYRUSS_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "CYRUSS_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "CYRUSS_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "CYRUSS_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "CYRUSS_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "CYRUSS_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "CYRUSS_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "CYRUSS_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "CYRUSS_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "CYRUSS_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "CYRUSS_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "CYRUSS_EVENT_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Speech.MaxChunkSize, "CYRUSS_SPEECH_MAX_CHUNK_SIZE")
	overrideInt(&cfg.Speech.ChunkDelayMS, "CYRUSS_SPEECH_CHUNK_DELAY_MS")
	overrideString(&cfg.Speech.OpenPrefix, "CYRUSS_SPEECH_OPEN_PREFIX")
	overrideString(&cfg.Assistant.Greeting, "CYRUSS_ASSISTANT_GREETING")
	overrideInt(&cfg.Assistant.LoopDelayMS, "CYRUSS_ASSISTANT_LOOP_DELAY_MS")
	overrideString(&cfg.STT.Source, "CYRUSS_STT_SOURCE")
	overrideString(&cfg.STT.Mode, "CYRUSS_STT_MODE")
	overrideString(&cfg.STT.Command, "CYRUSS_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "CYRUSS_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "CYRUSS_STT_LANGUAGE")
	overrideInt(&cfg.STT.SampleRate, "CYRUSS_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "CYRUSS_STT_CHANNELS")
	overrideInt(&cfg.STT.EnergyThreshold, "CYRUSS_STT_ENERGY_THRESHOLD")
	overrideInt(&cfg.STT.PauseMS, "CYRUSS_STT_PAUSE_MS")
	overrideInt(&cfg.STT.ListenTimeoutMS, "CYRUSS_STT_LISTEN_TIMEOUT_MS")
	overrideInt(&cfg.STT.PhraseLimitMS, "CYRUSS_STT_PHRASE_LIMIT_MS")
	overrideString(&cfg.STT.WhisperAPIKey, "OPENAI_API_KEY")
	overrideString(&cfg.STT.WhisperAPIKey, "CYRUSS_STT_WHISPER_API_KEY")
	overrideString(&cfg.STT.WhisperEndpoint, "CYRUSS_STT_WHISPER_ENDPOINT")
	overrideString(&cfg.LLM.Mode, "CYRUSS_LLM_MODE")
	overrideString(&cfg.LLM.APIKey, "GEMINI_API_KEY")
	overrideString(&cfg.LLM.APIKey, "CYRUSS_LLM_API_KEY")
	overrideString(&cfg.LLM.Model, "CYRUSS_LLM_MODEL")
	overrideString(&cfg.LLM.Endpoint, "CYRUSS_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "CYRUSS_LLM_COMMAND")
	overrideString(&cfg.LLM.System, "CYRUSS_LLM_SYSTEM")
	overrideInt(&cfg.LLM.MaxTokens, "CYRUSS_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "CYRUSS_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "CYRUSS_LLM_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "CYRUSS_TTS_MODE")
	overrideString(&cfg.TTS.Command, "CYRUSS_TTS_COMMAND")
	overrideString(&cfg.TTS.Language, "CYRUSS_TTS_LANGUAGE")
	overrideString(&cfg.TTS.Voice, "CYRUSS_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "CYRUSS_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "CYRUSS_TTS_CHANNELS")
	overrideString(&cfg.TTS.GTTSBinary, "CYRUSS_TTS_GTTS_BINARY")
	overrideString(&cfg.TTS.FFmpegBinary, "CYRUSS_TTS_FFMPEG_BINARY")
	overrideInt(&cfg.TTS.TimeoutMS, "CYRUSS_TTS_TIMEOUT_MS")
	overrideString(&cfg.SitesFile, "CYRUSS_SITES_FILE")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return errors.New("log.format must be one of text|json")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.RateLimit < 0 {
		return errors.New("http.rate_limit_per_minute must be >= 0")
	}
	if _, err := cfg.HTTP.TrustedPrefixes(); err != nil {
		return err
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral":
	case "session", "persistent":
		if cfg.EventStore.Path == "" {
			return errors.New("event_store.path must not be empty")
		}
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Speech.MaxChunkSize <= 0 {
		return errors.New("speech.max_chunk_size must be positive")
	}
	if cfg.Speech.ChunkDelayMS < 0 {
		return errors.New("speech.chunk_delay_ms must be >= 0")
	}
	if cfg.Assistant.LoopDelayMS < 0 {
		return errors.New("assistant.loop_delay_ms must be >= 0")
	}
	switch cfg.STT.Source {
	case "microphone", "stdin":
	default:
		return errors.New("stt.source must be one of microphone|stdin")
	}
	switch cfg.STT.Mode {
	case "mock", "exec", "whisper":
	default:
		return errors.New("stt.mode must be one of mock|exec|whisper")
	}
	if cfg.STT.Source == "microphone" {
		if cfg.STT.SampleRate <= 0 {
			return errors.New("stt.sample_rate must be positive")
		}
		if cfg.STT.Channels <= 0 {
			return errors.New("stt.channels must be positive")
		}
		if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	}
	if cfg.STT.ListenTimeoutMS <= 0 {
		return errors.New("stt.listen_timeout_ms must be positive")
	}
	switch cfg.LLM.Mode {
	case "mock", "gemini", "ollama", "exec":
	default:
		return errors.New("llm.mode must be one of mock|gemini|ollama|exec")
	}
	if cfg.LLM.Mode == "gemini" && cfg.LLM.APIKey == "" {
		return errors.New("llm.api_key (or GEMINI_API_KEY) must be set when mode=gemini")
	}
	if cfg.LLM.Mode == "ollama" && cfg.LLM.Endpoint == "" {
		return errors.New("llm.endpoint must be set when mode=ollama")
	}
	if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when mode=exec")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock", "gtts", "exec":
	default:
		return errors.New("tts.mode must be one of mock|gtts|exec")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	for i, site := range cfg.Sites {
		if strings.TrimSpace(site.Name) == "" || strings.TrimSpace(site.URL) == "" {
			return fmt.Errorf("sites[%d] must have a name and url", i)
		}
	}
	return nil
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
