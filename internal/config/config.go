package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the voice call engine.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	LogFormat        string
	LogLevel         string

	// Agent definition: a YAML file, or an id fetched from the backend.
	AgentFile string
	AgentID   string

	BackendURL   string
	BackendToken string

	ChannelURL        string
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	HandshakeTimeout  time.Duration

	CaptureDevice     string
	CaptureSampleRate int
	CaptureBlockSize  int

	PlaybackOutput string
	PlaybackDir    string
	ResumeDelay    time.Duration

	TurnQueueSize int
	TurnTimeout   time.Duration

	LLMProvider  string
	GeminiAPIKey string
	GeminiModel  string
	LLMHTTPURL   string

	TTSProvider         string
	ElevenLabsAPIKey    string
	ElevenLabsWSBaseURL string
	ElevenLabsTTSModel  string
	ElevenLabsOutFormat string
	DefaultVoiceID      string

	ToolTimeout           time.Duration
	SheetsMode            string
	SheetsCredentialsFile string

	DatabaseURL string
}

// Load reads an optional .env file, then environment variables, and applies
// safe defaults.
func Load() (Config, error) {
	if err := loadDotEnv(envOrDefault("VOXLINE_ENV_FILE", ".env")); err != nil {
		return Config{}, err
	}

	cfg := Config{
		BindAddr:              envOrDefault("VOXLINE_BIND_ADDR", "127.0.0.1:8090"),
		MetricsNamespace:      envOrDefault("VOXLINE_METRICS_NAMESPACE", "voxline"),
		LogFormat:             envOrDefault("VOXLINE_LOG_FORMAT", "json"),
		LogLevel:              envOrDefault("VOXLINE_LOG_LEVEL", "info"),
		AgentFile:             trimmedEnv("VOXLINE_AGENT_FILE"),
		AgentID:               trimmedEnv("VOXLINE_AGENT_ID"),
		BackendURL:            trimmedEnv("VOXLINE_BACKEND_URL"),
		BackendToken:          trimmedEnv("VOXLINE_BACKEND_TOKEN"),
		ChannelURL:            envOrDefault("VOXLINE_CHANNEL_URL", "ws://127.0.0.1:8765/ws/voice"),
		CaptureDevice:         envOrDefault("VOXLINE_CAPTURE_DEVICE", "silence"),
		CaptureSampleRate:     16000,
		CaptureBlockSize:      4096,
		PlaybackOutput:        envOrDefault("VOXLINE_PLAYBACK_OUTPUT", "discard"),
		PlaybackDir:           envOrDefault("VOXLINE_PLAYBACK_DIR", "playback"),
		TurnQueueSize:         4,
		LLMProvider:           envOrDefault("VOXLINE_LLM_PROVIDER", "auto"),
		GeminiAPIKey:          trimmedEnv("GEMINI_API_KEY"),
		GeminiModel:           envOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		LLMHTTPURL:            trimmedEnv("VOXLINE_LLM_HTTP_URL"),
		TTSProvider:           envOrDefault("VOXLINE_TTS_PROVIDER", "auto"),
		ElevenLabsAPIKey:      trimmedEnv("ELEVENLABS_API_KEY"),
		ElevenLabsWSBaseURL:   envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsTTSModel:    envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		// Raw PCM keeps playback decoder-free.
		ElevenLabsOutFormat:   envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "pcm_16000"),
		DefaultVoiceID:        envOrDefault("VOXLINE_DEFAULT_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		SheetsMode:            envOrDefault("VOXLINE_SHEETS_MODE", "backend"),
		SheetsCredentialsFile: trimmedEnv("GOOGLE_APPLICATION_CREDENTIALS"),
		DatabaseURL:           trimmedEnv("DATABASE_URL"),
		ShutdownTimeout:       10 * time.Second,
		HeartbeatInterval:     30 * time.Second,
		ReconnectDelay:        2 * time.Second,
		HandshakeTimeout:      10 * time.Second,
		ResumeDelay:           150 * time.Millisecond,
		TurnTimeout:           45 * time.Second,
		ToolTimeout:           15 * time.Second,
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"VOXLINE_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"VOXLINE_HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval},
		{"VOXLINE_RECONNECT_DELAY", &cfg.ReconnectDelay},
		{"VOXLINE_HANDSHAKE_TIMEOUT", &cfg.HandshakeTimeout},
		{"VOXLINE_RESUME_DELAY", &cfg.ResumeDelay},
		{"VOXLINE_TURN_TIMEOUT", &cfg.TurnTimeout},
		{"VOXLINE_TOOL_TIMEOUT", &cfg.ToolTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}
	if cfg.CaptureSampleRate, err = intFromEnv("VOXLINE_CAPTURE_SAMPLE_RATE", cfg.CaptureSampleRate); err != nil {
		return Config{}, err
	}
	if cfg.CaptureBlockSize, err = intFromEnv("VOXLINE_CAPTURE_BLOCK_SIZE", cfg.CaptureBlockSize); err != nil {
		return Config{}, err
	}
	if cfg.TurnQueueSize, err = intFromEnv("VOXLINE_TURN_QUEUE_SIZE", cfg.TurnQueueSize); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("VOXLINE_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise fail deep inside a call.
func (c Config) Validate() error {
	if c.HeartbeatInterval < time.Second {
		return fmt.Errorf("VOXLINE_HEARTBEAT_INTERVAL must be at least 1s")
	}
	if c.ReconnectDelay < 0 {
		return fmt.Errorf("VOXLINE_RECONNECT_DELAY must be >= 0")
	}
	if c.CaptureSampleRate <= 0 {
		return fmt.Errorf("VOXLINE_CAPTURE_SAMPLE_RATE must be positive")
	}
	if c.CaptureBlockSize <= 0 {
		return fmt.Errorf("VOXLINE_CAPTURE_BLOCK_SIZE must be positive")
	}
	if c.TurnQueueSize <= 0 {
		return fmt.Errorf("VOXLINE_TURN_QUEUE_SIZE must be positive")
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("VOXLINE_TURN_TIMEOUT must be positive")
	}
	switch strings.ToLower(c.SheetsMode) {
	case "backend", "google":
	default:
		return fmt.Errorf("VOXLINE_SHEETS_MODE must be backend or google, got %q", c.SheetsMode)
	}
	return nil
}

func loadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	// Existing environment wins over the file.
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
