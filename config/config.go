// Package config loads the service configuration from a .env file and
// environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultSystemPrompt = "You are a casual voice assistant. Keep replies " +
	"conversational and spoken-style: no markdown, no lists, no formatted text."

// Config holds all process-level settings. It is read once at startup and
// never mutated afterwards.
type Config struct {
	Port string

	// LLM backend (DashScope OpenAI-compatible endpoint).
	DashScopeAPIKey string
	LLMModel        string
	SystemPrompt    string

	// TTS backend selection: "dashscope" or "yandex".
	TTSBackend string
	TTSModel   string
	TTSVoice   string

	// Yandex SpeechKit credentials, required when TTSBackend is "yandex".
	YandexAPIKey   string
	YandexFolderID string

	// Audio pipeline.
	AudioFormat  string // "mp3" or "pcm"
	AudioBackend string // "portaudio" or "none"
	SampleRate   int

	// Session policy.
	PreemptOnStart   bool
	StopTimeout      time.Duration
	StreamMaxRetries int

	Logging LoggingConfig
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// Load reads configuration from .env (if present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8001"),
		DashScopeAPIKey:  getEnv("DASHSCOPE_API_KEY", ""),
		LLMModel:         getEnv("LLM_MODEL", "qwen-plus"),
		SystemPrompt:     getEnv("SYSTEM_PROMPT", defaultSystemPrompt),
		TTSBackend:       getEnv("TTS_BACKEND", "dashscope"),
		TTSModel:         getEnv("TTS_MODEL", "cosyvoice-v2"),
		TTSVoice:         getEnv("TTS_VOICE", "longhua_v2"),
		YandexAPIKey:     getEnv("YANDEX_API_KEY", ""),
		YandexFolderID:   getEnv("YANDEX_FOLDER_ID", ""),
		AudioFormat:      getEnv("AUDIO_FORMAT", "mp3"),
		AudioBackend:     getEnv("AUDIO_BACKEND", "portaudio"),
		SampleRate:       getEnvInt("SAMPLE_RATE", 22050),
		PreemptOnStart:   getEnvBool("PREEMPT_ON_START", true),
		StopTimeout:      time.Duration(getEnvInt("STOP_TIMEOUT_MS", 3000)) * time.Millisecond,
		StreamMaxRetries: getEnvInt("STREAM_MAX_RETRIES", 3),
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DashScopeAPIKey == "" {
		return fmt.Errorf("DASHSCOPE_API_KEY is not set")
	}
	switch c.TTSBackend {
	case "dashscope":
	case "yandex":
		if c.YandexAPIKey == "" || c.YandexFolderID == "" {
			return fmt.Errorf("YANDEX_API_KEY and YANDEX_FOLDER_ID must be set for the yandex TTS backend")
		}
	default:
		return fmt.Errorf("unknown TTS backend %q", c.TTSBackend)
	}
	switch c.AudioFormat {
	case "mp3", "pcm":
	default:
		return fmt.Errorf("unknown audio format %q", c.AudioFormat)
	}
	switch c.AudioBackend {
	case "portaudio", "none":
	default:
		return fmt.Errorf("unknown audio backend %q", c.AudioBackend)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.StreamMaxRetries < 1 {
		return fmt.Errorf("STREAM_MAX_RETRIES must be at least 1, got %d", c.StreamMaxRetries)
	}
	return nil
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
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
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
