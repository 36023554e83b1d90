// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const devSecretKey = "super_secret_key_123"

// Config holds all application configuration.
type Config struct {
	Port               string
	FrontendURL        string
	DBPath             string
	LogLevel           slog.Level
	SecretKey          string
	TokenTTL           time.Duration
	SerializeChatTurns bool
	LLM                LLMConfig
	Memory             MemoryConfig
	RateLimit          RateLimitConfig
}

// LLMConfig controls the chat model and embedding client.
type LLMConfig struct {
	Provider       string // "gemini" or "echo"
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxRetries     int
	Timeout        time.Duration
}

// MemoryConfig controls the long-term memory index and its background writer.
type MemoryConfig struct {
	Dir          string // empty = in-memory index
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
}

// RateLimitConfig bounds how often a single user may send chat messages.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_URL", "./data/chat.db")
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		DBPath:             dbPath,
		LogLevel:           parseLevel(getEnv("LOG_LEVEL", "info")),
		SecretKey:          getEnv("SECRET_KEY", ""),
		TokenTTL:           time.Duration(getEnvInt("ACCESS_TOKEN_EXPIRE_MINUTES", 10)) * time.Minute,
		SerializeChatTurns: getEnvBool("SERIALIZE_CHAT_TURNS", true),
		LLM: LLMConfig{
			Provider:       strings.ToLower(getEnv("LLM_PROVIDER", "gemini")),
			APIKey:         getEnv("GOOGLE_API_KEY", ""),
			Model:          getEnv("LLM_MODEL", "gemini-2.5-flash"),
			EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-004"),
			Temperature:    getEnvFloat32("LLM_TEMPERATURE", 0.7),
			MaxRetries:     getEnvInt("LLM_MAX_RETRIES", 2),
			Timeout:        getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		},
		Memory: MemoryConfig{
			Dir:          getEnv("MEMORY_DIR", "./data/chroma_db"),
			QueueSize:    getEnvInt("MEMORY_QUEUE_SIZE", 256),
			Workers:      getEnvInt("MEMORY_WORKERS", 2),
			WriteTimeout: getEnvDuration("MEMORY_WRITE_TIMEOUT", 15*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if cfg.SecretKey == "" && cfg.IsDevelopment() {
		cfg.SecretKey = devSecretKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("SECRET_KEY is required outside development")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be > 0")
	}
	switch c.LLM.Provider {
	case "gemini":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("GOOGLE_API_KEY is required for LLM_PROVIDER=gemini")
		}
	case "echo":
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLM.Provider)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES must be >= 0")
	}
	if c.Memory.QueueSize <= 0 {
		return fmt.Errorf("MEMORY_QUEUE_SIZE must be > 0")
	}
	if c.Memory.Workers <= 0 {
		return fmt.Errorf("MEMORY_WORKERS must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat32(key string, fallback float32) float32 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 32)
	if err != nil {
		return fallback
	}
	return float32(f)
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
