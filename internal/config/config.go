package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the configuration for the chunk store service
type Config struct {
	Store   StoreConfig
	API     APIConfig
	LLM     LLMConfig
	Context ContextConfig
	Fetch   FetchConfig
	Log     LogConfig
}

// StoreConfig selects and tunes the chunk persistence backend
type StoreConfig struct {
	Backend            string
	Dir                string
	File               string
	SkipCorruptRecords bool
	DefaultTopK        int
}

type APIConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LLMConfig struct {
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// ContextConfig bounds how much retrieved text is handed to the LLM
type ContextConfig struct {
	MaxTokens int
	TopK      int
	Encoding  string
}

// FetchConfig controls how documentation pages are downloaded for import
type FetchConfig struct {
	Timeout             time.Duration
	MinDelay            time.Duration
	UserAgent           string
	RespectRobots       bool
	RobotsCacheDuration time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:            GetStringEnv("STORE_BACKEND", "jsonl"),
			Dir:                GetStringEnv("STORE_DIR", "storage"),
			File:               GetStringEnv("STORE_FILE", ""),
			SkipCorruptRecords: GetBoolEnv("STORE_SKIP_CORRUPT_RECORDS", false),
			DefaultTopK:        GetIntEnv("STORE_DEFAULT_TOP_K", 5),
		},
		API: APIConfig{
			Addr:         GetStringEnv("API_ADDR", ":8080"),
			ReadTimeout:  GetDurationEnv("API_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: GetDurationEnv("API_WRITE_TIMEOUT", 60*time.Second),
		},
		LLM: LLMConfig{
			Provider: GetStringEnv("LLM_PROVIDER", "ollama"),
			BaseURL:  GetStringEnv("LLM_BASE_URL", ""),
			Model:    GetStringEnv("LLM_MODEL", "qwen3:1.7b"),
			APIKey:   GetStringEnv("LLM_API_KEY", ""),
			Timeout:  GetDurationEnv("LLM_TIMEOUT", 60*time.Second),
		},
		Context: ContextConfig{
			MaxTokens: GetIntEnv("CONTEXT_MAX_TOKENS", 2000),
			TopK:      GetIntEnv("CONTEXT_TOP_K", 3),
			Encoding:  GetStringEnv("CONTEXT_ENCODING", "cl100k_base"),
		},
		Fetch: FetchConfig{
			Timeout:             GetDurationEnv("FETCH_TIMEOUT", 15*time.Second),
			MinDelay:            GetDurationEnv("FETCH_MIN_DELAY", 1*time.Second),
			UserAgent:           GetStringEnv("FETCH_USER_AGENT", "chunkstore-ingest/1.0"),
			RespectRobots:       GetBoolEnv("FETCH_RESPECT_ROBOTS", true),
			RobotsCacheDuration: GetDurationEnv("FETCH_ROBOTS_CACHE", time.Hour),
		},
		Log: LogConfig{
			Level:  GetStringEnv("LOG_LEVEL", "info"),
			Format: GetStringEnv("LOG_FORMAT", "text"),
		},
	}
}

// LoadWithEnvFile reads envFile into the process environment (without
// overriding variables that are already set) and then calls Load.
// A missing env file is not an error.
func LoadWithEnvFile(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}
	return Load(), nil
}

func GetStringEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func GetBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func GetDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
