package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledge-engine/chunkstore/internal/config"
)

var configKeys = []string{
	"STORE_BACKEND", "STORE_DIR", "STORE_FILE", "STORE_SKIP_CORRUPT_RECORDS", "STORE_DEFAULT_TOP_K",
	"API_ADDR", "API_READ_TIMEOUT", "API_WRITE_TIMEOUT",
	"LLM_PROVIDER", "LLM_BASE_URL", "LLM_MODEL", "LLM_API_KEY", "LLM_TIMEOUT",
	"CONTEXT_MAX_TOKENS", "CONTEXT_TOP_K", "CONTEXT_ENCODING",
	"FETCH_TIMEOUT", "FETCH_MIN_DELAY", "FETCH_USER_AGENT", "FETCH_RESPECT_ROBOTS", "FETCH_ROBOTS_CACHE",
	"LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv blanks every config variable for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultConfig(t *testing.T) {
	clearEnv(t)

	cfg := config.Load()

	assert.Equal(t, "jsonl", cfg.Store.Backend)
	assert.Equal(t, "storage", cfg.Store.Dir)
	assert.Equal(t, "", cfg.Store.File)
	assert.False(t, cfg.Store.SkipCorruptRecords)
	assert.Equal(t, 5, cfg.Store.DefaultTopK)

	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, 10*time.Second, cfg.API.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.API.WriteTimeout)

	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "qwen3:1.7b", cfg.LLM.Model)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)

	assert.Equal(t, 2000, cfg.Context.MaxTokens)
	assert.Equal(t, 3, cfg.Context.TopK)
	assert.Equal(t, "cl100k_base", cfg.Context.Encoding)

	assert.Equal(t, 15*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, time.Second, cfg.Fetch.MinDelay)
	assert.Equal(t, "chunkstore-ingest/1.0", cfg.Fetch.UserAgent)
	assert.True(t, cfg.Fetch.RespectRobots)
	assert.Equal(t, time.Hour, cfg.Fetch.RobotsCacheDuration)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfigFromEnv(t *testing.T) {
	clearEnv(t)
	envVars := map[string]string{
		"STORE_BACKEND":              "sqlite",
		"STORE_DIR":                  "/var/lib/chunks",
		"STORE_FILE":                 "index.db",
		"STORE_SKIP_CORRUPT_RECORDS": "true",
		"STORE_DEFAULT_TOP_K":        "8",
		"API_ADDR":                   "127.0.0.1:9090",
		"API_WRITE_TIMEOUT":          "2m",
		"LLM_PROVIDER":               "openai",
		"LLM_MODEL":                  "gpt-4o-mini",
		"LLM_API_KEY":                "sk-test",
		"CONTEXT_MAX_TOKENS":         "512",
		"FETCH_MIN_DELAY":            "250ms",
		"FETCH_RESPECT_ROBOTS":       "false",
		"LOG_FORMAT":                 "json",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg := config.Load()

	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "/var/lib/chunks", cfg.Store.Dir)
	assert.Equal(t, "index.db", cfg.Store.File)
	assert.True(t, cfg.Store.SkipCorruptRecords)
	assert.Equal(t, 8, cfg.Store.DefaultTopK)
	assert.Equal(t, "127.0.0.1:9090", cfg.API.Addr)
	assert.Equal(t, 2*time.Minute, cfg.API.WriteTimeout)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 512, cfg.Context.MaxTokens)
	assert.Equal(t, 250*time.Millisecond, cfg.Fetch.MinDelay)
	assert.False(t, cfg.Fetch.RespectRobots)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadWithEnvFile(t *testing.T) {
	clearEnv(t)
	for _, key := range configKeys {
		// godotenv only fills variables that are unset
		os.Unsetenv(key)
	}

	envFile := filepath.Join(t.TempDir(), ".env")
	content := "STORE_BACKEND=bolt\nCONTEXT_TOP_K=4\n# comment\nLOG_LEVEL=debug\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0644))
	t.Cleanup(func() {
		os.Unsetenv("STORE_BACKEND")
		os.Unsetenv("CONTEXT_TOP_K")
		os.Unsetenv("LOG_LEVEL")
	})

	cfg, err := config.LoadWithEnvFile(envFile)
	require.NoError(t, err)
	assert.Equal(t, "bolt", cfg.Store.Backend)
	assert.Equal(t, 4, cfg.Context.TopK)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadWithEnvFile_DoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", "sqlite")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("STORE_BACKEND=bolt\n"), 0644))

	cfg, err := config.LoadWithEnvFile(envFile)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
}

func TestLoadWithEnvFile_MissingFile(t *testing.T) {
	clearEnv(t)

	cfg, err := config.LoadWithEnvFile(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "jsonl", cfg.Store.Backend)
}

func TestGetStringEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		envValue     string
		defaultValue string
		expected     string
	}{
		{"Existing env var", "TEST_STRING", "test_value", "default", "test_value"},
		{"Empty env var", "EMPTY_VAR", "", "default", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.envValue)
			assert.Equal(t, tt.expected, config.GetStringEnv(tt.key, tt.defaultValue))
		})
	}
}

func TestGetIntEnv(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue int
		expected     int
	}{
		{"Valid int", "42", 10, 42},
		{"Invalid int", "not_a_number", 10, 10},
		{"Negative int", "-5", 10, -5},
		{"Zero", "0", 10, 0},
		{"Unset", "", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT", tt.envValue)
			assert.Equal(t, tt.expected, config.GetIntEnv("TEST_INT", tt.defaultValue))
		})
	}
}

func TestGetFloatEnv(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue float64
		expected     float64
	}{
		{"Valid float", "0.25", 1, 0.25},
		{"Integer", "3", 1, 3},
		{"Invalid float", "abc", 1.5, 1.5},
		{"Unset", "", 1.5, 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_FLOAT", tt.envValue)
			assert.Equal(t, tt.expected, config.GetFloatEnv("TEST_FLOAT", tt.defaultValue))
		})
	}
}

func TestGetBoolEnv(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		expected     bool
	}{
		{"True string", "true", false, true},
		{"False string", "false", true, false},
		{"1 (true)", "1", false, true},
		{"0 (false)", "0", true, false},
		{"Invalid bool", "invalid", true, true},
		{"Unset", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.envValue)
			assert.Equal(t, tt.expected, config.GetBoolEnv("TEST_BOOL", tt.defaultValue))
		})
	}
}

func TestGetDurationEnv(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue time.Duration
		expected     time.Duration
	}{
		{"Seconds", "5s", time.Second, 5 * time.Second},
		{"Minutes", "10m", time.Second, 10 * time.Minute},
		{"Combined", "1h30m", time.Second, 90 * time.Minute},
		{"Invalid duration", "invalid", 5 * time.Second, 5 * time.Second},
		{"Unset", "", 10 * time.Second, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.envValue)
			assert.Equal(t, tt.expected, config.GetDurationEnv("TEST_DURATION", tt.defaultValue))
		})
	}
}
