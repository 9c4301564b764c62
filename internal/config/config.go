// Package config loads editor settings from .env and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds the full application configuration.
type Config struct {
	App     AppConfig
	Backend BackendConfig
	Editor  EditorConfig
}

// AppConfig selects the environment and the optional log file.
type AppConfig struct {
	Environment string `validate:"oneof=development production test"`
	LogFilePath string
}

// BackendConfig locates the generation host and bounds its requests.
type BackendConfig struct {
	BaseURL        string        `validate:"required,url"`
	RequestTimeout time.Duration `validate:"gt=0"`
	CacheTTL       time.Duration `validate:"gt=0"`
}

// EditorConfig holds editor defaults.
type EditorConfig struct {
	PreviewMaxDimension int     `validate:"min=16,max=4096"`
	CandidateCount      int     `validate:"min=1,max=100"`
	BrushSize           float64 `validate:"min=1,max=100"`
	BrushColor          string  `validate:"omitempty,hexcolor"`
}

// IsProduction reports whether the production environment is selected.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// Load reads .env (if present) then the environment, applies defaults and validates.
func Load() (*Config, error) {
	// a missing .env is normal; the environment alone is enough
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds the configuration from the current environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Environment: getEnv("IR_ENV", "development"),
			LogFilePath: getEnv("IR_LOG_FILE", ""),
		},
		Backend: BackendConfig{
			BaseURL:        getEnv("IR_BACKEND_URL", "http://127.0.0.1:8188"),
			RequestTimeout: getEnvAsDuration("IR_REQUEST_TIMEOUT", 10*time.Minute),
			CacheTTL:       getEnvAsDuration("IR_CACHE_TTL", 30*time.Minute),
		},
		Editor: EditorConfig{
			PreviewMaxDimension: getEnvAsInt("IR_PREVIEW_MAX", 300),
			CandidateCount:      getEnvAsInt("IR_CANDIDATES", 3),
			BrushSize:           getEnvAsFloat("IR_BRUSH_SIZE", 10),
			BrushColor:          getEnv("IR_BRUSH_COLOR", ""),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}
