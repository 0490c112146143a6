// Package config loads this service's environment-variable configuration
// table (spec §6's "Configuration (environment)" table), grounded on this
// codebase's own config-loading stack: github.com/joho/godotenv for an
// optional .env file (see cmd/ideapanel/main.go) and
// github.com/go-playground/validator/v10 for struct-tag validation of the
// assembled result, the same validator this codebase's schema registry
// uses. This replaces an earlier YAML agent/chain/MCP-server registry
// loader this codebase once had — see DESIGN.md for why that structure
// has no counterpart here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/ideapanel/ideapanel/pkg/store"
)

// Config is the assembled, validated process configuration.
type Config struct {
	Database store.Config

	LLMModel    string `validate:"required"`
	ExpandModel string `validate:"required"`
	ReviewModel string `validate:"required"`

	ExpandTemperature float64 `validate:"gte=0,lte=1"`
	ReviewTemperature float64 `validate:"gte=0,lte=1"`

	MaxRetriesPerPersona   int     `validate:"gte=1,lte=10"`
	RetryInitialBackoff    float64 `validate:"gte=0.1,lte=60"`
	RetryBackoffMultiplier float64 `validate:"gte=1,lte=10"`

	PersonaTemplateVersion string `validate:"required"`

	WorkerMaxConcurrency int           `validate:"gte=1,lte=1000"`
	WorkerAckDeadline    time.Duration `validate:"required"`
	WorkerStepTimeout    time.Duration `validate:"required"`
	WorkerJobTimeout     time.Duration `validate:"required"`

	RerunConfidenceThreshold float64 `validate:"gte=0,lte=1"`
}

// Load reads an optional .env file (silently skipped if absent), then the
// recognized environment variables with typed defaults, and validates the
// assembled Config. A validation failure is a startup error, matching
// models.ValidatePersonaWeights' "violation is fatal at startup" posture.
func Load() (*Config, error) {
	_ = godotenv.Load()

	llmModel := getEnv("LLM_MODEL", "claude-opus-5")
	cfg := &Config{
		Database: store.Config{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "ideapanel"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "ideapanel"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 10*time.Minute),
		},

		LLMModel:    llmModel,
		ExpandModel: getEnv("EXPAND_MODEL", llmModel),
		ReviewModel: getEnv("REVIEW_MODEL", llmModel),

		ExpandTemperature: getEnvFloat("EXPAND_TEMPERATURE", 0.7),
		ReviewTemperature: getEnvFloat("REVIEW_TEMPERATURE", 0.2),

		MaxRetriesPerPersona:   getEnvInt("MAX_RETRIES_PER_PERSONA", 3),
		RetryInitialBackoff:    getEnvFloat("RETRY_INITIAL_BACKOFF_SECONDS", 1.0),
		RetryBackoffMultiplier: getEnvFloat("RETRY_BACKOFF_MULTIPLIER", 2),

		PersonaTemplateVersion: getEnv("PERSONA_TEMPLATE_VERSION", "1.0.0"),

		WorkerMaxConcurrency: getEnvInt("WORKER_MAX_CONCURRENCY", 10),
		WorkerAckDeadline:    getEnvDuration("WORKER_ACK_DEADLINE_SECONDS", 300*time.Second),
		WorkerStepTimeout:    getEnvDuration("WORKER_STEP_TIMEOUT_SECONDS", 300*time.Second),
		WorkerJobTimeout:     getEnvDuration("WORKER_JOB_TIMEOUT_SECONDS", 3600*time.Second),

		RerunConfidenceThreshold: getEnvFloat("RERUN_CONFIDENCE_THRESHOLD", 0.70),
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	seconds, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return time.Duration(seconds * float64(time.Second))
}
