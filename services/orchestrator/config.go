// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianCurator/services/llm"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/adapters/record"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/evaluation"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/pipeline"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/prompt"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/tools"
)

// =============================================================================
// Configuration
// =============================================================================

// Environment variable names.
const (
	EnvConfigFile = "CURATOR_CONFIG"
	EnvAPIToken   = "CURATOR_API_TOKEN"
)

// DefaultPort is the HTTP port of the curator service.
const DefaultPort = 12220

// ErrInvalidConfig is returned when a required setting is invalid.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds curator service configuration.
//
// # Description
//
// Values come from DefaultConfig, then an optional YAML file named by
// CURATOR_CONFIG, then environment variables. Everything is fixed once
// New returns.
//
// Tunables (thresholds, bounds, timeouts) that fail validation are reset
// to their defaults with a warning. Any other invalid value fails New.
//
// # Examples
//
//	// Programmatic, for tests
//	cfg := Config{LLMBackend: "ollama", RecordServiceURL: "http://records:8000"}
//
//	// From the environment
//	cfg, err := LoadConfig()
type Config struct {
	// Port is the HTTP server port. Default: 12220
	Port int `yaml:"port" validate:"min=1,max=65535"`

	// GinMode is "debug", "release" or "test". Empty leaves gin's default.
	GinMode string `yaml:"gin_mode" validate:"omitempty,oneof=debug release test"`

	// LLMBackend is "openai", "local" or "ollama". Default: "openai"
	LLMBackend    string `yaml:"llm_backend" validate:"oneof=openai local ollama"`
	OpenAIModel   string `yaml:"openai_model"`
	OpenAIBaseURL string `yaml:"openai_base_url" validate:"omitempty,url"`
	LocalBaseURL  string `yaml:"local_llm_base_url" validate:"omitempty,url"`
	OllamaBaseURL string `yaml:"ollama_base_url" validate:"omitempty,url"`
	OllamaModel   string `yaml:"ollama_model"`

	// EvaluationModel and EnhancementModel override the model name for the
	// judge and rewrite calls. Empty uses the backend's model.
	EvaluationModel  string `yaml:"evaluation_model"`
	EnhancementModel string `yaml:"enhancement_model"`

	EvaluationThreshold float64       `yaml:"evaluation_threshold" validate:"gt=0,lte=1"`
	MaxDispatchRounds   int           `yaml:"max_dispatch_rounds" validate:"min=1,max=20"`
	HistoryWindow       int           `yaml:"history_window" validate:"min=1,max=50"`
	InferenceTimeout    time.Duration `yaml:"inference_timeout" validate:"gt=0"`
	ToolTimeout         time.Duration `yaml:"tool_timeout" validate:"gt=0"`
	EvaluationTimeout   time.Duration `yaml:"evaluation_timeout" validate:"gt=0"`

	// GuardrailLexicon is a YAML lexicon path. Empty uses the embedded one.
	GuardrailLexicon string `yaml:"guardrail_lexicon"`

	RecordServiceURL string  `yaml:"record_service_url" validate:"required,url"`
	RecordAPIVersion string  `yaml:"record_api_version" validate:"required,alphanum"`
	RecordRateLimit  float64 `yaml:"record_rate_limit" validate:"gte=0"`

	// WeaviateURL and EmbeddingURL enable the semantic and aggregation
	// tools. Both must be set.
	WeaviateURL   string `yaml:"weaviate_url" validate:"omitempty,url"`
	WeaviateClass string `yaml:"weaviate_class" validate:"required,alphanum"`
	EmbeddingURL  string `yaml:"embedding_url" validate:"omitempty,url"`

	// AuditDBPath is the badger directory. Empty keeps the log in memory.
	AuditDBPath string `yaml:"audit_db_path"`

	// SessionIdleTimeout evicts sessions idle for longer. Zero disables it.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout" validate:"gte=0"`

	// OTelEndpoint enables OTLP/gRPC trace export.
	OTelEndpoint string `yaml:"otel_endpoint"`

	// TraceStdout prints spans and metrics to stdout when no endpoint is set.
	TraceStdout bool `yaml:"trace_stdout"`

	// APIToken, when set, protects /v1. Only ever read from the environment.
	APIToken *memguard.Enclave `yaml:"-"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Port:                DefaultPort,
		LLMBackend:          "openai",
		OpenAIModel:         llm.DefaultOpenAIModel,
		LocalBaseURL:        llm.DefaultLocalBaseURL,
		OllamaModel:         llm.DefaultOllamaModel,
		EvaluationThreshold: datatypes.DefaultEvaluationThreshold,
		MaxDispatchRounds:   pipeline.DefaultMaxDispatchRounds,
		HistoryWindow:       prompt.DefaultHistoryTurns,
		InferenceTimeout:    pipeline.DefaultInferenceTimeout,
		ToolTimeout:         tools.DefaultToolTimeout,
		EvaluationTimeout:   evaluation.DefaultTimeout,
		RecordServiceURL:    record.DefaultBaseURL,
		RecordAPIVersion:    record.DefaultAPIVersion,
		RecordRateLimit:     20,
		WeaviateClass:       datatypes.DefaultWatchHistoryClass,
		SessionIdleTimeout:  30 * time.Minute,
	}
}

// LoadConfig builds a Config from defaults, the CURATOR_CONFIG file and
// the environment, in that order of precedence (environment wins).
//
// # Outputs
//
//   - Config: Not yet validated; New validates it.
//   - error: Non-nil when the config file cannot be read or parsed.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	if token := os.Getenv(EnvAPIToken); token != "" {
		cfg.APIToken = memguard.NewEnclave([]byte(token))
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	slog.Info("Loaded config file", "path", path)
	return nil
}

// applyEnv overlays environment variables on cfg.
func applyEnv(cfg *Config) {
	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.GinMode = getEnvString("GIN_MODE", cfg.GinMode)

	cfg.LLMBackend = getEnvString("LLM_BACKEND", cfg.LLMBackend)
	cfg.OpenAIModel = getEnvString("OPENAI_MODEL", cfg.OpenAIModel)
	cfg.OpenAIBaseURL = getEnvString("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.LocalBaseURL = getEnvString("LOCAL_LLM_BASE_URL", cfg.LocalBaseURL)
	cfg.OllamaBaseURL = getEnvString("OLLAMA_BASE_URL", cfg.OllamaBaseURL)
	cfg.OllamaModel = getEnvString("OLLAMA_MODEL", cfg.OllamaModel)
	cfg.EvaluationModel = getEnvString("EVALUATION_MODEL", cfg.EvaluationModel)
	cfg.EnhancementModel = getEnvString("ENHANCEMENT_MODEL", cfg.EnhancementModel)

	cfg.EvaluationThreshold = getEnvFloat("EVALUATION_THRESHOLD", cfg.EvaluationThreshold)
	cfg.MaxDispatchRounds = getEnvInt("MAX_DISPATCH_ROUNDS", cfg.MaxDispatchRounds)
	cfg.HistoryWindow = getEnvInt("HISTORY_WINDOW", cfg.HistoryWindow)
	cfg.InferenceTimeout = getEnvDuration("INFERENCE_TIMEOUT", cfg.InferenceTimeout)
	cfg.ToolTimeout = getEnvDuration("TOOL_TIMEOUT", cfg.ToolTimeout)
	cfg.EvaluationTimeout = getEnvDuration("EVALUATION_TIMEOUT", cfg.EvaluationTimeout)

	cfg.GuardrailLexicon = getEnvString("GUARDRAIL_LEXICON", cfg.GuardrailLexicon)

	cfg.RecordServiceURL = getEnvString("RECORD_SERVICE_URL", cfg.RecordServiceURL)
	cfg.RecordAPIVersion = getEnvString("RECORD_API_VERSION", cfg.RecordAPIVersion)
	cfg.RecordRateLimit = getEnvFloat("RECORD_RATE_LIMIT", cfg.RecordRateLimit)

	cfg.WeaviateURL = strings.Trim(getEnvString("WEAVIATE_SERVICE_URL", cfg.WeaviateURL), "\"' ")
	cfg.WeaviateClass = getEnvString("WEAVIATE_CLASS", cfg.WeaviateClass)
	cfg.EmbeddingURL = getEnvString("EMBEDDING_SERVICE_URL", cfg.EmbeddingURL)

	cfg.AuditDBPath = getEnvString("AUDIT_DB_PATH", cfg.AuditDBPath)
	cfg.SessionIdleTimeout = getEnvDuration("SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)

	cfg.OTelEndpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTelEndpoint)
	cfg.TraceStdout = getEnvBool("CURATOR_TRACE_STDOUT", cfg.TraceStdout)
}

// applyConfigDefaults fills zero-valued fields from DefaultConfig.
//
// SessionIdleTimeout is left alone so that zero keeps eviction off.
func applyConfigDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.Port == 0 {
		cfg.Port = d.Port
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = d.LLMBackend
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = d.OpenAIModel
	}
	if cfg.LocalBaseURL == "" {
		cfg.LocalBaseURL = d.LocalBaseURL
	}
	if cfg.OllamaModel == "" {
		cfg.OllamaModel = d.OllamaModel
	}
	if cfg.EvaluationThreshold == 0 {
		cfg.EvaluationThreshold = d.EvaluationThreshold
	}
	if cfg.MaxDispatchRounds == 0 {
		cfg.MaxDispatchRounds = d.MaxDispatchRounds
	}
	if cfg.HistoryWindow == 0 {
		cfg.HistoryWindow = d.HistoryWindow
	}
	if cfg.InferenceTimeout == 0 {
		cfg.InferenceTimeout = d.InferenceTimeout
	}
	if cfg.ToolTimeout == 0 {
		cfg.ToolTimeout = d.ToolTimeout
	}
	if cfg.EvaluationTimeout == 0 {
		cfg.EvaluationTimeout = d.EvaluationTimeout
	}
	if cfg.RecordServiceURL == "" {
		cfg.RecordServiceURL = d.RecordServiceURL
	}
	if cfg.RecordAPIVersion == "" {
		cfg.RecordAPIVersion = d.RecordAPIVersion
	}
	if cfg.WeaviateClass == "" {
		cfg.WeaviateClass = d.WeaviateClass
	}
	return cfg
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// validateConfig checks cfg against its struct tags.
//
// # Description
//
// Invalid tunables are reset to their default with a warning. Any other
// failing field is collected into an ErrInvalidConfig error.
//
// # Outputs
//
//   - Config: cfg with invalid tunables replaced.
//   - error: Wraps ErrInvalidConfig and names every invalid required field.
func validateConfig(cfg Config) (Config, error) {
	err := configValidator.Struct(cfg)
	if err == nil {
		return cfg, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	d := DefaultConfig()
	var fatal []string
	for _, fe := range verrs {
		if resetTunable(&cfg, d, fe.StructField()) {
			slog.Warn("Invalid tunable, using default",
				"field", fe.StructField(),
				"value", fmt.Sprint(fe.Value()),
				"rule", fe.Tag())
			continue
		}
		fatal = append(fatal, fmt.Sprintf("%s (%s)", fe.StructField(), fe.Tag()))
	}
	if len(fatal) > 0 {
		return cfg, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fatal, ", "))
	}
	return cfg, nil
}

// resetTunable copies the default of a tunable field into cfg. It reports
// false for fields that are not tunables.
func resetTunable(cfg *Config, d Config, field string) bool {
	switch field {
	case "EvaluationThreshold":
		cfg.EvaluationThreshold = d.EvaluationThreshold
	case "MaxDispatchRounds":
		cfg.MaxDispatchRounds = d.MaxDispatchRounds
	case "HistoryWindow":
		cfg.HistoryWindow = d.HistoryWindow
	case "InferenceTimeout":
		cfg.InferenceTimeout = d.InferenceTimeout
	case "ToolTimeout":
		cfg.ToolTimeout = d.ToolTimeout
	case "EvaluationTimeout":
		cfg.EvaluationTimeout = d.EvaluationTimeout
	case "RecordRateLimit":
		cfg.RecordRateLimit = d.RecordRateLimit
	case "SessionIdleTimeout":
		cfg.SessionIdleTimeout = d.SessionIdleTimeout
	default:
		return false
	}
	return true
}

// =============================================================================
// Environment Helpers
// =============================================================================

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("Ignoring non-integer environment value", "key", key, "value", value)
		return defaultValue
	}
	return intVal
}

// getEnvFloat returns the environment variable as float64 or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		slog.Warn("Ignoring non-numeric environment value", "key", key, "value", value)
		return defaultValue
	}
	return f
}

// getEnvDuration accepts Go durations ("45s") or plain seconds ("45").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	slog.Warn("Ignoring invalid duration environment value", "key", key, "value", value)
	return defaultValue
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		slog.Warn("Ignoring non-boolean environment value", "key", key, "value", value)
		return defaultValue
	}
	return b
}
