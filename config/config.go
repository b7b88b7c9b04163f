// Package config loads service configuration from a YAML file with
// BANKFLOW_* environment overrides. Precedence: defaults, then file, then
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendMemory           = "memory"
	BackendEmbedded         = "embedded"
	BackendSharedRelational = "shared-relational"
	BackendSharedCache      = "shared-cache"
)

// Classifier providers.
const (
	ProviderRules            = "rules"
	ProviderOpenAI           = "openai"
	ProviderOpenAICompatible = "openai-compatible"
	ProviderAnthropic        = "anthropic"
	ProviderGemini           = "gemini"
)

// HIL configures the approval gate.
type HIL struct {
	Threshold      float64 `yaml:"threshold"`
	AutoApprove    bool    `yaml:"auto_approve"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// Confidence configures the classifier confidence gate.
type Confidence struct {
	Threshold float64 `yaml:"threshold"`
}

// Downstream configures the banking collaborator client.
type Downstream struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// Storage selects the checkpoint/session/approval backend.
type Storage struct {
	// Backend is one of memory, embedded (SQLite), shared-relational
	// (MySQL), or shared-cache (Redis).
	Backend string `yaml:"backend"`

	// PathOrURL is the SQLite path, MySQL DSN, or Redis URL depending on
	// the backend.
	PathOrURL string `yaml:"path_or_url"`
}

// Facade configures the HTTP surface.
type Facade struct {
	DedupWindowMS int `yaml:"dedup_window_ms"`
}

// Classifier selects the intent classification provider.
type Classifier struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`

	// BaseURL is used by the openai-compatible provider (e.g. an Ollama
	// endpoint).
	BaseURL string `yaml:"base_url"`
}

// Log configures the event emitter.
type Log struct {
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Config is the full service configuration.
type Config struct {
	Listen     string     `yaml:"listen"`
	HIL        HIL        `yaml:"hil"`
	Confidence Confidence `yaml:"confidence"`
	Downstream Downstream `yaml:"downstream"`
	Storage    Storage    `yaml:"storage"`
	Facade     Facade     `yaml:"facade"`
	Classifier Classifier `yaml:"classifier"`
	Log        Log        `yaml:"log"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Listen: ":8000",
		HIL: HIL{
			Threshold:      5000,
			AutoApprove:    false,
			TimeoutSeconds: 3600,
		},
		Confidence: Confidence{Threshold: 0.80},
		Downstream: Downstream{
			BaseURL:   "http://localhost:8081",
			TimeoutMS: 60000,
		},
		Storage: Storage{
			Backend:   BackendEmbedded,
			PathOrURL: "bankflow.db",
		},
		Facade:     Facade{DedupWindowMS: 60000},
		Classifier: Classifier{Provider: ProviderRules},
		Log:        Log{Format: "text"},
	}
}

// Load reads the YAML file at path (skipped when path is empty), applies
// BANKFLOW_* environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Listen, "BANKFLOW_LISTEN")
	setFloat(&c.HIL.Threshold, "BANKFLOW_HIL_THRESHOLD")
	setBool(&c.HIL.AutoApprove, "BANKFLOW_HIL_AUTO_APPROVE")
	setInt(&c.HIL.TimeoutSeconds, "BANKFLOW_HIL_TIMEOUT_SECONDS")
	setFloat(&c.Confidence.Threshold, "BANKFLOW_CONFIDENCE_THRESHOLD")
	setString(&c.Downstream.BaseURL, "BANKFLOW_DOWNSTREAM_BASE_URL")
	setInt(&c.Downstream.TimeoutMS, "BANKFLOW_DOWNSTREAM_TIMEOUT_MS")
	setString(&c.Storage.Backend, "BANKFLOW_STORAGE_BACKEND")
	setString(&c.Storage.PathOrURL, "BANKFLOW_STORAGE_PATH_OR_URL")
	setInt(&c.Facade.DedupWindowMS, "BANKFLOW_FACADE_DEDUP_WINDOW_MS")
	setString(&c.Classifier.Provider, "BANKFLOW_CLASSIFIER_PROVIDER")
	setString(&c.Classifier.Model, "BANKFLOW_CLASSIFIER_MODEL")
	setString(&c.Classifier.APIKey, "BANKFLOW_CLASSIFIER_API_KEY")
	setString(&c.Classifier.BaseURL, "BANKFLOW_CLASSIFIER_BASE_URL")
	setString(&c.Log.Format, "BANKFLOW_LOG_FORMAT")
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	if c.HIL.Threshold < 0 {
		return fmt.Errorf("hil.threshold must be non-negative, got %v", c.HIL.Threshold)
	}
	if c.Confidence.Threshold < 0 || c.Confidence.Threshold > 1 {
		return fmt.Errorf("confidence.threshold must be in [0,1], got %v", c.Confidence.Threshold)
	}
	if c.Downstream.TimeoutMS <= 0 {
		return fmt.Errorf("downstream.timeout_ms must be positive, got %d", c.Downstream.TimeoutMS)
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendEmbedded, BackendSharedRelational, BackendSharedCache:
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Classifier.Provider {
	case ProviderRules, ProviderOpenAI, ProviderOpenAICompatible, ProviderAnthropic, ProviderGemini:
	default:
		return fmt.Errorf("unknown classifier.provider %q", c.Classifier.Provider)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}

// DownstreamTimeout returns the per-call downstream timeout.
func (c Config) DownstreamTimeout() time.Duration {
	return time.Duration(c.Downstream.TimeoutMS) * time.Millisecond
}

// DedupWindow returns the facade replay-detection window.
func (c Config) DedupWindow() time.Duration {
	return time.Duration(c.Facade.DedupWindowMS) * time.Millisecond
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
