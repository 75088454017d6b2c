package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the top-level application configuration.
type Config struct {
	Database   DatabaseConfig            `yaml:"database"`
	Directories DirectoryConfig          `yaml:"directories"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Pipeline   PipelineConfig            `yaml:"pipeline"`
	RateLimit  RateLimitConfig           `yaml:"rate_limit"`
	RAG        RAGConfig                 `yaml:"rag"`
}

// DatabaseConfig holds state-store connection settings. When URL is empty
// the pipeline falls back to an in-memory store (useful for tests and for
// single-shot local runs).
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// DirectoryConfig overrides the default data-root-relative stage directories.
// Names are fixed relative to DataRoot per the directory layout contract;
// only the root itself is configurable.
type DirectoryConfig struct {
	DataRoot string `yaml:"data_root"`
}

// ProviderConfig holds LLM provider settings, keyed by provider name.
type ProviderConfig struct {
	Type   string `yaml:"type"`    // "openai" | "genai"
	URL    string `yaml:"url"`     // base URL (openai-shaped providers)
	APIKey string `yaml:"api_key"` // API key
	Model  string `yaml:"model"`   // default model id
}

// PipelineConfig holds config-file counterparts of the setting-key contract
// (batch.size, document_cleaner.use_ai, document_cleaner.min_chars_for_ai)
// plus a worker count. No stage reads these fields; stages read those keys
// from the state store's pipeline settings.
type PipelineConfig struct {
	BatchSize              int `yaml:"batch_size"`
	DocumentCleanerUseAI   bool `yaml:"document_cleaner_use_ai"`
	DocumentCleanerMinChars int `yaml:"document_cleaner_min_chars_for_ai"`
	Workers                int `yaml:"workers"`
}

// RateLimitConfig holds PROCESS-stage LLM rate-limit discipline settings.
type RateLimitConfig struct {
	MinIntervalSeconds float64 `yaml:"min_interval_seconds"`
	BaseBackoffSeconds float64 `yaml:"base_backoff_seconds"`
	MaxBackoffSeconds  float64 `yaml:"max_backoff_seconds"`
	MaxRetries         int     `yaml:"max_retries"`
	ProcessBatchSize   int     `yaml:"process_batch_size"`
}

// RAGConfig holds INDEX-stage vector store settings.
type RAGConfig struct {
	Backend         string  `yaml:"backend"` // "sqlitevec" | "qdrant"
	Dimensions      int     `yaml:"dimensions"`
	IndexKind       string  `yaml:"index_kind"` // "exact" | "ivf" | "hierarchical"
	Path            string  `yaml:"path"`       // sqlitevec file path
	QdrantAddr      string  `yaml:"qdrant_addr"`
	Collection      string  `yaml:"collection"`
	EmbeddingModel  string  `yaml:"embedding_model"`
	EmbeddingAPIKey string  `yaml:"embedding_api_key"`
	HybridAlpha     float64 `yaml:"hybrid_alpha"`
	FrameworkDir    string  `yaml:"framework_dir"`
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Directories: DirectoryConfig{DataRoot: "."},
		Providers:   map[string]ProviderConfig{},
		Pipeline: PipelineConfig{
			BatchSize:               500,
			DocumentCleanerUseAI:    false,
			DocumentCleanerMinChars: 1000,
			Workers:                 1,
		},
		RateLimit: RateLimitConfig{
			MinIntervalSeconds: 3,
			BaseBackoffSeconds: 2,
			MaxBackoffSeconds:  60,
			MaxRetries:         5,
			ProcessBatchSize:   2,
		},
		RAG: RAGConfig{
			Backend:        "sqlitevec",
			Dimensions:     768,
			IndexKind:      "exact",
			Path:           "data/rag_index.db",
			Collection:     "spmedge",
			EmbeddingModel: "text-embedding-004",
			HybridAlpha:    0.5,
			FrameworkDir:   "framework",
		},
	}
}

// Load reads a YAML configuration file at path and returns a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}

	return cfg, nil
}

// LoadDefault tries to load "config.yaml" from the current directory.
// If the file does not exist, it returns sensible defaults.
// Any other error (e.g. permission denied, malformed YAML) is returned.
func LoadDefault() (*Config, error) {
	cfg, err := Load("config.yaml")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults(), nil
		}
		return nil, err
	}
	return cfg, nil
}
