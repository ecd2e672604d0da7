package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// GeminiOpenAIBaseURL is Gemini's OpenAI-compatible endpoint.
const GeminiOpenAIBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// Config holds all configuration for newsrag.
type Config struct {
	Loader    LoaderConfig    `yaml:"loader"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieve  RetrieveConfig  `yaml:"retrieve"`
	Synth     SynthConfig     `yaml:"synth"`
	Retry     RetryConfig     `yaml:"retry"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// LoaderConfig holds page fetching configuration.
type LoaderConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	Workers   int           `yaml:"workers"`
	MaxBytes  int64         `yaml:"max_bytes"`
	UserAgent string        `yaml:"user_agent"`
	Excludes  []string      `yaml:"excludes"` // doublestar globs matched against host/path
}

// IndexConfig holds chunking configuration.
type IndexConfig struct {
	ChunkSize int `yaml:"chunk_size"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"` // "openai" (any compatible endpoint) or "mock"
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Dimension         int           `yaml:"dimension"` // 0 = learn from the first response
	BatchSize         int           `yaml:"batch_size"`
	Workers           int           `yaml:"workers"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 = unlimited
}

// LLMConfig holds text generation configuration.
type LLMConfig struct {
	Provider    string        `yaml:"provider"` // "openai" or "mock"
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	TopK      int           `yaml:"top_k"`
	MMRLambda float64       `yaml:"mmr_lambda"` // 0 or 1 disables diversification
	MinScore  float64       `yaml:"min_score"`  // 0 disables the threshold
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	// NeighborWindow pulls in up to this many adjacent chunks of each hit.
	NeighborWindow int `yaml:"neighbor_window"`
	// HyDE searches with a model-written hypothetical answer as well.
	HyDE bool `yaml:"hyde"`
}

// SynthConfig holds answer synthesis configuration.
type SynthConfig struct {
	ContextTokenBudget int `yaml:"context_token_budget"`
}

// RetryConfig is the retry policy shared by the embedding and LLM clients.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
	Jitter         float64       `yaml:"jitter"`
}

// StorageConfig holds snapshot location configuration.
type StorageConfig struct {
	DataDir     string        `yaml:"data_dir"`
	SnapshotDir string        `yaml:"snapshot_dir"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// MetricsConfig holds metrics export configuration.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path"` // empty disables the export
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Loader: LoaderConfig{
			Timeout:   30 * time.Second,
			Workers:   4,
			MaxBytes:  5 << 20,
			UserAgent: "newsrag/1.0 (+https://github.com/newsrag)",
		},
		Index: IndexConfig{
			ChunkSize: 1000,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-004",
			BaseURL:   GeminiOpenAIBaseURL,
			APIKeyEnv: "GOOGLE_API_KEY",
			BatchSize: 100,
			Workers:   2,
			Timeout:   60 * time.Second,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gemini-1.5-pro",
			BaseURL:     GeminiOpenAIBaseURL,
			APIKeyEnv:   "GOOGLE_API_KEY",
			Temperature: 0.9,
			Timeout:     120 * time.Second,
		},
		Retrieve: RetrieveConfig{
			TopK:      4,
			CacheSize: 64,
			CacheTTL:  10 * time.Minute,
		},
		Synth: SynthConfig{
			ContextTokenBudget: 6000,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     8 * time.Second,
			Multiplier:     2,
			Jitter:         0.2,
		},
		Storage: StorageConfig{
			DataDir:     ".newsrag",
			SnapshotDir: "embeddings",
			LockTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for newsrag.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "newsrag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".newsrag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	cfg := DefaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from a .env file in dir into the
// process environment. Existing variables win; a missing file is not an error.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate reports the first setting that would make the pipeline unusable.
func (c *Config) Validate() error {
	switch {
	case c.Index.ChunkSize <= 0:
		return errors.New("index.chunk_size must be positive")
	case c.Retrieve.TopK <= 0:
		return errors.New("retrieve.top_k must be positive")
	case c.Loader.Timeout <= 0:
		return errors.New("loader.timeout must be positive")
	case c.Embedding.Timeout <= 0 || c.LLM.Timeout <= 0:
		return errors.New("embedding.timeout and llm.timeout must be positive")
	case c.Retry.MaxAttempts <= 0:
		return errors.New("retry.max_attempts must be positive")
	case c.Retrieve.MMRLambda < 0 || c.Retrieve.MMRLambda > 1:
		return errors.New("retrieve.mmr_lambda must be within [0, 1]")
	case c.Retrieve.NeighborWindow < 0:
		return errors.New("retrieve.neighbor_window must not be negative")
	}
	return nil
}

// APIKey returns the credential named by envName.
func APIKey(envName string) (string, error) {
	key := os.Getenv(envName)
	if key == "" {
		return "", fmt.Errorf("API key not found in environment variable: %s", envName)
	}
	return key, nil
}

// SnapshotPath returns the directory holding the persisted vector index.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.Storage.DataDir, c.Storage.SnapshotDir)
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("NEWSRAG_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("NEWSRAG_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("NEWSRAG_CHUNK_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NEWSRAG_CHUNK_SIZE: %w", err)
		}
		c.Index.ChunkSize = n
	}
	if v := os.Getenv("NEWSRAG_TOP_K"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NEWSRAG_TOP_K: %w", err)
		}
		c.Retrieve.TopK = n
	}
	if v := os.Getenv("NEWSRAG_FETCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("NEWSRAG_FETCH_TIMEOUT: %w", err)
		}
		c.Loader.Timeout = d
	}
	if v := os.Getenv("NEWSRAG_RETRY_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NEWSRAG_RETRY_MAX_ATTEMPTS: %w", err)
		}
		c.Retry.MaxAttempts = n
	}
	return nil
}
