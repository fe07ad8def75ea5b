// Package config provides configuration loading and structs for the bunsho server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Completion CompletionConfig `yaml:"completion"`
	Fetch      FetchConfig      `yaml:"fetch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	MaxUploadMB        int    `yaml:"max_upload_mb"`
	RequestTimeoutSecs int    `yaml:"request_timeout_secs"`
}

// MaxUploadBytes returns the upload cap in bytes.
func (s ServerConfig) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) << 20
}

// RequestTimeout returns the per-request handler timeout.
func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSecs) * time.Second
}

// StorageConfig holds the database and blob locations.
type StorageConfig struct {
	// Driver is "sqlite3" (mattn, cgo) or "sqlite" (modernc, pure Go).
	Driver       string `yaml:"driver"`
	DatabasePath string `yaml:"database_path"`
	BlobDir      string `yaml:"blob_dir"`
	// PublicBaseURL prefixes blob URLs handed out on upload.
	PublicBaseURL string `yaml:"public_base_url"`
}

// Embedding backends.
const (
	BackendHTTP = "http"
	BackendONNX = "onnx"
	BackendMock = "mock"
)

// EmbeddingConfig selects and tunes the embedding backend.
type EmbeddingConfig struct {
	Backend           string  `yaml:"backend"`
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Model             string  `yaml:"model"`
	Dimensions        int     `yaml:"dimensions"`
	MaxTokens         int     `yaml:"max_tokens"`
	ModelPath         string  `yaml:"model_path"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	BatchSize         int     `yaml:"batch_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxRetries        int     `yaml:"max_retries"` // negative disables HTTP retries
	ConnectAttempts   int     `yaml:"connect_attempts"`
	ConnectBackoffMS  int     `yaml:"connect_backoff_ms"`
}

// Timeout returns the per-call embedding timeout.
func (e EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSecs) * time.Second
}

// ConnectBackoff returns the pause between readiness probes.
func (e EmbeddingConfig) ConnectBackoff() time.Duration {
	return time.Duration(e.ConnectBackoffMS) * time.Millisecond
}

// APIKey resolves the key from the environment variable named by APIKeyEnv.
func (e EmbeddingConfig) APIKey() string {
	if e.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(e.APIKeyEnv)
}

// ChunkingConfig holds the word-window sizes.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// RetrievalConfig holds top-K defaults.
type RetrievalConfig struct {
	TopK       int `yaml:"top_k"`
	AnswerTopK int `yaml:"answer_top_k"`
}

// CompletionConfig configures the OpenAI-compatible chat completion service.
type CompletionConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Model             string  `yaml:"model"`
	Temperature       float64 `yaml:"temperature"`
	TopP              float64 `yaml:"top_p"`
	MaxTokens         int     `yaml:"max_tokens"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// Timeout returns the per-call completion timeout.
func (c CompletionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// APIKey resolves the key from the environment variable named by APIKeyEnv.
func (c CompletionConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// FetchConfig bounds blob downloads.
type FetchConfig struct {
	TimeoutSecs int   `yaml:"timeout_secs"`
	MaxBytes    int64 `yaml:"max_bytes"`
}

// Timeout returns the blob fetch timeout.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSecs) * time.Second
}

// LoadEnv loads KEY=value pairs from the given .env files into the process environment.
// Missing files are ignored; variables already set are not overridden.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// Load reads and parses the config file at path, expands paths, applies defaults and validates.
// Returns an error if the file cannot be read, parsed, or fails validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BlobDir = expandPath(cfg.Storage.BlobDir, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Validate checks settings that would otherwise fail later at runtime.
// An overlap that is not smaller than the chunk size would never advance the window.
func (c *Config) Validate() error {
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidConfig, c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk_overlap must not be negative, got %d", ErrInvalidConfig, c.Chunking.ChunkOverlap)
	}
	if c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap (%d) must be less than chunk_size (%d)",
			ErrInvalidConfig, c.Chunking.ChunkOverlap, c.Chunking.ChunkSize)
	}
	switch c.Storage.Driver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("%w: unknown storage driver %q", ErrInvalidConfig, c.Storage.Driver)
	}
	switch c.Embedding.Backend {
	case BackendHTTP, BackendONNX, BackendMock:
	default:
		return fmt.Errorf("%w: unknown embedding backend %q", ErrInvalidConfig, c.Embedding.Backend)
	}
	if c.Embedding.Backend == BackendONNX && c.Embedding.ModelPath == "" {
		return fmt.Errorf("%w: embedding.model_path is required for the onnx backend", ErrInvalidConfig)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
