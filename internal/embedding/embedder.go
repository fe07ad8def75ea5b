// Package embedding maps text to fixed-dimension vectors through a pluggable backend.
package embedding

import (
	"context"
	"time"
)

// Embedder produces vector embeddings for text. EmbedBatch returns one vector per
// input in input order; a backend may return a nil vector for an input it could not embed.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	Close() error
}

// Pinger is implemented by backends with a cheaper readiness check than a real embed call.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ONNXConfig configures the local ONNX Runtime backend.
type ONNXConfig struct {
	ModelPath  string
	ModelName  string
	Dimensions int
	MaxTokens  int
}

// HTTPConfig configures an OpenAI-compatible embeddings endpoint.
type HTTPConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Dimensions        int
	Timeout           time.Duration
	BatchSize         int
	RequestsPerSecond float64
	MaxRetries        int
}
