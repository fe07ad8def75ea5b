package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Defaults for the OpenAI-compatible backend.
const (
	DefaultHTTPBaseURL   = "http://localhost:11434/v1"
	DefaultHTTPModel     = "all-MiniLM-L6-v2"
	DefaultHTTPTimeout   = 30 * time.Second
	DefaultHTTPBatchSize = 64
)

// HTTPEmbedder calls POST {base}/embeddings on an OpenAI-compatible server
// (OpenAI, Ollama, llama.cpp, text-embeddings-inference).
type HTTPEmbedder struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	batchSize  int
	maxRetries int
	limiter    *rate.Limiter
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewHTTPEmbedder returns an embedder for cfg, filling unset fields with defaults.
func NewHTTPEmbedder(cfg HTTPConfig) *HTTPEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultHTTPBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultHTTPModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultHTTPTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultHTTPBatchSize
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &HTTPEmbedder{
		client:     &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// Embed embeds a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embeddings: got %d vectors for 1 input", len(vecs))
	}
	return vecs[0], nil
}

// EmbedBatch sends texts in sub-batches of at most batchSize. Vectors are ordered by
// the response's index field; a null embedding is returned as a nil vector. If the
// server returns fewer entries than inputs the result is shorter than texts.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.post(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *HTTPEmbedder) post(ctx context.Context, input []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingsRequest{Model: e.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	for attempt := 0; ; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		vecs, retryAfter, err := e.do(ctx, body)
		if err == nil {
			return vecs, nil
		}
		if retryAfter < 0 || attempt >= e.maxRetries {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryAfter):
		}
	}
}

// do performs one request. retryAfter >= 0 marks a retryable failure (429 or 5xx).
func (e *HTTPEmbedder) do(ctx context.Context, body []byte) (vecs [][]float32, retryAfter time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, -1, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, -1, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, -1, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, retryDelay(resp.Header.Get("Retry-After")), fmt.Errorf("embeddings failed: %s", resp.Status)
	}
	if resp.StatusCode >= 300 {
		return nil, -1, fmt.Errorf("embeddings failed: %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}
	var parsed embeddingsResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, -1, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, -1, fmt.Errorf("embeddings error: %s", parsed.Error.Message)
	}
	sort.SliceStable(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	vecs = make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		vecs[i] = d.Embedding
	}
	return vecs, 0, nil
}

func retryDelay(header string) time.Duration {
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return 500 * time.Millisecond
}

// Dimensions returns the configured dimensionality, 0 if not configured.
func (e *HTTPEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelName returns the requested model.
func (e *HTTPEmbedder) ModelName() string {
	return e.model
}

// Close releases idle connections.
func (e *HTTPEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
