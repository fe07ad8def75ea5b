package embedding

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/pkg/utils"
	"go.uber.org/zap"
)

// Readiness probe defaults.
const (
	DefaultConnectAttempts = 10
	DefaultConnectBackoff  = time.Second
	DefaultCallTimeout     = 30 * time.Second
)

// Client guards an Embedder behind a readiness flag. It is built once at startup,
// probed with Connect, and shared by every request handler. Until a probe succeeds,
// calls fail immediately with models.ErrBackendUnavailable.
type Client struct {
	backend  Embedder
	attempts int
	backoff  time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	ready    atomic.Bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetry sets the readiness probe budget.
func WithRetry(attempts int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.attempts = attempts
		c.backoff = backoff
	}
}

// WithTimeout bounds each embedding call.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger used for probe failures.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient wraps backend. The client starts not ready.
func NewClient(backend Embedder, opts ...ClientOption) *Client {
	c := &Client{
		backend:  backend,
		attempts: DefaultConnectAttempts,
		backoff:  DefaultConnectBackoff,
		timeout:  DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.attempts <= 0 {
		c.attempts = 1
	}
	c.logger = utils.OrNop(c.logger)
	return c
}

// Connect probes the backend up to the retry budget, pausing between attempts, and
// logs every failure. It reports whether the client is ready afterwards.
func (c *Client) Connect(ctx context.Context) bool {
	for attempt := 1; attempt <= c.attempts; attempt++ {
		err := c.probe(ctx)
		if err == nil {
			c.ready.Store(true)
			c.logger.Info("embedding backend ready",
				zap.String("model", c.backend.ModelName()), zap.Int("attempt", attempt))
			return true
		}
		c.logger.Warn("embedding backend probe failed",
			zap.Int("attempt", attempt), zap.Int("max_attempts", c.attempts), zap.Error(err))
		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			c.logger.Error("embedding backend probe cancelled", zap.Error(ctx.Err()))
			return false
		case <-time.After(c.backoff):
		}
	}
	c.ready.Store(false)
	c.logger.Error("embedding backend unavailable; calls will fail fast", zap.Int("attempts", c.attempts))
	return false
}

func (c *Client) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if p, ok := c.backend.(Pinger); ok {
		return p.Ping(ctx)
	}
	vecs, err := c.backend.EmbedBatch(ctx, []string{"ping"})
	if err != nil {
		return err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return fmt.Errorf("probe returned %d vectors", len(vecs))
	}
	return nil
}

// Ready reports whether the last probe succeeded. Safe for concurrent use.
func (c *Client) Ready() bool {
	return c.ready.Load()
}

// EmbedBatch embeds texts in one backend call. The result is returned as the backend
// produced it; callers compare its length to the input.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if !c.Ready() {
		return nil, models.ErrBackendUnavailable
	}
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	vecs, err := c.backend.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrBackendUnavailable, err)
	}
	return vecs, nil
}

// EmbedQuery embeds a single text as a batch of one.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for 1 query", models.ErrBatchMismatch, len(vecs))
	}
	if len(vecs[0]) == 0 {
		return nil, fmt.Errorf("%w: empty query embedding", models.ErrBackendUnavailable)
	}
	return vecs[0], nil
}

// ModelName returns the backend's model identifier.
func (c *Client) ModelName() string {
	return c.backend.ModelName()
}

// Dimensions returns the backend's configured dimensionality (0 if unknown).
func (c *Client) Dimensions() int {
	return c.backend.Dimensions()
}

// Close releases the backend.
func (c *Client) Close() error {
	c.ready.Store(false)
	return c.backend.Close()
}
