// Package search ranks a session's stored chunks against a query embedding.
package search

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/internal/storage"
	"github.com/hyperjump/bunsho/internal/vector"
	"github.com/hyperjump/bunsho/pkg/utils"
)

// DefaultTopK is used when a caller passes topK <= 0.
const DefaultTopK = 5

// Retriever loads every chunk of a session on each call and ranks it by cosine
// similarity. Nothing is cached between calls.
type Retriever struct {
	store       storage.ChunkReader
	defaultTopK int
	logger      *zap.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithDefaultTopK overrides DefaultTopK.
func WithDefaultTopK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.defaultTopK = k
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// NewRetriever creates a retriever reading from store.
func NewRetriever(store storage.ChunkReader, opts ...Option) *Retriever {
	r := &Retriever{store: store, defaultTopK: DefaultTopK}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = utils.OrNop(r.logger)
	return r
}

// Search returns at most topK chunks of the session by descending similarity to query.
// Chunks whose embedding is missing or has a different dimension than query are left
// out. An empty query, an empty session, or one with no comparable chunk yields an
// empty result.
// Equal scores keep the store's order (file, then chunk_index).
func (r *Retriever) Search(ctx context.Context, sessionID int64, query []float32, topK int) ([]*models.ScoredChunk, error) {
	results := []*models.ScoredChunk{}
	if len(query) == 0 {
		return results, nil
	}
	if topK <= 0 {
		topK = r.defaultTopK
	}
	chunks, err := r.store.GetChunksBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load chunks for session %d: %w", sessionID, err)
	}
	if len(chunks) == 0 {
		return results, nil
	}

	index, err := vector.NewMemoryIndex(len(query))
	if err != nil {
		return nil, err
	}
	for i, c := range chunks {
		index.Add(i, c.Embedding)
	}
	if skipped := len(chunks) - index.Size(); skipped > 0 {
		r.logger.Debug("excluded chunks with incompatible embeddings",
			zap.Int64("session_id", sessionID), zap.Int("skipped", skipped), zap.Int("dimensions", len(query)))
	}

	hits, err := index.Search(query, topK)
	if err != nil {
		return nil, err
	}
	for i, h := range hits {
		results = append(results, &models.ScoredChunk{Chunk: chunks[h.Pos], Score: h.Score, Rank: i + 1})
	}
	return results, nil
}
