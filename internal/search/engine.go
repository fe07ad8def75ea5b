package search

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/bunsho/internal/models"
)

// QueryEmbedder embeds a single query text. *embedding.Client implements it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Engine answers text queries: it embeds the query and hands the vector to a Retriever.
type Engine struct {
	embedder  QueryEmbedder
	retriever *Retriever
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(embedder QueryEmbedder, retriever *Retriever) *Engine {
	return &Engine{embedder: embedder, retriever: retriever}
}

// Search validates query, embeds it, and returns the ranked chunks of the session.
func (e *Engine) Search(ctx context.Context, sessionID int64, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := query.Validate(); err != nil {
		return nil, err
	}
	vec, err := e.embedder.EmbedQuery(ctx, query.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := e.retriever.Search(ctx, sessionID, vec, query.TopK)
	if err != nil {
		return nil, err
	}
	return &models.SearchResponse{
		SessionID: sessionID,
		Query:     query.Query,
		Results:   results,
		Total:     len(results),
		QueryTime: time.Since(startTime).Milliseconds(),
	}, nil
}
