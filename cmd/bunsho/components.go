package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/blob"
	"github.com/hyperjump/bunsho/internal/chat"
	"github.com/hyperjump/bunsho/internal/config"
	"github.com/hyperjump/bunsho/internal/embedding"
	"github.com/hyperjump/bunsho/internal/extract"
	"github.com/hyperjump/bunsho/internal/indexer"
	"github.com/hyperjump/bunsho/internal/llm"
	"github.com/hyperjump/bunsho/internal/search"
	"github.com/hyperjump/bunsho/internal/storage"
)

// Components holds initialized services.
type Components struct {
	Storage   *storage.SQLiteStorage
	Embedding *embedding.Client
	Blobs     *blob.DiskStore
	Indexer   *indexer.Indexer
	Engine    *search.Engine
	Chat      *chat.Service
}

// Close releases the database and the embedding backend.
func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedding != nil {
		_ = c.Embedding.Close()
	}
}

// newEmbedder builds the configured backend. An ONNX model that fails to load is an
// error; only backend mock yields the mock embedder.
func newEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	e := cfg.Embedding
	switch e.Backend {
	case config.BackendHTTP:
		return embedding.NewHTTPEmbedder(embedding.HTTPConfig{
			BaseURL:           e.BaseURL,
			APIKey:            e.APIKey(),
			Model:             e.Model,
			Dimensions:        e.Dimensions,
			Timeout:           e.Timeout(),
			BatchSize:         e.BatchSize,
			RequestsPerSecond: e.RequestsPerSecond,
			MaxRetries:        e.MaxRetries,
		}), nil
	case config.BackendONNX:
		onnx, err := embedding.NewONNXEmbedder(embedding.ONNXConfig{
			ModelPath:  e.ModelPath,
			ModelName:  e.Model,
			Dimensions: e.Dimensions,
			MaxTokens:  e.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("load onnx model %s: %w", e.ModelPath, err)
		}
		return onnx, nil
	case config.BackendMock:
		return embedding.NewMockEmbedder(e.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", e.Backend)
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.Driver, cfg.Storage.DatabasePath, storage.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	blobs, err := blob.NewDiskStore(cfg.Storage.BlobDir, cfg.Storage.PublicBaseURL)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}
	backend, err := newEmbedder(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	client := embedding.NewClient(backend,
		embedding.WithRetry(cfg.Embedding.ConnectAttempts, cfg.Embedding.ConnectBackoff()),
		embedding.WithTimeout(cfg.Embedding.Timeout()),
		embedding.WithLogger(logger),
	)

	chunker, err := indexer.NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	extractor := extract.NewExtractor(extract.WithLogger(logger))
	fetcher := blob.NewHTTPFetcher(cfg.Fetch.Timeout(), cfg.Fetch.MaxBytes)
	idx := indexer.NewIndexer(store, fetcher, extractor, client, chunker, indexer.WithLogger(logger))

	retriever := search.NewRetriever(store, search.WithDefaultTopK(cfg.Retrieval.TopK), search.WithLogger(logger))
	engine := search.NewEngine(client, retriever)

	completer := llm.NewOpenAIClient(llm.Config{
		BaseURL:           cfg.Completion.BaseURL,
		APIKey:            cfg.Completion.APIKey(),
		Model:             cfg.Completion.Model,
		Temperature:       cfg.Completion.Temperature,
		TopP:              cfg.Completion.TopP,
		MaxTokens:         cfg.Completion.MaxTokens,
		Timeout:           cfg.Completion.Timeout(),
		RequestsPerSecond: cfg.Completion.RequestsPerSecond,
	})
	svc := chat.NewService(store, blobs, idx, engine, completer,
		chat.WithAnswerTopK(cfg.Retrieval.AnswerTopK),
		chat.WithMaxUploadBytes(cfg.Server.MaxUploadBytes()),
		chat.WithLogger(logger),
	)

	return &Components{
		Storage:   store,
		Embedding: client,
		Blobs:     blobs,
		Indexer:   idx,
		Engine:    engine,
		Chat:      svc,
	}, nil
}

// connect probes the embedding backend in the foreground for one-shot commands.
func (c *Components) connect(ctx context.Context) error {
	if !c.Embedding.Connect(ctx) {
		return fmt.Errorf("embedding backend %s is not reachable", c.Embedding.ModelName())
	}
	return nil
}
