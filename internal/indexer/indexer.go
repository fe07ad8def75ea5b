package indexer

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/blob"
	"github.com/hyperjump/bunsho/internal/extract"
	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/internal/storage"
	"github.com/hyperjump/bunsho/pkg/utils"
)

// BatchEmbedder embeds chunk texts in one call. *embedding.Client implements it.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// Indexer runs extract, chunk, embed, and store for one file. Every stage before the
// final InsertChunks is side-effect free, so a failure anywhere leaves no chunk rows.
type Indexer struct {
	store     storage.ChunkStore
	fetcher   blob.Fetcher
	extractor *extract.Extractor
	embedder  BatchEmbedder
	chunker   *Chunker
	logger    *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for indexing events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// NewIndexer creates an indexer with the given dependencies.
func NewIndexer(
	store storage.ChunkStore,
	fetcher blob.Fetcher,
	extractor *extract.Extractor,
	embedder BatchEmbedder,
	chunker *Chunker,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		store:     store,
		fetcher:   fetcher,
		extractor: extractor,
		embedder:  embedder,
		chunker:   chunker,
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = utils.OrNop(idx.logger)
	return idx
}

// Index resolves fileID, downloads its blob, and indexes it into sessionID.
// It returns the number of chunk rows written.
func (idx *Indexer) Index(ctx context.Context, sessionID, fileID int64) (int, error) {
	file, data, err := idx.load(ctx, fileID)
	if err != nil {
		return 0, err
	}
	return idx.IndexContent(ctx, sessionID, file, data)
}

// IndexContent indexes bytes the caller already holds for file.
func (idx *Indexer) IndexContent(ctx context.Context, sessionID int64, file *models.File, data []byte) (int, error) {
	chunks, skipped, err := idx.build(ctx, sessionID, file, data)
	if err != nil {
		return 0, err
	}
	return idx.write(ctx, sessionID, file, chunks, skipped)
}

// Reindex replaces the file's chunks with a fresh index of its stored blob. The blob is
// fetched, extracted, and embedded before the old chunks are dropped, so a failure in
// any of those steps keeps the previous chunks searchable.
func (idx *Indexer) Reindex(ctx context.Context, sessionID, fileID int64) (int, error) {
	file, data, err := idx.load(ctx, fileID)
	if err != nil {
		return 0, err
	}
	chunks, skipped, err := idx.build(ctx, sessionID, file, data)
	if err != nil {
		return 0, err
	}
	removed, err := idx.store.DeleteChunksByFile(ctx, fileID)
	if err != nil {
		return 0, fmt.Errorf("delete chunks of file %d: %w", fileID, err)
	}
	idx.logger.Debug("cleared chunks before reindex", zap.Int64("file_id", fileID), zap.Bool("removed", removed))
	return idx.write(ctx, sessionID, file, chunks, skipped)
}

func (idx *Indexer) load(ctx context.Context, fileID int64) (*models.File, []byte, error) {
	file, err := idx.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve file %d: %w", fileID, err)
	}
	if file.FileURL == "" {
		return nil, nil, fmt.Errorf("%w: file %d has no URL", models.ErrNotFound, fileID)
	}
	data, err := idx.fetcher.Fetch(ctx, file.FileURL)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch file %d: %w", fileID, err)
	}
	return file, data, nil
}

// build extracts, chunks, and embeds data without touching the store. skipped counts
// chunks dropped for a missing embedding.
func (idx *Indexer) build(ctx context.Context, sessionID int64, file *models.File, data []byte) ([]*models.Chunk, int, error) {
	ext := extract.ExtensionOf(file.FileName)
	if !extract.Supported(ext) {
		if urlExt := extract.ExtensionOf(file.FileURL); extract.Supported(urlExt) {
			ext = urlExt
		}
	}
	text, err := idx.extractor.ExtractBytes(ctx, data, ext)
	if err != nil {
		return nil, 0, fmt.Errorf("extract %s: %w", file.FileName, err)
	}
	if text == "" {
		return nil, 0, fmt.Errorf("%w: %s", models.ErrExtractionEmpty, file.FileName)
	}

	texts := idx.chunker.Split(text)
	if len(texts) == 0 {
		return nil, 0, fmt.Errorf("%w: %s", models.ErrExtractionEmpty, file.FileName)
	}

	vectors, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, 0, fmt.Errorf("embed %s: %w", file.FileName, err)
	}
	if len(vectors) != len(texts) {
		return nil, 0, fmt.Errorf("%w: %d vectors for %d chunks of %s",
			models.ErrBatchMismatch, len(vectors), len(texts), file.FileName)
	}

	model := idx.embedder.ModelName()
	chunks := make([]*models.Chunk, 0, len(texts))
	for i, t := range texts {
		if len(vectors[i]) == 0 {
			idx.logger.Warn("skipping chunk with missing embedding",
				zap.Int64("file_id", file.ID), zap.Int("chunk_index", i))
			continue
		}
		chunks = append(chunks, &models.Chunk{
			ID:             uuid.NewString(),
			SessionID:      sessionID,
			FileID:         file.ID,
			FileName:       file.FileName,
			ChunkIndex:     i,
			Text:           t,
			Embedding:      vectors[i],
			EmbeddingModel: model,
			ChunkSize:      utf8.RuneCountInString(t),
		})
	}
	if len(chunks) == 0 {
		return nil, 0, fmt.Errorf("%w: no usable embeddings for %s", models.ErrBackendUnavailable, file.FileName)
	}
	return chunks, len(texts) - len(chunks), nil
}

func (idx *Indexer) write(ctx context.Context, sessionID int64, file *models.File, chunks []*models.Chunk, skipped int) (int, error) {
	written, err := idx.store.InsertChunks(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("%w: store chunks for %s: %w", models.ErrPersistenceFailure, file.FileName, err)
	}
	if written == 0 {
		return 0, fmt.Errorf("%w: %s", models.ErrPersistenceFailure, file.FileName)
	}
	idx.logger.Info("indexed file",
		zap.Int64("session_id", sessionID),
		zap.Int64("file_id", file.ID),
		zap.String("file", file.FileName),
		zap.Int("chunks", written),
		zap.Int("skipped", skipped),
	)
	return written, nil
}
