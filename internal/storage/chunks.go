package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/models"
)

// embeddingSchema is the stored shape of an embedding: a non-empty array of numbers.
const embeddingSchema = `{
	"type": "array",
	"minItems": 1,
	"items": {"type": "number"}
}`

const chunkColumns = `id, session_id, file_id, file_name, chunk_index, chunk_text, embedding,
	embedding_model, chunk_size, created_at`

// InsertChunks writes chunks in a single transaction. Missing IDs are generated.
// Either every chunk is written or none is.
func (s *SQLiteStorage) InsertChunks(ctx context.Context, chunks []*models.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO file_chunks (id, session_id, file_id, file_name, chunk_index, chunk_text, embedding,
		 embedding_dim, embedding_model, chunk_size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	written := 0
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return 0, fmt.Errorf("%w: chunk %d of file %d has no embedding", models.ErrInvalidInput, c.ChunkIndex, c.FileID)
		}
		emb, err := json.Marshal(c.Embedding)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal embedding: %w", err)
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.CreatedAt = now
		res, err := stmt.ExecContext(ctx,
			c.ID, c.SessionID, c.FileID, c.FileName, c.ChunkIndex, c.Text, string(emb),
			len(c.Embedding), c.EmbeddingModel, c.ChunkSize, formatTime(now),
		)
		if err != nil {
			return 0, fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
		n, _ := res.RowsAffected()
		written += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

// DeleteChunksByFile removes every chunk of a file.
func (s *SQLiteStorage) DeleteChunksByFile(ctx context.Context, fileID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM file_chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetChunksBySession returns the session's chunks ordered by file and chunk_index.
func (s *SQLiteStorage) GetChunksBySession(ctx context.Context, sessionID int64) ([]*models.Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM file_chunks WHERE session_id = ? ORDER BY file_id, chunk_index`, sessionID)
}

// GetChunksByFile returns a file's chunks ordered by chunk_index.
func (s *SQLiteStorage) GetChunksByFile(ctx context.Context, fileID int64) ([]*models.Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM file_chunks WHERE file_id = ? ORDER BY chunk_index`, fileID)
}

func (s *SQLiteStorage) queryChunks(ctx context.Context, query string, arg int64) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		var c models.Chunk
		var emb, created string
		if err := rows.Scan(&c.ID, &c.SessionID, &c.FileID, &c.FileName, &c.ChunkIndex, &c.Text, &emb,
			&c.EmbeddingModel, &c.ChunkSize, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTime(created)
		vec, err := s.decodeEmbedding(emb)
		if err != nil {
			s.logger.Warn("skipping malformed stored embedding",
				zap.String("chunk_id", c.ID), zap.Int64("file_id", c.FileID), zap.Error(err))
		}
		c.Embedding = vec
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// decodeEmbedding validates the stored JSON against embeddingSchema before decoding it.
func (s *SQLiteStorage) decodeEmbedding(raw string) ([]float32, error) {
	result, err := s.embedding.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid embedding JSON: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("embedding does not match schema: %s", strings.Join(msgs, "; "))
	}
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	return vec, nil
}
