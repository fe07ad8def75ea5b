// Package storage defines the persistence interfaces for sessions, files, messages, and chunks.
package storage

import (
	"context"

	"github.com/hyperjump/bunsho/internal/models"
)

// ChunkReader loads the chunks a session can retrieve from.
type ChunkReader interface {
	GetChunksBySession(ctx context.Context, sessionID int64) ([]*models.Chunk, error)
}

// ChunkStore is the narrow surface the indexer writes through.
type ChunkStore interface {
	ChunkReader

	// GetFile returns models.ErrNotFound when no file has fileID.
	GetFile(ctx context.Context, fileID int64) (*models.File, error)
	// InsertChunks writes all chunks in one transaction and returns the rows written.
	InsertChunks(ctx context.Context, chunks []*models.Chunk) (int, error)
	// DeleteChunksByFile reports whether any chunk was removed.
	DeleteChunksByFile(ctx context.Context, fileID int64) (bool, error)
	GetChunksByFile(ctx context.Context, fileID int64) ([]*models.Chunk, error)
}

// Store is the full persistence surface used by the chat service.
type Store interface {
	ChunkStore

	// Session operations
	CreateSession(ctx context.Context, session *models.ChatSession) error
	GetSession(ctx context.Context, id int64) (*models.ChatSession, error)
	ListSessions(ctx context.Context, userID int64) ([]*models.ChatSession, error)
	FindEmptySession(ctx context.Context, userID int64) (*models.ChatSession, error)
	RenameSession(ctx context.Context, id int64, title string) (*models.ChatSession, error)
	DeleteSession(ctx context.Context, id int64) error

	// Message operations
	AddMessage(ctx context.Context, msg *models.ChatMessage) error
	ListMessages(ctx context.Context, sessionID int64) ([]*models.ChatMessage, error)

	// File operations
	CreateFile(ctx context.Context, file *models.File) error
	LinkFile(ctx context.Context, sessionID, fileID int64) error
	IsFileLinked(ctx context.Context, sessionID, fileID int64) (bool, error)
	ListFiles(ctx context.Context, sessionID int64) ([]*models.File, error)
	DeleteFile(ctx context.Context, fileID int64) error

	Close() error
}
