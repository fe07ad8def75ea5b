// Package models defines core data structures for chat sessions, uploaded files, and indexed chunks.
package models

import "time"

// File is an uploaded document. The blob lives in the object store and is addressed by URL.
type File struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	FileName  string    `json:"filename" db:"filename"`
	FileURL   string    `json:"file_url" db:"file_url"`
	FileType  string    `json:"file_type" db:"file_type"`
	FileSize  int64     `json:"file_size" db:"file_size"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ChatSession groups messages and linked files for one conversation.
type ChatSession struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Title     string    `json:"title" db:"title"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Message roles.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// ChatMessage is a single turn in a session.
type ChatMessage struct {
	ID        int64     `json:"id" db:"id"`
	SessionID int64     `json:"session_id" db:"session_id"`
	Role      string    `json:"role" db:"role"`
	Content   string    `json:"message" db:"message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Chunk is a retrievable window of a file's text together with its embedding.
// Chunks are written once at indexing time and never updated.
type Chunk struct {
	ID             string    `json:"id" db:"id"`
	SessionID      int64     `json:"session_id" db:"session_id"`
	FileID         int64     `json:"file_id" db:"file_id"`
	FileName       string    `json:"file_name" db:"file_name"`
	ChunkIndex     int       `json:"chunk_index" db:"chunk_index"`
	Text           string    `json:"text" db:"chunk_text"`
	Embedding      []float32 `json:"-" db:"embedding"`
	EmbeddingModel string    `json:"embedding_model" db:"embedding_model"`
	ChunkSize      int       `json:"chunk_size" db:"chunk_size"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
