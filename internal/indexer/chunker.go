// Package indexer turns an uploaded file into persisted, embedded chunks.
package indexer

import (
	"fmt"
	"strings"

	"github.com/hyperjump/bunsho/internal/models"
)

// Chunker splits text into overlapping word windows.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in words).
// The overlap must be smaller than the size or the window would never advance.
func NewChunker(chunkSize, chunkOverlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", models.ErrInvalidInput, chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d",
			models.ErrInvalidInput, chunkSize, chunkOverlap)
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

// Split returns windows of chunkSize whitespace-delimited words, each starting
// chunkSize-overlap words after the previous one. The last window may be shorter.
// Empty or whitespace-only text yields no chunks.
func (c *Chunker) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	step := c.chunkSize - c.chunkOverlap
	chunks := make([]string, 0, len(words)/step+1)
	for start := 0; start < len(words); start += step {
		end := start + c.chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
