// Package blob stores uploaded file bytes and fetches them back by URL.
package blob

import "context"

// Store persists blobs and returns a URL that Fetcher can read back.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Fetcher retrieves a blob's bytes from its URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}
