package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hyperjump/bunsho/internal/models"
)

// Fetch defaults.
const (
	DefaultFetchTimeout  = 30 * time.Second
	DefaultFetchMaxBytes = 20 << 20
)

// HTTPFetcher downloads blobs with a bounded timeout and body size.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher returns a fetcher. Zero values select the defaults.
func NewHTTPFetcher(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultFetchMaxBytes
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}, maxBytes: maxBytes}
}

// Fetch GETs url. Transport errors, timeouts, non-2xx statuses, and bodies over the
// size limit are all reported as models.ErrTransferFailure.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrTransferFailure, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrTransferFailure, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: GET %s: %s", models.ErrTransferFailure, url, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", models.ErrTransferFailure, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", models.ErrTransferFailure, f.maxBytes)
	}
	return data, nil
}
