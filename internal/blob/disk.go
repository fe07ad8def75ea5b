package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// PathPrefix is the URL path under which DiskStore blobs are served.
const PathPrefix = "/blobs/"

// DiskStore keeps blobs as files under a root directory and addresses them by
// baseURL + PathPrefix + key. Handler serves them back over HTTP.
type DiskStore struct {
	root    string
	baseURL string
}

// NewDiskStore creates root if needed.
func NewDiskStore(root, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &DiskStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Root returns the blob directory.
func (d *DiskStore) Root() string {
	return d.root
}

func (d *DiskStore) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(d.root, filepath.FromSlash(clean)), nil
}

// Put writes data under key, replacing any existing blob, and returns its URL.
func (d *DiskStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := d.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("rename blob: %w", err)
	}
	return d.URL(key), nil
}

// URL returns the public URL for key.
func (d *DiskStore) URL(key string) string {
	segments := strings.Split(strings.TrimLeft(path.Clean("/"+key), "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return d.baseURL + PathPrefix + strings.Join(segments, "/")
}

// Delete removes the blob for key. Missing blobs are not an error.
func (d *DiskStore) Delete(ctx context.Context, key string) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Handler serves stored blobs. Mount it at PathPrefix.
func (d *DiskStore) Handler() http.Handler {
	return http.StripPrefix(strings.TrimRight(PathPrefix, "/"), http.FileServer(http.Dir(d.root)))
}

// Usage returns the total size in bytes of the given paths. Each path may be a file or a
// directory (recursively summed). Missing paths contribute 0.
func Usage(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() {
				return nil
			}
			info, err := entry.Info()
			if err != nil {
				return err
			}
			total += info.Size()
			return nil
		})
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return 0, err
		}
	}
	return total, nil
}
