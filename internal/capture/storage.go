package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Storage is the object storage collaborator. Upload errors must be
// classifiable by ClassifyStorageError.
type Storage interface {
	// Upload writes the artifact under key and returns a retrievable
	// URL for it.
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// LocalStorage implements Storage on the local filesystem, serving
// uploads under a base URL.
type LocalStorage struct {
	basePath string
	baseURL  string
}

// NewLocalStorage creates a LocalStorage rooted at basePath.
func NewLocalStorage(basePath, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStorage{
		basePath: basePath,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Upload writes the artifact. An already-existing key is reported as
// contention: keys are unique per capture, so a collision means two
// writers raced on the same task.
func (l *LocalStorage) Upload(_ context.Context, key string, data []byte, _ string) (string, error) {
	// Keys are caller-influenced; a key that escapes the storage root
	// must never reach the filesystem.
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("storage key %q escapes the storage root", key)
	}

	path := filepath.Join(l.basePath, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating owner directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return "", fmt.Errorf("object %s already exists: %w", key, ErrContention)
		}
		return "", fmt.Errorf("creating file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing file: %w", err)
	}

	return l.baseURL + "/" + key, nil
}
