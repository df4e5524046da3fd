package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCSStorage implements Storage on a Google Cloud Storage bucket.
type GCSStorage struct {
	client *storage.Client
	bucket string
}

// NewGCSStorage creates a GCS-backed Storage using ambient
// credentials.
func NewGCSStorage(ctx context.Context, bucket string) (*GCSStorage, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &GCSStorage{client: client, bucket: bucket}, nil
}

// Upload writes the artifact with a does-not-exist precondition so a
// racing writer on the same key surfaces as contention rather than a
// silent overwrite.
func (g *GCSStorage) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	obj := g.client.Bucket(g.bucket).Object(key).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", classifyGCS(key, err)
	}
	if err := w.Close(); err != nil {
		return "", classifyGCS(key, err)
	}

	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, key), nil
}

// Close releases the underlying client.
func (g *GCSStorage) Close() error {
	return g.client.Close()
}

// classifyGCS keeps precondition failures recognizable as contention
// for the coordinator's retry policy.
func classifyGCS(key string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 412 {
		return fmt.Errorf("object %s precondition failed: %w", key, ErrContention)
	}
	return fmt.Errorf("writing object %s: %w", key, err)
}
