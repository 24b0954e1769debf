// Package gcs stores run artifacts in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config names the bucket. CacheControl is applied to every object when set.
type Config struct {
	Bucket       string
	CacheControl string
}

// BlobStore uploads artifacts with single-request uploads.
type BlobStore struct {
	bucket *storage.BucketHandle
	cfg    Config
}

// New validates cfg and binds the bucket handle.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{bucket: client.Bucket(cfg.Bucket), cfg: cfg}, nil
}

// PutObject uploads r to path and returns its gs:// URI. A failed copy
// aborts the upload so no partial object is committed.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", errors.New("object path is required")
	}

	uploadCtx, abort := context.WithCancel(ctx)
	defer abort()

	w := s.bucket.Object(path).NewWriter(uploadCtx)
	// Artifacts are small; a zero chunk size sends them in one request.
	w.ChunkSize = 0
	w.ContentType = contentType
	w.CacheControl = s.cfg.CacheControl

	if _, err := io.Copy(w, r); err != nil {
		abort()
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("commit %s: %w", path, err)
	}
	return "gs://" + s.cfg.Bucket + "/" + path, nil
}
