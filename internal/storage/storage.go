// Package storage defines the blob store contract used for run artifacts and
// the object layout shared by its implementations.
package storage

import (
	"context"
	"io"
	"path"
	"strings"
	"time"
)

// Artifact names written for every run.
const (
	DigestObject = "digest.md"
	ReportObject = "report.json"
)

// Content types for the run artifacts.
const (
	ContentTypeMarkdown = "text/markdown; charset=utf-8"
	ContentTypeJSON     = "application/json"
)

// BlobStore persists one object and returns a URI that locates it.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// ArtifactPath returns "{prefix}/{YYYY-MM-DD}/{runID}/{name}". The date is
// taken in UTC. An empty prefix is omitted.
func ArtifactPath(prefix string, at time.Time, runID, name string) string {
	parts := make([]string, 0, 4)
	if p := strings.Trim(strings.TrimSpace(prefix), "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, at.UTC().Format(time.DateOnly), runID, name)
	return path.Join(parts...)
}
