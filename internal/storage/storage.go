// Package storage keeps batch source documents and generated artifacts,
// either on the local filesystem or in an S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned for unknown keys
var ErrNotFound = errors.New("object not found")

// Store is a flat key/value blob store
type Store interface {
	Put(ctx context.Context, key string, content []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// SourceKey names the raw upload of one batch source
func SourceKey(jobID string, index int, filename string) string {
	return fmt.Sprintf("batches/%s/sources/%03d-%s", jobID, index, cleanName(filename))
}

// ArtifactKey names the generated document of one batch segment
func ArtifactKey(jobID string, index int, filename string) string {
	return fmt.Sprintf("batches/%s/outputs/%03d-%s", jobID, index, cleanName(filename))
}

func cleanName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return "document"
	}
	return name
}
