// Package blob stores uploaded files in object storage under
// extension-namespaced keys.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get and Delete when the key does not exist.
var ErrNotFound = errors.New("blob not found")

// Store is a key-value object store.
type Store interface {
	// Put uploads r under key and returns the object's public URL.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	// Get opens the object for reading. The caller closes the reader.
	Get(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
}

type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// NewKey builds a fresh key for a file name: "{ext}/{random}.{ext}", or
// "unknown/{random}" when the name has no extension.
func NewKey(filename string) string {
	ext := Extension(filename)
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if ext == "" {
		return "unknown/" + id
	}
	return fmt.Sprintf("%s/%s.%s", ext, id, ext)
}

// Extension returns the lower-cased extension of filename without the dot.
func Extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// ContentType guesses a MIME type from the key's extension.
func ContentType(key, fallback string) string {
	if fallback != "" && fallback != "application/octet-stream" {
		return fallback
	}
	if t := mime.TypeByExtension(filepath.Ext(key)); t != "" {
		return t
	}
	return "application/octet-stream"
}
