// Package rawstorage stores uploaded document bytes.
//
// Blobs live under opaque paths of the form
// {workspace_id}/{document_id}-{sanitized_name}. Objects are immutable after
// Put: writers never overwrite an existing path, and a collision is an
// invariant violation.
package rawstorage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Sentinel errors for raw storage operations.
var (
	// ErrNotFound is returned when the object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrPathCollision is returned when Put targets an existing path.
	ErrPathCollision = errors.New("object path already exists")

	// ErrInvalidPath is returned for empty or traversing paths.
	ErrInvalidPath = errors.New("invalid object path")
)

// Storage is the blob-store adapter contract.
//
// Implementations must be safe for concurrent callers. Put is atomic from the
// reader's perspective: a concurrent Get either sees the whole object or
// ErrNotFound, never a partial write.
type Storage interface {
	// Put stores size bytes read from r at path.
	Put(ctx context.Context, path string, r io.Reader, size int64) error

	// Get opens the object for reading and returns its size. The caller
	// closes the reader.
	Get(ctx context.Context, path string) (io.ReadCloser, int64, error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	// DeletePrefix removes every object under prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Exists reports whether the object is present.
	Exists(ctx context.Context, path string) (bool, error)

	// Health checks backend reachability.
	Health(ctx context.Context) error
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeFilename reduces a user-supplied filename to a storage-safe form.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	// Strip any client-side directory components.
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	return name
}

// BlobPath builds the canonical blob path for a document.
func BlobPath(workspaceID, documentID, filename string) string {
	return fmt.Sprintf("%s/%s-%s", workspaceID, documentID, SanitizeFilename(filename))
}

// WorkspacePrefix is the prefix owning every blob of a workspace.
func WorkspacePrefix(workspaceID string) string {
	return workspaceID + "/"
}

func validatePath(path string) error {
	if path == "" || strings.Contains(path, "..") || strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return nil
}
