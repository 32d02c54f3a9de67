package blob

import (
	"context"
	"path"
	"strings"
	"time"
)

// Metadata describes one stored file or folder.
type Metadata struct {
	Name           string    `json:"name"`
	Path           string    `json:"path"`
	Rev            string    `json:"rev,omitempty"`
	Size           int64     `json:"size,omitempty"`
	ServerModified time.Time `json:"serverModified,omitzero"`
	IsFolder       bool      `json:"isFolder,omitempty"`
}

// Store is a path-addressed blob store with optimistic concurrency on
// revisions. Implementations return errors tagged with evalerr markers.
type Store interface {
	// Upload creates a new file. If the path is taken the file is stored
	// under an automatically renamed path, reported in the metadata.
	Upload(ctx context.Context, path string, data []byte) (Metadata, error)
	// Overwrite writes the file unconditionally.
	Overwrite(ctx context.Context, path string, data []byte) (Metadata, error)
	// ConditionalOverwrite writes only when the current revision equals
	// expectedRev. An empty expectedRev means the file must not exist yet.
	// A mismatch yields evalerr.ErrConcurrencyConflict.
	ConditionalOverwrite(ctx context.Context, path string, data []byte, expectedRev string) (Metadata, error)
	// Download returns the file content and metadata or evalerr.ErrNotFound.
	Download(ctx context.Context, path string) ([]byte, Metadata, error)
	// ListFolder lists the immediate children of a folder.
	ListFolder(ctx context.Context, path string) ([]Metadata, error)
	// Move renames a file. Missing sources yield evalerr.ErrNotFound and an
	// occupied destination evalerr.ErrConflict.
	Move(ctx context.Context, from, to string) (Metadata, error)
	// Delete removes a file or evalerr.ErrNotFound.
	Delete(ctx context.Context, path string) error
}

// Join builds a rooted, cleaned store path.
func Join(elem ...string) string {
	return CleanPath(path.Join(elem...))
}

// CleanPath normalizes p into the "/a/b" form used by every backend. The root
// is returned as "/".
func CleanPath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	return path.Clean("/" + p)
}
