package core

import "time"

// WalkEntry is one regular file discovered under a source root.
type WalkEntry struct {
	RelPath string // Relative to the walked root, using the platform separator
	Size    int64
	ModTime time.Time
}

// Filesystem abstracts the disk operations the engine needs, enabling an
// in-memory implementation for deterministic tests.
type Filesystem interface {
	// DirExists reports whether path exists and is a readable directory.
	DirExists(path string) (bool, error)

	// Walk discovers every regular file under root. Symlinks are not
	// followed. Directories for which exclude returns true are not entered
	// and excluded files are not reported. Subtrees that exist but cannot
	// be read are skipped and returned in the second value rather than
	// failing the walk.
	Walk(root string, exclude func(relPath string, isDir bool) bool) ([]WalkEntry, []string, error)

	// CopyFile copies src to dst, creating parent directories and
	// preserving the source's modification time where the filesystem
	// allows.
	CopyFile(src, dst string) error

	// WriteMarker creates an empty file at path, creating parent
	// directories. Used for deletion markers.
	WriteMarker(path string) error

	// MkdirAll creates a directory and any missing parents.
	MkdirAll(path string) error

	// RemoveAll recursively deletes path. Missing paths are not an error.
	RemoveAll(path string) error

	// ListDir returns the names of dir's immediate children. A missing
	// dir yields an empty list.
	ListDir(dir string) ([]string, error)
}
