package fs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zaja/SyncBackup/internal/core"
)

// OSFilesystem is the real filesystem implementation of core.Filesystem.
// It performs actual disk operations using the os package.
type OSFilesystem struct{}

// NewOSFilesystem creates a filesystem that operates on the real disk.
func NewOSFilesystem() *OSFilesystem {
	return &OSFilesystem{}
}

// DirExists reports whether path exists and is a directory.
func (m *OSFilesystem) DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.IsDir(), nil
}

// Walk discovers regular files under root. Excluded directories are not
// entered. Permission errors below the root skip the unreadable subtree
// and report it instead of failing the walk; an unreadable root fails.
func (m *OSFilesystem) Walk(root string, exclude func(relPath string, isDir bool) bool) ([]core.WalkEntry, []string, error) {
	var entries []core.WalkEntry
	var skipped []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			if os.IsPermission(err) {
				rel, relErr := filepath.Rel(root, p)
				if relErr != nil {
					rel = p
				}
				skipped = append(skipped, rel)
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			return err
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("relative path of %s: %w", p, err)
		}

		if d.IsDir() {
			if exclude != nil && exclude(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		// Symlinks and special files are skipped; only regular files are
		// backed up.
		if !d.Type().IsRegular() {
			return nil
		}
		if exclude != nil && exclude(rel, false) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if os.IsPermission(err) {
				skipped = append(skipped, rel)
				return nil
			}
			return fmt.Errorf("stat %s: %w", p, err)
		}
		entries = append(entries, core.WalkEntry{
			RelPath: rel,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walking %s: %w", root, err)
	}

	return entries, skipped, nil
}

// CopyFile copies src to dst, creating parent directories and carrying the
// source's permissions and modification time over to the copy.
func (m *OSFilesystem) CopyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer srcFile.Close()

	info, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating parent of %s: %w", dst, err)
	}

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	if err := dstFile.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", dst, err)
	}

	// Best effort where the destination filesystem supports it.
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("preserving mtime of %s: %w", dst, err)
	}
	return nil
}

// WriteMarker creates an empty file at path, creating parent directories.
func (m *OSFilesystem) WriteMarker(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating parent of %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating marker %s: %w", path, err)
	}
	return f.Close()
}

// MkdirAll creates a directory and any missing parents.
func (m *OSFilesystem) MkdirAll(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	return nil
}

// RemoveAll recursively deletes path.
func (m *OSFilesystem) RemoveAll(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// ListDir returns the names of dir's immediate children. A missing dir
// yields an empty list.
func (m *OSFilesystem) ListDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Compile-time check that OSFilesystem implements core.Filesystem
var _ core.Filesystem = (*OSFilesystem)(nil)
