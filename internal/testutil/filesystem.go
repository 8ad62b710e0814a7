package testutil

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zaja/SyncBackup/internal/core"
)

// MockFile represents a file in the mock filesystem.
type MockFile struct {
	Content []byte
	ModTime time.Time
}

// MockFilesystem is an in-memory filesystem for testing. Paths are plain
// slash-separated strings; parent directories are created implicitly.
type MockFilesystem struct {
	files  map[string]*MockFile
	dirs   map[string]bool
	denied map[string]bool

	// CopyErrors maps a destination path to an error returned by CopyFile.
	CopyErrors map[string]error
	// RemoveErrors maps a path to an error returned by RemoveAll.
	RemoveErrors map[string]error
}

// NewMockFilesystem creates a new empty mock filesystem.
func NewMockFilesystem() *MockFilesystem {
	return &MockFilesystem{
		files:        make(map[string]*MockFile),
		dirs:         make(map[string]bool),
		denied:       make(map[string]bool),
		CopyErrors:   make(map[string]error),
		RemoveErrors: make(map[string]error),
	}
}

// AddFile adds a regular file with the given content and modification time.
func (m *MockFilesystem) AddFile(path string, content []byte, modTime time.Time) {
	path = clean(path)
	m.files[path] = &MockFile{Content: content, ModTime: modTime}
	m.addParents(path)
}

// AddDirectory adds an empty directory.
func (m *MockFilesystem) AddDirectory(path string) {
	path = clean(path)
	m.dirs[path] = true
	m.addParents(path)
}

// DenyDir marks a directory as unreadable. Walk skips its subtree and
// reports it instead of failing.
func (m *MockFilesystem) DenyDir(path string) {
	path = clean(path)
	m.denied[path] = true
	m.dirs[path] = true
	m.addParents(path)
}

// Exists reports whether a file or directory exists at path.
func (m *MockFilesystem) Exists(path string) bool {
	path = clean(path)
	return m.files[path] != nil || m.dirs[path]
}

// ReadFile returns the content of a file, or false if it does not exist.
func (m *MockFilesystem) ReadFile(path string) ([]byte, bool) {
	f, ok := m.files[clean(path)]
	if !ok {
		return nil, false
	}
	return f.Content, true
}

func (m *MockFilesystem) DirExists(path string) (bool, error) {
	return m.dirs[clean(path)], nil
}

func (m *MockFilesystem) Walk(root string, exclude func(relPath string, isDir bool) bool) ([]core.WalkEntry, []string, error) {
	root = clean(root)
	if !m.dirs[root] {
		return nil, nil, fmt.Errorf("not a directory: %s", root)
	}

	var entries []core.WalkEntry
	skippedSet := make(map[string]bool)

	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

file:
	for _, p := range paths {
		if !strings.HasPrefix(p, root+"/") {
			continue
		}
		rel := strings.TrimPrefix(p, root+"/")

		// Check every ancestor directory for denial and exclusion.
		parts := strings.Split(rel, "/")
		for i := 1; i < len(parts); i++ {
			relDir := strings.Join(parts[:i], "/")
			if m.denied[root+"/"+relDir] {
				skippedSet[relDir] = true
				continue file
			}
			if exclude != nil && exclude(relDir, true) {
				continue file
			}
		}
		if exclude != nil && exclude(rel, false) {
			continue
		}

		f := m.files[p]
		entries = append(entries, core.WalkEntry{
			RelPath: rel,
			Size:    int64(len(f.Content)),
			ModTime: f.ModTime,
		})
	}

	skipped := make([]string, 0, len(skippedSet))
	for s := range skippedSet {
		skipped = append(skipped, s)
	}
	sort.Strings(skipped)
	return entries, skipped, nil
}

func (m *MockFilesystem) CopyFile(src, dst string) error {
	src = clean(src)
	dst = clean(dst)
	if err := m.CopyErrors[dst]; err != nil {
		return err
	}
	f, ok := m.files[src]
	if !ok {
		return fmt.Errorf("file not found: %s", src)
	}
	content := make([]byte, len(f.Content))
	copy(content, f.Content)
	m.files[dst] = &MockFile{Content: content, ModTime: f.ModTime}
	m.addParents(dst)
	return nil
}

func (m *MockFilesystem) WriteMarker(path string) error {
	path = clean(path)
	m.files[path] = &MockFile{Content: nil, ModTime: time.Time{}}
	m.addParents(path)
	return nil
}

func (m *MockFilesystem) MkdirAll(path string) error {
	m.AddDirectory(path)
	return nil
}

func (m *MockFilesystem) RemoveAll(path string) error {
	path = clean(path)
	if err := m.RemoveErrors[path]; err != nil {
		return err
	}
	delete(m.files, path)
	delete(m.dirs, path)
	delete(m.denied, path)
	for p := range m.files {
		if strings.HasPrefix(p, path+"/") {
			delete(m.files, p)
		}
	}
	for p := range m.dirs {
		if strings.HasPrefix(p, path+"/") {
			delete(m.dirs, p)
			delete(m.denied, p)
		}
	}
	return nil
}

func (m *MockFilesystem) ListDir(dir string) ([]string, error) {
	dir = clean(dir)
	if !m.dirs[dir] {
		return nil, nil
	}
	seen := make(map[string]bool)
	for p := range m.files {
		if strings.HasPrefix(p, dir+"/") {
			rest := strings.TrimPrefix(p, dir+"/")
			seen[strings.SplitN(rest, "/", 2)[0]] = true
		}
	}
	for p := range m.dirs {
		if strings.HasPrefix(p, dir+"/") {
			rest := strings.TrimPrefix(p, dir+"/")
			seen[strings.SplitN(rest, "/", 2)[0]] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MockFilesystem) addParents(path string) {
	for dir := parentDir(path); dir != "" && dir != "/" && dir != "."; dir = parentDir(dir) {
		if m.dirs[dir] {
			return
		}
		m.dirs[dir] = true
	}
}

func parentDir(path string) string {
	i := strings.LastIndex(path, "/")
	if i <= 0 {
		return ""
	}
	return path[:i]
}

func clean(path string) string {
	return strings.TrimSuffix(filepath.ToSlash(path), "/")
}

// Compile-time check
var _ core.Filesystem = (*MockFilesystem)(nil)
