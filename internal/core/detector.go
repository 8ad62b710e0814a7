package core

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zaja/SyncBackup/internal/model"
)

// Detector compares the current source tree against a reference state and
// classifies every file as added, modified, deleted or unchanged.
//
// Change detection is metadata-only: a file counts as modified when its
// mtime or size differs from the reference. Content changes that preserve
// both mtime and size are invisible, so tools that rewrite files with
// identical timestamps will cause missed changes. This is a documented
// limitation, not a bug to be patched with hashing.
type Detector struct {
	fs     Filesystem
	logger Logger
}

// NewDetector creates a Detector over the given filesystem.
func NewDetector(fs Filesystem, logger Logger) *Detector {
	return &Detector{fs: fs, logger: logger}
}

// Detect scans sourceRoot and classifies its files against reference.
// Exclude patterns are evaluated against path components during the walk,
// so excluded directories are never entered. An unreadable source root
// fails with ErrSourceUnavailable; unreadable subtrees below a readable
// root degrade to a partial scan recorded in the change set's warnings.
func (d *Detector) Detect(sourceRoot string, excludes *ExcludeMatcher, reference map[string]model.FileSnapshotEntry) (*model.ChangeSet, error) {
	ok, err := d.fs.DirExists(sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("checking source root %s: %w", sourceRoot, ErrSourceUnavailable)
	}
	if !ok {
		return nil, fmt.Errorf("source root %s does not exist: %w", sourceRoot, ErrSourceUnavailable)
	}

	entries, skipped, err := d.fs.Walk(sourceRoot, func(relPath string, isDir bool) bool {
		return excludes.Match(relPath)
	})
	if err != nil {
		return nil, fmt.Errorf("scanning source root %s: %w", sourceRoot, ErrSourceUnavailable)
	}

	cs := &model.ChangeSet{
		Added:    make(map[string]model.FileSnapshotEntry),
		Modified: make(map[string]model.FileSnapshotEntry),
		Deleted:  make(map[string]model.FileSnapshotEntry),
	}

	for _, sub := range skipped {
		d.logger.Warn("unreadable subtree excluded from scan", "root", sourceRoot, "subtree", sub)
		cs.Warnings = append(cs.Warnings, sub)
	}

	current := make(map[string]model.FileSnapshotEntry, len(entries))
	for _, e := range entries {
		current[e.RelPath] = model.FileSnapshotEntry{ModTime: e.ModTime, Size: e.Size}
	}

	for path, entry := range current {
		ref, known := reference[path]
		switch {
		case !known:
			cs.Added[path] = entry
		case !entry.ModTime.Equal(ref.ModTime) || entry.Size != ref.Size:
			cs.Modified[path] = entry
		default:
			cs.UnchangedCount++
		}
	}

	for path, ref := range reference {
		if _, exists := current[path]; exists {
			continue
		}
		// Files under an unreadable subtree are invisible to this scan,
		// not gone from the source. They stay out of the change set
		// entirely so the reference fold keeps carrying them.
		if underSkippedSubtree(path, skipped) {
			continue
		}
		cs.Deleted[path] = ref
	}

	return cs, nil
}

func underSkippedSubtree(path string, skipped []string) bool {
	for _, sub := range skipped {
		if path == sub || strings.HasPrefix(path, sub+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// ReferenceState rebuilds the last known state of a chain by replaying, in
// creation order, the baseline's file list followed by each incremental's
// entries: present entries overwrite, deletion entries remove. Failed units
// never contribute.
func ReferenceState(store MetadataStore, chainID string) (map[string]model.FileSnapshotEntry, error) {
	units, err := store.UnitsForChain(chainID)
	if err != nil {
		return nil, fmt.Errorf("loading chain units: %w", err)
	}

	state := make(map[string]model.FileSnapshotEntry)
	for _, unit := range units {
		if unit.Status != model.UnitCompleted {
			continue
		}
		files, err := store.UnitFiles(unit.ID)
		if err != nil {
			return nil, fmt.Errorf("loading file list of unit %s: %w", unit.ID, err)
		}
		for _, f := range files {
			if f.State == model.FileDeleted {
				delete(state, f.Path)
				continue
			}
			state[f.Path] = model.FileSnapshotEntry{ModTime: f.ModTime, Size: f.Size}
		}
	}
	return state, nil
}

// UnitReferenceState returns the file list of a single completed unit as a
// reference state. Simple jobs compare each run against their most recent
// completed unit.
func UnitReferenceState(store MetadataStore, unit *model.BackupUnit) (map[string]model.FileSnapshotEntry, error) {
	state := make(map[string]model.FileSnapshotEntry)
	if unit == nil {
		return state, nil
	}
	files, err := store.UnitFiles(unit.ID)
	if err != nil {
		return nil, fmt.Errorf("loading file list of unit %s: %w", unit.ID, err)
	}
	for _, f := range files {
		if f.State == model.FilePresent {
			state[f.Path] = model.FileSnapshotEntry{ModTime: f.ModTime, Size: f.Size}
		}
	}
	return state, nil
}
