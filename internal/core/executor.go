package core

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/zaja/SyncBackup/internal/model"
)

// ExecResult carries what the executor materialized on disk for one run.
// Files holds the unit's file list for the metadata commit: present entries
// for everything copied, deletion entries for everything that vanished from
// the source.
type ExecResult struct {
	FolderPath  string
	Files       []model.UnitFile
	FilesCopied int
	BytesCopied int64
}

// Executor materializes a run's change set as a new backup folder.
type Executor struct {
	fs     Filesystem
	logger Logger
	clock  Clock
}

// NewExecutor creates an Executor over the given filesystem.
func NewExecutor(fs Filesystem, logger Logger, clock Clock) *Executor {
	return &Executor{fs: fs, logger: logger, clock: clock}
}

// Execute writes the unit folder for the decided type. Baseline and simple
// units copy the entire filtered tree (everything the change set classified
// as added or modified against an empty or stale reference); incremental
// units copy only added and modified files and, when the job preserves
// deletions, write a _DELETED marker per deleted file.
//
// The caller must have handled the no-op rule already: an empty change set
// never reaches the executor. On a mid-copy I/O error the partial folder is
// retained, the partial result is returned alongside an error wrapping
// ErrPartialCopy, and the caller records the unit as failed.
func (e *Executor) Execute(job *model.Job, unitType model.UnitType, cs *model.ChangeSet) (*ExecResult, error) {
	folder := filepath.Join(job.DestPath, UnitFolderName(job.Name, unitType, e.clock.Now()))

	res := &ExecResult{FolderPath: folder}

	if err := e.fs.MkdirAll(folder); err != nil {
		return res, fmt.Errorf("creating unit folder %s: %w", folder, err)
	}

	for _, path := range sortedPaths(cs.Added, cs.Modified) {
		entry, ok := cs.Added[path]
		if !ok {
			entry = cs.Modified[path]
		}
		src := filepath.Join(job.SourcePath, path)
		dst := filepath.Join(folder, path)
		if err := e.fs.CopyFile(src, dst); err != nil {
			e.logger.Error("copy interrupted, retaining partial folder",
				"job", job.Name, "file", path, "folder", folder)
			return res, fmt.Errorf("copying %s: %v: %w", path, err, ErrPartialCopy)
		}
		res.Files = append(res.Files, model.UnitFile{
			Path:    path,
			ModTime: entry.ModTime,
			Size:    entry.Size,
			State:   model.FilePresent,
		})
		res.FilesCopied++
		res.BytesCopied += entry.Size
	}

	if unitType == model.UnitIncremental {
		if err := e.recordDeletions(job, folder, cs, res); err != nil {
			return res, err
		}
	}

	return res, nil
}

// recordDeletions appends deletion entries to the unit's file list and,
// when the job preserves deletions, writes the on-disk markers. The marker
// name is the original file name with _DELETED appended, at the file's
// original relative path inside the new incremental folder.
func (e *Executor) recordDeletions(job *model.Job, folder string, cs *model.ChangeSet, res *ExecResult) error {
	for _, path := range sortedPaths(cs.Deleted) {
		entry := cs.Deleted[path]
		if job.PreserveDeleted {
			marker := filepath.Join(folder, path+DeletedMarkerSuffix)
			if err := e.fs.WriteMarker(marker); err != nil {
				e.logger.Error("marker write interrupted, retaining partial folder",
					"job", job.Name, "file", path, "folder", folder)
				return fmt.Errorf("writing deletion marker for %s: %v: %w", path, err, ErrPartialCopy)
			}
		} else {
			e.logger.Debug("deletion recorded without marker", "job", job.Name, "file", path)
		}
		res.Files = append(res.Files, model.UnitFile{
			Path:    path,
			ModTime: entry.ModTime,
			Size:    entry.Size,
			State:   model.FileDeleted,
		})
	}
	return nil
}

// sortedPaths merges the keys of the given maps in lexical order so copy
// order, and with it partial-failure behavior, is deterministic.
func sortedPaths(maps ...map[string]model.FileSnapshotEntry) []string {
	var paths []string
	for _, m := range maps {
		for path := range m {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}
