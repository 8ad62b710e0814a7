package model

import "time"

// JobKind selects the backup strategy for a job.
type JobKind string

const (
	// JobSimple creates an independent full copy on every run with changes.
	JobSimple JobKind = "simple"
	// JobIncremental links runs into chains of one baseline plus increments.
	JobIncremental JobKind = "incremental"
)

// UnitType classifies a backup unit within (or outside) a chain.
type UnitType string

const (
	UnitBaseline    UnitType = "baseline"
	UnitIncremental UnitType = "incremental"
	UnitSimple      UnitType = "simple"
)

// UnitStatus records whether a unit's folder was fully written.
type UnitStatus string

const (
	UnitCompleted UnitStatus = "completed"
	UnitFailed    UnitStatus = "failed"
)

// Job is a user-owned backup definition. The core reads jobs but never
// creates or edits them; that belongs to the user-facing layer.
type Job struct {
	ID              string // UUID
	Name            string // Used in destination folder names
	Kind            JobKind
	SourcePath      string // Absolute path of the folder to back up
	DestPath        string // Absolute path of the destination root
	PreserveDeleted bool   // Write _DELETED markers for source-side deletions
	ResetChainAfter int    // Incrementals before a forced new baseline; 0 = never
	ExcludePatterns []string
	KeepCount       int // Retention window; 0 = retention disabled
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Chain links a baseline unit and its subsequent incremental units.
// Chains exist only for incremental jobs.
type Chain struct {
	ID               string // UUID
	JobID            string
	CreatedAt        time.Time
	IncrementalCount int        // Incremental units linked since the baseline
	ClosedAt         *time.Time // Set when a reset or recovery opens a successor
}

// Closed reports whether the chain no longer accepts incrementals.
func (c *Chain) Closed() bool { return c.ClosedAt != nil }

// BackupUnit is one materialized backup folder on disk.
type BackupUnit struct {
	ID         string // UUID
	JobID      string
	ChainID    string // Empty for simple jobs
	Type       UnitType
	FolderPath string // Absolute path of the unit's folder
	CreatedAt  time.Time
	FileCount  int
	ByteSize   int64
	Status     UnitStatus
}

// FileState marks a unit file entry as a real file or a deletion record.
type FileState string

const (
	FilePresent FileState = "present"
	FileDeleted FileState = "deleted"
)

// UnitFile is one entry of a unit's persisted file list. The ordered file
// lists of a chain's units are folded into the reference state for the next
// change detection pass.
type UnitFile struct {
	Path    string // Relative to the job's source root
	ModTime time.Time
	Size    int64
	State   FileState
}

// FileSnapshotEntry is the per-run metadata for one file: either the last
// known state (from the chain fold) or the current on-disk state.
type FileSnapshotEntry struct {
	ModTime time.Time
	Size    int64
}

// ChangeSet is the classified result of comparing the current source scan
// against the reference state.
type ChangeSet struct {
	Added          map[string]FileSnapshotEntry
	Modified       map[string]FileSnapshotEntry
	Deleted        map[string]FileSnapshotEntry
	UnchangedCount int
	// Warnings lists subtrees skipped because they could not be read.
	// A non-empty list means the scan (and the resulting unit) is partial.
	Warnings []string
}

// Empty reports whether the run has nothing to back up.
func (c *ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// RunStatus is the outcome of one triggered job run.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunSkipped RunStatus = "skipped"
	RunError   RunStatus = "error"
)

// RunResult is returned to the trigger and appended to the run history.
type RunResult struct {
	Status      RunStatus
	FilesCopied int
	BytesCopied int64
	FolderPath  string // Empty for skipped runs
	Duration    time.Duration
	Message     string
}

// RunRecord is a persisted run history entry.
type RunRecord struct {
	ID          string // UUID
	JobID       string
	StartedAt   time.Time
	Status      RunStatus
	Message     string
	FilesCopied int
	BytesCopied int64
	Duration    time.Duration
}
