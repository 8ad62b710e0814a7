package core

import (
	"time"

	"github.com/zaja/SyncBackup/internal/model"
)

// MetadataStore provides an interface for metadata storage operations.
// Implementations must serialize writes so that chain transitions and
// retention deletions from concurrent jobs never interleave inconsistently.
type MetadataStore interface {
	// Job operations

	// GetJob returns a job by ID, or nil when it does not exist.
	GetJob(id string) (*model.Job, error)

	// GetJobByName returns a job by its unique name, or nil when it does not exist.
	GetJobByName(name string) (*model.Job, error)

	// ListJobs returns all jobs ordered by creation time.
	ListJobs() ([]*model.Job, error)

	// CreateJob persists a new job.
	CreateJob(job *model.Job) error

	// UpdateJob rewrites an existing job's definition.
	UpdateJob(job *model.Job) error

	// DeleteJob removes a job and, via cascade, its chains, units and runs.
	DeleteJob(id string) error

	// Run lock

	// TryAcquireRunLock marks the job as running. Returns false without
	// error when another run already holds the lock.
	TryAcquireRunLock(jobID string) (bool, error)

	// ReleaseRunLock clears the job's running flag.
	ReleaseRunLock(jobID string) error

	// Chain operations

	// ActiveChain returns the job's open chain, or nil when none is open.
	ActiveChain(jobID string) (*model.Chain, error)

	// ChainsByAge returns all of the job's chains, newest first.
	ChainsByAge(jobID string) ([]*model.Chain, error)

	// CloseChain marks a chain as no longer accepting incrementals.
	CloseChain(chainID string, at time.Time) error

	// DeleteChain removes a chain record. Its units must be gone already.
	DeleteChain(chainID string) error

	// Unit operations

	// UnitsForChain returns a chain's units, oldest first.
	UnitsForChain(chainID string) ([]*model.BackupUnit, error)

	// UnitsForJob returns all of a job's units, newest first.
	UnitsForJob(jobID string) ([]*model.BackupUnit, error)

	// LatestCompletedUnit returns the job's most recent completed unit,
	// or nil when the job has none.
	LatestCompletedUnit(jobID string) (*model.BackupUnit, error)

	// UnitFiles returns the persisted file list of a unit.
	UnitFiles(unitID string) ([]model.UnitFile, error)

	// CommitBaseline atomically closes the previously active chain (if
	// prevChainID is non-empty), creates the new chain, and records its
	// baseline unit with its file list. The commit re-validates that the
	// job's active chain is still prevChainID (or absent); a mismatch
	// fails with ErrChainConflict and writes nothing.
	CommitBaseline(prevChainID string, chain *model.Chain, unit *model.BackupUnit, files []model.UnitFile) error

	// CommitIncremental atomically records an incremental unit with its
	// file list and advances the owning chain's incremental count. The
	// commit fails with ErrChainConflict when the chain is closed or its
	// count no longer equals expectedCount.
	CommitIncremental(expectedCount int, unit *model.BackupUnit, files []model.UnitFile) error

	// CommitSimple records a completed simple unit with its file list.
	CommitSimple(unit *model.BackupUnit, files []model.UnitFile) error

	// RecordFailedUnit persists a failed unit. Chain counters are not
	// advanced and no file list is stored; failed units are excluded from
	// the reference-state fold and from retention counting.
	RecordFailedUnit(unit *model.BackupUnit) error

	// DeleteUnit removes a unit record and its file list.
	DeleteUnit(unitID string) error

	// Run history

	// RecordRun appends a run history entry.
	RecordRun(rec *model.RunRecord) error

	// RunHistory returns the job's most recent runs, newest first.
	RunHistory(jobID string, limit int) ([]*model.RunRecord, error)

	// Close closes the underlying store.
	Close() error
}
