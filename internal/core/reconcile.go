package core

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/zaja/SyncBackup/internal/model"
)

// ReconcileReport summarizes one maintenance pass over a job's destination.
type ReconcileReport struct {
	// OrphansRemoved lists folders that followed the unit naming scheme
	// but had no committed unit record. A crash between folder write and
	// metadata commit is the only way such folders appear.
	OrphansRemoved []string

	// ChainsClosed lists chain ids closed because their baseline folder
	// was gone; the next run opens a fresh baseline.
	ChainsClosed []string

	// FailedUnits lists the folders of failed units, surfaced for manual
	// inspection. Reconcile never deletes them.
	FailedUnits []string

	Failures []string
}

// Reconcile detects and resolves orphaned folders and missing-baseline
// chains for a job without performing a backup. It is safe to call at any
// time a run is not in flight; the job lock guards against overlap.
func (s *BackupService) Reconcile(job *model.Job) (*ReconcileReport, error) {
	acquired, err := s.store.TryAcquireRunLock(job.ID)
	if err != nil {
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("job %s has a run in flight", job.Name)
	}
	defer func() {
		if err := s.store.ReleaseRunLock(job.ID); err != nil {
			s.logger.Error("releasing run lock", "job", job.Name, "error", err)
		}
	}()

	report := &ReconcileReport{}

	if job.Kind == model.JobIncremental {
		if err := s.closeCorruptChains(job, report); err != nil {
			return nil, err
		}
	}
	if err := s.removeOrphanFolders(job, report); err != nil {
		return nil, err
	}
	if err := s.surfaceFailedUnits(job, report); err != nil {
		return nil, err
	}

	return report, nil
}

// closeCorruptChains closes any open chain whose completed baseline folder
// no longer exists on disk.
func (s *BackupService) closeCorruptChains(job *model.Job, report *ReconcileReport) error {
	chains, err := s.store.ChainsByAge(job.ID)
	if err != nil {
		return fmt.Errorf("listing chains: %w", err)
	}
	for _, chain := range chains {
		if chain.Closed() {
			continue
		}
		err := s.chains.checkBaseline(chain)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrChainCorrupt) {
			return err
		}
		if err := s.store.CloseChain(chain.ID, s.clock.Now()); err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("closing chain %s: %v", chain.ID, err))
			continue
		}
		s.logger.Warn("closed chain with missing baseline", "job", job.Name, "chain", chain.ID)
		report.ChainsClosed = append(report.ChainsClosed, chain.ID)
	}
	return nil
}

// removeOrphanFolders deletes destination folders that match the job's unit
// naming scheme but have no unit record. Committed folders, failed or not,
// are never touched, and neither is any folder claimed by another job's
// naming scheme: a job named "docs_old" produces folders whose prefix also
// matches a job named "docs", so those are left for their own job's pass.
func (s *BackupService) removeOrphanFolders(job *model.Job, report *ReconcileReport) error {
	units, err := s.store.UnitsForJob(job.ID)
	if err != nil {
		return fmt.Errorf("listing units: %w", err)
	}
	known := make(map[string]bool, len(units))
	for _, u := range units {
		known[filepath.Base(u.FolderPath)] = true
	}

	siblings, err := s.store.ListJobs()
	if err != nil {
		return fmt.Errorf("listing jobs: %w", err)
	}

	names, err := s.fs.ListDir(job.DestPath)
	if err != nil {
		return fmt.Errorf("listing destination %s: %w", job.DestPath, err)
	}

	for _, name := range names {
		if known[name] || !MatchesUnitFolder(job.Name, name) {
			continue
		}
		if claimedBySibling(job.ID, siblings, name) {
			continue
		}
		orphan := filepath.Join(job.DestPath, name)
		if err := s.fs.RemoveAll(orphan); err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("removing orphan %s: %v", orphan, err))
			continue
		}
		s.logger.Warn("removed orphan folder", "job", job.Name, "folder", orphan)
		report.OrphansRemoved = append(report.OrphansRemoved, orphan)
	}
	return nil
}

// claimedBySibling reports whether another configured job's naming scheme
// also matches the folder name.
func claimedBySibling(jobID string, jobs []*model.Job, folderName string) bool {
	for _, other := range jobs {
		if other.ID == jobID {
			continue
		}
		if MatchesUnitFolder(other.Name, folderName) {
			return true
		}
	}
	return false
}

func (s *BackupService) surfaceFailedUnits(job *model.Job, report *ReconcileReport) error {
	units, err := s.store.UnitsForJob(job.ID)
	if err != nil {
		return fmt.Errorf("listing units: %w", err)
	}
	for _, u := range units {
		if u.Status == model.UnitFailed {
			report.FailedUnits = append(report.FailedUnits, u.FolderPath)
		}
	}
	return nil
}
