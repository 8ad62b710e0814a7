package core

import (
	"fmt"

	"github.com/zaja/SyncBackup/internal/model"
)

// RetentionReport summarizes one enforcement pass. Failures never abort or
// roll back the run that triggered the pass; blocked deletions are retried
// on the next one.
type RetentionReport struct {
	DeletedUnits  []string // folder paths removed from disk and metadata
	DeletedChains []string // chain ids removed after their units were gone
	Failures      []string
}

// Enforcer applies a job's keep-N retention policy after a successful run.
// The retention unit is the chain for incremental jobs and the individual
// backup unit for simple jobs.
type Enforcer struct {
	store  MetadataStore
	fs     Filesystem
	logger Logger
}

// NewEnforcer creates a retention Enforcer.
func NewEnforcer(store MetadataStore, fs Filesystem, logger Logger) *Enforcer {
	return &Enforcer{store: store, fs: fs, logger: logger}
}

// Enforce prunes backups beyond the job's keep count, oldest first. A keep
// count of zero (or less) disables enforcement entirely; it is never read
// as "keep none". Folders are deleted before their metadata records so a
// blocked deletion leaves the record in place for the next pass.
func (r *Enforcer) Enforce(job *model.Job) *RetentionReport {
	report := &RetentionReport{}
	if job.KeepCount <= 0 {
		return report
	}

	if job.Kind == model.JobIncremental {
		r.enforceChains(job, report)
	} else {
		r.enforceUnits(job, report)
	}

	for _, f := range report.Failures {
		r.logger.Warn("retention deletion blocked, will retry next pass", "job", job.Name, "reason", f)
	}
	return report
}

// enforceUnits keeps the job's keepN most recently created completed units.
// Failed units do not count against the window and are never auto-deleted.
func (r *Enforcer) enforceUnits(job *model.Job, report *RetentionReport) {
	units, err := r.store.UnitsForJob(job.ID)
	if err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("listing units: %v", err))
		return
	}

	var completed []*model.BackupUnit // newest first
	for _, u := range units {
		if u.Status == model.UnitCompleted {
			completed = append(completed, u)
		}
	}

	// Oldest first beyond the keep window.
	for i := len(completed) - 1; i >= job.KeepCount; i-- {
		r.deleteUnit(completed[i], report)
	}
}

// enforceChains keeps the job's keepN most recent chains and deletes every
// unit of each expired chain before removing the chain record itself.
func (r *Enforcer) enforceChains(job *model.Job, report *RetentionReport) {
	chains, err := r.store.ChainsByAge(job.ID)
	if err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("listing chains: %v", err))
		return
	}

	for i := len(chains) - 1; i >= job.KeepCount; i-- {
		chain := chains[i]
		units, err := r.store.UnitsForChain(chain.ID)
		if err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("listing units of chain %s: %v", chain.ID, err))
			continue
		}

		remaining := 0
		for _, u := range units {
			if !r.deleteUnit(u, report) {
				remaining++
			}
		}
		if remaining > 0 {
			// The chain record stays until every unit is gone.
			continue
		}

		if err := r.store.DeleteChain(chain.ID); err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("deleting chain %s: %v", chain.ID, err))
			continue
		}
		report.DeletedChains = append(report.DeletedChains, chain.ID)
		r.logger.Info("expired chain removed", "job", job.Name, "chain", chain.ID, "units", len(units))
	}
}

// deleteUnit removes a unit's folder, then its metadata record. Returns
// false when the unit was left intact for a later retry.
func (r *Enforcer) deleteUnit(unit *model.BackupUnit, report *RetentionReport) bool {
	if err := r.fs.RemoveAll(unit.FolderPath); err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("removing folder %s: %v", unit.FolderPath, err))
		return false
	}
	if err := r.store.DeleteUnit(unit.ID); err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("deleting unit %s: %v", unit.ID, err))
		return false
	}
	report.DeletedUnits = append(report.DeletedUnits, unit.FolderPath)
	return true
}
