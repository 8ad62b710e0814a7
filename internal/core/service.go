package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/zaja/SyncBackup/internal/model"
)

// BackupService is the single entry point the trigger calls. It coordinates
// the chain decision, change detection, folder materialization, metadata
// commit and retention for one job run.
type BackupService struct {
	store     MetadataStore
	fs        Filesystem
	detector  *Detector
	chains    *ChainManager
	executor  *Executor
	retention *Enforcer
	logger    Logger
	clock     Clock
	idgen     IDGenerator
}

// NewBackupService creates a BackupService with the provided dependencies.
func NewBackupService(store MetadataStore, fs Filesystem, logger Logger, clock Clock, idgen IDGenerator) *BackupService {
	return &BackupService{
		store:     store,
		fs:        fs,
		detector:  NewDetector(fs, logger),
		chains:    NewChainManager(store, fs, logger, clock, idgen),
		executor:  NewExecutor(fs, logger, clock),
		retention: NewEnforcer(store, fs, logger),
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
	}
}

// Run executes one triggered run for the job. After it returns, exactly one
// of two things holds: no unit was created (skipped or failed before any
// copy), or exactly one new unit of the decided type exists. Every outcome,
// including skips and errors, is appended to the job's run history.
//
// A second trigger while a run is in flight is skipped with an "already
// running" outcome rather than queued; the per-job lock lives in the
// metadata store so concurrent workers on different jobs do not interfere.
func (s *BackupService) Run(job *model.Job) *model.RunResult {
	started := s.clock.Now()

	acquired, err := s.store.TryAcquireRunLock(job.ID)
	if err != nil {
		return s.finishRun(job, started, &model.RunResult{
			Status:  model.RunError,
			Message: fmt.Sprintf("acquiring run lock: %v", err),
		})
	}
	if !acquired {
		s.logger.Warn("job already running, skipping trigger", "job", job.Name)
		return s.finishRun(job, started, &model.RunResult{
			Status:  model.RunSkipped,
			Message: "already running",
		})
	}
	defer func() {
		if err := s.store.ReleaseRunLock(job.ID); err != nil {
			s.logger.Error("releasing run lock", "job", job.Name, "error", err)
		}
	}()

	result := s.runLocked(job)
	return s.finishRun(job, started, result)
}

// runLocked performs the run with the job lock held.
func (s *BackupService) runLocked(job *model.Job) *model.RunResult {
	decision, err := s.chains.Decide(job)
	if err != nil {
		return &model.RunResult{Status: model.RunError, Message: fmt.Sprintf("chain decision: %v", err)}
	}
	if decision.Recovered {
		s.logger.Warn("recovering from corrupt chain with fresh baseline", "job", job.Name)
	}

	reference, err := s.referenceState(job, decision)
	if err != nil {
		return &model.RunResult{Status: model.RunError, Message: fmt.Sprintf("building reference state: %v", err)}
	}

	excludes := NewExcludeMatcher(job.ExcludePatterns)
	cs, err := s.detector.Detect(job.SourcePath, excludes, reference)
	if err != nil {
		return &model.RunResult{Status: model.RunError, Message: fmt.Sprintf("change detection: %v", err)}
	}

	// No-op rule: nothing changed, so no folder, no unit, and the chain
	// decision is discarded without consuming a reset increment.
	if cs.Empty() {
		s.logger.Info("no changes detected, skipping backup", "job", job.Name)
		return &model.RunResult{Status: model.RunSkipped, Message: "no changes detected"}
	}

	// A simple unit is a full snapshot. The reference above only decides
	// whether to skip; the folder gets the entire filtered tree.
	if decision.Type == model.UnitSimple && len(reference) > 0 {
		cs, err = s.detector.Detect(job.SourcePath, excludes, nil)
		if err != nil {
			return &model.RunResult{Status: model.RunError, Message: fmt.Sprintf("change detection: %v", err)}
		}
	}

	exec, execErr := s.executor.Execute(job, decision.Type, cs)
	if execErr != nil {
		return s.handleExecFailure(job, decision, exec, execErr)
	}

	unit := s.newUnit(job, decision, exec, model.UnitCompleted)
	if err := s.commit(decision, unit, exec.Files); err != nil {
		if errors.Is(err, ErrChainConflict) {
			// Lost the commit race: the folder stays as an orphan for
			// Reconcile and the next trigger re-decides against the
			// winner's chain.
			s.logger.Error("chain conflict at commit, aborting run", "job", job.Name, "folder", exec.FolderPath)
			return &model.RunResult{Status: model.RunError, FolderPath: exec.FolderPath,
				Message: fmt.Sprintf("commit aborted: %v", err)}
		}
		return &model.RunResult{Status: model.RunError, FolderPath: exec.FolderPath,
			Message: fmt.Sprintf("committing unit: %v", err)}
	}

	s.logger.Info("backup unit created", "job", job.Name, "type", string(decision.Type),
		"folder", exec.FolderPath, "files", exec.FilesCopied, "bytes", exec.BytesCopied)

	result := &model.RunResult{
		Status:      model.RunSuccess,
		FilesCopied: exec.FilesCopied,
		BytesCopied: exec.BytesCopied,
		FolderPath:  exec.FolderPath,
	}
	if len(cs.Warnings) > 0 {
		result.Message = fmt.Sprintf("partial scan: %d subtree(s) unreadable", len(cs.Warnings))
	}

	report := s.retention.Enforce(job)
	if len(report.Failures) > 0 && result.Message == "" {
		result.Message = fmt.Sprintf("retention: %d deletion(s) blocked", len(report.Failures))
	}

	return result
}

// referenceState selects the reference the detector compares against. A
// baseline decision starts from an empty reference (everything is "added",
// which makes the executor copy the whole filtered tree); incrementals fold
// the active chain; simple jobs compare against their last completed unit.
func (s *BackupService) referenceState(job *model.Job, decision *Decision) (map[string]model.FileSnapshotEntry, error) {
	switch decision.Type {
	case model.UnitIncremental:
		return ReferenceState(s.store, decision.Chain.ID)
	case model.UnitSimple:
		last, err := s.store.LatestCompletedUnit(job.ID)
		if err != nil {
			return nil, err
		}
		return UnitReferenceState(s.store, last)
	default:
		return map[string]model.FileSnapshotEntry{}, nil
	}
}

// handleExecFailure records a failed unit for the partially written folder.
// The folder is retained for manual inspection; chain counters are not
// advanced, and the failed unit never feeds the reference fold.
func (s *BackupService) handleExecFailure(job *model.Job, decision *Decision, exec *ExecResult, execErr error) *model.RunResult {
	if errors.Is(execErr, ErrPartialCopy) {
		unit := s.newUnit(job, decision, exec, model.UnitFailed)
		// A failed baseline's chain was never committed, so the unit is
		// recorded against the job only.
		if decision.Type == model.UnitBaseline {
			unit.ChainID = ""
		}
		if err := s.store.RecordFailedUnit(unit); err != nil {
			s.logger.Error("recording failed unit", "job", job.Name, "error", err)
		}
	}
	return &model.RunResult{
		Status:      model.RunError,
		FilesCopied: exec.FilesCopied,
		BytesCopied: exec.BytesCopied,
		FolderPath:  exec.FolderPath,
		Message:     execErr.Error(),
	}
}

func (s *BackupService) newUnit(job *model.Job, decision *Decision, exec *ExecResult, status model.UnitStatus) *model.BackupUnit {
	unit := &model.BackupUnit{
		ID:         s.idgen.New(),
		JobID:      job.ID,
		Type:       decision.Type,
		FolderPath: exec.FolderPath,
		CreatedAt:  s.clock.Now(),
		FileCount:  exec.FilesCopied,
		ByteSize:   exec.BytesCopied,
		Status:     status,
	}
	if decision.Chain != nil {
		unit.ChainID = decision.Chain.ID
	}
	return unit
}

// commit writes the unit and its file list through the one transactional
// store call matching the decision, so the decision's re-validation and the
// unit creation cannot be split by a concurrent writer.
func (s *BackupService) commit(decision *Decision, unit *model.BackupUnit, files []model.UnitFile) error {
	switch decision.Type {
	case model.UnitBaseline:
		return s.store.CommitBaseline(decision.PrevChainID, decision.Chain, unit, files)
	case model.UnitIncremental:
		return s.store.CommitIncremental(decision.ExpectedCount, unit, files)
	default:
		return s.store.CommitSimple(unit, files)
	}
}

// finishRun stamps the duration, appends the run history entry and returns
// the result to the trigger.
func (s *BackupService) finishRun(job *model.Job, started time.Time, result *model.RunResult) *model.RunResult {
	result.Duration = s.clock.Now().Sub(started)

	rec := &model.RunRecord{
		ID:          s.idgen.New(),
		JobID:       job.ID,
		StartedAt:   started,
		Status:      result.Status,
		Message:     result.Message,
		FilesCopied: result.FilesCopied,
		BytesCopied: result.BytesCopied,
		Duration:    result.Duration,
	}
	if err := s.store.RecordRun(rec); err != nil {
		s.logger.Error("recording run history", "job", job.Name, "error", err)
	}

	return result
}
