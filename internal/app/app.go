package app

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zaja/SyncBackup/internal/config"
	"github.com/zaja/SyncBackup/internal/core"
	"github.com/zaja/SyncBackup/internal/database"
	"github.com/zaja/SyncBackup/internal/fs"
	"github.com/zaja/SyncBackup/internal/model"
)

// App is the application layer between the CLI and the backup engine.
// It constructs all dependencies from config, exposes high-level operations
// on jobs by name, and manages the store lifecycle on Close.
type App struct {
	cfg     *config.Config
	store   *database.SQLiteStore
	service *core.BackupService
	logger  core.Logger
	clock   core.Clock
	logFile *os.File
}

// NewApp creates a fully wired App from the given config. The schema is
// migrated to the latest version on open. The caller must call Close when
// done.
func NewApp(cfg *config.Config) (*App, error) {
	store, err := database.NewStoreFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating metadata store: %w", err)
	}

	if err := store.MigrateUp(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	if err := store.CheckMigrations(); err != nil {
		store.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	logger := &slogAdapter{l: slogger}
	osfs := fs.NewOSFilesystem()
	svc := core.NewBackupService(store, osfs, logger, core.RealClock{}, core.UUIDGenerator{})

	return &App{
		cfg:     cfg,
		store:   store,
		service: svc,
		logger:  logger,
		clock:   core.RealClock{},
		logFile: logFile,
	}, nil
}

// JobParams is the user-supplied definition of a new job.
type JobParams struct {
	Name            string
	Kind            string
	SourcePath      string
	DestPath        string
	PreserveDeleted bool
	ResetChainAfter int
	ExcludePatterns []string
	KeepCount       int
}

// AddJob validates the params and persists a new job.
func (a *App) AddJob(p JobParams) (*model.Job, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("job name is required")
	}
	kind := model.JobKind(p.Kind)
	if kind != model.JobSimple && kind != model.JobIncremental {
		return nil, fmt.Errorf("job kind must be %q or %q", model.JobSimple, model.JobIncremental)
	}
	if p.ResetChainAfter < 0 || p.KeepCount < 0 {
		return nil, fmt.Errorf("reset-after and keep counts cannot be negative")
	}

	existing, err := a.store.GetJobByName(p.Name)
	if err != nil {
		return nil, fmt.Errorf("checking for existing job: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("job %q already exists", p.Name)
	}

	source, err := filepath.Abs(p.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("resolving source path: %w", err)
	}
	dest, err := filepath.Abs(p.DestPath)
	if err != nil {
		return nil, fmt.Errorf("resolving destination path: %w", err)
	}

	now := a.clock.Now()
	job := &model.Job{
		ID:              uuid.New().String(),
		Name:            p.Name,
		Kind:            kind,
		SourcePath:      source,
		DestPath:        dest,
		PreserveDeleted: p.PreserveDeleted,
		ResetChainAfter: p.ResetChainAfter,
		ExcludePatterns: p.ExcludePatterns,
		KeepCount:       p.KeepCount,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := a.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	a.logger.Info("job created", "job", job.Name, "kind", string(job.Kind))
	return job, nil
}

// ListJobs returns all configured jobs.
func (a *App) ListJobs() ([]*model.Job, error) {
	return a.store.ListJobs()
}

// RemoveJob deletes a job and all its metadata. Backup folders already on
// disk are left untouched.
func (a *App) RemoveJob(name string) error {
	job, err := a.jobByName(name)
	if err != nil {
		return err
	}
	if err := a.store.DeleteJob(job.ID); err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	a.logger.Info("job removed", "job", name)
	return nil
}

// RunJob triggers one run for the named job.
func (a *App) RunJob(name string) (*model.RunResult, error) {
	job, err := a.jobByName(name)
	if err != nil {
		return nil, err
	}
	return a.service.Run(job), nil
}

// JobOutcome pairs a job with its run result for RunAll.
type JobOutcome struct {
	Job    *model.Job
	Result *model.RunResult
}

// RunAll runs every job, each on its own worker. The per-job lock in the
// store keeps a job from overlapping itself; different jobs may run in
// parallel because the store serializes their metadata writes.
func (a *App) RunAll() ([]JobOutcome, error) {
	jobs, err := a.store.ListJobs()
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}

	outcomes := make([]JobOutcome, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job *model.Job) {
			defer wg.Done()
			outcomes[i] = JobOutcome{Job: job, Result: a.service.Run(job)}
		}(i, job)
	}
	wg.Wait()

	return outcomes, nil
}

// ReconcileJob resolves orphan folders and missing-baseline chains for the
// named job without performing a backup.
func (a *App) ReconcileJob(name string) (*core.ReconcileReport, error) {
	job, err := a.jobByName(name)
	if err != nil {
		return nil, err
	}
	return a.service.Reconcile(job)
}

// History returns the named job's most recent runs.
func (a *App) History(name string, limit int) ([]*model.RunRecord, error) {
	job, err := a.jobByName(name)
	if err != nil {
		return nil, err
	}
	return a.store.RunHistory(job.ID, limit)
}

func (a *App) jobByName(name string) (*model.Job, error) {
	job, err := a.store.GetJobByName(name)
	if err != nil {
		return nil, fmt.Errorf("looking up job: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("no job named %q", name)
	}
	return job, nil
}

// Close closes the store and the log file.
func (a *App) Close() error {
	err := a.store.Close()
	if a.logFile != nil {
		a.logFile.Close()
	}
	return err
}
