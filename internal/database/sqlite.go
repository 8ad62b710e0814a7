package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zaja/SyncBackup/internal/core"
	"github.com/zaja/SyncBackup/internal/database/migrations"
	"github.com/zaja/SyncBackup/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements core.MetadataStore on SQLite. SQLite's single
// writer gives the store the serialize-writes guarantee concurrent job
// workers rely on; the chain commits add their own re-validation inside
// each transaction.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens a SQLite metadata store.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// NewSQLiteStoreFromDB wraps an existing database connection. The caller
// is responsible for ensuring the connection is properly configured.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenConnection opens and configures a SQLite connection with the
// PRAGMAs the store depends on. Exported for tools and tests.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The PRAGMAs below are per-connection, and an in-memory database
	// exists per connection too.
	db.SetMaxOpenConns(1)

	// Foreign keys default to OFF in SQLite for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	// Wait for locks instead of failing immediately when several job
	// workers write at once.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// CheckMigrations verifies the schema is at the latest version.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

// MigrateUp brings the schema to the latest version.
func (s *SQLiteStore) MigrateUp() error {
	return migrations.MigrateUp(s.db)
}

// Job operations

const jobColumns = `id, name, kind, source_path, dest_path, preserve_deleted,
	reset_chain_after, exclude_patterns, keep_count, created_at, updated_at`

func (s *SQLiteStore) GetJob(id string) (*model.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

func (s *SQLiteStore) GetJobByName(name string) (*model.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE name = ?`, name)
	return scanJob(row)
}

func (s *SQLiteStore) ListJobs() ([]*model.Job, error) {
	rows, err := s.db.Query(`SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *SQLiteStore) CreateJob(job *model.Job) error {
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, name, kind, source_path, dest_path, preserve_deleted,
			reset_chain_after, exclude_patterns, keep_count, running, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		job.ID, job.Name, string(job.Kind), job.SourcePath, job.DestPath,
		job.PreserveDeleted, job.ResetChainAfter, joinPatterns(job.ExcludePatterns),
		job.KeepCount, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateJob(job *model.Job) error {
	_, err := s.db.Exec(`
		UPDATE jobs SET name = ?, kind = ?, source_path = ?, dest_path = ?,
			preserve_deleted = ?, reset_chain_after = ?, exclude_patterns = ?,
			keep_count = ?, updated_at = ?
		WHERE id = ?`,
		job.Name, string(job.Kind), job.SourcePath, job.DestPath,
		job.PreserveDeleted, job.ResetChainAfter, joinPatterns(job.ExcludePatterns),
		job.KeepCount, job.UpdatedAt, job.ID)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteJob(id string) error {
	// Cascades to chains, units, unit files and run history.
	if _, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	return nil
}

// Run lock

func (s *SQLiteStore) TryAcquireRunLock(jobID string) (bool, error) {
	res, err := s.db.Exec(`UPDATE jobs SET running = 1 WHERE id = ? AND running = 0`, jobID)
	if err != nil {
		return false, fmt.Errorf("acquiring run lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquiring run lock: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) ReleaseRunLock(jobID string) error {
	if _, err := s.db.Exec(`UPDATE jobs SET running = 0 WHERE id = ?`, jobID); err != nil {
		return fmt.Errorf("releasing run lock: %w", err)
	}
	return nil
}

// Chain operations

const chainColumns = `id, job_id, created_at, incremental_count, closed_at`

func (s *SQLiteStore) ActiveChain(jobID string) (*model.Chain, error) {
	row := s.db.QueryRow(`
		SELECT `+chainColumns+` FROM chains
		WHERE job_id = ? AND closed_at IS NULL
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, jobID)
	return scanChain(row)
}

func (s *SQLiteStore) ChainsByAge(jobID string) ([]*model.Chain, error) {
	rows, err := s.db.Query(`
		SELECT `+chainColumns+` FROM chains
		WHERE job_id = ? ORDER BY created_at DESC, rowid DESC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("listing chains: %w", err)
	}
	defer rows.Close()

	var chains []*model.Chain
	for rows.Next() {
		chain, err := scanChain(rows)
		if err != nil {
			return nil, err
		}
		chains = append(chains, chain)
	}
	return chains, rows.Err()
}

func (s *SQLiteStore) CloseChain(chainID string, at time.Time) error {
	if _, err := s.db.Exec(`UPDATE chains SET closed_at = ? WHERE id = ?`, at, chainID); err != nil {
		return fmt.Errorf("closing chain: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteChain(chainID string) error {
	if _, err := s.db.Exec(`DELETE FROM chains WHERE id = ?`, chainID); err != nil {
		return fmt.Errorf("deleting chain: %w", err)
	}
	return nil
}

// Unit operations

const unitColumns = `id, job_id, chain_id, unit_type, folder_path, created_at,
	file_count, byte_size, status`

func (s *SQLiteStore) UnitsForChain(chainID string) ([]*model.BackupUnit, error) {
	rows, err := s.db.Query(`
		SELECT `+unitColumns+` FROM backup_units
		WHERE chain_id = ? ORDER BY created_at, rowid`, chainID)
	if err != nil {
		return nil, fmt.Errorf("listing chain units: %w", err)
	}
	defer rows.Close()
	return collectUnits(rows)
}

func (s *SQLiteStore) UnitsForJob(jobID string) ([]*model.BackupUnit, error) {
	rows, err := s.db.Query(`
		SELECT `+unitColumns+` FROM backup_units
		WHERE job_id = ? ORDER BY created_at DESC, rowid DESC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("listing job units: %w", err)
	}
	defer rows.Close()
	return collectUnits(rows)
}

func (s *SQLiteStore) LatestCompletedUnit(jobID string) (*model.BackupUnit, error) {
	row := s.db.QueryRow(`
		SELECT `+unitColumns+` FROM backup_units
		WHERE job_id = ? AND status = 'completed'
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, jobID)
	return scanUnit(row)
}

func (s *SQLiteStore) UnitFiles(unitID string) ([]model.UnitFile, error) {
	rows, err := s.db.Query(`
		SELECT path, mtime_ns, size, state FROM unit_files
		WHERE unit_id = ? ORDER BY path`, unitID)
	if err != nil {
		return nil, fmt.Errorf("listing unit files: %w", err)
	}
	defer rows.Close()

	var files []model.UnitFile
	for rows.Next() {
		var f model.UnitFile
		var mtimeNS int64
		var state string
		if err := rows.Scan(&f.Path, &mtimeNS, &f.Size, &state); err != nil {
			return nil, fmt.Errorf("scanning unit file: %w", err)
		}
		f.ModTime = time.Unix(0, mtimeNS)
		f.State = model.FileState(state)
		files = append(files, f)
	}
	return files, rows.Err()
}

// CommitBaseline closes the previously active chain, creates the new chain
// and records its baseline unit in one transaction. The job's active chain
// is re-read inside the transaction; if it no longer matches what the
// run's decision observed, nothing is written and the commit fails with
// core.ErrChainConflict.
func (s *SQLiteStore) CommitBaseline(prevChainID string, chain *model.Chain, unit *model.BackupUnit, files []model.UnitFile) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var activeID string
	err = tx.QueryRow(`
		SELECT id FROM chains WHERE job_id = ? AND closed_at IS NULL
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, chain.JobID).Scan(&activeID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("validating active chain: %w", err)
	}
	if activeID != prevChainID {
		return fmt.Errorf("active chain is %q, decision observed %q: %w",
			activeID, prevChainID, core.ErrChainConflict)
	}

	if prevChainID != "" {
		if _, err := tx.Exec(`UPDATE chains SET closed_at = ? WHERE id = ?`,
			unit.CreatedAt, prevChainID); err != nil {
			return fmt.Errorf("closing previous chain: %w", err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO chains (id, job_id, created_at, incremental_count, closed_at)
		VALUES (?, ?, ?, 0, NULL)`,
		chain.ID, chain.JobID, chain.CreatedAt); err != nil {
		return fmt.Errorf("creating chain: %w", err)
	}

	if err := insertUnit(tx, unit, files); err != nil {
		return err
	}
	return tx.Commit()
}

// CommitIncremental records an incremental unit and advances its chain's
// counter in one transaction. The chain's state is re-read inside the
// transaction; a closed chain or a moved counter fails with
// core.ErrChainConflict and nothing is written.
func (s *SQLiteStore) CommitIncremental(expectedCount int, unit *model.BackupUnit, files []model.UnitFile) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	var closedAt sql.NullTime
	err = tx.QueryRow(`SELECT incremental_count, closed_at FROM chains WHERE id = ?`,
		unit.ChainID).Scan(&count, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("chain %s no longer exists: %w", unit.ChainID, core.ErrChainConflict)
	}
	if err != nil {
		return fmt.Errorf("validating chain: %w", err)
	}
	if closedAt.Valid {
		return fmt.Errorf("chain %s was closed: %w", unit.ChainID, core.ErrChainConflict)
	}
	if count != expectedCount {
		return fmt.Errorf("chain %s advanced from %d to %d: %w",
			unit.ChainID, expectedCount, count, core.ErrChainConflict)
	}

	if err := insertUnit(tx, unit, files); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		UPDATE chains SET incremental_count = incremental_count + 1 WHERE id = ?`,
		unit.ChainID); err != nil {
		return fmt.Errorf("advancing chain counter: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) CommitSimple(unit *model.BackupUnit, files []model.UnitFile) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertUnit(tx, unit, files); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) RecordFailedUnit(unit *model.BackupUnit) error {
	_, err := s.db.Exec(`
		INSERT INTO backup_units (id, job_id, chain_id, unit_type, folder_path,
			created_at, file_count, byte_size, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'failed')`,
		unit.ID, unit.JobID, nullable(unit.ChainID), string(unit.Type),
		unit.FolderPath, unit.CreatedAt, unit.FileCount, unit.ByteSize)
	if err != nil {
		return fmt.Errorf("recording failed unit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteUnit(unitID string) error {
	// Cascades to unit_files.
	if _, err := s.db.Exec(`DELETE FROM backup_units WHERE id = ?`, unitID); err != nil {
		return fmt.Errorf("deleting unit: %w", err)
	}
	return nil
}

// Run history

func (s *SQLiteStore) RecordRun(rec *model.RunRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO job_runs (id, job_id, started_at, status, message,
			files_copied, bytes_copied, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.JobID, rec.StartedAt, string(rec.Status), rec.Message,
		rec.FilesCopied, rec.BytesCopied, rec.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RunHistory(jobID string, limit int) ([]*model.RunRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, job_id, started_at, status, message, files_copied, bytes_copied, duration_ms
		FROM job_runs WHERE job_id = ?
		ORDER BY started_at DESC, rowid DESC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing run history: %w", err)
	}
	defer rows.Close()

	var recs []*model.RunRecord
	for rows.Next() {
		rec := &model.RunRecord{}
		var status string
		var durationMS int64
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.StartedAt, &status, &rec.Message,
			&rec.FilesCopied, &rec.BytesCopied, &durationMS); err != nil {
			return nil, fmt.Errorf("scanning run record: %w", err)
		}
		rec.Status = model.RunStatus(status)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	job := &model.Job{}
	var kind, patterns string
	err := row.Scan(&job.ID, &job.Name, &kind, &job.SourcePath, &job.DestPath,
		&job.PreserveDeleted, &job.ResetChainAfter, &patterns, &job.KeepCount,
		&job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning job: %w", err)
	}
	job.Kind = model.JobKind(kind)
	job.ExcludePatterns = splitPatterns(patterns)
	return job, nil
}

func scanChain(row rowScanner) (*model.Chain, error) {
	chain := &model.Chain{}
	var closedAt sql.NullTime
	err := row.Scan(&chain.ID, &chain.JobID, &chain.CreatedAt, &chain.IncrementalCount, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning chain: %w", err)
	}
	if closedAt.Valid {
		t := closedAt.Time
		chain.ClosedAt = &t
	}
	return chain, nil
}

func scanUnit(row rowScanner) (*model.BackupUnit, error) {
	unit := &model.BackupUnit{}
	var chainID sql.NullString
	var unitType, status string
	err := row.Scan(&unit.ID, &unit.JobID, &chainID, &unitType, &unit.FolderPath,
		&unit.CreatedAt, &unit.FileCount, &unit.ByteSize, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning unit: %w", err)
	}
	unit.ChainID = chainID.String
	unit.Type = model.UnitType(unitType)
	unit.Status = model.UnitStatus(status)
	return unit, nil
}

func collectUnits(rows *sql.Rows) ([]*model.BackupUnit, error) {
	var units []*model.BackupUnit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, rows.Err()
}

func insertUnit(tx *sql.Tx, unit *model.BackupUnit, files []model.UnitFile) error {
	if _, err := tx.Exec(`
		INSERT INTO backup_units (id, job_id, chain_id, unit_type, folder_path,
			created_at, file_count, byte_size, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		unit.ID, unit.JobID, nullable(unit.ChainID), string(unit.Type),
		unit.FolderPath, unit.CreatedAt, unit.FileCount, unit.ByteSize,
		string(unit.Status)); err != nil {
		return fmt.Errorf("inserting unit: %w", err)
	}

	for _, f := range files {
		if _, err := tx.Exec(`
			INSERT INTO unit_files (unit_id, path, mtime_ns, size, state)
			VALUES (?, ?, ?, ?, ?)`,
			unit.ID, f.Path, f.ModTime.UnixNano(), f.Size, string(f.State)); err != nil {
			return fmt.Errorf("inserting file entry %s: %w", f.Path, err)
		}
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func joinPatterns(patterns []string) string {
	return strings.Join(patterns, ",")
}

func splitPatterns(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Compile-time check that SQLiteStore implements core.MetadataStore
var _ core.MetadataStore = (*SQLiteStore)(nil)
