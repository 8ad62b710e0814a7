package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zaja/SyncBackup/internal/config"
	"github.com/zaja/SyncBackup/internal/model"
)

// newTestApp creates an App over an in-memory database with logs under a
// temp directory.
func newTestApp(t *testing.T) *App {
	t.Helper()

	cfg := &config.Config{
		BaseDir:  t.TempDir(),
		LogDir:   t.TempDir(),
		Database: config.DatabaseConfig{Type: "memory"},
	}

	a, err := NewApp(cfg)
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	t.Cleanup(func() {
		a.Close()
	})
	return a
}

func writeSourceFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestApp_AddJob(t *testing.T) {
	t.Run("rejects missing name", func(t *testing.T) {
		a := newTestApp(t)
		_, err := a.AddJob(JobParams{Kind: "simple", SourcePath: "/s", DestPath: "/d"})
		if err == nil {
			t.Error("AddJob() without name succeeded")
		}
	})

	t.Run("rejects unknown kind", func(t *testing.T) {
		a := newTestApp(t)
		_, err := a.AddJob(JobParams{Name: "x", Kind: "differential", SourcePath: "/s", DestPath: "/d"})
		if err == nil {
			t.Error("AddJob() with unknown kind succeeded")
		}
	})

	t.Run("rejects negative counts", func(t *testing.T) {
		a := newTestApp(t)
		_, err := a.AddJob(JobParams{Name: "x", Kind: "simple", SourcePath: "/s", DestPath: "/d", KeepCount: -1})
		if err == nil {
			t.Error("AddJob() with negative keep count succeeded")
		}
	})

	t.Run("rejects duplicate names", func(t *testing.T) {
		a := newTestApp(t)
		p := JobParams{Name: "docs", Kind: "simple", SourcePath: "/s", DestPath: "/d"}
		if _, err := a.AddJob(p); err != nil {
			t.Fatalf("first AddJob() error = %v", err)
		}
		if _, err := a.AddJob(p); err == nil {
			t.Error("second AddJob() with same name succeeded")
		}
	})

	t.Run("persists the job with absolute paths", func(t *testing.T) {
		a := newTestApp(t)
		job, err := a.AddJob(JobParams{
			Name: "docs", Kind: "incremental",
			SourcePath: "/src/docs", DestPath: "/backup",
			PreserveDeleted: true, ResetChainAfter: 10,
			ExcludePatterns: []string{".git"}, KeepCount: 3,
		})
		if err != nil {
			t.Fatalf("AddJob() error = %v", err)
		}
		if job.ID == "" {
			t.Error("job ID is empty")
		}
		if !filepath.IsAbs(job.SourcePath) || !filepath.IsAbs(job.DestPath) {
			t.Errorf("paths not absolute: %q, %q", job.SourcePath, job.DestPath)
		}

		jobs, err := a.ListJobs()
		if err != nil {
			t.Fatalf("ListJobs() error = %v", err)
		}
		if len(jobs) != 1 || jobs[0].Name != "docs" {
			t.Errorf("jobs = %+v, want [docs]", jobs)
		}
		if jobs[0].Kind != model.JobIncremental || jobs[0].ResetChainAfter != 10 {
			t.Errorf("job = %+v, want incremental with reset 10", jobs[0])
		}
	})
}

func TestApp_RunJob(t *testing.T) {
	t.Run("fails for an unknown job", func(t *testing.T) {
		a := newTestApp(t)
		if _, err := a.RunJob("nope"); err == nil {
			t.Error("RunJob(unknown) succeeded")
		}
	})

	t.Run("runs a simple job end to end", func(t *testing.T) {
		a := newTestApp(t)
		source := t.TempDir()
		dest := t.TempDir()
		writeSourceFile(t, source, "a.txt", "alpha")
		writeSourceFile(t, source, "sub/b.txt", "beta")

		if _, err := a.AddJob(JobParams{
			Name: "docs", Kind: "simple", SourcePath: source, DestPath: dest,
		}); err != nil {
			t.Fatalf("AddJob() error = %v", err)
		}

		res, err := a.RunJob("docs")
		if err != nil {
			t.Fatalf("RunJob() error = %v", err)
		}
		if res.Status != model.RunSuccess {
			t.Fatalf("Status = %v (%s), want success", res.Status, res.Message)
		}
		if res.FilesCopied != 2 {
			t.Errorf("FilesCopied = %d, want 2", res.FilesCopied)
		}

		copied := filepath.Join(res.FolderPath, "sub", "b.txt")
		if content, err := os.ReadFile(copied); err != nil || string(content) != "beta" {
			t.Errorf("copied content = %q, %v, want beta", content, err)
		}

		// A second unchanged run is skipped.
		res, err = a.RunJob("docs")
		if err != nil {
			t.Fatalf("second RunJob() error = %v", err)
		}
		if res.Status != model.RunSkipped {
			t.Errorf("second run Status = %v, want skipped", res.Status)
		}

		history, err := a.History("docs", 10)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(history) != 2 {
			t.Errorf("history = %d entries, want 2", len(history))
		}
	})
}

func TestApp_RunAll(t *testing.T) {
	a := newTestApp(t)

	sourceA := t.TempDir()
	sourceB := t.TempDir()
	dest := t.TempDir()
	writeSourceFile(t, sourceA, "a.txt", "alpha")
	writeSourceFile(t, sourceB, "b.txt", "beta")

	for _, name := range []string{"alpha", "beta"} {
		source := sourceA
		if name == "beta" {
			source = sourceB
		}
		if _, err := a.AddJob(JobParams{
			Name: name, Kind: "simple", SourcePath: source, DestPath: dest,
		}); err != nil {
			t.Fatalf("AddJob(%s) error = %v", name, err)
		}
	}

	outcomes, err := a.RunAll()
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Result.Status != model.RunSuccess {
			t.Errorf("job %s: Status = %v (%s), want success", o.Job.Name, o.Result.Status, o.Result.Message)
		}
	}
}

func TestApp_RemoveJob(t *testing.T) {
	a := newTestApp(t)

	if _, err := a.AddJob(JobParams{Name: "docs", Kind: "simple", SourcePath: "/s", DestPath: "/d"}); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}

	if err := a.RemoveJob("docs"); err != nil {
		t.Fatalf("RemoveJob() error = %v", err)
	}
	jobs, _ := a.ListJobs()
	if len(jobs) != 0 {
		t.Errorf("jobs = %d, want 0", len(jobs))
	}

	if err := a.RemoveJob("docs"); err == nil {
		t.Error("RemoveJob() on a removed job succeeded")
	}
}
