package core_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/zaja/SyncBackup/internal/core"
	"github.com/zaja/SyncBackup/internal/model"
	"github.com/zaja/SyncBackup/internal/testutil"
)

// harness wires a BackupService over an in-memory store and filesystem with
// a controllable clock.
type harness struct {
	store core.MetadataStore
	fs    *testutil.MockFilesystem
	clock *testutil.StubClock
	svc   *core.BackupService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := testutil.NewTestStore(t)
	fs := testutil.NewMockFilesystem()
	clock := testutil.FixedClock()
	svc := core.NewBackupService(store, fs, core.NewNopLogger(), clock, testutil.NewStubIDGenerator())
	return &harness{store: store, fs: fs, clock: clock, svc: svc}
}

func (h *harness) addJob(t *testing.T, name string, kind model.JobKind) *model.Job {
	t.Helper()
	job := &model.Job{
		ID: "job-" + name, Name: name, Kind: kind,
		SourcePath: "/src", DestPath: "/dst",
		PreserveDeleted: true,
		CreatedAt:       h.clock.Now(), UpdatedAt: h.clock.Now(),
	}
	if err := h.store.CreateJob(job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	return job
}

func (h *harness) seedSource(mtime time.Time) {
	h.fs.AddDirectory("/src")
	h.fs.AddFile("/src/a.txt", []byte("alpha"), mtime)
	h.fs.AddFile("/src/b.txt", []byte("beta"), mtime)
	h.fs.AddFile("/src/sub/c.txt", []byte("c"), mtime)
}

func TestBackupService_Run(t *testing.T) {
	mtime := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

	t.Run("first run creates a baseline of the whole tree", func(t *testing.T) {
		h := newHarness(t)
		h.seedSource(mtime)
		job := h.addJob(t, "docs", model.JobIncremental)

		res := h.svc.Run(job)
		if res.Status != model.RunSuccess {
			t.Fatalf("Status = %v (%s), want success", res.Status, res.Message)
		}
		if res.FilesCopied != 3 {
			t.Errorf("FilesCopied = %d, want 3", res.FilesCopied)
		}
		wantFolder := "/dst/docs_INCREMENTAL_INICIAL_20240115_103000"
		if res.FolderPath != wantFolder {
			t.Errorf("FolderPath = %q, want %q", res.FolderPath, wantFolder)
		}

		chain, err := h.store.ActiveChain(job.ID)
		if err != nil || chain == nil {
			t.Fatalf("ActiveChain() = %v, %v, want a chain", chain, err)
		}
		if chain.IncrementalCount != 0 {
			t.Errorf("IncrementalCount = %d, want 0", chain.IncrementalCount)
		}

		units, _ := h.store.UnitsForChain(chain.ID)
		if len(units) != 1 || units[0].Type != model.UnitBaseline {
			t.Fatalf("chain units = %+v, want one baseline", units)
		}
		if units[0].Status != model.UnitCompleted {
			t.Errorf("unit status = %v, want completed", units[0].Status)
		}

		history, _ := h.store.RunHistory(job.ID, 10)
		if len(history) != 1 || history[0].Status != model.RunSuccess {
			t.Errorf("history = %+v, want one success record", history)
		}
	})

	t.Run("modified and deleted files yield one incremental with a marker", func(t *testing.T) {
		h := newHarness(t)
		h.seedSource(mtime)
		job := h.addJob(t, "docs", model.JobIncremental)

		if res := h.svc.Run(job); res.Status != model.RunSuccess {
			t.Fatalf("baseline run: %v (%s)", res.Status, res.Message)
		}

		h.clock.Advance(time.Minute)
		h.fs.AddFile("/src/a.txt", []byte("alpha-v2"), mtime.Add(time.Hour))
		if err := h.fs.RemoveAll("/src/b.txt"); err != nil {
			t.Fatalf("RemoveAll() error = %v", err)
		}

		res := h.svc.Run(job)
		if res.Status != model.RunSuccess {
			t.Fatalf("Status = %v (%s), want success", res.Status, res.Message)
		}
		if res.FilesCopied != 1 {
			t.Errorf("FilesCopied = %d, want 1", res.FilesCopied)
		}
		wantFolder := "/dst/docs_INCREMENTAL_20240115_103100"
		if res.FolderPath != wantFolder {
			t.Errorf("FolderPath = %q, want %q", res.FolderPath, wantFolder)
		}

		if content, ok := h.fs.ReadFile(wantFolder + "/a.txt"); !ok || string(content) != "alpha-v2" {
			t.Errorf("a.txt = %q, ok = %v, want the new content", content, ok)
		}
		if _, ok := h.fs.ReadFile(wantFolder + "/b.txt_DELETED"); !ok {
			t.Error("b.txt_DELETED marker missing")
		}
		if _, ok := h.fs.ReadFile(wantFolder + "/sub/c.txt"); ok {
			t.Error("unchanged sub/c.txt was copied into the incremental")
		}

		chain, _ := h.store.ActiveChain(job.ID)
		if chain.IncrementalCount != 1 {
			t.Errorf("IncrementalCount = %d, want 1", chain.IncrementalCount)
		}
	})

	t.Run("runs without changes are skipped and create no unit", func(t *testing.T) {
		h := newHarness(t)
		h.seedSource(mtime)
		job := h.addJob(t, "docs", model.JobIncremental)

		if res := h.svc.Run(job); res.Status != model.RunSuccess {
			t.Fatalf("baseline run: %v (%s)", res.Status, res.Message)
		}

		for i := 0; i < 2; i++ {
			h.clock.Advance(time.Minute)
			res := h.svc.Run(job)
			if res.Status != model.RunSkipped {
				t.Fatalf("run %d: Status = %v, want skipped", i+2, res.Status)
			}
			if res.Message != "no changes detected" {
				t.Errorf("Message = %q, want \"no changes detected\"", res.Message)
			}
		}

		units, _ := h.store.UnitsForJob(job.ID)
		if len(units) != 1 {
			t.Errorf("units = %d, want 1", len(units))
		}
		history, _ := h.store.RunHistory(job.ID, 10)
		if len(history) != 3 {
			t.Errorf("history entries = %d, want 3", len(history))
		}
	})

	t.Run("reset threshold opens a new chain with a fresh baseline", func(t *testing.T) {
		h := newHarness(t)
		h.seedSource(mtime)
		job := h.addJob(t, "docs", model.JobIncremental)
		job.ResetChainAfter = 2

		if res := h.svc.Run(job); res.Status != model.RunSuccess {
			t.Fatalf("baseline run: %v (%s)", res.Status, res.Message)
		}
		firstChain, _ := h.store.ActiveChain(job.ID)

		for i := 0; i < 2; i++ {
			h.clock.Advance(time.Minute)
			h.fs.AddFile("/src/a.txt", []byte(fmt.Sprintf("rev-%d", i)), mtime.Add(time.Duration(i+1)*time.Hour))
			res := h.svc.Run(job)
			if res.Status != model.RunSuccess {
				t.Fatalf("incremental %d: %v (%s)", i+1, res.Status, res.Message)
			}
		}

		h.clock.Advance(time.Minute)
		h.fs.AddFile("/src/a.txt", []byte("rev-final"), mtime.Add(3*time.Hour))
		res := h.svc.Run(job)
		if res.Status != model.RunSuccess {
			t.Fatalf("reset run: %v (%s)", res.Status, res.Message)
		}
		if !strings.Contains(res.FolderPath, "_INCREMENTAL_INICIAL_") {
			t.Errorf("FolderPath = %q, want a baseline folder", res.FolderPath)
		}
		if res.FilesCopied != 3 {
			t.Errorf("FilesCopied = %d, want the full tree (3)", res.FilesCopied)
		}

		chains, _ := h.store.ChainsByAge(job.ID)
		if len(chains) != 2 {
			t.Fatalf("chains = %d, want 2", len(chains))
		}
		if chains[0].IncrementalCount != 0 || chains[0].Closed() {
			t.Errorf("new chain = %+v, want open with count 0", chains[0])
		}
		if chains[1].ID != firstChain.ID || !chains[1].Closed() {
			t.Errorf("old chain = %+v, want %s closed", chains[1], firstChain.ID)
		}
	})

	t.Run("second trigger while running is skipped", func(t *testing.T) {
		h := newHarness(t)
		h.seedSource(mtime)
		job := h.addJob(t, "docs", model.JobIncremental)

		acquired, err := h.store.TryAcquireRunLock(job.ID)
		if err != nil || !acquired {
			t.Fatalf("TryAcquireRunLock() = %v, %v", acquired, err)
		}

		res := h.svc.Run(job)
		if res.Status != model.RunSkipped || res.Message != "already running" {
			t.Fatalf("Run() = %v (%s), want skipped/already running", res.Status, res.Message)
		}
		units, _ := h.store.UnitsForJob(job.ID)
		if len(units) != 0 {
			t.Errorf("units = %d, want 0", len(units))
		}

		if err := h.store.ReleaseRunLock(job.ID); err != nil {
			t.Fatalf("ReleaseRunLock() error = %v", err)
		}
		if res := h.svc.Run(job); res.Status != model.RunSuccess {
			t.Errorf("run after release: %v (%s), want success", res.Status, res.Message)
		}
	})

	t.Run("missing source aborts with an error outcome", func(t *testing.T) {
		h := newHarness(t)
		job := h.addJob(t, "docs", model.JobIncremental)

		res := h.svc.Run(job)
		if res.Status != model.RunError {
			t.Fatalf("Status = %v, want error", res.Status)
		}
		units, _ := h.store.UnitsForJob(job.ID)
		if len(units) != 0 {
			t.Errorf("units = %d, want 0", len(units))
		}
		history, _ := h.store.RunHistory(job.ID, 10)
		if len(history) != 1 || history[0].Status != model.RunError {
			t.Errorf("history = %+v, want one error record", history)
		}
	})

	t.Run("partial baseline copy records a failed unit and the next run recovers", func(t *testing.T) {
		h := newHarness(t)
		h.fs.AddDirectory("/src")
		h.fs.AddFile("/src/a.txt", []byte("alpha"), mtime)
		h.fs.AddFile("/src/b.txt", []byte("beta"), mtime)
		job := h.addJob(t, "docs", model.JobIncremental)

		failedFolder := "/dst/docs_INCREMENTAL_INICIAL_20240115_103000"
		h.fs.CopyErrors[failedFolder+"/b.txt"] = fmt.Errorf("disk full")

		res := h.svc.Run(job)
		if res.Status != model.RunError {
			t.Fatalf("Status = %v, want error", res.Status)
		}
		if res.FolderPath != failedFolder {
			t.Errorf("FolderPath = %q, want %q", res.FolderPath, failedFolder)
		}

		units, _ := h.store.UnitsForJob(job.ID)
		if len(units) != 1 || units[0].Status != model.UnitFailed {
			t.Fatalf("units = %+v, want one failed unit", units)
		}
		if units[0].ChainID != "" {
			t.Errorf("failed baseline ChainID = %q, want empty (chain never committed)", units[0].ChainID)
		}
		if chain, _ := h.store.ActiveChain(job.ID); chain != nil {
			t.Errorf("ActiveChain = %+v, want nil", chain)
		}
		if exists, _ := h.fs.DirExists(failedFolder); !exists {
			t.Error("partial folder was removed, want retained for inspection")
		}

		// Next trigger starts over with a fresh baseline.
		delete(h.fs.CopyErrors, failedFolder+"/b.txt")
		h.clock.Advance(time.Minute)
		res = h.svc.Run(job)
		if res.Status != model.RunSuccess {
			t.Fatalf("recovery run: %v (%s)", res.Status, res.Message)
		}
		if !strings.Contains(res.FolderPath, "_INCREMENTAL_INICIAL_") {
			t.Errorf("recovery FolderPath = %q, want a baseline folder", res.FolderPath)
		}
		if res.FilesCopied != 2 {
			t.Errorf("recovery FilesCopied = %d, want 2", res.FilesCopied)
		}
	})

	t.Run("incremental partial failure does not advance the chain", func(t *testing.T) {
		h := newHarness(t)
		h.seedSource(mtime)
		job := h.addJob(t, "docs", model.JobIncremental)

		if res := h.svc.Run(job); res.Status != model.RunSuccess {
			t.Fatalf("baseline run: %v (%s)", res.Status, res.Message)
		}
		chain, _ := h.store.ActiveChain(job.ID)

		h.clock.Advance(time.Minute)
		h.fs.AddFile("/src/a.txt", []byte("alpha-v2"), mtime.Add(time.Hour))
		h.fs.AddFile("/src/b.txt", []byte("beta-v2"), mtime.Add(time.Hour))
		incFolder := "/dst/docs_INCREMENTAL_20240115_103100"
		h.fs.CopyErrors[incFolder+"/b.txt"] = fmt.Errorf("io error")

		res := h.svc.Run(job)
		if res.Status != model.RunError {
			t.Fatalf("Status = %v, want error", res.Status)
		}

		after, _ := h.store.ActiveChain(job.ID)
		if after.IncrementalCount != chain.IncrementalCount {
			t.Errorf("IncrementalCount = %d, want unchanged %d", after.IncrementalCount, chain.IncrementalCount)
		}

		// Both files are still pending against the reference.
		delete(h.fs.CopyErrors, incFolder+"/b.txt")
		h.clock.Advance(time.Minute)
		res = h.svc.Run(job)
		if res.Status != model.RunSuccess {
			t.Fatalf("retry run: %v (%s)", res.Status, res.Message)
		}
		if res.FilesCopied != 2 {
			t.Errorf("retry FilesCopied = %d, want 2", res.FilesCopied)
		}
		after, _ = h.store.ActiveChain(job.ID)
		if after.IncrementalCount != 1 {
			t.Errorf("IncrementalCount after retry = %d, want 1", after.IncrementalCount)
		}
	})

	t.Run("simple job snapshots the whole tree on every changed run", func(t *testing.T) {
		h := newHarness(t)
		h.fs.AddDirectory("/src")
		h.fs.AddFile("/src/a.txt", []byte("alpha"), mtime)
		h.fs.AddFile("/src/b.txt", []byte("beta"), mtime)
		job := h.addJob(t, "photos", model.JobSimple)

		res := h.svc.Run(job)
		if res.Status != model.RunSuccess {
			t.Fatalf("first run: %v (%s)", res.Status, res.Message)
		}
		if res.FolderPath != "/dst/photos_20240115_103000" {
			t.Errorf("FolderPath = %q, want /dst/photos_20240115_103000", res.FolderPath)
		}
		if res.FilesCopied != 2 {
			t.Errorf("FilesCopied = %d, want 2", res.FilesCopied)
		}

		h.clock.Advance(time.Minute)
		if res := h.svc.Run(job); res.Status != model.RunSkipped {
			t.Fatalf("unchanged run: %v, want skipped", res.Status)
		}

		h.clock.Advance(time.Minute)
		h.fs.AddFile("/src/a.txt", []byte("alpha-v2"), mtime.Add(time.Hour))
		res = h.svc.Run(job)
		if res.Status != model.RunSuccess {
			t.Fatalf("changed run: %v (%s)", res.Status, res.Message)
		}
		if res.FilesCopied != 2 {
			t.Errorf("FilesCopied = %d, want the full tree (2)", res.FilesCopied)
		}
		if _, ok := h.fs.ReadFile(res.FolderPath + "/b.txt"); !ok {
			t.Error("unchanged b.txt missing from the snapshot")
		}
	})

	t.Run("retention prunes expired units after a successful run", func(t *testing.T) {
		h := newHarness(t)
		h.fs.AddDirectory("/src")
		h.fs.AddFile("/src/a.txt", []byte("alpha"), mtime)
		job := h.addJob(t, "photos", model.JobSimple)
		job.KeepCount = 1

		first := h.svc.Run(job)
		if first.Status != model.RunSuccess {
			t.Fatalf("first run: %v (%s)", first.Status, first.Message)
		}

		h.clock.Advance(time.Minute)
		h.fs.AddFile("/src/a.txt", []byte("alpha-v2"), mtime.Add(time.Hour))
		second := h.svc.Run(job)
		if second.Status != model.RunSuccess {
			t.Fatalf("second run: %v (%s)", second.Status, second.Message)
		}

		if h.fs.Exists(first.FolderPath) {
			t.Errorf("expired folder %s still on disk", first.FolderPath)
		}
		units, _ := h.store.UnitsForJob(job.ID)
		if len(units) != 1 || units[0].FolderPath != second.FolderPath {
			t.Errorf("units = %+v, want only the second snapshot", units)
		}
	})

	t.Run("files in an unreadable subtree are not treated as deleted", func(t *testing.T) {
		h := newHarness(t)
		h.fs.AddDirectory("/src")
		h.fs.AddFile("/src/a.txt", []byte("alpha"), mtime)
		h.fs.AddFile("/src/private/secret.txt", []byte("s"), mtime)
		job := h.addJob(t, "docs", model.JobIncremental)

		if res := h.svc.Run(job); res.Status != model.RunSuccess {
			t.Fatalf("baseline run: %v (%s)", res.Status, res.Message)
		}

		h.clock.Advance(time.Minute)
		h.fs.DenyDir("/src/private")
		h.fs.AddFile("/src/a.txt", []byte("alpha-v2"), mtime.Add(time.Hour))

		res := h.svc.Run(job)
		if res.Status != model.RunSuccess {
			t.Fatalf("Status = %v (%s), want success", res.Status, res.Message)
		}
		if res.FilesCopied != 1 {
			t.Errorf("FilesCopied = %d, want 1", res.FilesCopied)
		}
		if _, ok := h.fs.ReadFile(res.FolderPath + "/private/secret.txt_DELETED"); ok {
			t.Error("deletion marker written for a file the scan could not read")
		}

		chain, _ := h.store.ActiveChain(job.ID)
		state, err := core.ReferenceState(h.store, chain.ID)
		if err != nil {
			t.Fatalf("ReferenceState() error = %v", err)
		}
		if _, ok := state["private/secret.txt"]; !ok {
			t.Error("private/secret.txt dropped from the chain's reference state")
		}
	})

	t.Run("partial scan is surfaced in the result message", func(t *testing.T) {
		h := newHarness(t)
		h.fs.AddDirectory("/src")
		h.fs.AddFile("/src/a.txt", []byte("alpha"), mtime)
		h.fs.DenyDir("/src/private")
		h.fs.AddFile("/src/private/secret.txt", []byte("s"), mtime)
		job := h.addJob(t, "docs", model.JobIncremental)

		res := h.svc.Run(job)
		if res.Status != model.RunSuccess {
			t.Fatalf("Status = %v (%s), want success", res.Status, res.Message)
		}
		if !strings.Contains(res.Message, "partial scan") {
			t.Errorf("Message = %q, want a partial scan note", res.Message)
		}
		if res.FilesCopied != 1 {
			t.Errorf("FilesCopied = %d, want 1", res.FilesCopied)
		}
	})
}
