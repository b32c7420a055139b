package history

import (
	"path/filepath"
	"testing"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := newTestRepository(t)

	run := &Run{
		RunID:    "f2b4e9a0-1111-2222-3333-444455556666",
		Action:   ActionFlash,
		Port:     "/dev/ttyUSB0",
		ImageRef: "http://example.com/tasmota.bin",
		Status:   StatusRunning,
	}
	if err := repo.Create(run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if run.ID == 0 {
		t.Error("run ID not populated after create")
	}

	got, err := repo.GetByRunID(run.RunID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got == nil {
		t.Fatal("run not found after create")
	}
	if got.Action != ActionFlash || got.Port != "/dev/ttyUSB0" || got.Status != StatusRunning {
		t.Errorf("retrieved run mismatch: %+v", got)
	}
	if got.FinishedAt != "" {
		t.Errorf("fresh run has finished_at %q", got.FinishedAt)
	}
}

func TestRepository_GetMissing(t *testing.T) {
	repo := newTestRepository(t)

	got, err := repo.GetByRunID("no-such-run")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v for a missing run, want nil", got)
	}
}

func TestRepository_Finish(t *testing.T) {
	repo := newTestRepository(t)

	run := &Run{RunID: "run-1", Action: ActionBackup, Port: "COM3", Status: StatusRunning}
	if err := repo.Create(run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	if err := repo.Finish("run-1", StatusSuccess, "", "backup_20240315_093045.bin"); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	got, _ := repo.GetByRunID("run-1")
	if got.Status != StatusSuccess {
		t.Errorf("status = %q, want %q", got.Status, StatusSuccess)
	}
	if got.BackupPath != "backup_20240315_093045.bin" {
		t.Errorf("backup path = %q", got.BackupPath)
	}
	if got.FinishedAt == "" {
		t.Error("finished_at not set")
	}
}

func TestRepository_FinishUnknownRun(t *testing.T) {
	repo := newTestRepository(t)

	if err := repo.Finish("ghost", StatusFailed, "boom", ""); err == nil {
		t.Error("finishing an unknown run succeeded")
	}
}

func TestRepository_SetSHA256(t *testing.T) {
	repo := newTestRepository(t)

	run := &Run{RunID: "run-2", Action: ActionFlash, Port: "p", Status: StatusRunning}
	repo.Create(run)

	if err := repo.SetSHA256("run-2", "deadbeef"); err != nil {
		t.Fatalf("failed to set sha: %v", err)
	}
	got, _ := repo.GetByRunID("run-2")
	if got.SHA256 != "deadbeef" {
		t.Errorf("sha = %q, want deadbeef", got.SHA256)
	}
}

func TestRepository_List(t *testing.T) {
	repo := newTestRepository(t)

	repo.Create(&Run{RunID: "a", Action: ActionFlash, Port: "p1", Status: StatusRunning})
	repo.Create(&Run{RunID: "b", Action: ActionBackup, Port: "p2", Status: StatusRunning})
	repo.Finish("b", StatusFailed, "could not open port", "")

	runs, err := repo.List()
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
}

func TestRepository_RejectsUnknownStatus(t *testing.T) {
	repo := newTestRepository(t)

	err := repo.Create(&Run{RunID: "x", Action: ActionFlash, Port: "p", Status: "exploded"})
	if err == nil {
		t.Error("unknown status accepted despite schema constraint")
	}
}
