package runrecord

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/paulschiretz/pgl-dayback/pkg/mutator"
)

func TestAppendAndRead(t *testing.T) {
	backupDir := t.TempDir()
	mut := mutator.NewOS(0)
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	first := NewRun(now)
	first.FilesCopied = 2
	first.FilesNew = 2
	first.Sources = []string{"/src"}
	second := NewRun(now.Add(time.Hour))
	second.FilesCopied = 1
	second.FilesChanged = 1

	for _, run := range []Run{first, second} {
		if err := Append(backupDir, "2024-03-15", run, mut); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	rec, err := Read(backupDir, "2024-03-15")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if diff := cmp.Diff([]Run{first, second}, rec.Runs); diff != "" {
		t.Errorf("unexpected runs (-want +got):\n%s", diff)
	}

	want := filepath.Join(backupDir, DirName, "2024-03-15.json")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected record at %s: %v", want, err)
	}
	if _, err := os.Stat(filepath.Join(backupDir, "2024-03-15")); !os.IsNotExist(err) {
		t.Error("expected no dated folder to be created for the record")
	}
}

func TestNewRun(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	run := NewRun(now)
	if _, err := uuid.Parse(run.UUID); err != nil {
		t.Errorf("expected a valid UUID, got %q: %v", run.UUID, err)
	}
	if run.TimestampUTC.Location() != time.UTC || !run.TimestampUTC.Equal(now) {
		t.Errorf("expected UTC timestamp equal to %v, got %v", now, run.TimestampUTC)
	}
	if NewRun(now).UUID == run.UUID {
		t.Error("expected a fresh UUID per run")
	}
}

func TestAppend_ReplacesCorruptRecord(t *testing.T) {
	backupDir := t.TempDir()
	path := Path(backupDir, "2024-03-15")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := Append(backupDir, "2024-03-15", NewRun(time.Now()), mutator.NewOS(0)); err != nil {
		t.Fatal(err)
	}
	rec, err := Read(backupDir, "2024-03-15")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(rec.Runs))
	}
}

func TestRead_Missing(t *testing.T) {
	if _, err := Read(t.TempDir(), "2024-03-15"); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestAppend_DryRun(t *testing.T) {
	backupDir := t.TempDir()
	if err := Append(backupDir, "2024-03-15", NewRun(time.Now()), mutator.NewNoop()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(backupDir, DirName)); !os.IsNotExist(err) {
		t.Error("expected no record directory in dry-run")
	}
}

func TestList(t *testing.T) {
	backupDir := t.TempDir()
	dir := filepath.Join(backupDir, DirName)
	if err := os.MkdirAll(filepath.Join(dir, "2024-01-01.json"), 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"2024-03-15.json", "2023-12-31.json", "notes.json", "2024-02-30.json", "2024-03-01.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := List(backupDir)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, f := range files {
		got = append(got, filepath.Base(f.AbsPath))
	}
	want := []string{"2023-12-31.json", "2024-03-15.json"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected record files (-want +got):\n%s", diff)
	}

	t.Run("Missing Directory", func(t *testing.T) {
		files, err := List(t.TempDir())
		if err != nil || len(files) != 0 {
			t.Errorf("expected no files and no error, got %v, %v", files, err)
		}
	})
}
