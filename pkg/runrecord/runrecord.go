// Package runrecord keeps a small log of the apply runs that wrote into a
// dated backup folder. The records live in their own directory below the
// backup root, one file per day, so the dated folders hold nothing but the
// copied files.
package runrecord

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulschiretz/pgl-dayback/pkg/buildinfo"
	"github.com/paulschiretz/pgl-dayback/pkg/mutator"
	"github.com/paulschiretz/pgl-dayback/pkg/util"
)

// DirName is the directory below the backup root holding the record files.
const DirName = ".pgl-dayback.runs"

const fileExt = ".json"

// Run describes one apply run.
type Run struct {
	UUID         string    `json:"uuid"`
	Version      string    `json:"version"`
	TimestampUTC time.Time `json:"timestampUTC"`
	FilesCopied  int64     `json:"files_copied"`
	FilesNew     int64     `json:"files_new"`
	FilesChanged int64     `json:"files_changed"`
	FilesFailed  int64     `json:"files_failed"`
	BytesCopied  int64     `json:"bytes_copied"`
	Sources      []string  `json:"sources"`
}

// Record is the content of one record file.
type Record struct {
	Runs []Run `json:"runs"`
}

// NewRun returns a Run stamped with a fresh identifier, the build version and
// the current time.
func NewRun(now time.Time) Run {
	return Run{
		UUID:         uuid.NewString(),
		Version:      buildinfo.Version,
		TimestampUTC: now.UTC(),
	}
}

// Path returns the record file of the dated folder dayName.
func Path(absBackupDir, dayName string) string {
	return filepath.Join(absBackupDir, DirName, dayName+fileExt)
}

// Read parses the record of dayName. A missing file is returned as is so
// callers can check os.IsNotExist.
func Read(absBackupDir, dayName string) (Record, error) {
	path := Path(absBackupDir, dayName)
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("could not parse run record %s: %w", path, err)
	}
	return rec, nil
}

// Append adds run to the record of dayName and writes it back through mut.
// An unreadable record is replaced.
func Append(absBackupDir, dayName string, run Run, mut mutator.FileMutator) error {
	rec, err := Read(absBackupDir, dayName)
	if err != nil && !os.IsNotExist(err) {
		rec = Record{}
	}
	rec.Runs = append(rec.Runs, run)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal run record: %w", err)
	}
	path := Path(absBackupDir, dayName)
	if err := mut.MkdirAll(filepath.Dir(path)); err != nil {
		return fmt.Errorf("could not create run record directory: %w", err)
	}
	// The record belongs to the backup data, so group members may update it.
	if err := mut.WriteFileAtomic(path, data, util.UserGroupWritableFilePerms); err != nil {
		return fmt.Errorf("could not write run record %s: %w", path, err)
	}
	return nil
}

// RecordFile is a record file named after its day.
type RecordFile struct {
	AbsPath string
	Day     time.Time
}

// List returns the record files below absBackupDir, oldest first. Files whose
// name is not a day are ignored and a missing directory yields no entries.
func List(absBackupDir string) ([]RecordFile, error) {
	dir := filepath.Join(absBackupDir, DirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read run record directory %s: %w", dir, err)
	}

	var files []RecordFile
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), fileExt)
		if !ok || !e.Type().IsRegular() {
			continue
		}
		if day, ok := util.ParseDayName(name); ok {
			files = append(files, RecordFile{AbsPath: filepath.Join(dir, e.Name()), Day: day})
		}
	}
	slices.SortFunc(files, func(a, b RecordFile) int { return a.Day.Compare(b.Day) })
	return files, nil
}
