// Package manifest keeps track of what was backed up. The manifest lives in
// the backup root and maps each normalized relative path to the content hash,
// size and modification time seen at its last successful backup.
package manifest

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/paulschiretz/pgl-dayback/pkg/mutator"
	"github.com/paulschiretz/pgl-dayback/pkg/plog"
	"github.com/paulschiretz/pgl-dayback/pkg/util"
)

// FileName is the name of the manifest inside the backup root.
const FileName = "manifest.json"

// Entry describes one file at its last successful backup.
type Entry struct {
	ContentHash    string `json:"content_hash"`
	SizeBytes      int64  `json:"size_bytes"`
	ModifiedTime   int64  `json:"modified_time"`    // epoch seconds
	LastBackupDate string `json:"last_backup_date"` // YYYY-MM-DD
}

// Manifest is owned by a single run and is not safe for concurrent use.
type Manifest struct {
	Files map[string]Entry `json:"files"`
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{Files: make(map[string]Entry)}
}

// Load reads the manifest from absBackupDir. A missing file yields an empty
// manifest. A corrupt file is reported as a warning and also yields an empty
// manifest, so the next save replaces it. Other read errors are returned.
func Load(absBackupDir string) (*Manifest, error) {
	path := filepath.Join(absBackupDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			plog.Debug("No manifest found, starting with an empty one", "path", path)
			return New(), nil
		}
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	m := New()
	if err := json.Unmarshal(data, m); err != nil {
		plog.Warn("Manifest is corrupt, starting with an empty one", "path", path, "error", err)
		return New(), nil
	}
	if m.Files == nil {
		m.Files = make(map[string]Entry)
	}
	plog.Debug("Manifest loaded", "path", path, "entries", len(m.Files))
	return m, nil
}

// Save writes the manifest atomically through mut.
func (m *Manifest) Save(absBackupDir string, mut mutator.FileMutator) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	path := filepath.Join(absBackupDir, FileName)
	if err := mut.WriteFileAtomic(path, data, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	return nil
}

// Get returns the entry stored under key.
func (m *Manifest) Get(key string) (Entry, bool) {
	e, ok := m.Files[key]
	return e, ok
}

// Set stores e under key.
func (m *Manifest) Set(key string, e Entry) {
	m.Files[key] = e
}

// Len returns the number of tracked files.
func (m *Manifest) Len() int {
	return len(m.Files)
}

// Keys returns all keys in sorted order.
func (m *Manifest) Keys() []string {
	return slices.Sorted(maps.Keys(m.Files))
}
