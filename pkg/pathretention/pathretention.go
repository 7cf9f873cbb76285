// Package pathretention removes dated backup folders, and the archives made
// from them, once they are older than the retention threshold.
//
// Only immediate children of the backup root whose names parse strictly as
// YYYY-MM-DD (folders) or YYYY-MM-DD.<archive extension> (files) are
// considered. Everything else, including the manifest, is left alone. The
// age is computed from the name in whole calendar days, so the result does
// not depend on the time of day the run starts.
package pathretention

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/paulschiretz/pgl-dayback/pkg/hints"
	"github.com/paulschiretz/pgl-dayback/pkg/metrics"
	"github.com/paulschiretz/pgl-dayback/pkg/mutator"
	"github.com/paulschiretz/pgl-dayback/pkg/plog"
	"github.com/paulschiretz/pgl-dayback/pkg/util"
)

// ErrDisabled is returned (as a hint) when the plan disables pruning.
var ErrDisabled = hints.New("retention is disabled")

// Result describes what a prune removed or would have removed.
type Result struct {
	// Removed lists the names of the removed entries, oldest first.
	Removed []string
	// Failed counts entries that could not be removed.
	Failed int
}

// DatedEntry is a child of the backup root carrying a day in its name.
type DatedEntry struct {
	Name      string
	Day       time.Time
	IsArchive bool
}

type PathRetainer struct {
	mut     mutator.FileMutator
	metrics metrics.Metrics
}

// NewPathRetainer creates a new PathRetainer.
func NewPathRetainer(mut mutator.FileMutator, m metrics.Metrics) *PathRetainer {
	if m == nil {
		m = &metrics.NoopMetrics{}
	}
	return &PathRetainer{mut: mut, metrics: m}
}

// Prune removes every dated entry of absBackupDir whose age relative to
// today exceeds plan.MaxAgeDays. Individual failures are logged and counted;
// only a failure to list the backup root is returned as an error.
func (r *PathRetainer) Prune(ctx context.Context, absBackupDir string, plan *Plan, today time.Time) (Result, error) {
	if !plan.Enabled || plan.MaxAgeDays <= 0 {
		return Result{}, ErrDisabled
	}

	entries, err := ListDated(absBackupDir)
	if err != nil {
		return Result{}, err
	}

	t := &task{
		PathRetainer: r,
		ctx:          ctx,
		absBasePath:  absBackupDir,
		entries:      entries,
		maxAgeDays:   plan.MaxAgeDays,
		today:        today,
		dryRun:       plan.DryRun,
	}
	return t.execute()
}

// ListDated returns the dated folders and archives of absBackupDir, oldest
// first. A missing backup root yields no entries.
func ListDated(absBackupDir string) ([]DatedEntry, error) {
	dirEntries, err := os.ReadDir(absBackupDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			plog.Debug("Backup directory does not exist yet, nothing to prune", "path", absBackupDir)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory %s: %w", absBackupDir, err)
	}

	var dated []DatedEntry
	for _, e := range dirEntries {
		name := e.Name()
		if e.IsDir() {
			if day, ok := util.ParseDayName(name); ok {
				dated = append(dated, DatedEntry{Name: name, Day: day})
			}
			continue
		}
		if e.Type().IsRegular() {
			if day, _, ok := util.ParseDayArchiveName(name); ok {
				dated = append(dated, DatedEntry{Name: name, Day: day, IsArchive: true})
			}
		}
	}

	slices.SortStableFunc(dated, func(a, b DatedEntry) int {
		return a.Day.Compare(b.Day)
	})
	return dated, nil
}

// absPath returns the absolute path of e below absBackupDir.
func (e DatedEntry) absPath(absBackupDir string) string {
	return filepath.Join(absBackupDir, e.Name)
}
