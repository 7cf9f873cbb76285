package pathretention

import (
	"context"
	"time"

	"github.com/paulschiretz/pgl-dayback/pkg/plog"
	"github.com/paulschiretz/pgl-dayback/pkg/runrecord"
	"github.com/paulschiretz/pgl-dayback/pkg/util"
)

// task holds the mutable state for a single prune.
type task struct {
	*PathRetainer

	ctx         context.Context
	absBasePath string

	entries    []DatedEntry
	maxAgeDays int
	today      time.Time
	dryRun     bool
}

func (t *task) execute() (Result, error) {
	res, err := t.pruneDays()
	if err != nil {
		return res, err
	}
	t.pruneRecords()
	return res, nil
}

func (t *task) pruneDays() (Result, error) {
	toDelete := t.filterToDelete()

	var res Result
	if len(toDelete) == 0 {
		if t.dryRun {
			plog.Debug("[DRY RUN] No backups need deletion", "max_age_days", t.maxAgeDays)
		} else {
			plog.Debug("No backups need deletion", "max_age_days", t.maxAgeDays)
		}
		return res, nil
	}

	plog.Info("Deleting outdated backups", "count", len(toDelete), "max_age_days", t.maxAgeDays)

	for _, e := range toDelete {
		if err := t.ctx.Err(); err != nil {
			plog.Debug("Cancellation received, stopping retention.")
			return res, err
		}

		age := util.DaysBetween(e.Day, t.today)
		if t.dryRun {
			plog.Info("[DRY RUN] DELETE", "path", e.Name, "age_days", age)
			res.Removed = append(res.Removed, e.Name)
			continue
		}

		plog.Info("DELETE", "path", e.Name, "age_days", age)
		if err := t.mut.RemoveAll(e.absPath(t.absBasePath)); err != nil {
			res.Failed++
			plog.Warn("Failed to delete outdated backup", "path", e.Name, "error", err)
			continue
		}
		t.metrics.AddFoldersRemoved(1)
		res.Removed = append(res.Removed, e.Name)
	}
	return res, nil
}

// pruneRecords removes the run records of days past the threshold. They go
// with their day even when the folder itself was removed by hand, and are not
// counted in the result.
func (t *task) pruneRecords() {
	records, err := runrecord.List(t.absBasePath)
	if err != nil {
		plog.Warn("Failed to list run records", "error", err)
		return
	}
	for _, rec := range records {
		if util.DaysBetween(rec.Day, t.today) <= t.maxAgeDays {
			continue
		}
		if t.dryRun {
			plog.Debug("[DRY RUN] DELETE run record", "path", rec.AbsPath)
			continue
		}
		plog.Debug("DELETE run record", "path", rec.AbsPath)
		if err := t.mut.RemoveAll(rec.AbsPath); err != nil {
			plog.Warn("Failed to delete run record", "path", rec.AbsPath, "error", err)
		}
	}
}

// filterToDelete keeps the entries whose age is strictly greater than the
// threshold. An entry exactly maxAgeDays old is kept.
func (t *task) filterToDelete() []DatedEntry {
	var toDelete []DatedEntry
	for _, e := range t.entries {
		if util.DaysBetween(e.Day, t.today) > t.maxAgeDays {
			toDelete = append(toDelete, e)
		}
	}
	plog.Debug("Total backups to be deleted", "count", len(toDelete), "total", len(t.entries))
	return toDelete
}
