package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/paulschiretz/pgl-dayback/pkg/buildinfo"
	"github.com/paulschiretz/pgl-dayback/pkg/changedetect"
	"github.com/paulschiretz/pgl-dayback/pkg/discovery"
	"github.com/paulschiretz/pgl-dayback/pkg/hashing"
	"github.com/paulschiretz/pgl-dayback/pkg/hints"
	"github.com/paulschiretz/pgl-dayback/pkg/hook"
	"github.com/paulschiretz/pgl-dayback/pkg/lockfile"
	"github.com/paulschiretz/pgl-dayback/pkg/manifest"
	"github.com/paulschiretz/pgl-dayback/pkg/pathcompression"
	"github.com/paulschiretz/pgl-dayback/pkg/pathretention"
	"github.com/paulschiretz/pgl-dayback/pkg/planner"
	"github.com/paulschiretz/pgl-dayback/pkg/plog"
	"github.com/paulschiretz/pgl-dayback/pkg/runrecord"
	"github.com/paulschiretz/pgl-dayback/pkg/util"
)

// --- ARCHITECTURAL OVERVIEW: Core Strategies ---
//
// 1. Copy - "Heuristic, then Hash"
//    - Size and whole-second mtime decide first. Only a mismatch pays for a
//      content hash, and an equal hash only refreshes the manifest entry.
//    - A failed copy never touches the manifest entry of that file, so the
//      next run sees the file as new or changed again.
//
// 2. Retention - "Calendar Age"
//    - Age is the number of calendar days between the name of a dated folder
//      (or archive) and today. Anything strictly older than the threshold goes.
//
// 3. Compression - "Seal, then Pack"
//    - Only days before today are sealed. A sealed folder without an archive
//      is packed on every run until it succeeds; a failure leaves the folder
//      in place and never fails the run.
//    - Days pruned by the same run are never packed, so a dry run reports
//      what the apply run would do.
//
// 4. Manifest - "Once per Run"
//    - The manifest is read once and written once, after pruning. An
//      interrupted run loses its manifest updates; the copies it made are
//      simply repeated by the next run.

func (r *Runner) ExecuteBackup(ctx context.Context, p *planner.BackupPlan) (Summary, error) {
	summary := Summary{DryRun: p.DryRun}

	// Check for cancellation at the very beginning.
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if r.mut.DryRun() != p.DryRun {
		return summary, fmt.Errorf("file mutator does not match run mode %s", p.Mode)
	}

	now := r.now()
	dayName := util.DayName(now)
	absDayDir := filepath.Join(p.AbsBackupDir, dayName)

	if p.DryRun {
		plog.Info("Running in dry-run mode. Use --apply to make changes.")
	} else {
		if err := r.mut.MkdirAll(p.AbsBackupDir); err != nil {
			return summary, fmt.Errorf("failed to create backup directory: %w", err)
		}
		releaseLock, err := r.acquireLock(ctx, p.AbsBackupDir)
		if err != nil {
			return summary, err
		}
		defer releaseLock()
	}

	// --- Pre-Backup Hooks ---
	hookPlan := withHookDay(p.Hooks, dayName)
	if err := r.hooks.RunPreHook(ctx, hookPlan); err != nil && !hints.IsHint(err) {
		errMsg := "pre-backup hook failed"
		if errors.Is(err, context.Canceled) {
			errMsg = "pre-backup hook canceled"
		}
		return summary, fmt.Errorf("%s: %w", errMsg, err)
	}

	// --- Post-Backup Hooks (deferred) ---
	// These run at the end of the function, even if the backup fails.
	defer func() {
		if err := r.hooks.RunPostHook(ctx, hookPlan); err != nil && !hints.IsHint(err) {
			if errors.Is(err, context.Canceled) {
				plog.Info("post-backup hooks skipped due to cancellation.")
			} else {
				plog.Warn("post-backup hook failed", "error", err)
			}
		}
	}()

	m, err := manifest.Load(p.AbsBackupDir)
	if err != nil {
		return summary, err
	}

	plog.Info("Starting backup", "backup_dir", p.AbsBackupDir, "day", dayName, "mode", p.Mode, "manifest_entries", m.Len())

	r.metrics.StartProgress("Backup progress", progressInterval)
	copyTask := &copyTask{
		Runner:    r,
		plan:      p,
		manifest:  m,
		detector:  changedetect.NewDetector(hashing.NewHasher(p.HashMethod)),
		absDayDir: absDayDir,
		dayName:   dayName,
		summary:   &summary,
	}
	for c := range discovery.NewWalker(*p.Discovery).Files(ctx) {
		copyTask.process(c)
	}
	r.metrics.StopProgress()
	if err := ctx.Err(); err != nil {
		plog.Warn("Backup interrupted, manifest left unchanged", "copied", summary.Copied)
		return summary, err
	}
	plog.Info("Discovered candidate files", "count", summary.Discovered)

	// --- Retention ---
	pruneRes, err := r.retainer.Prune(ctx, p.AbsBackupDir, p.Retention, now)
	summary.Removed = len(pruneRes.Removed)
	summary.Errors += pruneRes.Failed
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return summary, err
		case hints.IsHint(err):
			plog.Debug("Retention skipped", "reason", err)
		default:
			plog.Warn("Error during prune, skipping prune", "error", err)
		}
	}

	// --- Compression ---
	compressRes, err := r.compressor.Compress(ctx, p.AbsBackupDir, withCompressionSkip(p.Compression, pruneRes.Removed), now)
	summary.Archived = len(compressRes.Archived)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return summary, err
		case hints.IsHint(err):
			plog.Debug("Compression skipped", "reason", err)
		default:
			plog.Warn("Error during compress, skipping compress", "error", err)
		}
	}

	// --- Persist ---
	if p.DryRun {
		plog.Debug("[DRY RUN] Skipping manifest save", "entries", m.Len())
	} else {
		if err := m.Save(p.AbsBackupDir, r.mut); err != nil {
			return summary, err
		}
		plog.Debug("Manifest saved", "entries", m.Len())

		if summary.Copied > 0 {
			r.writeRunRecord(p, dayName, summary)
		}
	}

	logSummary(summary)
	r.metrics.LogSummary("Run metrics")
	return summary, nil
}

func (r *Runner) ExecutePrune(ctx context.Context, p *planner.PrunePlan) (pathretention.Result, error) {
	// Check for cancellation at the very beginning.
	if err := ctx.Err(); err != nil {
		return pathretention.Result{}, err
	}
	if r.mut.DryRun() != p.DryRun {
		return pathretention.Result{}, fmt.Errorf("file mutator does not match run mode %s", p.Mode)
	}

	if _, err := os.Stat(p.AbsBackupDir); err != nil {
		if os.IsNotExist(err) {
			plog.Info("Backup directory does not exist, nothing to prune", "path", p.AbsBackupDir)
			return pathretention.Result{}, nil
		}
		return pathretention.Result{}, fmt.Errorf("failed to access backup directory: %w", err)
	}

	if p.DryRun {
		plog.Info("Running in dry-run mode. Use --apply to make changes.")
	} else {
		releaseLock, err := r.acquireLock(ctx, p.AbsBackupDir)
		if err != nil {
			return pathretention.Result{}, err
		}
		defer releaseLock()
	}

	plog.Info("Starting prune", "backup_dir", p.AbsBackupDir, "max_age_days", p.Retention.MaxAgeDays, "mode", p.Mode)

	res, err := r.retainer.Prune(ctx, p.AbsBackupDir, p.Retention, r.now())
	if err != nil {
		if hints.IsHint(err) {
			plog.Info("Nothing to prune", "reason", err)
			return res, nil
		}
		return res, fmt.Errorf("error during prune: %w", err)
	}

	plog.Info("Prune completed", "removed", len(res.Removed), "errors", res.Failed, "dry_run", p.DryRun)
	r.metrics.LogSummary("Prune metrics")
	return res, nil
}

// acquireLock takes the run lock in absBackupDir and returns its release
// function. A lock held by a live run is an error.
func (r *Runner) acquireLock(ctx context.Context, absBackupDir string) (func(), error) {
	appID := fmt.Sprintf("%s:%s", strings.ToLower(buildinfo.Name), absBackupDir)

	plog.Debug("Attempting to acquire lock", "path", absBackupDir)
	lock, err := lockfile.Acquire(ctx, absBackupDir, appID)
	if err != nil {
		var lockErr *lockfile.ErrLockActive
		if errors.As(err, &lockErr) {
			return nil, fmt.Errorf("another run is active for this backup directory: %w", err)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	plog.Debug("Lock acquired successfully.")
	return lock.Release, nil
}

func (r *Runner) writeRunRecord(p *planner.BackupPlan, dayName string, s Summary) {
	run := runrecord.NewRun(r.now())
	run.FilesCopied = int64(s.Copied)
	run.FilesNew = int64(s.New)
	run.FilesChanged = int64(s.Changed)
	run.FilesFailed = int64(s.Errors)
	run.BytesCopied = s.BytesCopied
	run.Sources = p.Discovery.Roots
	if err := runrecord.Append(p.AbsBackupDir, dayName, run, r.mut); err != nil {
		plog.Warn("Failed to write run record", "day", dayName, "error", err)
	}
}

// withCompressionSkip returns a copy of p that leaves the pruned days alone.
// A dry run still sees them on disk.
func withCompressionSkip(p *pathcompression.Plan, removed []string) *pathcompression.Plan {
	withSkip := *p
	withSkip.Skip = slices.Clone(removed)
	return &withSkip
}

// withHookDay returns a copy of p whose environment also names the day
// folder of this run.
func withHookDay(p *hook.Plan, dayName string) *hook.Plan {
	withDay := *p
	withDay.Env = append(slices.Clone(p.Env), planner.EnvDay+"="+dayName)
	return &withDay
}

func logSummary(s Summary) {
	plog.Info("Summary",
		"copied", s.Copied,
		"new", s.New,
		"changed", s.Changed,
		"unchanged", s.Unchanged,
		"hash_same", s.HashSame,
		"skipped", s.Skipped(),
		"errors", s.Errors,
		"removed", s.Removed,
		"archived", s.Archived,
		"dry_run", s.DryRun,
	)
}
