// Package discovery walks the configured source trees and yields the regular
// files that are candidates for backup.
//
// The walk is lazy: nothing is read before the first value is pulled from
// the sequence, and every range over Files starts a fresh walk. Problems with
// individual entries (missing roots, permission errors, broken links, symlink
// cycles) are logged and skipped; they never end the walk early.
package discovery

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-dayback/pkg/plog"
	"github.com/paulschiretz/pgl-dayback/pkg/util"
)

// Candidate is a discovered source file.
type Candidate struct {
	AbsPath string
	// RelPathKey is the path relative to AbsRoot in forward-slash form. It is
	// the manifest key and the path below the dated backup folder.
	RelPathKey string
	AbsRoot    string
	Info       os.FileInfo
}

// fileID identifies a directory independent of the path used to reach it.
type fileID struct {
	dev uint64
	ino uint64
}

type Walker struct {
	roots        []string
	patterns     []string
	absBackupDir string
}

// NewWalker creates a walker for plan. Duplicate roots and empty exclusion
// patterns are dropped.
func NewWalker(plan Plan) *Walker {
	roots := make([]string, 0, len(plan.Roots))
	for _, r := range plan.Roots {
		if r != "" {
			roots = append(roots, filepath.Clean(r))
		}
	}
	var absBackupDir string
	if plan.AbsBackupDir != "" {
		absBackupDir = filepath.Clean(plan.AbsBackupDir)
	}
	return &Walker{
		roots:        util.DeduplicateStable(roots),
		patterns:     util.DeduplicateStable(plan.ExcludePatterns),
		absBackupDir: absBackupDir,
	}
}

// Files returns the sequence of candidate files. Iteration stops early when
// ctx is cancelled; callers check ctx.Err() afterwards.
func (w *Walker) Files(ctx context.Context) iter.Seq[Candidate] {
	return func(yield func(Candidate) bool) {
		run := &walkRun{
			Walker:    w,
			ctx:       ctx,
			yield:     yield,
			ancestors: make(map[fileID]struct{}),
			seenPaths: make(map[string]struct{}),
			seenKeys:  make(map[string]string),
		}
		// The backup root may not exist yet, e.g. on a first dry run.
		if w.absBackupDir != "" {
			if id, err := identityOf(w.absBackupDir); err == nil {
				run.backupID = id
				run.hasBackupID = true
			}
		}
		for _, root := range w.roots {
			if !run.walkRoot(root) {
				return
			}
		}
	}
}

// IsExcluded reports whether an entry with the given basename matches any
// exclusion pattern.
func (w *Walker) IsExcluded(name string) bool {
	for _, p := range w.patterns {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}

// walkRun holds the state of a single pass over all roots.
type walkRun struct {
	*Walker
	ctx   context.Context
	yield func(Candidate) bool

	backupID    fileID
	hasBackupID bool

	// ancestors holds the identities of the directories on the current path.
	ancestors map[fileID]struct{}
	seenPaths map[string]struct{}
	// seenKeys maps each emitted key to the path that claimed it.
	seenKeys map[string]string
}

// walkRoot walks one root. It returns false when iteration must stop.
func (r *walkRun) walkRoot(absRoot string) bool {
	info, err := os.Stat(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			plog.Warn("Source does not exist, skipping", "source", absRoot)
		} else {
			plog.Warn("Cannot access source, skipping", "source", absRoot, "error", err)
		}
		return true
	}
	if !info.IsDir() {
		plog.Warn("Source is not a directory, skipping", "source", absRoot)
		return true
	}
	if r.absBackupDir != "" && util.IsWithin(r.absBackupDir, absRoot) {
		plog.Warn("Source lies inside the backup directory, skipping", "source", absRoot, "backup_dir", r.absBackupDir)
		return true
	}

	id, err := identityOf(absRoot)
	if err != nil {
		plog.Warn("Cannot identify source, skipping", "source", absRoot, "error", err)
		return true
	}
	r.ancestors[id] = struct{}{}
	defer delete(r.ancestors, id)

	plog.Debug("Scanning source", "source", absRoot)
	return r.walkDir(absRoot, absRoot)
}

func (r *walkRun) walkDir(absRoot, absDir string) bool {
	if r.ctx.Err() != nil {
		return false
	}

	entries, err := os.ReadDir(absDir)
	if err != nil {
		// ReadDir may still return the entries it read before failing.
		plog.Warn("Error reading directory", "path", absDir, "error", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		absPath := filepath.Join(absDir, name)

		if r.IsExcluded(name) {
			plog.Debug("SKIP", "reason", "excluded by pattern", "path", absPath)
			continue
		}

		// Stat follows symlinks, so links to files and directories are
		// treated like their targets.
		info, err := os.Stat(absPath)
		if err != nil {
			plog.Warn("Error accessing path, skipping", "path", absPath, "error", err)
			continue
		}

		if info.IsDir() {
			if !r.enterDir(absRoot, absPath) {
				return false
			}
			continue
		}

		if !info.Mode().IsRegular() {
			plog.Debug("SKIP", "reason", "not a regular file", "type", info.Mode().Type().String(), "path", absPath)
			continue
		}

		if !r.emit(absRoot, absPath, info) {
			return false
		}
	}
	return true
}

// enterDir descends into absDir unless it is the backup directory or one of
// its own ancestors.
func (r *walkRun) enterDir(absRoot, absDir string) bool {
	if r.absBackupDir != "" && util.IsWithin(r.absBackupDir, absDir) {
		plog.Debug("SKIPDIR", "reason", "backup directory", "path", absDir)
		return true
	}

	id, err := identityOf(absDir)
	if err != nil {
		plog.Warn("Cannot identify directory, skipping", "path", absDir, "error", err)
		return true
	}
	if r.hasBackupID && id == r.backupID {
		plog.Debug("SKIPDIR", "reason", "backup directory", "path", absDir)
		return true
	}
	if _, loop := r.ancestors[id]; loop {
		plog.Warn("Symlink cycle detected, skipping", "path", absDir)
		return true
	}

	r.ancestors[id] = struct{}{}
	defer delete(r.ancestors, id)
	return r.walkDir(absRoot, absDir)
}

func (r *walkRun) emit(absRoot, absPath string, info os.FileInfo) bool {
	if _, dup := r.seenPaths[absPath]; dup {
		return true
	}
	r.seenPaths[absPath] = struct{}{}

	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		plog.Warn("Could not get relative path, skipping", "path", absPath, "error", err)
		return true
	}
	key := util.NormalizePath(rel)

	if owner, taken := r.seenKeys[key]; taken {
		plog.Warn("Relative path already claimed by another source, skipping", "key", key, "path", absPath, "claimed_by", owner)
		return true
	}
	r.seenKeys[key] = absPath

	return r.yield(Candidate{
		AbsPath:    absPath,
		RelPathKey: key,
		AbsRoot:    absRoot,
		Info:       info,
	})
}
