// Package pathcompression packs sealed day folders into single archive files.
//
// A day folder is sealed once its day has passed: no later run writes into
// it again. Every sealed folder without an archive yet is packed into
// <day>.<format> next to it, and the folder is removed once the archive has
// been renamed into place. The strategy is fail-forward: a folder that
// cannot be packed is left as it is and the run continues.
package pathcompression

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/pgl-dayback/pkg/hints"
	"github.com/paulschiretz/pgl-dayback/pkg/metrics"
	"github.com/paulschiretz/pgl-dayback/pkg/mutator"
	"github.com/paulschiretz/pgl-dayback/pkg/plog"
	"github.com/paulschiretz/pgl-dayback/pkg/util"
)

var ErrDisabled = hints.New("compression is disabled")
var ErrNothingToCompress = hints.New("nothing to compress")

// Result lists the day folders that were (or in dry-run would be) archived.
type Result struct {
	Archived []string
	Failed   int
}

type PathCompressor struct {
	mut     mutator.FileMutator
	metrics metrics.Metrics
}

// NewPathCompressor creates a new PathCompressor. Folder removal after a
// successful archive goes through mut.
func NewPathCompressor(mut mutator.FileMutator, m metrics.Metrics) *PathCompressor {
	if m == nil {
		m = &metrics.NoopMetrics{}
	}
	return &PathCompressor{mut: mut, metrics: m}
}

// Compress archives every sealed day folder of absBackupDir, i.e. every day
// before today that has no archive yet.
func (c *PathCompressor) Compress(ctx context.Context, absBackupDir string, p *Plan, today time.Time) (Result, error) {
	if !p.Enabled {
		return Result{}, ErrDisabled
	}

	days, err := sealedDays(absBackupDir, today, p.Skip)
	if err != nil {
		return Result{}, err
	}
	if len(days) == 0 {
		return Result{}, ErrNothingToCompress
	}

	if p.DryRun {
		for _, day := range days {
			plog.Info("[DRY RUN] COMPRESS", "path", day, "format", p.Format)
		}
		return Result{Archived: days}, nil
	}

	workers := max(p.Workers, 1)
	plog.Info("Compressing sealed backups", "count", len(days), "format", p.Format, "workers", workers)

	var (
		mu  sync.Mutex
		res Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, day := range days {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := c.compressDay(gctx, absBackupDir, day, p)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				plog.Warn("Failed to compress backup, leaving it uncompressed", "path", day, "error", err)
				return nil
			}
			res.Archived = append(res.Archived, day)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	slices.Sort(res.Archived)
	return res, nil
}

// compressDay writes <day>.<format> atomically and then removes the folder.
func (c *PathCompressor) compressDay(ctx context.Context, absBackupDir, day string, p *Plan) (retErr error) {
	absDayDir := filepath.Join(absBackupDir, day)
	absArchivePath := filepath.Join(absBackupDir, day+p.Format.Extension())
	plog.Notice("COMPRESS", "path", day, "archive", filepath.Base(absArchivePath))

	tmp, err := os.CreateTemp(absBackupDir, "pgl-dayback-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if retErr != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := newCompressor(p.Format, p.Level).compress(ctx, absDayDir, tmp); err != nil {
		return err
	}
	if err := tmp.Chmod(util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to set permissions on temp archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp archive: %w", err)
	}
	if err := os.Rename(tmpPath, absArchivePath); err != nil {
		return fmt.Errorf("failed to rename temp archive to final path: %w", err)
	}

	// The archive is complete; a leftover folder is retried on the next run
	// only if its archive goes missing.
	if err := c.mut.RemoveAll(absDayDir); err != nil {
		plog.Warn("Archive created but failed to remove folder", "path", day, "error", err)
	}
	c.metrics.AddFoldersArchived(1)
	return nil
}

// sealedDays lists the day folders older than today that have no archive in
// any format. Days named in skip are left out.
func sealedDays(absBackupDir string, today time.Time, skip []string) ([]string, error) {
	entries, err := os.ReadDir(absBackupDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory %s: %w", absBackupDir, err)
	}

	skipped := make(map[string]bool, len(skip))
	for _, name := range skip {
		if day, ok := util.ParseDayName(name); ok {
			skipped[util.DayName(day)] = true
		} else if day, _, ok := util.ParseDayArchiveName(name); ok {
			skipped[util.DayName(day)] = true
		}
	}

	archived := make(map[string]bool)
	var folders []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			if day, ok := util.ParseDayName(name); ok && util.DaysBetween(day, today) > 0 {
				folders = append(folders, name)
			}
			continue
		}
		if day, _, ok := util.ParseDayArchiveName(name); ok {
			archived[util.DayName(day)] = true
		}
	}

	var days []string
	for _, name := range folders {
		if skipped[name] {
			plog.Debug("Backup is being removed, skipping", "path", name)
			continue
		}
		if archived[name] {
			plog.Debug("Archive already exists, skipping", "path", name)
			continue
		}
		days = append(days, name)
	}
	slices.Sort(days)
	return days, nil
}
