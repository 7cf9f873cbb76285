package engine

import (
	"path/filepath"

	"github.com/paulschiretz/pgl-dayback/pkg/changedetect"
	"github.com/paulschiretz/pgl-dayback/pkg/discovery"
	"github.com/paulschiretz/pgl-dayback/pkg/hashing"
	"github.com/paulschiretz/pgl-dayback/pkg/manifest"
	"github.com/paulschiretz/pgl-dayback/pkg/planner"
	"github.com/paulschiretz/pgl-dayback/pkg/plog"
	"github.com/paulschiretz/pgl-dayback/pkg/util"
)

// copyTask holds the state of the copy phase of one backup run.
type copyTask struct {
	*Runner

	plan      *planner.BackupPlan
	manifest  *manifest.Manifest
	detector  *changedetect.Detector
	absDayDir string
	dayName   string
	summary   *Summary
}

// process decides and, if needed, copies a single candidate. Failures are
// logged and counted; they never stop the batch.
func (t *copyTask) process(c discovery.Candidate) {
	t.summary.Discovered++
	t.metrics.AddFilesDiscovered(1)

	prev, found := t.manifest.Get(c.RelPathKey)
	res, err := t.detector.Decide(c, prev, found)
	if err != nil {
		t.fail(c, "Failed to hash file", err)
		return
	}
	if res.Decision != changedetect.Unchanged {
		t.metrics.AddBytesHashed(c.Info.Size())
	}

	switch res.Decision {
	case changedetect.Unchanged:
		t.summary.Unchanged++
		t.metrics.AddFilesSkipped(1)
		plog.Debug("SKIP", "path", c.RelPathKey, "reason", res.Decision)

	case changedetect.ChangedFalsePositive:
		// Same content; only the heuristic fields are refreshed.
		t.summary.HashSame++
		t.metrics.AddFilesSkipped(1)
		plog.Notice("SKIP", "path", c.RelPathKey, "reason", res.Decision)
		t.manifest.Set(c.RelPathKey, manifest.Entry{
			ContentHash:    prev.ContentHash,
			SizeBytes:      c.Info.Size(),
			ModifiedTime:   c.Info.ModTime().Unix(),
			LastBackupDate: prev.LastBackupDate,
		})

	case changedetect.New, changedetect.ChangedConfirmed:
		t.copy(c, res)
	}
}

func (t *copyTask) copy(c discovery.Candidate, res changedetect.Result) {
	absDst := filepath.Join(t.absDayDir, util.DenormalizePath(c.RelPathKey))
	relDst := util.NormalizePath(filepath.Join(t.dayName, util.DenormalizePath(c.RelPathKey)))

	// The manifest records what was actually copied, even if the source
	// changed after it was hashed for the decision.
	digest := t.plan.HashMethod.New()
	written, err := t.mut.CopyFile(c.AbsPath, absDst, digest)
	if err != nil {
		t.fail(c, "Failed to copy file", err)
		return
	}
	copiedHash := hashing.Hex(digest)
	if res.Hash != "" && copiedHash != res.Hash {
		plog.Warn("Source changed while copying, recording the copied content", "path", c.RelPathKey)
	}

	if t.plan.DryRun {
		plog.Info("[DRY RUN] COPY", "path", c.RelPathKey, "reason", res.Decision, "dest", relDst)
	} else {
		plog.Info("COPY", "path", c.RelPathKey, "reason", res.Decision, "dest", relDst)
	}

	t.summary.Copied++
	t.summary.BytesCopied += written
	if res.Decision == changedetect.New {
		t.summary.New++
	} else {
		t.summary.Changed++
	}
	t.metrics.AddFilesCopied(1)
	t.metrics.AddBytesCopied(written)

	t.manifest.Set(c.RelPathKey, manifest.Entry{
		ContentHash:    copiedHash,
		SizeBytes:      written,
		ModifiedTime:   c.Info.ModTime().Unix(),
		LastBackupDate: t.dayName,
	})
}

func (t *copyTask) fail(c discovery.Candidate, msg string, err error) {
	t.summary.Errors++
	t.metrics.AddFilesFailed(1)
	plog.Error(msg, "path", c.RelPathKey, "source", c.AbsPath, "error", err)
}
