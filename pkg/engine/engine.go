// Package engine runs one backup or prune pass by wiring the leaf workers
// together in a fixed order:
//
//	lock -> pre hooks -> manifest -> discover/decide/copy -> prune -> compress
//	     -> manifest save -> run record -> post hooks -> unlock
//
// The run mode is decided once. Every write goes through the injected
// FileMutator, so a dry run executes exactly the same decisions as an apply
// run and only the mutation layer differs.
package engine

import (
	"context"
	"time"

	"github.com/paulschiretz/pgl-dayback/pkg/hook"
	"github.com/paulschiretz/pgl-dayback/pkg/metrics"
	"github.com/paulschiretz/pgl-dayback/pkg/mutator"
	"github.com/paulschiretz/pgl-dayback/pkg/pathcompression"
	"github.com/paulschiretz/pgl-dayback/pkg/pathretention"
)

type HookRunner interface {
	RunPreHook(ctx context.Context, p *hook.Plan) error
	RunPostHook(ctx context.Context, p *hook.Plan) error
}

type Retainer interface {
	Prune(ctx context.Context, absBackupDir string, p *pathretention.Plan, today time.Time) (pathretention.Result, error)
}

type Compressor interface {
	Compress(ctx context.Context, absBackupDir string, p *pathcompression.Plan, today time.Time) (pathcompression.Result, error)
}

var _ HookRunner = (*hook.HookExecutor)(nil)
var _ Retainer = (*pathretention.PathRetainer)(nil)
var _ Compressor = (*pathcompression.PathCompressor)(nil)

// progressInterval is how often a run with metrics enabled logs progress.
const progressInterval = 10 * time.Second

// Runner executes plans with the leaf workers it was built with.
type Runner struct {
	mut        mutator.FileMutator
	hooks      HookRunner
	retainer   Retainer
	compressor Compressor
	metrics    metrics.Metrics

	// now is the run clock; tests pin it to a fixed day.
	now func() time.Time
}

// NewRunner creates a Runner. A nil metrics disables metric collection.
func NewRunner(mut mutator.FileMutator, hooks HookRunner, retainer Retainer, compressor Compressor, m metrics.Metrics) *Runner {
	if m == nil {
		m = &metrics.NoopMetrics{}
	}
	return &Runner{
		mut:        mut,
		hooks:      hooks,
		retainer:   retainer,
		compressor: compressor,
		metrics:    m,
		now:        time.Now,
	}
}

// Summary is the end-of-run tally.
type Summary struct {
	Discovered  int
	Copied      int
	New         int
	Changed     int
	Unchanged   int
	HashSame    int
	Errors      int
	Removed     int
	Archived    int
	BytesCopied int64
	DryRun      bool
}

// Skipped counts the files that needed no copy.
func (s Summary) Skipped() int {
	return s.Unchanged + s.HashSame
}
