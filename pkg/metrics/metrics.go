// Package metrics collects optional progress statistics for a run. Metrics
// are enabled with --metrics; otherwise NoopMetrics is used and the calling
// code stays the same.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/paulschiretz/pgl-dayback/pkg/plog"
)

// Metrics defines the interface for collecting and reporting run statistics.
type Metrics interface {
	AddFilesDiscovered(n int64)
	AddFilesCopied(n int64)
	AddFilesSkipped(n int64)
	AddFilesFailed(n int64)
	AddBytesHashed(n int64)
	AddBytesCopied(n int64)
	AddFoldersRemoved(n int64)
	AddFoldersArchived(n int64)
	LogSummary(msg string)

	StartProgress(msg string, interval time.Duration)
	StopProgress()
}

// RunMetrics holds the atomic counters for tracking a run's progress.
// It is the concrete implementation of the Metrics interface.
type RunMetrics struct {
	FilesDiscovered atomic.Int64
	FilesCopied     atomic.Int64
	FilesSkipped    atomic.Int64
	FilesFailed     atomic.Int64
	BytesHashed     atomic.Int64
	BytesCopied     atomic.Int64
	FoldersRemoved  atomic.Int64
	FoldersArchived atomic.Int64

	mu        sync.Mutex
	stopChan  chan struct{}
	doneChan  chan struct{}
	startTime time.Time
}

func (m *RunMetrics) AddFilesDiscovered(n int64) { m.FilesDiscovered.Add(n) }
func (m *RunMetrics) AddFilesCopied(n int64)     { m.FilesCopied.Add(n) }
func (m *RunMetrics) AddFilesSkipped(n int64)    { m.FilesSkipped.Add(n) }
func (m *RunMetrics) AddFilesFailed(n int64)     { m.FilesFailed.Add(n) }
func (m *RunMetrics) AddBytesHashed(n int64)     { m.BytesHashed.Add(n) }
func (m *RunMetrics) AddBytesCopied(n int64)     { m.BytesCopied.Add(n) }
func (m *RunMetrics) AddFoldersRemoved(n int64)  { m.FoldersRemoved.Add(n) }
func (m *RunMetrics) AddFoldersArchived(n int64) { m.FoldersArchived.Add(n) }

// StartProgress logs a summary every interval until StopProgress is called.
// Calling it while progress reporting is already running has no effect.
func (m *RunMetrics) StartProgress(msg string, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopChan != nil {
		return
	}
	m.startTime = time.Now()
	m.stopChan = make(chan struct{})
	m.doneChan = make(chan struct{})

	stop, done := m.stopChan, m.doneChan
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogSummary(msg)
			case <-stop:
				return
			}
		}
	}()
}

// StopProgress stops the progress ticker and waits for it to exit.
func (m *RunMetrics) StopProgress() {
	m.mu.Lock()
	stop, done := m.stopChan, m.doneChan
	m.stopChan, m.doneChan = nil, nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// LogSummary prints the current counters with a custom message.
// This can be called by the background ticker or at the end of the run.
func (m *RunMetrics) LogSummary(msg string) {
	m.mu.Lock()
	start := m.startTime
	m.mu.Unlock()

	duration := time.Duration(0)
	if !start.IsZero() {
		duration = time.Since(start)
	}

	plog.Info(msg,
		"files_discovered", m.FilesDiscovered.Load(),
		"files_copied", m.FilesCopied.Load(),
		"files_skipped", m.FilesSkipped.Load(),
		"files_failed", m.FilesFailed.Load(),
		"bytes_hashed", humanize.Bytes(uint64(m.BytesHashed.Load())),
		"bytes_copied", humanize.Bytes(uint64(m.BytesCopied.Load())),
		"folders_removed", m.FoldersRemoved.Load(),
		"folders_archived", m.FoldersArchived.Load(),
		"duration", duration.Round(time.Millisecond),
	)
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
type NoopMetrics struct{}

func (m *NoopMetrics) AddFilesDiscovered(n int64)                       {}
func (m *NoopMetrics) AddFilesCopied(n int64)                           {}
func (m *NoopMetrics) AddFilesSkipped(n int64)                          {}
func (m *NoopMetrics) AddFilesFailed(n int64)                           {}
func (m *NoopMetrics) AddBytesHashed(n int64)                           {}
func (m *NoopMetrics) AddBytesCopied(n int64)                           {}
func (m *NoopMetrics) AddFoldersRemoved(n int64)                        {}
func (m *NoopMetrics) AddFoldersArchived(n int64)                       {}
func (m *NoopMetrics) LogSummary(msg string)                            {}
func (m *NoopMetrics) StartProgress(msg string, interval time.Duration) {}
func (m *NoopMetrics) StopProgress()                                    {}

// New returns RunMetrics when enabled and NoopMetrics otherwise.
func New(enabled bool) Metrics {
	if enabled {
		return &RunMetrics{}
	}
	return &NoopMetrics{}
}

// Statically assert that our types implement the interface.
var _ Metrics = (*RunMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
