// Package mutator is the single place where a run touches the backup side of
// the file system. The engine talks to a FileMutator; apply mode gets the OS
// implementation and dry-run mode gets Noop, so decision logic is the same in
// both modes.
package mutator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/paulschiretz/pgl-dayback/pkg/util"
)

// FileMutator performs every write, copy and delete of a run.
type FileMutator interface {
	// MkdirAll creates absDir and any missing parents.
	MkdirAll(absDir string) error
	// CopyFile copies content, permissions and modification time of absSrc
	// to absDst. Missing parent directories are created. Every byte read from
	// absSrc is also written to tee unless it is nil. It returns the number of
	// bytes copied.
	CopyFile(absSrc, absDst string, tee io.Writer) (int64, error)
	// RemoveAll deletes absPath recursively.
	RemoveAll(absPath string) error
	// WriteFileAtomic replaces absPath with data via a temp file and rename.
	WriteFileAtomic(absPath string, data []byte, perm os.FileMode) error
	// DryRun reports whether the mutator discards all changes.
	DryRun() bool
}

// OS applies changes to the real file system.
type OS struct {
	ioBufferPool *sync.Pool
}

// NewOS creates an OS mutator with copy buffers of bufferSizeKB kilobytes.
func NewOS(bufferSizeKB int) *OS {
	if bufferSizeKB <= 0 {
		bufferSizeKB = 256
	}
	size := bufferSizeKB * 1024
	return &OS{
		ioBufferPool: &sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

func (m *OS) DryRun() bool { return false }

func (m *OS) MkdirAll(absDir string) error {
	return os.MkdirAll(absDir, util.UserWritableDirPerms)
}

func (m *OS) RemoveAll(absPath string) error {
	return os.RemoveAll(absPath)
}

// CopyFile writes to a temp file in the destination directory and renames it
// into place, so absDst is never observed half written.
func (m *OS) CopyFile(absSrc, absDst string, tee io.Writer) (written int64, retErr error) {
	in, err := os.Open(absSrc)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file %s: %w", absSrc, err)
	}
	defer in.Close()

	srcInfo, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat source file %s: %w", absSrc, err)
	}

	absDstDir := filepath.Dir(absDst)
	if err := m.MkdirAll(absDstDir); err != nil {
		return 0, fmt.Errorf("failed to create destination directory %s: %w", absDstDir, err)
	}

	out, err := os.CreateTemp(absDstDir, "pgl-dayback-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file in %s: %w", absDstDir, err)
	}
	absTempPath := out.Name()
	defer func() {
		if retErr != nil {
			out.Close()
			os.Remove(absTempPath)
		}
	}()

	bufPtr := m.ioBufferPool.Get().(*[]byte)
	defer m.ioBufferPool.Put(bufPtr)

	var dst io.Writer = out
	if tee != nil {
		dst = io.MultiWriter(out, tee)
	}
	if written, err = io.CopyBuffer(dst, in, *bufPtr); err != nil {
		return written, fmt.Errorf("failed to copy content from %s to %s: %w", absSrc, absTempPath, err)
	}

	// The owner keeps write permission even when the source is read-only.
	if err := out.Chmod(util.WithUserWritePermission(srcInfo.Mode().Perm())); err != nil {
		return written, fmt.Errorf("failed to set permissions on temporary file %s: %w", absTempPath, err)
	}

	// Close before Chtimes, flushing may touch the modification time.
	if err := out.Close(); err != nil {
		return written, fmt.Errorf("failed to close temporary file %s: %w", absTempPath, err)
	}

	if err := os.Chtimes(absTempPath, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return written, fmt.Errorf("failed to set timestamps on %s: %w", absTempPath, err)
	}

	if err := os.Rename(absTempPath, absDst); err != nil {
		return written, fmt.Errorf("failed to move %s into place: %w", absDst, err)
	}
	return written, nil
}

func (m *OS) WriteFileAtomic(absPath string, data []byte, perm os.FileMode) (retErr error) {
	dir := filepath.Dir(absPath)
	tmp, err := os.CreateTemp(dir, filepath.Base(absPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", absPath, err)
	}
	defer func() {
		if retErr != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), absPath); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", absPath, err)
	}
	return nil
}

// Noop discards every change. CopyFile still reports the size the copy
// would have written, and feeds tee the source content, so that dry-run
// summaries match apply runs.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (Noop) DryRun() bool                                      { return true }
func (Noop) MkdirAll(string) error                             { return nil }
func (Noop) RemoveAll(string) error                            { return nil }
func (Noop) WriteFileAtomic(string, []byte, os.FileMode) error { return nil }

func (Noop) CopyFile(absSrc, _ string, tee io.Writer) (int64, error) {
	if tee == nil {
		info, err := os.Stat(absSrc)
		if err != nil {
			return 0, fmt.Errorf("failed to stat source file %s: %w", absSrc, err)
		}
		return info.Size(), nil
	}

	in, err := os.Open(absSrc)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file %s: %w", absSrc, err)
	}
	defer in.Close()
	n, err := io.Copy(tee, in)
	if err != nil {
		return n, fmt.Errorf("failed to read source file %s: %w", absSrc, err)
	}
	return n, nil
}

// Statically assert that our types implement the interface.
var _ FileMutator = (*OS)(nil)
var _ FileMutator = (*Noop)(nil)
