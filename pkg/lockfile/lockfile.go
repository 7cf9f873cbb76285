// Package lockfile guards a backup root against concurrent apply runs.
//
// The lock is a small JSON file created with O_EXCL. While held, a heartbeat
// refreshes its timestamp; a lock whose timestamp is older than the stale
// timeout (or whose content is unreadable) is considered abandoned and is
// taken over with an atomic rename. A random token written during takeover
// decides which process won when several race for the same stale lock.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulschiretz/pgl-dayback/pkg/plog"
	"github.com/paulschiretz/pgl-dayback/pkg/util"
)

// LockFileName is the name of the lock file created in the backup root.
// The '~' prefix marks it as temporary.
const LockFileName = ".~pgl-dayback.lock"

// LockContent is the JSON document stored in the lock file.
type LockContent struct {
	PID        int64     `json:"pid"`
	Hostname   string    `json:"hostname"`
	LastUpdate time.Time `json:"lastUpdate"`
	Token      string    `json:"token,omitempty"`
	AppID      string    `json:"appID"`
}

// ErrLockActive is returned when another live process holds the lock.
type ErrLockActive struct {
	PID       int64
	Hostname  string
	AppID     string
	TimeSince time.Duration
}

func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("backup directory is locked by PID %d on host '%s' (%s), last heartbeat %s ago",
		e.PID, e.Hostname, e.AppID, e.TimeSince.Truncate(time.Second))
}

// ErrLostRace is returned when another process won a stale lock takeover.
var ErrLostRace = errors.New("lost race during stale lock takeover")

// ErrCorruptLockFile indicates an empty or unparsable lock file.
var ErrCorruptLockFile = errors.New("lock file is corrupt or empty")

// Vars so tests can shorten them.
var (
	heartbeatInterval = 1 * time.Minute
	staleTimeout      = 3 * heartbeatInterval
	retryDelay        = 100 * time.Millisecond
)

const maxAcquireAttempts = 3

// Lock is a held lock. Release it exactly once; further calls are no-ops.
type Lock struct {
	path string

	mu      sync.Mutex
	content LockContent
	held    bool

	stop chan struct{}
	done chan struct{}
}

// Acquire takes the lock in absDir. It returns *ErrLockActive if a live
// process holds it. ctx only bounds the acquisition, not the heartbeat.
func Acquire(ctx context.Context, absDir string, appID string) (*Lock, error) {
	absLockPath := filepath.Join(absDir, LockFileName)

	for range maxAcquireAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lock, err := create(absLockPath, appID)
		if err == nil {
			return lock.start(), nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		held, readErr := readContent(absLockPath)
		switch {
		case readErr == nil:
			age := time.Since(held.LastUpdate)
			if age < staleTimeout {
				return nil, &ErrLockActive{PID: held.PID, Hostname: held.Hostname, AppID: held.AppID, TimeSince: age}
			}
			plog.Warn("Found stale lock, attempting takeover", "pid", held.PID, "host", held.Hostname, "age", age.Truncate(time.Second))
		case errors.Is(readErr, ErrCorruptLockFile):
			plog.Warn("Found corrupt lock file, treating as stale", "path", absLockPath, "error", readErr)
		case os.IsNotExist(readErr):
			// Released between our create and read; try again right away.
			continue
		default:
			time.Sleep(retryDelay)
			continue
		}

		lock, err = takeover(absLockPath, appID)
		if err != nil {
			if errors.Is(err, ErrLostRace) {
				plog.Debug("Lock takeover race lost, retrying")
			} else {
				plog.Warn("Lock takeover failed, retrying", "error", err)
			}
			time.Sleep(retryDelay)
			continue
		}
		return lock.start(), nil
	}

	return nil, fmt.Errorf("failed to acquire lock after %d attempts", maxAcquireAttempts)
}

// Release stops the heartbeat, waits for it to exit and removes the file.
func (l *Lock) Release() {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return
	}
	l.held = false
	l.mu.Unlock()

	close(l.stop)
	<-l.done

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		plog.Warn("Failed to remove lock file", "path", l.path, "error", err)
		return
	}
	plog.Debug("Lock released", "path", l.path)
}

// Path returns the absolute path of the lock file.
func (l *Lock) Path() string { return l.path }

func newContent(appID string) (LockContent, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return LockContent{}, fmt.Errorf("failed to get hostname: %w", err)
	}
	return LockContent{
		PID:        int64(os.Getpid()),
		Hostname:   hostname,
		LastUpdate: time.Now().UTC(),
		Token:      uuid.NewString(),
		AppID:      appID,
	}, nil
}

// create claims a free lock. It returns an error satisfying os.IsExist when
// the file is already there.
func create(absLockPath, appID string) (*Lock, error) {
	content, err := newContent(appID)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(absLockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(content, "", "  ")
	if err == nil {
		_, err = f.Write(data)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(absLockPath)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	return &Lock{path: absLockPath, content: content}, nil
}

// takeover replaces a stale lock and reads it back to confirm that our token
// is the one that landed.
func takeover(absLockPath, appID string) (*Lock, error) {
	content, err := newContent(appID)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(absLockPath, content); err != nil {
		return nil, err
	}

	got, err := readContent(absLockPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read back lock file after takeover: %w", err)
	}
	if got.PID != content.PID || got.Token != content.Token {
		return nil, ErrLostRace
	}
	plog.Debug("Took over stale lock", "path", absLockPath)
	return &Lock{path: absLockPath, content: content}, nil
}

// start removes temp files left by crashed heartbeats and launches the heartbeat.
func (l *Lock) start() *Lock {
	removeOldTempFiles(l.path)
	l.held = true
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.heartbeat()
	return l
}

func (l *Lock) heartbeat() {
	defer close(l.done)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			l.content.LastUpdate = time.Now().UTC()
			content := l.content
			l.mu.Unlock()
			// A failed beat is retried on the next tick.
			if err := writeAtomic(l.path, content); err != nil {
				plog.Warn("Heartbeat failed to update lock file", "error", err)
			}
		}
	}
}

// writeAtomic replaces the lock file via a temp file in the same directory,
// so readers never observe a partially written lock.
func writeAtomic(absLockPath string, content LockContent) error {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock content: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(absLockPath), filepath.Base(absLockPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp lock file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp lock file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp lock file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp lock file: %w", err)
	}
	if err := os.Rename(tmpName, absLockPath); err != nil {
		return fmt.Errorf("failed to rename temp lock file: %w", err)
	}
	return nil
}

// removeOldTempFiles deletes heartbeat temp files older than the stale
// timeout. Younger ones may belong to a live writer.
func removeOldTempFiles(absLockPath string) {
	pattern := filepath.Join(filepath.Dir(absLockPath), filepath.Base(absLockPath)+".*.tmp")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		plog.Warn("Failed to glob for temporary lock files", "pattern", pattern, "error", err)
		return
	}

	threshold := time.Now().Add(-staleTimeout)
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || !info.ModTime().Before(threshold) {
			continue
		}
		plog.Debug("Removing old temporary lock file", "path", match)
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove temporary lock file", "path", match, "error", err)
		}
	}
}

// readContent reads the lock file, retrying briefly on empty or unparsable
// content. Persistent garbage yields ErrCorruptLockFile.
func readContent(absLockPath string) (LockContent, error) {
	var parseErr error
	for range 3 {
		data, err := os.ReadFile(absLockPath)
		if err != nil {
			return LockContent{}, err
		}
		if len(data) == 0 {
			parseErr = errors.New("lock file is empty")
		} else {
			var content LockContent
			if parseErr = json.Unmarshal(data, &content); parseErr == nil {
				return content, nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return LockContent{}, fmt.Errorf("%w: %v", ErrCorruptLockFile, parseErr)
}
