package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// LockFile is the build lock inside a snapshot directory.
const LockFile = ".build.lock"

// ErrBuildInProgress is returned when another process holds the build lock.
var ErrBuildInProgress = errors.New("another build is in progress")

// BuildLock is a cross-process exclusive lock on a snapshot directory. It
// rides on bbolt's file lock, so it is released if the holder dies.
type BuildLock struct {
	db *bbolt.DB
}

// AcquireBuildLock waits up to timeout for the lock on dir.
func AcquireBuildLock(dir string, timeout time.Duration) (*BuildLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	db, err := bbolt.Open(filepath.Join(dir, LockFile), 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("%w (waited %s)", ErrBuildInProgress, timeout)
		}
		return nil, fmt.Errorf("open build lock: %w", err)
	}
	return &BuildLock{db: db}, nil
}

// Release drops the lock.
func (l *BuildLock) Release() error {
	if l == nil || l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}
