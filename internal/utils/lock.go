package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockFileName = ".unidown.lock"

// StoreLock is a file-based lock on the downloads root, keeping two
// unidown processes from mutating the same store. Per-listing
// exclusion within a process is the lock manager's job, not this one.
type StoreLock struct {
	lock *flock.Flock
	path string
}

// NewStoreLock creates a lock for the given downloads root.
func NewStoreLock(root string) (*StoreLock, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("could not resolve downloads root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("could not create downloads root: %w", err)
	}
	lockPath := filepath.Join(abs, lockFileName)
	return &StoreLock{
		lock: flock.New(lockPath),
		path: lockPath,
	}, nil
}

// Lock acquires the store lock, waiting if necessary.
// It will print a message if it has to wait.
func (l *StoreLock) Lock() error {
	locked, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", l.path, err)
	}

	if !locked {
		fmt.Fprintf(os.Stderr, "Another unidown process is using this downloads root, waiting for it to finish...\n")
		if err := l.lock.Lock(); err != nil {
			return fmt.Errorf("failed to acquire lock on %s after waiting: %w", l.path, err)
		}
	}
	return nil
}

// Unlock releases the store lock.
func (l *StoreLock) Unlock() error {
	if err := l.lock.Unlock(); err != nil {
		// Suppress error if the lock file doesn't exist, as it means we don't hold the lock.
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to release lock on %s: %w", l.path, err)
	}
	return nil
}
