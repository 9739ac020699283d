package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning means another recorder holds the lock.
var ErrAlreadyRunning = errors.New("a recording is already in progress")

// Lock is a process-wide file lock held while recording.
type Lock struct {
	f *flock.Flock
}

// Acquire takes the lock at path without waiting.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "screenrec.lock")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o770); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	f := flock.New(path)
	ok, err := f.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	return &Lock{f: f}, nil
}

func (l *Lock) Path() string   { return l.f.Path() }
func (l *Lock) Release() error { return l.f.Unlock() }
