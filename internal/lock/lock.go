// internal/lock/lock.go
// Package lock provides the advisory file lock that keeps two runs of the
// same frequency group from overlapping.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("lock is held by another process")

type Lock struct {
	path string
	file *os.File
}

// Path returns the lock file for a frequency label inside dir, e.g.
// "15 min" -> dir/feedtranslator-15-min.lock.
func Path(dir, label string) string {
	name := strings.Join(strings.Fields(strings.ToLower(label)), "-")
	return filepath.Join(dir, "feedtranslator-"+name+".lock")
}

// Acquire takes an exclusive non-blocking lock on path, creating the file
// if needed. The lock is released by Release or when the process exits.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	if err := f.Truncate(0); err == nil {
		fmt.Fprintf(f, "%d\n", os.Getpid())
	}
	return &Lock{path: path, file: f}, nil
}

func (l *Lock) Path() string { return l.path }

// Release unlocks and closes the lock file. The file itself is left in
// place so that a concurrent Acquire never locks an unlinked inode.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}
