// Package filelock provides simple advisory file locking used to
// serialize template recreation and repository index refreshes across
// processes, grounded on golang.org/x/sys/unix flock — the same import
// the teacher's config package already depends on for low-level BSD
// syscalls (config/config.go imports golang.org/x/sys/unix).
package filelock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock holds an exclusive advisory lock on a file for the duration of a
// critical section.
type Lock struct {
	f *os.File
}

// Acquire opens (creating if necessary) path and blocks until an
// exclusive lock is obtained.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("filelock: open %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("filelock: flock %s: %w", path, err)
	}
	return &Lock{f: f}, nil
}

// Release unlocks and closes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
