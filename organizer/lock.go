package organizer

import (
	"fmt"
	"os"
	"time"
)

// fileLock is an advisory, cross-process lock held on a sidecar file so
// two organizer processes writing the same output root serialize their
// record rewrites.
type fileLock struct {
	file    *os.File
	timeout time.Duration
	locked  bool
}

func newFileLock(path string, timeout time.Duration) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return &fileLock{file: f, timeout: timeout}, nil
}

// Lock polls with backoff until the lock is held or the timeout expires.
func (l *fileLock) Lock() error {
	if l.locked {
		return nil
	}
	deadline := time.Now().Add(l.timeout)
	backoff := 10 * time.Millisecond
	for {
		if err := tryLockFile(l.file); err == nil {
			l.locked = true
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("lock timeout after %v", l.timeout)
		}
		time.Sleep(backoff)
		if backoff < 100*time.Millisecond {
			backoff *= 2
		}
	}
}

// Unlock releases the lock and closes the file. Safe to call more than once.
func (l *fileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	var err error
	if l.locked {
		err = unlockFile(l.file)
		l.locked = false
	}
	l.file.Close()
	l.file = nil
	return err
}
