package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Error variables for file locking operations
var (
	// ErrLockTimeout is returned when a lock cannot be acquired within the specified timeout
	ErrLockTimeout = errors.New("lock acquisition timeout")
	// ErrLockNotHeld is returned when attempting to release a lock that isn't held
	ErrLockNotHeld = errors.New("lock not held")
)

// staleLockAge is how old a lock file must be before it is considered abandoned
const staleLockAge = 5 * time.Minute

// FileLock is an advisory lock guarding read-modify-write cycles on a file
// shared between processes, such as the vault registry.
type FileLock struct {
	path     string
	lockFile *os.File
}

// NewFileLock creates a lock for target, backed by target + ".lock".
func NewFileLock(target string) *FileLock {
	return &FileLock{path: target + ".lock"}
}

// Lock acquires the lock, polling until timeout elapses.
func (fl *FileLock) Lock(timeout time.Duration) error {
	if fl.lockFile != nil {
		return errors.New("lock already held")
	}

	if err := os.MkdirAll(filepath.Dir(fl.path), 0o700); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		file, err := os.OpenFile(fl.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			if err := platformLock(file); err != nil {
				_ = file.Close()
				_ = os.Remove(fl.path)
				return fmt.Errorf("failed to lock %s: %w", fl.path, err)
			}
			_, _ = file.WriteString(strconv.Itoa(os.Getpid()))
			fl.lockFile = file
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}

		if fl.isStale() {
			_ = os.Remove(fl.path)
			continue
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Unlock releases the lock and removes the lock file.
func (fl *FileLock) Unlock() error {
	if fl.lockFile == nil {
		return ErrLockNotHeld
	}

	err := platformUnlock(fl.lockFile)
	if closeErr := fl.lockFile.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	fl.lockFile = nil

	if removeErr := os.Remove(fl.path); removeErr != nil && err == nil {
		err = removeErr
	}
	return err
}

// IsLocked returns true if the lock is currently held
func (fl *FileLock) IsLocked() bool {
	return fl.lockFile != nil
}

func (fl *FileLock) isStale() bool {
	info, err := os.Stat(fl.path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > staleLockAge
}
