// Package lock provides advisory file locking for the scheduler's
// exclusive daemon-wide lock and each job's per-job lock, backed by
// cross-process OS file locks rather than in-process mutexes, since
// multiple barnd invocations on the same base directory must never
// both believe they own the same job.
package lock

import (
	"github.com/gofrs/flock"

	"github.com/samson-media/barn/internal/barnerr"
)

// Lock wraps a single advisory file lock.
type Lock struct {
	f *flock.Flock
}

// New returns a Lock backed by the file at path. The file is created on
// first acquisition if it does not exist.
func New(path string) *Lock {
	return &Lock{f: flock.New(path)}
}

// TryLock attempts to acquire the lock without blocking. ok is false if
// another holder currently has it.
func (l *Lock) TryLock() (ok bool, err error) {
	locked, err := l.f.TryLock()
	if err != nil {
		return false, barnerr.IoError(err, "acquire lock %s", l.f.Path())
	}
	return locked, nil
}

// Lock blocks until the lock is acquired.
func (l *Lock) Lock() error {
	if err := l.f.Lock(); err != nil {
		return barnerr.IoError(err, "acquire lock %s", l.f.Path())
	}
	return nil
}

// Unlock releases the lock. Safe to call even if the lock was never
// acquired.
func (l *Lock) Unlock() error {
	if err := l.f.Unlock(); err != nil {
		return barnerr.IoError(err, "release lock %s", l.f.Path())
	}
	return nil
}

// Locked reports whether this process currently holds the lock.
func (l *Lock) Locked() bool {
	return l.f.Locked()
}

// WithJobLock acquires the job's lock, runs fn, and releases it
// afterward, returning a LockContended error if the lock is already
// held elsewhere.
func WithJobLock(path string, fn func() error) error {
	l := New(path)
	ok, err := l.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return barnerr.LockContended("job lock %s is already held", path)
	}
	defer l.Unlock()
	return fn()
}
