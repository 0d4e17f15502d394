package fsutil

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// Lock is an exclusive advisory lock on a lock file, held across processes
// where the platform supports it and always across goroutines of this process.
type Lock struct {
	fd *os.File
	mu *sync.Mutex
}

var (
	processLocksMu sync.Mutex
	processLocks   = map[string]*sync.Mutex{}
)

func processLock(path string) *sync.Mutex {
	processLocksMu.Lock()
	defer processLocksMu.Unlock()
	m, ok := processLocks[path]
	if !ok {
		m = &sync.Mutex{}
		processLocks[path] = m
	}
	return m
}

// AcquireLock blocks until the lock at path is held.
func AcquireLock(path string) (*Lock, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, errors.Wrap(err, "create lock directory")
	}

	mu := processLock(abs)
	mu.Lock()

	fd, err := os.OpenFile(abs, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		mu.Unlock()
		return nil, errors.Wrapf(err, "open lockfile %s", abs)
	}
	if err := lockFile(fd); err != nil {
		_ = fd.Close()
		mu.Unlock()
		return nil, errors.Wrapf(err, "lock %s", abs)
	}
	return &Lock{fd: fd, mu: mu}, nil
}

// Release closes the lock file, which drops the OS lock.
func (l *Lock) Release() error {
	if l == nil || l.fd == nil {
		return nil
	}
	err := l.fd.Close()
	l.fd = nil
	l.mu.Unlock()
	return err
}

// WithLock runs fn while holding the lock at path.
func WithLock(path string, fn func() error) error {
	l, err := AcquireLock(path)
	if err != nil {
		return err
	}
	defer l.Release()
	return fn()
}
