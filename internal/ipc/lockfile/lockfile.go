// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package lockfile provides an exclusive advisory lock on a file path that is
// shared by cooperating processes. The lock is held on an open file description,
// so two opens of the same path inside one process also exclude each other.
package lockfile

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/noldarim/procbridge/internal/errdefs"
)

// DefaultCheckInterval is how often a contended lock is retried.
const DefaultCheckInterval = 20 * time.Millisecond

// Lock is a held exclusive lock. The underlying file stays open until Release.
type Lock struct {
	path string
	file *os.File
}

// Acquire opens (creating if needed) path and takes an exclusive lock on it.
// A contended lock is retried every checkInterval until timeout elapses or ctx ends.
// A timeout of zero waits for as long as ctx allows.
func Acquire(ctx context.Context, path string, timeout, checkInterval time.Duration) (*Lock, error) {
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		ok, err := tryLock(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
		if ok {
			return &Lock{path: path, file: f}, nil
		}

		wait := checkInterval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				f.Close()
				return nil, fmt.Errorf("lock %s not acquired within %s: %w", path, timeout, errdefs.ErrTimeout)
			}
			wait = min(wait, remaining)
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, fmt.Errorf("lock %s: %w: %w", path, errdefs.ErrTimeout, ctx.Err())
		case <-time.After(wait):
		}
	}
}

// Path returns the locked path.
func (l *Lock) Path() string { return l.path }

// File returns the open handle the lock is held on.
func (l *Lock) File() *os.File { return l.file }

// Release unlocks and closes the handle. It is safe to call more than once.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	uerr := unlock(f)
	cerr := f.Close()
	if uerr != nil {
		return fmt.Errorf("unlock %s: %w", l.path, uerr)
	}
	return cerr
}
