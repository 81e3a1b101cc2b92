// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package event provides a flag that can be set, cleared and waited on from
// several processes at once. The flag is the presence of a marker file.
package event

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/noldarim/procbridge/internal/logger"
	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetIPCLogger()
		log = &l
	})
	return log
}

// DefaultPollInterval backs up filesystem notifications, which may be unavailable
// (network filesystems, exhausted inotify watches).
const DefaultPollInterval = 20 * time.Millisecond

// Event is a cross-process boolean flag.
type Event interface {
	Set() error
	Clear() error
	IsSet() bool
	// Wait blocks until the flag is set, timeout elapses (zero = no timeout) or ctx ends.
	// It reports whether the flag was observed set.
	Wait(ctx context.Context, timeout time.Duration) (bool, error)
}

// FileEvent is an Event backed by <dir>/ipc_event_<name>.
type FileEvent struct {
	dir          string
	path         string
	pollInterval time.Duration
}

// NewFileEvent returns the event name living in dir. Processes using the same dir and name
// share the flag.
func NewFileEvent(dir, name string, pollInterval time.Duration) *FileEvent {
	if dir == "" {
		dir = os.TempDir()
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &FileEvent{
		dir:          dir,
		path:         filepath.Join(dir, "ipc_event_"+name),
		pollInterval: pollInterval,
	}
}

// Path returns the marker file path.
func (e *FileEvent) Path() string { return e.path }

// Set raises the flag. Setting an already set flag is a no-op.
func (e *FileEvent) Set() error {
	f, err := os.OpenFile(e.path, os.O_CREATE|os.O_WRONLY, 0o666)
	if err != nil {
		return fmt.Errorf("set event %s: %w", e.path, err)
	}
	return f.Close()
}

// Clear lowers the flag.
func (e *FileEvent) Clear() error {
	if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear event %s: %w", e.path, err)
	}
	return nil
}

func (e *FileEvent) IsSet() bool {
	_, err := os.Stat(e.path)
	return err == nil
}

func (e *FileEvent) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	if e.IsSet() {
		return true, nil
	}

	var events <-chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(e.dir); err == nil {
			events = watcher.Events
		} else {
			getLog().Debug().Err(err).Str("dir", e.dir).Msg("event watch unavailable, polling")
		}
	}

	// The flag may have been raised while the watch was being installed.
	if e.IsSet() {
		return true, nil
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Name == e.path && ev.Has(fsnotify.Create) && e.IsSet() {
				return true, nil
			}
		case <-ticker.C:
			if e.IsSet() {
				return true, nil
			}
		case <-expired:
			return e.IsSet(), nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}
