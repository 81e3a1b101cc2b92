// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport implements the byte storage behind a mailbox slot.
//
// A Strategy always operates on a lock file that the caller already holds
// exclusively, so implementations never synchronize on their own.
package transport

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/noldarim/procbridge/internal/errdefs"
)

// Strategy stores at most one payload per lock file.
type Strategy interface {
	// IsEmpty reports whether the slot holds no payload.
	IsEmpty(f *os.File) (bool, error)
	// SetData stores data in the slot.
	SetData(f *os.File, data []byte) error
	// GetData returns the stored payload and releases it, leaving the slot empty.
	GetData(f *os.File) ([]byte, error)
	// Clear drops any stored payload.
	Clear(f *os.File) error
}

// Factory builds the Strategy for one named slot.
type Factory func(name string) Strategy

// Kind names a strategy in configuration.
type Kind string

const (
	KindDefault      Kind = "default"
	KindSharedMemory Kind = "shared_memory"
	KindFile         Kind = "file"
)

// DefaultShmDir is where shared memory segments live when no directory is configured.
const DefaultShmDir = "/dev/shm"

// FileStrategy keeps the payload as the literal contents of the lock file.
type FileStrategy struct{}

// NewFileStrategy returns the direct-file strategy. The name is unused.
func NewFileStrategy(string) Strategy { return FileStrategy{} }

func (FileStrategy) IsEmpty(f *os.File) (bool, error) {
	st, err := f.Stat()
	if err != nil {
		return false, err
	}
	return st.Size() == 0, nil
}

func (s FileStrategy) SetData(f *os.File, data []byte) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.WriteAt(data, 0)
	return err
}

func (s FileStrategy) GetData(f *os.File) ([]byte, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.NewSectionReader(f, 0, st.Size()))
	if err != nil {
		return nil, err
	}
	return data, s.Clear(f)
}

func (FileStrategy) Clear(f *os.File) error {
	return f.Truncate(0)
}

// NewFactory returns the factory for kind, resolving KindDefault for this platform.
func NewFactory(kind Kind, shmDir string) (Factory, error) {
	if shmDir == "" {
		shmDir = DefaultShmDir
	}

	resolved, err := Resolve(kind, shmDir)
	if err != nil {
		return nil, err
	}

	switch resolved {
	case KindSharedMemory:
		return func(name string) Strategy {
			return NewSharedMemoryStrategy(shmDir, name)
		}, nil
	default:
		return NewFileStrategy, nil
	}
}

// Resolve maps kind to a concrete strategy kind. The default is shared memory unless the
// platform cannot provide it reliably (no segment support, missing segment directory, WSL),
// in which case the direct-file strategy is used.
func Resolve(kind Kind, shmDir string) (Kind, error) {
	switch kind {
	case KindFile:
		return KindFile, nil
	case KindSharedMemory:
		if !sharedMemorySupported {
			return "", fmt.Errorf("shared memory transport: %w", errdefs.ErrUnavailable)
		}
		return KindSharedMemory, nil
	case KindDefault, "":
		if sharedMemorySupported && isDir(shmDir) && !isWSL() {
			return KindSharedMemory, nil
		}
		return KindFile, nil
	default:
		return "", fmt.Errorf("unknown transport strategy %q: %w", kind, errdefs.ErrConfiguration)
	}
}

func isDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}

var osReleasePath = "/proc/sys/kernel/osrelease"

func isWSL() bool {
	data, err := os.ReadFile(filepath.Clean(osReleasePath))
	if err != nil {
		return false
	}
	release := strings.ToLower(string(data))
	return strings.Contains(release, "microsoft") || strings.Contains(release, "wsl")
}
