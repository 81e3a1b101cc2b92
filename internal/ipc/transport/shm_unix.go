// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build unix

package transport

import (
	"errors"

	"golang.org/x/sys/unix"
)

const sharedMemorySupported = true

// writeSegment creates the segment at path sized to data and copies data into a
// shared mapping of it.
func writeSegment(path string, data []byte) error {
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(len(data))); err != nil {
		unix.Unlink(path)
		return err
	}
	if len(data) == 0 {
		return nil
	}

	mem, err := unix.Mmap(fd, 0, len(data), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Unlink(path)
		return err
	}
	copy(mem, data)
	return unix.Munmap(mem)
}

// readSegment maps size bytes of the segment at path, copies them out and unlinks it.
func readSegment(path string, size int) ([]byte, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)

	out := make([]byte, size)
	if size > 0 {
		mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			return nil, err
		}
		copy(out, mem)
		if err := unix.Munmap(mem); err != nil {
			return nil, err
		}
	}

	if err := unix.Unlink(path); err != nil && !errors.Is(err, unix.ENOENT) {
		return nil, err
	}
	return out, nil
}
