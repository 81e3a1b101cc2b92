// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/noldarim/procbridge/internal/codec"
	"github.com/noldarim/procbridge/internal/errdefs"
)

// segmentPrefix namespaces segments inside the shared memory directory.
const segmentPrefix = "procbridge_"

type shmMetadata struct {
	IsEmpty bool `cbor:"is_empty"`
	Size    int  `cbor:"size"`
}

// SharedMemoryStrategy keeps the payload in a named shared memory segment and only
// a small metadata record in the lock file. A segment is created on every SetData and
// destroyed once its payload has been read.
type SharedMemoryStrategy struct {
	segment string
}

// NewSharedMemoryStrategy returns a strategy whose segment for name lives in dir.
func NewSharedMemoryStrategy(dir, name string) *SharedMemoryStrategy {
	return &SharedMemoryStrategy{segment: filepath.Join(dir, segmentPrefix+name)}
}

// Segment returns the segment path.
func (s *SharedMemoryStrategy) Segment() string { return s.segment }

func (s *SharedMemoryStrategy) metadata(f *os.File) (shmMetadata, error) {
	st, err := f.Stat()
	if err != nil {
		return shmMetadata{}, err
	}
	if st.Size() == 0 {
		return shmMetadata{IsEmpty: true}, nil
	}

	raw, err := io.ReadAll(io.NewSectionReader(f, 0, st.Size()))
	if err != nil {
		return shmMetadata{}, err
	}
	var md shmMetadata
	if err := codec.Unmarshal(raw, &md); err != nil {
		// Left over by an incompatible writer; treat as drained.
		return shmMetadata{IsEmpty: true}, nil
	}
	return md, nil
}

func (s *SharedMemoryStrategy) setMetadata(f *os.File, md shmMetadata) error {
	raw, err := codec.Marshal(md)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(raw, 0); err != nil {
		return err
	}
	return f.Truncate(int64(len(raw)))
}

func (s *SharedMemoryStrategy) IsEmpty(f *os.File) (bool, error) {
	md, err := s.metadata(f)
	if err != nil {
		return false, err
	}
	return md.IsEmpty, nil
}

func (s *SharedMemoryStrategy) SetData(f *os.File, data []byte) error {
	md, err := s.metadata(f)
	if err != nil {
		return err
	}
	if !md.IsEmpty {
		return fmt.Errorf("shared memory payload %s has not been read yet: %w", s.segment, errdefs.ErrQueueUsage)
	}

	if err := removeSegment(s.segment); err != nil {
		return err
	}
	if err := writeSegment(s.segment, data); err != nil {
		return fmt.Errorf("write segment %s: %w", s.segment, err)
	}
	return s.setMetadata(f, shmMetadata{IsEmpty: false, Size: len(data)})
}

func (s *SharedMemoryStrategy) GetData(f *os.File) ([]byte, error) {
	md, err := s.metadata(f)
	if err != nil {
		return nil, err
	}
	if md.IsEmpty {
		return nil, fmt.Errorf("no metadata for shared memory payload %s: %w", s.segment, errdefs.ErrQueueUsage)
	}

	data, err := readSegment(s.segment, md.Size)
	if err != nil {
		return nil, fmt.Errorf("read segment %s: %w", s.segment, err)
	}
	return data, s.Clear(f)
}

func (s *SharedMemoryStrategy) Clear(f *os.File) error {
	if err := removeSegment(s.segment); err != nil {
		return err
	}
	return s.setMetadata(f, shmMetadata{IsEmpty: true})
}

func removeSegment(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
