// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build unix

package transport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSlot(t *testing.T) *os.File {
	t.Helper()
	f, err := os.OpenFile(filepath.Join(t.TempDir(), "ipc_payload_slot"), os.O_RDWR|os.O_CREATE, 0o666)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestStrategies_RoundTrip(t *testing.T) {
	strategies := map[string]func(t *testing.T) Strategy{
		"file": func(*testing.T) Strategy { return FileStrategy{} },
		"shared_memory": func(t *testing.T) Strategy {
			return NewSharedMemoryStrategy(t.TempDir(), "ipc_payload_slot")
		},
	}

	for name, build := range strategies {
		t.Run(name, func(t *testing.T) {
			s := build(t)
			f := openSlot(t)

			empty, err := s.IsEmpty(f)
			require.NoError(t, err)
			assert.True(t, empty)

			require.NoError(t, s.SetData(f, []byte("hello bridge")))
			empty, err = s.IsEmpty(f)
			require.NoError(t, err)
			assert.False(t, empty)

			data, err := s.GetData(f)
			require.NoError(t, err)
			assert.Equal(t, []byte("hello bridge"), data)

			empty, err = s.IsEmpty(f)
			require.NoError(t, err)
			assert.True(t, empty, "GetData releases the slot")
		})
	}
}

func TestFileStrategy_LastWriteWins(t *testing.T) {
	s := FileStrategy{}
	f := openSlot(t)

	require.NoError(t, s.SetData(f, []byte("a much longer first value")))
	require.NoError(t, s.SetData(f, []byte("second")))

	data, err := s.GetData(f)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)
}

func TestSharedMemory_DoubleSetIsUsageError(t *testing.T) {
	s := NewSharedMemoryStrategy(t.TempDir(), "ipc_payload_slot")
	f := openSlot(t)

	require.NoError(t, s.SetData(f, []byte("first")))
	err := s.SetData(f, []byte("second"))
	require.ErrorIs(t, err, errdefs.ErrQueueUsage)

	data, err := s.GetData(f)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)

	require.NoError(t, s.SetData(f, []byte("third")), "writable again once drained")
}

func TestSharedMemory_SegmentLifecycle(t *testing.T) {
	s := NewSharedMemoryStrategy(t.TempDir(), "ipc_payload_slot")
	f := openSlot(t)

	require.NoError(t, s.SetData(f, []byte("payload")))
	_, err := os.Stat(s.Segment())
	require.NoError(t, err, "segment exists while unread")

	_, err = s.GetData(f)
	require.NoError(t, err)
	_, err = os.Stat(s.Segment())
	assert.True(t, os.IsNotExist(err), "segment destroyed after read")

	require.NoError(t, s.SetData(f, []byte("payload")))
	require.NoError(t, s.Clear(f))
	_, err = os.Stat(s.Segment())
	assert.True(t, os.IsNotExist(err), "segment destroyed on clear")
}

func TestSharedMemory_StaleSegmentReplaced(t *testing.T) {
	dir := t.TempDir()
	s := NewSharedMemoryStrategy(dir, "ipc_payload_slot")
	require.NoError(t, os.WriteFile(s.Segment(), []byte("left over by a crashed run"), 0o600))

	f := openSlot(t)
	require.NoError(t, s.SetData(f, []byte("fresh")))

	data, err := s.GetData(f)
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), data)
}

func TestSharedMemory_GetDataOnEmpty(t *testing.T) {
	s := NewSharedMemoryStrategy(t.TempDir(), "ipc_payload_slot")
	_, err := s.GetData(openSlot(t))
	assert.ErrorIs(t, err, errdefs.ErrQueueUsage)
}

func TestSharedMemory_CorruptMetadataTreatedAsEmpty(t *testing.T) {
	s := NewSharedMemoryStrategy(t.TempDir(), "ipc_payload_slot")
	f := openSlot(t)
	_, err := f.Write([]byte{0xff, 0x00, 0x13})
	require.NoError(t, err)

	empty, err := s.IsEmpty(f)
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestResolve(t *testing.T) {
	shmDir := t.TempDir()
	missing := filepath.Join(shmDir, "missing")

	native := filepath.Join(t.TempDir(), "osrelease")
	require.NoError(t, os.WriteFile(native, []byte("6.8.0-45-generic\n"), 0o644))
	wsl := filepath.Join(t.TempDir(), "osrelease")
	require.NoError(t, os.WriteFile(wsl, []byte("5.15.153.1-microsoft-standard-WSL2\n"), 0o644))

	tests := []struct {
		name      string
		kind      Kind
		shmDir    string
		osRelease string
		want      Kind
		wantErr   error
	}{
		{"default native", KindDefault, shmDir, native, KindSharedMemory, nil},
		{"empty means default", "", shmDir, native, KindSharedMemory, nil},
		{"default on wsl", KindDefault, shmDir, wsl, KindFile, nil},
		{"default without shm dir", KindDefault, missing, native, KindFile, nil},
		{"forced file", KindFile, shmDir, native, KindFile, nil},
		{"forced shm on wsl", KindSharedMemory, shmDir, wsl, KindSharedMemory, nil},
		{"unknown", Kind("pipes"), shmDir, native, "", errdefs.ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := osReleasePath
			osReleasePath = tt.osRelease
			defer func() { osReleasePath = orig }()

			got, err := Resolve(tt.kind, tt.shmDir)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewFactory(t *testing.T) {
	f, err := NewFactory(KindFile, "")
	require.NoError(t, err)
	assert.IsType(t, FileStrategy{}, f("args_worker"))

	dir := t.TempDir()
	f, err = NewFactory(KindSharedMemory, dir)
	require.NoError(t, err)
	s, ok := f("args_worker").(*SharedMemoryStrategy)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "procbridge_args_worker"), s.Segment())
}
