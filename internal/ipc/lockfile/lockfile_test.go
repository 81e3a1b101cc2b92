// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build unix

package lockfile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc_payload_test")

	l, err := Acquire(context.Background(), path, time.Second, 0)
	require.NoError(t, err)
	assert.Equal(t, path, l.Path())
	assert.NotNil(t, l.File())

	require.NoError(t, l.Release())
	require.NoError(t, l.Release(), "second release is a no-op")

	l2, err := Acquire(context.Background(), path, time.Second, 0)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestAcquire_ContendedTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc_payload_test")

	held, err := Acquire(context.Background(), path, time.Second, 0)
	require.NoError(t, err)
	defer held.Release()

	start := time.Now()
	_, err = Acquire(context.Background(), path, 100*time.Millisecond, 10*time.Millisecond)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, errdefs.ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc_payload_test")

	held, err := Acquire(context.Background(), path, time.Second, 0)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		held.Release()
	}()

	l, err := Acquire(context.Background(), path, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, l.Release())
}

func TestAcquire_ContextCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc_payload_test")

	held, err := Acquire(context.Background(), path, time.Second, 0)
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = Acquire(ctx, path, 0, 5*time.Millisecond)
	require.ErrorIs(t, err, errdefs.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
