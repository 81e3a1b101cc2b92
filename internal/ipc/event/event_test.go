// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package event

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileEvent_SetClear(t *testing.T) {
	e := NewFileEvent(t.TempDir(), "tracker_accepted", 0)

	assert.False(t, e.IsSet())
	require.NoError(t, e.Set())
	require.NoError(t, e.Set(), "set is idempotent")
	assert.True(t, e.IsSet())

	require.NoError(t, e.Clear())
	require.NoError(t, e.Clear(), "clear is idempotent")
	assert.False(t, e.IsSet())
}

func TestFileEvent_WaitTimeout(t *testing.T) {
	e := NewFileEvent(t.TempDir(), "tracker_finished", 5*time.Millisecond)

	start := time.Now()
	ok, err := e.Wait(context.Background(), 80*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestFileEvent_WaitWakesOnSet(t *testing.T) {
	dir := t.TempDir()
	waiter := NewFileEvent(dir, "tracker_finished", 0)
	setter := NewFileEvent(dir, "tracker_finished", 0)

	go func() {
		time.Sleep(30 * time.Millisecond)
		setter.Set()
	}()

	ok, err := waiter.Wait(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileEvent_WaitIgnoresOtherEvents(t *testing.T) {
	dir := t.TempDir()
	e := NewFileEvent(dir, "tracker_finished", 5*time.Millisecond)

	go func() {
		time.Sleep(10 * time.Millisecond)
		NewFileEvent(dir, "tracker_accepted", 0).Set()
	}()

	ok, err := e.Wait(context.Background(), 60*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileEvent_WaitContextCancel(t *testing.T) {
	e := NewFileEvent(t.TempDir(), "tracker_finished", 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := e.Wait(ctx, 0)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileEvent_ManyWaiters(t *testing.T) {
	dir := t.TempDir()
	e := NewFileEvent(dir, "shared", 0)

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = NewFileEvent(dir, "shared", 0).Wait(context.Background(), 5*time.Second)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, e.Set())
	wg.Wait()

	for i, ok := range results {
		assert.True(t, ok, "waiter %d", i)
	}
}

// TestHelperProcess is run as a subprocess by TestFileEvent_MultiProcess.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv("PROCBRIDGE_EVENT_HELPER")
	if mode == "" {
		return
	}
	e := NewFileEvent(os.Getenv("PROCBRIDGE_EVENT_DIR"), "shared", 0)

	switch mode {
	case "set":
		if err := e.Set(); err != nil {
			os.Exit(2)
		}
	case "wait":
		ok, err := e.Wait(context.Background(), 10*time.Second)
		if err != nil || !ok {
			os.Exit(1)
		}
	}
	os.Exit(0)
}

func helper(t *testing.T, dir, mode string) *exec.Cmd {
	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$")
	cmd.Env = append(os.Environ(), "PROCBRIDGE_EVENT_HELPER="+mode, "PROCBRIDGE_EVENT_DIR="+dir)
	require.NoError(t, cmd.Start())
	return cmd
}

func TestFileEvent_MultiProcess(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns subprocesses")
	}
	dir := t.TempDir()

	var waiters, setters []*exec.Cmd
	for i := 0; i < 3; i++ {
		waiters = append(waiters, helper(t, dir, "wait"))
	}
	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 5; i++ {
		setters = append(setters, helper(t, dir, "set"))
	}

	for _, cmd := range setters {
		require.NoError(t, cmd.Wait())
	}
	for _, cmd := range waiters {
		require.NoError(t, cmd.Wait(), "every waiter unblocks")
	}

	assert.True(t, NewFileEvent(dir, "shared", 0).IsSet())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var markers []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "ipc_event_") {
			markers = append(markers, filepath.Join(dir, entry.Name()))
		}
	}
	assert.Len(t, markers, 1, "five setters leave one flag")
}
