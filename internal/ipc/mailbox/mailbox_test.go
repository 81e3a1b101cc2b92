// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build unix

package mailbox

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/noldarim/procbridge/internal/ipc/lockfile"
	"github.com/noldarim/procbridge/internal/ipc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nested struct {
	Name   string           `cbor:"name"`
	Tags   []string         `cbor:"tags"`
	Pair   [2]int           `cbor:"pair"`
	Values map[string][]int `cbor:"values"`
}

func strategies(t *testing.T) map[string]transport.Factory {
	shmDir := t.TempDir()
	return map[string]transport.Factory{
		"file": transport.NewFileStrategy,
		"shared_memory": func(name string) transport.Strategy {
			return transport.NewSharedMemoryStrategy(shmDir, name)
		},
	}
}

func pair(t *testing.T, name string, opts Options) (*Sender, *Receiver) {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	s, err := NewSender(name, opts)
	require.NoError(t, err)
	r, err := NewReceiver(name, opts)
	require.NoError(t, err)
	return s, r
}

func TestMailbox_RoundTrip(t *testing.T) {
	for name, factory := range strategies(t) {
		t.Run(name, func(t *testing.T) {
			s, r := pair(t, "args_worker", Options{Strategy: factory})

			in := nested{
				Name:   "latent",
				Tags:   []string{"IMAGE", "LATENT"},
				Pair:   [2]int{-3, 7},
				Values: map[string][]int{"a": {1, 2}, "b": nil},
			}
			require.NoError(t, s.Send(in))

			var out nested
			require.NoError(t, r.RecvTimeout(time.Second, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestMailbox_RoundTripAny(t *testing.T) {
	s, r := pair(t, "res_driver", Options{})

	require.NoError(t, s.Send(map[string]any{"ok": true, "list": []any{"x", -1}}))

	var out any
	require.NoError(t, r.RecvTimeout(time.Second, &out))
	m, ok := out.(map[string]any)
	require.True(t, ok, "maps decode with string keys")
	assert.Equal(t, true, m["ok"])
	assert.Equal(t, []any{"x", int64(-1)}, m["list"])
}

func TestMailbox_LastWriteWins(t *testing.T) {
	s, r := pair(t, "args_worker", Options{})

	require.NoError(t, s.Send("v1"))
	require.NoError(t, s.Send("v2"))

	var out string
	require.NoError(t, r.RecvTimeout(time.Second, &out))
	assert.Equal(t, "v2", out)

	err := r.RecvTimeout(50*time.Millisecond, &out)
	assert.ErrorIs(t, err, errdefs.ErrTimeout, "recv cleared the slot")
}

func TestMailbox_SharedMemoryDoubleSend(t *testing.T) {
	shmDir := t.TempDir()
	s, r := pair(t, "args_worker", Options{Strategy: func(name string) transport.Strategy {
		return transport.NewSharedMemoryStrategy(shmDir, name)
	}})

	require.NoError(t, s.Send("first"))
	require.ErrorIs(t, s.Send("second"), errdefs.ErrQueueUsage)

	var out string
	require.NoError(t, r.RecvTimeout(time.Second, &out))
	assert.Equal(t, "first", out)
}

func TestMailbox_RecvTimeoutBounds(t *testing.T) {
	_, r := pair(t, "res_worker", Options{PollInterval: 10 * time.Millisecond})

	const budget = 150 * time.Millisecond
	start := time.Now()
	var out any
	err := r.RecvTimeout(budget, &out)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, errdefs.ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, budget)
	assert.Less(t, elapsed, budget+200*time.Millisecond)
}

func TestMailbox_RecvTimeoutWhenLockHeld(t *testing.T) {
	s, r := pair(t, "res_worker", Options{PollInterval: 5 * time.Millisecond})
	require.NoError(t, s.Send("unreachable"))

	held, err := lockfile.Acquire(context.Background(), r.Path(), time.Second, 0)
	require.NoError(t, err)
	defer held.Release()

	var out string
	err = r.RecvTimeout(80*time.Millisecond, &out)
	assert.ErrorIs(t, err, errdefs.ErrTimeout)
}

func TestMailbox_RecvWaitsForLateSend(t *testing.T) {
	s, r := pair(t, "args_driver", Options{PollInterval: 5 * time.Millisecond})

	go func() {
		time.Sleep(60 * time.Millisecond)
		s.Send(42)
	}()

	var out int
	require.NoError(t, r.RecvTimeout(2*time.Second, &out))
	assert.Equal(t, 42, out)
}

func TestMailbox_RecvUnboundedIsCancellable(t *testing.T) {
	_, r := pair(t, "args_driver", Options{PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(40 * time.Millisecond)
		cancel()
	}()

	var out any
	err := r.Recv(ctx, &out)
	require.ErrorIs(t, err, errdefs.ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMailbox_PingPong(t *testing.T) {
	dir := t.TempDir()
	opts := Options{Dir: dir, PollInterval: time.Millisecond}
	reqS, reqR := pair(t, "args_worker", opts)
	ackS, ackR := pair(t, "res_worker", opts)

	const n = 100
	done := make(chan error, 1)
	go func() {
		for i := 0; i < n; i++ {
			var v int
			if err := reqR.RecvTimeout(5*time.Second, &v); err != nil {
				done <- err
				return
			}
			if err := ackS.Send(v * 2); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for i := 0; i < n; i++ {
		require.NoError(t, reqS.Send(i))
		var got int
		require.NoError(t, ackR.RecvTimeout(5*time.Second, &got))
		require.Equal(t, i*2, got)
	}
	require.NoError(t, <-done)
}

func TestMailbox_ClearOnInitAndClose(t *testing.T) {
	dir := t.TempDir()

	s, err := NewSender("args_worker", Options{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Send("stale"))

	r, err := NewReceiver("args_worker", Options{Dir: dir, ClearOnInit: true})
	require.NoError(t, err)
	var out string
	assert.ErrorIs(t, r.RecvTimeout(30*time.Millisecond, &out), errdefs.ErrTimeout)

	closing, err := NewSender("args_worker", Options{Dir: dir, ClearOnClose: true})
	require.NoError(t, err)
	require.NoError(t, closing.Send("pending"))
	require.NoError(t, closing.Close())

	st, err := os.Stat(r.Path())
	require.NoError(t, err)
	assert.Zero(t, st.Size())

	kept, err := NewSender("args_worker", Options{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, kept.Send("pending"))
	require.NoError(t, kept.Close(), "close without ClearOnClose keeps the value")
	require.NoError(t, r.RecvTimeout(time.Second, &out))
	assert.Equal(t, "pending", out)
}
