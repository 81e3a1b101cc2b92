// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build unix

package callback

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/noldarim/procbridge/internal/codec"
	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/noldarim/procbridge/internal/ipc/mailbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func channel(t *testing.T, handler Handler) (*Proxy, *Watcher) {
	t.Helper()
	opts := mailbox.Options{Dir: t.TempDir(), PollInterval: 2 * time.Millisecond}

	w, err := NewWatcher("worker", handler, opts, 50*time.Millisecond)
	require.NoError(t, err)
	p, err := NewProxy("worker", opts, 0)
	require.NoError(t, err)

	w.Start()
	t.Cleanup(func() {
		w.Close()
		p.Close()
	})
	return p, w
}

func call(t *testing.T, key string, args ...any) Call {
	t.Helper()
	c, err := NewCall("test", key, args, nil)
	require.NoError(t, err)
	return c
}

func TestCallback_ReturnsValue(t *testing.T) {
	p, _ := channel(t, func(_ context.Context, c Call) (any, error) {
		var a, b int
		if err := codec.Unmarshal(c.Args[0], &a); err != nil {
			return nil, err
		}
		if err := codec.Unmarshal(c.Args[1], &b); err != nil {
			return nil, err
		}
		return map[string]int{"sum": a + b}, nil
	})

	raw, err := p.Call(context.Background(), call(t, "add", 2, 40))
	require.NoError(t, err)

	var out map[string]int
	require.NoError(t, codec.Unmarshal(raw, &out))
	assert.Equal(t, 42, out["sum"])
}

func TestCallback_Kwargs(t *testing.T) {
	p, _ := channel(t, func(_ context.Context, c Call) (any, error) {
		var name string
		if err := codec.Unmarshal(c.Kwargs["name"], &name); err != nil {
			return nil, err
		}
		return "hello " + name, nil
	})

	c, err := NewCall("test", "greet", nil, map[string]any{"name": "driver"})
	require.NoError(t, err)

	raw, err := p.Call(context.Background(), c)
	require.NoError(t, err)
	var out string
	require.NoError(t, codec.Unmarshal(raw, &out))
	assert.Equal(t, "hello driver", out)
}

func TestCallback_RemoteErrorKeepsKind(t *testing.T) {
	p, _ := channel(t, func(_ context.Context, c Call) (any, error) {
		return nil, fmt.Errorf("workflow type %q: %w", "sandbox_txt2img", errdefs.ErrNotFound)
	})

	_, err := p.Call(context.Background(), call(t, "lookup"))
	require.Error(t, err)

	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "not_found", re.Kind)
	assert.ErrorIs(t, err, errdefs.ErrRemote)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	assert.NotErrorIs(t, err, errdefs.ErrTimeout)
	assert.Contains(t, err.Error(), "sandbox_txt2img")
	require.NotNil(t, re.Cause)
	assert.Equal(t, "not found", re.Cause.Message)
}

func TestCallback_PanicBecomesRemoteError(t *testing.T) {
	p, w := channel(t, func(context.Context, Call) (any, error) {
		panic("boom")
	})

	_, err := p.Call(context.Background(), call(t, "explode"))
	require.ErrorIs(t, err, errdefs.ErrRemote)
	assert.Contains(t, err.Error(), "boom")
	assert.True(t, w.Running(), "watcher survives a panicking handler")
}

func TestCallback_SerializedCalls(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	p, _ := channel(t, func(_ context.Context, c Call) (any, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		var v int
		err := codec.Unmarshal(c.Args[0], &v)
		return v, err
	})

	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(i int) {
			raw, err := p.Call(context.Background(), call(t, "id", i))
			if err == nil {
				var got int
				if err = codec.Unmarshal(raw, &got); err == nil && got != i {
					err = fmt.Errorf("call %d got result %d", i, got)
				}
			}
			errs <- err
		}(i)
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-errs)
	}
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestCallback_TimeoutWithoutWatcher(t *testing.T) {
	p, err := NewProxy("driver", mailbox.Options{Dir: t.TempDir(), PollInterval: 2 * time.Millisecond}, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	_, err = p.Call(ctx, call(t, "nobody"))
	assert.ErrorIs(t, err, errdefs.ErrTimeout)
}

func TestCallback_CallTimeoutOption(t *testing.T) {
	p, err := NewProxy("driver", mailbox.Options{Dir: t.TempDir(), PollInterval: 2 * time.Millisecond}, 40*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Call(context.Background(), call(t, "nobody"))
	assert.ErrorIs(t, err, errdefs.ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCallback_StaleResultDiscarded(t *testing.T) {
	opts := mailbox.Options{Dir: t.TempDir(), PollInterval: 2 * time.Millisecond}
	p, err := NewProxy("worker", opts, 0)
	require.NoError(t, err)

	// A result left behind by an abandoned call.
	stale, err := mailbox.NewSender(resName("worker"), opts)
	require.NoError(t, err)
	require.NoError(t, stale.Send(Result{CallID: "abandoned", Value: codec.RawMessage{0x01}}))

	w, err := NewWatcher("worker", func(context.Context, Call) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return "fresh", nil
	}, opts, 50*time.Millisecond)
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	raw, err := p.Call(context.Background(), call(t, "fresh"))
	require.NoError(t, err)
	var out string
	require.NoError(t, codec.Unmarshal(raw, &out))
	assert.Equal(t, "fresh", out)
}

func TestWatcher_StopJoins(t *testing.T) {
	release := make(chan struct{})
	served := make(chan struct{})
	p, w := channel(t, func(context.Context, Call) (any, error) {
		close(served)
		<-release
		return "late", nil
	})

	result := make(chan error, 1)
	go func() {
		_, err := p.Call(context.Background(), call(t, "slow"))
		result <- err
	}()
	<-served

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a call was still being served")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	<-stopped
	assert.False(t, w.Running())
	require.NoError(t, <-result, "the in-flight call is still answered")

	w.Stop() // no-op
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil))

	base := errors.New("disk full")
	re := WrapError(fmt.Errorf("save outputs: %w", fmt.Errorf("write: %w", base)))
	assert.Equal(t, "unknown", re.Kind)
	require.NotNil(t, re.Cause)
	require.NotNil(t, re.Cause.Cause)
	assert.Equal(t, "disk full", re.Cause.Cause.Message)
	assert.Nil(t, re.Cause.Cause.Cause)

	shape := WrapError(fmt.Errorf("bad batch: %w", errdefs.ErrShapeMismatch))
	assert.ErrorIs(t, shape, errdefs.ErrShapeMismatch)
	assert.Equal(t, "remote shape_mismatch: bad batch: shape mismatch", shape.Error())

	same := &RemoteError{Kind: "timeout", Message: "x"}
	assert.Same(t, same, WrapError(same))
}
