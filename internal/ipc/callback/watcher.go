// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package callback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/noldarim/procbridge/internal/codec"
	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/noldarim/procbridge/internal/ipc/mailbox"
	"go.uber.org/multierr"
)

// DefaultWatchTimeout is how long one poll of the arguments mailbox lasts.
const DefaultWatchTimeout = 500 * time.Millisecond

// Handler serves one call.
type Handler func(ctx context.Context, call Call) (any, error)

// Watcher is the serving side of a callback channel.
type Watcher struct {
	channel string
	handler Handler
	args    *mailbox.Receiver
	res     *mailbox.Sender
	timeout time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher opens the serving side of channel.
func NewWatcher(channel string, handler Handler, opts mailbox.Options, watchTimeout time.Duration) (*Watcher, error) {
	if watchTimeout <= 0 {
		watchTimeout = DefaultWatchTimeout
	}
	args, err := mailbox.NewReceiver(argsName(channel), opts)
	if err != nil {
		return nil, err
	}
	res, err := mailbox.NewSender(resName(channel), opts)
	if err != nil {
		return nil, err
	}
	return &Watcher{channel: channel, handler: handler, args: args, res: res, timeout: watchTimeout}, nil
}

// Start launches the serving goroutine. Starting a running watcher is a no-op.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		for ctx.Err() == nil {
			w.attend(ctx)
		}
	}(w.done)

	getLog().Debug().Str("channel", w.channel).Msg("watcher started")
}

// Stop signals the goroutine and waits for it. A call being served is answered first.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if done == nil {
		return
	}
	cancel()
	<-done
	getLog().Debug().Str("channel", w.channel).Msg("watcher stopped")
}

// Running reports whether the serving goroutine is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done != nil
}

// Close stops the watcher and releases both mailboxes.
func (w *Watcher) Close() error {
	w.Stop()
	return multierr.Combine(w.args.Close(), w.res.Close())
}

// attend waits up to one watch timeout for a call and answers it.
func (w *Watcher) attend(ctx context.Context) {
	recvCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	var call Call
	if err := w.args.Recv(recvCtx, &call); err != nil {
		if !errors.Is(err, errdefs.ErrTimeout) {
			getLog().Warn().Err(err).Str("channel", w.channel).Msg("failed to receive call")
		}
		return
	}

	// Stopping must not abandon a call that was already taken off the mailbox.
	res := w.serve(context.WithoutCancel(ctx), call)
	if err := w.res.Send(res); err != nil {
		getLog().Error().Err(err).Str("channel", w.channel).Str("call", call.Key()).Msg("failed to send result")
	}
}

func (w *Watcher) serve(ctx context.Context, call Call) (res Result) {
	res.CallID = call.ID
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res.Value = nil
			res.Err = WrapError(fmt.Errorf("panic serving %s: %v", call.Key(), r))
		}
		getLog().Debug().
			Str("channel", w.channel).
			Str("call", call.Key()).
			Dur("took", time.Since(start)).
			Bool("failed", res.Err != nil).
			Msg("served call")
	}()

	value, err := w.handler(ctx, call)
	if err != nil {
		res.Err = WrapError(err)
		return res
	}

	raw, err := codec.Marshal(value)
	if err != nil {
		res.Err = WrapError(fmt.Errorf("encode result of %s: %w", call.Key(), err))
		return res
	}
	res.Value = raw
	return res
}
