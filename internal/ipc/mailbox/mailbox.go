// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package mailbox implements a single-slot channel between processes.
//
// A send always replaces any unread value and a receive always empties the slot.
// Both sides serialize through an exclusive lock on <dir>/ipc_payload_<name>.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/noldarim/procbridge/internal/codec"
	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/noldarim/procbridge/internal/ipc/lockfile"
	"github.com/noldarim/procbridge/internal/ipc/transport"
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

const (
	DefaultPollInterval    = 20 * time.Millisecond
	DefaultSendLockTimeout = 256 * time.Second
)

// Options configures a mailbox. Both processes must agree on Dir and Strategy.
type Options struct {
	Dir             string
	Strategy        transport.Factory
	PollInterval    time.Duration
	SendLockTimeout time.Duration
	ClearOnInit     bool
	ClearOnClose    bool
}

func (o Options) withDefaults() Options {
	if o.Dir == "" {
		o.Dir = os.TempDir()
	}
	if o.Strategy == nil {
		o.Strategy = transport.NewFileStrategy
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.SendLockTimeout <= 0 {
		o.SendLockTimeout = DefaultSendLockTimeout
	}
	return o
}

// slot is the state shared by Sender and Receiver.
type slot struct {
	name     string
	path     string
	strategy transport.Strategy
	opts     Options
}

func newSlot(name string, opts Options) (*slot, error) {
	opts = opts.withDefaults()
	s := &slot{
		name:     name,
		path:     filepath.Join(opts.Dir, "ipc_payload_"+name),
		strategy: opts.Strategy(name),
		opts:     opts,
	}
	if opts.ClearOnInit {
		if err := s.clear(); err != nil {
			return nil, fmt.Errorf("clear mailbox %s: %w", name, err)
		}
	}
	return s, nil
}

// Name returns the mailbox name.
func (s *slot) Name() string { return s.name }

// Path returns the lock file path.
func (s *slot) Path() string { return s.path }

func (s *slot) clear() error {
	l, err := lockfile.Acquire(context.Background(), s.path, s.opts.SendLockTimeout, s.opts.PollInterval)
	if err != nil {
		return err
	}
	defer l.Release()
	return s.strategy.Clear(l.File())
}

// Close drops any unread value when the mailbox was opened with ClearOnClose.
func (s *slot) Close() error {
	if !s.opts.ClearOnClose {
		return nil
	}
	return s.clear()
}

// Sender is the writing end of a mailbox.
type Sender struct {
	*slot
}

// NewSender opens the writing end of mailbox name.
func NewSender(name string, opts Options) (*Sender, error) {
	s, err := newSlot(name, opts)
	if err != nil {
		return nil, err
	}
	return &Sender{slot: s}, nil
}

// Send serializes v and stores it, replacing any unread value.
func (s *Sender) Send(v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", s.name, err)
	}

	l, err := lockfile.Acquire(context.Background(), s.path, s.opts.SendLockTimeout, s.opts.PollInterval)
	if err != nil {
		return fmt.Errorf("send on %s: %w", s.name, err)
	}
	defer l.Release()

	if err := s.strategy.SetData(l.File(), data); err != nil {
		return fmt.Errorf("send on %s: %w", s.name, err)
	}
	getLog().Debug().Str("mailbox", s.name).Int("bytes", len(data)).Msg("sent value")
	return nil
}

// Receiver is the reading end of a mailbox.
type Receiver struct {
	*slot
}

// NewReceiver opens the reading end of mailbox name.
func NewReceiver(name string, opts Options) (*Receiver, error) {
	s, err := newSlot(name, opts)
	if err != nil {
		return nil, err
	}
	return &Receiver{slot: s}, nil
}

// errEmpty signals an empty slot inside one receive attempt.
var errEmpty = errors.New("mailbox empty")

// Recv waits for a value and decodes it into out. The time budget is the deadline of ctx;
// without a deadline Recv waits until a value arrives or ctx is cancelled. Running out of
// budget, or failing to take the lock within it, returns errdefs.ErrTimeout.
func (r *Receiver) Recv(ctx context.Context, out any) error {
	deadline, bounded := ctx.Deadline()

	for {
		var budget time.Duration
		if bounded {
			budget = time.Until(deadline)
			if budget <= 0 {
				return fmt.Errorf("recv on %s: %w", r.name, errdefs.ErrTimeout)
			}
		}

		data, err := r.attempt(ctx, budget)
		switch {
		case err == nil:
			if err := codec.Unmarshal(data, out); err != nil {
				return fmt.Errorf("decode payload from %s: %w", r.name, err)
			}
			getLog().Debug().Str("mailbox", r.name).Int("bytes", len(data)).Msg("received value")
			return nil
		case errors.Is(err, errEmpty):
		default:
			return fmt.Errorf("recv on %s: %w", r.name, err)
		}

		wait := r.opts.PollInterval
		if bounded {
			wait = min(wait, time.Until(deadline))
		}
		if wait > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("recv on %s: %w: %w", r.name, errdefs.ErrTimeout, ctx.Err())
			case <-time.After(wait):
			}
		}
	}
}

// RecvTimeout is Recv with a budget of timeout.
func (r *Receiver) RecvTimeout(timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return r.Recv(ctx, out)
}

// attempt takes the lock once (waiting at most budget, zero meaning ctx only) and
// drains the slot if it holds a value. The emptiness check and the read happen under
// the same lock, so a concurrent send can never slip in between them.
func (r *Receiver) attempt(ctx context.Context, budget time.Duration) ([]byte, error) {
	l, err := lockfile.Acquire(ctx, r.path, budget, r.opts.PollInterval)
	if err != nil {
		return nil, err
	}
	defer l.Release()

	empty, err := r.strategy.IsEmpty(l.File())
	if err != nil {
		return nil, err
	}
	if empty {
		return nil, errEmpty
	}
	return r.strategy.GetData(l.File())
}
