// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package callback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/noldarim/procbridge/internal/codec"
	"github.com/noldarim/procbridge/internal/ipc/mailbox"
	"go.uber.org/multierr"
)

// Proxy is the calling side of a callback channel.
type Proxy struct {
	mu      sync.Mutex
	channel string
	args    *mailbox.Sender
	res     *mailbox.Receiver
	timeout time.Duration
}

// NewProxy opens the calling side of channel. A positive callTimeout bounds every call
// in addition to the caller's context; zero leaves calls bounded by the context only.
func NewProxy(channel string, opts mailbox.Options, callTimeout time.Duration) (*Proxy, error) {
	args, err := mailbox.NewSender(argsName(channel), opts)
	if err != nil {
		return nil, err
	}
	res, err := mailbox.NewReceiver(resName(channel), opts)
	if err != nil {
		return nil, err
	}
	return &Proxy{channel: channel, args: args, res: res, timeout: callTimeout}, nil
}

// Channel returns the channel name.
func (p *Proxy) Channel() string { return p.channel }

// Call sends call and blocks until its result arrives. Only one call per channel is in
// flight at a time. A remote failure is returned as a *RemoteError.
func (p *Proxy) Call(ctx context.Context, call Call) (codec.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.args.Send(call); err != nil {
		return nil, fmt.Errorf("call %s: %w", call.Key(), err)
	}

	for {
		var res Result
		if err := p.res.Recv(ctx, &res); err != nil {
			return nil, fmt.Errorf("call %s: %w", call.Key(), err)
		}
		if res.CallID != call.ID {
			// Answer to an earlier call whose caller gave up waiting.
			getLog().Debug().Str("channel", p.channel).Str("call_id", res.CallID).Msg("discarding stale result")
			continue
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Value, nil
	}
}

// Close releases both mailboxes.
func (p *Proxy) Close() error {
	return multierr.Combine(p.args.Close(), p.res.Close())
}
