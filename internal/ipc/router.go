// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ipc routes function calls to the process that owns them.
//
// Every process builds a Router for its own ProcessID and registers the same set of
// routed functions at start. Calling a routed function runs it directly when the caller
// already lives in the function's home process, and otherwise sends it over the
// callback channel named after the home process.
package ipc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noldarim/procbridge/internal/codec"
	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/noldarim/procbridge/internal/ipc/callback"
	"github.com/noldarim/procbridge/internal/ipc/mailbox"
	"github.com/noldarim/procbridge/internal/logger"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
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

// ProcessID names one of the cooperating processes.
type ProcessID string

const (
	Driver ProcessID = "driver"
	Worker ProcessID = "worker"
)

// Peer returns the other process of the driver/worker pair.
func (p ProcessID) Peer() ProcessID {
	if p == Driver {
		return Worker
	}
	return Driver
}

// Options configures the channels of a Router.
type Options struct {
	Mailbox      mailbox.Options
	CallTimeout  time.Duration
	WatchTimeout time.Duration
}

type dispatchFunc func(ctx context.Context, call callback.Call) (any, error)

// Router owns the callback channels of one process and the registry of routed functions.
type Router struct {
	current ProcessID

	mu       sync.RWMutex
	registry map[string]dispatchFunc

	proxies map[ProcessID]*callback.Proxy
	watcher *callback.Watcher
}

// New builds the Router of process current, able to call into peers.
func New(current ProcessID, peers []ProcessID, opts Options) (*Router, error) {
	r := &Router{
		current:  current,
		registry: make(map[string]dispatchFunc),
		proxies:  make(map[ProcessID]*callback.Proxy),
	}

	for _, peer := range peers {
		if peer == current {
			continue
		}
		p, err := callback.NewProxy(string(peer), opts.Mailbox, opts.CallTimeout)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("open channel to %s: %w", peer, err)
		}
		r.proxies[peer] = p
	}

	w, err := callback.NewWatcher(string(current), r.Dispatch, opts.Mailbox, opts.WatchTimeout)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("open channel of %s: %w", current, err)
	}
	r.watcher = w

	return r, nil
}

// Current returns the process this Router runs in.
func (r *Router) Current() ProcessID { return r.current }

// Start begins serving calls addressed to the current process.
func (r *Router) Start() {
	r.watcher.Start()
	getLog().Info().Str("process", string(r.current)).Int("routes", len(r.Routes())).Msg("router serving")
}

// Stop stops serving. Calls being served are answered first.
func (r *Router) Stop() {
	if r.watcher != nil {
		r.watcher.Stop()
	}
}

// Started reports whether calls are being served.
func (r *Router) Started() bool {
	return r.watcher != nil && r.watcher.Running()
}

// Close stops serving and releases every channel.
func (r *Router) Close() error {
	var err error
	if r.watcher != nil {
		err = multierr.Append(err, r.watcher.Close())
	}
	for _, p := range r.proxies {
		err = multierr.Append(err, p.Close())
	}
	return err
}

// Routes lists the registered keys.
func (r *Router) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.registry))
	for k := range r.registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Router) register(key string, fn dispatchFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.registry[key]; dup {
		panic("ipc: duplicate routed function " + key)
	}
	r.registry[key] = fn
}

// Dispatch serves a call received from another process.
func (r *Router) Dispatch(ctx context.Context, call callback.Call) (any, error) {
	r.mu.RLock()
	fn, ok := r.registry[call.Key()]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("routed function %s in %s: %w", call.Key(), r.current, errdefs.ErrNotFound)
	}
	return fn(ctx, call)
}

// Require refuses op unless the current process is home.
func (r *Router) Require(home ProcessID, op string) error {
	if r.current != home {
		return fmt.Errorf("%s must run in %s, called from %s: %w", op, home, r.current, errdefs.ErrWrongProcess)
	}
	return nil
}

func (r *Router) call(ctx context.Context, home ProcessID, call callback.Call) (codec.RawMessage, error) {
	p, ok := r.proxies[home]
	if !ok {
		return nil, fmt.Errorf("no channel from %s to %s: %w", r.current, home, errdefs.ErrUnavailable)
	}
	return p.Call(ctx, call)
}

// Remote is a function bound to a home process.
type Remote[In, Out any] struct {
	r      *Router
	home   ProcessID
	module string
	name   string
	fn     func(context.Context, In) (Out, error)
}

// RunIn registers fn as module.name living in home and returns the routed handle.
// Every process must register the same functions, in any order.
func RunIn[In, Out any](r *Router, home ProcessID, module, name string, fn func(context.Context, In) (Out, error)) *Remote[In, Out] {
	f := &Remote[In, Out]{r: r, home: home, module: module, name: name, fn: fn}
	r.register(f.Key(), f.dispatch)
	return f
}

// Key returns the registry key.
func (f *Remote[In, Out]) Key() string { return f.module + "." + f.name }

// Home returns the owning process.
func (f *Remote[In, Out]) Home() ProcessID { return f.home }

// Call runs the function with in, in its home process.
func (f *Remote[In, Out]) Call(ctx context.Context, in In) (Out, error) {
	if f.r.current == f.home {
		return f.fn(ctx, in)
	}

	var zero Out
	call, err := callback.NewCall(f.module, f.name, []any{in}, nil)
	if err != nil {
		return zero, err
	}
	return f.remote(ctx, call)
}

// CallNamed runs the function with its input built from named fields.
func (f *Remote[In, Out]) CallNamed(ctx context.Context, kwargs map[string]any) (Out, error) {
	var zero Out
	if f.r.current == f.home {
		var in In
		if len(kwargs) > 0 {
			if err := codec.Convert(kwargs, &in); err != nil {
				return zero, fmt.Errorf("decode arguments of %s: %w", f.Key(), err)
			}
		}
		return f.fn(ctx, in)
	}

	call, err := callback.NewCall(f.module, f.name, nil, kwargs)
	if err != nil {
		return zero, err
	}
	return f.remote(ctx, call)
}

func (f *Remote[In, Out]) remote(ctx context.Context, call callback.Call) (Out, error) {
	var out Out
	raw, err := f.r.call(ctx, f.home, call)
	if err != nil {
		return out, err
	}
	if len(raw) > 0 {
		if err := codec.Unmarshal(raw, &out); err != nil {
			return out, fmt.Errorf("decode result of %s: %w", f.Key(), err)
		}
	}
	return out, nil
}

func (f *Remote[In, Out]) dispatch(ctx context.Context, call callback.Call) (any, error) {
	var in In
	switch {
	case len(call.Args) > 0:
		if err := codec.Unmarshal(call.Args[0], &in); err != nil {
			return nil, fmt.Errorf("decode arguments of %s: %w", f.Key(), err)
		}
	case len(call.Kwargs) > 0:
		if err := codec.Convert(call.Kwargs, &in); err != nil {
			return nil, fmt.Errorf("decode arguments of %s: %w", f.Key(), err)
		}
	}
	if err := f.r.Require(f.home, f.Key()); err != nil {
		return nil, err
	}
	return f.fn(ctx, in)
}

// RestrictTo wraps fn so that it refuses to run outside home.
func RestrictTo[In, Out any](r *Router, home ProcessID, name string, fn func(context.Context, In) (Out, error)) func(context.Context, In) (Out, error) {
	return func(ctx context.Context, in In) (Out, error) {
		if err := r.Require(home, name); err != nil {
			var zero Out
			return zero, err
		}
		return fn(ctx, in)
	}
}
