// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package callback turns a pair of mailboxes into a synchronous remote call.
//
// For a channel named N the caller (Proxy) writes calls to args_N and reads results
// from res_N; the callee (Watcher) does the opposite from a background goroutine.
package callback

import (
	"fmt"
	"sync"

	"github.com/noldarim/procbridge/internal/codec"
	"github.com/noldarim/procbridge/internal/errdefs"
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

func argsName(channel string) string { return "args_" + channel }
func resName(channel string) string  { return "res_" + channel }

// Call is a self-describing invocation resolvable in the other process.
type Call struct {
	ID     string                      `cbor:"id"`
	Module string                      `cbor:"module"`
	Name   string                      `cbor:"name"`
	Args   []codec.RawMessage          `cbor:"args"`
	Kwargs map[string]codec.RawMessage `cbor:"kwargs"`
}

// Key is the registry key of the called function.
func (c Call) Key() string {
	return c.Module + "." + c.Name
}

// NewCall encodes args and kwargs into a Call for module.name.
func NewCall(module, name string, args []any, kwargs map[string]any) (Call, error) {
	c := Call{Module: module, Name: name}
	for i, a := range args {
		raw, err := codec.Marshal(a)
		if err != nil {
			return Call{}, fmt.Errorf("encode argument %d of %s: %w", i, c.Key(), err)
		}
		c.Args = append(c.Args, raw)
	}
	if len(kwargs) > 0 {
		c.Kwargs = make(map[string]codec.RawMessage, len(kwargs))
		for k, v := range kwargs {
			raw, err := codec.Marshal(v)
			if err != nil {
				return Call{}, fmt.Errorf("encode argument %q of %s: %w", k, c.Key(), err)
			}
			c.Kwargs[k] = raw
		}
	}
	return c, nil
}

// Result is what the Watcher sends back: either a value or an error.
type Result struct {
	CallID string           `cbor:"call_id"`
	Value  codec.RawMessage `cbor:"value,omitempty"`
	Err    *RemoteError     `cbor:"err,omitempty"`
}

// RemoteError is an error raised in the other process. Its Kind names an errdefs
// sentinel, so errors.Is matches both ErrRemote and the original kind.
type RemoteError struct {
	Kind    string       `cbor:"kind"`
	Message string       `cbor:"message"`
	Cause   *RemoteError `cbor:"cause,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.Kind == "" || e.Kind == "unknown" {
		return "remote: " + e.Message
	}
	return "remote " + e.Kind + ": " + e.Message
}

func (e *RemoteError) Unwrap() []error {
	errs := []error{errdefs.ErrRemote}
	if kind := errdefs.FromKind(e.Kind); kind != nil && kind != errdefs.ErrRemote {
		errs = append(errs, kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// maxCauseDepth bounds the chain carried across the boundary.
const maxCauseDepth = 8

// WrapError converts err and its wrapped chain into a RemoteError.
func WrapError(err error) *RemoteError {
	return wrapError(err, 0)
}

func wrapError(err error, depth int) *RemoteError {
	if err == nil {
		return nil
	}
	if re, ok := err.(*RemoteError); ok {
		return re
	}

	out := &RemoteError{Kind: errdefs.Kind(err), Message: err.Error()}
	if depth >= maxCauseDepth {
		return out
	}

	var next error
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		next = u.Unwrap()
	case interface{ Unwrap() []error }:
		if errs := u.Unwrap(); len(errs) > 0 {
			next = errs[0]
		}
	}
	out.Cause = wrapError(next, depth+1)
	return out
}
