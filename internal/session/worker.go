// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"time"

	"github.com/noldarim/procbridge/internal/protocol"
	"github.com/noldarim/procbridge/internal/worker/requests"
	"github.com/noldarim/procbridge/internal/worker/tracker"
)

// Worker is the remote side of a workflow run.
type Worker interface {
	Arm(ctx context.Context) (int64, error)
	Send(ctx context.Context, req protocol.ClientRequest) (protocol.ClientResponse, error)
	WaitUntilDone(ctx context.Context) (tracker.Outcome, error)
}

type routedWorker struct {
	tracker  tracker.API
	requests requests.API
}

// RoutedWorker reaches the worker's tracker and request broker through routed functions.
func RoutedWorker(t tracker.API, r requests.API) Worker {
	return routedWorker{tracker: t, requests: r}
}

// remaining turns the ctx deadline into a budget the worker can apply on its side.
func remaining(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	if d := time.Until(deadline); d > 0 {
		return d
	}
	return time.Nanosecond
}

func (w routedWorker) Arm(ctx context.Context) (int64, error) {
	return w.tracker.Arm.Call(ctx, struct{}{})
}

func (w routedWorker) Send(ctx context.Context, req protocol.ClientRequest) (protocol.ClientResponse, error) {
	return w.requests.Send.Call(ctx, requests.SendRequest{Request: req, Timeout: remaining(ctx)})
}

func (w routedWorker) WaitUntilDone(ctx context.Context) (tracker.Outcome, error) {
	return w.tracker.WaitUntilDone.Call(ctx, tracker.WaitRequest{Timeout: remaining(ctx)})
}
