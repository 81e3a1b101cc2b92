// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/noldarim/procbridge/internal/ipc"
)

// WaitRequest bounds a remote wait. A zero Timeout waits until the job finishes.
type WaitRequest struct {
	Timeout time.Duration `cbor:"timeout"`
}

// API is the tracker as seen from any process.
type API struct {
	Arm           *ipc.Remote[struct{}, int64]
	WaitUntilDone *ipc.Remote[WaitRequest, Outcome]
}

// Bind registers the tracker functions on r. Processes other than the worker pass a nil
// tracker; their calls are routed to the worker.
func Bind(r *ipc.Router, t *Tracker) API {
	return API{
		Arm: ipc.RunIn(r, ipc.Worker, "tracker", "arm", func(context.Context, struct{}) (int64, error) {
			if t == nil {
				return 0, fmt.Errorf("job tracker: %w", errdefs.ErrUnavailable)
			}
			return t.Arm()
		}),
		WaitUntilDone: ipc.RunIn(r, ipc.Worker, "tracker", "wait_until_done", func(ctx context.Context, req WaitRequest) (Outcome, error) {
			if t == nil {
				return NotRun, fmt.Errorf("job tracker: %w", errdefs.ErrUnavailable)
			}
			if req.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, req.Timeout)
				defer cancel()
			}
			return t.WaitUntilDone(ctx)
		}),
	}
}
