// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package requests

import (
	"context"
	"fmt"
	"time"

	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/noldarim/procbridge/internal/ipc"
	"github.com/noldarim/procbridge/internal/protocol"
)

// SendRequest carries a client request across processes. A zero Timeout waits for
// the response until the caller gives up.
type SendRequest struct {
	Request protocol.ClientRequest `cbor:"request"`
	Timeout time.Duration          `cbor:"timeout"`
}

// API is the broker as seen from any process.
type API struct {
	Send *ipc.Remote[SendRequest, protocol.ClientResponse]
}

// Bind registers the broker functions on r. Processes other than the worker pass a
// nil broker.
func Bind(r *ipc.Router, b *Broker) API {
	return API{
		Send: ipc.RunIn(r, ipc.Worker, "requests", "send", func(ctx context.Context, req SendRequest) (protocol.ClientResponse, error) {
			if b == nil {
				return protocol.ClientResponse{}, fmt.Errorf("client request broker: %w", errdefs.ErrUnavailable)
			}
			if req.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, req.Timeout)
				defer cancel()
			}
			return b.Send(ctx, req.Request)
		}),
	}
}
