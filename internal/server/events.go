// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP surfaces of both processes. The worker serves
// the interactive client (long poll, prompt queue, history, websocket queue
// events); the driver serves workflow listing and runs.
package server

import (
	"context"
	"sync"

	"github.com/noldarim/procbridge/internal/logger"
	"github.com/noldarim/procbridge/internal/protocol"

	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetAPILogger()
		log = &l
	})
	return log
}

// EventBroadcaster forwards the executor's job events to websocket clients.
//
// Status events only carry the current queue length, so when several are pending
// only the newest is sent. Job events are forwarded one by one, in order.
type EventBroadcaster struct {
	events  <-chan protocol.Event
	clients *ClientRegistry
}

// NewEventBroadcaster creates a broadcaster reading events.
func NewEventBroadcaster(events <-chan protocol.Event, clients *ClientRegistry) *EventBroadcaster {
	return &EventBroadcaster{events: events, clients: clients}
}

// Run forwards events until the channel is closed or ctx ends.
func (b *EventBroadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-b.events:
			if !ok {
				getLog().Debug().Msg("Event channel closed")
				return
			}
			if !b.forward(ev) {
				return
			}
		}
	}
}

// forward sends ev and whatever is already pending behind it. It reports false once
// the channel is closed.
func (b *EventBroadcaster) forward(ev protocol.Event) bool {
	var status protocol.Event
	for {
		if _, ok := ev.(protocol.StatusEvent); ok {
			status = ev
		} else {
			b.clients.Broadcast(ev)
		}

		select {
		case next, ok := <-b.events:
			if !ok {
				b.flush(status)
				return false
			}
			ev = next
		default:
			b.flush(status)
			return true
		}
	}
}

func (b *EventBroadcaster) flush(status protocol.Event) {
	if status != nil {
		b.clients.Broadcast(status)
	}
}
