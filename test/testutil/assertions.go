// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package testutil

import (
	"testing"

	"github.com/noldarim/procbridge/internal/protocol"
	"github.com/stretchr/testify/assert"
)

// DrainEvents returns every event currently buffered in ch without blocking.
func DrainEvents(ch <-chan protocol.Event) []protocol.Event {
	var events []protocol.Event
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		default:
			return events
		}
	}
}

// EventTypes returns the type of each event, in order.
func EventTypes(events []protocol.Event) []protocol.EventType {
	types := make([]protocol.EventType, 0, len(events))
	for _, ev := range events {
		if typed, ok := ev.(interface{ Type() protocol.EventType }); ok {
			types = append(types, typed.Type())
		}
	}
	return types
}

// AssertEventTypes verifies that ch holds exactly events of the expected types.
func AssertEventTypes(t *testing.T, ch <-chan protocol.Event, expected ...protocol.EventType) []protocol.Event {
	t.Helper()
	events := DrainEvents(ch)
	assert.Equal(t, expected, EventTypes(events), "Event type mismatch")
	return events
}

// AssertStatusEvent verifies that ev is a status event with the given queue length.
func AssertStatusEvent(t *testing.T, ev protocol.Event, queueRemaining int) {
	t.Helper()
	st, ok := ev.(protocol.StatusEvent)
	if assert.True(t, ok, "expected a status event, got %T", ev) {
		assert.Equal(t, queueRemaining, st.QueueRemaining, "StatusEvent queue length mismatch")
	}
}
