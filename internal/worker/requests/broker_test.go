// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package requests

import (
	"context"
	"testing"
	"time"

	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/noldarim/procbridge/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_SendWithoutClient(t *testing.T) {
	b := NewBroker(20 * time.Millisecond)
	_, err := b.Send(context.Background(), protocol.ClientRequest{Request: protocol.RequestQueuePrompt, WorkflowTypeID: "sandbox_a"})
	assert.ErrorIs(t, err, errdefs.ErrUnavailable)
}

func TestBroker_SendUnregisteredType(t *testing.T) {
	b := NewBroker(20 * time.Millisecond)
	require.NoError(t, b.RegisterClient("c1", "sandbox_a"))

	_, err := b.Send(context.Background(), protocol.ClientRequest{WorkflowTypeID: "sandbox_b"})
	assert.ErrorIs(t, err, errdefs.ErrUnavailable)
	assert.Contains(t, err.Error(), "sandbox_b")
}

func TestBroker_RegisterValidation(t *testing.T) {
	b := NewBroker(0)
	assert.ErrorIs(t, b.RegisterClient("", "x"), errdefs.ErrConfiguration)
	assert.ErrorIs(t, b.RegisterClient("c", ""), errdefs.ErrConfiguration)
}

func TestBroker_LastRegisteredClientIsFocused(t *testing.T) {
	b := NewBroker(0)
	require.NoError(t, b.RegisterClient("c1", "sandbox_a"))
	require.NoError(t, b.RegisterClient("c2", "sandbox_a"))
	assert.Equal(t, "c2", b.Focused())

	require.NoError(t, b.RegisterClient("c1", "sandbox_b"))
	assert.Equal(t, "c1", b.Focused())
}

func TestBroker_PollTimeoutSentinel(t *testing.T) {
	b := NewBroker(30 * time.Millisecond)
	require.NoError(t, b.RegisterClient("c1", "sandbox_a"))

	start := time.Now()
	req, err := b.Poll(context.Background(), "c1", "sandbox_a")
	require.NoError(t, err)
	assert.Equal(t, protocol.RequestTimeout, req.Request)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestBroker_PollUnknownClient(t *testing.T) {
	b := NewBroker(10 * time.Millisecond)
	_, err := b.Poll(context.Background(), "ghost", "sandbox_a")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestBroker_RoundTrip(t *testing.T) {
	b := NewBroker(50 * time.Millisecond)
	require.NoError(t, b.RegisterClient("c1", "sandbox_a"))

	// A polling client answers the first real request it sees.
	go func() {
		for {
			req, err := b.Poll(context.Background(), "c1", "sandbox_a")
			if err != nil {
				return
			}
			if req.Request == protocol.RequestTimeout {
				continue
			}
			b.HandleResponse(protocol.ClientResponse{
				Metadata:       protocol.Metadata{RequestID: req.RequestID},
				ClientID:       "c1",
				WorkflowTypeID: req.WorkflowTypeID,
				Request:        req.Request,
				Status:         protocol.StatusOK,
				Number:         4,
			})
			return
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := b.Send(ctx, protocol.ClientRequest{
		Request:        protocol.RequestQueuePrompt,
		WorkflowTypeID: "sandbox_a",
		QueueFront:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusOK, resp.Status)
	assert.Equal(t, int64(4), resp.Number)
	assert.NotEmpty(t, resp.RequestID)
}

func TestBroker_SignalSurvivesUntilNextPoll(t *testing.T) {
	b := NewBroker(time.Second)
	require.NoError(t, b.RegisterClient("c1", "sandbox_a"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := b.Send(ctx, protocol.ClientRequest{Request: protocol.RequestSerializeGraph, WorkflowTypeID: "sandbox_a"})
	require.ErrorIs(t, err, errdefs.ErrTimeout)

	req, err := b.Poll(context.Background(), "c1", "sandbox_a")
	require.NoError(t, err)
	assert.Equal(t, protocol.RequestSerializeGraph, req.Request)
}

func TestBroker_StaleResponseDiscarded(t *testing.T) {
	b := NewBroker(50 * time.Millisecond)
	require.NoError(t, b.RegisterClient("c1", "sandbox_a"))

	go func() {
		req, err := b.Poll(context.Background(), "c1", "sandbox_a")
		if err != nil {
			return
		}
		b.HandleResponse(protocol.ClientResponse{Metadata: protocol.Metadata{RequestID: "old"}, Status: protocol.StatusError})
		time.Sleep(10 * time.Millisecond)
		b.HandleResponse(protocol.ClientResponse{Metadata: protocol.Metadata{RequestID: req.RequestID}, Status: protocol.StatusOK})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := b.Send(ctx, protocol.ClientRequest{WorkflowTypeID: "sandbox_a"})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusOK, resp.Status)
}
