// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package requests hands work to the interactive client over a long poll.
//
// Clients register once per workflow type they display, then poll. The worker
// side stores the latest request and wakes the focused client's poll for the
// request's workflow type; the client answers with a ClientResponse.
package requests

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/noldarim/procbridge/internal/errdefs"
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
		l := logger.GetWorkerLogger()
		log = &l
	})
	return log
}

// DefaultPollTimeout bounds one long poll.
const DefaultPollTimeout = 500 * time.Millisecond

// Broker pairs requests from the driver with polling clients.
type Broker struct {
	pollTimeout time.Duration

	// sendMu keeps a single request outstanding.
	sendMu sync.Mutex

	mu      sync.Mutex
	clients map[string]map[string]chan struct{}
	focused string
	last    protocol.ClientRequest

	responses chan protocol.ClientResponse
}

// NewBroker returns a broker whose polls wait at most pollTimeout.
func NewBroker(pollTimeout time.Duration) *Broker {
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	return &Broker{
		pollTimeout: pollTimeout,
		clients:     make(map[string]map[string]chan struct{}),
		responses:   make(chan protocol.ClientResponse, 1),
	}
}

// RegisterClient records that clientID displays workflowTypeID and focuses it.
func (b *Broker) RegisterClient(clientID, workflowTypeID string) error {
	if clientID == "" || workflowTypeID == "" {
		return fmt.Errorf("register client: client id and workflow type id are required: %w", errdefs.ErrConfiguration)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	types, ok := b.clients[clientID]
	if !ok {
		types = make(map[string]chan struct{})
		b.clients[clientID] = types
	}
	if _, ok := types[workflowTypeID]; !ok {
		types[workflowTypeID] = make(chan struct{}, 1)
		getLog().Info().Str("client_id", clientID).Str("workflow_type_id", workflowTypeID).Msg("registered new client")
	}
	b.focused = clientID
	return nil
}

// Focused returns the client requests are sent to.
func (b *Broker) Focused() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.focused
}

// Send hands req to the focused client and waits for its response.
func (b *Broker) Send(ctx context.Context, req protocol.ClientRequest) (protocol.ClientResponse, error) {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Version == "" {
		req.Version = protocol.CurrentProtocolVersion
	}

	b.mu.Lock()
	if b.focused == "" {
		b.mu.Unlock()
		return protocol.ClientResponse{}, fmt.Errorf("no active client connection: %w", errdefs.ErrUnavailable)
	}
	wake, ok := b.clients[b.focused][req.WorkflowTypeID]
	if !ok {
		focused := b.focused
		b.mu.Unlock()
		return protocol.ClientResponse{}, fmt.Errorf("workflow type %q has not been registered by the active client %s: %w",
			req.WorkflowTypeID, focused, errdefs.ErrUnavailable)
	}
	b.last = req
	b.drainResponses()
	select {
	case wake <- struct{}{}:
	default:
	}
	b.mu.Unlock()

	getLog().Debug().Str("request", string(req.Request)).Str("request_id", req.RequestID).
		Str("workflow_type_id", req.WorkflowTypeID).Msg("request sent to client")

	for {
		select {
		case resp := <-b.responses:
			if resp.RequestID != "" && resp.RequestID != req.RequestID {
				getLog().Warn().Str("request_id", resp.RequestID).Msg("discarding response to a previous request")
				continue
			}
			return resp, nil
		case <-ctx.Done():
			return protocol.ClientResponse{}, fmt.Errorf("wait for client response: %w: %w", errdefs.ErrTimeout, ctx.Err())
		}
	}
}

func (b *Broker) drainResponses() {
	for {
		select {
		case <-b.responses:
		default:
			return
		}
	}
}

// Poll waits for a request addressed to clientID for workflowTypeID. Without one
// within the poll timeout it returns the timeout sentinel.
func (b *Broker) Poll(ctx context.Context, clientID, workflowTypeID string) (protocol.ClientRequest, error) {
	b.mu.Lock()
	wake, ok := b.clients[clientID][workflowTypeID]
	b.mu.Unlock()
	if !ok {
		return protocol.ClientRequest{}, fmt.Errorf("client %s has not registered workflow type %q: %w",
			clientID, workflowTypeID, errdefs.ErrNotFound)
	}

	timer := time.NewTimer(b.pollTimeout)
	defer timer.Stop()

	select {
	case <-wake:
		b.mu.Lock()
		req := b.last
		b.mu.Unlock()
		getLog().Debug().Str("client_id", clientID).Str("request", string(req.Request)).Msg("request handed to client")
		return req, nil
	case <-timer.C:
		return protocol.TimeoutRequest(), nil
	case <-ctx.Done():
		return protocol.ClientRequest{}, ctx.Err()
	}
}

// HandleResponse delivers a client's answer to the waiting Send. Only the latest
// response is kept.
func (b *Broker) HandleResponse(resp protocol.ClientResponse) {
	for {
		select {
		case b.responses <- resp:
			return
		default:
		}
		select {
		case <-b.responses:
		default:
		}
	}
}
