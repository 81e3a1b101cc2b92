// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package protocol defines the JSON messages of the worker and driver HTTP surfaces.
//
// Events are what the worker streams to websocket clients while its queue moves:
// the queue length changed, a job started or finished a node, a job failed.
// Requests are what the worker and the interactive client exchange over the
// long-poll endpoints.
package protocol

// EventType names an event on the websocket stream.
type EventType string

const (
	EventStatus         EventType = "status"
	EventExecuting      EventType = "executing"
	EventExecuted       EventType = "executed"
	EventExecutionError EventType = "execution_error"
)

// GetRequestID extracts the correlation id from any event.
func GetRequestID(event Event) string {
	return event.GetMetadata().RequestID
}

// StatusEvent is sent whenever the number of queued jobs changes.
type StatusEvent struct {
	Metadata
	QueueRemaining int `json:"queueRemaining"`
}

func (e StatusEvent) GetMetadata() Metadata { return e.Metadata }
func (e StatusEvent) Type() EventType       { return EventStatus }

// ExecutingEvent is sent when a job starts a node. A nil Node means the job is done.
type ExecutingEvent struct {
	Metadata
	PromptID string `json:"promptId"`
	ClientID string `json:"clientId,omitempty"`
	Node     *int   `json:"node"`
}

func (e ExecutingEvent) GetMetadata() Metadata { return e.Metadata }
func (e ExecutingEvent) Type() EventType       { return EventExecuting }

// Done reports whether the event marks the end of the job.
func (e ExecutingEvent) Done() bool { return e.Node == nil }

// ExecutedEvent is sent when a node produced output.
type ExecutedEvent struct {
	Metadata
	PromptID string `json:"promptId"`
	ClientID string `json:"clientId,omitempty"`
	Node     int    `json:"node"`
	Output   any    `json:"output,omitempty"`
}

func (e ExecutedEvent) GetMetadata() Metadata { return e.Metadata }
func (e ExecutedEvent) Type() EventType       { return EventExecuted }

// ExecutionErrorEvent is sent when a node failed. The job still completes.
type ExecutionErrorEvent struct {
	Metadata
	PromptID string `json:"promptId"`
	ClientID string `json:"clientId,omitempty"`
	Node     int    `json:"node"`
	NodeType string `json:"nodeType"`
	Message  string `json:"message"`
}

func (e ExecutionErrorEvent) GetMetadata() Metadata { return e.Metadata }
func (e ExecutionErrorEvent) Type() EventType       { return EventExecutionError }
