// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Requests exchanged between the worker and the interactive client over the
// long-poll endpoints. The worker hands a ClientRequest to the client focused on a
// workflow type; the client acts on it and posts back a ClientResponse.

package protocol

import (
	"github.com/noldarim/procbridge/internal/graph"
)

// RequestKind names what the interactive client is asked to do.
type RequestKind string

const (
	// RequestQueuePrompt asks the client to queue its current graph.
	RequestQueuePrompt RequestKind = "queue_prompt"
	// RequestSerializeGraph asks the client to return its current graph.
	RequestSerializeGraph RequestKind = "serialize_graph"
	// RequestSetWorkflow asks the client to replace its graph with Workflow.
	RequestSetWorkflow RequestKind = "set_workflow"
	// RequestTimeout is the long-poll sentinel: nothing arrived in time.
	RequestTimeout RequestKind = "timeout"
)

// NodeTypeCount requires a graph to hold exactly Count nodes of Type.
type NodeTypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// ClientRequest is handed to a polling client.
type ClientRequest struct {
	Metadata
	Request           RequestKind     `json:"request"`
	WorkflowTypeID    string          `json:"workflowTypeId,omitempty"`
	QueueFront        bool            `json:"queueFront,omitempty"`
	RequiredNodeTypes []NodeTypeCount `json:"requiredNodeTypes,omitempty"`
	Workflow          *graph.Graph    `json:"workflow,omitempty"`
}

// TimeoutRequest is returned by a long poll that saw no request.
func TimeoutRequest() ClientRequest {
	return ClientRequest{Request: RequestTimeout}
}

// ResponseStatus reports how a client handled a request.
type ResponseStatus string

const (
	StatusOK    ResponseStatus = "ok"
	StatusError ResponseStatus = "error"
)

// ClientResponse is posted back by the client once a request was handled.
type ClientResponse struct {
	Metadata
	ClientID       string         `json:"clientId"`
	WorkflowTypeID string         `json:"workflowTypeId,omitempty"`
	Request        RequestKind    `json:"request,omitempty"`
	Status         ResponseStatus `json:"status"`
	Error          string         `json:"error,omitempty"`
	PromptID       string         `json:"promptId,omitempty"`
	Number         int64          `json:"number,omitempty"`
	Workflow       *graph.Graph   `json:"workflow,omitempty"`
}

// Failed reports whether the client could not handle the request.
func (r ClientResponse) Failed() bool { return r.Status == StatusError }

// RegisterClientRequest is the body of POST /procbridge/register_client.
type RegisterClientRequest struct {
	ClientID       string `json:"clientId"`
	WorkflowTypeID string `json:"workflowTypeId"`
}

// PollRequest is the body of POST /procbridge/poll.
type PollRequest struct {
	ClientID       string `json:"clientId"`
	WorkflowTypeID string `json:"workflowTypeId"`
}

// PromptRequest is the body of POST /prompt.
type PromptRequest struct {
	ClientID string         `json:"clientId,omitempty"`
	Prompt   graph.Graph    `json:"prompt"`
	Front    bool           `json:"front,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// PromptResponse acknowledges a queued prompt.
type PromptResponse struct {
	PromptID string `json:"promptId"`
	Number   int64  `json:"number"`
}

// JobInfo summarizes one queued or running job.
type JobInfo struct {
	Number         int64  `json:"number"`
	PromptID       string `json:"promptId"`
	ClientID       string `json:"clientId,omitempty"`
	WorkflowTypeID string `json:"workflowTypeId,omitempty"`
}

// QueueStatus is the body of GET /queue.
type QueueStatus struct {
	Running []JobInfo `json:"running"`
	Pending []JobInfo `json:"pending"`
}

// QueueAction is the body of POST /queue.
type QueueAction struct {
	Clear  bool     `json:"clear,omitempty"`
	Delete []string `json:"delete,omitempty"`
}

// IOTypes describes the input and output shapes of a workflow type.
type IOTypes struct {
	Inputs  any `json:"inputs"`
	Outputs any `json:"outputs"`
}

// WorkflowTypeInfo is the body of GET /procbridge/workflow_type.
type WorkflowTypeInfo struct {
	ID              string      `json:"id"`
	DisplayName     string      `json:"displayName"`
	IOTypes         IOTypes     `json:"ioTypes"`
	DefaultWorkflow graph.Graph `json:"defaultWorkflow"`
}

// WorkflowSummary lists one workflow type id on the driver.
type WorkflowSummary struct {
	ID          string  `json:"id"`
	BaseID      string  `json:"baseId"`
	DisplayName string  `json:"displayName"`
	Context     string  `json:"context"`
	Enabled     bool    `json:"enabled"`
	IOTypes     IOTypes `json:"ioTypes"`
}

// RunWorkflowRequest is the body of POST /api/v1/workflows/{baseId}/run.
type RunWorkflowRequest struct {
	Context         string `json:"context"`
	Batch           any    `json:"batch"`
	QueueFront      *bool  `json:"queueFront,omitempty"`
	IdentityOnError bool   `json:"identityOnError,omitempty"`
}

// RunWorkflowResponse carries one reshaped output per produced batch.
type RunWorkflowResponse struct {
	Outputs []any `json:"outputs"`
}

// EnableRequest is the body of PUT /api/v1/workflows/{id}/enabled.
type EnableRequest struct {
	Enabled bool `json:"enabled"`
}

// ErrorResponse is written by every handler on failure.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
