// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/noldarim/procbridge/internal/ipc"
	"github.com/noldarim/procbridge/internal/protocol"
	"github.com/noldarim/procbridge/internal/state"
	"github.com/noldarim/procbridge/internal/worker/executor"
	"github.com/noldarim/procbridge/internal/worker/queue"
	"github.com/noldarim/procbridge/internal/worker/requests"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
)

// WorkerDeps are the collaborators of the worker handlers. Router is the serving
// process's router; queue mutations refuse to run unless it is the worker's.
type WorkerDeps struct {
	Router *ipc.Router
	Queue  *queue.Queue
	Broker *requests.Broker
	State  state.API
	Events chan protocol.Event
}

// WorkerHandlers serves the interactive client.
type WorkerHandlers struct {
	WorkerDeps

	submit func(context.Context, protocol.PromptRequest) (queue.Job, error)
	update func(context.Context, protocol.QueueAction) (struct{}, error)
}

// NewWorkerHandlers creates the worker handler set.
func NewWorkerHandlers(deps WorkerDeps) *WorkerHandlers {
	h := &WorkerHandlers{WorkerDeps: deps}
	h.submit = ipc.RestrictTo(deps.Router, ipc.Worker, "queue.submit",
		func(_ context.Context, body protocol.PromptRequest) (queue.Job, error) {
			return h.Queue.Submit(body.Prompt, body.Front, body.ClientID, body.Extra), nil
		})
	h.update = ipc.RestrictTo(deps.Router, ipc.Worker, "queue.update",
		func(_ context.Context, body protocol.QueueAction) (struct{}, error) {
			if body.Clear {
				h.Queue.WipeQueue()
			}
			for _, id := range body.Delete {
				h.Queue.DeleteQueueItem(func(j queue.Job) bool { return j.PromptID == id })
			}
			return struct{}{}, nil
		})
	return h
}

// RegisterClient handles POST /procbridge/register_client
func (h *WorkerHandlers) RegisterClient(w http.ResponseWriter, r *http.Request) {
	var body protocol.RegisterClientRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.Broker.RegisterClient(body.ClientID, body.WorkflowTypeID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{})
}

// Poll handles POST /procbridge/poll. It blocks for at most the long-poll timeout.
func (h *WorkerHandlers) Poll(w http.ResponseWriter, r *http.Request) {
	var body protocol.PollRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	req, err := h.Broker.Poll(r.Context(), body.ClientID, body.WorkflowTypeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// Respond handles POST /procbridge/response. The body is either a ClientResponse or
// an object wrapping one under "response".
func (h *WorkerHandlers) Respond(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		badRequest(w, "Invalid body")
		return
	}
	resp, err := parseResponse(data)
	if err != nil {
		badRequest(w, "Invalid JSON body")
		return
	}
	h.Broker.HandleResponse(resp)
	writeJSON(w, http.StatusOK, map[string]string{})
}

// WorkflowType handles GET /procbridge/workflow_type?workflowTypeId=
func (h *WorkerHandlers) WorkflowType(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("workflowTypeId")
	if id == "" {
		badRequest(w, "workflowTypeId is required")
		return
	}
	info, err := h.State.DescribeWorkflowType.Call(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// WorkflowTypes handles GET /procbridge/workflow_types
func (h *WorkerHandlers) WorkflowTypes(w http.ResponseWriter, r *http.Request) {
	infos, err := h.State.ListWorkflowTypes.Call(r.Context(), struct{}{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// QueuePrompt handles POST /prompt
func (h *WorkerHandlers) QueuePrompt(w http.ResponseWriter, r *http.Request) {
	var body protocol.PromptRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if len(body.Prompt.Nodes) == 0 {
		badRequest(w, "prompt has no nodes")
		return
	}
	if err := body.Prompt.Validate(); err != nil {
		badRequest(w, err.Error())
		return
	}
	if _, err := body.Prompt.TopoOrder(); err != nil {
		badRequest(w, err.Error())
		return
	}

	job, err := h.submit(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}
	executor.PublishStatus(h.Events, h.Queue)
	writeJSON(w, http.StatusOK, protocol.PromptResponse{PromptID: job.PromptID, Number: job.Number})
}

func jobInfo(j queue.Job) protocol.JobInfo {
	info := protocol.JobInfo{Number: j.Number, PromptID: j.PromptID, ClientID: j.ClientID}
	if id, ok := j.Extra[executor.WorkflowTypeKey].(string); ok {
		info.WorkflowTypeID = id
	}
	return info
}

// GetQueue handles GET /queue
func (h *WorkerHandlers) GetQueue(w http.ResponseWriter, r *http.Request) {
	running, queued := h.Queue.Snapshot()
	writeJSON(w, http.StatusOK, protocol.QueueStatus{
		Running: lo.Map(running, func(j queue.Job, _ int) protocol.JobInfo { return jobInfo(j) }),
		Pending: lo.Map(queued, func(j queue.Job, _ int) protocol.JobInfo { return jobInfo(j) }),
	})
}

// UpdateQueue handles POST /queue: {"clear": true} wipes the queue,
// {"delete": [promptId...]} removes queued jobs.
func (h *WorkerHandlers) UpdateQueue(w http.ResponseWriter, r *http.Request) {
	var body protocol.QueueAction
	if !decodeJSON(w, r, &body) {
		return
	}
	if _, err := h.update(r.Context(), body); err != nil {
		writeError(w, err)
		return
	}
	executor.PublishStatus(h.Events, h.Queue)
	writeJSON(w, http.StatusOK, map[string]string{})
}

// GetHistory handles GET /history/{promptId}
func (h *WorkerHandlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	promptID := chi.URLParam(r, "promptId")
	entry, ok := h.Queue.History(promptID)
	if !ok {
		writeError(w, errors.Join(errdefs.ErrNotFound, errors.New("no history for prompt "+promptID)))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ListHistory handles GET /history
func (h *WorkerHandlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	entries := h.Queue.HistoryAll()
	if client := strings.TrimSpace(r.URL.Query().Get("clientId")); client != "" {
		entries = slices.DeleteFunc(entries, func(e queue.HistoryEntry) bool { return e.Job.ClientID != client })
	}
	writeJSON(w, http.StatusOK, entries)
}

// Status is the websocket greeting.
func (h *WorkerHandlers) Status() protocol.Event {
	return protocol.StatusEvent{
		Metadata:       protocol.Metadata{Version: protocol.CurrentProtocolVersion},
		QueueRemaining: h.Queue.Len(),
	}
}
