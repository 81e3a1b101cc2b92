// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"net/http"

	"github.com/noldarim/procbridge/internal/protocol"
	"github.com/noldarim/procbridge/internal/session"
	"github.com/noldarim/procbridge/internal/state"
	"github.com/noldarim/procbridge/internal/workflow"

	"github.com/go-chi/chi/v5"
)

// Runner runs a workflow type on a batch.
type Runner interface {
	RunWorkflow(ctx context.Context, wt *workflow.WorkflowType, contextName string, batched any, opts session.Options) ([]any, error)
}

// DriverDeps are the collaborators of the driver handlers.
type DriverDeps struct {
	Registry *workflow.Registry
	Store    *state.Store
	Session  Runner
}

// DriverHandlers serves the programmatic workflow API of the driver.
type DriverHandlers struct {
	DriverDeps
}

// NewDriverHandlers creates the driver handler set.
func NewDriverHandlers(deps DriverDeps) *DriverHandlers {
	return &DriverHandlers{DriverDeps: deps}
}

// ListWorkflows handles GET /api/v1/workflows
func (h *DriverHandlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	summaries := []protocol.WorkflowSummary{}
	for _, wt := range h.Registry.Types() {
		for _, ctxName := range wt.Contexts {
			id := wt.ID(ctxName)
			summaries = append(summaries, protocol.WorkflowSummary{
				ID:          id,
				BaseID:      wt.BaseID,
				DisplayName: wt.DisplayName,
				Context:     ctxName,
				Enabled:     h.Store.Enabled(id),
				IOTypes:     protocol.IOTypes{Inputs: wt.InputShape.Describe(), Outputs: wt.OutputShape.Describe()},
			})
		}
	}
	writeJSON(w, http.StatusOK, summaries)
}

// RunWorkflow handles POST /api/v1/workflows/{baseId}/run
func (h *DriverHandlers) RunWorkflow(w http.ResponseWriter, r *http.Request) {
	wt, err := h.Registry.Get(chi.URLParam(r, "baseId"))
	if err != nil {
		writeError(w, err)
		return
	}

	var body protocol.RunWorkflowRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Context == "" {
		badRequest(w, "context is required")
		return
	}

	outputs, err := h.Session.RunWorkflow(r.Context(), wt, body.Context, body.Batch, session.Options{
		QueueFront:      body.QueueFront,
		IdentityOnError: body.IdentityOnError,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if outputs == nil {
		outputs = []any{}
	}
	writeJSON(w, http.StatusOK, protocol.RunWorkflowResponse{Outputs: outputs})
}

// SetEnabled handles PUT /api/v1/workflows/{id}/enabled
func (h *DriverHandlers) SetEnabled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Registry.Lookup(id); err != nil {
		writeError(w, err)
		return
	}
	var body protocol.EnableRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	h.Store.SetEnabled(id, body.Enabled)
	getLog().Info().Str("workflow_type_id", id).Bool("enabled", body.Enabled).Msg("workflow type toggled")
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": h.Store.Enabled(id)})
}

// Health handles GET /healthz
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
