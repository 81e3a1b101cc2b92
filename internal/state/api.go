// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package state

import (
	"context"
	"fmt"

	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/noldarim/procbridge/internal/graph"
	"github.com/noldarim/procbridge/internal/ipc"
	"github.com/noldarim/procbridge/internal/protocol"
	"github.com/noldarim/procbridge/internal/workflow"
	"github.com/samber/lo"
)

// InputsRequest asks for the inputs of the run of WorkflowTypeID. An empty id
// accepts whatever run is in progress.
type InputsRequest struct {
	WorkflowTypeID string `cbor:"workflow_type_id"`
}

// inputsKwarg is the named argument of get_node_inputs; it matches the cbor tag of
// InputsRequest.WorkflowTypeID.
const inputsKwarg = "workflow_type_id"

// API is the driver state as seen from any process.
type API struct {
	GetNodeInputs        *ipc.Remote[InputsRequest, []any]
	AppendNodeOutputs    *ipc.Remote[map[string]any, struct{}]
	ListWorkflowTypes    *ipc.Remote[struct{}, []protocol.WorkflowTypeInfo]
	DescribeWorkflowType *ipc.Remote[string, protocol.WorkflowTypeInfo]
}

// Bind registers the state functions on r. Processes other than the driver pass
// nil store and registry.
func Bind(r *ipc.Router, s *Store, reg *workflow.Registry) API {
	unavailable := fmt.Errorf("driver state: %w", errdefs.ErrUnavailable)

	return API{
		GetNodeInputs: ipc.RunIn(r, ipc.Driver, "state", "get_node_inputs", func(_ context.Context, req InputsRequest) ([]any, error) {
			if s == nil {
				return nil, unavailable
			}
			current, inputs := s.NodeInputs()
			if req.WorkflowTypeID != "" && req.WorkflowTypeID != current {
				return nil, fmt.Errorf("no run of %s in progress: %w", req.WorkflowTypeID, errdefs.ErrNotFound)
			}
			return inputs, nil
		}),
		AppendNodeOutputs: ipc.RunIn(r, ipc.Driver, "state", "append_node_outputs", func(_ context.Context, outputs map[string]any) (struct{}, error) {
			if s == nil {
				return struct{}{}, unavailable
			}
			s.AppendNodeOutputs(outputs)
			return struct{}{}, nil
		}),
		ListWorkflowTypes: ipc.RunIn(r, ipc.Driver, "state", "list_workflow_types", func(context.Context, struct{}) ([]protocol.WorkflowTypeInfo, error) {
			if reg == nil {
				return nil, unavailable
			}
			return lo.FlatMap(reg.Types(), func(wt *workflow.WorkflowType, _ int) []protocol.WorkflowTypeInfo {
				return lo.Map(wt.IDs(), func(id string, _ int) protocol.WorkflowTypeInfo { return Describe(wt, id) })
			}), nil
		}),
		DescribeWorkflowType: ipc.RunIn(r, ipc.Driver, "state", "describe_workflow_type", func(_ context.Context, id string) (protocol.WorkflowTypeInfo, error) {
			if reg == nil {
				return protocol.WorkflowTypeInfo{}, unavailable
			}
			wt, err := reg.Lookup(id)
			if err != nil {
				return protocol.WorkflowTypeInfo{}, err
			}
			return Describe(wt, id), nil
		}),
	}
}

// Describe builds the editor-facing description of one id of wt.
func Describe(wt *workflow.WorkflowType, id string) protocol.WorkflowTypeInfo {
	info := protocol.WorkflowTypeInfo{
		ID:          id,
		DisplayName: wt.DisplayName,
		IOTypes: protocol.IOTypes{
			Inputs:  wt.InputShape.Describe(),
			Outputs: wt.OutputShape.Describe(),
		},
	}
	if wt.DefaultGraph != nil {
		info.DefaultWorkflow = *wt.DefaultGraph
	} else {
		info.DefaultWorkflow = graph.Graph{Nodes: []graph.Node{}, Links: []graph.Link{}}
	}
	return info
}

// NodeInputs returns the inputs of the run of workflowTypeID, passing the id as a
// named argument.
func (a API) NodeInputs(ctx context.Context, workflowTypeID string) ([]any, error) {
	return a.GetNodeInputs.CallNamed(ctx, map[string]any{inputsKwarg: workflowTypeID})
}
