// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package executor

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/noldarim/procbridge/internal/graph"
	"github.com/noldarim/procbridge/internal/state"
)

// Driver is the part of the driver state nodes talk to.
type Driver interface {
	NodeInputs(ctx context.Context, workflowTypeID string) ([]any, error)
	AppendNodeOutputs(ctx context.Context, outputs map[string]any) error
}

type stateDriver struct {
	api state.API
}

// StateDriver reaches the driver state through its routed functions.
func StateDriver(api state.API) Driver {
	return stateDriver{api: api}
}

func (d stateDriver) NodeInputs(ctx context.Context, workflowTypeID string) ([]any, error) {
	return d.api.NodeInputs(ctx, workflowTypeID)
}

func (d stateDriver) AppendNodeOutputs(ctx context.Context, outputs map[string]any) error {
	_, err := d.api.AppendNodeOutputs.Call(ctx, outputs)
	return err
}

// RunContext is what a node sees of the job it runs in.
type RunContext struct {
	PromptID       string
	WorkflowTypeID string
	Driver         Driver
}

// Output is what a node produced: positional values for downstream nodes, and an
// optional display value recorded in the job history.
type Output struct {
	Values  []any
	Display map[string]any
}

// NodeFunc evaluates one node. inputs holds the linked values by input slot.
type NodeFunc func(ctx context.Context, rc RunContext, node graph.Node, inputs map[int]any) (Output, error)

// Nodes maps node types to their implementation.
type Nodes struct {
	mu    sync.RWMutex
	funcs map[string]NodeFunc
}

// DefaultNodes returns the built-in node types.
func DefaultNodes() *Nodes {
	n := &Nodes{funcs: make(map[string]NodeFunc)}
	n.Register(graph.TypeFromDriver, fromDriver)
	n.Register(graph.TypeToDriver, toDriver)
	n.Register(graph.TypePassthrough, passthrough)
	n.Register(graph.TypeConstant, constant)
	return n
}

// Register adds or replaces the implementation of nodeType.
func (n *Nodes) Register(nodeType string, fn NodeFunc) {
	n.mu.Lock()
	n.funcs[nodeType] = fn
	n.mu.Unlock()
}

// Lookup returns the implementation of nodeType.
func (n *Nodes) Lookup(nodeType string) (NodeFunc, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	fn, ok := n.funcs[nodeType]
	if !ok {
		return nil, fmt.Errorf("node type %q: %w", nodeType, errdefs.ErrNotFound)
	}
	return fn, nil
}

// Types lists the registered node types.
func (n *Nodes) Types() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	types := slices.Collect(maps.Keys(n.funcs))
	slices.Sort(types)
	return types
}

func ordered(inputs map[int]any) []any {
	slots := slices.Sorted(maps.Keys(inputs))
	values := make([]any, len(slots))
	for i, slot := range slots {
		values[i] = inputs[slot]
	}
	return values
}

func fromDriver(ctx context.Context, rc RunContext, _ graph.Node, _ map[int]any) (Output, error) {
	values, err := rc.Driver.NodeInputs(ctx, rc.WorkflowTypeID)
	if err != nil {
		return Output{}, fmt.Errorf("get node inputs: %w", err)
	}
	return Output{Values: values}, nil
}

func toDriver(ctx context.Context, rc RunContext, node graph.Node, inputs map[int]any) (Output, error) {
	ports := node.StringList("ports")
	outputs := make(map[string]any, len(inputs))
	for slot, v := range inputs {
		name := strconv.Itoa(slot)
		if slot < len(ports) {
			name = ports[slot]
		}
		outputs[name] = v
	}
	if err := rc.Driver.AppendNodeOutputs(ctx, outputs); err != nil {
		return Output{}, fmt.Errorf("append node outputs: %w", err)
	}
	return Output{Display: outputs}, nil
}

func passthrough(_ context.Context, _ RunContext, _ graph.Node, inputs map[int]any) (Output, error) {
	return Output{Values: ordered(inputs)}, nil
}

func constant(_ context.Context, _ RunContext, node graph.Node, _ map[int]any) (Output, error) {
	v, ok := node.Widgets["value"]
	if !ok {
		return Output{}, fmt.Errorf("constant node %d has no value widget: %w", node.ID, errdefs.ErrConfiguration)
	}
	return Output{Values: []any{v}}, nil
}
