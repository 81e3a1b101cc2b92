// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package testutil

import (
	"testing"

	"github.com/noldarim/procbridge/internal/graph"
	"github.com/noldarim/procbridge/internal/workflow"
	"github.com/stretchr/testify/require"
)

// Sample data creators for consistent testing

// DefaultRegistry returns a registry of the built-in workflow types.
func DefaultRegistry(t *testing.T) *workflow.Registry {
	t.Helper()
	reg, err := workflow.NewRegistry(workflow.Defaults()...)
	require.NoError(t, err)
	return reg
}

// AutoGraph returns the graph forwarding each port to the output of the same name.
func AutoGraph(t *testing.T, ports ...string) graph.Graph {
	t.Helper()
	if len(ports) == 0 {
		ports = []string{"0"}
	}
	g, err := graph.Auto(ports, ports)
	require.NoError(t, err)
	return g
}

// PassthroughGraph returns FromDriver -> Passthrough -> ToDriver over a single port.
func PassthroughGraph() graph.Graph {
	ports := map[string]any{"ports": []any{"0"}}
	return graph.Graph{
		Nodes: []graph.Node{
			{ID: 1, Type: graph.TypeFromDriver, Widgets: ports},
			{ID: 2, Type: graph.TypePassthrough},
			{ID: 3, Type: graph.TypeToDriver, Widgets: ports},
		},
		Links: []graph.Link{
			{ID: 1, FromNode: 1, FromSlot: 0, ToNode: 2, ToInput: 0},
			{ID: 2, FromNode: 2, FromSlot: 0, ToNode: 3, ToInput: 0},
		},
	}
}
