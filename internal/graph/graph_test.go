// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chain() Graph {
	return Graph{
		Nodes: []Node{
			{ID: 3, Type: TypeToDriver, Widgets: map[string]any{"ports": []any{"image"}}},
			{ID: 1, Type: TypeFromDriver, Widgets: map[string]any{"ports": []any{"image"}}},
			{ID: 2, Type: TypePassthrough},
		},
		Links: []Link{
			{ID: 10, FromNode: 2, FromSlot: 0, ToNode: 3, ToInput: 0},
			{ID: 11, FromNode: 1, FromSlot: 0, ToNode: 2, ToInput: 0},
		},
	}
}

func TestParse(t *testing.T) {
	g, err := Parse([]byte(`{"nodes":[{"id":1,"type":"Constant","widgets":{"value":3}},{"id":2,"type":"ToDriver"}],
		"links":[{"id":1,"fromNode":1,"fromSlot":0,"toNode":2,"toInput":0}]}`))
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 2)
	assert.Equal(t, 2, g.Links[0].ToNode)

	_, err = Parse([]byte(`{"nodes":[{"id":1,"type":"A"},{"id":1,"type":"B"}]}`))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Parse([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		g    Graph
	}{
		{"missing node", Graph{Nodes: []Node{{ID: 1, Type: "A"}}, Links: []Link{{ID: 1, FromNode: 1, ToNode: 2}}}},
		{"untyped node", Graph{Nodes: []Node{{ID: 1}}}},
		{"double fed input", Graph{
			Nodes: []Node{{ID: 1, Type: "A"}, {ID: 2, Type: "A"}, {ID: 3, Type: "B"}},
			Links: []Link{{ID: 1, FromNode: 1, ToNode: 3}, {ID: 2, FromNode: 2, ToNode: 3}},
		}},
		{"negative slot", Graph{
			Nodes: []Node{{ID: 1, Type: "A"}, {ID: 2, Type: "B"}},
			Links: []Link{{ID: 1, FromNode: 1, FromSlot: -1, ToNode: 2}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.g.Validate(), ErrInvalid)
		})
	}
	assert.NoError(t, chain().Validate())
}

func TestTopoOrder(t *testing.T) {
	order, err := chain().TopoOrder()
	require.NoError(t, err)
	ids := make([]int, len(order))
	for i, n := range order {
		ids[i] = n.ID
	}
	assert.Equal(t, []int{1, 2, 3}, ids)

	cyclic := Graph{
		Nodes: []Node{{ID: 1, Type: "A"}, {ID: 2, Type: "A"}},
		Links: []Link{{ID: 1, FromNode: 1, ToNode: 2}, {ID: 2, FromNode: 2, ToNode: 1}},
	}
	_, err = cyclic.TopoOrder()
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestCountTypesAndInputs(t *testing.T) {
	g := chain()
	assert.Equal(t, map[string]int{TypeFromDriver: 1, TypePassthrough: 1, TypeToDriver: 1}, g.CountTypes())

	in := g.InputLinks(3)
	require.Contains(t, in, 0)
	assert.Equal(t, 2, in[0].FromNode)
	assert.Empty(t, g.InputLinks(1))

	n, ok := g.Node(1)
	require.True(t, ok)
	assert.Equal(t, []string{"image"}, n.StringList("ports"))
	assert.Nil(t, n.StringList("missing"))
}

func TestEquivalent(t *testing.T) {
	a := chain()

	renumbered := Graph{
		Nodes: []Node{
			{ID: 7, Type: TypeFromDriver},
			{ID: 8, Type: TypePassthrough, Widgets: map[string]any{"note": "edited"}},
			{ID: 9, Type: TypeToDriver},
		},
		Links: []Link{
			{ID: 1, FromNode: 7, FromSlot: 0, ToNode: 8, ToInput: 0},
			{ID: 2, FromNode: 8, FromSlot: 0, ToNode: 9, ToInput: 0},
		},
	}
	assert.True(t, Equivalent(a, renumbered), "ids and widgets do not matter")

	extra := renumbered
	extra.Nodes = append(append([]Node{}, renumbered.Nodes...), Node{ID: 10, Type: TypeConstant})
	assert.False(t, Equivalent(a, extra))

	rewired := Graph{
		Nodes: renumbered.Nodes,
		Links: []Link{
			{ID: 1, FromNode: 7, FromSlot: 0, ToNode: 9, ToInput: 0},
			{ID: 2, FromNode: 8, FromSlot: 0, ToNode: 9, ToInput: 1},
		},
	}
	assert.False(t, Equivalent(a, rewired))
}

func TestAuto(t *testing.T) {
	g, err := Auto([]string{"image_0", "latent_1"}, []string{"image_0", "latent_1"})
	require.NoError(t, err)
	require.NoError(t, g.Validate())
	assert.Len(t, g.Links, 2)
	assert.Equal(t, map[string]int{TypeFromDriver: 1, TypeToDriver: 1}, g.CountTypes())

	to, _ := g.Node(2)
	assert.Equal(t, []string{"image_0", "latent_1"}, to.StringList("ports"))

	_, err = Auto([]string{"a"}, []string{"a", "b"})
	assert.ErrorIs(t, err, ErrInvalid)
}
