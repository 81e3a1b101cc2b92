// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package graph models the node graphs executed by the worker.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/samber/lo"
)

// Node types understood by the executor.
const (
	TypeFromDriver  = "FromDriver"
	TypeToDriver    = "ToDriver"
	TypePassthrough = "Passthrough"
	TypeConstant    = "Constant"
)

// Node is one processing step. Widgets hold its static parameters.
type Node struct {
	ID      int            `json:"id" yaml:"id"`
	Type    string         `json:"type" yaml:"type"`
	Widgets map[string]any `json:"widgets,omitempty" yaml:"widgets,omitempty"`
}

// Link feeds output slot FromSlot of FromNode into input slot ToInput of ToNode.
type Link struct {
	ID       int `json:"id" yaml:"id"`
	FromNode int `json:"fromNode" yaml:"from_node"`
	FromSlot int `json:"fromSlot" yaml:"from_slot"`
	ToNode   int `json:"toNode" yaml:"to_node"`
	ToInput  int `json:"toInput" yaml:"to_input"`
}

// Graph is a set of nodes connected by links.
type Graph struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Links []Link `json:"links" yaml:"links"`
}

var ErrInvalid = errors.New("invalid graph")

// Parse decodes a JSON graph and validates it.
func Parse(data []byte) (Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return Graph{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := g.Validate(); err != nil {
		return Graph{}, err
	}
	return g, nil
}

// Validate checks node id uniqueness, link endpoints and input uniqueness.
func (g Graph) Validate() error {
	ids := make(map[int]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if ids[n.ID] {
			return fmt.Errorf("%w: duplicate node id %d", ErrInvalid, n.ID)
		}
		if n.Type == "" {
			return fmt.Errorf("%w: node %d has no type", ErrInvalid, n.ID)
		}
		ids[n.ID] = true
	}

	type input struct{ node, slot int }
	fed := make(map[input]bool, len(g.Links))
	for _, l := range g.Links {
		if !ids[l.FromNode] || !ids[l.ToNode] {
			return fmt.Errorf("%w: link %d references a missing node", ErrInvalid, l.ID)
		}
		if l.FromSlot < 0 || l.ToInput < 0 {
			return fmt.Errorf("%w: link %d has a negative slot", ErrInvalid, l.ID)
		}
		in := input{l.ToNode, l.ToInput}
		if fed[in] {
			return fmt.Errorf("%w: input %d of node %d is linked twice", ErrInvalid, l.ToInput, l.ToNode)
		}
		fed[in] = true
	}
	return nil
}

// Node returns the node with id.
func (g Graph) Node(id int) (Node, bool) {
	return lo.Find(g.Nodes, func(n Node) bool { return n.ID == id })
}

// InputLinks returns the links feeding node id, keyed by input slot.
func (g Graph) InputLinks(id int) map[int]Link {
	return lo.SliceToMap(
		lo.Filter(g.Links, func(l Link, _ int) bool { return l.ToNode == id }),
		func(l Link) (int, Link) { return l.ToInput, l },
	)
}

// TopoOrder returns the nodes so that every node comes after the nodes feeding it.
// Ties are broken by node id.
func (g Graph) TopoOrder() ([]Node, error) {
	indegree := make(map[int]int, len(g.Nodes))
	next := make(map[int][]int, len(g.Nodes))
	for _, n := range g.Nodes {
		indegree[n.ID] = 0
	}
	for _, l := range g.Links {
		indegree[l.ToNode]++
		next[l.FromNode] = append(next[l.FromNode], l.ToNode)
	}

	var ready []int
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Ints(ready)

	order := make([]Node, 0, len(g.Nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		n, _ := g.Node(id)
		order = append(order, n)

		for _, to := range next[id] {
			indegree[to]--
			if indegree[to] == 0 {
				ready = append(ready, to)
				sort.Ints(ready)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		return nil, fmt.Errorf("%w: cycle detected", ErrInvalid)
	}
	return order, nil
}

// CountTypes returns how many nodes of each type the graph has.
func (g Graph) CountTypes() map[string]int {
	return lo.CountValuesBy(g.Nodes, func(n Node) string { return n.Type })
}

// signature describes a link by the types of its endpoints, ignoring ids.
func (g Graph) signatures() []string {
	types := lo.SliceToMap(g.Nodes, func(n Node) (int, string) { return n.ID, n.Type })
	sigs := lo.Map(g.Links, func(l Link, _ int) string {
		return fmt.Sprintf("%s:%d>%s:%d", types[l.FromNode], l.FromSlot, types[l.ToNode], l.ToInput)
	})
	slices.Sort(sigs)
	return sigs
}

// Equivalent reports whether a and b have the same node types and the same typed
// connections, regardless of ids and widget values. It is used to recognise a
// workflow type's untouched default graph.
func Equivalent(a, b Graph) bool {
	if len(a.Nodes) != len(b.Nodes) || len(a.Links) != len(b.Links) {
		return false
	}
	ca, cb := a.CountTypes(), b.CountTypes()
	if len(ca) != len(cb) {
		return false
	}
	for t, n := range ca {
		if cb[t] != n {
			return false
		}
	}
	return slices.Equal(a.signatures(), b.signatures())
}

// Auto builds the graph that forwards every input port straight to the output port at
// the same position. Both port lists must have the same length.
func Auto(inputPorts, outputPorts []string) (Graph, error) {
	if len(inputPorts) != len(outputPorts) {
		return Graph{}, fmt.Errorf("%w: auto graph needs as many inputs (%d) as outputs (%d)",
			ErrInvalid, len(inputPorts), len(outputPorts))
	}

	g := Graph{
		Nodes: []Node{
			{ID: 1, Type: TypeFromDriver, Widgets: map[string]any{"ports": toAny(inputPorts)}},
			{ID: 2, Type: TypeToDriver, Widgets: map[string]any{"ports": toAny(outputPorts)}},
		},
	}
	for i := range inputPorts {
		g.Links = append(g.Links, Link{ID: i + 1, FromNode: 1, FromSlot: i, ToNode: 2, ToInput: i})
	}
	return g, nil
}

func toAny(ss []string) []any {
	return lo.Map(ss, func(s string, _ int) any { return s })
}

// StringList reads a widget holding a list of strings.
func (n Node) StringList(key string) []string {
	switch v := n.Widgets[key].(type) {
	case []string:
		return v
	case []any:
		return lo.FilterMap(v, func(x any, _ int) (string, bool) {
			s, ok := x.(string)
			return s, ok
		})
	default:
		return nil
	}
}
