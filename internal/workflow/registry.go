// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package workflow

import (
	"fmt"
	"slices"
	"sync"

	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/noldarim/procbridge/internal/graph"
	"github.com/samber/lo"
)

// Registry holds the workflow types of a driver. It becomes read-only once the
// interactive session has been instantiated.
type Registry struct {
	mu           sync.RWMutex
	types        []*WorkflowType
	instantiated bool
}

// NewRegistry returns a registry holding types.
func NewRegistry(types ...*WorkflowType) (*Registry, error) {
	r := &Registry{}
	for _, wt := range types {
		if err := r.Add(wt); err != nil {
			return nil, err
		}
	}
	return r, nil
}

var errInstantiated = fmt.Errorf("cannot modify workflow types after the session has been instantiated: %w", errdefs.ErrConfiguration)

// Add registers wt. Base ids and display names must be unique.
func (r *Registry) Add(wt *WorkflowType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.instantiated {
		return errInstantiated
	}
	if err := checkUnique(r.types, wt); err != nil {
		return err
	}
	r.types = append(r.types, wt)
	return nil
}

func checkUnique(existing []*WorkflowType, wt *WorkflowType) error {
	for _, e := range existing {
		if e.BaseID == wt.BaseID {
			return fmt.Errorf("the id %s already exists: %w", wt.BaseID, errdefs.ErrConfiguration)
		}
		if e.DisplayName == wt.DisplayName {
			return fmt.Errorf("the display name %s is already in use by workflow type %s: %w",
				wt.DisplayName, e.BaseID, errdefs.ErrConfiguration)
		}
	}
	return nil
}

// Set replaces every registered type.
func (r *Registry) Set(types []*WorkflowType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.instantiated {
		return errInstantiated
	}
	var next []*WorkflowType
	for _, wt := range types {
		if err := checkUnique(next, wt); err != nil {
			return err
		}
		next = append(next, wt)
	}
	r.types = next
	return nil
}

// Clear removes every registered type.
func (r *Registry) Clear() error {
	return r.Set(nil)
}

// MarkInstantiated freezes the registry.
func (r *Registry) MarkInstantiated() {
	r.mu.Lock()
	r.instantiated = true
	r.mu.Unlock()
}

// Instantiated reports whether the registry is frozen.
func (r *Registry) Instantiated() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instantiated
}

// Types returns the types offered on at least one of contexts, or all of them.
func (r *Registry) Types(contexts ...string) []*WorkflowType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Filter(r.types, func(wt *WorkflowType, _ int) bool {
		return len(contexts) == 0 || lo.Some(wt.Contexts, contexts)
	})
}

// IDs returns the ids of every type on contexts.
func (r *Registry) IDs(contexts ...string) []string {
	return lo.FlatMap(r.Types(contexts...), func(wt *WorkflowType, _ int) []string {
		return wt.IDs(contexts...)
	})
}

// DisplayNames returns the display names of the types on contexts.
func (r *Registry) DisplayNames(contexts ...string) []string {
	return lo.Map(r.Types(contexts...), func(wt *WorkflowType, _ int) string { return wt.DisplayName })
}

// Get returns the type with baseID.
func (r *Registry) Get(baseID string) (*WorkflowType, error) {
	wt, ok := lo.Find(r.Types(), func(wt *WorkflowType) bool { return wt.BaseID == baseID })
	if !ok {
		return nil, fmt.Errorf("workflow type %s: %w", baseID, errdefs.ErrNotFound)
	}
	return wt, nil
}

// Lookup returns the type owning the workflow type id.
func (r *Registry) Lookup(id string) (*WorkflowType, error) {
	wt, ok := lo.Find(r.Types(), func(wt *WorkflowType) bool { return wt.HasID(id) })
	if !ok {
		return nil, fmt.Errorf("workflow type id %s: %w", id, errdefs.ErrNotFound)
	}
	return wt, nil
}

// DefaultGraph returns the default graph of id, or nil if the type has none.
func (r *Registry) DefaultGraph(id string) (*graph.Graph, error) {
	wt, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	return wt.DefaultGraph, nil
}

// ContainsID reports whether id belongs to a registered type.
func (r *Registry) ContainsID(id string) bool {
	return slices.Contains(r.IDs(), id)
}
