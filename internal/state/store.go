// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package state holds the driver's shared state: the inputs of the workflow run in
// progress, the outputs the worker reported back, and which workflow types are
// enabled. It lives in the driver; the worker reaches it through routed functions.
package state

import (
	"maps"
	"slices"
	"sync"

	"github.com/noldarim/procbridge/internal/config"
)

// Store is the mutex-protected state of a driver.
type Store struct {
	mu sync.Mutex

	workflowTypeID string
	nodeInputs     []any
	nodeOutputs    []map[string]any

	enable         bool
	defaultEnabled bool
	enabled        map[string]bool
	queueFront     bool
}

// NewStore returns a store initialized from the session configuration. With no
// enabled ids listed, every workflow type id starts enabled.
func NewStore(cfg config.SessionConfig) *Store {
	s := &Store{
		enable:         cfg.Enable,
		defaultEnabled: len(cfg.EnabledWorkflowTypeIDs) == 0,
		enabled:        make(map[string]bool),
		queueFront:     cfg.QueueFront,
	}
	for _, id := range cfg.EnabledWorkflowTypeIDs {
		s.enabled[id] = true
	}
	return s
}

// BeginRun stores the inputs of a new run of workflowTypeID and drops previous outputs.
func (s *Store) BeginRun(workflowTypeID string, inputs []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflowTypeID = workflowTypeID
	s.nodeInputs = slices.Clone(inputs)
	s.nodeOutputs = nil
}

// NodeInputs returns the inputs of the run in progress and its workflow type id.
func (s *Store) NodeInputs() (string, []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workflowTypeID, slices.Clone(s.nodeInputs)
}

// AppendNodeOutputs records one output batch.
func (s *Store) AppendNodeOutputs(outputs map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeOutputs = append(s.nodeOutputs, maps.Clone(outputs))
}

// NodeOutputs returns the output batches recorded since the run began.
func (s *Store) NodeOutputs() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.nodeOutputs)
}

// Enable turns every workflow type on or off at once.
func (s *Store) Enable(on bool) {
	s.mu.Lock()
	s.enable = on
	s.mu.Unlock()
}

// SetEnabled turns one workflow type id on or off.
func (s *Store) SetEnabled(id string, on bool) {
	s.mu.Lock()
	s.enabled[id] = on
	s.mu.Unlock()
}

// Enabled reports whether runs of id are allowed.
func (s *Store) Enabled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enable {
		return false
	}
	if on, ok := s.enabled[id]; ok {
		return on
	}
	return s.defaultEnabled
}

// QueueFront returns the default queue position of new runs.
func (s *Store) QueueFront() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueFront
}

// SetQueueFront changes the default queue position of new runs.
func (s *Store) SetQueueFront(front bool) {
	s.mu.Lock()
	s.queueFront = front
	s.mu.Unlock()
}
