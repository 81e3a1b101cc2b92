// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs one workflow on the worker and collects its output.
//
// A run stores its inputs in the driver state, arms the worker's job tracker, asks
// the interactive client to queue its graph, then waits for the tracked job. The
// worker reads the inputs and appends outputs through the routed state functions
// while the driver waits.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/noldarim/procbridge/internal/config"
	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/noldarim/procbridge/internal/graph"
	"github.com/noldarim/procbridge/internal/logger"
	"github.com/noldarim/procbridge/internal/protocol"
	"github.com/noldarim/procbridge/internal/state"
	"github.com/noldarim/procbridge/internal/worker/tracker"
	"github.com/noldarim/procbridge/internal/workflow"
	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetSessionLogger()
		log = &l
	})
	return log
}

var (
	// ErrNotRun is returned when the worker never accepted the job.
	ErrNotRun = fmt.Errorf("job was not accepted by the worker queue: %w", errdefs.ErrTimeout)
	// ErrNoOutput is returned when the job left the queue before producing output.
	ErrNoOutput = errors.New("job finished without producing output")
)

// Options tunes one run.
type Options struct {
	// QueueFront overrides the configured queue position when set.
	QueueFront *bool
	// IdentityOnError returns the input unchanged instead of failing, when the
	// workflow type's input and output shapes are equal.
	IdentityOnError bool
}

// Session runs workflows from the driver.
type Session struct {
	store       *state.Store
	worker      Worker
	skipDefault bool

	// one run at a time: the driver state holds a single run.
	mu sync.Mutex
}

// New returns a session storing run state in store and running jobs on worker.
func New(store *state.Store, worker Worker, cfg config.SessionConfig) *Session {
	return &Session{store: store, worker: worker, skipDefault: cfg.SkipDefaultGraphs}
}

// ResolveID returns the single id of wt on contextName.
func ResolveID(wt *workflow.WorkflowType, contextName string) (string, error) {
	ids := wt.IDs(contextName)
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("the workflow type %s does not exist on context %s, valid contexts are %v: %w",
			wt, contextName, wt.Contexts, errdefs.ErrNotFound)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("found multiple candidate ids for context %s and workflow type %s: %v: %w",
			contextName, wt, ids, errdefs.ErrConfiguration)
	}
}

// RunWorkflow runs wt on contextName with the batch batched and returns one reshaped
// value per output batch the job produced.
func (s *Session) RunWorkflow(ctx context.Context, wt *workflow.WorkflowType, contextName string, batched any, opts Options) ([]any, error) {
	id, err := ResolveID(wt, contextName)
	if err != nil {
		return nil, err
	}
	args, err := wt.InputShape.Destructure(batched)
	if err != nil {
		return nil, fmt.Errorf("input of %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.run(ctx, wt, id, args, batched, opts)
	if err != nil {
		return s.degrade(wt, id, batched, opts, err)
	}
	return out, nil
}

func (s *Session) run(ctx context.Context, wt *workflow.WorkflowType, id string, args []any, batched any, opts Options) ([]any, error) {
	if !s.store.Enabled(id) {
		return nil, fmt.Errorf("workflow type %s: %w", id, errdefs.ErrDisabled)
	}

	if s.skipDefault && wt.DefaultGraph != nil {
		isDefault, err := s.isDefaultGraph(ctx, id, *wt.DefaultGraph)
		if err != nil {
			return nil, err
		}
		if isDefault {
			getLog().Info().Str("workflow_type_id", id).Msg("skipping workflow because its graph is the default one")
			if wt.Identity() {
				return []any{batched}, nil
			}
			return []any{}, nil
		}
	}

	front := s.store.QueueFront()
	if opts.QueueFront != nil {
		front = *opts.QueueFront
	}

	s.store.BeginRun(id, args)

	tracked, err := s.worker.Arm(ctx)
	if err != nil {
		return nil, fmt.Errorf("arm job tracker: %w", err)
	}

	resp, err := s.worker.Send(ctx, protocol.ClientRequest{
		Request:           protocol.RequestQueuePrompt,
		WorkflowTypeID:    id,
		QueueFront:        front,
		RequiredNodeTypes: []protocol.NodeTypeCount{},
	})
	if err != nil {
		return nil, fmt.Errorf("queue workflow %s: %w", id, err)
	}
	if resp.Failed() {
		return nil, fmt.Errorf("client could not queue workflow %s: %s: %w", id, resp.Error, errdefs.ErrRemote)
	}

	outcome, err := s.worker.WaitUntilDone(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait for workflow %s: %w", id, err)
	}
	getLog().Debug().Str("workflow_type_id", id).Int64("tracked_id", tracked).Stringer("outcome", outcome).Msg("workflow job ended")

	outputs := s.store.NodeOutputs()
	switch {
	case outcome == tracker.NotRun:
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotRun)
	case outcome == tracker.AlreadyDone && len(outputs) == 0:
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNoOutput)
	}

	results := make([]any, 0, len(outputs))
	for i, batch := range outputs {
		v, err := wt.OutputShape.Reshape(batch)
		if err != nil {
			return nil, fmt.Errorf("output %d of %s: %w", i, id, err)
		}
		results = append(results, v)
	}
	return results, nil
}

func (s *Session) isDefaultGraph(ctx context.Context, id string, def graph.Graph) (bool, error) {
	resp, err := s.worker.Send(ctx, protocol.ClientRequest{
		Request:        protocol.RequestSerializeGraph,
		WorkflowTypeID: id,
	})
	if err != nil {
		return false, fmt.Errorf("serialize graph of %s: %w", id, err)
	}
	if resp.Failed() || resp.Workflow == nil {
		return false, nil
	}
	return graph.Equivalent(*resp.Workflow, def), nil
}

// degrade applies IdentityOnError to a failed run. Configuration and shape errors
// always surface.
func (s *Session) degrade(wt *workflow.WorkflowType, id string, batched any, opts Options, err error) ([]any, error) {
	if !opts.IdentityOnError || !wt.Identity() ||
		errors.Is(err, errdefs.ErrConfiguration) || errors.Is(err, errdefs.ErrShapeMismatch) {
		return nil, err
	}
	getLog().Warn().Err(err).Str("workflow_type_id", id).Msg("workflow failed, returning its input unchanged")
	return []any{batched}, nil
}
