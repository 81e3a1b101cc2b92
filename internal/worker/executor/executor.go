// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package executor runs the jobs of the worker queue one at a time.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/noldarim/procbridge/internal/logger"
	"github.com/noldarim/procbridge/internal/protocol"
	"github.com/noldarim/procbridge/internal/worker/queue"
	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetWorkerLogger()
		log = &l
	})
	return log
}

// WorkflowTypeKey is the job extra holding the workflow type id a job runs for.
const WorkflowTypeKey = "workflowTypeId"

// DefaultPoll bounds one wait for the next job.
const DefaultPoll = time.Second

// Publish hands ev to events without blocking. A nil channel drops it.
func Publish(events chan<- protocol.Event, ev protocol.Event) {
	if events == nil {
		return
	}
	select {
	case events <- ev:
	default:
		getLog().Warn().Str("event", fmt.Sprintf("%T", ev)).Msg("dropping queue event, channel full")
	}
}

// PublishStatus publishes the current queue length.
func PublishStatus(events chan<- protocol.Event, q *queue.Queue) {
	Publish(events, protocol.StatusEvent{
		Metadata:       protocol.Metadata{Version: protocol.CurrentProtocolVersion},
		QueueRemaining: q.Len(),
	})
}

// Options configures an Executor.
type Options struct {
	Poll   time.Duration
	Nodes  *Nodes
	Events chan<- protocol.Event
}

// Executor takes jobs off the queue and evaluates their graphs.
type Executor struct {
	q      *queue.Queue
	driver Driver
	nodes  *Nodes
	poll   time.Duration
	events chan<- protocol.Event
}

// New returns an executor for q whose driver-facing nodes use driver.
func New(q *queue.Queue, driver Driver, opts Options) *Executor {
	if opts.Poll <= 0 {
		opts.Poll = DefaultPoll
	}
	if opts.Nodes == nil {
		opts.Nodes = DefaultNodes()
	}
	return &Executor{q: q, driver: driver, nodes: opts.Nodes, poll: opts.Poll, events: opts.Events}
}

// Run executes jobs until ctx ends.
func (e *Executor) Run(ctx context.Context) error {
	getLog().Info().Msg("executor started")
	for {
		item, job, err := e.q.Get(ctx, e.poll)
		if err != nil {
			if ctx.Err() != nil {
				getLog().Info().Msg("executor stopped")
				return nil
			}
			if errors.Is(err, errdefs.ErrTimeout) {
				continue
			}
			return err
		}
		PublishStatus(e.events, e.q)

		status, outputs := e.Execute(ctx, job)
		if err := e.q.TaskDone(item, status, outputs); err != nil {
			getLog().Error().Err(err).Str("prompt_id", job.PromptID).Msg("failed to mark job done")
		}
		PublishStatus(e.events, e.q)
	}
}

// Execute evaluates the graph of job. A failing node stops the job; the failure is
// reported in the returned status rather than as an error.
func (e *Executor) Execute(ctx context.Context, job queue.Job) (queue.Status, map[string]any) {
	start := time.Now()
	rc := RunContext{PromptID: job.PromptID, Driver: e.driver}
	if id, ok := job.Extra[WorkflowTypeKey].(string); ok {
		rc.WorkflowTypeID = id
	}
	meta := protocol.Metadata{Version: protocol.CurrentProtocolVersion}
	outputs := make(map[string]any)

	defer Publish(e.events, protocol.ExecutingEvent{Metadata: meta, PromptID: job.PromptID, ClientID: job.ClientID})

	order, err := job.Graph.TopoOrder()
	if err != nil {
		return e.fail(job, 0, "", err), outputs
	}

	results := make(map[int][]any, len(order))
	for _, node := range order {
		id := node.ID
		Publish(e.events, protocol.ExecutingEvent{Metadata: meta, PromptID: job.PromptID, ClientID: job.ClientID, Node: &id})

		inputs := make(map[int]any)
		for slot, link := range job.Graph.InputLinks(node.ID) {
			upstream := results[link.FromNode]
			if link.FromSlot >= len(upstream) {
				err := fmt.Errorf("node %d has no output %d for input %d of node %d: %w",
					link.FromNode, link.FromSlot, slot, node.ID, errdefs.ErrShapeMismatch)
				return e.fail(job, node.ID, node.Type, err), outputs
			}
			inputs[slot] = upstream[link.FromSlot]
		}

		fn, err := e.nodes.Lookup(node.Type)
		if err != nil {
			return e.fail(job, node.ID, node.Type, err), outputs
		}
		out, err := fn(ctx, rc, node, inputs)
		if err != nil {
			return e.fail(job, node.ID, node.Type, err), outputs
		}
		results[node.ID] = out.Values

		if out.Display != nil {
			outputs[strconv.Itoa(node.ID)] = out.Display
			Publish(e.events, protocol.ExecutedEvent{
				Metadata: meta, PromptID: job.PromptID, ClientID: job.ClientID, Node: node.ID, Output: out.Display,
			})
		}
	}

	getLog().Info().Str("prompt_id", job.PromptID).Int64("number", job.Number).
		Dur("duration", time.Since(start)).Msg("job executed")
	return queue.Status{Completed: true}, outputs
}

func (e *Executor) fail(job queue.Job, nodeID int, nodeType string, err error) queue.Status {
	getLog().Error().Err(err).Str("prompt_id", job.PromptID).Int("node", nodeID).Str("node_type", nodeType).Msg("job failed")
	Publish(e.events, protocol.ExecutionErrorEvent{
		Metadata: protocol.Metadata{Version: protocol.CurrentProtocolVersion},
		PromptID: job.PromptID,
		ClientID: job.ClientID,
		Node:     nodeID,
		NodeType: nodeType,
		Message:  err.Error(),
	})
	return queue.Status{
		Completed: false,
		Error:     err.Error(),
		Messages:  []string{fmt.Sprintf("node %d (%s) failed", nodeID, nodeType)},
	}
}
