// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package client is a headless interactive client of the worker. It keeps one
// graph per workflow type, long-polls the worker for requests and answers them:
// queueing its graph, returning it, or replacing it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/noldarim/procbridge/internal/graph"
	"github.com/noldarim/procbridge/internal/logger"
	"github.com/noldarim/procbridge/internal/protocol"
	"github.com/noldarim/procbridge/internal/worker/executor"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetClientLogger()
		log = &l
	})
	return log
}

const DefaultRetryDelay = time.Second

// Options configures a Client.
type Options struct {
	// BaseURL of the worker server, e.g. http://127.0.0.1:8189
	BaseURL    string
	ClientID   string
	HTTPClient *http.Client
	RetryDelay time.Duration
}

// Client answers worker requests for the workflow types it registered.
type Client struct {
	base       string
	id         string
	http       *http.Client
	retryDelay time.Duration

	mu     sync.Mutex
	graphs map[string]graph.Graph
}

// New returns a client. A missing ClientID gets a random one.
func New(opts Options) *Client {
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	return &Client{
		base:       strings.TrimRight(opts.BaseURL, "/"),
		id:         opts.ClientID,
		http:       opts.HTTPClient,
		retryDelay: opts.RetryDelay,
		graphs:     make(map[string]graph.Graph),
	}
}

// ID returns the client id.
func (c *Client) ID() string { return c.id }

// Graph returns the current graph of a workflow type id.
func (c *Client) Graph(workflowTypeID string) (graph.Graph, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.graphs[workflowTypeID]
	return g, ok
}

// SetGraph replaces the current graph of a workflow type id.
func (c *Client) SetGraph(workflowTypeID string, g graph.Graph) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.graphs[workflowTypeID] = g
}

// statusError carries a non-2xx reply.
type statusError struct {
	status int
	body   protocol.ErrorResponse
}

func (e *statusError) Error() string {
	if e.body.Error != "" {
		return fmt.Sprintf("worker replied %d: %s", e.status, e.body.Error)
	}
	return fmt.Sprintf("worker replied %d", e.status)
}

// Unwrap maps the reply kind back to its sentinel.
func (e *statusError) Unwrap() error {
	if err := errdefs.FromKind(e.body.Kind); err != nil {
		return err
	}
	if e.status == http.StatusNotFound {
		return errdefs.ErrNotFound
	}
	return errdefs.ErrRemote
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		se := &statusError{status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&se.body)
		return fmt.Errorf("%s %s: %w", method, path, se)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s reply: %w", path, err)
	}
	return nil
}

// Register registers the client for a workflow type id. When the client has no graph
// for it yet, the type's default graph is fetched and becomes the current one.
func (c *Client) Register(ctx context.Context, workflowTypeID string) error {
	if _, ok := c.Graph(workflowTypeID); !ok {
		var info protocol.WorkflowTypeInfo
		q := "/procbridge/workflow_type?workflowTypeId=" + workflowTypeID
		if err := c.do(ctx, http.MethodGet, q, nil, &info); err != nil {
			return fmt.Errorf("describe workflow type %s: %w", workflowTypeID, err)
		}
		c.SetGraph(workflowTypeID, info.DefaultWorkflow)
	}

	err := c.do(ctx, http.MethodPost, "/procbridge/register_client", protocol.RegisterClientRequest{
		ClientID:       c.id,
		WorkflowTypeID: workflowTypeID,
	}, nil)
	if err != nil {
		return fmt.Errorf("register %s: %w", workflowTypeID, err)
	}
	getLog().Info().Str("client_id", c.id).Str("workflow_type_id", workflowTypeID).Msg("client registered")
	return nil
}

// Poll waits for the next request of a workflow type id.
func (c *Client) Poll(ctx context.Context, workflowTypeID string) (protocol.ClientRequest, error) {
	var req protocol.ClientRequest
	err := c.do(ctx, http.MethodPost, "/procbridge/poll", protocol.PollRequest{
		ClientID:       c.id,
		WorkflowTypeID: workflowTypeID,
	}, &req)
	return req, err
}

// Respond posts a response back to the worker.
func (c *Client) Respond(ctx context.Context, resp protocol.ClientResponse) error {
	return c.do(ctx, http.MethodPost, "/procbridge/response", map[string]any{"response": resp}, nil)
}

// QueuePrompt queues g on the worker, tagged with the workflow type id.
func (c *Client) QueuePrompt(ctx context.Context, workflowTypeID string, g graph.Graph, front bool) (protocol.PromptResponse, error) {
	var out protocol.PromptResponse
	err := c.do(ctx, http.MethodPost, "/prompt", protocol.PromptRequest{
		ClientID: c.id,
		Prompt:   g,
		Front:    front,
		Extra:    map[string]any{executor.WorkflowTypeKey: workflowTypeID},
	}, &out)
	return out, err
}

// CheckRequiredNodeTypes reports every requirement g does not meet.
func CheckRequiredNodeTypes(g graph.Graph, required []protocol.NodeTypeCount) error {
	counts := g.CountTypes()
	var errs []error
	for _, r := range required {
		if got := counts[r.Type]; got != r.Count {
			errs = append(errs, fmt.Errorf("expected %d %s node(s), found %d", r.Count, r.Type, got))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", errdefs.ErrConfiguration, errors.Join(errs...))
}

// Handle acts on one request and builds its response.
func (c *Client) Handle(ctx context.Context, workflowTypeID string, req protocol.ClientRequest) protocol.ClientResponse {
	resp := protocol.ClientResponse{
		Metadata:       req.Metadata,
		ClientID:       c.id,
		WorkflowTypeID: workflowTypeID,
		Request:        req.Request,
		Status:         protocol.StatusOK,
	}
	fail := func(err error) protocol.ClientResponse {
		getLog().Warn().Err(err).Str("request", string(req.Request)).Str("workflow_type_id", workflowTypeID).Msg("request failed")
		resp.Status = protocol.StatusError
		resp.Error = err.Error()
		return resp
	}

	g, ok := c.Graph(workflowTypeID)
	switch req.Request {
	case protocol.RequestQueuePrompt:
		if !ok {
			return fail(fmt.Errorf("no graph for workflow type %s", workflowTypeID))
		}
		if err := CheckRequiredNodeTypes(g, req.RequiredNodeTypes); err != nil {
			return fail(err)
		}
		queued, err := c.QueuePrompt(ctx, workflowTypeID, g, req.QueueFront)
		if err != nil {
			return fail(err)
		}
		resp.PromptID = queued.PromptID
		resp.Number = queued.Number
	case protocol.RequestSerializeGraph:
		if !ok {
			return fail(fmt.Errorf("no graph for workflow type %s", workflowTypeID))
		}
		resp.Workflow = &g
	case protocol.RequestSetWorkflow:
		if req.Workflow == nil {
			return fail(errors.New("set_workflow without a workflow"))
		}
		c.SetGraph(workflowTypeID, *req.Workflow)
	default:
		return fail(fmt.Errorf("unknown request %q", req.Request))
	}
	return resp
}

// Serve registers workflowTypeID and answers its requests until ctx ends.
// Failed polls are retried after the retry delay.
func (c *Client) Serve(ctx context.Context, workflowTypeID string) error {
	for {
		err := c.Register(ctx, workflowTypeID)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil
		}
		getLog().Warn().Err(err).Dur("retry_in", c.retryDelay).Msg("register failed")
		if !sleep(ctx, c.retryDelay) {
			return nil
		}
	}

	for ctx.Err() == nil {
		req, err := c.Poll(ctx, workflowTypeID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, errdefs.ErrNotFound) {
				// The worker restarted and forgot the registration.
				if err := c.Register(ctx, workflowTypeID); err != nil {
					getLog().Warn().Err(err).Msg("re-register failed")
				}
			} else {
				getLog().Warn().Err(err).Dur("retry_in", c.retryDelay).Msg("poll failed")
			}
			sleep(ctx, c.retryDelay)
			continue
		}
		if req.Request == protocol.RequestTimeout {
			continue
		}

		resp := c.Handle(ctx, workflowTypeID, req)
		if err := c.Respond(ctx, resp); err != nil && ctx.Err() == nil {
			getLog().Error().Err(err).Str("request_id", req.RequestID).Msg("failed to post response")
		}
	}
	return nil
}

// Run serves every workflow type id concurrently until ctx ends.
func (c *Client) Run(ctx context.Context, workflowTypeIDs ...string) error {
	if len(workflowTypeIDs) == 0 {
		return fmt.Errorf("client: no workflow type ids: %w", errdefs.ErrConfiguration)
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range workflowTypeIDs {
		g.Go(func() error { return c.Serve(ctx, id) })
	}
	return g.Wait()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
