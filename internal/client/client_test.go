// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build unix

package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/noldarim/procbridge/internal/config"
	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/noldarim/procbridge/internal/graph"
	"github.com/noldarim/procbridge/internal/ipc"
	"github.com/noldarim/procbridge/internal/protocol"
	"github.com/noldarim/procbridge/internal/server"
	"github.com/noldarim/procbridge/internal/state"
	"github.com/noldarim/procbridge/internal/worker/executor"
	"github.com/noldarim/procbridge/internal/worker/queue"
	"github.com/noldarim/procbridge/internal/worker/requests"
	"github.com/noldarim/procbridge/test/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wtID = "postprocess_txt2img"

type fixture struct {
	queue  *queue.Queue
	broker *requests.Broker
	client *Client
}

func startFixture(t *testing.T) *fixture {
	t.Helper()
	r := testutil.LocalRouter(t, ipc.Driver)
	reg := testutil.DefaultRegistry(t)

	f := &fixture{queue: queue.New(0), broker: requests.NewBroker(50 * time.Millisecond)}
	srv := server.NewWorker(config.ServerConfig{}, server.WorkerDeps{
		Router: testutil.LocalRouter(t, ipc.Worker),
		Queue:  f.queue,
		Broker: f.broker,
		State:  state.Bind(r, state.NewStore(config.SessionConfig{Enable: true}), reg),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	f.client = New(Options{BaseURL: ts.URL, RetryDelay: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.client.Run(ctx, wtID) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool { return f.broker.Focused() == f.client.ID() }, 3*time.Second, 5*time.Millisecond)
	return f
}

func (f *fixture) send(t *testing.T, req protocol.ClientRequest) protocol.ClientResponse {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req.WorkflowTypeID = wtID
	resp, err := f.broker.Send(ctx, req)
	require.NoError(t, err)
	return resp
}

func TestClient_SerializeDefaultGraph(t *testing.T) {
	f := startFixture(t)

	resp := f.send(t, protocol.ClientRequest{Request: protocol.RequestSerializeGraph})
	require.False(t, resp.Failed(), resp.Error)
	require.NotNil(t, resp.Workflow)

	assert.True(t, graph.Equivalent(testutil.AutoGraph(t), *resp.Workflow))
}

func TestClient_SetWorkflowThenQueue(t *testing.T) {
	f := startFixture(t)

	edited := testutil.PassthroughGraph()
	resp := f.send(t, protocol.ClientRequest{Request: protocol.RequestSetWorkflow, Workflow: &edited})
	require.False(t, resp.Failed(), resp.Error)

	current, ok := f.client.Graph(wtID)
	require.True(t, ok)
	assert.Len(t, current.Nodes, 3)

	resp = f.send(t, protocol.ClientRequest{
		Request:           protocol.RequestQueuePrompt,
		QueueFront:        true,
		RequiredNodeTypes: []protocol.NodeTypeCount{{Type: graph.TypeToDriver, Count: 1}},
	})
	require.False(t, resp.Failed(), resp.Error)
	assert.NotEmpty(t, resp.PromptID)
	assert.Equal(t, int64(0), resp.Number)

	_, job, err := f.queue.Get(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, resp.PromptID, job.PromptID)
	assert.Equal(t, f.client.ID(), job.ClientID)
	assert.Equal(t, wtID, job.Extra[executor.WorkflowTypeKey])
	assert.Len(t, job.Graph.Nodes, 3)
}

func TestClient_RequiredNodeTypesRefused(t *testing.T) {
	f := startFixture(t)

	resp := f.send(t, protocol.ClientRequest{
		Request:           protocol.RequestQueuePrompt,
		RequiredNodeTypes: []protocol.NodeTypeCount{{Type: graph.TypeToDriver, Count: 2}},
	})
	assert.True(t, resp.Failed())
	assert.Contains(t, resp.Error, "expected 2 ToDriver")
	assert.Zero(t, f.queue.Len())
}

func TestCheckRequiredNodeTypes(t *testing.T) {
	auto, err := graph.Auto([]string{"a"}, []string{"a"})
	require.NoError(t, err)

	assert.NoError(t, CheckRequiredNodeTypes(auto, nil))
	assert.NoError(t, CheckRequiredNodeTypes(auto, []protocol.NodeTypeCount{
		{Type: graph.TypeFromDriver, Count: 1},
		{Type: graph.TypeConstant, Count: 0},
	}))

	err = CheckRequiredNodeTypes(auto, []protocol.NodeTypeCount{{Type: graph.TypeConstant, Count: 1}})
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)
}

func TestClient_RunWithoutTypes(t *testing.T) {
	c := New(Options{BaseURL: "http://127.0.0.1:1"})
	assert.ErrorIs(t, c.Run(context.Background()), errdefs.ErrConfiguration)
}
