// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"net"

	"github.com/noldarim/procbridge/internal/config"
	"github.com/noldarim/procbridge/internal/ipc"
	"github.com/noldarim/procbridge/internal/logger"
	"github.com/noldarim/procbridge/internal/protocol"
	"github.com/noldarim/procbridge/internal/server"
	"github.com/noldarim/procbridge/internal/state"
	"github.com/noldarim/procbridge/internal/worker/executor"
	"github.com/noldarim/procbridge/internal/worker/queue"
	"github.com/noldarim/procbridge/internal/worker/requests"
	"github.com/noldarim/procbridge/internal/worker/tracker"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Worker is the job execution process: it owns the queue, the tracker and the
// request broker, and serves the interactive client.
type Worker struct {
	cfg      *config.AppConfig
	router   *ipc.Router
	queue    *queue.Queue
	tracker  *tracker.Tracker
	broker   *requests.Broker
	executor *executor.Executor
	server   *server.Server
	log      zerolog.Logger
}

// NewWorker wires the worker process.
func NewWorker(cfg *config.AppConfig) (*Worker, error) {
	router, err := newRouter(ipc.Worker, cfg.IPC)
	if err != nil {
		return nil, err
	}

	q := queue.New(cfg.Worker.MaxHistory)
	t := tracker.NewFileTracker(q, cfg.IPC.LockDir, cfg.IPC.EventPollInterval, tracker.Options{
		AcceptTimeout: cfg.Tracker.AcceptTimeout,
		FinishedPoll:  cfg.Tracker.FinishedPoll,
	})
	broker := requests.NewBroker(cfg.Worker.LongPollTimeout)

	stateAPI := state.Bind(router, nil, nil)
	tracker.Bind(router, t)
	requests.Bind(router, broker)

	events := make(chan protocol.Event, 256)
	exec := executor.New(q, executor.StateDriver(stateAPI), executor.Options{
		Poll:   cfg.Worker.ExecutorPoll,
		Events: events,
	})
	srv := server.NewWorker(cfg.Worker.Server, server.WorkerDeps{
		Router: router,
		Queue:  q,
		Broker: broker,
		State:  stateAPI,
		Events: events,
	})

	return &Worker{
		cfg:      cfg,
		router:   router,
		queue:    q,
		tracker:  t,
		broker:   broker,
		executor: exec,
		server:   srv,
		log:      logger.GetWorkerLogger(),
	}, nil
}

// Queue returns the prompt queue.
func (w *Worker) Queue() *queue.Queue { return w.queue }

// Run serves on the configured address until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.cfg.Worker.Server.Addr())
	if err != nil {
		return err
	}
	return w.Serve(ctx, ln)
}

// Serve runs the router, the executor and the HTTP server on ln until ctx ends
// or one of them fails.
func (w *Worker) Serve(ctx context.Context, ln net.Listener) error {
	w.router.Start()
	defer w.router.Stop()
	w.log.Info().Str("addr", ln.Addr().String()).Msg("worker started")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.executor.Run(ctx) })
	g.Go(func() error { return w.server.Serve(ctx, ln) })
	return g.Wait()
}

// Close releases the worker's channels and tracker events.
func (w *Worker) Close() error {
	return multierr.Combine(w.tracker.Close(), w.router.Close())
}
