// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"fmt"
	"net"

	"github.com/noldarim/procbridge/internal/config"
	"github.com/noldarim/procbridge/internal/ipc"
	"github.com/noldarim/procbridge/internal/server"
	"github.com/noldarim/procbridge/internal/session"
	"github.com/noldarim/procbridge/internal/state"
	"github.com/noldarim/procbridge/internal/worker/requests"
	"github.com/noldarim/procbridge/internal/worker/tracker"
	"github.com/noldarim/procbridge/internal/workflow"
	"golang.org/x/sync/errgroup"
)

// DriverOptions tunes how the driver is assembled.
type DriverOptions struct {
	// ConfigPath is handed to a spawned worker.
	ConfigPath string
}

// Driver is the interactive process: it owns the workflow types and the shared run
// state, and drives workflow runs on the worker.
type Driver struct {
	cfg        *config.AppConfig
	router     *ipc.Router
	registry   *workflow.Registry
	store      *state.Store
	session    *session.Session
	server     *server.Server
	supervisor *Supervisor
}

// LoadRegistry builds the registry of the default workflow types plus the ones
// defined in path, if any, and freezes it.
func LoadRegistry(path string) (*workflow.Registry, error) {
	reg, err := workflow.NewRegistry(workflow.Defaults()...)
	if err != nil {
		return nil, err
	}
	if path != "" {
		types, err := workflow.LoadFile(path)
		if err != nil {
			return nil, err
		}
		for _, wt := range types {
			if err := reg.Add(wt); err != nil {
				return nil, fmt.Errorf("workflow types file %s: %w", path, err)
			}
		}
	}
	reg.MarkInstantiated()
	return reg, nil
}

// NewDriver wires the driver process.
func NewDriver(cfg *config.AppConfig, opts DriverOptions) (*Driver, error) {
	reg, err := LoadRegistry(cfg.Session.WorkflowTypesFile)
	if err != nil {
		return nil, err
	}

	router, err := newRouter(ipc.Driver, cfg.IPC)
	if err != nil {
		return nil, err
	}

	store := state.NewStore(cfg.Session)
	state.Bind(router, store, reg)
	worker := session.RoutedWorker(tracker.Bind(router, nil), requests.Bind(router, nil))
	sess := session.New(store, worker, cfg.Session)

	d := &Driver{
		cfg:      cfg,
		router:   router,
		registry: reg,
		store:    store,
		session:  sess,
		server:   server.NewDriver(cfg.Driver.Server, server.DriverDeps{Registry: reg, Store: store, Session: session.Restrict(router, sess)}),
	}
	if cfg.Driver.SpawnWorker {
		args := cfg.Driver.WorkerArgs
		if len(args) == 0 {
			args = []string{"worker"}
		}
		if opts.ConfigPath != "" {
			args = append(args, "-config", opts.ConfigPath)
		}
		d.supervisor = NewSupervisor("", args, cfg.Driver.WorkerShutdownTimeout)
	}
	return d, nil
}

// Registry returns the workflow types.
func (d *Driver) Registry() *workflow.Registry { return d.registry }

// Store returns the shared run state.
func (d *Driver) Store() *state.Store { return d.store }

// Session returns the workflow session.
func (d *Driver) Session() *session.Session { return d.session }

// Run serves on the configured address until ctx ends.
func (d *Driver) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.cfg.Driver.Server.Addr())
	if err != nil {
		return err
	}
	return d.Serve(ctx, ln)
}

// Serve runs the router, the optional worker subprocess and the HTTP server on ln
// until ctx ends or one of them fails.
func (d *Driver) Serve(ctx context.Context, ln net.Listener) error {
	d.router.Start()
	defer d.router.Stop()
	getLog().Info().Str("addr", ln.Addr().String()).Strs("workflow_types", d.registry.IDs()).Msg("driver started")

	g, ctx := errgroup.WithContext(ctx)
	if d.supervisor != nil {
		g.Go(func() error { return d.supervisor.Run(ctx) })
	}
	g.Go(func() error { return d.server.Serve(ctx, ln) })
	return g.Wait()
}

// Close releases the driver's channels.
func (d *Driver) Close() error {
	return d.router.Close()
}
