// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app assembles the driver and worker processes from configuration.
package app

import (
	"fmt"
	"sync"

	"github.com/noldarim/procbridge/internal/config"
	"github.com/noldarim/procbridge/internal/ipc"
	"github.com/noldarim/procbridge/internal/ipc/mailbox"
	"github.com/noldarim/procbridge/internal/ipc/transport"
	"github.com/noldarim/procbridge/internal/logger"
	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

// getLog logs driver-side wiring. The worker carries its own logger.
func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetDriverLogger()
		log = &l
	})
	return log
}

// RouterOptions builds the channel options both processes must agree on.
func RouterOptions(cfg config.IPCConfig) (ipc.Options, error) {
	strategy, err := transport.NewFactory(transport.Kind(cfg.Strategy), cfg.ShmDir)
	if err != nil {
		return ipc.Options{}, fmt.Errorf("ipc strategy: %w", err)
	}
	return ipc.Options{
		Mailbox: mailbox.Options{
			Dir:             cfg.LockDir,
			Strategy:        strategy,
			PollInterval:    cfg.PollInterval,
			SendLockTimeout: cfg.SendLockTimeout,
			ClearOnInit:     cfg.ClearOnInit,
			ClearOnClose:    cfg.ClearOnClose,
		},
		CallTimeout:  cfg.CallTimeout,
		WatchTimeout: cfg.WatchTimeout,
	}, nil
}

func newRouter(current ipc.ProcessID, cfg config.IPCConfig) (*ipc.Router, error) {
	opts, err := RouterOptions(cfg)
	if err != nil {
		return nil, err
	}
	r, err := ipc.New(current, []ipc.ProcessID{current.Peer()}, opts)
	if err != nil {
		return nil, fmt.Errorf("create %s router: %w", current, err)
	}
	return r, nil
}
