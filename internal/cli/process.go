// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/noldarim/procbridge/internal/app"
	"github.com/noldarim/procbridge/internal/client"
	"github.com/noldarim/procbridge/internal/config"
	"github.com/noldarim/procbridge/internal/logger"
)

type processOptions struct {
	configPath string
}

func loadConfig(path, process string) (*config.AppConfig, error) {
	cfg, err := config.NewConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Initialize(&cfg.Log, logger.WithProcess(process)); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func driverCommand(args []string) error {
	opts := &processOptions{}
	fs := flag.NewFlagSet("driver", flag.ExitOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(opts.configPath, "driver")
	if err != nil {
		return err
	}
	defer logger.CloseGlobal()

	d, err := app.NewDriver(cfg, app.DriverOptions{ConfigPath: opts.configPath})
	if err != nil {
		return fmt.Errorf("failed to create driver: %w", err)
	}
	defer d.Close()

	ctx, cancel := signalContext()
	defer cancel()
	return d.Run(ctx)
}

func workerCommand(args []string) error {
	opts := &processOptions{}
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(opts.configPath, "worker")
	if err != nil {
		return err
	}
	defer logger.CloseGlobal()

	w, err := app.NewWorker(cfg)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}
	defer w.Close()

	ctx, cancel := signalContext()
	defer cancel()
	return w.Run(ctx)
}

type clientOptions struct {
	configPath string
	url        string
	clientID   string
}

func clientCommand(args []string) error {
	opts := &clientOptions{}
	fs := flag.NewFlagSet("client", flag.ExitOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	fs.StringVar(&opts.url, "url", "", "Worker URL (defaults to the configured worker address)")
	fs.StringVar(&opts.clientID, "id", "", "Client id (random if not specified)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("at least one workflow type id is required\n\nUsage:\n  %s client <workflow-type-id>...", appName)
	}

	cfg, err := loadConfig(opts.configPath, "client")
	if err != nil {
		return err
	}
	defer logger.CloseGlobal()

	if opts.url == "" {
		opts.url = "http://" + cfg.Worker.Server.Addr()
	}
	c := client.New(client.Options{BaseURL: opts.url, ClientID: opts.clientID})

	ctx, cancel := signalContext()
	defer cancel()
	return c.Run(ctx, fs.Args()...)
}
