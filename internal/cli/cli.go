// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"
)

const (
	appName    = "procbridge"
	appVersion = "0.1.0-alpha"
)

// Execute runs the CLI application
func Execute() error {
	return execute(os.Args[1:], os.Stdout)
}

func execute(argv []string, out io.Writer) error {
	if len(argv) < 1 {
		return printUsage(out)
	}

	command := argv[0]
	args := argv[1:]

	switch command {
	case "driver":
		return driverCommand(args)
	case "worker":
		return workerCommand(args)
	case "client":
		return clientCommand(args)
	case "run":
		return runCommand(args, out)
	case "workflows":
		return workflowsCommand(args, out)
	case "version":
		fmt.Fprintf(out, "%s version %s\n", appName, appVersion)
		return nil
	case "help", "-h", "--help":
		return printUsage(out)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		return printUsage(out)
	}
}

func printUsage(out io.Writer) error {
	fmt.Fprintf(out, `%s - run node graph workflows in a worker process on behalf of a driver

Usage:
  %s <command> [arguments]

Commands:
  driver                 Run the driver process (workflow API, shared run state)
  worker                 Run the worker process (prompt queue, executor, client API)
  client <type-id>...    Run a headless polling client for the given workflow type ids
  run <base-id> <batch>  Run a workflow through a running driver
  workflows              List the workflow types and their ids
  version                Print version information
  help                   Show this help message

Examples:
  %s worker --config config.yaml
  %s driver --config config.yaml
  %s client postprocess_txt2img postprocess_img2img
  %s run --context txt2img postprocess '"image"'
  %s workflows --context img2img

`, appName, appName, appName, appName, appName, appName, appName)
	return nil
}
