// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// DefaultShutdownTimeout bounds how long a terminated worker may take to exit
// before it is killed.
const DefaultShutdownTimeout = 5 * time.Second

// Supervisor runs the worker as a child process of the driver. The child leads its
// own process group, and shutdown signals reach the whole group.
type Supervisor struct {
	path            string
	args            []string
	shutdownTimeout time.Duration
	output          io.Writer
}

// NewSupervisor runs path with args. An empty path runs the current executable.
func NewSupervisor(path string, args []string, shutdownTimeout time.Duration) *Supervisor {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Supervisor{path: path, args: args, shutdownTimeout: shutdownTimeout, output: os.Stdout}
}

// Run starts the child and waits for it. When ctx ends the child is asked to
// terminate, and killed if it is still running after the shutdown timeout. An exit
// before ctx ends is an error.
func (s *Supervisor) Run(ctx context.Context) error {
	path := s.path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate worker executable: %w", err)
		}
		path = exe
	}

	cmd := exec.Command(path, s.args...)
	cmd.Stdout = s.output
	cmd.Stderr = s.output
	ownGroup(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	getLog().Info().Int("pid", cmd.Process.Pid).Strs("args", s.args).Msg("worker process started")

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	select {
	case err := <-exited:
		if err == nil {
			err = errors.New("exited")
		}
		return fmt.Errorf("worker process: %w", err)
	case <-ctx.Done():
	}

	if err := terminate(cmd.Process); err != nil {
		getLog().Warn().Err(err).Msg("failed to terminate worker process")
	}
	timer := time.NewTimer(s.shutdownTimeout)
	defer timer.Stop()
	select {
	case <-exited:
		getLog().Info().Msg("worker process stopped")
	case <-timer.C:
		getLog().Warn().Dur("timeout", s.shutdownTimeout).Msg("worker process did not stop, killing it")
		if err := kill(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill worker: %w", err)
		}
		<-exited
	}
	return nil
}
