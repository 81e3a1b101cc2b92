// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.IPC.Strategy)
	assert.Equal(t, 20*time.Millisecond, cfg.IPC.PollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.IPC.WatchTimeout)
	assert.Equal(t, 3*time.Second, cfg.Tracker.AcceptTimeout)
	assert.Equal(t, time.Second, cfg.Tracker.FinishedPoll)
	assert.Equal(t, 500*time.Millisecond, cfg.Worker.LongPollTimeout)
	assert.Equal(t, 5*time.Second, cfg.Driver.WorkerShutdownTimeout)
	assert.NotEmpty(t, cfg.IPC.LockDir)
	assert.True(t, cfg.Session.QueueFront)
}

func TestNewConfig_FromFile(t *testing.T) {
	path := writeConfig(t, `
ipc:
  strategy: file
  poll_interval: 5ms
  lock_dir: /tmp/procbridge-test
tracker:
  accept_timeout: 250ms
worker:
  server:
    port: 9000
session:
  enabled_workflow_type_ids: [sandbox_txt2img, postprocess_img2img]
`)

	cfg, err := NewConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.IPC.Strategy)
	assert.Equal(t, 5*time.Millisecond, cfg.IPC.PollInterval)
	assert.Equal(t, "/tmp/procbridge-test", cfg.IPC.LockDir)
	assert.Equal(t, 250*time.Millisecond, cfg.Tracker.AcceptTimeout)
	assert.Equal(t, 9000, cfg.Worker.Server.Port)
	assert.Equal(t, "127.0.0.1:9000", cfg.Worker.Server.Addr())
	assert.Equal(t, []string{"sandbox_txt2img", "postprocess_img2img"}, cfg.Session.EnabledWorkflowTypeIDs)
	// untouched sections keep their defaults
	assert.Equal(t, 7860, cfg.Driver.Server.Port)
}

func TestNewConfig_EnvOverride(t *testing.T) {
	t.Setenv("PROCBRIDGE_IPC_STRATEGY", "shared_memory")
	path := writeConfig(t, "ipc:\n  strategy: file\n")

	cfg, err := NewConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "shared_memory", cfg.IPC.Strategy)
}

func TestNewConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad strategy", "ipc:\n  strategy: pipes\n", "ipc.strategy"},
		{"bad level", "log:\n  level: LOUD\n", "invalid log level"},
		{"zero poll", "ipc:\n  poll_interval: 0s\n", "poll_interval"},
		{"negative call timeout", "ipc:\n  call_timeout: -1s\n", "call_timeout"},
		{"bad port", "driver:\n  server:\n    port: 70000\n", "driver server port"},
		{"zero accept", "tracker:\n  accept_timeout: 0s\n", "tracker"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("PROCBRIDGE_TEST_DIR", "/srv/bridge")
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, "", expandPath(""))
	assert.Equal(t, "/srv/bridge/locks", expandPath("$PROCBRIDGE_TEST_DIR/locks"))
	assert.Equal(t, filepath.Join(home, "shm"), expandPath("~/shm"))
}
