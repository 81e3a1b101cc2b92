// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package testutil holds fixtures shared by tests that need routers, channels or
// workflow types.
package testutil

import (
	"testing"
	"time"

	"github.com/noldarim/procbridge/internal/ipc"
	"github.com/noldarim/procbridge/internal/ipc/mailbox"
	"github.com/stretchr/testify/require"
)

// MailboxOptions returns fast-polling mailbox options in a fresh temp directory.
func MailboxOptions(t *testing.T) mailbox.Options {
	t.Helper()
	return mailbox.Options{Dir: t.TempDir(), PollInterval: 2 * time.Millisecond}
}

// RouterOptions returns router options over MailboxOptions with a short watch timeout.
func RouterOptions(t *testing.T) ipc.Options {
	t.Helper()
	return ipc.Options{Mailbox: MailboxOptions(t), WatchTimeout: 50 * time.Millisecond}
}

// LocalRouter returns a router of process with no peers. Functions homed in
// process run in-process; it is closed when the test ends.
func LocalRouter(t *testing.T, process ipc.ProcessID) *ipc.Router {
	t.Helper()
	r, err := ipc.New(process, nil, RouterOptions(t))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

// RouterPair returns a driver and a worker router sharing one channel directory.
// Bind functions on both, then call Start; both are closed when the test ends.
func RouterPair(t *testing.T) (driver, worker *ipc.Router) {
	t.Helper()
	opts := RouterOptions(t)
	driver, err := ipc.New(ipc.Driver, []ipc.ProcessID{ipc.Worker}, opts)
	require.NoError(t, err)
	worker, err = ipc.New(ipc.Worker, []ipc.ProcessID{ipc.Driver}, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		driver.Close()
		worker.Close()
	})
	return driver, worker
}
