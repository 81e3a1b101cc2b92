// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"github.com/rs/zerolog"
)

// Static logger getters that map directly to config.yaml log.levels
// These ensure consistent logger names across the codebase

// GetIPCLogger returns a logger for locks, mailboxes, events and callback channels
func GetIPCLogger() zerolog.Logger {
	return GetLogger("ipc")
}

// GetTrackerLogger returns a logger for the job tracker
func GetTrackerLogger() zerolog.Logger {
	return GetLogger("tracker")
}

// GetSessionLogger returns a logger for workflow sessions
func GetSessionLogger() zerolog.Logger {
	return GetLogger("session")
}

// GetAPILogger returns a logger for API operations
func GetAPILogger() zerolog.Logger {
	return GetLogger("api")
}

// GetWorkerLogger returns a logger for the worker queue and executor
func GetWorkerLogger() zerolog.Logger {
	return GetLogger("worker")
}

// GetDriverLogger returns a logger for driver bootstrap and shared state
func GetDriverLogger() zerolog.Logger {
	return GetLogger("driver")
}

// GetClientLogger returns a logger for the polling client
func GetClientLogger() zerolog.Logger {
	return GetLogger("client")
}
