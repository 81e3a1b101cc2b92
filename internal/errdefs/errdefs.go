// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errdefs defines the error kinds shared by both processes.
//
// Every kind has a stable name so that an error raised in one process can be
// re-created in the other one and still match with errors.Is.
package errdefs

import "errors"

var (
	// ErrTimeout is returned when no value or lock was observed within budget.
	ErrTimeout = errors.New("timeout")

	// ErrRemote marks an error that was raised while executing a call in the other process.
	ErrRemote = errors.New("remote error")

	// ErrConfiguration is returned for duplicate or missing workflow types and ambiguous ids.
	ErrConfiguration = errors.New("configuration error")

	// ErrShapeMismatch is returned when a batch does not match the declared workflow shape.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrQueueUsage is returned when a shared memory slot is written while still holding unread data.
	ErrQueueUsage = errors.New("queue usage error")

	// ErrWrongProcess is returned when a function confined to one process is called from another.
	ErrWrongProcess = errors.New("wrong process")

	// ErrNotFound is returned when a call, workflow type or job does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDisabled is returned when a workflow type is registered but not enabled.
	ErrDisabled = errors.New("disabled")

	// ErrUnavailable is returned when a collaborator (client, platform feature) is missing.
	ErrUnavailable = errors.New("unavailable")
)

var kinds = []struct {
	name string
	err  error
}{
	{"timeout", ErrTimeout},
	{"configuration", ErrConfiguration},
	{"shape_mismatch", ErrShapeMismatch},
	{"queue_usage", ErrQueueUsage},
	{"wrong_process", ErrWrongProcess},
	{"not_found", ErrNotFound},
	{"disabled", ErrDisabled},
	{"unavailable", ErrUnavailable},
	{"remote", ErrRemote},
}

// Kind returns the name of the first known kind err matches, or "unknown".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "unknown"
}

// FromKind returns the sentinel for a kind name, or nil when the name is unknown.
func FromKind(name string) error {
	for _, k := range kinds {
		if k.name == name {
			return k.err
		}
	}
	return nil
}
