// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package common provides shared types used across multiple packages.
package common

// Metadata contains common fields for every message exchanged with the interactive client.
type Metadata struct {
	// RequestID correlates a client request with its response.
	// Optional - long-poll timeouts carry none.
	RequestID string `json:"requestId,omitempty"`

	// Version indicates the protocol version for backward compatibility.
	// Format: "v{major}.{minor}.{patch}" (e.g., "v1.0.0")
	Version string `json:"version,omitempty"`
}

// CurrentProtocolVersion defines the current version of the protocol.
// This should be updated when making breaking changes to the protocol.
const CurrentProtocolVersion = "v1.0.0"

// Event represents queue events the worker streams to websocket clients.
type Event interface {
	GetMetadata() Metadata
}
