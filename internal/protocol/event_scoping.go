// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

// GetClientID / GetPromptID methods allow the websocket filter to match events
// without maintaining an exhaustive type switch.

func (e ExecutingEvent) GetClientID() string      { return e.ClientID }
func (e ExecutingEvent) GetPromptID() string      { return e.PromptID }
func (e ExecutedEvent) GetClientID() string       { return e.ClientID }
func (e ExecutedEvent) GetPromptID() string       { return e.PromptID }
func (e ExecutionErrorEvent) GetClientID() string { return e.ClientID }
func (e ExecutionErrorEvent) GetPromptID() string { return e.PromptID }
