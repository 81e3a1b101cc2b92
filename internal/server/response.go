// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"

	"github.com/noldarim/procbridge/internal/protocol"
)

func parseResponse(data []byte) (protocol.ClientResponse, error) {
	var wrapped struct {
		Response *protocol.ClientResponse `json:"response"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return protocol.ClientResponse{}, err
	}
	if wrapped.Response != nil {
		return *wrapped.Response, nil
	}
	var resp protocol.ClientResponse
	err := json.Unmarshal(data, &resp)
	return resp, err
}
