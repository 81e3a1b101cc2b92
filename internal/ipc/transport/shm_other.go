// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !unix

package transport

import "github.com/noldarim/procbridge/internal/errdefs"

const sharedMemorySupported = false

func writeSegment(string, []byte) error { return errdefs.ErrUnavailable }

func readSegment(string, int) ([]byte, error) { return nil, errdefs.ErrUnavailable }
