// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !unix

package lockfile

import (
	"fmt"
	"os"

	"github.com/noldarim/procbridge/internal/errdefs"
)

func tryLock(*os.File) (bool, error) {
	return false, fmt.Errorf("file locking: %w", errdefs.ErrUnavailable)
}

func unlock(*os.File) error { return nil }
