// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticLoggerGetters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "getters.log")
	cfg := fileConfig(path, "trace")
	require.NoError(t, Initialize(cfg))
	defer CloseGlobal()

	tests := []struct {
		getter func() zerolog.Logger
		pkg    string
	}{
		{GetIPCLogger, "ipc"},
		{GetTrackerLogger, "tracker"},
		{GetSessionLogger, "session"},
		{GetAPILogger, "api"},
		{GetWorkerLogger, "worker"},
		{GetDriverLogger, "driver"},
	}

	for _, tt := range tests {
		l := tt.getter()
		l.Info().Msg(tt.pkg)
	}
	require.NoError(t, CloseGlobal())

	lines := readLines(t, path)
	require.Len(t, lines, len(tests))
	for i, tt := range tests {
		assert.Equal(t, tt.pkg, lines[i]["pkg"])
		assert.Equal(t, tt.pkg, lines[i]["message"])
	}
}

func TestStaticLoggerGetters_Uninitialized(t *testing.T) {
	require.NoError(t, CloseGlobal())

	for _, getter := range []func() zerolog.Logger{
		GetIPCLogger, GetTrackerLogger, GetSessionLogger, GetAPILogger, GetWorkerLogger, GetDriverLogger,
	} {
		l := getter()
		l.Error().Msg("discarded")
	}
}

func BenchmarkStaticLoggerGetters(b *testing.B) {
	if err := Initialize(fileConfig(filepath.Join(b.TempDir(), "bench.log"), "info")); err != nil {
		b.Fatalf("failed to initialize global logger: %v", err)
	}
	defer CloseGlobal()

	b.Run("GetIPCLogger", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_ = GetIPCLogger()
		}
	})

	b.Run("Direct_GetLogger", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_ = GetLogger("ipc")
		}
	})
}
