// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppConfig holds all application configuration.
// It is instantiated by NewConfig() and passed to components that need it (dependency injection).
// Both the driver and the worker load the same file so that they agree on channel names,
// lock directory and transport strategy.
type AppConfig struct {
	Log     LogConfig     `mapstructure:"log"`
	IPC     IPCConfig     `mapstructure:"ipc"`
	Tracker TrackerConfig `mapstructure:"tracker"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Driver  DriverConfig  `mapstructure:"driver"`
	Session SessionConfig `mapstructure:"session"`
}

// LogConfig holds comprehensive logging configuration
type LogConfig struct {
	Level    string            `mapstructure:"level"`
	Format   string            `mapstructure:"format"`
	Output   []LogOutputConfig `mapstructure:"output"`
	Levels   map[string]string `mapstructure:"levels"`
	Context  LogContextConfig  `mapstructure:"context"`
	Sampling LogSamplingConfig `mapstructure:"sampling"`
}

// LogOutputConfig defines where logs are written
type LogOutputConfig struct {
	Type    string          `mapstructure:"type"` // "file", "console"
	Enabled bool            `mapstructure:"enabled"`
	Path    string          `mapstructure:"path"`   // For file output
	Rotate  LogRotateConfig `mapstructure:"rotate"` // For file output
}

// LogRotateConfig defines log rotation settings
type LogRotateConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// LogContextConfig defines what context to include in logs
type LogContextConfig struct {
	IncludeCaller     bool   `mapstructure:"include_caller"`
	IncludeTimestamp  bool   `mapstructure:"include_timestamp"`
	IncludeLevel      bool   `mapstructure:"include_level"`
	IncludeStackTrace string `mapstructure:"include_stack_trace"` // Level at which to include stack trace
}

// LogSamplingConfig defines log sampling settings
type LogSamplingConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Initial    uint32        `mapstructure:"initial"`
	Thereafter uint32        `mapstructure:"thereafter"`
	Tick       time.Duration `mapstructure:"tick"`
}

// IPCConfig holds the cross-process channel configuration.
type IPCConfig struct {
	// Strategy selects the mailbox transport: "default", "shared_memory" or "file".
	Strategy string `mapstructure:"strategy"`
	// LockDir holds the lock files and event markers. Empty means the OS temp dir.
	LockDir string `mapstructure:"lock_dir"`
	// ShmDir holds the shared memory segments. Empty means /dev/shm.
	ShmDir            string        `mapstructure:"shm_dir"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	SendLockTimeout   time.Duration `mapstructure:"send_lock_timeout"`
	WatchTimeout      time.Duration `mapstructure:"watch_timeout"`
	CallTimeout       time.Duration `mapstructure:"call_timeout"` // 0 = wait until the caller's context ends
	ClearOnInit       bool          `mapstructure:"clear_on_init"`
	ClearOnClose      bool          `mapstructure:"clear_on_close"`
	EventPollInterval time.Duration `mapstructure:"event_poll_interval"`
}

// TrackerConfig holds the job tracker timing.
type TrackerConfig struct {
	AcceptTimeout time.Duration `mapstructure:"accept_timeout"`
	FinishedPoll  time.Duration `mapstructure:"finished_poll"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // Empty = allow all (development); set for production
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// WorkerConfig holds configuration of the job execution process.
type WorkerConfig struct {
	Server          ServerConfig  `mapstructure:"server"`
	LongPollTimeout time.Duration `mapstructure:"long_poll_timeout"`
	MaxHistory      int           `mapstructure:"max_history"`
	ExecutorPoll    time.Duration `mapstructure:"executor_poll"`
}

// DriverConfig holds configuration of the interactive process.
type DriverConfig struct {
	Server ServerConfig `mapstructure:"server"`
	// SpawnWorker starts the worker as a child process of the driver.
	SpawnWorker           bool          `mapstructure:"spawn_worker"`
	WorkerArgs            []string      `mapstructure:"worker_args"`
	WorkerShutdownTimeout time.Duration `mapstructure:"worker_shutdown_timeout"`
}

// SessionConfig holds workflow session defaults.
type SessionConfig struct {
	Enable     bool `mapstructure:"enable"`
	QueueFront bool `mapstructure:"queue_front"`
	// EnabledWorkflowTypeIDs lists enabled ids. Empty enables every registered id.
	EnabledWorkflowTypeIDs []string `mapstructure:"enabled_workflow_type_ids"`
	SkipDefaultGraphs      bool     `mapstructure:"skip_default_graphs"`
	WorkflowTypesFile      string   `mapstructure:"workflow_types_file"`
}

// NewConfig creates a new AppConfig by reading from a file, environment variables,
// and applying defaults.
func NewConfig(configPath string) (*AppConfig, error) {
	cfg := defaultConfig()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/procbridge/")
		v.AddConfigPath("$HOME/.procbridge")
	}

	v.SetEnvPrefix("PROCBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read the config file. It's okay if it doesn't exist.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.expandPaths()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *AppConfig {
	cfg := defaultConfig()
	cfg.expandPaths()
	return &cfg
}

// defaultConfig returns an AppConfig with default values.
// This is more type-safe than using viper.SetDefault().
func defaultConfig() AppConfig {
	return AppConfig{
		Log: LogConfig{
			Level:  "INFO",
			Format: "console",
			Output: []LogOutputConfig{
				{
					Type:    "file",
					Enabled: true,
					Path:    "./logs/procbridge.log",
					Rotate: LogRotateConfig{
						MaxSizeMB:  100,
						MaxBackups: 7,
						MaxAgeDays: 30,
						Compress:   true,
					},
				},
				{
					Type:    "console",
					Enabled: true,
				},
			},
			Levels: map[string]string{
				"ipc":     "INFO",
				"tracker": "INFO",
				"session": "INFO",
				"worker":  "INFO",
				"driver":  "INFO",
				"api":     "WARN",
				"client":  "INFO",
			},
			Context: LogContextConfig{
				IncludeCaller:     false,
				IncludeTimestamp:  true,
				IncludeLevel:      true,
				IncludeStackTrace: "ERROR",
			},
			Sampling: LogSamplingConfig{
				Enabled:    false,
				Initial:    100,
				Thereafter: 100,
				Tick:       time.Second,
			},
		},
		IPC: IPCConfig{
			Strategy:          "default",
			PollInterval:      20 * time.Millisecond,
			SendLockTimeout:   256 * time.Second,
			WatchTimeout:      500 * time.Millisecond,
			CallTimeout:       0,
			ClearOnInit:       false,
			ClearOnClose:      true,
			EventPollInterval: 20 * time.Millisecond,
		},
		Tracker: TrackerConfig{
			AcceptTimeout: 3 * time.Second,
			FinishedPoll:  time.Second,
		},
		Worker: WorkerConfig{
			Server: ServerConfig{
				Host: "127.0.0.1",
				Port: 8189,
			},
			LongPollTimeout: 500 * time.Millisecond,
			MaxHistory:      10000,
			ExecutorPoll:    time.Second,
		},
		Driver: DriverConfig{
			Server: ServerConfig{
				Host: "127.0.0.1",
				Port: 7860,
			},
			SpawnWorker:           false,
			WorkerShutdownTimeout: 5 * time.Second,
		},
		Session: SessionConfig{
			Enable:     true,
			QueueFront: true,
		},
	}
}

// expandPaths expands ~ and environment variables in path configuration values
func (c *AppConfig) expandPaths() {
	if c.IPC.LockDir == "" {
		c.IPC.LockDir = os.TempDir()
	}
	c.IPC.LockDir = expandPath(c.IPC.LockDir)
	c.IPC.ShmDir = expandPath(c.IPC.ShmDir)
	c.Session.WorkflowTypesFile = expandPath(c.Session.WorkflowTypesFile)
}

// expandPath expands ~ to home directory and environment variables
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	return os.ExpandEnv(path)
}

// validate checks if the configuration is valid.
func (c *AppConfig) validate() error {
	validLogLevels := map[string]bool{
		"TRACE": true, "DEBUG": true, "INFO": true, "WARN": true, "ERROR": true, "FATAL": true, "PANIC": true,
	}
	if !validLogLevels[strings.ToUpper(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	switch c.IPC.Strategy {
	case "default", "shared_memory", "file":
	default:
		return fmt.Errorf("ipc.strategy must be 'default', 'shared_memory' or 'file', got: %s", c.IPC.Strategy)
	}

	if c.IPC.PollInterval <= 0 {
		return errors.New("ipc.poll_interval must be positive")
	}
	if c.IPC.SendLockTimeout <= 0 {
		return errors.New("ipc.send_lock_timeout must be positive")
	}
	if c.IPC.WatchTimeout <= 0 {
		return errors.New("ipc.watch_timeout must be positive")
	}
	if c.IPC.CallTimeout < 0 {
		return errors.New("ipc.call_timeout must not be negative")
	}

	if c.Tracker.AcceptTimeout <= 0 || c.Tracker.FinishedPoll <= 0 {
		return errors.New("tracker timeouts must be positive")
	}

	for name, srv := range map[string]ServerConfig{"worker": c.Worker.Server, "driver": c.Driver.Server} {
		if srv.Port <= 0 || srv.Port > 65535 {
			return fmt.Errorf("invalid %s server port: %d", name, srv.Port)
		}
	}

	if c.Worker.LongPollTimeout <= 0 {
		return errors.New("worker.long_poll_timeout must be positive")
	}

	return nil
}
