package config

import (
	"strings"
	"time"

	"jobsched/internal/task/registry"
	logx "jobsched/pkg/logx"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Runner    RunnerConfig    `json:"runner"`
	Storage   StorageConfig   `json:"storage"`
	Metrics   MetricsConfig   `json:"metrics"`
	Jobs      []JobConfig     `json:"jobs" validate:"dive"`
}

// LoggingConfig selects the log level and sinks. With neither console nor
// json set, human-readable lines still go to stdout.
type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	JSON    bool          `json:"json,omitempty"`
	File    LogFileConfig `json:"file"`
}

// LogFileConfig is a JSON log file rotated by size.
type LogFileConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path" validate:"required_if=Enabled true"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" validate:"gte=0"`
	MaxBackups int    `json:"max_backups,omitempty" validate:"gte=0"`
	MaxAgeDays int    `json:"max_age_days,omitempty" validate:"gte=0"`
	Compress   bool   `json:"compress,omitempty"`
}

// SchedulerConfig controls the dispatch loop.
//
// Defaults (when fields are omitted/zero):
//   - timezone: UTC (cron expressions are evaluated in it)
//   - autostart: false (the scheduler starts in STANDBY)
//   - error_threshold: 3 (negative disables the ERROR state)
//   - command_buffer: 16
type SchedulerConfig struct {
	Timezone       string `json:"timezone,omitempty"`
	Autostart      bool   `json:"autostart,omitempty"`
	ErrorThreshold int    `json:"error_threshold,omitempty"`
	CommandBuffer  int    `json:"command_buffer,omitempty" validate:"gte=0"`
}

// RunnerConfig controls the execution worker pool.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// max_run_time "0s" or omitted disables the global run timeout.
type RunnerConfig struct {
	Workers     int    `json:"workers,omitempty" validate:"gte=0,lte=256"`
	QueueSize   int    `json:"queue_size,omitempty" validate:"gte=0"`
	MaxRunTime  string `json:"max_run_time,omitempty"`
	RetryMax    int    `json:"retry_max,omitempty" validate:"gte=0,lte=20"`
	HistorySize int    `json:"history_size,omitempty" validate:"gte=0"`
}

func (l LoggingConfig) LogConfig() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		JSON:    l.JSON,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
	}
}

const (
	StorageNone   = "none"
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// StorageConfig selects the persistence collaborator for scheduler snapshots
// and the audit log. An empty driver is the same as "none".
type StorageConfig struct {
	Driver       string `json:"driver,omitempty" validate:"omitempty,oneof=none file sqlite"`
	Path         string `json:"path,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	SaveDebounce string `json:"save_debounce,omitempty"`
}

func (s StorageConfig) DriverName() string {
	d := strings.ToLower(strings.TrimSpace(s.Driver))
	if d == "" {
		return StorageNone
	}
	return d
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty" validate:"required_if=Enabled true"`
	Path    string `json:"path,omitempty" validate:"omitempty,startswith=/"`
	// Pprof mounts /debug/pprof/ on the metrics listener.
	Pprof bool `json:"pprof,omitempty"`
}

func (m MetricsConfig) HandlerPath() string {
	if strings.TrimSpace(m.Path) == "" {
		return "/metrics"
	}
	return m.Path
}

const (
	ActionEcho  = "echo"
	ActionLog   = "log"
	ActionShell = "shell"
)

type ActionConfig struct {
	Kind    string `json:"kind" validate:"required,oneof=echo log shell"`
	Message string `json:"message,omitempty"`
	Command string `json:"command,omitempty" validate:"required_if=Kind shell"`
	Dir     string `json:"dir,omitempty"`
}

// JobConfig declares one job. Group defaults to DEFAULT.
type JobConfig struct {
	Name        string       `json:"name" validate:"required"`
	Group       string       `json:"group,omitempty"`
	Schedule    string       `json:"schedule" validate:"required"`
	Action      ActionConfig `json:"action"`
	Description string       `json:"description,omitempty"`
	Paused      bool         `json:"paused,omitempty"`
	Exclusive   bool         `json:"exclusive,omitempty"`
	Timeout     string       `json:"timeout,omitempty"`
}

func (j JobConfig) Key() registry.Key { return registry.NewKey(j.Name, j.Group) }

// Location resolves the scheduler timezone. Empty means UTC.
func (s SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(tz)
}
