package config

import (
	"slices"
	"strings"

	"jobsched/internal/task/registry"
	logx "jobsched/pkg/logx"
)

// JobDiff is what a reload changes in the job table, keyed by job key.
// Rescheduled jobs have a new schedule string; Changed jobs keep their
// schedule but differ in action, description, exclusivity or timeout.
// Paused is only honoured on first registration and is not diffed.
type JobDiff struct {
	Added       []JobConfig
	Removed     []registry.Key
	Rescheduled []JobConfig
	Changed     []JobConfig
}

func (d JobDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Rescheduled) == 0 && len(d.Changed) == 0
}

// DiffJobs compares two job lists. Results are ordered by key.
func DiffJobs(oldJobs, newJobs []JobConfig) JobDiff {
	prev := make(map[registry.Key]JobConfig, len(oldJobs))
	for _, j := range oldJobs {
		prev[j.Key()] = j
	}
	var d JobDiff
	seen := make(map[registry.Key]struct{}, len(newJobs))
	for _, j := range newJobs {
		k := j.Key()
		seen[k] = struct{}{}
		o, ok := prev[k]
		switch {
		case !ok:
			d.Added = append(d.Added, j)
		case strings.TrimSpace(o.Schedule) != strings.TrimSpace(j.Schedule):
			d.Rescheduled = append(d.Rescheduled, j)
			if definitionChanged(o, j) {
				d.Changed = append(d.Changed, j)
			}
		case definitionChanged(o, j):
			d.Changed = append(d.Changed, j)
		}
	}
	for k := range prev {
		if _, ok := seen[k]; !ok {
			d.Removed = append(d.Removed, k)
		}
	}
	byKey := func(a, b JobConfig) int { return a.Key().Compare(b.Key()) }
	slices.SortFunc(d.Added, byKey)
	slices.SortFunc(d.Rescheduled, byKey)
	slices.SortFunc(d.Changed, byKey)
	slices.SortFunc(d.Removed, registry.Key.Compare)
	return d
}

func definitionChanged(a, b JobConfig) bool {
	return a.Action != b.Action ||
		a.Description != b.Description ||
		a.Exclusive != b.Exclusive ||
		strings.TrimSpace(a.Timeout) != strings.TrimSpace(b.Timeout)
}

// SummarizeConfigChange returns the changed section names and structured
// attrs describing them for a single reload log line.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
			logx.Int("scheduler.error_threshold", newCfg.Scheduler.ErrorThreshold),
		)
	}
	if oldCfg.Runner != newCfg.Runner {
		changed = append(changed, "runner")
		attrs = append(attrs,
			logx.Int("runner.workers", newCfg.Runner.Workers),
			logx.Int("runner.queue_size", newCfg.Runner.QueueSize),
			logx.String("runner.max_run_time", newCfg.Runner.MaxRunTime),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.DriverName()))
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.Bool("metrics.enabled", newCfg.Metrics.Enabled))
	}
	if d := DiffJobs(oldCfg.Jobs, newCfg.Jobs); !d.Empty() {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.added", len(d.Added)),
			logx.Int("jobs.removed", len(d.Removed)),
			logx.Int("jobs.rescheduled", len(d.Rescheduled)),
			logx.Int("jobs.changed", len(d.Changed)),
		)
	}
	return changed, attrs
}
