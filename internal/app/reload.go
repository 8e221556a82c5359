package app

import (
	"context"
	"slices"
	"strings"

	"jobsched/internal/config"
	"jobsched/internal/task/registry"
	"jobsched/internal/task/trigger"
	logx "jobsched/pkg/logx"
)

// reloadLoop applies each published config until ctx ends.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
			for drained := false; !drained; {
				select {
				case newer, ok := <-sub:
					if !ok {
						return
					}
					newCfg = newer
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig applies what can change live: logging, runner settings, the
// metrics listener and the job table. Storage and scheduler loop settings
// need a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if slices.Contains(sections, "logging") {
		if err := a.logs.Apply(next.Logging.LogConfig()); err != nil {
			a.log.Warn("log file disabled", logx.Err(err))
		}
	}
	if slices.Contains(sections, "runner") {
		a.engine.Apply(mapEngineConfig(next))
		if prev.Runner.Workers != next.Runner.Workers || prev.Runner.QueueSize != next.Runner.QueueSize {
			a.log.Warn("runner workers/queue_size changed; restart required for them to take effect")
		}
	}
	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if prev.Scheduler.Autostart != next.Scheduler.Autostart ||
		prev.Scheduler.ErrorThreshold != next.Scheduler.ErrorThreshold ||
		prev.Scheduler.CommandBuffer != next.Scheduler.CommandBuffer {
		a.log.Warn("scheduler settings changed; restart required for changes to take effect")
	}
	if slices.Contains(sections, "metrics") {
		a.metricsrv.Reconfigure(ctx, mapMetricsConfig(next))
	}

	a.applyJobs(ctx, prev, next)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// applyJobs brings the registry in line with next.Jobs. A timezone change
// reschedules every job since cron specs are evaluated in it.
func (a *App) applyJobs(ctx context.Context, prev, next *config.Config) {
	diff := config.DiffJobs(prev.Jobs, next.Jobs)
	if prev.Scheduler.Timezone != next.Scheduler.Timezone {
		loc, err := next.Scheduler.Location()
		if err != nil {
			a.log.Warn("invalid timezone; keeping previous", logx.Err(err))
		} else {
			a.builder.Loc = loc
			diff.Rescheduled = rescheduleAll(next.Jobs, diff)
		}
	}

	for _, key := range diff.Removed {
		if err := a.sched.Unregister(ctx, key); err != nil {
			a.log.Warn("unregister failed", logx.String("job", key.String()), logx.Err(err))
		}
	}
	for _, jc := range diff.Added {
		job, err := a.builder.Job(jc)
		if err == nil {
			err = a.sched.Register(ctx, job)
		}
		if err != nil {
			a.log.Warn("register failed", logx.String("job", jc.Key().String()), logx.Err(err))
		}
	}
	for _, jc := range diff.Changed {
		def, err := a.builder.Definition(jc)
		if err == nil {
			err = a.sched.Replace(ctx, def)
		}
		if err != nil {
			a.log.Warn("replace failed", logx.String("job", jc.Key().String()), logx.Err(err))
		}
	}
	for _, jc := range diff.Rescheduled {
		spec, err := trigger.ParseSpec(jc.Schedule, a.builder.Loc)
		if err == nil {
			err = a.sched.Reschedule(ctx, jc.Key(), spec)
		}
		if err != nil {
			a.log.Warn("reschedule failed", logx.String("job", jc.Key().String()), logx.Err(err))
		}
	}
	if !diff.Empty() {
		a.log.Info("jobs updated",
			logx.Int("added", len(diff.Added)),
			logx.Int("removed", len(diff.Removed)),
			logx.Int("rescheduled", len(diff.Rescheduled)),
			logx.Int("changed", len(diff.Changed)),
		)
	}
}

// rescheduleAll returns every job in jobs that was not just added.
func rescheduleAll(jobs []config.JobConfig, d config.JobDiff) []config.JobConfig {
	added := make(map[registry.Key]struct{}, len(d.Added))
	for _, j := range d.Added {
		added[j.Key()] = struct{}{}
	}
	out := make([]config.JobConfig, 0, len(jobs))
	for _, j := range jobs {
		if _, ok := added[j.Key()]; !ok {
			out = append(out, j)
		}
	}
	return out
}
