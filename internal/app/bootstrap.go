package app

import (
	"jobsched/internal/config"
	"jobsched/internal/metrics"
	"jobsched/internal/task/engine"
	"jobsched/internal/task/scheduler"
)

// Config mapping from the file format to component configs. Config has
// passed config.Validate, so duration fields parse.

func mapEngineConfig(cfg *config.Config) engine.Config {
	r := cfg.Runner
	return engine.Config{
		Workers:        r.Workers,
		QueueSize:      r.QueueSize,
		DefaultTimeout: r.MaxRunTimeDuration(),
		HistorySize:    r.HistorySize,
		RetryMax:       r.RetryMax,
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	s := cfg.Scheduler
	return scheduler.Config{
		Autostart:      s.Autostart,
		ErrorThreshold: s.ErrorThreshold,
		CommandBuffer:  s.CommandBuffer,
	}
}

func mapMetricsConfig(cfg *config.Config) metrics.ServerConfig {
	m := cfg.Metrics
	return metrics.ServerConfig{
		Enabled: m.Enabled,
		Addr:    m.Addr,
		Path:    m.HandlerPath(),
		Pprof:   m.Pprof,
	}
}
