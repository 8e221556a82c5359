// Package metrics exports scheduler activity as prometheus collectors.
//
// The collector is fed from the event bus only, so the scheduler loop never
// touches prometheus types.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"jobsched/internal/eventbus"
	"jobsched/internal/task/scheduler"
)

const namespace = "jobsched"

// Collector owns a private prometheus registry.
type Collector struct {
	reg *prometheus.Registry

	fires     *prometheus.CounterVec
	failures  *prometheus.CounterVec
	overruns  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	running   prometheus.Gauge
	jobStates *prometheus.GaugeVec
}

// QueueStats reports runner queue depth and capacity.
type QueueStats func() (depth, capacity int)

// New builds the collector. queue may be nil.
func New(queue QueueStats) *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		fires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "job_fires_total",
			Help: "Job executions dispatched to the runner.",
		}, []string{"job", "manual"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "job_failures_total",
			Help: "Job executions that returned an error.",
		}, []string{"job"}),
		overruns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "job_overruns_total",
			Help: "Fires skipped because the runner queue was saturated.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_duration_seconds",
			Help:    "Wall time of finished job executions.",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 9),
		}, []string{"job"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "scheduler_running",
			Help: "1 while the scheduler is RUNNING, 0 in STANDBY.",
		}),
		jobStates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "job_state",
			Help: "1 for the current trigger state of each job.",
		}, []string{"job", "state"}),
	}
	c.reg.MustRegister(c.fires, c.failures, c.overruns, c.duration, c.running, c.jobStates,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if queue != nil {
		c.reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace, Name: "runner_queue_depth",
				Help: "Tasks waiting for a runner worker.",
			}, func() float64 { d, _ := queue(); return float64(d) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace, Name: "runner_queue_capacity",
				Help: "Runner queue bound; fires beyond it are overruns.",
			}, func() float64 { _, c := queue(); return float64(c) }),
		)
	}
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Run feeds the collector from bus until ctx ends.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256, "job.", "scheduler.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(ev)
		}
	}
}

// Observe applies one bus event.
func (c *Collector) Observe(ev eventbus.Event) {
	switch ev.Type {
	case scheduler.EventSchedulerStarted:
		c.running.Set(1)
		return
	case scheduler.EventSchedulerStandby:
		c.running.Set(0)
		return
	}
	je, ok := ev.Data.(scheduler.JobEvent)
	if !ok || ev.Job == "" {
		return
	}
	switch ev.Type {
	case scheduler.EventJobDispatched:
		manual := "false"
		if je.Manual {
			manual = "true"
		}
		c.fires.WithLabelValues(ev.Job, manual).Inc()
	case scheduler.EventJobCompleted:
		c.duration.WithLabelValues(ev.Job).Observe(je.Duration.Seconds())
	case scheduler.EventJobFailed:
		c.failures.WithLabelValues(ev.Job).Inc()
		c.duration.WithLabelValues(ev.Job).Observe(je.Duration.Seconds())
	case scheduler.EventJobOverrun:
		c.overruns.WithLabelValues(ev.Job).Inc()
	case scheduler.EventJobUnregistered:
		c.jobStates.DeletePartialMatch(prometheus.Labels{"job": ev.Job})
		return
	}
	if je.State != "" {
		c.setState(ev.Job, je.State)
	}
}

func (c *Collector) setState(job, state string) {
	c.jobStates.DeletePartialMatch(prometheus.Labels{"job": job})
	c.jobStates.WithLabelValues(job, state).Set(1)
}
