package scheduler

import (
	"time"

	"jobsched/internal/eventbus"
	"jobsched/internal/task/registry"
)

// Event types published on the bus.
const (
	EventJobRegistered   = "job.registered"
	EventJobUnregistered = "job.unregistered"
	EventJobDispatched   = "job.dispatched"
	EventJobCompleted    = "job.completed"
	EventJobFailed       = "job.failed"
	EventJobOverrun      = "job.overrun"
	EventJobPaused       = "job.paused"
	EventJobResumed      = "job.resumed"
	EventJobReset        = "job.reset"
	EventJobError        = "job.error"
	EventJobComplete     = "job.complete"
	EventJobRescheduled  = "job.rescheduled"
	EventJobRestored     = "job.restored"
	EventJobBlocked      = "job.blocked"
	EventJobUnblocked    = "job.unblocked"

	EventSchedulerStarted = "scheduler.started"
	EventSchedulerStandby = "scheduler.standby"

	// Control events record operator requests for auditing.
	EventControlPrefix = "control."
)

// JobEvent is the Data payload of job.* events.
type JobEvent struct {
	Name     string        `json:"name"`
	Group    string        `json:"group"`
	State    string        `json:"state,omitempty"`
	FiredAt  time.Time     `json:"fired_at,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
	Manual   bool          `json:"manual,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// ControlEvent is the Data payload of control.* events.
type ControlEvent struct {
	Op     string `json:"op"`
	Job    string `json:"job,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func (s *Service) publish(typ string, key registry.Key, ev JobEvent) {
	if s.bus == nil {
		return
	}
	ev.Name, ev.Group = key.Name, key.Group
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Job: key.String(), Data: ev})
}

func (s *Service) publishMode(typ string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: s.mode.String()})
}

func (s *Service) audit(op string, key *registry.Key, detail string) {
	if s.bus == nil {
		return
	}
	ev := eventbus.Event{Type: EventControlPrefix + op, Time: s.clock.Now()}
	ce := ControlEvent{Op: op, Detail: detail}
	if key != nil {
		ev.Job = key.String()
		ce.Job = ev.Job
	}
	ev.Data = ce
	s.bus.Publish(ev)
}
