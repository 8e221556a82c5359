package scheduler

import (
	"errors"
	"time"

	"jobsched/internal/task/engine"
	"jobsched/internal/task/registry"
	"jobsched/internal/task/trigger"
	logx "jobsched/pkg/logx"
)

// start switches to RUNNING and anchors every NORMAL trigger to now, so
// fires missed while in standby are not replayed.
func (s *Service) start() bool {
	if s.mode == ModeRunning {
		return false
	}
	s.mode = ModeRunning
	now := s.clock.Now()
	for e := range s.reg.All() {
		if e.Trigger.State == trigger.StateNormal {
			s.arm(e, now)
		}
	}
	s.log.Info("scheduler started", logx.Int("jobs", s.reg.Len()), logx.Int("scheduled", s.queue.Len()))
	s.publishMode(EventSchedulerStarted)
	return true
}

// standby stops dispatching. Running actions are left alone.
func (s *Service) standby() bool {
	if s.mode == ModeStandby {
		return false
	}
	s.mode = ModeStandby
	s.queue.clear()
	clear(s.parked)
	for e := range s.reg.All() {
		e.Trigger.NextFire = time.Time{}
	}
	s.log.Info("scheduler in standby", logx.Int("in_flight", s.inFlight()))
	s.publishMode(EventSchedulerStandby)
	return true
}

// arm computes the next fire of a NORMAL trigger from `after` and queues it.
// Exclusive jobs with a run in flight are parked as BLOCKED instead.
func (s *Service) arm(e *registry.Entry, after time.Time) {
	tr := e.Trigger
	if s.mode != ModeRunning {
		s.queue.remove(e)
		tr.NextFire = time.Time{}
		if e.Def.Exclusive && s.inflight[e] > 0 {
			s.park(e)
		}
		return
	}
	if !tr.Schedule(after) {
		s.markComplete(e)
		return
	}
	if e.Def.Exclusive && s.inflight[e] > 0 {
		s.park(e)
		return
	}
	s.queue.set(e, tr.NextFire)
}

// park moves a trigger to BLOCKED, remembering its pending fire.
func (s *Service) park(e *registry.Entry) {
	s.queue.remove(e)
	if !e.Trigger.NextFire.IsZero() {
		s.parked[e] = e.Trigger.NextFire
	}
	if e.Trigger.SetState(trigger.StateBlocked) == nil {
		s.publish(EventJobBlocked, e.Def.Key, JobEvent{State: trigger.StateBlocked.String()})
	}
}

// unpark returns a BLOCKED trigger to NORMAL once its run finished.
func (s *Service) unpark(e *registry.Entry, now time.Time) {
	tr := e.Trigger
	next := s.parked[e]
	delete(s.parked, e)
	if tr.SetState(trigger.StateNormal) == nil {
		s.publish(EventJobUnblocked, e.Def.Key, JobEvent{State: trigger.StateNormal.String()})
	}
	if s.mode != ModeRunning {
		return
	}
	switch {
	case next.IsZero():
		s.arm(e, now)
	case next.After(now):
		tr.NextFire = next
		s.queue.set(e, next)
	case tr.Advance(next, now):
		s.queue.set(e, tr.NextFire)
	default:
		s.markComplete(e)
	}
}

func (s *Service) markComplete(e *registry.Entry) {
	s.queue.remove(e)
	if err := e.Trigger.SetState(trigger.StateComplete); err != nil {
		return
	}
	s.log.Info("trigger complete", logx.String("job", e.Def.Key.String()))
	s.publish(EventJobComplete, e.Def.Key, JobEvent{State: trigger.StateComplete.String()})
}

func (s *Service) fireDue(now time.Time) {
	for {
		e, at, ok := s.queue.popDue(now)
		if !ok {
			return
		}
		s.fire(e, at, now)
	}
}

// fire dispatches a scheduled occurrence and computes the following one.
func (s *Service) fire(e *registry.Entry, at, now time.Time) {
	tr := e.Trigger
	if tr.State != trigger.StateNormal {
		tr.NextFire = time.Time{}
		return
	}
	_ = s.dispatch(e, at, false)

	if !tr.Advance(at, now) {
		s.markComplete(e)
		return
	}
	if e.Def.Exclusive && s.inflight[e] > 0 {
		s.park(e)
		return
	}
	s.queue.set(e, tr.NextFire)
}

// dispatch hands the action to the runner. A rejected hand-off is recorded
// as an overrun on the trigger and never propagates to the loop.
func (s *Service) dispatch(e *registry.Entry, firedAt time.Time, manual bool) error {
	key := e.Def.Key
	tr := e.Trigger
	task := engine.Task{
		Name:    key.String(),
		Timeout: e.Def.Timeout,
		Run:     e.Def.Action,
		OnDone: func(r engine.Result) {
			c := completion{entry: e, firedAt: firedAt, manual: manual, err: r.Err, dur: r.Duration, tries: r.Attempts}
			select {
			case s.results <- c:
			case <-s.done:
			}
		},
	}

	if err := s.runner.Enqueue(task); err != nil {
		now := s.clock.Now()
		tr.RecordOverrun(err, now)
		s.stats.Overruns++
		if s.allowWarn(key, now) {
			s.log.Warn("fire skipped", logx.String("job", key.String()), logx.Uint64("overruns", tr.Overruns), logx.Err(err))
		}
		s.publish(EventJobOverrun, key, JobEvent{FiredAt: firedAt, Manual: manual, Error: err.Error()})
		return err
	}

	tr.MarkFired(firedAt)
	s.inflight[e]++
	s.stats.Dispatched++
	s.log.Debug("job dispatched", logx.String("job", key.String()), logx.Time("fired_at", firedAt), logx.Bool("manual", manual))
	s.publish(EventJobDispatched, key, JobEvent{FiredAt: firedAt, Manual: manual})
	return nil
}

// complete applies a run result in the loop's turn.
func (s *Service) complete(c completion) {
	e := c.entry
	if n := s.inflight[e]; n <= 1 {
		delete(s.inflight, e)
	} else {
		s.inflight[e] = n - 1
	}

	// The job was unregistered (or replaced) while running.
	if cur, err := s.reg.Get(e.Def.Key); err != nil || cur != e {
		return
	}

	key := e.Def.Key
	tr := e.Trigger
	now := s.clock.Now()
	ev := JobEvent{FiredAt: c.firedAt, Duration: c.dur, Attempts: c.tries, Manual: c.manual}

	switch {
	case c.err == nil:
		tr.RecordSuccess()
		s.stats.Completed++
		s.publish(EventJobCompleted, key, ev)
	case errors.Is(c.err, engine.ErrStopped):
		// abandoned at shutdown; not the action's fault
	default:
		aerr := &ActionError{Key: key, Err: c.err}
		s.stats.Failed++
		tripped := tr.RecordFailure(aerr, now, s.errorThreshold())
		ev.Error = c.err.Error()
		if s.allowWarn(key, now) {
			s.log.Warn("job failed", logx.String("job", key.String()), logx.Int("consecutive", tr.ConsecutiveFailures), logx.Err(c.err))
		}
		s.publish(EventJobFailed, key, ev)
		if tripped {
			s.queue.remove(e)
			s.log.Error("trigger moved to ERROR", logx.String("job", key.String()), logx.Int("failures", tr.ConsecutiveFailures), logx.Err(c.err))
			s.publish(EventJobError, key, JobEvent{State: trigger.StateError.String(), Error: ev.Error})
		}
	}

	if tr.State == trigger.StateBlocked && s.inflight[e] == 0 {
		s.unpark(e, now)
	}
}
