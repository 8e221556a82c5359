package scheduler

import (
	"context"
	"fmt"
	"time"

	"jobsched/internal/task/registry"
	"jobsched/internal/task/trigger"
	logx "jobsched/pkg/logx"
)

// Register adds a job and its trigger. Fails with ErrDuplicateKey if the key exists.
func (s *Service) Register(ctx context.Context, job Job) error {
	return s.do(ctx, func() error {
		if job.Spec == nil {
			return fmt.Errorf("register %s: schedule required", job.Def.Key)
		}
		tr := trigger.New(job.Spec)
		if job.Paused {
			tr.State = trigger.StatePaused
		}
		e, err := s.reg.Register(job.Def, tr)
		if err != nil {
			return err
		}
		if tr.State == trigger.StateNormal {
			s.arm(e, s.clock.Now())
		}
		key := e.Def.Key
		s.log.Debug("job registered", logx.String("job", key.String()), logx.String("schedule", job.Spec.String()), logx.String("state", tr.State.String()), logx.Time("next", tr.NextFire))
		s.publish(EventJobRegistered, key, JobEvent{State: tr.State.String()})
		s.audit("register", &key, job.Spec.String())
		return nil
	})
}

// Unregister removes a job. Runs in flight finish but their results are discarded.
func (s *Service) Unregister(ctx context.Context, key registry.Key) error {
	return s.do(ctx, func() error {
		e, err := s.reg.Unregister(key)
		if err != nil {
			return err
		}
		key = e.Def.Key
		s.queue.remove(e)
		delete(s.parked, e)
		delete(s.warn, key)
		e.Trigger.NextFire = time.Time{}
		s.log.Debug("job unregistered", logx.String("job", key.String()))
		s.publish(EventJobUnregistered, key, JobEvent{})
		s.audit("unregister", &key, "")
		return nil
	})
}

// Replace swaps a job's definition (action, timeout, description) keeping its trigger.
func (s *Service) Replace(ctx context.Context, def registry.Definition) error {
	return s.do(ctx, func() error {
		return s.reg.Replace(def)
	})
}

// Reschedule replaces a job's schedule spec and recomputes its next fire from now.
func (s *Service) Reschedule(ctx context.Context, key registry.Key, spec trigger.Spec) error {
	if spec == nil {
		return fmt.Errorf("reschedule %s: schedule required", key)
	}
	return s.do(ctx, func() error {
		e, err := s.reg.Get(key)
		if err != nil {
			return err
		}
		key = e.Def.Key
		s.queue.remove(e)
		delete(s.parked, e)
		e.Trigger.Replace(spec)
		if e.Trigger.State == trigger.StateNormal {
			s.arm(e, s.clock.Now())
		}
		s.publish(EventJobRescheduled, key, JobEvent{State: e.Trigger.State.String()})
		s.audit("reschedule", &key, spec.String())
		return nil
	})
}

// Start switches to RUNNING. Idempotent.
func (s *Service) Start(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.start() {
			s.audit("start", nil, "")
		}
		return nil
	})
}

// Standby stops dispatching new fires. Idempotent; running actions are not interrupted.
func (s *Service) Standby(ctx context.Context) error {
	return s.do(ctx, func() error {
		if s.standby() {
			s.audit("standby", nil, "")
		}
		return nil
	})
}

func (s *Service) Mode(ctx context.Context) (Mode, error) {
	var m Mode
	err := s.do(ctx, func() error {
		m = s.mode
		return nil
	})
	return m, err
}

// FireNow dispatches the job once, regardless of mode or trigger state.
// The job's regular schedule is left as it was.
func (s *Service) FireNow(ctx context.Context, key registry.Key) error {
	return s.do(ctx, func() error {
		e, err := s.reg.Get(key)
		if err != nil {
			return err
		}
		key = e.Def.Key
		if e.Def.Exclusive && s.inflight[e] > 0 {
			return fmt.Errorf("%w: %s", ErrBusy, key)
		}
		now := s.clock.Now()
		if err := s.dispatch(e, now, true); err != nil {
			return err
		}
		s.audit("fire", &key, "")

		tr := e.Trigger
		if tr.State != trigger.StateNormal {
			return nil
		}
		if e.Def.Exclusive {
			s.park(e)
			return nil
		}
		if s.mode == ModeRunning && !tr.NextFire.After(now) {
			s.arm(e, now)
		}
		return nil
	})
}

// Pause moves a trigger to PAUSED. Pausing a paused job is a no-op.
func (s *Service) Pause(ctx context.Context, key registry.Key) error {
	return s.do(ctx, func() error {
		e, err := s.reg.Get(key)
		if err != nil {
			return err
		}
		key = e.Def.Key
		tr := e.Trigger
		if tr.State == trigger.StatePaused {
			return nil
		}
		if err := tr.SetState(trigger.StatePaused); err != nil {
			return fmt.Errorf("pause %s: %w", key, err)
		}
		s.queue.remove(e)
		delete(s.parked, e)
		s.log.Info("job paused", logx.String("job", key.String()))
		s.publish(EventJobPaused, key, JobEvent{State: tr.State.String()})
		s.audit("pause", &key, "")
		return nil
	})
}

// Resume moves a PAUSED trigger back to NORMAL and recomputes its next fire from now.
func (s *Service) Resume(ctx context.Context, key registry.Key) error {
	return s.do(ctx, func() error {
		e, err := s.reg.Get(key)
		if err != nil {
			return err
		}
		key = e.Def.Key
		tr := e.Trigger
		if tr.State == trigger.StateNormal || tr.State == trigger.StateBlocked {
			return nil
		}
		if err := tr.SetState(trigger.StateNormal); err != nil {
			return fmt.Errorf("resume %s: %w", key, err)
		}
		s.arm(e, s.clock.Now())
		s.log.Info("job resumed", logx.String("job", key.String()), logx.Time("next", tr.NextFire))
		s.publish(EventJobResumed, key, JobEvent{State: tr.State.String()})
		s.audit("resume", &key, "")
		return nil
	})
}

// Reset moves an ERROR trigger back to NORMAL.
func (s *Service) Reset(ctx context.Context, key registry.Key) error {
	return s.do(ctx, func() error {
		e, err := s.reg.Get(key)
		if err != nil {
			return err
		}
		key = e.Def.Key
		if err := e.Trigger.Reset(); err != nil {
			return fmt.Errorf("reset %s: %w", key, err)
		}
		s.arm(e, s.clock.Now())
		s.log.Info("job reset", logx.String("job", key.String()))
		s.publish(EventJobReset, key, JobEvent{State: e.Trigger.State.String()})
		s.audit("reset", &key, "")
		return nil
	})
}

func (s *Service) TriggerState(ctx context.Context, key registry.Key) (trigger.State, error) {
	var st trigger.State
	err := s.do(ctx, func() error {
		e, err := s.reg.Get(key)
		if err != nil {
			return err
		}
		st = e.Trigger.State
		return nil
	})
	return st, err
}

func (s *Service) Info(ctx context.Context, key registry.Key) (JobInfo, error) {
	var info JobInfo
	err := s.do(ctx, func() error {
		e, err := s.reg.Get(key)
		if err != nil {
			return err
		}
		info = s.info(e)
		return nil
	})
	return info, err
}

// List returns every job ordered by key.
func (s *Service) List(ctx context.Context) ([]JobInfo, error) {
	var out []JobInfo
	err := s.do(ctx, func() error {
		out = make([]JobInfo, 0, s.reg.Len())
		for e := range s.reg.All() {
			out = append(out, s.info(e))
		}
		return nil
	})
	return out, err
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.do(ctx, func() error {
		st = s.stats
		st.Mode = s.mode
		st.Jobs = s.reg.Len()
		st.Scheduled = s.queue.Len()
		st.InFlight = s.inFlight()
		return nil
	})
	return st, err
}

func (s *Service) info(e *registry.Entry) JobInfo {
	tr := e.Trigger
	info := JobInfo{
		Key:                 e.Def.Key,
		Description:         e.Def.Description,
		Exclusive:           e.Def.Exclusive,
		State:               tr.State,
		NextFire:            tr.NextFire,
		PrevFire:            tr.PrevFire,
		Running:             s.inflight[e],
		Fires:               tr.Fires,
		Errors:              tr.Errors,
		Overruns:            tr.Overruns,
		ConsecutiveFailures: tr.ConsecutiveFailures,
		LastError:           tr.LastError,
	}
	if tr.Spec != nil {
		info.Schedule = tr.Spec.String()
	}
	return info
}
