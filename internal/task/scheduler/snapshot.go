package scheduler

import (
	"context"
	"time"

	"jobsched/internal/task/registry"
	"jobsched/internal/task/trigger"
	logx "jobsched/pkg/logx"
)

// State is the serializable part of the scheduler: mode plus per-job trigger
// state and counters. Definitions and schedules come from configuration.
type State struct {
	Mode    Mode       `json:"mode"`
	SavedAt time.Time  `json:"saved_at"`
	Jobs    []JobState `json:"jobs"`
}

type JobState struct {
	Name                string        `json:"name"`
	Group               string        `json:"group"`
	State               trigger.State `json:"state"`
	PrevFire            time.Time     `json:"prev_fire,omitempty"`
	Fires               uint64        `json:"fires"`
	Errors              uint64        `json:"errors"`
	Overruns            uint64        `json:"overruns"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastError           string        `json:"last_error,omitempty"`
}

func (j JobState) Key() registry.Key { return registry.NewKey(j.Name, j.Group) }

// Snapshot captures the current state for persistence.
func (s *Service) Snapshot(ctx context.Context) (State, error) {
	var st State
	err := s.do(ctx, func() error {
		st = State{Mode: s.mode, SavedAt: s.clock.Now(), Jobs: make([]JobState, 0, s.reg.Len())}
		for e := range s.reg.All() {
			tr := e.Trigger
			state := tr.State
			// BLOCKED only describes a run of this process.
			if state == trigger.StateBlocked {
				state = trigger.StateNormal
			}
			st.Jobs = append(st.Jobs, JobState{
				Name:                e.Def.Key.Name,
				Group:               e.Def.Key.Group,
				State:               state,
				PrevFire:            tr.PrevFire,
				Fires:               tr.Fires,
				Errors:              tr.Errors,
				Overruns:            tr.Overruns,
				ConsecutiveFailures: tr.ConsecutiveFailures,
				LastError:           tr.LastError,
			})
		}
		return nil
	})
	return st, err
}

// Restore applies saved trigger states and counters to registered jobs with a
// matching key; unknown keys are ignored. When withMode is set and the saved
// mode is RUNNING the scheduler is started. It returns the number of jobs restored.
func (s *Service) Restore(ctx context.Context, st State, withMode bool) (int, error) {
	n := 0
	err := s.do(ctx, func() error {
		now := s.clock.Now()
		for _, js := range st.Jobs {
			e, err := s.reg.Get(js.Key())
			if err != nil {
				continue
			}
			tr := e.Trigger
			tr.PrevFire = js.PrevFire
			tr.Fires = js.Fires
			tr.Errors = js.Errors
			tr.Overruns = js.Overruns
			tr.ConsecutiveFailures = js.ConsecutiveFailures
			tr.LastError = js.LastError

			s.queue.remove(e)
			delete(s.parked, e)
			tr.NextFire = time.Time{}
			switch {
			case js.State == trigger.StatePaused, js.State == trigger.StateError:
				tr.State = js.State
			case js.State == trigger.StateComplete && (tr.Spec == nil || tr.Spec.Next(now).IsZero()):
				tr.State = js.State
			default:
				// a schedule edited since the save may have occurrences left
				tr.State = trigger.StateNormal
				s.arm(e, now)
			}
			s.publish(EventJobRestored, e.Def.Key, JobEvent{State: tr.State.String()})
			n++
		}
		if withMode && st.Mode == ModeRunning {
			s.start()
		}
		s.log.Info("scheduler state restored", logx.Int("jobs", n), logx.String("saved_mode", st.Mode.String()), logx.Time("saved_at", st.SavedAt))
		return nil
	})
	return n, err
}
