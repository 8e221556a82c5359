package trigger

import (
	"fmt"
	"time"
)

// Trigger is a schedule spec plus its runtime state and bookkeeping.
//
// Trigger is not goroutine-safe; it is mutated only from the scheduler loop.
type Trigger struct {
	Spec  Spec
	State State

	// NextFire is zero when no future fire is scheduled.
	NextFire time.Time
	PrevFire time.Time

	Fires               uint64
	Errors              uint64
	Overruns            uint64
	ConsecutiveFailures int
	LastError           string
	LastErrorAt         time.Time
}

func New(spec Spec) *Trigger {
	return &Trigger{Spec: spec, State: StateNormal}
}

// SetState applies a state transition. Self transitions are no-ops.
// Leaving NORMAL clears NextFire.
func (t *Trigger) SetState(to State) error {
	if t.State == to && (to == StateNormal || to == StatePaused) {
		return nil
	}
	if !CanTransition(t.State, to) || t.State == to {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, to)
	}
	t.State = to
	if to != StateNormal {
		t.NextFire = time.Time{}
	}
	return nil
}

// Reset moves an ERROR trigger back to NORMAL and clears the failure streak.
func (t *Trigger) Reset() error {
	if t.State != StateError {
		return fmt.Errorf("%w: reset from %s", ErrInvalidTransition, t.State)
	}
	t.State = StateNormal
	t.ConsecutiveFailures = 0
	return nil
}

// Replace swaps the schedule spec. A COMPLETE trigger becomes NORMAL again
// since the new spec may have further occurrences. NextFire is cleared.
func (t *Trigger) Replace(spec Spec) {
	t.Spec = spec
	t.NextFire = time.Time{}
	if t.State == StateComplete {
		t.State = StateNormal
	}
}

// Schedule sets NextFire to the first occurrence after `after`.
// It reports false when the spec has no further occurrences.
func (t *Trigger) Schedule(after time.Time) bool {
	if t.Spec == nil {
		t.NextFire = time.Time{}
		return false
	}
	t.NextFire = t.Spec.Next(after)
	return !t.NextFire.IsZero()
}

// Advance computes the fire after one that happened at firedAt. Missed
// occurrences up to now are skipped rather than replayed.
func (t *Trigger) Advance(firedAt, now time.Time) bool {
	if !t.Schedule(firedAt) {
		return false
	}
	if !t.NextFire.After(now) {
		return t.Schedule(now)
	}
	return true
}

// MarkFired records a dispatch at `at`.
func (t *Trigger) MarkFired(at time.Time) {
	t.Fires++
	t.PrevFire = at
}

func (t *Trigger) RecordSuccess() { t.ConsecutiveFailures = 0 }

// RecordFailure counts a failed run and moves the trigger to ERROR once the
// streak reaches threshold (threshold <= 0 never trips). It reports whether
// the trigger entered ERROR.
func (t *Trigger) RecordFailure(err error, at time.Time, threshold int) bool {
	t.Errors++
	t.ConsecutiveFailures++
	if err != nil {
		t.LastError = err.Error()
	}
	t.LastErrorAt = at
	if threshold > 0 && t.ConsecutiveFailures >= threshold && t.State != StateError {
		t.State = StateError
		t.NextFire = time.Time{}
		return true
	}
	return false
}

// RecordOverrun counts a fire skipped because the runner queue was full.
func (t *Trigger) RecordOverrun(err error, at time.Time) {
	t.Overruns++
	if err != nil {
		t.LastError = err.Error()
	}
	t.LastErrorAt = at
}
