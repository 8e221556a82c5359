package trigger

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Spec computes fire times for a trigger.
//
// Next returns the first instant strictly after `after` that satisfies the
// schedule, or the zero time when the schedule has no further occurrences.
type Spec interface {
	Next(after time.Time) time.Time
	String() string
}

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type everySpec struct {
	d time.Duration
}

// Every returns a fixed-interval spec. Intervals are not rounded; a non-positive
// interval never fires.
func Every(d time.Duration) Spec { return everySpec{d: d} }

func (s everySpec) Next(after time.Time) time.Time {
	if s.d <= 0 {
		return time.Time{}
	}
	return after.Add(s.d)
}

func (s everySpec) String() string { return "every " + s.d.String() }

type cronSpec struct {
	expr  string
	loc   *time.Location
	sched cron.Schedule
}

// Cron parses a cron expression evaluated in loc (nil means UTC).
func Cron(expr string, loc *time.Location) (Spec, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return cronSpec{expr: expr, loc: loc, sched: sched}, nil
}

func (s cronSpec) Next(after time.Time) time.Time {
	next := s.sched.Next(after.In(s.loc))
	if next.IsZero() {
		return next
	}
	return next.In(after.Location())
}

func (s cronSpec) String() string { return "cron " + s.expr }

type onceSpec struct {
	at time.Time
}

// Once fires a single time at `at`.
func Once(at time.Time) Spec { return onceSpec{at: at} }

func (s onceSpec) Next(after time.Time) time.Time {
	if s.at.After(after) {
		return s.at
	}
	return time.Time{}
}

func (s onceSpec) String() string { return "at " + s.at.Format(time.RFC3339) }
