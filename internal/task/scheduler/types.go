package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"jobsched/internal/task/engine"
	"jobsched/internal/task/registry"
	"jobsched/internal/task/trigger"
)

var (
	ErrNotFound          = registry.ErrNotFound
	ErrDuplicateKey      = registry.ErrDuplicateKey
	ErrInvalidTransition = trigger.ErrInvalidTransition
	ErrOverrun           = engine.ErrOverrun

	// ErrStopped is returned by every operation once Serve has returned.
	ErrStopped = errors.New("scheduler stopped")
	// ErrBusy is returned by FireNow for an exclusive job that is still running.
	ErrBusy = errors.New("exclusive job already running")
)

// ActionError records a failed job action against its key.
type ActionError struct {
	Key registry.Key
	Err error
}

func (e *ActionError) Error() string { return fmt.Sprintf("job %s: %v", e.Key, e.Err) }
func (e *ActionError) Unwrap() error { return e.Err }

// Config controls the scheduler loop.
type Config struct {
	// Autostart switches to RUNNING as soon as Serve begins. The default is STANDBY.
	Autostart bool
	// ErrorThreshold is the number of consecutive failures that moves a trigger
	// to ERROR. 0 uses the default (3); negative disables.
	ErrorThreshold int
	// CommandBuffer sizes the command and completion queues.
	CommandBuffer int
	// Clock is the time source; nil uses the real clock.
	Clock clockwork.Clock
}

const (
	defaultErrorThreshold = 3
	defaultCommandBuffer  = 64
)

func (c Config) withDefaults() Config {
	if c.ErrorThreshold == 0 {
		c.ErrorThreshold = defaultErrorThreshold
	}
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = defaultCommandBuffer
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return c
}

// Runner executes dispatched jobs. *engine.Service implements it.
type Runner interface {
	Enqueue(t engine.Task) error
}

type Mode uint8

const (
	ModeStandby Mode = iota
	ModeRunning
)

func (m Mode) String() string {
	if m == ModeRunning {
		return "RUNNING"
	}
	return "STANDBY"
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(b))) {
	case "RUNNING":
		*m = ModeRunning
	case "STANDBY", "":
		*m = ModeStandby
	default:
		return fmt.Errorf("unknown scheduler mode %q", string(b))
	}
	return nil
}

// Job is a registration request.
type Job struct {
	Def  registry.Definition
	Spec trigger.Spec
	// Paused registers the trigger in PAUSED state.
	Paused bool
}

// JobInfo is a read-only view of one job for presentation layers.
type JobInfo struct {
	Key         registry.Key
	Description string
	Schedule    string
	Exclusive   bool
	State       trigger.State
	// NextFire is zero when nothing is scheduled.
	NextFire time.Time
	PrevFire time.Time
	Running  int

	Fires               uint64
	Errors              uint64
	Overruns            uint64
	ConsecutiveFailures int
	LastError           string
}

// Stats summarizes scheduler activity since Serve began.
type Stats struct {
	Mode       Mode
	Jobs       int
	Scheduled  int
	InFlight   int
	Dispatched uint64
	Completed  uint64
	Failed     uint64
	Overruns   uint64
	Since      time.Time
}
