package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"jobsched/internal/eventbus"
	"jobsched/internal/task/engine"
	"jobsched/internal/task/registry"
	logx "jobsched/pkg/logx"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fired struct {
	name string
	at   time.Time
}

// fakeRunner records dispatches and runs actions on their own goroutine.
type fakeRunner struct {
	clock clockwork.Clock
	ch    chan fired

	mu   sync.Mutex
	err  error
	hold chan struct{}
}

func newFakeRunner(clock clockwork.Clock) *fakeRunner {
	return &fakeRunner{clock: clock, ch: make(chan fired, 64)}
}

func (r *fakeRunner) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *fakeRunner) setHold(ch chan struct{}) {
	r.mu.Lock()
	r.hold = ch
	r.mu.Unlock()
}

func (r *fakeRunner) Enqueue(t engine.Task) error {
	r.mu.Lock()
	err, hold := r.err, r.hold
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.ch <- fired{name: t.Name, at: r.clock.Now()}
	go func() {
		if hold != nil {
			<-hold
		}
		res := engine.Result{Name: t.Name, Attempts: 1}
		if t.Run != nil {
			res.Err = t.Run(context.Background())
		}
		if t.OnDone != nil {
			t.OnDone(res)
		}
	}()
	return nil
}

func (r *fakeRunner) next(t *testing.T) fired {
	t.Helper()
	select {
	case f := <-r.ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
		return fired{}
	}
}

func (r *fakeRunner) none(t *testing.T) {
	t.Helper()
	select {
	case f := <-r.ch:
		t.Fatalf("unexpected dispatch of %s at %v", f.name, f.at)
	case <-time.After(50 * time.Millisecond):
	}
}

type harness struct {
	s      *Service
	runner *fakeRunner
	clock  *clockwork.FakeClock
	ctx    context.Context
}

func newHarness(t *testing.T, cfg Config, bus eventbus.Bus) *harness {
	t.Helper()
	clk := clockwork.NewFakeClockAt(t0)
	cfg.Clock = clk
	r := newFakeRunner(clk)
	s := New(cfg, r, logx.Nop(), bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &harness{s: s, runner: r, clock: clk, ctx: context.Background()}
}

// waitTimer blocks until the loop has armed its wake-up timer.
func (h *harness) waitTimer(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("loop never armed its timer: %v", err)
	}
}

func (h *harness) register(t *testing.T, name, group string, spec string, mut ...func(*Job)) registry.Key {
	t.Helper()
	key := registry.NewKey(name, group)
	j := Job{Def: registry.Definition{Key: key, Action: func(context.Context) error { return nil }}, Spec: mustSpec(t, spec)}
	for _, m := range mut {
		m(&j)
	}
	if err := h.s.Register(h.ctx, j); err != nil {
		t.Fatalf("Register(%s): %v", key, err)
	}
	return key
}

func (h *harness) info(t *testing.T, key registry.Key) JobInfo {
	t.Helper()
	info, err := h.s.Info(h.ctx, key)
	if err != nil {
		t.Fatalf("Info(%s): %v", key, err)
	}
	return info
}

// eventually polls cond through the loop until it holds.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", what)
}

// waitEvent reads ch until an event of type typ arrives and returns it.
func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
			return eventbus.Event{}
		}
	}
}
