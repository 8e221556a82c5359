package scheduler

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"jobsched/internal/eventbus"
	"jobsched/internal/task/registry"
	"jobsched/internal/task/trigger"
	logx "jobsched/pkg/logx"
)

func mustSpec(t *testing.T, raw string) trigger.Spec {
	t.Helper()
	s, err := trigger.ParseSpec(raw, time.UTC)
	if err != nil {
		t.Fatalf("ParseSpec(%q): %v", raw, err)
	}
	return s
}

func TestStandbyAndRestartScenario(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	key := h.register(t, "A", "group1", "5s")

	if m, _ := h.s.Mode(h.ctx); m != ModeStandby {
		t.Fatalf("initial mode = %s, want STANDBY", m)
	}
	if info := h.info(t, key); !info.NextFire.IsZero() {
		t.Fatalf("NextFire in standby = %v, want zero", info.NextFire)
	}

	if err := h.s.Start(h.ctx); err != nil {
		t.Fatal(err)
	}
	h.waitTimer(t)
	h.clock.Advance(5 * time.Second)
	if f := h.runner.next(t); f.name != "group1.A" || !f.at.Equal(t0.Add(5*time.Second)) {
		t.Fatalf("first fire = %+v, want group1.A at t=5", f)
	}
	h.runner.none(t)

	h.clock.Advance(time.Second) // t=6
	if err := h.s.Standby(h.ctx); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(4 * time.Second) // t=10
	h.runner.none(t)
	if info := h.info(t, key); !info.NextFire.IsZero() || info.State != trigger.StateNormal {
		t.Fatalf("after standby: next=%v state=%s", info.NextFire, info.State)
	}

	if err := h.s.Start(h.ctx); err != nil {
		t.Fatal(err)
	}
	if info := h.info(t, key); !info.NextFire.Equal(t0.Add(15 * time.Second)) {
		t.Fatalf("NextFire after restart = %v, want t=15", info.NextFire)
	}
	h.waitTimer(t)
	h.clock.Advance(5 * time.Second) // t=15
	if f := h.runner.next(t); !f.at.Equal(t0.Add(15 * time.Second)) {
		t.Fatalf("second fire at %v, want t=15", f.at)
	}
	if info := h.info(t, key); info.Fires != 2 {
		t.Fatalf("Fires = %d, want 2", info.Fires)
	}
}

func TestFireNowUnknownJob(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.register(t, "B", "group1", "5s")

	err := h.s.FireNow(h.ctx, registry.NewKey("A", "group1"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	h.runner.none(t)
	st, _ := h.s.Stats(h.ctx)
	if st.Dispatched != 0 || st.Mode != ModeStandby || st.Jobs != 1 {
		t.Fatalf("state changed: %+v", st)
	}
}

func TestFireNowInStandbyDispatchesOnce(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	key := h.register(t, "A", "group1", "5s")

	if err := h.s.FireNow(h.ctx, key); err != nil {
		t.Fatalf("FireNow: %v", err)
	}
	if f := h.runner.next(t); f.name != "group1.A" {
		t.Fatalf("fired %s", f.name)
	}
	h.clock.Advance(10 * time.Second)
	h.runner.none(t)

	info := h.info(t, key)
	if info.Fires != 1 || !info.NextFire.IsZero() {
		t.Fatalf("info = %+v", info)
	}
	if m, _ := h.s.Mode(h.ctx); m != ModeStandby {
		t.Fatalf("mode = %s, want STANDBY", m)
	}
}

func TestFireNowIgnoresPause(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	key := h.register(t, "A", "group1", "5s", func(j *Job) { j.Paused = true })

	if err := h.s.FireNow(h.ctx, key); err != nil {
		t.Fatal(err)
	}
	h.runner.next(t)
	if st, _ := h.s.TriggerState(h.ctx, key); st != trigger.StatePaused {
		t.Fatalf("state = %s, want PAUSED", st)
	}
}

func TestFireNowKeepsSchedule(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	key := h.register(t, "A", "group1", "5s")
	_ = h.s.Start(h.ctx)
	h.waitTimer(t)
	h.clock.Advance(2 * time.Second)

	if err := h.s.FireNow(h.ctx, key); err != nil {
		t.Fatal(err)
	}
	h.runner.next(t)
	if info := h.info(t, key); !info.NextFire.Equal(t0.Add(5 * time.Second)) {
		t.Fatalf("NextFire = %v, want t=5", info.NextFire)
	}
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	key := h.register(t, "A", "group1", "5s")
	_ = h.s.Start(h.ctx)

	if err := h.s.Pause(h.ctx, key); err != nil {
		t.Fatal(err)
	}
	if err := h.s.Pause(h.ctx, key); err != nil {
		t.Fatalf("second Pause: %v", err)
	}
	if st, _ := h.s.TriggerState(h.ctx, key); st != trigger.StatePaused {
		t.Fatalf("state = %s, want PAUSED", st)
	}
	if info := h.info(t, key); !info.NextFire.IsZero() {
		t.Fatalf("paused NextFire = %v", info.NextFire)
	}
	h.clock.Advance(12 * time.Second)
	h.runner.none(t)

	if err := h.s.Resume(h.ctx, key); err != nil {
		t.Fatal(err)
	}
	now := h.clock.Now()
	info := h.info(t, key)
	if info.State != trigger.StateNormal || !info.NextFire.After(now) {
		t.Fatalf("after resume: state=%s next=%v now=%v", info.State, info.NextFire, now)
	}
	if !info.NextFire.Equal(now.Add(5 * time.Second)) {
		t.Fatalf("NextFire = %v, want now+5s", info.NextFire)
	}
}

func TestOperationsOnUnknownKey(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	missing := registry.NewKey("nope", "group1")
	ops := map[string]func() error{
		"pause":      func() error { return h.s.Pause(h.ctx, missing) },
		"resume":     func() error { return h.s.Resume(h.ctx, missing) },
		"reset":      func() error { return h.s.Reset(h.ctx, missing) },
		"unregister": func() error { return h.s.Unregister(h.ctx, missing) },
		"state": func() error {
			_, err := h.s.TriggerState(h.ctx, missing)
			return err
		},
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: err = %v, want ErrNotFound", name, err)
		}
	}
}

func TestUnregisterThenNotFound(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	key := h.register(t, "A", "group1", "5s")
	_ = h.s.Start(h.ctx)

	if err := h.s.Unregister(h.ctx, key); err != nil {
		t.Fatal(err)
	}
	if _, err := h.s.TriggerState(h.ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	h.clock.Advance(10 * time.Second)
	h.runner.none(t)

	// The key is free again.
	h.register(t, "A", "group1", "5s")
}

func TestRegisterDuplicate(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	key := h.register(t, "A", "group1", "5s")
	err := h.s.Register(h.ctx, Job{Def: registry.Definition{Key: key, Action: func(context.Context) error { return nil }}, Spec: trigger.Every(time.Second)})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("err = %v, want ErrDuplicateKey", err)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	key := h.register(t, "A", "group1", "5s")

	_ = h.s.Start(h.ctx)
	h.waitTimer(t)
	h.clock.Advance(3 * time.Second)
	if err := h.s.Start(h.ctx); err != nil {
		t.Fatal(err)
	}
	if m, _ := h.s.Mode(h.ctx); m != ModeRunning {
		t.Fatalf("mode = %s", m)
	}
	if info := h.info(t, key); !info.NextFire.Equal(t0.Add(5 * time.Second)) {
		t.Fatalf("second Start moved NextFire to %v", info.NextFire)
	}

	h.waitTimer(t)
	h.clock.Advance(2 * time.Second)
	h.runner.next(t)
	h.runner.none(t)
	if err := h.s.Standby(h.ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.s.Standby(h.ctx); err != nil {
		t.Fatal(err)
	}
}

func TestTiesDispatchInKeyOrder(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.register(t, "B", "group1", "5s")
	h.register(t, "Z", "group0", "5s")
	h.register(t, "A", "group1", "5s")
	_ = h.s.Start(h.ctx)

	want := []string{"group0.Z", "group1.A", "group1.B"}
	for round := 0; round < 3; round++ {
		h.waitTimer(t)
		h.clock.Advance(5 * time.Second)
		var got []string
		for range want {
			got = append(got, h.runner.next(t).name)
		}
		if !slices.Equal(got, want) {
			t.Fatalf("round %d: order %v, want %v", round, got, want)
		}
	}
}

func TestListIsOrdered(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.register(t, "b", "g2", "5s")
	h.register(t, "a", "g2", "5s")
	h.register(t, "z", "g1", "1m")

	list, err := h.s.List(h.ctx)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, j := range list {
		got = append(got, j.Key.String())
	}
	if !slices.Equal(got, []string{"g1.z", "g2.a", "g2.b"}) {
		t.Fatalf("List order = %v", got)
	}
	if list[0].Schedule != "every 1m0s" {
		t.Fatalf("Schedule = %q", list[0].Schedule)
	}
}

func TestFailuresMoveTriggerToError(t *testing.T) {
	h := newHarness(t, Config{ErrorThreshold: 2}, nil)
	boom := errors.New("boom")
	key := h.register(t, "A", "group1", "1s", func(j *Job) {
		j.Def.Action = func(context.Context) error { return boom }
	})
	_ = h.s.Start(h.ctx)

	for i := 1; i <= 2; i++ {
		h.waitTimer(t)
		h.clock.Advance(time.Second)
		h.runner.next(t)
		eventually(t, "failure recorded", func() bool { return h.info(t, key).Errors == uint64(i) })
	}

	info := h.info(t, key)
	if info.State != trigger.StateError || !info.NextFire.IsZero() {
		t.Fatalf("state=%s next=%v, want ERROR with no next fire", info.State, info.NextFire)
	}
	if info.LastError == "" {
		t.Fatal("LastError not recorded")
	}
	if err := h.s.Resume(h.ctx, key); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Resume from ERROR: %v", err)
	}
	h.clock.Advance(5 * time.Second)
	h.runner.none(t)

	if err := h.s.Reset(h.ctx, key); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	info = h.info(t, key)
	if info.State != trigger.StateNormal || info.ConsecutiveFailures != 0 || info.NextFire.IsZero() {
		t.Fatalf("after reset: %+v", info)
	}
	st, _ := h.s.Stats(h.ctx)
	if st.Failed != 2 {
		t.Fatalf("Failed = %d, want 2", st.Failed)
	}
}

func TestOverrunIsRecorded(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	key := h.register(t, "A", "group1", "1s")
	h.runner.setErr(ErrOverrun)
	_ = h.s.Start(h.ctx)

	h.waitTimer(t)
	h.clock.Advance(time.Second)
	eventually(t, "overrun recorded", func() bool { return h.info(t, key).Overruns == 1 })

	info := h.info(t, key)
	if info.State != trigger.StateNormal || info.Fires != 0 {
		t.Fatalf("info = %+v", info)
	}
	if !info.NextFire.Equal(t0.Add(2 * time.Second)) {
		t.Fatalf("NextFire = %v, want t=2", info.NextFire)
	}
	if err := h.s.FireNow(h.ctx, key); !errors.Is(err, ErrOverrun) {
		t.Fatalf("FireNow err = %v, want ErrOverrun", err)
	}
}

func TestExclusiveJobBlocksWhileRunning(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	release := make(chan struct{})
	h.runner.setHold(release)
	key := h.register(t, "A", "group1", "1s", func(j *Job) { j.Def.Exclusive = true })
	_ = h.s.Start(h.ctx)

	h.waitTimer(t)
	h.clock.Advance(time.Second)
	h.runner.next(t)
	if st, _ := h.s.TriggerState(h.ctx, key); st != trigger.StateBlocked {
		t.Fatalf("state = %s, want BLOCKED", st)
	}
	if info := h.info(t, key); !info.NextFire.IsZero() || info.Running != 1 {
		t.Fatalf("blocked info = %+v", info)
	}
	if err := h.s.FireNow(h.ctx, key); !errors.Is(err, ErrBusy) {
		t.Fatalf("FireNow err = %v, want ErrBusy", err)
	}
	h.clock.Advance(time.Second) // t=2 passes while blocked
	h.runner.none(t)

	h.runner.setHold(nil)
	close(release)
	eventually(t, "unblocked", func() bool { return h.info(t, key).State == trigger.StateNormal })
	if info := h.info(t, key); !info.NextFire.Equal(t0.Add(3 * time.Second)) {
		t.Fatalf("NextFire = %v, want t=3", info.NextFire)
	}
}

func TestOneShotCompletes(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	key := h.register(t, "once", "", "at:2026-01-01T00:00:03Z")
	_ = h.s.Start(h.ctx)

	h.waitTimer(t)
	h.clock.Advance(3 * time.Second)
	h.runner.next(t)
	eventually(t, "complete", func() bool {
		st, _ := h.s.TriggerState(h.ctx, key)
		return st == trigger.StateComplete
	})
	if err := h.s.Pause(h.ctx, key); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Pause on COMPLETE: %v", err)
	}

	if err := h.s.Reschedule(h.ctx, key, trigger.Every(time.Second)); err != nil {
		t.Fatal(err)
	}
	if info := h.info(t, key); info.State != trigger.StateNormal || !info.NextFire.Equal(t0.Add(4*time.Second)) {
		t.Fatalf("after reschedule: %+v", info)
	}
}

func TestSnapshotRestore(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	a := h.register(t, "A", "group1", "5s")
	h.register(t, "B", "group1", "5s")
	_ = h.s.Pause(h.ctx, a)
	_ = h.s.Start(h.ctx)
	_ = h.s.FireNow(h.ctx, a)
	h.runner.next(t)

	st, err := h.s.Snapshot(h.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode != ModeRunning || len(st.Jobs) != 2 || st.Jobs[0].State != trigger.StatePaused {
		t.Fatalf("snapshot = %+v", st)
	}

	h2 := newHarness(t, Config{}, nil)
	h2.register(t, "A", "group1", "5s")
	b := h2.register(t, "B", "group1", "5s")
	n, err := h2.s.Restore(h2.ctx, st, true)
	if err != nil || n != 2 {
		t.Fatalf("Restore = %d, %v", n, err)
	}
	if m, _ := h2.s.Mode(h2.ctx); m != ModeRunning {
		t.Fatalf("mode = %s, want RUNNING", m)
	}
	info := h2.info(t, a)
	if info.State != trigger.StatePaused || info.Fires != 1 {
		t.Fatalf("restored A = %+v", info)
	}
	if info := h2.info(t, b); info.NextFire.IsZero() {
		t.Fatal("restored B should be scheduled")
	}
}

func TestRestoreCompleteKeepsOnlyFinishedSchedules(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	recurring := h.register(t, "A", "group1", "5s")
	spent := h.register(t, "B", "group1", "at:2025-06-01T00:00:00Z")
	_ = h.s.Start(h.ctx)

	st := State{Jobs: []JobState{
		{Name: "A", Group: "group1", State: trigger.StateComplete, Fires: 1},
		{Name: "B", Group: "group1", State: trigger.StateComplete, Fires: 1},
	}}
	if _, err := h.s.Restore(h.ctx, st, false); err != nil {
		t.Fatal(err)
	}

	info := h.info(t, recurring)
	if info.State != trigger.StateNormal || !info.NextFire.Equal(t0.Add(5*time.Second)) {
		t.Fatalf("recurring job after restore: state=%s next=%v", info.State, info.NextFire)
	}
	if err := h.s.Pause(h.ctx, recurring); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := h.s.Resume(h.ctx, recurring); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if info := h.info(t, spent); info.State != trigger.StateComplete || !info.NextFire.IsZero() {
		t.Fatalf("spent one-shot after restore: %+v", info)
	}
}

func TestKeysWithoutGroupUseDefault(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	job := Job{
		Def:  registry.Definition{Key: registry.Key{Name: "A"}, Action: func(context.Context) error { return nil }},
		Spec: mustSpec(t, "5s"),
	}
	if err := h.s.Register(h.ctx, job); err != nil {
		t.Fatal(err)
	}
	key := registry.NewKey("A", "")
	if err := h.s.FireNow(h.ctx, key); err != nil {
		t.Fatalf("FireNow(%s): %v", key, err)
	}
	if f := h.runner.next(t); f.name != "DEFAULT.A" {
		t.Fatalf("dispatched %q, want DEFAULT.A", f.name)
	}
	job.Def.Key = key
	if err := h.s.Register(h.ctx, job); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("second Register err = %v, want ErrDuplicateKey", err)
	}
	if err := h.s.Unregister(h.ctx, registry.Key{Name: "A"}); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if jobs, _ := h.s.List(h.ctx); len(jobs) != 0 {
		t.Fatalf("jobs left = %+v", jobs)
	}
}

func TestStateChangesArePublished(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(64, "job.")
	defer unsub()

	h := newHarness(t, Config{}, bus)
	release := make(chan struct{})
	h.runner.setHold(release)
	key := h.register(t, "A", "group1", "1s", func(j *Job) { j.Def.Exclusive = true })
	paused := h.register(t, "B", "group1", "1s")
	_ = h.s.Start(h.ctx)

	if err := h.s.FireNow(h.ctx, key); err != nil {
		t.Fatal(err)
	}
	h.runner.next(t)
	ev := waitEvent(t, ch, EventJobBlocked)
	if ev.Job != key.String() || ev.Data.(JobEvent).State != "BLOCKED" {
		t.Fatalf("blocked event = %+v", ev)
	}
	h.runner.setHold(nil)
	close(release)
	if ev := waitEvent(t, ch, EventJobUnblocked); ev.Data.(JobEvent).State != "NORMAL" {
		t.Fatalf("unblocked event = %+v", ev)
	}

	st := State{Jobs: []JobState{{Name: "B", Group: "group1", State: trigger.StatePaused}}}
	if _, err := h.s.Restore(h.ctx, st, false); err != nil {
		t.Fatal(err)
	}
	ev = waitEvent(t, ch, EventJobRestored)
	if ev.Job != paused.String() || ev.Data.(JobEvent).State != "PAUSED" {
		t.Fatalf("restored event = %+v", ev)
	}
}

func TestEventsPublished(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(64)
	defer unsub()

	h := newHarness(t, Config{}, bus)
	key := h.register(t, "A", "group1", "5s")
	_ = h.s.Start(h.ctx)
	_ = h.s.FireNow(h.ctx, key)
	h.runner.next(t)

	want := map[string]bool{}
	for _, typ := range []string{
		EventJobRegistered, "control.register",
		EventSchedulerStarted, "control.start",
		EventJobDispatched, "control.fire",
		EventJobCompleted,
	} {
		want[typ] = false
	}
	deadline := time.After(2 * time.Second)
	for remaining := len(want); remaining > 0; {
		select {
		case e := <-ch:
			if seen, ok := want[e.Type]; ok && !seen {
				want[e.Type] = true
				remaining--
			}
		case <-deadline:
			t.Fatalf("missing events: %v", want)
		}
	}
}

func TestOperationsAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(Config{}, newFakeRunner(nil), logx.Nop(), nil)
	done := make(chan struct{})
	go func() {
		_ = s.Serve(ctx)
		close(done)
	}()
	cancel()
	<-done
	if err := s.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	if err := s.Serve(context.Background()); err == nil {
		t.Fatal("second Serve should fail")
	}
}
