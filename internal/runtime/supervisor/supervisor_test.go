package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	logx "jobsched/pkg/logx"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()))
	s.Go("boom", func(ctx context.Context) error { panic("kaboom") })

	err := s.Wait(waitCtx(t))
	if err == nil || !strings.Contains(err.Error(), "boom: panic: kaboom") {
		t.Fatalf("Wait = %v", err)
	}
}

func TestCancelOnError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fails", func(ctx context.Context) error { return errors.New("nope") })

	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context should be canceled after first error")
	}
	if err := s.Err(); err == nil || err.Error() != "fails: nope" {
		t.Fatalf("Err = %v", err)
	}
}

func TestCanceledIsNotAnError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := s.Stop(waitCtx(t)); err != nil {
		t.Fatalf("Stop = %v", err)
	}
}

func TestGoRestartBacksOff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(context.Background(), WithClock(clock))
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Second, 10*time.Second))

	ctx := waitCtx(t)
	// first failure waits 1s, second 2s
	for _, d := range []time.Duration{time.Second, 2 * time.Second} {
		if err := clock.BlockUntilContext(ctx, 1); err != nil {
			t.Fatal(err)
		}
		clock.Advance(d)
	}
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
	if got := s.Restarts("flaky"); got != 2 {
		t.Fatalf("restarts = %d, want 2", got)
	}
}

func TestGoRestartStopsOnCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(context.Background(), WithClock(clock))
	s.GoRestart("always", func(ctx context.Context) error { return errors.New("down") },
		WithPublishFirstError(true))

	ctx := waitCtx(t)
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatal(err)
	}
	err := s.Stop(ctx)
	if err == nil || err.Error() != "always: down" {
		t.Fatalf("Stop = %v, want first error", err)
	}
}
