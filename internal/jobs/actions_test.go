package jobs

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"jobsched/internal/config"
	"jobsched/internal/task/engine"
	"jobsched/internal/task/registry"
	logx "jobsched/pkg/logx"
)

func TestEchoDefaultMessage(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	b := &Builder{Log: logx.Nop(), Out: &buf}
	act, err := b.Action(registry.NewKey("jobA", ""), config.ActionConfig{Kind: config.ActionEcho})
	if err != nil {
		t.Fatal(err)
	}
	if err := act(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "Job jobA is running\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestJobFromConfig(t *testing.T) {
	t.Parallel()
	b := &Builder{Log: logx.Nop(), Out: &bytes.Buffer{}}
	j, err := b.Job(config.JobConfig{
		Name:      "report",
		Group:     "nightly",
		Schedule:  "every:5m",
		Action:    config.ActionConfig{Kind: config.ActionLog, Message: "tick"},
		Paused:    true,
		Exclusive: true,
		Timeout:   "10s",
	})
	if err != nil {
		t.Fatal(err)
	}
	if j.Def.Key != registry.NewKey("report", "nightly") || !j.Paused || !j.Def.Exclusive || j.Def.Timeout != 10*time.Second {
		t.Fatalf("job = %+v", j)
	}
	if j.Spec.String() != "every 5m0s" {
		t.Fatalf("spec = %s", j.Spec)
	}
	if err := j.Def.Action(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestShellAction(t *testing.T) {
	t.Parallel()
	b := &Builder{Log: logx.Nop()}
	key := registry.NewKey("sh", "")
	ctx := context.Background()

	ok, err := b.Action(key, config.ActionConfig{Kind: config.ActionShell, Command: `echo "hello world"`})
	if err != nil {
		t.Fatal(err)
	}
	if err := ok(ctx); err != nil {
		t.Fatalf("echo: %v", err)
	}

	fail, _ := b.Action(key, config.ActionConfig{Kind: config.ActionShell, Command: "sh -c 'echo boom; exit 3'"})
	err = fail(ctx)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("failing command err = %v", err)
	}
	if engine.IsNoRetry(err) {
		t.Fatal("exit failure should stay retryable")
	}

	missing, _ := b.Action(key, config.ActionConfig{Kind: config.ActionShell, Command: "definitely-not-a-command-xyz"})
	if err := missing(ctx); !engine.IsNoRetry(err) {
		t.Fatalf("missing binary err = %v, want no-retry", err)
	}
}

func TestShellHonoursContext(t *testing.T) {
	t.Parallel()
	b := &Builder{Log: logx.Nop()}
	act, err := b.Action(registry.NewKey("slow", ""), config.ActionConfig{Kind: config.ActionShell, Command: "sleep 5"})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := act(ctx); err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("command was not killed on context end")
	}
}

func TestActionErrors(t *testing.T) {
	t.Parallel()
	b := &Builder{Log: logx.Nop()}
	key := registry.NewKey("x", "")
	bad := []config.ActionConfig{
		{Kind: "mail"},
		{Kind: config.ActionShell, Command: `echo "unterminated`},
		{Kind: config.ActionShell, Command: "   "},
	}
	for _, ac := range bad {
		if _, err := b.Action(key, ac); err == nil {
			t.Errorf("%+v: expected error", ac)
		}
	}
	if _, err := b.Job(config.JobConfig{Name: "x", Schedule: "nope", Action: config.ActionConfig{Kind: config.ActionLog}}); err == nil {
		t.Error("bad schedule accepted")
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc…"},
		{"héllo", 2, "h…"},
		{"日本語", 4, "日…"},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want || !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
