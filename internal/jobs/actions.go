// Package jobs builds job actions and scheduler jobs from configuration.
package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/kballard/go-shellquote"

	"jobsched/internal/config"
	"jobsched/internal/task/engine"
	"jobsched/internal/task/registry"
	"jobsched/internal/task/scheduler"
	"jobsched/internal/task/trigger"
	logx "jobsched/pkg/logx"
)

// maxOutput bounds how much command output is kept for logs and errors.
const maxOutput = 4 << 10

// Builder turns job configs into scheduler jobs.
type Builder struct {
	Log logx.Logger
	// Out receives echo lines. Defaults to logx.Stdout().
	Out io.Writer
	Loc *time.Location

	mu sync.Mutex
}

// Job builds the scheduler job for one config entry.
func (b *Builder) Job(jc config.JobConfig) (scheduler.Job, error) {
	def, err := b.Definition(jc)
	if err != nil {
		return scheduler.Job{}, err
	}
	loc := b.Loc
	if loc == nil {
		loc = time.UTC
	}
	spec, err := trigger.ParseSpec(jc.Schedule, loc)
	if err != nil {
		return scheduler.Job{}, fmt.Errorf("job %s: %w", def.Key, err)
	}
	return scheduler.Job{Def: def, Spec: spec, Paused: jc.Paused}, nil
}

// Definition builds the registry definition (everything but the schedule).
func (b *Builder) Definition(jc config.JobConfig) (registry.Definition, error) {
	key := jc.Key()
	action, err := b.Action(key, jc.Action)
	if err != nil {
		return registry.Definition{}, fmt.Errorf("job %s: %w", key, err)
	}
	return registry.Definition{
		Key:         key,
		Description: jc.Description,
		Action:      action,
		Timeout:     jc.TimeoutDuration(),
		Exclusive:   jc.Exclusive,
	}, nil
}

// Action builds the executable for an action config.
func (b *Builder) Action(key registry.Key, ac config.ActionConfig) (registry.Action, error) {
	log := b.Log.With(logx.String("job", key.String()))
	switch strings.ToLower(strings.TrimSpace(ac.Kind)) {
	case config.ActionEcho:
		msg := ac.Message
		if msg == "" {
			msg = fmt.Sprintf("Job %s is running", key.Name)
		}
		return b.echo(msg), nil
	case config.ActionLog:
		msg := ac.Message
		if msg == "" {
			msg = "job running"
		}
		return func(ctx context.Context) error {
			log.Info(msg)
			return nil
		}, nil
	case config.ActionShell:
		argv, err := shellquote.Split(ac.Command)
		if err != nil {
			return nil, fmt.Errorf("shell command: %w", err)
		}
		if len(argv) == 0 {
			return nil, errors.New("shell command: empty")
		}
		return shell(log, argv, ac.Dir), nil
	default:
		return nil, fmt.Errorf("unknown action kind %q", ac.Kind)
	}
}

func (b *Builder) echo(msg string) registry.Action {
	return func(ctx context.Context) error {
		out := b.Out
		if out == nil {
			out = logx.Stdout()
		}
		// concurrent runs must not interleave within a line
		b.mu.Lock()
		defer b.mu.Unlock()
		_, err := fmt.Fprintln(out, msg)
		return err
	}
}

func shell(log logx.Logger, argv []string, dir string) registry.Action {
	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = dir
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out

		start := time.Now()
		err := cmd.Run()
		output := truncate(strings.TrimSpace(out.String()), maxOutput)
		if err != nil {
			if errors.Is(err, exec.ErrNotFound) {
				return engine.NoRetry(fmt.Errorf("command %q: %w", argv[0], err))
			}
			if ctx.Err() != nil {
				return fmt.Errorf("command %q: %w", argv[0], ctx.Err())
			}
			if output != "" {
				return fmt.Errorf("command %q: %w: %s", argv[0], err, output)
			}
			return fmt.Errorf("command %q: %w", argv[0], err)
		}
		log.Debug("command finished",
			logx.String("cmd", argv[0]),
			logx.Duration("took", time.Since(start)),
			logx.String("output", output),
		)
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
