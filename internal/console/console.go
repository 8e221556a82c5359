// Package console is a line-oriented operator interface to the scheduler.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/pterm/pterm"

	"jobsched/internal/task/registry"
	"jobsched/internal/task/scheduler"
	"jobsched/internal/task/trigger"
	logx "jobsched/pkg/logx"
)

// ErrQuit is returned by Exec for the quit command.
var ErrQuit = errors.New("quit")

// Controller is the scheduler surface the console drives.
type Controller interface {
	List(ctx context.Context) ([]scheduler.JobInfo, error)
	Start(ctx context.Context) error
	Standby(ctx context.Context) error
	FireNow(ctx context.Context, key registry.Key) error
	Pause(ctx context.Context, key registry.Key) error
	Resume(ctx context.Context, key registry.Key) error
	Reset(ctx context.Context, key registry.Key) error
	TriggerState(ctx context.Context, key registry.Key) (trigger.State, error)
	Stats(ctx context.Context) (scheduler.Stats, error)
}

type command struct {
	usage string
	help  string
	// job commands take "<name> [group]" or "<group.name>"
	job bool
	run func(ctx context.Context, c *Console, key registry.Key) error
}

var commands = map[string]command{
	"list": {usage: "list", help: "show jobs with their state and next fire time", run: func(ctx context.Context, c *Console, _ registry.Key) error {
		jobs, err := c.ctl.List(ctx)
		if err != nil {
			return err
		}
		return RenderJobs(c.out, jobs, c.now())
	}},
	"start": {usage: "start", help: "switch the scheduler to RUNNING", run: func(ctx context.Context, c *Console, _ registry.Key) error {
		if err := c.ctl.Start(ctx); err != nil {
			return err
		}
		c.ok("scheduler started")
		return nil
	}},
	"standby": {usage: "standby", help: "stop dispatching scheduled fires", run: func(ctx context.Context, c *Console, _ registry.Key) error {
		if err := c.ctl.Standby(ctx); err != nil {
			return err
		}
		c.ok("scheduler in standby")
		return nil
	}},
	"fire": {usage: "fire <name> [group]", help: "run a job once now", job: true, run: func(ctx context.Context, c *Console, k registry.Key) error {
		if err := c.ctl.FireNow(ctx, k); err != nil {
			return err
		}
		c.ok("fired " + k.String())
		return nil
	}},
	"pause": {usage: "pause <name> [group]", help: "pause a job's trigger", job: true, run: func(ctx context.Context, c *Console, k registry.Key) error {
		if err := c.ctl.Pause(ctx, k); err != nil {
			return err
		}
		c.ok("paused " + k.String())
		return nil
	}},
	"resume": {usage: "resume <name> [group]", help: "resume a paused job", job: true, run: func(ctx context.Context, c *Console, k registry.Key) error {
		if err := c.ctl.Resume(ctx, k); err != nil {
			return err
		}
		c.ok("resumed " + k.String())
		return nil
	}},
	"reset": {usage: "reset <name> [group]", help: "clear a job's ERROR state", job: true, run: func(ctx context.Context, c *Console, k registry.Key) error {
		if err := c.ctl.Reset(ctx, k); err != nil {
			return err
		}
		c.ok("reset " + k.String())
		return nil
	}},
	"state": {usage: "state <name> [group]", help: "print a job's trigger state", job: true, run: func(ctx context.Context, c *Console, k registry.Key) error {
		st, err := c.ctl.TriggerState(ctx, k)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s %s\n", k, st)
		return nil
	}},
	"stats": {usage: "stats", help: "print scheduler counters", run: func(ctx context.Context, c *Console, _ registry.Key) error {
		st, err := c.ctl.Stats(ctx)
		if err != nil {
			return err
		}
		return renderStats(c.out, st, c.now())
	}},
}

// Console reads commands from in and writes replies to out.
type Console struct {
	ctl Controller
	in  io.Reader
	out io.Writer
	log logx.Logger
	now func() time.Time
}

func New(ctl Controller, in io.Reader, out io.Writer, log logx.Logger) *Console {
	return &Console{ctl: ctl, in: in, out: out, log: log, now: time.Now}
}

// Run executes lines from in until ctx ends, input closes or quit is entered.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	c.prompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			err := c.Exec(ctx, line)
			if errors.Is(err, ErrQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintln(c.out, pterm.Error.Sprint(err.Error()))
				c.log.Debug("console command failed", logx.String("line", line), logx.Err(err))
			}
			c.prompt()
		}
	}
}

func (c *Console) prompt() { fmt.Fprint(c.out, "jobsched> ") }

// Exec runs one command line.
func (c *Console) Exec(ctx context.Context, line string) error {
	args, err := shellquote.Split(line)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if len(args) == 0 {
		return nil
	}
	name := strings.ToLower(args[0])
	switch name {
	case "quit", "exit":
		return ErrQuit
	case "help", "?":
		c.help()
		return nil
	}
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", args[0])
	}
	var key registry.Key
	if cmd.job {
		key, err = jobKey(args[1:])
		if err != nil {
			return fmt.Errorf("usage: %s", cmd.usage)
		}
	} else if len(args) > 1 {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	return cmd.run(ctx, c, key)
}

func jobKey(args []string) (registry.Key, error) {
	switch len(args) {
	case 1:
		return registry.ParseKey(args[0]), nil
	case 2:
		return registry.NewKey(args[0], args[1]), nil
	default:
		return registry.Key{}, errors.New("job name required")
	}
}

func (c *Console) ok(msg string) { fmt.Fprintln(c.out, pterm.Success.Sprint(msg)) }

func (c *Console) help() {
	names := []string{"list", "start", "standby", "fire", "pause", "resume", "reset", "state", "stats"}
	data := pterm.TableData{{"Command", "Description"}}
	for _, n := range names {
		data = append(data, []string{commands[n].usage, commands[n].help})
	}
	data = append(data, []string{"help", "show this help"}, []string{"quit", "leave the console and shut down"})
	s, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return
	}
	fmt.Fprintln(c.out, s)
}
