package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"jobsched/internal/app"
	"jobsched/internal/config"
	"jobsched/internal/console"
	"jobsched/internal/jobs"
	"jobsched/internal/task/scheduler"
	"jobsched/internal/task/trigger"
	logx "jobsched/pkg/logx"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "jobsched",
		Short:         "Single-process job scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./jobsched.yaml", "path to config file (json or yaml)")
	root.AddCommand(newRunCmd(&cfgPath), newListCmd(&cfgPath), newCheckCmd(&cfgPath))
	return root
}

func newRunCmd(cfgPath *string) *cobra.Command {
	var (
		interactive bool
		noWatch     bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *cfgPath, interactive, !noWatch)
		},
	}
	cmd.Flags().BoolVar(&interactive, "console", true, "read operator commands from stdin; quit or EOF stops the scheduler")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "disable config hot-reload")
	return cmd
}

func run(parent context.Context, cfgPath string, interactive, watch bool) error {
	a, err := app.New(cfgPath, app.WithWatch(watch))
	if err != nil {
		return err
	}
	if err := a.Start(parent); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// first reason wins
	reasons := make(chan app.StopReason, 1)
	stopWith := func(r app.StopReason) {
		select {
		case reasons <- r:
		default:
		}
	}
	g, gctx := errgroup.WithContext(parent)
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGTERM {
				stopWith(app.StopSIGTERM)
			} else {
				stopWith(app.StopSIGINT)
			}
		case <-a.Done():
			stopWith(app.StopFatalError)
		case <-gctx.Done():
		}
		return errStop
	})
	if interactive {
		g.Go(func() error {
			c := console.New(a.Scheduler(), os.Stdin, os.Stdout, a.Logger().With(logx.String("comp", "console")))
			if err := c.Run(gctx); err != nil {
				return err
			}
			stopWith(app.StopConsole)
			return errStop
		})
	}
	err = g.Wait()

	reason := app.StopUnknown
	select {
	case reason = <-reasons:
	default:
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	fatal := a.Err()
	_ = a.Stop(stopCtx, reason)

	if fatal != nil {
		return fatal
	}
	if err != nil && !errors.Is(err, errStop) {
		return err
	}
	return nil
}

var errStop = errors.New("stop requested")

func newListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show configured jobs and their next fire times",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(*cfgPath).Load()
			if err != nil {
				return err
			}
			loc, err := cfg.Scheduler.Location()
			if err != nil {
				return err
			}
			b := &jobs.Builder{Log: logx.Nop(), Loc: loc}
			now := time.Now().In(loc)
			infos := make([]scheduler.JobInfo, 0, len(cfg.Jobs))
			for _, jc := range cfg.Jobs {
				job, err := b.Job(jc)
				if err != nil {
					return err
				}
				info := scheduler.JobInfo{
					Key:         job.Def.Key,
					Description: job.Def.Description,
					Schedule:    job.Spec.String(),
					Exclusive:   job.Def.Exclusive,
					State:       trigger.StateNormal,
				}
				if job.Paused {
					info.State = trigger.StatePaused
				} else {
					info.NextFire = job.Spec.Next(now)
				}
				infos = append(infos, info)
			}
			return console.RenderJobs(cmd.OutOrStdout(), infos, now)
		},
	}
}

func newCheckCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(*cfgPath).Load()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d jobs, storage %s)\n", *cfgPath, len(cfg.Jobs), cfg.Storage.DriverName())
			return nil
		},
	}
}
