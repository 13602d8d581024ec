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

	"github.com/dontnod/pergit/internal/bridge"
	"github.com/dontnod/pergit/internal/dashboard"
	"github.com/dontnod/pergit/internal/vcs"
	"github.com/dontnod/pergit/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:     "watch [branch]",
	GroupID: "sync",
	Short:   "Synchronize continuously",
	Long: `Run a sync on start, whenever the branch ref moves and every poll
interval (watch.poll_interval) to pick up new changelists.

A conflict is reported and watching goes on, so the branch can be fixed
by hand. Any other failure stops the command.

With --dashboard (watch.dashboard), progress is streamed as JSON messages
on ws://<addr>/ws.

Submits are never confirmed interactively in watch mode: set
auto_submit or only pull.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("dashboard", "", "Serve a WebSocket progress feed on this address (host:port)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cmd, args)
	if err != nil {
		return err
	}
	defer a.close()

	unitLogger := a.loggers.Component("unit")
	observer := logObserver(unitLogger)

	var pub *dashboard.Publisher
	if addr := a.cfg.Watch.Dashboard; addr != "" {
		server := dashboard.NewServer(&dashboard.Config{Addr: addr, Logger: a.loggers.Component("dashboard")})
		if err := server.Start(); err != nil {
			return &bridge.ConfigError{Reason: "cannot start dashboard", Err: err}
		}
		defer func() {
			if err := server.Stop(); err != nil {
				a.logger.Printf("Warning: %v", err)
			}
		}()
		fmt.Fprintf(cmd.OutOrStdout(), "Dashboard: ws://%s/ws\n", server.Addr())

		pub = dashboard.NewPublisher(server, a.cfg.Branch, nil)
		publish := pub.Observer()
		observer = func(u bridge.Unit, s bridge.Stage) {
			unitLogger.Printf("%s: %s", u, s)
			publish(u, s)
		}
	}

	// a nil confirm would submit unconditionally
	var confirm bridge.ConfirmFunc
	if !a.cfg.AutoSubmit {
		confirm = declineSubmit
	}

	s, err := a.synchronizer(confirm, observer)
	if err != nil {
		return err
	}

	run := func(ctx context.Context, trigger watch.Trigger) error {
		if pub != nil {
			pub.RunStarted(trigger.String())
		}

		started := time.Now()
		res, err := s.Run(ctx, bridge.RunOptions{})
		a.record(ctx, started, res, false, err)

		if res != nil && (res.Outcome.Kind != bridge.UpToDate || trigger == watch.TriggerStart) {
			if perr := a.printResult(cmd, res, "text"); perr != nil {
				a.logger.Printf("Warning: %v", perr)
			}
		}
		if pub != nil {
			if err != nil && !errors.Is(err, bridge.ErrConflict) {
				pub.RunFailed(err)
			} else if res != nil {
				pub.RunFinished(res, time.Since(started))
			}
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s <-> %s (Ctrl+C to stop)\n", a.cfg.Branch, a.cfg.DepotRoot())

	return watch.Watch(ctx, a.repo.CommonDir(), a.cfg.Branch, watch.Config{
		PollInterval: a.cfg.Watch.PollInterval,
		Debounce:     a.cfg.Watch.Debounce,
		Continue:     func(err error) bool { return errors.Is(err, bridge.ErrConflict) },
		Logger:       a.loggers.Component("watch"),
	}, run)
}

func declineSubmit(context.Context, vcs.Commit, []vcs.FileChange, string) (bool, error) {
	return false, nil
}
