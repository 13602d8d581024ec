package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dontnod/pergit/internal/bridge"
)

var syncCmd = &cobra.Command{
	Use:     "sync [branch]",
	GroupID: "sync",
	Short:   "Synchronize the branch with the depot path",
	Long: `Run one synchronization.

  - Only Perforce moved: each new changelist becomes a commit on the
    branch, tagged p4-<changelist>.
  - Only git moved: each commit of the first-parent history since the
    checkpoint is submitted as a changelist and tagged.
  - Both moved: nothing is changed, the pending work is reported and the
    command exits with status 2.

Exit status: 0 success, 2 conflict, 3 configuration error, 4 a unit
failed to apply (earlier units stay applied), 1 anything else.

Examples:
  pergit sync
  pergit sync release --depot-path //depot/proj/release
  pergit sync --dry-run --output yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		return runSync(cmd, args, dryRun)
	},
}

var statusCmd = &cobra.Command{
	Use:     "status [branch]",
	GroupID: "sync",
	Short:   "Show what a sync would do",
	Long: `Classify the branch against the depot path without changing
anything. Same as sync --dry-run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, args, true)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{syncCmd, statusCmd} {
		cmd.Flags().StringP("output", "o", "text", "Output format: text or yaml")
		cmd.Flags().Bool("bootstrap", false, "Accept a branch without checkpoint: its whole history is pending")
	}
	syncCmd.Flags().BoolP("dry-run", "n", false, "Classify only, change nothing")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}

func runSync(cmd *cobra.Command, args []string, dryRun bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cmd, args)
	if err != nil {
		return err
	}
	defer a.close()

	var confirm bridge.ConfirmFunc
	if !a.cfg.AutoSubmit {
		confirm = confirmSubmit(os.Stdin, a.logger)
	}

	s, err := a.synchronizer(confirm, logObserver(a.loggers.Component("unit")))
	if err != nil {
		return err
	}

	bootstrap, _ := cmd.Flags().GetBool("bootstrap")
	output, _ := cmd.Flags().GetString("output")

	started := time.Now()
	res, runErr := s.Run(ctx, bridge.RunOptions{DryRun: dryRun, Bootstrap: bootstrap})
	a.record(ctx, started, res, dryRun, runErr)

	if res != nil {
		if err := a.printResult(cmd, res, output); err != nil {
			return errors.Join(runErr, err)
		}
	}
	return runErr
}

// logObserver logs unit stage transitions.
func logObserver(logger *log.Logger) bridge.Observer {
	return func(u bridge.Unit, s bridge.Stage) {
		logger.Printf("%s: %s", u, s)
	}
}
