// Command pergit keeps a git branch and a Perforce depot path in sync.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dontnod/pergit/internal/bridge"
)

// Set through -ldflags at release time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "pergit",
	Short: "Merge-based synchronization between git and Perforce",
	Long: `pergit keeps one git branch and one Perforce depot path in sync.

Each run compares both sides with the last checkpoint (a p4-<changelist>
tag on the branch). New changelists are imported as commits, new commits
are submitted as changelists. When both sides moved, nothing is changed
and the pending work of each side is reported.

Settings come from .pergit.toml in the work tree, PERGIT_* environment
variables and flags, in increasing priority.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (default: .pergit.toml in the work tree)")
	flags.String("branch", "", "Git branch to synchronize")
	flags.String("depot-path", "", "Perforce depot path (//depot/project)")
	flags.String("tag-prefix", "", "Checkpoint tag prefix (default p4)")
	flags.String("work-tree", "", "Git work tree (default: where the depot path is mapped)")
	flags.Int("changelist", 0, "Changelist a new branch starts importing after")
	flags.Bool("strip-comments", false, "Remove # lines from submitted descriptions")
	flags.Bool("auto-submit", false, "Submit without asking for confirmation")
	flags.Bool("revert-opened", true, "Revert files left opened in the depot path before a run")
	flags.Bool("clean", false, "Run p4 clean on the depot path before a run (list .git in P4IGNORE)")
	flags.String("p4-port", "", "Perforce server (P4PORT)")
	flags.String("p4-user", "", "Perforce user (P4USER)")
	flags.String("p4-client", "", "Perforce workspace (P4CLIENT)")
	flags.String("p4-password", "", "Perforce password or ticket (P4PASSWD); prefer the environment or a ticket")
	flags.String("log-file", "", "Also log to this file, rotated by size")
	flags.BoolP("verbose", "v", false, "Log progress and every git/p4 command to stderr")
	flags.String("journal", "", "Run history database (empty keeps the default)")
	flags.Bool("no-journal", false, "Do not record runs in the history database")
	flags.Bool("no-color", false, "Disable colored output")

	rootCmd.AddCommand(&cobra.Command{
		Use:     "version",
		Short:   "Show version information",
		GroupID: "maint",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pergit %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	})
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		// conflicts are reported by the command itself
		if !errors.Is(err, bridge.ErrConflict) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	os.Exit(exitCode(err))
}

// Process exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitConflict = 2
	exitConfig   = 3
	exitApply    = 4
)

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, bridge.ErrConflict):
		return exitConflict
	case errors.Is(err, bridge.ErrConfiguration):
		return exitConfig
	case errors.Is(err, bridge.ErrApply):
		return exitApply
	default:
		return exitFailure
	}
}
