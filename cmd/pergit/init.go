package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dontnod/pergit/internal/bridge"
	"github.com/dontnod/pergit/internal/config"
	"github.com/dontnod/pergit/internal/ui"
	"github.com/dontnod/pergit/internal/vcs/git"
)

var initCmd = &cobra.Command{
	Use:     "init [branch]",
	GroupID: "maint",
	Short:   "Write a .pergit.toml in the work tree",
	Long: `Write the current settings (flags, environment, existing file) to
.pergit.toml at the root of the git work tree so later runs need no flags.

The Perforce password is never written.

Example:
  pergit init main --depot-path //depot/proj --p4-client jdoe-proj`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	noColor, _ := cmd.Flags().GetBool("no-color")
	ui.Init(cmd.OutOrStdout(), noColor)

	cfg, err := loadConfig(cmd, args, false)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return &bridge.ConfigError{Reason: "incomplete settings", Err: err}
	}

	root := cfg.WorkTree
	if root == "" {
		root = "."
	}
	repo, err := git.New(root, git.Options{})
	if err != nil {
		return &bridge.ConfigError{Reason: "init must run inside the git work tree", Err: err}
	}

	path := filepath.Join(repo.Root(), config.FileName)
	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(path); err == nil && !force {
		return &bridge.ConfigError{Reason: path + " already exists (use --force to overwrite)"}
	}

	if err := config.Write(path, cfg); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", ui.RenderPass("✓"), path)
	if cfg.P4.Password != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s The p4 password was not saved; use p4 login or P4PASSWD\n", ui.RenderWarn("⚠"))
	}
	return nil
}
