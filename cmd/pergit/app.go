package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dontnod/pergit/internal/bridge"
	"github.com/dontnod/pergit/internal/config"
	"github.com/dontnod/pergit/internal/journal"
	"github.com/dontnod/pergit/internal/logging"
	"github.com/dontnod/pergit/internal/ui"
	"github.com/dontnod/pergit/internal/vcs/git"
	"github.com/dontnod/pergit/internal/vcs/p4"
)

// app holds what a synchronizing command needs.
type app struct {
	cfg     *config.Config
	loggers *logging.Loggers
	logger  *log.Logger
	repo    *git.Repo
	p4      *p4.Client
	journal *journal.Journal
}

// loadConfig reads the settings for cmd. The branch positional argument,
// when given, overrides the configured branch.
func loadConfig(cmd *cobra.Command, args []string, validate bool) (*config.Config, error) {
	opts := config.LoadOptions{
		Flags:          cmd.Flags(),
		SkipValidation: !validate,
	}

	opts.ConfigPath, _ = cmd.Flags().GetString("config")
	if opts.ConfigPath == "" {
		opts.SearchDirs = searchDirs(cmd)
	}

	if len(args) > 0 {
		opts.Overrides = map[string]any{"branch": args[0]}
	}

	cfg, err := config.Load(opts)
	if err != nil {
		return nil, &bridge.ConfigError{Reason: "cannot load settings", Err: err}
	}
	return cfg, nil
}

// searchDirs lists where .pergit.toml is looked for: the --work-tree,
// the enclosing git work tree and the current directory.
func searchDirs(cmd *cobra.Command) []string {
	var dirs []string
	if wt, _ := cmd.Flags().GetString("work-tree"); wt != "" {
		dirs = append(dirs, wt)
	}
	if cwd, err := os.Getwd(); err == nil {
		if repo, err := git.New(cwd, git.Options{}); err == nil {
			dirs = append(dirs, repo.Root())
		}
		dirs = append(dirs, cwd)
	}
	return dirs
}

// newApp loads the configuration, sets up logging and connects to both
// sides. The caller must call close.
func newApp(ctx context.Context, cmd *cobra.Command, args []string) (*app, error) {
	noColor, _ := cmd.Flags().GetBool("no-color")
	ui.Init(cmd.OutOrStdout(), noColor)

	cfg, err := loadConfig(cmd, args, true)
	if err != nil {
		return nil, err
	}

	var console io.Writer = io.Discard
	if cfg.Log.Verbose {
		console = cmd.ErrOrStderr()
	}
	loggers, err := logging.New(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Verbose:    cfg.Log.Verbose,
		Stderr:     console,
	})
	if err != nil {
		return nil, &bridge.ConfigError{Reason: "cannot open log file", Err: err}
	}

	a := &app{cfg: cfg, loggers: loggers, logger: loggers.Component("pergit")}

	a.p4 = p4.New(p4.Options{
		Port:     cfg.P4.Port,
		User:     cfg.P4.User,
		Client:   cfg.P4.Client,
		Password: cfg.P4.Password,
		Charset:  cfg.P4.Charset,
		Dir:      cfg.WorkTree,
		Trace:    loggers.Trace(),
	})

	info, err := a.p4.Info(ctx)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("cannot reach perforce: %w", err)
	}
	a.logger.Printf("Connected to %s as %s (client %s)", info.ServerAddress, info.User, info.Client)

	workTree := cfg.WorkTree
	if workTree == "" {
		workTree, err = a.p4.WorkspaceRoot(ctx, cfg.DepotRoot())
		if err != nil {
			a.close()
			return nil, &bridge.ConfigError{Reason: "cannot locate the work tree of " + cfg.DepotRoot(), Err: err}
		}
	}

	a.repo, err = git.New(workTree, git.Options{Trace: loggers.Trace()})
	if err != nil {
		a.close()
		return nil, &bridge.ConfigError{Reason: "no git repository at " + workTree, Err: err}
	}

	if noJournal, _ := cmd.Flags().GetBool("no-journal"); !noJournal {
		a.openJournal()
	}

	return a, nil
}

// openJournal opens the run history. The journal is informational: a
// failure is logged and the run goes on without it.
func (a *app) openJournal() {
	path := journalPath(a.cfg.Journal.Path, a.repo)
	if path == "" {
		return
	}

	j, err := journal.Open(path)
	if err != nil {
		a.logger.Printf("Warning: run history disabled: %v", err)
		return
	}
	a.journal = j
}

// journalPath resolves the configured journal path against the work tree.
// The default lives in the git directory, which is not always .git.
func journalPath(configured string, repo *git.Repo) string {
	switch {
	case configured == "":
		return ""
	case configured == config.DefaultJournalPath:
		return filepath.Join(repo.GitDir(), "pergit", "journal.db")
	case filepath.IsAbs(configured):
		return configured
	default:
		return filepath.Join(repo.Root(), configured)
	}
}

func (a *app) close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Printf("Warning: failed to close journal: %v", err)
		}
	}
	if err := a.loggers.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
	}
}

// synchronizer builds the engine. A nil confirm submits without asking.
func (a *app) synchronizer(confirm bridge.ConfirmFunc, observer bridge.Observer) (*bridge.Synchronizer, error) {
	return bridge.New(a.repo, a.p4, bridge.Options{
		Branch:          a.cfg.Branch,
		DepotPath:       a.cfg.DepotRoot(),
		TagPrefix:       a.cfg.TagPrefix,
		StartChangelist: a.cfg.StartChangelist,
		StripComments:   a.cfg.StripComments,
		RevertOpened:    a.cfg.RevertOpened,
		CleanWorkspace:  a.cfg.CleanWorkspace,
		Confirm:         confirm,
		Observer:        observer,
		Logger:          a.loggers.Component("sync"),
	})
}

// record stores a run in the journal.
func (a *app) record(ctx context.Context, started time.Time, res *bridge.Result, dryRun bool, runErr error) {
	if a.journal == nil {
		return
	}

	run := journal.Run{
		StartedAt:  started,
		FinishedAt: time.Now(),
		Branch:     a.cfg.Branch,
		DepotPath:  a.cfg.DepotRoot(),
		DryRun:     dryRun,
	}
	if res != nil {
		run.Outcome = res.Outcome.Kind.String()
		run.BaseChangelist = res.Base.Changelist
		run.BaseCommit = res.Base.Commit
		run.PendingChangelists = len(res.Outcome.Changelists)
		run.PendingCommits = len(res.Outcome.Commits)

		direction := bridge.Pull
		if res.Outcome.Kind == bridge.PushOnly {
			direction = bridge.Push
		}
		for _, cp := range res.Applied {
			run.Units = append(run.Units, journal.Unit{
				Direction:  direction.String(),
				Changelist: cp.Changelist,
				Commit:     cp.Commit,
				Tag:        cp.Tag,
			})
		}
	}
	if runErr != nil && !errors.Is(runErr, bridge.ErrConflict) {
		run.Error = runErr.Error()
	}

	if _, err := a.journal.Record(context.WithoutCancel(ctx), run); err != nil {
		a.logger.Printf("Warning: failed to record run: %v", err)
	}
}

// printResult writes res to stdout in the requested format.
func (a *app) printResult(cmd *cobra.Command, res *bridge.Result, output string) error {
	rep := ui.NewReport(res, a.cfg.DepotRoot())
	switch strings.ToLower(output) {
	case "yaml":
		return ui.WriteYAML(cmd.OutOrStdout(), rep)
	case "", "text":
		ui.RenderReport(cmd.OutOrStdout(), rep, time.Now())
		return nil
	default:
		return &bridge.ConfigError{Reason: fmt.Sprintf("unknown output format %q (text or yaml)", output)}
	}
}
