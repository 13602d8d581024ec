package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/dontnod/pergit/internal/bridge"
	"github.com/dontnod/pergit/internal/journal"
	"github.com/dontnod/pergit/internal/ui"
	"github.com/dontnod/pergit/internal/vcs/git"
)

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: "maint",
	Short:   "List past runs",
	Long: `List the runs recorded in the history database, newest first.

--since and --prune-before accept a date (2026-03-01), a duration back
from now (36h) or plain English ("last monday", "3 days ago").

Examples:
  pergit history --since yesterday
  pergit history --branch main --limit 5 -o yaml
  pergit history --prune-before "30 days ago"`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().String("since", "", "Only runs started after this time")
	historyCmd.Flags().Int("limit", 20, "Maximum number of runs (0 for all)")
	historyCmd.Flags().String("prune-before", "", "Delete runs started before this time")
	historyCmd.Flags().StringP("output", "o", "text", "Output format: text or yaml")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	now := time.Now()

	noColor, _ := cmd.Flags().GetBool("no-color")
	ui.Init(cmd.OutOrStdout(), noColor)

	cfg, err := loadConfig(cmd, nil, false)
	if err != nil {
		return err
	}

	root := cfg.WorkTree
	if root == "" {
		root = "."
	}
	repo, err := git.New(root, git.Options{})
	if err != nil {
		return &bridge.ConfigError{Reason: "history needs the git work tree", Err: err}
	}

	path := journalPath(cfg.Journal.Path, repo)
	if path == "" {
		return &bridge.ConfigError{Reason: "the run history is disabled (journal.path is empty)"}
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderMuted("No runs recorded"))
		return nil
	}

	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()

	if spec, _ := cmd.Flags().GetString("prune-before"); spec != "" {
		cutoff, err := parseSince(spec, now)
		if err != nil {
			return &bridge.ConfigError{Reason: "bad --prune-before", Err: err}
		}
		n, err := j.Prune(ctx, cutoff)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %d run(s) started before %s\n",
			ui.RenderPass("✓"), n, cutoff.Format("2006-01-02 15:04"))
		return nil
	}

	q := journal.Query{Branch: cfg.Branch}
	q.Limit, _ = cmd.Flags().GetInt("limit")
	if spec, _ := cmd.Flags().GetString("since"); spec != "" {
		if q.Since, err = parseSince(spec, now); err != nil {
			return &bridge.ConfigError{Reason: "bad --since", Err: err}
		}
	}

	runs, err := j.Runs(ctx, q)
	if err != nil {
		return err
	}

	output, _ := cmd.Flags().GetString("output")
	switch strings.ToLower(output) {
	case "yaml":
		return ui.WriteYAML(cmd.OutOrStdout(), ui.NewHistory(runs))
	case "", "text":
		ui.RenderHistory(cmd.OutOrStdout(), runs, now)
		return nil
	default:
		return &bridge.ConfigError{Reason: fmt.Sprintf("unknown output format %q (text or yaml)", output)}
	}
}

// timeParser understands English expressions such as "last monday".
var timeParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseSince turns a date, a duration or an English expression into a
// point in time before now.
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)

	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t, nil
		}
	}

	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			d = -d
		}
		return now.Add(-d), nil
	}

	r, err := timeParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("cannot parse %q as a time", s)
	}
	return r.Time, nil
}
