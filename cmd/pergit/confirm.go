package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/dontnod/pergit/internal/bridge"
	"github.com/dontnod/pergit/internal/ui"
	"github.com/dontnod/pergit/internal/vcs"
)

// maxListedFiles caps the file list shown in the submit prompt.
const maxListedFiles = 15

// confirmSubmit asks on the terminal before each submit. Without a
// terminal every submit is declined; use auto_submit for unattended runs.
func confirmSubmit(in *os.File, logger *log.Logger) bridge.ConfirmFunc {
	return func(ctx context.Context, c vcs.Commit, files []vcs.FileChange, description string) (bool, error) {
		if !ui.IsTerminal(in) {
			logger.Printf("Not submitting %s: no terminal to confirm on and auto_submit is off", c.ShortHash())
			return false, nil
		}

		submit := false
		form := huh.NewForm(huh.NewGroup(
			huh.NewNote().
				Title(fmt.Sprintf("Commit %s by %s", c.ShortHash(), c.Author)).
				Description(describeFiles(files)+"\n\n"+description),
			huh.NewConfirm().
				Title("Submit this changelist?").
				Affirmative("Submit").
				Negative("Stop").
				Value(&submit),
		))

		if err := form.RunWithContext(ctx); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return false, nil
			}
			return false, err
		}
		return submit, nil
	}
}

func describeFiles(files []vcs.FileChange) string {
	var b strings.Builder
	for i, f := range files {
		if i == maxListedFiles {
			fmt.Fprintf(&b, "... and %d more", len(files)-maxListedFiles)
			break
		}
		fmt.Fprintf(&b, "%-6s %s\n", f.Action, f.Path)
	}
	return strings.TrimRight(b.String(), "\n")
}
