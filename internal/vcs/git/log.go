package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dontnod/pergit/internal/vcs"
)

// FirstParentRange lists the first-parent chain of tip down to, but
// excluding, base. Hashes are returned oldest first. An empty base walks
// to the root commit.
func (r *Repo) FirstParentRange(ctx context.Context, base, tip string) ([]string, error) {
	args := []string{"rev-list", "--first-parent", "--reverse", tip}
	if base != "" {
		args = append(args, "^"+base)
	}

	output, err := r.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("git rev-list failed: %w", err)
	}

	return vcs.ParseLines(output), nil
}

// commitFormat separates fields with NUL; the message comes last since it
// may contain anything but NUL.
const commitFormat = "--format=%H%x00%P%x00%an%x00%ae%x00%at%x00%B"

// CommitInfo returns the metadata of a single commit.
func (r *Repo) CommitInfo(ctx context.Context, hash string) (vcs.Commit, error) {
	output, err := r.run(ctx, "log", "-1", commitFormat, hash, "--")
	if err != nil {
		return vcs.Commit{}, fmt.Errorf("failed to read commit %s: %w", hash, err)
	}

	return parseCommit(output)
}

func parseCommit(output []byte) (vcs.Commit, error) {
	parts := strings.SplitN(string(output), "\x00", 6)
	if len(parts) != 6 {
		return vcs.Commit{}, fmt.Errorf("unexpected git log output: got %d fields, expected 6", len(parts))
	}

	unix, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return vcs.Commit{}, fmt.Errorf("invalid commit timestamp %q: %w", parts[4], err)
	}

	return vcs.Commit{
		Hash:    parts[0],
		Parents: strings.Fields(parts[1]),
		Author:  vcs.Person{Name: parts[2], Email: parts[3]},
		Time:    time.Unix(unix, 0),
		Message: strings.TrimRight(parts[5], "\n"),
	}, nil
}

// ChangedFiles returns the delta between commit and its first parent.
// Renames are reported as a deletion plus an addition.
func (r *Repo) ChangedFiles(ctx context.Context, commit vcs.Commit) ([]vcs.FileChange, error) {
	args := []string{"diff-tree", "-r", "-z", "--no-renames", "--no-commit-id", "--name-status"}
	if len(commit.Parents) == 0 {
		args = append(args, "--root", commit.Hash)
	} else {
		args = append(args, commit.Parents[0], commit.Hash)
	}

	output, err := r.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("git diff-tree failed: %w", err)
	}

	return parseNameStatus(output)
}

// parseNameStatus parses `--name-status -z` output: status NUL path NUL ...
func parseNameStatus(output []byte) ([]vcs.FileChange, error) {
	fields := strings.Split(strings.TrimRight(string(output), "\x00"), "\x00")
	if len(fields) == 1 && fields[0] == "" {
		return nil, nil
	}
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("unexpected git diff-tree output: %d fields", len(fields))
	}

	changes := make([]vcs.FileChange, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		status, path := fields[i], fields[i+1]
		if status == "" {
			return nil, fmt.Errorf("empty status for %s", path)
		}

		var action vcs.FileAction
		switch status[0] {
		case 'A':
			action = vcs.ActionAdded
		case 'D':
			action = vcs.ActionDeleted
		case 'M', 'T':
			action = vcs.ActionModified
		default:
			return nil, fmt.Errorf("unsupported change status %q for %s", status, path)
		}

		changes = append(changes, vcs.FileChange{Path: path, Action: action})
	}

	return changes, nil
}
