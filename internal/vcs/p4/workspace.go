package p4

import (
	"context"
	"fmt"
	"strings"
)

// Mapping is one line of `p4 where`.
type Mapping struct {
	DepotFile  string
	ClientFile string
	Path       string
	Unmap      bool
}

// Where maps depot or local paths through the client view.
func (c *Client) Where(ctx context.Context, paths []string) ([]Mapping, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	records, err := c.run(ctx, call{
		args:   []string{"where"},
		files:  paths,
		benign: []string{"not in client view"},
	})
	if err != nil {
		return nil, fmt.Errorf("p4 where failed: %w", err)
	}

	mappings := make([]Mapping, 0, len(records))
	for _, r := range records {
		if r["depotFile"] == "" {
			continue
		}
		_, unmap := r["unmap"]
		mappings = append(mappings, Mapping{
			DepotFile:  r["depotFile"],
			ClientFile: r["clientFile"],
			Path:       r["path"],
			Unmap:      unmap,
		})
	}
	return mappings, nil
}

// LocalPaths maps depot files to local paths. Files outside the client
// view are left out of the result.
func (c *Client) LocalPaths(ctx context.Context, depotFiles []string) (map[string]string, error) {
	mappings, err := c.Where(ctx, depotFiles)
	if err != nil {
		return nil, err
	}

	local := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if m.Unmap {
			delete(local, m.DepotFile)
			continue
		}
		local[m.DepotFile] = m.Path
	}
	return local, nil
}

// WorkspaceRoot returns the local directory depotPath maps to. The
// mapping must be a single plain view line.
func (c *Client) WorkspaceRoot(ctx context.Context, depotPath string) (string, error) {
	mappings, err := c.Where(ctx, []string{strings.TrimSuffix(depotPath, "/...") + "/..."})
	if err != nil {
		return "", err
	}

	switch {
	case len(mappings) == 0:
		return "", fmt.Errorf("%w: %s", ErrNotMapped, depotPath)
	case len(mappings) > 1:
		return "", fmt.Errorf("%w: %s (unmapped or overlay view lines are not supported)", ErrMultipleMappings, depotPath)
	case mappings[0].Unmap:
		return "", fmt.Errorf("%w: %s", ErrNotMapped, depotPath)
	}

	root := mappings[0].Path
	root = strings.TrimSuffix(root, "...")
	root = strings.TrimRight(root, `/\`)
	return root, nil
}

// Sync materializes depotPath at changelist number into the workspace.
func (c *Client) Sync(ctx context.Context, depotPath string, number int) error {
	spec := fmt.Sprintf("%s/...@%d", depotPath, number)
	_, err := c.run(ctx, call{
		args:   []string{"sync", spec},
		benign: []string{"file(s) up-to-date"},
	})
	if err != nil {
		return fmt.Errorf("failed to sync %s: %w", spec, err)
	}
	return nil
}

// Edit opens local files for edit in the default changelist.
func (c *Client) Edit(ctx context.Context, paths []string) error {
	return c.open(ctx, "edit", nil, paths)
}

// Add opens new local files for add. Wildcard characters in file names
// are escaped by p4.
func (c *Client) Add(ctx context.Context, paths []string) error {
	return c.open(ctx, "add", []string{"-f"}, paths)
}

// Delete opens local files for delete and removes them from disk.
func (c *Client) Delete(ctx context.Context, paths []string) error {
	return c.open(ctx, "delete", nil, paths)
}

func (c *Client) open(ctx context.Context, action string, flags, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	args := append([]string{action}, flags...)
	if _, err := c.run(ctx, call{args: args, files: paths}); err != nil {
		return fmt.Errorf("p4 %s failed: %w", action, err)
	}
	return nil
}

// Revert reverts opened files, restoring their have revision on disk.
func (c *Client) Revert(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	_, err := c.run(ctx, call{
		args:   []string{"revert"},
		files:  paths,
		benign: []string{"not opened on this client"},
	})
	if err != nil {
		return fmt.Errorf("p4 revert failed: %w", err)
	}
	return nil
}

// Clean restores the workspace under depotPath to the have revisions:
// modified files are refreshed, missing ones restored and files unknown to
// the depot deleted. Files matched by P4IGNORE are kept.
func (c *Client) Clean(ctx context.Context, depotPath string) error {
	_, err := c.run(ctx, call{
		args:   []string{"clean", strings.TrimSuffix(depotPath, "/...") + "/..."},
		benign: []string{"no file(s) to reconcile"},
	})
	if err != nil {
		return fmt.Errorf("p4 clean failed: %w", err)
	}
	return nil
}

// Opened lists the depot files opened under depotPath.
func (c *Client) Opened(ctx context.Context, depotPath string) ([]string, error) {
	records, err := c.run(ctx, call{
		args:   []string{"opened", strings.TrimSuffix(depotPath, "/...") + "/..."},
		benign: []string{"not opened on this client", "not opened anywhere"},
	})
	if err != nil {
		return nil, fmt.Errorf("p4 opened failed: %w", err)
	}

	var files []string
	for _, r := range records {
		if f := r["depotFile"]; f != "" {
			files = append(files, f)
		}
	}
	return files, nil
}

// Submit submits the files opened under depotPath in the default
// changelist and returns the number of the new changelist.
func (c *Client) Submit(ctx context.Context, depotPath, description string) (int, error) {
	records, err := c.run(ctx, call{
		args: []string{"submit", "-d", description, strings.TrimSuffix(depotPath, "/...") + "/..."},
	})
	if err != nil {
		return 0, fmt.Errorf("p4 submit failed: %w", err)
	}

	for _, r := range records {
		if n := r.Int("submittedChange"); n > 0 {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: no submitted change number in p4 output", ErrSubmitRejected)
}
