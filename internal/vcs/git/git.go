// Package git wraps the git command line for the synchronization engine.
//
// Every command runs with core.fileMode=false, since the work tree is
// shared with a Perforce workspace that flips the write bit on files it
// opens.
package git

import (
	"context"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/dontnod/pergit/internal/vcs"
)

// MinVersion is the oldest git release providing restore and
// --pathspec-from-file.
const MinVersion = "v2.25.0"

// Options configures a Repo.
type Options struct {
	// Binary is the git executable; defaults to "git"
	Binary string

	// Trace receives every executed command when non-nil
	Trace *log.Logger
}

// Repo is a git repository whose work tree is the synchronized directory.
type Repo struct {
	// repoRoot is the repository root directory path
	repoRoot string

	// vcsDir is the .git directory path
	vcsDir string

	// commonDir holds refs shared by all worktrees; same as vcsDir outside a linked worktree
	commonDir string

	runner *vcs.Runner
}

// New opens the git repository containing path.
func New(path string, opts Options) (*Repo, error) {
	binary := opts.Binary
	if binary == "" {
		binary = "git"
	}

	r := &Repo{
		runner: &vcs.Runner{
			Tool:   vcs.TypeGit,
			Binary: binary,
			Prefix: []string{"-c", "core.fileMode=false"},
			Trace:  opts.Trace,
		},
	}

	if err := r.detect(path); err != nil {
		return nil, err
	}
	r.runner.Dir = r.repoRoot

	return r, nil
}

// Name returns the VCS type (git)
func (r *Repo) Name() vcs.Type {
	return vcs.TypeGit
}

// Root returns the repository root directory path
func (r *Repo) Root() string {
	return r.repoRoot
}

// GitDir returns the .git directory path
func (r *Repo) GitDir() string {
	return r.vcsDir
}

// CommonDir returns the directory holding refs/ and packed-refs.
func (r *Repo) CommonDir() string {
	return r.commonDir
}

var versionRe = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// Version returns the git version in semver form (v2.39.0).
func (r *Repo) Version(ctx context.Context) (string, error) {
	output, err := r.run(ctx, "--version")
	if err != nil {
		return "", fmt.Errorf("failed to get git version: %w", err)
	}

	return parseVersion(vcs.TrimOutput(output))
}

// parseVersion turns "git version 2.39.0.windows.1" into "v2.39.0".
func parseVersion(s string) (string, error) {
	m := versionRe.FindStringSubmatch(s)
	if m == nil {
		return "", fmt.Errorf("unexpected git version output %q", s)
	}

	patch := m[3]
	if patch == "" {
		patch = "0"
	}
	v := fmt.Sprintf("v%s.%s.%s", m[1], m[2], patch)
	if !semver.IsValid(v) {
		return "", fmt.Errorf("unexpected git version output %q", s)
	}
	return v, nil
}

// CheckVersion fails with vcs.ErrUnsupportedVersion when git is older
// than MinVersion.
func (r *Repo) CheckVersion(ctx context.Context) error {
	v, err := r.Version(ctx)
	if err != nil {
		return err
	}

	if semver.Compare(v, MinVersion) < 0 {
		return fmt.Errorf("%w: git %s, need %s or newer", vcs.ErrUnsupportedVersion, v, MinVersion)
	}
	return nil
}

func (r *Repo) run(ctx context.Context, args ...string) ([]byte, error) {
	return r.runner.Run(ctx, args...)
}

func (r *Repo) runWith(ctx context.Context, inv vcs.Invocation) ([]byte, error) {
	return r.runner.RunWith(ctx, inv)
}

// pathspecInput feeds paths to --pathspec-from-file=- with NUL separators,
// which keeps long changelists clear of the argument length limit.
func pathspecInput(paths []string) io.Reader {
	return strings.NewReader(strings.Join(paths, "\x00"))
}
