package bridge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/dontnod/pergit/internal/vcs"
	"github.com/dontnod/pergit/internal/vcs/git"
	"github.com/dontnod/pergit/internal/vcs/p4"
)

const (
	testDepot  = "//depot/proj"
	testBranch = "main"
)

var testRoot = filepath.Join(string(filepath.Separator), "work", "proj")

// fakeGit is an in-memory commit graph with branches and tags. The index
// is modelled as the commit whose tree it holds plus a flag for paths
// staged on top of it.
type fakeGit struct {
	root     string
	head     string
	detached string
	refs     map[string]string
	tags     map[string]string
	commits  map[string]vcs.Commit
	files    map[string][]vcs.FileChange

	index  string
	staged bool

	versionErr error
	addErr     error
	commitErr  error

	added     [][]string
	restored  [][]string
	resets    []string
	committed []vcs.CommitOptions
	tagged    []string
	nextHash  int
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		root:    testRoot,
		head:    testBranch,
		refs:    map[string]string{},
		tags:    map[string]string{},
		commits: map[string]vcs.Commit{},
		files:   map[string][]vcs.FileChange{},
	}
}

// commit appends a commit to the current branch. Extra parents make it a
// merge.
func (g *fakeGit) commit(hash string, files []vcs.FileChange, extraParents ...string) string {
	var parents []string
	if tip, ok := g.refs[g.head]; ok {
		parents = append(parents, tip)
	}
	parents = append(parents, extraParents...)

	g.commits[hash] = vcs.Commit{
		Hash:    hash,
		Parents: parents,
		Author:  vcs.Person{Name: "Dev", Email: "dev@example.com"},
		Time:    time.Unix(1700000000+int64(len(g.commits)), 0),
		Message: "commit " + hash,
	}
	g.files[hash] = files
	g.refs[g.head] = hash
	g.index = hash
	return hash
}

// checkout moves HEAD to branch along with the index, like git switch.
func (g *fakeGit) checkout(branch string) {
	g.head, g.detached = branch, ""
	g.index, g.staged = g.refs[branch], false
}

// headCommit is the commit HEAD resolves to, "" on an unborn branch.
func (g *fakeGit) headCommit() string {
	if g.head == "" {
		return g.detached
	}
	return g.refs[g.head]
}

// sideCommit creates a commit off parent without moving any branch.
func (g *fakeGit) sideCommit(hash, parent string) string {
	g.commits[hash] = vcs.Commit{Hash: hash, Parents: []string{parent}, Message: "side " + hash}
	return hash
}

// mutations counts every change made through the GitRepo interface.
func (g *fakeGit) mutations() int {
	return len(g.added) + len(g.restored) + len(g.committed) + len(g.tagged)
}

func (g *fakeGit) Root() string { return g.root }

func (g *fakeGit) CheckVersion(ctx context.Context) error { return g.versionErr }

func (g *fakeGit) ResolveRef(ctx context.Context, ref string) (string, error) {
	var (
		hash string
		ok   bool
	)
	switch {
	case ref == "HEAD":
		hash = g.headCommit()
		ok = hash != ""
	case strings.HasPrefix(ref, "refs/heads/"):
		hash, ok = g.refs[strings.TrimPrefix(ref, "refs/heads/")]
	case strings.HasPrefix(ref, "refs/tags/"):
		hash, ok = g.tags[strings.TrimPrefix(ref, "refs/tags/")]
	default:
		_, ok = g.commits[ref]
		hash = ref
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", vcs.ErrRefNotFound, ref)
	}
	return hash, nil
}

func (g *fakeGit) CurrentBranch(ctx context.Context) (string, error) { return g.head, nil }

func (g *fakeGit) ValidateBranchName(ctx context.Context, name string) error {
	if strings.Contains(name, "..") || strings.ContainsAny(name, " ~^:") {
		return fmt.Errorf("invalid branch name %q", name)
	}
	return nil
}

// SetHead moves HEAD only; the index keeps the tree of the previous one.
func (g *fakeGit) SetHead(ctx context.Context, branch string) error {
	g.head, g.detached = branch, ""
	return nil
}

func (g *fakeGit) DetachHead(ctx context.Context, commit string) error {
	g.head, g.detached = "", commit
	return nil
}

func (g *fakeGit) HasStagedChanges(ctx context.Context) (bool, error) {
	return g.staged || g.index != g.headCommit(), nil
}

func (g *fakeGit) ResetIndex(ctx context.Context, commit string) error {
	g.resets = append(g.resets, commit)
	g.index, g.staged = commit, false
	return nil
}

func (g *fakeGit) ListTags(ctx context.Context, f git.TagFilter) ([]vcs.Tag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var tags []vcs.Tag
	for name, hash := range g.tags {
		if f.Prefix != "" && !strings.HasPrefix(name, f.Prefix+"-") {
			continue
		}
		if f.MergedInto != "" && !g.reachable(hash, f.MergedInto) {
			continue
		}
		if f.NotMergedInto != "" && g.reachable(hash, f.NotMergedInto) {
			continue
		}
		if f.PointsAt != "" && hash != f.PointsAt {
			continue
		}
		tags = append(tags, vcs.Tag{Name: name, Commit: hash})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	return tags, nil
}

func (g *fakeGit) CreateTag(ctx context.Context, name, commit string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := g.tags[name]; ok {
		return fmt.Errorf("%w: tag %s", vcs.ErrRefExists, name)
	}
	g.tags[name] = commit
	g.tagged = append(g.tagged, name)
	return nil
}

// reachable reports whether ancestor is reachable from descendant
// through any parent.
func (g *fakeGit) reachable(ancestor, descendant string) bool {
	queue := []string{descendant}
	seen := map[string]bool{}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if h == ancestor {
			return true
		}
		if seen[h] {
			continue
		}
		seen[h] = true
		queue = append(queue, g.commits[h].Parents...)
	}
	return false
}

func (g *fakeGit) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	return g.reachable(ancestor, descendant), nil
}

func (g *fakeGit) FirstParentRange(ctx context.Context, base, tip string) ([]string, error) {
	var hashes []string
	for h := tip; h != ""; {
		if base != "" && g.reachable(h, base) {
			break
		}
		hashes = append(hashes, h)
		parents := g.commits[h].Parents
		if len(parents) == 0 {
			break
		}
		h = parents[0]
	}
	slices.Reverse(hashes)
	return hashes, nil
}

func (g *fakeGit) CommitInfo(ctx context.Context, hash string) (vcs.Commit, error) {
	c, ok := g.commits[hash]
	if !ok {
		return vcs.Commit{}, fmt.Errorf("%w: %s", vcs.ErrRefNotFound, hash)
	}
	return c, nil
}

func (g *fakeGit) ChangedFiles(ctx context.Context, commit vcs.Commit) ([]vcs.FileChange, error) {
	return g.files[commit.Hash], nil
}

func (g *fakeGit) Add(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	g.added = append(g.added, paths)
	g.staged = true
	if g.addErr != nil {
		return g.addErr
	}
	return nil
}

func (g *fakeGit) Commit(ctx context.Context, opts vcs.CommitOptions) (string, error) {
	if g.commitErr != nil {
		return "", g.commitErr
	}
	g.nextHash++
	hash := fmt.Sprintf("d%d", g.nextHash)

	var parents []string
	if tip, ok := g.refs[g.head]; ok {
		parents = []string{tip}
	}
	g.commits[hash] = vcs.Commit{Hash: hash, Parents: parents, Author: opts.Author, Time: opts.Date, Message: opts.Message}
	g.refs[g.head] = hash
	g.index, g.staged = hash, false
	g.committed = append(g.committed, opts)
	return hash, nil
}

func (g *fakeGit) RestoreFiles(ctx context.Context, commit string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	g.restored = append(g.restored, paths)
	return nil
}

// fakeP4 is an in-memory depot with a single client mapping testDepot to
// testRoot.
type fakeP4 struct {
	root        string
	changes     []vcs.Changelist
	users       map[string]vcs.Person
	unmapped    map[string]bool
	opened      []string
	rootErr     error
	cleanErr    error
	submitErr   error
	submitAfter int

	// onSync runs after every sync, standing in for the files it writes
	onSync func(number int) error

	described []int
	synced    []int
	edited    []string
	addedF    []string
	deleted   []string
	reverted  []string
	cleaned   []string
	submitted []string
}

func newFakeP4() *fakeP4 {
	return &fakeP4{
		root:     testRoot,
		users:    map[string]vcs.Person{},
		unmapped: map[string]bool{},
	}
}

// submit adds a changelist to the depot as if another user submitted it.
func (p *fakeP4) submit(n int, user string, files ...string) {
	cl := vcs.Changelist{
		Number:      n,
		Time:        time.Unix(1600000000+int64(n), 0),
		User:        user,
		Description: fmt.Sprintf("change %d", n),
	}
	for _, f := range files {
		cl.Files = append(cl.Files, vcs.FileRevision{DepotPath: testDepot + "/" + f, Action: "edit", Revision: 1})
	}
	p.changes = append(p.changes, cl)
}

func (p *fakeP4) mutations() int {
	return len(p.synced) + len(p.edited) + len(p.addedF) + len(p.deleted) + len(p.submitted)
}

func (p *fakeP4) Changes(ctx context.Context, depotPath string, after int) ([]p4.ChangeSummary, error) {
	var out []p4.ChangeSummary
	for _, cl := range p.changes {
		if cl.Number > after {
			out = append(out, p4.ChangeSummary{Number: cl.Number, Time: cl.Time, User: cl.User, Description: cl.Description})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (p *fakeP4) Describe(ctx context.Context, number int, depotPath string) (vcs.Changelist, error) {
	p.described = append(p.described, number)
	for _, cl := range p.changes {
		if cl.Number == number {
			return cl, nil
		}
	}
	return vcs.Changelist{}, fmt.Errorf("no change %d", number)
}

func (p *fakeP4) User(ctx context.Context, name string) (vcs.Person, error) {
	if u, ok := p.users[name]; ok {
		return u, nil
	}
	return vcs.Person{Name: name}, nil
}

func (p *fakeP4) WorkspaceRoot(ctx context.Context, depotPath string) (string, error) {
	if p.rootErr != nil {
		return "", p.rootErr
	}
	return p.root, nil
}

func (p *fakeP4) LocalPaths(ctx context.Context, depotFiles []string) (map[string]string, error) {
	local := map[string]string{}
	for _, f := range depotFiles {
		if p.unmapped[f] {
			continue
		}
		rel := strings.TrimPrefix(f, testDepot+"/")
		local[f] = filepath.Join(p.root, filepath.FromSlash(rel))
	}
	return local, nil
}

func (p *fakeP4) Sync(ctx context.Context, depotPath string, number int) error {
	p.synced = append(p.synced, number)
	if p.onSync != nil {
		return p.onSync(number)
	}
	return nil
}

func (p *fakeP4) Edit(ctx context.Context, paths []string) error {
	p.edited = append(p.edited, paths...)
	p.opened = append(p.opened, paths...)
	return nil
}

func (p *fakeP4) Add(ctx context.Context, paths []string) error {
	p.addedF = append(p.addedF, paths...)
	p.opened = append(p.opened, paths...)
	return nil
}

func (p *fakeP4) Delete(ctx context.Context, paths []string) error {
	p.deleted = append(p.deleted, paths...)
	p.opened = append(p.opened, paths...)
	return nil
}

func (p *fakeP4) Revert(ctx context.Context, paths []string) error {
	p.reverted = append(p.reverted, paths...)
	p.opened = slices.DeleteFunc(p.opened, func(f string) bool { return slices.Contains(paths, f) })
	return nil
}

func (p *fakeP4) Opened(ctx context.Context, depotPath string) ([]string, error) {
	return slices.Clone(p.opened), nil
}

func (p *fakeP4) Clean(ctx context.Context, depotPath string) error {
	p.cleaned = append(p.cleaned, depotPath)
	return p.cleanErr
}

func (p *fakeP4) Submit(ctx context.Context, depotPath, description string) (int, error) {
	if p.submitErr != nil && len(p.submitted) >= p.submitAfter {
		return 0, p.submitErr
	}
	if len(p.opened) == 0 {
		return 0, errors.New("no files to submit")
	}

	n := 1
	for _, cl := range p.changes {
		n = max(n, cl.Number+1)
	}
	p.changes = append(p.changes, vcs.Changelist{Number: n, Description: description})
	p.submitted = append(p.submitted, description)
	p.opened = nil
	return n, nil
}

func modified(paths ...string) []vcs.FileChange {
	var changes []vcs.FileChange
	for _, p := range paths {
		changes = append(changes, vcs.FileChange{Path: p, Action: vcs.ActionModified})
	}
	return changes
}
