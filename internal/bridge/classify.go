package bridge

import "github.com/dontnod/pergit/internal/vcs"

// Kind is the state of a branch relative to the depot.
type Kind int

const (
	// UpToDate means neither side moved since the checkpoint.
	UpToDate Kind = iota

	// PullOnly means only Perforce has new changelists.
	PullOnly

	// PushOnly means only git has new commits.
	PushOnly

	// Conflict means both sides moved.
	Conflict
)

func (k Kind) String() string {
	switch k {
	case UpToDate:
		return "up-to-date"
	case PullOnly:
		return "pull"
	case PushOnly:
		return "push"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in reports.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Outcome is the classified state with both pending sets.
type Outcome struct {
	Kind        Kind
	Changelists []vcs.Changelist
	Commits     []vcs.Commit
}

// Classify decides what a run has to do. A unit with no file changes
// still counts as pending.
func Classify(changelists []vcs.Changelist, commits []vcs.Commit) Outcome {
	o := Outcome{Changelists: changelists, Commits: commits}
	switch {
	case len(changelists) == 0 && len(commits) == 0:
		o.Kind = UpToDate
	case len(commits) == 0:
		o.Kind = PullOnly
	case len(changelists) == 0:
		o.Kind = PushOnly
	default:
		o.Kind = Conflict
	}
	return o
}
