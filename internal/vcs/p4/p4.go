// Package p4 wraps the Perforce command line client.
//
// Commands run with -ztag so their output can be parsed into records.
// Failures come back as *vcs.CommandError whose cause is classified into
// ErrConnect, ErrAuth, ErrFileLocked or ErrSubmitRejected when the server
// message is recognized.
package p4

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/dontnod/pergit/internal/vcs"
)

// Classified Perforce failures.
var (
	// ErrConnect is returned when the server cannot be reached.
	ErrConnect = errors.New("perforce server unreachable")

	// ErrAuth is returned when the user is not logged in or the password is wrong.
	ErrAuth = errors.New("perforce authentication failed")

	// ErrFileLocked is returned when another user holds a lock on a file.
	ErrFileLocked = errors.New("perforce file locked by another user")

	// ErrSubmitRejected is returned when the server refuses a submit
	// (triggers, out of date files, pending resolves).
	ErrSubmitRejected = errors.New("perforce submit rejected")

	// ErrMultipleMappings is returned when a depot path maps to several
	// local locations (overlay or exclusion lines in the client view).
	ErrMultipleMappings = errors.New("depot path has multiple client mappings")

	// ErrNotMapped is returned when a depot path is outside the client view.
	ErrNotMapped = errors.New("depot path not mapped in client")
)

// classifiers maps server messages to sentinels. Checked in order.
var classifiers = []struct {
	err      error
	patterns []string
}{
	{ErrConnect, []string{"connect to server failed", "tcp connect to", "check $p4port"}},
	{ErrAuth, []string{"password (p4passwd) invalid or unset", "session has expired", "please login again", "access for user"}},
	{ErrFileLocked, []string{"exclusive file already opened", "locked by", "can't edit exclusive file"}},
	{ErrSubmitRejected, []string{"submit validation failed", "submit aborted", "must resolve", "out of date files", "merges still pending"}},
}

func classify(output string) error {
	lower := strings.ToLower(output)
	for _, c := range classifiers {
		for _, p := range c.patterns {
			if strings.Contains(lower, p) {
				return c.err
			}
		}
	}
	return nil
}

// Options configures a Client. Empty fields fall back to the p4
// environment (P4PORT, P4USER, P4CLIENT, P4CONFIG ...).
type Options struct {
	Port     string
	User     string
	Client   string
	Password string
	Charset  string

	// Binary is the p4 executable; defaults to "p4"
	Binary string

	// Dir is the directory commands run from; local paths are relative to it
	Dir string

	// Trace receives every executed command when non-nil
	Trace *log.Logger
}

// Client runs p4 commands against one server/workspace.
type Client struct {
	runner *vcs.Runner

	usersMu sync.Mutex
	users   map[string]vcs.Person
}

// New creates a client. It does not contact the server.
func New(opts Options) *Client {
	binary := opts.Binary
	if binary == "" {
		binary = "p4"
	}

	prefix := []string{"-ztag"}
	if opts.Client != "" {
		prefix = append(prefix, "-c", opts.Client)
	}
	if opts.Password != "" {
		prefix = append(prefix, "-P", opts.Password)
	}
	if opts.Port != "" {
		prefix = append(prefix, "-p", opts.Port)
	}
	if opts.User != "" {
		prefix = append(prefix, "-u", opts.User)
	}
	if opts.Charset != "" {
		prefix = append(prefix, "-C", opts.Charset)
	}

	return &Client{
		runner: &vcs.Runner{
			Tool:    vcs.TypePerforce,
			Binary:  binary,
			Dir:     opts.Dir,
			Prefix:  prefix,
			Secrets: []string{opts.Password},
			Trace:   opts.Trace,
		},
		users: make(map[string]vcs.Person),
	}
}

// Name returns the VCS type (p4)
func (c *Client) Name() vcs.Type {
	return vcs.TypePerforce
}

// call describes one p4 invocation.
type call struct {
	args []string

	// files are passed through `-x -` on stdin, one per line
	files []string

	// benign lists messages that make a non-zero exit a success
	benign []string
}

func (c *Client) run(ctx context.Context, cl call) ([]Record, error) {
	inv := vcs.Invocation{Args: cl.args}
	if len(cl.files) > 0 {
		inv.Args = append([]string{"-x", "-"}, cl.args...)
		inv.Stdin = strings.NewReader(strings.Join(cl.files, "\n") + "\n")
	}

	output, err := c.runner.RunWith(ctx, inv)
	if err != nil {
		var cmdErr *vcs.CommandError
		if !errors.As(err, &cmdErr) {
			return nil, err
		}
		if isBenign(cmdErr.Output, cl.benign) {
			return ParseTagged(output), nil
		}
		if kind := classify(cmdErr.Output); kind != nil {
			cmdErr.Err = fmt.Errorf("%w: %w", kind, cmdErr.Err)
		}
		return nil, cmdErr
	}

	return ParseTagged(output), nil
}

// isBenign reports whether every non-empty line of output is one of the
// expected warnings.
func isBenign(output string, benign []string) bool {
	if len(benign) == 0 {
		return false
	}

	lines := vcs.ParseLines([]byte(output))
	if len(lines) == 0 {
		return false
	}

	for _, line := range lines {
		matched := false
		for _, b := range benign {
			if strings.Contains(line, b) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Info describes the connection as seen by the server.
type Info struct {
	User          string
	Client        string
	ClientRoot    string
	ServerAddress string
}

// Info runs `p4 info`. It is the cheapest way to check the server is
// reachable and the credentials are valid.
func (c *Client) Info(ctx context.Context) (Info, error) {
	records, err := c.run(ctx, call{args: []string{"info"}})
	if err != nil {
		return Info{}, err
	}
	if len(records) == 0 {
		return Info{}, fmt.Errorf("p4 info returned no data")
	}

	r := records[0]
	return Info{
		User:          r["userName"],
		Client:        r["clientName"],
		ClientRoot:    r["clientRoot"],
		ServerAddress: r["serverAddress"],
	}, nil
}
