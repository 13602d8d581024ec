package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
)

// Runner executes one backing tool (git or p4) in a fixed directory.
// Both wrappers build their commands through a Runner so that failures
// carry the same *CommandError shape and the trace logger sees every call.
type Runner struct {
	// Tool is the VCS the binary belongs to
	Tool Type

	// Binary is the executable name or path
	Binary string

	// Dir is the working directory of every command
	Dir string

	// Prefix is prepended to every argument list (global options)
	Prefix []string

	// Env is appended to the current process environment
	Env []string

	// Secrets are replaced by "****" in traces and errors
	Secrets []string

	// Trace receives one line per executed command; nil disables tracing
	Trace *log.Logger
}

// Invocation is a single command run through a Runner.
type Invocation struct {
	Args  []string
	Env   []string
	Stdin io.Reader
}

// Run executes args and returns stdout. Stderr is attached to the error.
func (r *Runner) Run(ctx context.Context, args ...string) ([]byte, error) {
	return r.RunWith(ctx, Invocation{Args: args})
}

// RunWith executes an invocation with extra environment or stdin.
func (r *Runner) RunWith(ctx context.Context, inv Invocation) ([]byte, error) {
	full := make([]string, 0, len(r.Prefix)+len(inv.Args))
	full = append(full, r.Prefix...)
	full = append(full, inv.Args...)

	if r.Trace != nil {
		r.Trace.Printf("Running %s %s", r.Binary, strings.Join(r.mask(full), " "))
	}

	cmd := exec.CommandContext(ctx, r.Binary, full...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 || len(inv.Env) > 0 {
		cmd.Env = append(append(os.Environ(), r.Env...), inv.Env...)
	}
	cmd.Stdin = inv.Stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if r.Trace != nil && stderr.Len() > 0 {
		for _, line := range ParseLines(stderr.Bytes()) {
			r.Trace.Printf(" ! %s", r.maskString(line))
		}
	}
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = fmt.Errorf("%w: %s", ErrVCSNotAvailable, r.Binary)
		} else if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		output := stderr.String()
		if output == "" {
			output = stdout.String()
		}
		return stdout.Bytes(), &CommandError{
			Tool:   r.Tool,
			Args:   r.mask(inv.Args),
			Output: r.maskString(output),
			Err:    err,
		}
	}

	return stdout.Bytes(), nil
}

func (r *Runner) mask(args []string) []string {
	if len(r.Secrets) == 0 {
		return args
	}
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.maskString(a)
	}
	return out
}

func (r *Runner) maskString(s string) string {
	for _, secret := range r.Secrets {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, "****")
		}
	}
	return s
}
