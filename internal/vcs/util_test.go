package vcs

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestParseLines(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected []string
	}{
		{
			name:     "empty input",
			input:    []byte(""),
			expected: nil,
		},
		{
			name:     "single line",
			input:    []byte("line1"),
			expected: []string{"line1"},
		},
		{
			name:     "lines with whitespace",
			input:    []byte("  line1  \n  line2  \n  line3  "),
			expected: []string{"line1", "line2", "line3"},
		},
		{
			name:     "empty lines filtered",
			input:    []byte("line1\n\nline2\n\n\nline3"),
			expected: []string{"line1", "line2", "line3"},
		},
		{
			name:     "trailing newline",
			input:    []byte("line1\nline2\n"),
			expected: []string{"line1", "line2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseLines(tt.input)

			if len(result) != len(tt.expected) {
				t.Errorf("Expected %d lines, got %d", len(tt.expected), len(result))
				return
			}

			for i, line := range result {
				if line != tt.expected[i] {
					t.Errorf("Line %d: expected '%s', got '%s'", i, tt.expected[i], line)
				}
			}
		})
	}
}

func TestFirstLine(t *testing.T) {
	tests := map[string]string{
		"first\nsecond\nthird":  "first",
		"\n\n  Fix the build  \n": "Fix the build",
		"":                       "",
		" \n \n":                 "",
	}
	for text, want := range tests {
		if got := FirstLine(text); got != want {
			t.Errorf("FirstLine(%q) = %q, want %q", text, got, want)
		}
	}
}

func TestWithin(t *testing.T) {
	tests := []struct {
		name   string
		base   string
		target string
		rel    string
		ok     bool
	}{
		{"same directory", "/base", "/base", ".", true},
		{"child directory", "/base", "/base/child", "child", true},
		{"nested child", "/base", "/base/child/nested", "child/nested", true},
		{"dotted child name", "/base", "/base/..hidden", "..hidden", true},
		{"unclean target", "/base", "/base/a/../b/", "b", true},
		{"parent directory", "/base/child", "/base", "", false},
		{"sibling directory", "/base/dir1", "/base/dir2", "", false},
		{"completely different", "/base", "/other", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel, ok := Within(tt.base, tt.target)
			if ok != tt.ok || rel != tt.rel {
				t.Errorf("Within(%q, %q) = %q, %v, want %q, %v", tt.base, tt.target, rel, ok, tt.rel, tt.ok)
			}
		})
	}
}

func TestRunnerRun(t *testing.T) {
	r := &Runner{Tool: TypeGit, Binary: "sh", Dir: "/tmp"}

	output, err := r.Run(context.Background(), "-c", "echo test")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if result := strings.TrimSpace(string(output)); result != "test" {
		t.Errorf("Expected 'test', got '%s'", result)
	}
}

func TestRunnerCommandError(t *testing.T) {
	r := &Runner{Tool: TypePerforce, Binary: "sh", Dir: "/tmp"}

	_, err := r.Run(context.Background(), "-c", "echo boom >&2; exit 3")
	if err == nil {
		t.Fatal("Expected error from failing command")
	}

	if !errors.Is(err, ErrCommandFailed) {
		t.Errorf("Expected ErrCommandFailed, got %v", err)
	}

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("Expected *CommandError, got %T", err)
	}
	if cmdErr.Tool != TypePerforce {
		t.Errorf("Tool = %v, want %v", cmdErr.Tool, TypePerforce)
	}
	if !strings.Contains(cmdErr.Output, "boom") {
		t.Errorf("Output = %q, want stderr captured", cmdErr.Output)
	}
	if code := ExitCode(err); code != 3 {
		t.Errorf("ExitCode() = %d, want 3", code)
	}
}

func TestRunnerMasksSecrets(t *testing.T) {
	var trace bytes.Buffer
	r := &Runner{
		Tool:    TypePerforce,
		Binary:  "sh",
		Dir:     "/tmp",
		Secrets: []string{"hunter2"},
		Trace:   log.New(&trace, "", 0),
	}

	_, err := r.Run(context.Background(), "-c", "echo hunter2 >&2; exit 1", "hunter2")
	if err == nil {
		t.Fatal("Expected error from failing command")
	}

	if strings.Contains(err.Error(), "hunter2") {
		t.Errorf("secret leaked in error: %v", err)
	}
	if strings.Contains(trace.String(), "hunter2") {
		t.Errorf("secret leaked in trace: %s", trace.String())
	}
}

func TestRunnerMissingBinary(t *testing.T) {
	r := &Runner{Tool: TypeGit, Binary: "pergit-no-such-binary", Dir: "/tmp"}

	_, err := r.Run(context.Background(), "status")
	if !errors.Is(err, ErrVCSNotAvailable) {
		t.Errorf("Expected ErrVCSNotAvailable, got %v", err)
	}
	if !IsFatal(err) {
		t.Error("IsFatal() = false for missing binary, want true")
	}
}

func TestRunnerCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	r := &Runner{Tool: TypeGit, Binary: "sleep", Dir: "/tmp"}
	_, err := r.Run(ctx, "2")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestExitCode(t *testing.T) {
	if code := ExitCode(nil); code != 0 {
		t.Errorf("Expected exit code 0 for nil error, got %d", code)
	}

	err := exec.Command("sh", "-c", "exit 42").Run()
	if code := ExitCode(err); code != 42 {
		t.Errorf("Expected exit code 42, got %d", code)
	}

	if code := ExitCode(errors.New("not a process")); code != -1 {
		t.Errorf("Expected -1 for a non-exit error, got %d", code)
	}
}

func TestPersonString(t *testing.T) {
	p := Person{Name: "Jane Doe", Email: "jane@example.com"}
	if got := p.String(); got != "Jane Doe <jane@example.com>" {
		t.Errorf("String() = %q", got)
	}

	if got := (Person{Name: "jdoe"}).String(); got != "jdoe" {
		t.Errorf("String() without email = %q", got)
	}
}
