package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Stderr: &buf})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	l.Component("sync").Printf("Imported changelist %d", 101)

	if !strings.HasPrefix(buf.String(), "[sync] ") {
		t.Errorf("missing prefix: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "Imported changelist 101") {
		t.Errorf("missing message: %q", buf.String())
	}
}

func TestTraceOnlyWhenVerbose(t *testing.T) {
	var buf bytes.Buffer

	quiet, _ := New(Options{Stderr: &buf})
	if quiet.Trace() != nil {
		t.Error("Trace() should be nil when not verbose")
	}

	verbose, _ := New(Options{Stderr: &buf, Verbose: true})
	trace := verbose.Trace()
	if trace == nil {
		t.Fatal("Trace() returned nil in verbose mode")
	}
	trace.Printf("Running git status")
	if !strings.Contains(buf.String(), "[exec] ") {
		t.Errorf("missing trace prefix: %q", buf.String())
	}
}

func TestLogFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "pergit.log")

	l, err := New(Options{Stderr: &buf, File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	l.Component("watch").Print("started")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "[watch] ") || !strings.Contains(buf.String(), "started") {
		t.Errorf("file = %q, console = %q", data, buf.String())
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Component("x").Print("nothing")
	if l.Trace() != nil {
		t.Error("Discard().Trace() should be nil")
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
