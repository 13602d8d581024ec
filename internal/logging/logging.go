// Package logging builds the component loggers used across pergit.
//
// Every component gets a *log.Logger with a "[component] " prefix. Output
// goes to stderr and, when a log file is configured, to a size-rotated
// file as well.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the log output.
type Options struct {
	// File is the rotated log file; empty logs to stderr only
	File string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Verbose enables the command trace logger
	Verbose bool

	// Stderr overrides the console writer; defaults to os.Stderr
	Stderr io.Writer
}

// Loggers hands out component loggers sharing one output.
type Loggers struct {
	out     io.Writer
	file    *lumberjack.Logger
	verbose bool
}

// New creates the shared output. Close flushes the log file.
func New(opts Options) (*Loggers, error) {
	console := opts.Stderr
	if console == nil {
		console = os.Stderr
	}

	l := &Loggers{out: console, verbose: opts.Verbose}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, err
		}
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		l.out = io.MultiWriter(console, l.file)
	}

	return l, nil
}

// Discard returns loggers that write nowhere.
func Discard() *Loggers {
	return &Loggers{out: io.Discard}
}

// Component returns a logger prefixed with "[name] ".
func (l *Loggers) Component(name string) *log.Logger {
	return log.New(l.out, "["+name+"] ", log.LstdFlags)
}

// Trace returns the logger receiving every git and p4 command line, or
// nil when verbose output is off.
func (l *Loggers) Trace() *log.Logger {
	if !l.verbose {
		return nil
	}
	return log.New(l.out, "[exec] ", log.LstdFlags|log.Lmicroseconds)
}

// Close closes the log file, if any.
func (l *Loggers) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
