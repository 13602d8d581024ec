package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"
)

// Trigger says why a run started.
type Trigger int

const (
	// TriggerStart is the run performed when the loop starts.
	TriggerStart Trigger = iota
	// TriggerRef is a run after the branch ref moved.
	TriggerRef
	// TriggerPoll is a periodic run looking for new changelists.
	TriggerPoll
)

func (t Trigger) String() string {
	switch t {
	case TriggerStart:
		return "start"
	case TriggerRef:
		return "ref"
	case TriggerPoll:
		return "poll"
	default:
		return "unknown"
	}
}

// RunFunc performs one synchronization.
type RunFunc func(ctx context.Context, trigger Trigger) error

// Config holds configuration for the loop.
type Config struct {
	// PollInterval is how often Perforce is checked for new changelists
	PollInterval time.Duration

	// Debounce is how long the ref must stay still before a run starts.
	// git updates refs several times during a rebase or a merge.
	Debounce time.Duration

	// Continue reports whether the loop keeps going after a failed run.
	// When nil, every failure stops the loop.
	Continue func(error) bool

	// Logger for loop activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Minute,
		Debounce:     2 * time.Second,
		Logger:       log.New(io.Discard, "", 0),
	}
}

// Loop runs synchronizations one at a time, on start, after ref changes
// and on every poll tick.
type Loop struct {
	config Config
	run    RunFunc
}

// NewLoop creates a loop. Zero config fields take their default.
func NewLoop(config Config, run RunFunc) (*Loop, error) {
	if run == nil {
		return nil, fmt.Errorf("run function cannot be nil")
	}

	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.Debounce <= 0 {
		config.Debounce = defaults.Debounce
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Loop{config: config, run: run}, nil
}

// Run blocks until ctx is cancelled or a run fails with an error that
// Continue does not accept. A nil events channel disables ref watching.
//
// Ref events that arrive while a run is in progress are dropped: they are
// usually caused by the run itself.
func (l *Loop) Run(ctx context.Context, events <-chan RefEvent, watchErrs <-chan error) error {
	logger := l.config.Logger

	if err := l.once(ctx, TriggerStart); err != nil {
		return err
	}

	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	var debounce *time.Timer
	var settled <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Println("Shutdown signal received")
			return nil

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			logger.Printf("Ref %s: %s", event.Op, event.Path)
			if debounce == nil {
				debounce = time.NewTimer(l.config.Debounce)
			} else {
				debounce.Reset(l.config.Debounce)
			}
			settled = debounce.C

		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			logger.Printf("Watcher error: %v", err)

		case <-settled:
			settled = nil
			if err := l.once(ctx, TriggerRef); err != nil {
				return err
			}
			drain(events)
			ticker.Reset(l.config.PollInterval)

		case <-ticker.C:
			if err := l.once(ctx, TriggerPoll); err != nil {
				return err
			}
			drain(events)
		}
	}
}

func (l *Loop) once(ctx context.Context, trigger Trigger) error {
	start := time.Now()
	err := l.run(ctx, trigger)
	switch {
	case err == nil:
		l.config.Logger.Printf("Run (%s) finished in %v", trigger, time.Since(start).Round(time.Millisecond))
		return nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return nil
	case l.config.Continue != nil && l.config.Continue(err):
		l.config.Logger.Printf("Run (%s) failed, still watching: %v", trigger, err)
		return nil
	default:
		return fmt.Errorf("%s run failed: %w", trigger, err)
	}
}

func drain(events <-chan RefEvent) {
	if events == nil {
		return
	}
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Watch runs the loop with a RefWatcher on branch in gitDir.
func Watch(ctx context.Context, gitDir, branch string, config Config, run RunFunc) error {
	loop, err := NewLoop(config, run)
	if err != nil {
		return err
	}

	rw, err := NewRefWatcher(gitDir, branch)
	if err != nil {
		return err
	}
	if err := rw.Start(); err != nil {
		return err
	}
	defer func() {
		if err := rw.Stop(); err != nil {
			loop.config.Logger.Printf("Error stopping watcher: %v", err)
		}
	}()

	loop.config.Logger.Printf("Watching %s (poll every %v)", rw.refFile, loop.config.PollInterval)
	return loop.Run(ctx, rw.Events(), rw.Errors())
}
