// Package watch re-runs synchronization when the branch moves or when
// Perforce may have new changelists.
//
// Git side changes are detected with fsnotify on the branch ref file (and
// packed-refs); Perforce has no push notification so it is polled.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of ref update.
type EventOp int

const (
	// OpUpdate indicates the ref file was written or replaced.
	OpUpdate EventOp = iota
	// OpDelete indicates the ref file was removed (branch deleted or packed).
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// RefEvent reports a change of the watched branch ref.
type RefEvent struct {
	// Path is the ref file that changed
	Path string
	Op   EventOp
}

// RefWatcher watches one branch of a git repository.
// It uses fsnotify for cross-platform file system event monitoring.
type RefWatcher struct {
	watcher *fsnotify.Watcher
	events  chan RefEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	refFile    string
	packedRefs string
}

// NewRefWatcher creates a watcher for refs/heads/<branch> in gitDir.
// The watcher must be started with Start() before it will emit events.
func NewRefWatcher(gitDir, branch string) (*RefWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	gitDir, err = filepath.Abs(gitDir)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}

	return &RefWatcher{
		watcher:    watcher,
		events:     make(chan RefEvent, 100),
		errors:     make(chan error, 10),
		done:       make(chan struct{}),
		refFile:    filepath.Join(gitDir, "refs", "heads", filepath.FromSlash(branch)),
		packedRefs: filepath.Join(gitDir, "packed-refs"),
	}, nil
}

// Start begins watching. The directory holding the ref file is created
// if the branch does not exist yet, so the first commit is seen.
func (rw *RefWatcher) Start() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.running {
		return fmt.Errorf("watcher already running")
	}

	refDir := filepath.Dir(rw.refFile)
	if err := os.MkdirAll(refDir, 0755); err != nil {
		return fmt.Errorf("failed to create ref directory %s: %w", refDir, err)
	}

	if err := rw.watcher.Add(refDir); err != nil {
		return fmt.Errorf("failed to watch ref directory %s: %w", refDir, err)
	}

	gitDir := filepath.Dir(rw.packedRefs)
	if err := rw.watcher.Add(gitDir); err != nil {
		_ = rw.watcher.Remove(refDir)
		return fmt.Errorf("failed to watch git directory %s: %w", gitDir, err)
	}

	rw.running = true
	rw.wg.Add(1)
	go rw.processEvents()

	return nil
}

// Stop stops watching and closes the Events and Errors channels.
// It blocks until the event processing goroutine has exited.
func (rw *RefWatcher) Stop() error {
	rw.mu.Lock()
	if !rw.running {
		rw.mu.Unlock()
		return nil
	}
	rw.running = false
	rw.mu.Unlock()

	close(rw.done)

	if err := rw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	rw.wg.Wait()

	close(rw.events)
	close(rw.errors)

	return nil
}

// Events returns the channel that emits RefEvent notifications.
func (rw *RefWatcher) Events() <-chan RefEvent {
	return rw.events
}

// Errors returns the channel that emits watcher errors.
func (rw *RefWatcher) Errors() <-chan error {
	return rw.errors
}

// IsRunning returns true if the watcher is currently running.
func (rw *RefWatcher) IsRunning() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.running
}

func (rw *RefWatcher) processEvents() {
	defer rw.wg.Done()

	for {
		select {
		case <-rw.done:
			return

		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}

			if refEvent, ok := rw.convertEvent(event); ok {
				select {
				case rw.events <- refEvent:
				case <-rw.done:
					return
				}
			}

		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case rw.errors <- err:
			case <-rw.done:
				return
			}
		}
	}
}

// convertEvent keeps events on the ref file and packed-refs. Lock files
// are ignored; git renames them over the ref, which shows up as a create.
func (rw *RefWatcher) convertEvent(event fsnotify.Event) (RefEvent, bool) {
	name := filepath.Clean(event.Name)
	if strings.HasSuffix(name, ".lock") {
		return RefEvent{}, false
	}
	if name != rw.refFile && name != rw.packedRefs {
		return RefEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		op = OpUpdate
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return RefEvent{}, false
	}

	return RefEvent{Path: name, Op: op}, true
}
