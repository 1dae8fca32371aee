// Package gate blocks until a file exists and has content.
package gate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval is how often the file is re-checked when no event arrives
const DefaultPollInterval = 250 * time.Millisecond

// ErrTimeout is returned when the file did not become ready within Options.Timeout
var ErrTimeout = errors.New("timed out waiting for non-empty file")

// Options bounds a wait
type Options struct {
	// Timeout of zero waits until ctx is done
	Timeout time.Duration
	// PollInterval of zero uses DefaultPollInterval
	PollInterval time.Duration
}

// Ready reports whether path exists and is larger than zero bytes
func Ready(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Size() > 0
}

// AwaitNonEmpty returns nil once path exists and is non-empty. It watches the
// parent directory for events and re-checks on a poll interval, since the
// directory itself may not exist yet. It returns ErrTimeout when
// opts.Timeout elapses and ctx.Err() when ctx is cancelled.
func AwaitNonEmpty(ctx context.Context, path string, opts Options) error {
	if Ready(path) {
		return nil
	}

	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	waitCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	target := filepath.Clean(path)

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if w, err := fsnotify.NewWatcher(); err == nil {
		defer w.Close()
		if err := w.Add(filepath.Dir(target)); err == nil {
			events = w.Events
			watchErrs = w.Errors
		}
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	// The file may have been written between the first check and the watch
	if Ready(target) {
		return nil
	}

	for {
		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return ErrTimeout

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == target && Ready(target) {
				return nil
			}

		case _, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
			}

		case <-ticker.C:
			if Ready(target) {
				return nil
			}
		}
	}
}
