package poll

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tis24dev/hostmigrate/internal/engine"
	"github.com/tis24dev/hostmigrate/internal/logging"
	"github.com/tis24dev/hostmigrate/internal/remote"
)

// ArtifactWatcher waits until every selected account has a complete backup
// artifact in Dir. Filesystem events on Dir wake the poller early; the
// interval still bounds the wait when events are unavailable.
type ArtifactWatcher struct {
	Dir    string
	IDs    []string
	Logger *logging.Logger
}

// Await returns the resolved artifacts and true, or the partial set and
// false on timeout.
func (w *ArtifactWatcher) Await(ctx context.Context, opts Options) (map[string]engine.Artifact, bool) {
	logger := w.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if wake, err := watchDir(watchCtx, w.Dir); err != nil {
		logger.Debug("filesystem events unavailable for %s, polling only: %v", w.Dir, err)
	} else {
		opts.Wake = wake
	}

	fsys := os.DirFS(w.Dir)
	var found map[string]engine.Artifact
	ok := Await(ctx, func() bool {
		var err error
		found, err = engine.ResolveArtifacts(fsys, w.IDs)
		return err == nil
	}, opts)
	return found, ok
}

// watchDir forwards fsnotify write/create events on dir to a coalescing
// wake channel until ctx is done.
func watchDir(ctx context.Context, dir string) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return wake, nil
}

// RemotePathWatcher waits for a path to appear on the destination.
type RemotePathWatcher struct {
	Gateway remote.Gateway
	Logger  *logging.Logger
}

// Await reports whether path exists before the timeout. Check errors count
// as "not yet" and are logged at debug level.
func (w *RemotePathWatcher) Await(ctx context.Context, path string, opts Options) bool {
	logger := w.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.OnWait == nil {
		opts.OnWait = func(elapsed time.Duration) {
			logger.Debug("waiting for %s (%s elapsed)", path, elapsed.Truncate(time.Second))
		}
	}
	return Await(ctx, func() bool {
		ok, err := w.Gateway.Exists(ctx, path)
		if err != nil {
			logger.Debug("check %s: %v", path, err)
			return false
		}
		return ok
	}, opts)
}
